package handlers

import (
	"time"

	"class-poll-backend/models"

	"gorm.io/gorm"
)

// OptionView 带票数的选项视图
type OptionView struct {
	ID        uint      `json:"id"`
	PollID    uint      `json:"pollId"`
	Content   string    `json:"content"`
	Order     int       `json:"order"`
	VoteCount int64     `json:"voteCount"`
	CreatedAt time.Time `json:"createdAt"`
}

// PollView 带选项和票数的投票视图，用于列表和详情接口
type PollView struct {
	ID             uint            `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Type           models.PollType `json:"type"`
	MaxChoices     int             `json:"maxChoices"`
	EndDate        time.Time       `json:"endDate"`
	IsActive       bool            `json:"isActive"`
	AllowAnonymous bool            `json:"allowAnonymous"`
	Options        []OptionView    `json:"options"`
	TotalVotes     int64           `json:"totalVotes"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// loadOrderedOptions 按显示顺序读取投票的选项，排序键相同时按插入顺序
func loadOrderedOptions(db *gorm.DB, pollID uint) ([]models.PollOption, error) {
	var options []models.PollOption
	err := db.Where("poll_id = ?", pollID).
		Order("sort_order asc, id asc").
		Find(&options).Error
	return options, err
}

// loadVoteCounts 统计某投票下每个选项的票数
func loadVoteCounts(db *gorm.DB, pollID uint) (map[uint]int64, error) {
	var rows []struct {
		OptionID uint
		Total    int64
	}
	err := db.Model(&models.Vote{}).
		Select("option_id, count(*) as total").
		Where("poll_id = ?", pollID).
		Group("option_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[uint]int64, len(rows))
	for _, row := range rows {
		counts[row.OptionID] = row.Total
	}
	return counts, nil
}

// buildPollView 组装投票视图
func buildPollView(db *gorm.DB, poll *models.Poll) (*PollView, error) {
	options, err := loadOrderedOptions(db, poll.ID)
	if err != nil {
		return nil, err
	}

	counts, err := loadVoteCounts(db, poll.ID)
	if err != nil {
		return nil, err
	}

	view := &PollView{
		ID:             poll.ID,
		Title:          poll.Title,
		Description:    poll.Description,
		Type:           poll.Type,
		MaxChoices:     poll.MaxChoices,
		EndDate:        poll.EndDate,
		IsActive:       poll.IsActive,
		AllowAnonymous: poll.AllowAnonymous,
		Options:        make([]OptionView, len(options)),
		CreatedAt:      poll.CreatedAt,
		UpdatedAt:      poll.UpdatedAt,
	}

	for i, opt := range options {
		view.Options[i] = OptionView{
			ID:        opt.ID,
			PollID:    opt.PollID,
			Content:   opt.Content,
			Order:     opt.Order,
			VoteCount: counts[opt.ID],
			CreatedAt: opt.CreatedAt,
		}
		view.TotalVotes += counts[opt.ID]
	}

	return view, nil
}
