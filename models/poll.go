package models

import "time"

// PollType 投票类型：单选或多选
type PollType string

const (
	SingleChoice PollType = "single"
	MultiChoice  PollType = "multiple"
)

// Poll represents a voting poll owned by the class homepage.
// 删除投票时级联删除其选项和投票记录（硬删除，不使用软删除列）。
type Poll struct {
	ID             uint         `gorm:"primarykey" json:"id"`
	Title          string       `gorm:"not null" json:"title"`
	Description    string       `gorm:"type:text" json:"description"`
	Type           PollType     `gorm:"type:varchar(16);not null;default:single" json:"type"`
	MaxChoices     int          `gorm:"not null;default:1" json:"maxChoices"`
	EndDate        time.Time    `gorm:"not null" json:"endDate"`
	IsActive       bool         `gorm:"not null;default:true" json:"isActive"`
	AllowAnonymous bool         `gorm:"not null;default:true" json:"allowAnonymous"`
	Options        []PollOption `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"options,omitempty"`
	Votes          []Vote       `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// IsOpen 判断投票当前是否可以接受提交
func (p *Poll) IsOpen(now time.Time) bool {
	return p.IsActive && !now.After(p.EndDate)
}

// PollOption represents an option within a poll.
// Order 为显示排序键，相同时按插入顺序（ID）排列。
type PollOption struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	PollID    uint      `gorm:"not null;index" json:"pollId"`
	Content   string    `gorm:"not null" json:"content"`
	Order     int       `gorm:"column:sort_order;not null;default:0" json:"order"`
	CreatedAt time.Time `json:"createdAt"`
}

// Vote 一条投票记录：一次提交按所选选项展开为多行，
// 同一次提交的所有行共享同一个SubmissionID。
//
// (poll_id, option_id, voter_ip) 上的唯一索引保证同一IP不会对同一选项
// 重复计票；提交级别的去重（同一IP对同一投票只允许一次提交）由投票
// 事务内的锁定读保证。
type Vote struct {
	ID           uint      `gorm:"primarykey" json:"id"`
	PollID       uint      `gorm:"not null;index:idx_votes_poll_voter,priority:1;uniqueIndex:uidx_votes_poll_option_voter,priority:1" json:"pollId"`
	OptionID     uint      `gorm:"not null;index;uniqueIndex:uidx_votes_poll_option_voter,priority:2" json:"optionId"`
	SubmissionID string    `gorm:"type:varchar(36);not null;index" json:"submissionId"`
	VoterName    *string   `json:"voterName,omitempty"`
	VoterIP      string    `gorm:"type:varchar(45);not null;index:idx_votes_poll_voter,priority:2;uniqueIndex:uidx_votes_poll_option_voter,priority:3" json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}
