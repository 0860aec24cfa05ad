package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"class-poll-backend/cache"
	"class-poll-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// PollHandler 投票的查询与生命周期管理
type PollHandler struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewPollHandler 创建投票处理器，rdb可以为nil
func NewPollHandler(db *gorm.DB, rdb *redis.Client) *PollHandler {
	return &PollHandler{db: db, rdb: rdb}
}

// parsePollID 解析路径中的投票ID
func parsePollID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, "无效的投票ID")
		return 0, false
	}
	return uint(id), true
}

// GetPolls 获取投票列表，支持 status=active|ended 过滤
func (h *PollHandler) GetPolls(c *gin.Context) {
	query := h.db.Model(&models.Poll{})
	now := time.Now()

	switch c.Query("status") {
	case "active":
		query = query.Where("is_active = ? AND end_date >= ?", true, now)
	case "ended":
		query = query.Where("is_active = ? OR end_date < ?", false, now)
	}

	var polls []models.Poll
	if err := query.Order("created_at desc").Find(&polls).Error; err != nil {
		log.Printf("获取投票列表失败: %v", err)
		fail(c, http.StatusInternalServerError, "获取投票列表失败")
		return
	}

	views := make([]*PollView, len(polls))
	for i := range polls {
		view, err := buildPollView(h.db, &polls[i])
		if err != nil {
			log.Printf("组装投票视图失败: %v", err)
			fail(c, http.StatusInternalServerError, "获取投票列表失败")
			return
		}
		views[i] = view
	}

	respondData(c, http.StatusOK, gin.H{"polls": views})
}

// GetPoll 获取单个投票详情
func (h *PollHandler) GetPoll(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	var poll models.Poll
	if err := h.db.First(&poll, pollID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, "投票不存在")
		} else {
			log.Printf("获取投票详情失败: %v", err)
			fail(c, http.StatusInternalServerError, "获取投票详情失败")
		}
		return
	}

	view, err := buildPollView(h.db, &poll)
	if err != nil {
		log.Printf("组装投票视图失败: %v", err)
		fail(c, http.StatusInternalServerError, "获取投票详情失败")
		return
	}

	respondData(c, http.StatusOK, gin.H{"poll": view})
}

// CreatePollInput 创建投票的请求体
type CreatePollInput struct {
	Title          string              `json:"title" binding:"required"`
	Description    string              `json:"description"`
	Type           models.PollType     `json:"type" binding:"omitempty,oneof=single multiple"`
	MaxChoices     int                 `json:"maxChoices" binding:"omitempty,min=1"`
	EndDate        time.Time           `json:"endDate" binding:"required"`
	AllowAnonymous *bool               `json:"allowAnonymous"`
	Options        []CreateOptionInput `json:"options" binding:"required,min=2,dive"`
}

// CreateOptionInput 创建投票时的选项
type CreateOptionInput struct {
	Content string `json:"content" binding:"required"`
	Order   *int   `json:"order"`
}

// CreatePoll 创建投票及其选项（管理员）
func (h *PollHandler) CreatePoll(c *gin.Context) {
	var input CreatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusBadRequest, "请提供标题、截止日期和至少2个选项")
		return
	}

	pollType := input.Type
	if pollType == "" {
		pollType = models.SingleChoice
	}
	maxChoices := input.MaxChoices
	if maxChoices == 0 {
		maxChoices = 1
	}
	// 与原行为一致：未显式传false时默认为true
	allowAnonymous := input.AllowAnonymous == nil || *input.AllowAnonymous

	poll := models.Poll{
		Title:          input.Title,
		Description:    input.Description,
		Type:           pollType,
		MaxChoices:     maxChoices,
		EndDate:        input.EndDate,
		IsActive:       true,
		AllowAnonymous: allowAnonymous,
		Options:        make([]models.PollOption, len(input.Options)),
	}

	for i, opt := range input.Options {
		order := i
		if opt.Order != nil {
			order = *opt.Order
		}
		poll.Options[i] = models.PollOption{
			Content: opt.Content,
			Order:   order,
		}
	}

	// 投票和选项在同一事务中创建
	if err := h.db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&poll).Error
	}); err != nil {
		log.Printf("创建投票失败: %v", err)
		fail(c, http.StatusInternalServerError, "创建投票失败")
		return
	}

	view, err := buildPollView(h.db, &poll)
	if err != nil {
		log.Printf("组装投票视图失败: %v", err)
		fail(c, http.StatusInternalServerError, "创建投票失败")
		return
	}

	respondData(c, http.StatusCreated, gin.H{"poll": view})
}

// UpdatePollInput 更新投票的请求体，指针字段区分"未提供"和"零值"
type UpdatePollInput struct {
	Title          *string          `json:"title"`
	Description    *string          `json:"description"`
	Type           *models.PollType `json:"type" binding:"omitempty,oneof=single multiple"`
	MaxChoices     *int             `json:"maxChoices" binding:"omitempty,min=1"`
	EndDate        *time.Time       `json:"endDate"`
	IsActive       *bool            `json:"isActive"`
	AllowAnonymous *bool            `json:"allowAnonymous"`
}

// UpdatePoll 更新投票字段（管理员）。不修改选项集合。
func (h *PollHandler) UpdatePoll(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	var input UpdatePollInput
	if err := c.ShouldBindJSON(&input); err != nil {
		fail(c, http.StatusBadRequest, "无效的请求参数")
		return
	}

	var poll models.Poll
	if err := h.db.First(&poll, pollID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, "投票不存在")
		} else {
			log.Printf("获取投票失败: %v", err)
			fail(c, http.StatusInternalServerError, "更新投票失败")
		}
		return
	}

	if input.Title != nil {
		poll.Title = *input.Title
	}
	if input.Description != nil {
		poll.Description = *input.Description
	}
	if input.Type != nil {
		poll.Type = *input.Type
	}
	if input.MaxChoices != nil {
		poll.MaxChoices = *input.MaxChoices
	}
	if input.EndDate != nil {
		poll.EndDate = *input.EndDate
	}
	if input.IsActive != nil {
		poll.IsActive = *input.IsActive
	}
	if input.AllowAnonymous != nil {
		poll.AllowAnonymous = *input.AllowAnonymous
	}

	if err := h.db.Save(&poll).Error; err != nil {
		log.Printf("更新投票失败: %v", err)
		fail(c, http.StatusInternalServerError, "更新投票失败")
		return
	}

	invalidateResults(h.rdb, pollID)

	view, err := buildPollView(h.db, &poll)
	if err != nil {
		log.Printf("组装投票视图失败: %v", err)
		fail(c, http.StatusInternalServerError, "更新投票失败")
		return
	}

	respondData(c, http.StatusOK, gin.H{"poll": view})
}

// DeletePoll 删除投票并级联删除选项和投票记录（管理员）
func (h *PollHandler) DeletePoll(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	var notFound bool
	err := h.db.Transaction(func(tx *gorm.DB) error {
		// 先删子表，避免外键约束冲突
		if err := tx.Where("poll_id = ?", pollID).Delete(&models.Vote{}).Error; err != nil {
			return err
		}
		if err := tx.Where("poll_id = ?", pollID).Delete(&models.PollOption{}).Error; err != nil {
			return err
		}

		result := tx.Delete(&models.Poll{}, pollID)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			notFound = true
			return gorm.ErrRecordNotFound
		}
		return nil
	})

	if err != nil {
		if notFound {
			fail(c, http.StatusNotFound, "投票不存在")
		} else {
			log.Printf("删除投票失败: %v", err)
			fail(c, http.StatusInternalServerError, "删除投票失败")
		}
		return
	}

	h.cleanupCache(c, pollID)

	respondMessage(c, http.StatusOK, "投票已删除")
}

// cleanupCache 清理被删除投票的结果缓存和去重标记
func (h *PollHandler) cleanupCache(c *gin.Context, pollID uint) {
	if h.rdb == nil {
		return
	}

	ctx := c.Request.Context()
	if err := h.rdb.Del(ctx, cache.ResultKey(pollID)).Err(); err != nil {
		log.Printf("删除结果缓存失败: %v", err)
	}

	// 用SCAN分批遍历，避免KEYS阻塞Redis
	pattern := fmt.Sprintf("vote_lock:poll:%d:ip:*", pollID)
	var cursor uint64
	for {
		keys, next, err := h.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			log.Printf("扫描去重标记失败: %v", err)
			return
		}
		if len(keys) > 0 {
			if err := h.rdb.Del(ctx, keys...).Err(); err != nil {
				log.Printf("删除去重标记失败: %v", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
