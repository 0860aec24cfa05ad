package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math"
	"net/http"
	"time"

	"class-poll-backend/cache"
	"class-poll-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// OptionResult 带百分比的选项结果
type OptionResult struct {
	ID         uint    `json:"id"`
	Content    string  `json:"content"`
	Votes      int64   `json:"votes"`
	Percentage float64 `json:"percentage"`
}

// PollSummary 结果接口中的投票摘要
type PollSummary struct {
	ID          uint            `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Type        models.PollType `json:"type"`
	TotalVotes  int64           `json:"totalVotes"`
	IsActive    bool            `json:"isActive"`
	EndDate     time.Time       `json:"endDate"`
}

// PollResults 结果接口的完整载荷，也是结果缓存的存储格式
type PollResults struct {
	Poll    PollSummary    `json:"poll"`
	Results []OptionResult `json:"results"`
}

// ResultHandler 投票结果统计
type ResultHandler struct {
	db  *gorm.DB
	rdb *redis.Client
}

// NewResultHandler 创建结果处理器，rdb可以为nil
func NewResultHandler(db *gorm.DB, rdb *redis.Client) *ResultHandler {
	return &ResultHandler{db: db, rdb: rdb}
}

// GetPollResults 获取投票结果统计
func (h *ResultHandler) GetPollResults(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	// 先查缓存
	if h.rdb != nil {
		raw, err := h.rdb.Get(c.Request.Context(), cache.ResultKey(pollID)).Bytes()
		if err == nil {
			var cached PollResults
			if json.Unmarshal(raw, &cached) == nil {
				respondData(c, http.StatusOK, cached)
				return
			}
		}
	}

	results, err := computePollResults(h.db, pollID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, "投票不存在")
		} else {
			log.Printf("获取投票结果失败: %v", err)
			fail(c, http.StatusInternalServerError, "获取投票结果失败")
		}
		return
	}

	if h.rdb != nil {
		if raw, err := json.Marshal(results); err == nil {
			if err := h.rdb.Set(c.Request.Context(), cache.ResultKey(pollID), raw, cache.ResultTTL).Err(); err != nil {
				log.Printf("缓存投票结果失败: %v", err)
			}
		}
	}

	respondData(c, http.StatusOK, results)
}

// computePollResults 从当前已提交的投票计算各选项票数和百分比。
// 纯读操作，百分比保留两位小数；总票数为0时所有百分比为0。
func computePollResults(db *gorm.DB, pollID uint) (*PollResults, error) {
	var poll models.Poll
	if err := db.First(&poll, pollID).Error; err != nil {
		return nil, err
	}

	options, err := loadOrderedOptions(db, pollID)
	if err != nil {
		return nil, err
	}

	counts, err := loadVoteCounts(db, pollID)
	if err != nil {
		return nil, err
	}

	var totalVotes int64
	for _, count := range counts {
		totalVotes += count
	}

	results := make([]OptionResult, len(options))
	for i, opt := range options {
		votes := counts[opt.ID]
		percentage := 0.0
		if totalVotes > 0 {
			percentage = math.Round(float64(votes)/float64(totalVotes)*100*100) / 100
		}
		results[i] = OptionResult{
			ID:         opt.ID,
			Content:    opt.Content,
			Votes:      votes,
			Percentage: percentage,
		}
	}

	return &PollResults{
		Poll: PollSummary{
			ID:          poll.ID,
			Title:       poll.Title,
			Description: poll.Description,
			Type:        poll.Type,
			TotalVotes:  totalVotes,
			IsActive:    poll.IsActive,
			EndDate:     poll.EndDate,
		},
		Results: results,
	}, nil
}

// invalidateResults 投票数据变更后删除结果缓存
func invalidateResults(rdb *redis.Client, pollID uint) {
	if rdb == nil {
		return
	}
	if err := rdb.Del(context.Background(), cache.ResultKey(pollID)).Err(); err != nil {
		log.Printf("删除结果缓存失败: %v", err)
	}
}
