package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"class-poll-backend/cache"
	"class-poll-backend/models"
	ws "class-poll-backend/websocket"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrAlreadyVoted 同一IP重复提交
var ErrAlreadyVoted = errors.New("您已经投过票了")

// 投票提交锁的持有时间上限
const voteLockExpiry = 5 * time.Second

// VoteHandler 投票提交的准入控制
type VoteHandler struct {
	db    *gorm.DB
	rdb   *redis.Client
	locks *cache.LockService
	hub   *ws.Hub
}

// NewVoteHandler 创建投票处理器，rdb/locks/hub均可为nil
func NewVoteHandler(db *gorm.DB, rdb *redis.Client, locks *cache.LockService, hub *ws.Hub) *VoteHandler {
	return &VoteHandler{db: db, rdb: rdb, locks: locks, hub: hub}
}

// VoteInput 投票提交请求体
type VoteInput struct {
	OptionIDs []uint `json:"optionIds"`
	VoterName string `json:"voterName"`
}

// SubmitVote 处理一次投票提交。
//
// 校验顺序：选项非空 → 投票存在 → 投票开放 → 类型约束 → 选项归属 →
// 未重复投票。任一失败立即返回，不产生任何写入；通过后在单个事务内
// 为每个所选选项写入一行投票记录。
func (h *VoteHandler) SubmitVote(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	var input VoteInput
	if err := c.ShouldBindJSON(&input); err != nil || len(input.OptionIDs) == 0 {
		fail(c, http.StatusBadRequest, "请选择投票选项")
		return
	}

	// 去掉重复提交的同一选项
	optionIDs := dedupeIDs(input.OptionIDs)
	if len(optionIDs) == 0 {
		fail(c, http.StatusBadRequest, "请选择投票选项")
		return
	}

	voterIP := c.ClientIP()

	var poll models.Poll
	if err := h.db.Preload("Options").First(&poll, pollID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			fail(c, http.StatusNotFound, "投票不存在")
		} else {
			log.Printf("获取投票失败: %v", err)
			fail(c, http.StatusInternalServerError, "投票失败")
		}
		return
	}

	if !poll.IsOpen(time.Now()) {
		fail(c, http.StatusBadRequest, "投票已结束")
		return
	}

	if poll.Type == models.SingleChoice && len(optionIDs) > 1 {
		fail(c, http.StatusBadRequest, "单选投票只能选择一个选项")
		return
	}
	if poll.Type == models.MultiChoice && len(optionIDs) > poll.MaxChoices {
		fail(c, http.StatusBadRequest, fmt.Sprintf("最多只能选择%d个选项", poll.MaxChoices))
		return
	}

	valid := make(map[uint]bool, len(poll.Options))
	for _, opt := range poll.Options {
		valid[opt.ID] = true
	}
	for _, id := range optionIDs {
		if !valid[id] {
			fail(c, http.StatusBadRequest, "存在无效的投票选项")
			return
		}
	}

	// Redis快路径：已投过的IP直接拒绝，省一次数据库事务
	if h.rdb != nil {
		exists, err := h.rdb.Exists(c.Request.Context(), cache.VoteMarkerKey(pollID, voterIP)).Result()
		if err == nil && exists > 0 {
			fail(c, http.StatusBadRequest, ErrAlreadyVoted.Error())
			return
		}
	}

	// voterName仅在allowAnonymous时记录（保留原系统的行为）
	var voterName *string
	if poll.AllowAnonymous && input.VoterName != "" {
		voterName = &input.VoterName
	}

	votes, err := h.admit(pollID, optionIDs, voterName, voterIP)
	if err != nil {
		if errors.Is(err, ErrAlreadyVoted) {
			fail(c, http.StatusBadRequest, ErrAlreadyVoted.Error())
		} else {
			log.Printf("投票失败: poll=%d ip=%s err=%v", pollID, voterIP, err)
			fail(c, http.StatusInternalServerError, "投票失败")
		}
		return
	}

	log.Printf("收到来自 %s 的投票: 投票ID=%d, 选项=%v", voterIP, pollID, optionIDs)

	h.afterAdmission(c, pollID, voterIP)

	respondDataMessage(c, http.StatusOK, gin.H{"votes": votes}, "投票成功")
}

// admit 执行提交级去重检查并写入投票记录。
//
// 检查和写入在同一事务内完成；MySQL下对既有记录加FOR UPDATE锁，
// 阻塞同一(poll, ip)的并发事务，关闭check-then-act竞态。部署多个
// 实例且Redis可用时，redsync锁在事务之外再串行化一层。
func (h *VoteHandler) admit(pollID uint, optionIDs []uint, voterName *string, voterIP string) ([]models.Vote, error) {
	var votes []models.Vote

	insert := func() error {
		return h.db.Transaction(func(tx *gorm.DB) error {
			existing := tx.Model(&models.Vote{}).
				Where("poll_id = ? AND voter_ip = ?", pollID, voterIP)
			if tx.Dialector.Name() == "mysql" {
				existing = existing.Clauses(clause.Locking{Strength: "UPDATE"})
			}

			var count int64
			if err := existing.Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrAlreadyVoted
			}

			submissionID := uuid.NewString()
			votes = make([]models.Vote, len(optionIDs))
			for i, optionID := range optionIDs {
				votes[i] = models.Vote{
					PollID:       pollID,
					OptionID:     optionID,
					SubmissionID: submissionID,
					VoterName:    voterName,
					VoterIP:      voterIP,
				}
			}
			return tx.Create(&votes).Error
		})
	}

	if h.locks != nil {
		if err := h.locks.WithLock(cache.VoteLockName(pollID, voterIP), voteLockExpiry, insert); err != nil {
			return nil, err
		}
		return votes, nil
	}

	if err := insert(); err != nil {
		return nil, err
	}
	return votes, nil
}

// afterAdmission 提交成功后的收尾：写去重标记、失效结果缓存、广播最新结果
func (h *VoteHandler) afterAdmission(c *gin.Context, pollID uint, voterIP string) {
	if h.rdb != nil {
		ctx := c.Request.Context()
		if err := h.rdb.Set(ctx, cache.VoteMarkerKey(pollID, voterIP), time.Now().Unix(), cache.VoteMarkerTTL).Err(); err != nil {
			log.Printf("写入去重标记失败: %v", err)
		}
	}

	invalidateResults(h.rdb, pollID)

	if h.hub != nil {
		go func() {
			results, err := computePollResults(h.db, pollID)
			if err != nil {
				log.Printf("广播前计算结果失败: %v", err)
				return
			}
			h.hub.BroadcastToPoll(pollID, &ws.Message{
				Type:    "results",
				PollID:  pollID,
				Payload: results,
			})
		}()
	}
}

// CheckVoted 查询当前IP是否已对某投票投过票
func (h *VoteHandler) CheckVoted(c *gin.Context) {
	pollID, ok := parsePollID(c)
	if !ok {
		return
	}

	var count int64
	err := h.db.Model(&models.Vote{}).
		Where("poll_id = ? AND voter_ip = ?", pollID, c.ClientIP()).
		Count(&count).Error
	if err != nil {
		log.Printf("检查投票状态失败: %v", err)
		fail(c, http.StatusInternalServerError, "检查投票状态失败")
		return
	}

	respondData(c, http.StatusOK, gin.H{"hasVoted": count > 0})
}

// dedupeIDs 去除重复的选项ID，保持首次出现的顺序
func dedupeIDs(ids []uint) []uint {
	seen := make(map[uint]bool, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id > 0 && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
