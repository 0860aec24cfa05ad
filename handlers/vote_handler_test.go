package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"class-poll-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// submitVote 以指定IP提交一次投票
func submitVote(router http.Handler, pollID uint, body map[string]interface{}, ip string) *httptest.ResponseRecorder {
	req := newJSONRequest("POST", fmt.Sprintf("/api/polls/%d/vote", pollID), body, ip)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitVoteSingleChoice(t *testing.T) {
	router, db, _ := SetupTestEnvironment(t)
	ClearTables(db)

	poll := createTestPoll(t, db, &models.Poll{
		Title: "单选投票", Type: models.SingleChoice, IsActive: true, AllowAnonymous: true,
		Options: []models.PollOption{{Content: "A"}, {Content: "B"}},
	})

	w := submitVote(router, poll.ID, map[string]interface{}{
		"optionIds": []uint{poll.Options[0].ID},
		"voterName": "张三",
	}, testVoterIP)

	require.Equal(t, http.StatusOK, w.Code)
	env := decodeEnvelope(t, w)
	assert.True(t, env.Success)
	assert.Equal(t, "投票成功", env.Message)

	var data struct {
		Votes []models.Vote `json:"votes"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.Len(t, data.Votes, 1)
	assert.NotEmpty(t, data.Votes[0].SubmissionID)

	var stored models.Vote
	require.NoError(t, db.Where("poll_id = ?", poll.ID).First(&stored).Error)
	assert.Equal(t, poll.Options[0].ID, stored.OptionID)
	assert.Equal(t, testVoterIP, stored.VoterIP)
	require.NotNil(t, stored.VoterName)
	assert.Equal(t, "张三", *stored.VoterName)
}

func TestSubmitVoteMultiChoiceAtomic(t *testing.T) {
	router, db, _ := SetupTestEnvironment(t)
	ClearTables(db)

	poll := createTestPoll(t, db, &models.Poll{
		Title: "多选投票", Type: models.MultiChoice, MaxChoices: 3, IsActive: true, AllowAnonymous: true,
		Options: []models.PollOption{{Content: "A"}, {Content: "B"}, {Content: "C"}},
	})

	w := submitVote(router, poll.ID, map[string]interface{}{
		"optionIds": []uint{poll.Options[0].ID, poll.Options[2].ID},
	}, testVoterIP)

	require.Equal(t, http.StatusOK, w.Code)

	var votes []models.Vote
	require.NoError(t, db.Where("poll_id = ?", poll.ID).Find(&votes).Error)
	require.Len(t, votes, 2)
	// 同一次提交的所有记录共享提交ID
	assert.Equal(t, votes[0].SubmissionID, votes[1].SubmissionID)
	for _, v := range votes {
		assert.Equal(t, testVoterIP, v.VoterIP)
	}
}

func TestSubmitVoteValidation(t *testing.T) {
	router, db, _ := SetupTestEnvironment(t)
	ClearTables(db)

	single := createTestPoll(t, db, &models.Poll{
		Title: "单选", Type: models.SingleChoice, IsActive: true,
		Options: []models.PollOption{{Content: "A"}, {Content: "B"}},
	})
	multi := createTestPoll(t, db, &models.Poll{
		Title: "多选限2", Type: models.MultiChoice, MaxChoices: 2, IsActive: true,
		Options: []models.PollOption{{Content: "A"}, {Content: "B"}, {Content: "C"}},
	})

	cases := []struct {
		name    string
		pollID  uint
		body    map[string]interface{}
		code    int
		message string
	}{
		{"empty options", single.ID,
			map[string]interface{}{"optionIds": []uint{}},
			http.StatusBadRequest, "请选择投票选项"},
		{"only zero ids", single.ID,
			map[string]interface{}{"optionIds": []uint{0, 0}},
			http.StatusBadRequest, "请选择投票选项"},
		{"poll not found", 9999,
			map[string]interface{}{"optionIds": []uint{1}},
			http.StatusNotFound, "投票不存在"},
		{"single with two options", single.ID,
			map[string]interface{}{"optionIds": []uint{single.Options[0].ID, single.Options[1].ID}},
			http.StatusBadRequest, "单选投票只能选择一个选项"},
		{"exceeds max choices", multi.ID,
			map[string]interface{}{"optionIds": []uint{multi.Options[0].ID, multi.Options[1].ID, multi.Options[2].ID}},
			http.StatusBadRequest, "最多只能选择2个选项"},
		{"foreign option", single.ID,
			map[string]interface{}{"optionIds": []uint{multi.Options[0].ID}},
			http.StatusBadRequest, "存在无效的投票选项"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := submitVote(router, tc.pollID, tc.body, testVoterIP)
			assert.Equal(t, tc.code, w.Code)
			env := decodeEnvelope(t, w)
			assert.False(t, env.Success)
			assert.Equal(t, tc.message, env.Message)
		})
	}

	// 所有失败的提交都不应写入任何记录
	var count int64
	db.Model(&models.Vote{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestSubmitVoteClosedPoll(t *testing.T) {
	router, db, _ := SetupTestEnvironment(t)
	ClearTables(db)

	// 管理员手动关闭
	closed := createTestPoll(t, db, &models.Poll{
		Title: "已关闭", Type: models.SingleChoice, IsActive: false,
		Options: []models.PollOption{{Content: "A"}, {Content: "B"}},
	})
	// 截止时间已过
	expired := createTestPoll(t, db, &models.Poll{
		Title: "已过期", Type: models.SingleChoice, IsActive: true,
		EndDate: time.Now().Add(-time.Hour),
		Options: []models.PollOption{{Content: "A"}, {Content: "B"}},
	})

	for _, poll := range []*models.Poll{closed, expired} {
		w := submitVote(router, poll.ID, map[string]interface{}{
			"optionIds": []uint{poll.Options[0].ID},
		}, testVoterIP)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "投票已结束", decodeEnvelope(t, w).Message)
	}
}

func TestSubmitVoteDuplicate(t *testing.T) {
	router, db, _ := SetupTestEnvironment(t)
	ClearTables(db)

	poll := createTestPoll(t, db, &models.Poll{
		Title: "去重测试", Type: models.SingleChoice, IsActive: true,
		Options: []models.PollOption{{Content: "A"}, {Content: "B"}},
	})

	body := map[string]interface{}{"optionIds": []uint{poll.Options[0].ID}}

	w := submitVote(router, poll.ID, body, testVoterIP)
	require.Equal(t, http.StatusOK, w.Code)

	// 同一IP再投，换选项也不行
	w = submitVote(router, poll.ID, map[string]interface{}{
		"optionIds": []uint{poll.Options[1].ID},
	}, testVoterIP)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "您已经投过票了", decodeEnvelope(t, w).Message)

	// 其他IP不受影响
	w = submitVote(router, poll.ID, body, "10.9.9.9")
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	db.Model(&models.Vote{}).Where("poll_id = ?", poll.ID).Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestSubmitVoteAnonymousOnly(t *testing.T) {
	router, db, _ := SetupTestEnvironment(t)
	ClearTables(db)

	poll := createTestPoll(t, db, &models.Poll{
		Title: "不记名投票", Type: models.SingleChoice, IsActive: true, AllowAnonymous: false,
		Options: []models.PollOption{{Content: "A"}, {Content: "B"}},
	})

	w := submitVote(router, poll.ID, map[string]interface{}{
		"optionIds": []uint{poll.Options[0].ID},
		"voterName": "李四",
	}, testVoterIP)
	require.Equal(t, http.StatusOK, w.Code)

	var stored models.Vote
	require.NoError(t, db.Where("poll_id = ?", poll.ID).First(&stored).Error)
	assert.Nil(t, stored.VoterName, "关闭allowAnonymous时不记录投票人姓名")
}

func TestSubmitVoteConcurrentSameIP(t *testing.T) {
	router, db, _ := SetupTestEnvironment(t)
	ClearTables(db)

	poll := createTestPoll(t, db, &models.Poll{
		Title: "并发测试", Type: models.SingleChoice, IsActive: true,
		Options: []models.PollOption{{Content: "A"}, {Content: "B"}},
	})

	const workers = 50
	var wg sync.WaitGroup
	codes := make(chan int, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			w := submitVote(router, poll.ID, map[string]interface{}{
				"optionIds": []uint{poll.Options[n%2].ID},
			}, testVoterIP)
			codes <- w.Code
		}(i)
	}
	wg.Wait()
	close(codes)

	success := 0
	for code := range codes {
		if code == http.StatusOK {
			success++
		}
	}
	assert.Equal(t, 1, success, "同一IP并发提交只能成功一次")

	var count int64
	db.Model(&models.Vote{}).Where("poll_id = ? AND voter_ip = ?", poll.ID, testVoterIP).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestCheckVoted(t *testing.T) {
	router, db, _ := SetupTestEnvironment(t)
	ClearTables(db)

	poll := createTestPoll(t, db, &models.Poll{
		Title: "状态查询", Type: models.SingleChoice, IsActive: true,
		Options: []models.PollOption{{Content: "A"}, {Content: "B"}},
	})

	hasVoted := func(ip string) bool {
		w := perform(router, newJSONRequest("GET", fmt.Sprintf("/api/polls/%d/check-voted", poll.ID), nil, ip))
		require.Equal(t, http.StatusOK, w.Code)
		var data struct {
			HasVoted bool `json:"hasVoted"`
		}
		require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &data))
		return data.HasVoted
	}

	assert.False(t, hasVoted(testVoterIP))

	w := submitVote(router, poll.ID, map[string]interface{}{
		"optionIds": []uint{poll.Options[0].ID},
	}, testVoterIP)
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, hasVoted(testVoterIP))
	assert.False(t, hasVoted("10.9.9.8"))
}
