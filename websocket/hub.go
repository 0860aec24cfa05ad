package websocket

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Message 推送给客户端的消息格式
type Message struct {
	Type    string      `json:"type"`
	PollID  uint        `json:"pollId"`
	Payload interface{} `json:"payload"`
}

// Client 代表一个WebSocket连接客户端
type Client struct {
	// 订阅的投票ID
	PollID uint

	conn *websocket.Conn
	send chan []byte
}

// Hub 维护活跃的客户端集合并向客户端广播消息
type Hub struct {
	// 已注册的客户端，按投票ID分组
	clients map[uint]map[*Client]bool

	register   chan *Client
	unregister chan *Client

	mu sync.RWMutex
}

// NewHub 创建一个新的Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uint]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run 启动Hub消息处理循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.PollID]; !ok {
				h.clients[client.PollID] = make(map[*Client]bool)
			}
			h.clients[client.PollID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.PollID]; ok {
				if _, ok := h.clients[client.PollID][client]; ok {
					delete(h.clients[client.PollID], client)
					close(client.send)
					if len(h.clients[client.PollID]) == 0 {
						delete(h.clients, client.PollID)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastToPoll 向订阅了某个投票的所有客户端广播消息
func (h *Hub) BroadcastToPoll(pollID uint, message *Message) {
	payload, err := json.Marshal(message)
	if err != nil {
		log.Printf("序列化WebSocket消息失败: %v", err)
		return
	}

	// close(client.send)只发生在持有写锁的路径里，
	// 整个发送循环持有读锁，保证不会写入已关闭的通道
	var full []*Client
	h.mu.RLock()
	for client := range h.clients[pollID] {
		select {
		case client.send <- payload:
		default:
			full = append(full, client)
		}
	}
	h.mu.RUnlock()

	// 发送缓冲区已满的客户端视为掉线，释放读锁后剔除
	for _, client := range full {
		h.mu.Lock()
		if _, ok := h.clients[pollID][client]; ok {
			delete(h.clients[pollID], client)
			close(client.send)
			if len(h.clients[pollID]) == 0 {
				delete(h.clients, pollID)
			}
		}
		h.mu.Unlock()
	}
}
