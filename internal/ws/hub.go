package ws

import (
	"sync"
	"sync/atomic"
)

// Hub 管理聊天级别的子 Hub（用于输入状态转发），并统计每个用户的在线连接数。
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*RoomHub

	pmu      sync.Mutex
	sessions map[string]int
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*RoomHub), sessions: make(map[string]int)}
}

// GetRoom 若聊天未初始化则懒加载一个 RoomHub。
func (h *Hub) GetRoom(chatID string) *RoomHub {
	h.mu.RLock()
	room := h.rooms[chatID]
	h.mu.RUnlock()
	if room != nil {
		return room
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room = h.rooms[chatID]
	if room != nil {
		return room
	}
	room = NewRoomHub(chatID)
	h.rooms[chatID] = room
	go room.run()
	return room
}

// Online 返回正在查看该聊天的连接数。
func (h *Hub) Online(chatID string) int {
	h.mu.RLock()
	room := h.rooms[chatID]
	h.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Online()
}

// Connect 记录用户新建一个连接，返回是否为该用户的第一个连接。
func (h *Hub) Connect(userID string) bool {
	h.pmu.Lock()
	defer h.pmu.Unlock()
	h.sessions[userID]++
	return h.sessions[userID] == 1
}

// Disconnect 记录用户断开一个连接，返回是否为最后一个连接。
func (h *Hub) Disconnect(userID string) bool {
	h.pmu.Lock()
	defer h.pmu.Unlock()
	n := h.sessions[userID]
	if n <= 1 {
		delete(h.sessions, userID)
		return n == 1
	}
	h.sessions[userID] = n - 1
	return false
}

// Sessions 返回用户当前的连接数。
func (h *Hub) Sessions(userID string) int {
	h.pmu.Lock()
	defer h.pmu.Unlock()
	return h.sessions[userID]
}

type envelope struct {
	from *Client
	data []byte
}

type RoomHub struct {
	chatID     string
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan envelope
	online     int32
}

func NewRoomHub(chatID string) *RoomHub {
	return &RoomHub{
		chatID:     chatID,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan envelope, 256),
	}
}

func (rh *RoomHub) run() {
	for {
		select {
		case c := <-rh.register:
			rh.clients[c] = true
			atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
		case c := <-rh.unregister:
			if _, ok := rh.clients[c]; ok {
				delete(rh.clients, c)
				atomic.StoreInt32(&rh.online, int32(len(rh.clients)))
			}
		case env := <-rh.broadcast:
			// 输入状态是瞬时信号，慢连接直接丢弃
			for c := range rh.clients {
				if c == env.from {
					continue
				}
				c.trySend(env.data)
			}
		}
	}
}

// Online 返回房间内的连接数量。
func (rh *RoomHub) Online() int { return int(atomic.LoadInt32(&rh.online)) }
