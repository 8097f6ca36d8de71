// Package events 把存储层的行级变更通知送达持有派生视图的订阅者。
package events

import (
	"slices"
	"sync"
	"time"
)

type Table string

const (
	TableUsers          Table = "users"
	TableChats          Table = "chats"
	TableMembers        Table = "chat_members"
	TableMessages       Table = "messages"
	TableReactions      Table = "reactions"
	TableFriendRequests Table = "friend_requests"
	TableInvites        Table = "chat_invites"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Change 描述一次已提交的行变更。属于某个聊天的行会带上 ChatID，便于订阅方过滤。
type Change struct {
	Table   Table     `json:"table"`
	Op      Op        `json:"op"`
	RowID   string    `json:"row_id"`
	ChatID  string    `json:"chat_id,omitempty"`
	UserIDs []string  `json:"user_ids,omitempty"`
	At      time.Time `json:"at"`
}

// Publisher 接收待投递的变更。
type Publisher interface {
	Publish(Change)
}

// Filter 选择变更，空字段匹配全部。
type Filter struct {
	Tables []Table
	Ops    []Op
	ChatID string
}

func (f Filter) Match(c Change) bool {
	if len(f.Tables) > 0 && !slices.Contains(f.Tables, c.Table) {
		return false
	}
	if len(f.Ops) > 0 && !slices.Contains(f.Ops, c.Op) {
		return false
	}
	if f.ChatID != "" && f.ChatID != c.ChatID {
		return false
	}
	return true
}

// Bus 是进程内的发布订阅总线。Publish 从不阻塞，缓冲已满的订阅会错过这次变更，
// 订阅方每次收到信号都会全量刷新，所以不影响结果。
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*Subscription
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

func (b *Bus) Publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.filter.Match(c) {
			continue
		}
		select {
		case sub.ch <- c:
		default:
		}
	}
}

// Subscribe 注册带过滤条件的订阅。buffer 为 1 时突发变更会合并成一个待处理信号。
func (b *Bus) Subscribe(f Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	sub := &Subscription{bus: b, filter: f, ch: make(chan Change, buffer)}
	b.mu.Lock()
	sub.id = b.next
	b.next++
	b.subs[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Len 返回当前有效订阅数。
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

type Subscription struct {
	bus    *Bus
	id     int
	filter Filter
	ch     chan Change
	once   sync.Once
}

func (s *Subscription) C() <-chan Change { return s.ch }

func (s *Subscription) Filter() Filter { return s.filter }

// Close 注销订阅，可重复调用。
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
}

type fanout []Publisher

// Fanout 把每个变更依次交给各个 publisher。
func Fanout(pubs ...Publisher) Publisher {
	out := make(fanout, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (f fanout) Publish(c Change) {
	for _, p := range f {
		p.Publish(c)
	}
}
