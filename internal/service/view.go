package service

import (
	"context"
	"slices"
	"sync"

	"chatterlite/internal/events"
	"chatterlite/internal/metrics"

	"github.com/rs/zerolog/log"
)

// ChatListFilter 选出会影响聊天列表的变更。
func ChatListFilter() events.Filter {
	return events.Filter{Tables: []events.Table{events.TableMessages, events.TableMembers, events.TableChats}}
}

// MessageFilter 选出某个聊天内消息与反应的变更。
func MessageFilter(chatID string) events.Filter {
	return events.Filter{Tables: []events.Table{events.TableMessages, events.TableReactions}, ChatID: chatID}
}

// ChatListView 缓存某用户最近一次成功获取的聊天列表。
// 每次刷新都完整重新获取；刷新失败时保留旧数据。
type ChatListView struct {
	chats  *ChatService
	userID string

	mu    sync.RWMutex
	items []ChatSummary
}

func NewChatListView(chats *ChatService, userID string) *ChatListView {
	return &ChatListView{chats: chats, userID: userID, items: []ChatSummary{}}
}

func (v *ChatListView) Refresh(ctx context.Context) error {
	items, err := v.chats.ListSummaries(ctx, v.userID)
	if err != nil {
		metrics.ChatRefreshesTotal.WithLabelValues("chats", "error").Inc()
		log.Warn().Err(err).Str("user_id", v.userID).Msg("chat list refresh failed, keeping previous snapshot")
		return err
	}
	metrics.ChatRefreshesTotal.WithLabelValues("chats", "ok").Inc()
	v.mu.Lock()
	v.items = items
	v.mu.Unlock()
	return nil
}

// Snapshot 返回当前列表的副本。
func (v *ChatListView) Snapshot() []ChatSummary {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.items)
}

// MessageView 缓存当前选中聊天的消息列表。
type MessageView struct {
	messages *MessageService
	userID   string

	mu     sync.RWMutex
	chatID string
	items  []MessageDTO
}

func NewMessageView(messages *MessageService, userID string) *MessageView {
	return &MessageView{messages: messages, userID: userID, items: []MessageDTO{}}
}

// Select 切换到另一个聊天。获取失败时保持原来的选择和数据。
func (v *MessageView) Select(ctx context.Context, chatID string) error {
	items, err := v.messages.List(ctx, v.userID, chatID)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.chatID = chatID
	v.items = items
	v.mu.Unlock()
	return nil
}

// Refresh 重新获取当前聊天的消息，未选择聊天时什么也不做。
func (v *MessageView) Refresh(ctx context.Context) error {
	chatID := v.ChatID()
	if chatID == "" {
		return nil
	}
	items, err := v.messages.List(ctx, v.userID, chatID)
	if err != nil {
		metrics.ChatRefreshesTotal.WithLabelValues("messages", "error").Inc()
		log.Warn().Err(err).Str("chat_id", chatID).Msg("message refresh failed, keeping previous snapshot")
		return err
	}
	metrics.ChatRefreshesTotal.WithLabelValues("messages", "ok").Inc()
	v.mu.Lock()
	// 刷新期间可能已切换聊天
	if v.chatID == chatID {
		v.items = items
	}
	v.mu.Unlock()
	return nil
}

func (v *MessageView) ChatID() string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.chatID
}

func (v *MessageView) Snapshot() (string, []MessageDTO) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.chatID, slices.Clone(v.items)
}
