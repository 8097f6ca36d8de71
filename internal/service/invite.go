package service

import (
	"context"
	"strings"
	"time"

	"chatterlite/internal/models"
	"chatterlite/internal/store"

	"github.com/google/uuid"
)

// InviteService 群聊邀请链接。
type InviteService struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

func NewInviteService(s store.Store, ttlHours int) *InviteService {
	return &InviteService{store: s, ttl: time.Duration(ttlHours) * time.Hour, now: time.Now}
}

// InviteDTO 是对外输出的邀请数据。
type InviteDTO struct {
	Code      string    `json:"code"`
	ChatID    string    `json:"chatId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Create 为群聊生成邀请码，只有成员可以邀请。
func (s *InviteService) Create(ctx context.Context, userID, chatID string) (*InviteDTO, error) {
	if err := requireMember(ctx, s.store, chatID, userID); err != nil {
		return nil, err
	}
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, translate(err, "get chat")
	}
	if !chat.IsGroup {
		return nil, invalid("invites are only available for group chats")
	}
	inv := &models.ChatInvite{
		Code:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		ChatID:    chatID,
		CreatedBy: userID,
		ExpiresAt: s.now().Add(s.ttl),
	}
	if err := s.store.CreateInvite(ctx, inv); err != nil {
		return nil, translate(err, "create invite")
	}
	return &InviteDTO{Code: inv.Code, ChatID: inv.ChatID, ExpiresAt: inv.ExpiresAt}, nil
}

// Join 通过邀请码加入群聊，已是成员时直接返回。
func (s *InviteService) Join(ctx context.Context, userID, code string) (string, error) {
	inv, err := s.store.GetInvite(ctx, strings.TrimSpace(code))
	if err != nil {
		return "", translate(err, "get invite")
	}
	if !s.now().Before(inv.ExpiresAt) {
		return "", ErrInviteExpired
	}
	chat, err := s.store.GetChat(ctx, inv.ChatID)
	if err != nil {
		return "", translate(err, "get chat")
	}
	if !chat.IsGroup {
		return "", translate(store.ErrConflict, "join direct chat")
	}
	if err := s.store.AddMember(ctx, inv.ChatID, userID); err != nil {
		return "", translate(err, "add member")
	}
	return inv.ChatID, nil
}
