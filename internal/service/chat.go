package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"chatterlite/internal/models"
	"chatterlite/internal/store"

	"github.com/rs/zerolog/log"
)

// ChatService 封装聊天列表与成员关系相关的业务逻辑。
type ChatService struct {
	store store.Store
}

func NewChatService(s store.Store) *ChatService {
	return &ChatService{store: s}
}

// LastMessage 聊天列表中的最新消息预览。
type LastMessage struct {
	ID       string             `json:"id"`
	Content  string             `json:"content"`
	Kind     models.MessageKind `json:"kind"`
	SenderID string             `json:"senderId"`
}

// ChatSummary 是聊天列表中的一项。
type ChatSummary struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	IsGroup         bool         `json:"isGroup"`
	AvatarURL       string       `json:"avatarUrl,omitempty"`
	LastMessage     *LastMessage `json:"lastMessage,omitempty"`
	LastMessageTime *time.Time   `json:"lastMessageTime,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	UnreadCount     int          `json:"unreadCount"`
}

// activity 排序用的最近活动时间，没有消息时退回创建时间。
func (c ChatSummary) activity() time.Time {
	if c.LastMessageTime != nil {
		return *c.LastMessageTime
	}
	return c.CreatedAt
}

// ChatDTO 是创建聊天后返回的数据。
type ChatDTO struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsGroup   bool      `json:"isGroup"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

func toChatDTO(c *models.Chat) *ChatDTO {
	return &ChatDTO{
		ID:        c.ID,
		Name:      c.Name,
		IsGroup:   c.IsGroup,
		AvatarURL: c.AvatarURL,
		CreatedBy: c.CreatedBy,
		CreatedAt: c.CreatedAt,
	}
}

// ListSummaries 返回用户可见的聊天列表，按最近活动时间倒序。
// 任一步查询失败都整体返回错误，不产生部分结果。
func (s *ChatService) ListSummaries(ctx context.Context, userID string) ([]ChatSummary, error) {
	memberships, err := s.store.MembershipsForUser(ctx, userID)
	if err != nil {
		return nil, translate(err, "list memberships")
	}
	out := make([]ChatSummary, 0, len(memberships))
	if len(memberships) == 0 {
		return out, nil
	}

	chatIDs := make([]string, 0, len(memberships))
	for _, m := range memberships {
		chatIDs = append(chatIDs, m.ChatID)
	}

	// 消息按时间倒序返回，每个聊天只保留第一条
	recent, err := s.store.RecentMessages(ctx, chatIDs)
	if err != nil {
		return nil, translate(err, "recent messages")
	}
	latest := make(map[string]models.Message, len(chatIDs))
	for _, m := range recent {
		if _, ok := latest[m.ChatID]; !ok {
			latest[m.ChatID] = m
		}
	}

	unread, err := s.store.UnreadCounts(ctx, chatIDs, userID)
	if err != nil {
		return nil, translate(err, "unread counts")
	}

	for _, m := range memberships {
		c := m.Chat
		sum := ChatSummary{
			ID:          m.ChatID,
			Name:        c.Name,
			IsGroup:     c.IsGroup,
			AvatarURL:   c.AvatarURL,
			CreatedAt:   c.CreatedAt,
			UnreadCount: unread[m.ChatID],
		}
		if c.Name == "" && !c.IsGroup {
			other, err := s.store.OtherMember(ctx, m.ChatID, userID)
			switch {
			case err == nil:
				sum.Name = other.FullName
				sum.AvatarURL = other.AvatarURL
			case errors.Is(err, store.ErrNotFound):
				// 对方尚未加入或已不存在，保留空名称
			default:
				return nil, translate(err, "resolve other member")
			}
		}
		if last, ok := latest[m.ChatID]; ok {
			t := last.CreatedAt
			sum.LastMessageTime = &t
			sum.LastMessage = &LastMessage{ID: last.ID, Content: last.Content, Kind: last.Kind, SenderID: last.SenderID}
		}
		out = append(out, sum)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].activity().After(out[j].activity())
	})
	return out, nil
}

// CreateGroup 创建群聊，创建者自动成为成员。
func (s *ChatService) CreateGroup(ctx context.Context, creatorID, name string, memberIDs []string) (*ChatDTO, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 128 {
		return nil, invalid("group name must be 1-128 characters")
	}
	ids := []string{creatorID}
	seen := map[string]struct{}{creatorID: {}}
	for _, id := range memberIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) > 1 {
		users, err := s.store.UsersByIDs(ctx, ids)
		if err != nil {
			return nil, translate(err, "load members")
		}
		if len(users) != len(ids) {
			return nil, translate(store.ErrNotFound, "member")
		}
	}
	c := &models.Chat{Name: name, IsGroup: true, CreatedBy: creatorID}
	if err := s.store.CreateChat(ctx, c, ids); err != nil {
		return nil, translate(err, "create chat")
	}
	return toChatDTO(c), nil
}

// DirectKey 返回一对用户的私聊唯一键，与顺序无关。
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}

// EnsureDirect 返回两人之间的私聊，不存在时创建。
// 以 DirectKey 作为幂等键，重复调用或并发调用最多只会产生一个私聊。
func (s *ChatService) EnsureDirect(ctx context.Context, creatorID, otherID, requestID string) (*ChatDTO, error) {
	if creatorID == "" || otherID == "" || creatorID == otherID {
		return nil, invalid("direct chat needs two distinct users")
	}
	key := DirectKey(creatorID, otherID)
	if c, err := s.store.FindDirectChat(ctx, key); err == nil {
		return toChatDTO(c), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, translate(err, "find direct chat")
	}

	c := &models.Chat{CreatedBy: creatorID, DirectKey: &key}
	if requestID != "" {
		c.FriendRequestID = &requestID
	}
	err := s.store.CreateChat(ctx, c, []string{creatorID, otherID})
	if errors.Is(err, store.ErrConflict) {
		// 并发创建时另一方已经写入
		existing, ferr := s.store.FindDirectChat(ctx, key)
		if ferr != nil {
			return nil, translate(ferr, "find direct chat")
		}
		return toChatDTO(existing), nil
	}
	if err != nil {
		return nil, translate(err, "create direct chat")
	}
	log.Info().Str("chat_id", c.ID).Str("key", key).Msg("direct chat created")
	return toChatDTO(c), nil
}

// RequireMember 校验用户是否为聊天成员。
func (s *ChatService) RequireMember(ctx context.Context, chatID, userID string) error {
	return requireMember(ctx, s.store, chatID, userID)
}

// MarkRead 推进当前用户在聊天中的已读位置，返回本次新读的条数；其他成员的未读数不受影响。
func (s *ChatService) MarkRead(ctx context.Context, chatID, userID string) (int64, error) {
	if err := s.RequireMember(ctx, chatID, userID); err != nil {
		return 0, err
	}
	n, err := s.store.MarkRead(ctx, chatID, userID)
	if err != nil {
		return 0, translate(err, "mark read")
	}
	return n, nil
}
