package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"chatterlite/internal/models"

	"github.com/google/uuid"
)

// Memory 是进程内存储，按插入顺序保存各表，所有访问由一把锁串行化。
type Memory struct {
	mu       sync.RWMutex
	users    []*models.User
	tokens   []*models.RefreshToken
	chats    []*models.Chat
	members  []*models.ChatMember
	messages []*models.Message
	reacts   []*models.Reaction
	requests []*models.FriendRequest
	invites  []*models.ChatInvite
}

func NewMemory() *Memory { return &Memory{} }

var _ Store = (*Memory)(nil)

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now()
	}
}

func (m *Memory) userByID(id string) *models.User {
	for _, u := range m.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (m *Memory) CreateUser(_ context.Context, u *models.User) error {
	u.Email = normalizeEmail(u.Email)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.users {
		if ex.ID == u.ID || strings.EqualFold(ex.Email, u.Email) {
			return ErrConflict
		}
	}
	ensureID(&u.ID)
	stamp(&u.CreatedAt)
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users = append(m.users, &cp)
	return nil
}

func (m *Memory) UpsertUser(_ context.Context, u *models.User) error {
	u.Email = normalizeEmail(u.Email)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.users {
		if ex.ID != u.ID && strings.EqualFold(ex.Email, u.Email) {
			return ErrConflict
		}
	}
	now := time.Now()
	if ex := m.userByID(u.ID); ex != nil {
		ex.Email = u.Email
		ex.FullName = u.FullName
		ex.AvatarURL = u.AvatarURL
		ex.UpdatedAt = now
		*u = *ex
		return nil
	}
	ensureID(&u.ID)
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	m.users = append(m.users, &cp)
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u := m.userByID(id); u != nil {
		cp := *u
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UsersByIDs(_ context.Context, ids []string) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.User, 0, len(ids))
	for _, u := range m.users {
		if slices.Contains(ids, u.ID) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *Memory) SearchUsers(_ context.Context, q string, limit int) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q = strings.ToLower(q)
	var out []models.User
	for _, u := range m.users {
		if len(out) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(u.Email), q) || strings.Contains(strings.ToLower(u.FullName), q) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *Memory) SetPresence(_ context.Context, id string, online bool, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.userByID(id)
	if u == nil {
		return ErrNotFound
	}
	u.IsOnline = online
	ls := lastSeen
	u.LastSeen = &ls
	return nil
}

func (m *Memory) SaveRefreshToken(_ context.Context, rt *models.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.tokens {
		if ex.Token == rt.Token {
			return ErrConflict
		}
	}
	ensureID(&rt.ID)
	stamp(&rt.CreatedAt)
	cp := *rt
	m.tokens = append(m.tokens, &cp)
	return nil
}

func (m *Memory) ConsumeRefreshToken(_ context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range m.tokens {
		if rt.Token == token && rt.RevokedAt == nil && rt.ExpiresAt.After(now) {
			at := now
			rt.RevokedAt = &at
			cp := *rt
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) RevokeRefreshToken(_ context.Context, token string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rt := range m.tokens {
		if rt.Token == token {
			if rt.RevokedAt == nil {
				at := now
				rt.RevokedAt = &at
			}
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) chatByID(id string) *models.Chat {
	for _, c := range m.chats {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *Memory) isMember(chatID, userID string) bool {
	for _, mb := range m.members {
		if mb.ChatID == chatID && mb.UserID == userID {
			return true
		}
	}
	return false
}

func (m *Memory) memberCount(chatID string) int {
	n := 0
	for _, mb := range m.members {
		if mb.ChatID == chatID {
			n++
		}
	}
	return n
}

func (m *Memory) CreateChat(_ context.Context, c *models.Chat, memberIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.DirectKey != nil {
		for _, ex := range m.chats {
			if ex.DirectKey != nil && *ex.DirectKey == *c.DirectKey {
				return ErrConflict
			}
		}
	}
	ensureID(&c.ID)
	stamp(&c.CreatedAt)
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.chats = append(m.chats, &cp)
	for _, uid := range memberIDs {
		if m.isMember(c.ID, uid) {
			continue
		}
		m.members = append(m.members, &models.ChatMember{ChatID: c.ID, UserID: uid, JoinedAt: c.CreatedAt})
	}
	return nil
}

func (m *Memory) GetChat(_ context.Context, id string) (*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c := m.chatByID(id); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) FindDirectChat(_ context.Context, directKey string) (*models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, c := range m.chats {
		if c.DirectKey != nil && *c.DirectKey == directKey {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) MembershipsForUser(_ context.Context, userID string) ([]models.ChatMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ChatMember
	for _, mb := range m.members {
		if mb.UserID != userID {
			continue
		}
		cp := *mb
		if c := m.chatByID(mb.ChatID); c != nil {
			cp.Chat = *c
		}
		out = append(out, cp)
	}
	return out, nil
}

func (m *Memory) ChatMembers(_ context.Context, chatID string) ([]models.ChatMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ChatMember
	for _, mb := range m.members {
		if mb.ChatID == chatID {
			out = append(out, *mb)
		}
	}
	return out, nil
}

func (m *Memory) OtherMember(_ context.Context, chatID, userID string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mb := range m.members {
		if mb.ChatID != chatID || mb.UserID == userID {
			continue
		}
		if u := m.userByID(mb.UserID); u != nil {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) IsMember(_ context.Context, chatID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isMember(chatID, userID), nil
}

func (m *Memory) AddMember(_ context.Context, chatID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.chatByID(chatID)
	if c == nil {
		return ErrNotFound
	}
	if m.isMember(chatID, userID) {
		return nil
	}
	if !c.IsGroup && m.memberCount(chatID) >= 2 {
		return ErrConflict
	}
	m.members = append(m.members, &models.ChatMember{ChatID: chatID, UserID: userID, JoinedAt: time.Now()})
	return nil
}

func (m *Memory) CreateMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chatByID(msg.ChatID) == nil {
		return ErrNotFound
	}
	ensureID(&msg.ID)
	stamp(&msg.CreatedAt)
	cp := *msg
	m.messages = append(m.messages, &cp)
	return nil
}

func (m *Memory) GetMessage(_ context.Context, id string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msg := range m.messages {
		if msg.ID == id {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) ListMessages(_ context.Context, chatID string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Message
	for _, msg := range m.messages {
		if msg.ChatID == chatID {
			out = append(out, *msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) RecentMessages(_ context.Context, chatIDs []string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Message
	for i := len(m.messages) - 1; i >= 0; i-- {
		if slices.Contains(chatIDs, m.messages[i].ChatID) {
			out = append(out, *m.messages[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) member(chatID, userID string) *models.ChatMember {
	for _, mb := range m.members {
		if mb.ChatID == chatID && mb.UserID == userID {
			return mb
		}
	}
	return nil
}

func unreadFor(mb *models.ChatMember, msg *models.Message) bool {
	return msg.SenderID != mb.UserID && (mb.LastReadAt == nil || msg.CreatedAt.After(*mb.LastReadAt))
}

func (m *Memory) UnreadCounts(_ context.Context, chatIDs []string, userID string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int)
	for _, msg := range m.messages {
		if !slices.Contains(chatIDs, msg.ChatID) {
			continue
		}
		if mb := m.member(msg.ChatID, userID); mb != nil && unreadFor(mb, msg) {
			out[msg.ChatID]++
		}
	}
	return out, nil
}

func (m *Memory) MarkRead(_ context.Context, chatID, readerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb := m.member(chatID, readerID)
	if mb == nil {
		return 0, ErrNotFound
	}
	var (
		n      int64
		latest time.Time
	)
	for _, msg := range m.messages {
		if msg.ChatID != chatID {
			continue
		}
		if msg.CreatedAt.After(latest) {
			latest = msg.CreatedAt
		}
		if unreadFor(mb, msg) {
			n++
		}
		if msg.SenderID != readerID {
			msg.IsRead = true
			msg.IsDelivered = true
		}
	}
	if !latest.IsZero() && (mb.LastReadAt == nil || latest.After(*mb.LastReadAt)) {
		mb.LastReadAt = &latest
	}
	return n, nil
}

func (m *Memory) FindReaction(_ context.Context, messageID, userID, emoji string) (*models.Reaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.reacts {
		if r.MessageID == messageID && r.UserID == userID && r.Emoji == emoji {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) CreateReaction(_ context.Context, r *models.Reaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.reacts {
		if ex.MessageID == r.MessageID && ex.UserID == r.UserID && ex.Emoji == r.Emoji {
			return ErrConflict
		}
	}
	ensureID(&r.ID)
	stamp(&r.CreatedAt)
	cp := *r
	m.reacts = append(m.reacts, &cp)
	return nil
}

func (m *Memory) DeleteReaction(_ context.Context, r *models.Reaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ex := range m.reacts {
		if ex.ID == r.ID {
			m.reacts = slices.Delete(m.reacts, i, i+1)
			return nil
		}
	}
	return ErrNotFound
}

func (m *Memory) ReactionsFor(_ context.Context, messageIDs []string) ([]models.Reaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Reaction
	for _, r := range m.reacts {
		if slices.Contains(messageIDs, r.MessageID) {
			out = append(out, *r)
		}
	}
	// 与 SQL 后端一致：按时间排序，同一时刻按 id 决定先后
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) requestByID(id string) *models.FriendRequest {
	for _, fr := range m.requests {
		if fr.ID == id {
			return fr
		}
	}
	return nil
}

func (m *Memory) CreateFriendRequest(_ context.Context, fr *models.FriendRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.requests {
		if ex.SenderID == fr.SenderID && ex.ReceiverID == fr.ReceiverID {
			return ErrConflict
		}
	}
	ensureID(&fr.ID)
	stamp(&fr.CreatedAt)
	fr.UpdatedAt = fr.CreatedAt
	if fr.Status == "" {
		fr.Status = models.StatusPending
	}
	cp := *fr
	m.requests = append(m.requests, &cp)
	return nil
}

func (m *Memory) GetFriendRequest(_ context.Context, id string) (*models.FriendRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if fr := m.requestByID(id); fr != nil {
		cp := *fr
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *Memory) FindFriendRequest(_ context.Context, senderID, receiverID string) (*models.FriendRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, fr := range m.requests {
		if fr.SenderID == senderID && fr.ReceiverID == receiverID {
			cp := *fr
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FriendRequestsForUser(_ context.Context, userID string) ([]models.FriendRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.FriendRequest
	for i := len(m.requests) - 1; i >= 0; i-- {
		fr := m.requests[i]
		if fr.SenderID == userID || fr.ReceiverID == userID {
			out = append(out, *fr)
		}
	}
	return out, nil
}

func (m *Memory) PendingFriendRequests(_ context.Context, receiverID string) ([]models.FriendRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.FriendRequest
	for i := len(m.requests) - 1; i >= 0; i-- {
		fr := m.requests[i]
		if fr.ReceiverID == receiverID && fr.Status == models.StatusPending {
			out = append(out, *fr)
		}
	}
	return out, nil
}

func (m *Memory) UpdateFriendRequestStatus(_ context.Context, id string, from, to models.FriendRequestStatus, at time.Time) (*models.FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fr := m.requestByID(id)
	if fr == nil {
		return nil, ErrNotFound
	}
	if fr.Status != from {
		return nil, ErrConflict
	}
	fr.Status = to
	fr.UpdatedAt = at
	cp := *fr
	return &cp, nil
}

func (m *Memory) CreateInvite(_ context.Context, inv *models.ChatInvite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ex := range m.invites {
		if ex.Code == inv.Code {
			return ErrConflict
		}
	}
	stamp(&inv.CreatedAt)
	cp := *inv
	m.invites = append(m.invites, &cp)
	return nil
}

func (m *Memory) GetInvite(_ context.Context, code string) (*models.ChatInvite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, inv := range m.invites {
		if inv.Code == code {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}
