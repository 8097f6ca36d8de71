package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatterlite/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Gorm 基于 gorm 的持久化实现，SQL 保持 Postgres 与 SQLite 通用。
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm { return &Gorm{db: db} }

var _ Store = (*Gorm)(nil)

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func conflict(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConflict
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint") {
		return ErrConflict
	}
	return err
}

func (g *Gorm) CreateUser(ctx context.Context, u *models.User) error {
	ensureID(&u.ID)
	u.Email = normalizeEmail(u.Email)
	return conflict(g.db.WithContext(ctx).Create(u).Error)
}

func (g *Gorm) UpsertUser(ctx context.Context, u *models.User) error {
	ensureID(&u.ID)
	u.Email = normalizeEmail(u.Email)
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ex models.User
		err := tx.First(&ex, "id = ?", u.ID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(u).Error
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&ex).Updates(map[string]any{
			"email": u.Email, "full_name": u.FullName, "avatar_url": u.AvatarURL, "updated_at": time.Now(),
		}).Error; err != nil {
			return err
		}
		return tx.First(u, "id = ?", u.ID).Error
	})
	return conflict(err)
}

func (g *Gorm) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := g.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (g *Gorm) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := g.db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", email).First(&u).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (g *Gorm) UsersByIDs(ctx context.Context, ids []string) ([]models.User, error) {
	var users []models.User
	if len(ids) == 0 {
		return users, nil
	}
	err := g.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error
	return users, err
}

func (g *Gorm) SearchUsers(ctx context.Context, q string, limit int) ([]models.User, error) {
	like := "%" + strings.ToLower(q) + "%"
	var users []models.User
	err := g.db.WithContext(ctx).
		Where("LOWER(email) LIKE ? OR LOWER(full_name) LIKE ?", like, like).
		Order("created_at asc").Limit(limit).Find(&users).Error
	return users, err
}

func (g *Gorm) SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	res := g.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]any{"is_online": online, "last_seen": lastSeen})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gorm) SaveRefreshToken(ctx context.Context, rt *models.RefreshToken) error {
	ensureID(&rt.ID)
	return conflict(g.db.WithContext(ctx).Create(rt).Error)
}

func (g *Gorm) ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	var rt models.RefreshToken
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RefreshToken{}).
			Where("token = ? AND revoked_at IS NULL AND expires_at > ?", token, now).
			Update("revoked_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("token = ?", token).First(&rt).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &rt, nil
}

func (g *Gorm) RevokeRefreshToken(ctx context.Context, token string, now time.Time) error {
	res := g.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ? AND revoked_at IS NULL", token).Update("revoked_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := g.db.WithContext(ctx).Model(&models.RefreshToken{}).Where("token = ?", token).Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
	}
	return nil
}

func (g *Gorm) CreateChat(ctx context.Context, c *models.Chat, memberIDs []string) error {
	ensureID(&c.ID)
	return conflict(g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(c).Error; err != nil {
			return err
		}
		if len(memberIDs) == 0 {
			return nil
		}
		rows := make([]models.ChatMember, 0, len(memberIDs))
		for _, uid := range memberIDs {
			rows = append(rows, models.ChatMember{ChatID: c.ID, UserID: uid, JoinedAt: c.CreatedAt})
		}
		return tx.Omit("Chat").Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	}))
}

func (g *Gorm) GetChat(ctx context.Context, id string) (*models.Chat, error) {
	var c models.Chat
	if err := g.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (g *Gorm) FindDirectChat(ctx context.Context, directKey string) (*models.Chat, error) {
	var c models.Chat
	if err := g.db.WithContext(ctx).Where("direct_key = ?", directKey).First(&c).Error; err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (g *Gorm) MembershipsForUser(ctx context.Context, userID string) ([]models.ChatMember, error) {
	var rows []models.ChatMember
	err := g.db.WithContext(ctx).Preload("Chat").Where("user_id = ?", userID).Find(&rows).Error
	return rows, err
}

func (g *Gorm) ChatMembers(ctx context.Context, chatID string) ([]models.ChatMember, error) {
	var rows []models.ChatMember
	err := g.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("joined_at asc").Find(&rows).Error
	return rows, err
}

func (g *Gorm) OtherMember(ctx context.Context, chatID, userID string) (*models.User, error) {
	var mb models.ChatMember
	err := g.db.WithContext(ctx).Where("chat_id = ? AND user_id <> ?", chatID, userID).
		Order("joined_at asc").Limit(1).Find(&mb).Error
	if err != nil {
		return nil, err
	}
	if mb.UserID == "" {
		return nil, ErrNotFound
	}
	return g.GetUser(ctx, mb.UserID)
}

func (g *Gorm) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	var n int64
	err := g.db.WithContext(ctx).Model(&models.ChatMember{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).Count(&n).Error
	return n > 0, err
}

func (g *Gorm) AddMember(ctx context.Context, chatID, userID string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c models.Chat
		if err := tx.First(&c, "id = ?", chatID).Error; err != nil {
			return notFound(err)
		}
		var members []models.ChatMember
		if err := tx.Where("chat_id = ?", chatID).Find(&members).Error; err != nil {
			return err
		}
		for _, mb := range members {
			if mb.UserID == userID {
				return nil
			}
		}
		if !c.IsGroup && len(members) >= 2 {
			return ErrConflict
		}
		return conflict(tx.Omit("Chat").Create(&models.ChatMember{ChatID: chatID, UserID: userID, JoinedAt: time.Now()}).Error)
	})
}

func (g *Gorm) CreateMessage(ctx context.Context, m *models.Message) error {
	ensureID(&m.ID)
	if m.Kind == "" {
		m.Kind = models.KindText
	}
	return g.db.WithContext(ctx).Create(m).Error
}

func (g *Gorm) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	if err := g.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (g *Gorm) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	var msgs []models.Message
	err := g.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("created_at asc").Order("id asc").Find(&msgs).Error
	return msgs, err
}

func (g *Gorm) RecentMessages(ctx context.Context, chatIDs []string) ([]models.Message, error) {
	var msgs []models.Message
	if len(chatIDs) == 0 {
		return msgs, nil
	}
	err := g.db.WithContext(ctx).Where("chat_id IN ?", chatIDs).Order("created_at desc").Order("id desc").Find(&msgs).Error
	return msgs, err
}

// unreadQuery 统计 userID 在各聊天中晚于自己已读位置的他人消息。
func (g *Gorm) unreadQuery(tx *gorm.DB, chatIDs []string, userID string) *gorm.DB {
	return tx.Table("messages AS m").
		Select("m.chat_id AS chat_id, COUNT(*) AS n").
		Joins("JOIN chat_members AS cm ON cm.chat_id = m.chat_id AND cm.user_id = ?", userID).
		Where("m.chat_id IN ? AND m.sender_id <> ?", chatIDs, userID).
		Where("(cm.last_read_at IS NULL OR m.created_at > cm.last_read_at)").
		Group("m.chat_id")
}

type unreadRow struct {
	ChatID string
	N      int
}

func (g *Gorm) UnreadCounts(ctx context.Context, chatIDs []string, userID string) (map[string]int, error) {
	out := make(map[string]int)
	if len(chatIDs) == 0 {
		return out, nil
	}
	var rows []unreadRow
	if err := g.unreadQuery(g.db.WithContext(ctx), chatIDs, userID).Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ChatID] = r.N
	}
	return out, nil
}

// MarkRead 只推进读者自己的已读位置，并把他人消息的 is_read 置位。
func (g *Gorm) MarkRead(ctx context.Context, chatID, readerID string) (int64, error) {
	var n int64
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var mb models.ChatMember
		if err := tx.Where("chat_id = ? AND user_id = ?", chatID, readerID).First(&mb).Error; err != nil {
			return notFound(err)
		}
		var latest []models.Message
		if err := tx.Where("chat_id = ?", chatID).Order("created_at desc").Limit(1).Find(&latest).Error; err != nil {
			return err
		}
		if len(latest) == 0 {
			return nil
		}
		var rows []unreadRow
		if err := g.unreadQuery(tx, []string{chatID}, readerID).Scan(&rows).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			n = int64(rows[0].N)
		}
		if at := latest[0].CreatedAt; mb.LastReadAt == nil || at.After(*mb.LastReadAt) {
			err := tx.Model(&models.ChatMember{}).
				Where("chat_id = ? AND user_id = ?", chatID, readerID).
				Update("last_read_at", at).Error
			if err != nil {
				return err
			}
		}
		return tx.Model(&models.Message{}).
			Where("chat_id = ? AND sender_id <> ? AND is_read = ?", chatID, readerID, false).
			Updates(map[string]any{"is_read": true, "is_delivered": true}).Error
	})
	return n, err
}

func (g *Gorm) FindReaction(ctx context.Context, messageID, userID, emoji string) (*models.Reaction, error) {
	var r models.Reaction
	err := g.db.WithContext(ctx).Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).First(&r).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

func (g *Gorm) CreateReaction(ctx context.Context, r *models.Reaction) error {
	ensureID(&r.ID)
	return conflict(g.db.WithContext(ctx).Create(r).Error)
}

func (g *Gorm) DeleteReaction(ctx context.Context, r *models.Reaction) error {
	res := g.db.WithContext(ctx).Where("id = ?", r.ID).Delete(&models.Reaction{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *Gorm) ReactionsFor(ctx context.Context, messageIDs []string) ([]models.Reaction, error) {
	var rows []models.Reaction
	if len(messageIDs) == 0 {
		return rows, nil
	}
	err := g.db.WithContext(ctx).Where("message_id IN ?", messageIDs).Order("created_at asc").Order("id asc").Find(&rows).Error
	return rows, err
}

func (g *Gorm) CreateFriendRequest(ctx context.Context, fr *models.FriendRequest) error {
	ensureID(&fr.ID)
	if fr.Status == "" {
		fr.Status = models.StatusPending
	}
	return conflict(g.db.WithContext(ctx).Create(fr).Error)
}

func (g *Gorm) GetFriendRequest(ctx context.Context, id string) (*models.FriendRequest, error) {
	var fr models.FriendRequest
	if err := g.db.WithContext(ctx).First(&fr, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &fr, nil
}

func (g *Gorm) FindFriendRequest(ctx context.Context, senderID, receiverID string) (*models.FriendRequest, error) {
	var fr models.FriendRequest
	err := g.db.WithContext(ctx).Where("sender_id = ? AND receiver_id = ?", senderID, receiverID).First(&fr).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &fr, nil
}

func (g *Gorm) FriendRequestsForUser(ctx context.Context, userID string) ([]models.FriendRequest, error) {
	var rows []models.FriendRequest
	err := g.db.WithContext(ctx).Where("sender_id = ? OR receiver_id = ?", userID, userID).
		Order("created_at desc").Order("id desc").Find(&rows).Error
	return rows, err
}

func (g *Gorm) PendingFriendRequests(ctx context.Context, receiverID string) ([]models.FriendRequest, error) {
	var rows []models.FriendRequest
	err := g.db.WithContext(ctx).Where("receiver_id = ? AND status = ?", receiverID, models.StatusPending).
		Order("created_at desc").Order("id desc").Find(&rows).Error
	return rows, err
}

func (g *Gorm) UpdateFriendRequestStatus(ctx context.Context, id string, from, to models.FriendRequestStatus, at time.Time) (*models.FriendRequest, error) {
	res := g.db.WithContext(ctx).Model(&models.FriendRequest{}).Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{"status": to, "updated_at": at})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// 区分请求不存在与状态已被他人改变
		if _, err := g.GetFriendRequest(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrConflict
	}
	return g.GetFriendRequest(ctx, id)
}

func (g *Gorm) CreateInvite(ctx context.Context, inv *models.ChatInvite) error {
	return conflict(g.db.WithContext(ctx).Create(inv).Error)
}

func (g *Gorm) GetInvite(ctx context.Context, code string) (*models.ChatInvite, error) {
	var inv models.ChatInvite
	if err := g.db.WithContext(ctx).First(&inv, "code = ?", code).Error; err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}
