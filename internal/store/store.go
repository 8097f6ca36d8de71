// Package store 是持久化边界。service 只依赖 Store 接口，具体实现在启动时选择：
// 测试与演示用内存实现，生产用基于 gorm 的 Postgres 实现。
package store

import (
	"context"
	"errors"
	"time"

	"chatterlite/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	UpsertUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
	SearchUsers(ctx context.Context, q string, limit int) ([]models.User, error)
	SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error

	SaveRefreshToken(ctx context.Context, rt *models.RefreshToken) error
	// ConsumeRefreshToken 原子地吊销一个有效的 refresh token 并返回它。
	ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string, now time.Time) error

	// CreateChat 写入聊天，并为每个成员 id 写入一条成员关系。
	CreateChat(ctx context.Context, c *models.Chat, memberIDs []string) error
	GetChat(ctx context.Context, id string) (*models.Chat, error)
	FindDirectChat(ctx context.Context, directKey string) (*models.Chat, error)
	MembershipsForUser(ctx context.Context, userID string) ([]models.ChatMember, error)
	ChatMembers(ctx context.Context, chatID string) ([]models.ChatMember, error)
	// OtherMember 返回聊天中除 userID 以外的任意一个成员。
	OtherMember(ctx context.Context, chatID, userID string) (*models.User, error)
	IsMember(ctx context.Context, chatID, userID string) (bool, error)
	AddMember(ctx context.Context, chatID, userID string) error

	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// ListMessages 按时间升序返回聊天消息。
	ListMessages(ctx context.Context, chatID string) ([]models.Message, error)
	// RecentMessages 按时间降序返回若干聊天的消息。
	RecentMessages(ctx context.Context, chatIDs []string) ([]models.Message, error)
	UnreadCounts(ctx context.Context, chatIDs []string, userID string) (map[string]int, error)
	MarkRead(ctx context.Context, chatID, readerID string) (int64, error)

	FindReaction(ctx context.Context, messageID, userID, emoji string) (*models.Reaction, error)
	CreateReaction(ctx context.Context, r *models.Reaction) error
	DeleteReaction(ctx context.Context, r *models.Reaction) error
	// ReactionsFor 按写入时间返回消息的反应，同一时刻按 id 排序。
	ReactionsFor(ctx context.Context, messageIDs []string) ([]models.Reaction, error)

	CreateFriendRequest(ctx context.Context, fr *models.FriendRequest) error
	GetFriendRequest(ctx context.Context, id string) (*models.FriendRequest, error)
	FindFriendRequest(ctx context.Context, senderID, receiverID string) (*models.FriendRequest, error)
	FriendRequestsForUser(ctx context.Context, userID string) ([]models.FriendRequest, error)
	PendingFriendRequests(ctx context.Context, receiverID string) ([]models.FriendRequest, error)
	// UpdateFriendRequestStatus 把请求从 from 状态改为 to 状态；当前状态不是 from 时返回 ErrConflict。
	UpdateFriendRequestStatus(ctx context.Context, id string, from, to models.FriendRequestStatus, at time.Time) (*models.FriendRequest, error)

	CreateInvite(ctx context.Context, inv *models.ChatInvite) error
	GetInvite(ctx context.Context, code string) (*models.ChatInvite, error)
}
