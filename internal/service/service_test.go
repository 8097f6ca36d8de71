package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"chatterlite/internal/models"
	"chatterlite/internal/storage"
	"chatterlite/internal/store"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// flakyStore 在开关打开时让部分读写失败，用于验证错误路径。
type flakyStore struct {
	store.Store
	failMemberships atomic.Bool
	failCreateChat  atomic.Bool
	failMessages    atomic.Bool
}

func (f *flakyStore) MembershipsForUser(ctx context.Context, userID string) ([]models.ChatMember, error) {
	if f.failMemberships.Load() {
		return nil, errBoom
	}
	return f.Store.MembershipsForUser(ctx, userID)
}

func (f *flakyStore) CreateChat(ctx context.Context, c *models.Chat, memberIDs []string) error {
	if f.failCreateChat.Load() {
		return errBoom
	}
	return f.Store.CreateChat(ctx, c, memberIDs)
}

func (f *flakyStore) ListMessages(ctx context.Context, chatID string) ([]models.Message, error) {
	if f.failMessages.Load() {
		return nil, errBoom
	}
	return f.Store.ListMessages(ctx, chatID)
}

type env struct {
	store    *flakyStore
	chats    *ChatService
	messages *MessageService
	friends  *FriendService
	invites  *InviteService
	files    *storage.Disk
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fs := &flakyStore{Store: store.NewMemory()}
	disk, err := storage.NewDisk(t.TempDir(), "http://files.test/files")
	require.NoError(t, err)
	chats := NewChatService(fs)
	return &env{
		store:    fs,
		chats:    chats,
		messages: NewMessageService(fs, disk, 1),
		friends:  NewFriendService(fs, chats),
		invites:  NewInviteService(fs, 24),
		files:    disk,
	}
}

func (e *env) user(t *testing.T, id, name string) *models.User {
	t.Helper()
	u := &models.User{ID: id, Email: id + "@example.com", FullName: name}
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	return u
}

func (e *env) group(t *testing.T, name string, createdAt time.Time, members ...string) *models.Chat {
	t.Helper()
	c := &models.Chat{Name: name, IsGroup: true, CreatedBy: members[0], CreatedAt: createdAt}
	require.NoError(t, e.store.CreateChat(context.Background(), c, members))
	return c
}
