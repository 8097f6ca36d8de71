package service

import (
	"context"
	"testing"

	"chatterlite/internal/models"

	"github.com/stretchr/testify/require"
)

func TestFriendRequest_AcceptCreatesDirectChat(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	e.user(t, "u2", "Bob")

	fr, err := e.friends.Create(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, fr.Status)

	pending, err := e.friends.ListPending(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	updated, err := e.friends.UpdateStatus(ctx, fr.ID, models.StatusAccepted)
	require.NoError(t, err)
	require.Equal(t, models.StatusAccepted, updated.Status)

	chat, err := e.store.FindDirectChat(ctx, DirectKey("u1", "u2"))
	require.NoError(t, err)
	require.NotNil(t, chat.FriendRequestID)
	require.Equal(t, fr.ID, *chat.FriendRequestID)
	members, err := e.store.ChatMembers(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)
	ids := []string{members[0].UserID, members[1].UserID}
	require.ElementsMatch(t, []string{"u1", "u2"}, ids)

	// 重复接受不会产生第二个聊天
	_, err = e.friends.UpdateStatus(ctx, fr.ID, models.StatusAccepted)
	require.NoError(t, err)
	list, err := e.chats.ListSummaries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "Bob", list[0].Name)

	pending, err = e.friends.ListPending(ctx, "u2")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestFriendRequest_UnknownID(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")

	_, err := e.friends.UpdateStatus(ctx, "missing", models.StatusAccepted)
	require.ErrorIs(t, err, ErrNotFound)

	list, err := e.chats.ListSummaries(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestFriendRequest_Transitions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	e.user(t, "u2", "Bob")

	fr, err := e.friends.Create(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = e.friends.UpdateStatus(ctx, fr.ID, models.StatusPending)
	require.ErrorIs(t, err, ErrValidation)

	rejected, err := e.friends.UpdateStatus(ctx, fr.ID, models.StatusRejected)
	require.NoError(t, err)
	require.Equal(t, models.StatusRejected, rejected.Status)

	_, err = e.friends.UpdateStatus(ctx, fr.ID, models.StatusAccepted)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.store.FindDirectChat(ctx, DirectKey("u1", "u2"))
	require.Error(t, err, "rejecting must not create a chat")

	// 被拒绝后可以重新发送
	reopened, err := e.friends.Create(ctx, "u1", "u2")
	require.NoError(t, err)
	require.Equal(t, fr.ID, reopened.ID)
	require.Equal(t, models.StatusPending, reopened.Status)

	_, err = e.friends.Create(ctx, "u1", "u2")
	require.ErrorIs(t, err, ErrConflict)
}

func TestFriendRequest_CreateValidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	e.user(t, "u2", "Bob")

	tests := []struct {
		name     string
		sender   string
		receiver string
		want     error
	}{
		{"missing sender", "", "u2", ErrValidation},
		{"missing receiver", "u1", " ", ErrValidation},
		{"self", "u1", "u1", ErrValidation},
		{"unknown receiver", "u1", "ghost", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.friends.Create(ctx, tt.sender, tt.receiver)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFriendRequest_ReverseRequestsShareChat(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	e.user(t, "u2", "Bob")

	a, err := e.friends.Create(ctx, "u1", "u2")
	require.NoError(t, err)
	b, err := e.friends.Create(ctx, "u2", "u1")
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)

	_, err = e.friends.UpdateStatus(ctx, a.ID, models.StatusAccepted)
	require.NoError(t, err)
	_, err = e.friends.UpdateStatus(ctx, b.ID, models.StatusAccepted)
	require.NoError(t, err)

	list, err := e.chats.ListSummaries(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestFriendRequest_SideEffectFailureKeepsStatus(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	e.user(t, "u2", "Bob")

	fr, err := e.friends.Create(ctx, "u1", "u2")
	require.NoError(t, err)

	e.store.failCreateChat.Store(true)
	updated, err := e.friends.UpdateStatus(ctx, fr.ID, models.StatusAccepted)
	require.NoError(t, err)
	require.Equal(t, models.StatusAccepted, updated.Status)
	_, err = e.store.FindDirectChat(ctx, DirectKey("u1", "u2"))
	require.Error(t, err)

	// 再次接受会补上缺失的聊天
	e.store.failCreateChat.Store(false)
	_, err = e.friends.UpdateStatus(ctx, fr.ID, models.StatusAccepted)
	require.NoError(t, err)
	_, err = e.store.FindDirectChat(ctx, DirectKey("u1", "u2"))
	require.NoError(t, err)
}

func TestFriendRequest_OnlyReceiverDecides(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	e.user(t, "u2", "Bob")

	fr, err := e.friends.Create(ctx, "u1", "u2")
	require.NoError(t, err)

	_, err = e.friends.UpdateStatusAs(ctx, "u1", fr.ID, models.StatusAccepted)
	require.ErrorIs(t, err, ErrForbidden)
	got, err := e.friends.UpdateStatusAs(ctx, "u2", fr.ID, models.StatusAccepted)
	require.NoError(t, err)
	require.Equal(t, models.StatusAccepted, got.Status)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" Accepted ")
	require.NoError(t, err)
	require.Equal(t, models.StatusAccepted, st)
	_, err = ParseStatus("pending")
	require.ErrorIs(t, err, ErrValidation)
}
