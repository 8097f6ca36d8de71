package service

import (
	"context"
	"testing"
	"time"

	"chatterlite/internal/events"

	"github.com/stretchr/testify/require"
)

func TestChatListView_KeepsSnapshotOnError(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	c := e.group(t, "team", time.Now(), "u1")

	v := NewChatListView(e.chats, "u1")
	require.Empty(t, v.Snapshot())
	require.NoError(t, v.Refresh(ctx))
	require.Len(t, v.Snapshot(), 1)

	e.store.failMemberships.Store(true)
	require.ErrorIs(t, v.Refresh(ctx), errBoom)
	got := v.Snapshot()
	require.Len(t, got, 1)
	require.Equal(t, c.ID, got[0].ID)
}

func TestMessageView_Select(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	e.user(t, "u2", "Bob")
	a := e.group(t, "a", time.Now(), "u1")
	b := e.group(t, "b", time.Now(), "u1")
	foreign := e.group(t, "c", time.Now(), "u2")
	require.NoError(t, e.messages.Send(ctx, "u1", a.ID, SendInput{Content: "in a"}))

	v := NewMessageView(e.messages, "u1")
	require.NoError(t, v.Refresh(ctx), "no selection is a no-op")

	require.NoError(t, v.Select(ctx, a.ID))
	id, items := v.Snapshot()
	require.Equal(t, a.ID, id)
	require.Len(t, items, 1)

	require.ErrorIs(t, v.Select(ctx, foreign.ID), ErrForbidden)
	require.Equal(t, a.ID, v.ChatID())

	require.NoError(t, v.Select(ctx, b.ID))
	id, items = v.Snapshot()
	require.Equal(t, b.ID, id)
	require.Empty(t, items)

	require.NoError(t, e.messages.Send(ctx, "u1", b.ID, SendInput{Content: "in b"}))
	e.store.failMessages.Store(true)
	require.Error(t, v.Refresh(ctx))
	_, items = v.Snapshot()
	require.Empty(t, items)

	e.store.failMessages.Store(false)
	require.NoError(t, v.Refresh(ctx))
	_, items = v.Snapshot()
	require.Len(t, items, 1)
	require.Equal(t, "in b", items[0].Content)
}

func TestFilters(t *testing.T) {
	list := ChatListFilter()
	require.True(t, list.Match(events.Change{Table: events.TableMessages, Op: events.OpInsert, ChatID: "x"}))
	require.True(t, list.Match(events.Change{Table: events.TableMembers, Op: events.OpInsert}))
	require.False(t, list.Match(events.Change{Table: events.TableReactions, Op: events.OpInsert}))

	msgs := MessageFilter("c1")
	require.True(t, msgs.Match(events.Change{Table: events.TableMessages, Op: events.OpUpdate, ChatID: "c1"}))
	require.True(t, msgs.Match(events.Change{Table: events.TableReactions, Op: events.OpDelete, ChatID: "c1"}))
	require.False(t, msgs.Match(events.Change{Table: events.TableMessages, Op: events.OpInsert, ChatID: "c2"}))
}

func TestInvites(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	e.user(t, "u2", "Bob")
	e.user(t, "u3", "Carol")
	g := e.group(t, "team", time.Now(), "u1")

	_, err := e.invites.Create(ctx, "u2", g.ID)
	require.ErrorIs(t, err, ErrForbidden)

	inv, err := e.invites.Create(ctx, "u1", g.ID)
	require.NoError(t, err)
	require.NotEmpty(t, inv.Code)

	chatID, err := e.invites.Join(ctx, "u2", inv.Code)
	require.NoError(t, err)
	require.Equal(t, g.ID, chatID)
	_, err = e.invites.Join(ctx, "u2", inv.Code)
	require.NoError(t, err, "joining twice is harmless")

	members, err := e.store.ChatMembers(ctx, g.ID)
	require.NoError(t, err)
	require.Len(t, members, 2)

	_, err = e.invites.Join(ctx, "u3", "nope")
	require.ErrorIs(t, err, ErrNotFound)

	e.invites.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = e.invites.Join(ctx, "u3", inv.Code)
	require.ErrorIs(t, err, ErrInviteExpired)

	direct, err := e.chats.EnsureDirect(ctx, "u1", "u2", "")
	require.NoError(t, err)
	_, err = e.invites.Create(ctx, "u1", direct.ID)
	require.ErrorIs(t, err, ErrValidation)
}
