package service

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatterlite/internal/models"

	"github.com/stretchr/testify/require"
)

func TestAggregateReactions(t *testing.T) {
	r := func(user, emoji string) models.Reaction {
		return models.Reaction{MessageID: "m1", UserID: user, Emoji: emoji}
	}
	tests := []struct {
		name string
		rows []models.Reaction
		want []ReactionSummary
	}{
		{"no rows", nil, []ReactionSummary{}},
		{
			"first seen order",
			[]models.Reaction{r("u1", "🎉"), r("u2", "👍"), r("u3", "🎉")},
			[]ReactionSummary{
				{Emoji: "🎉", Count: 2, UserIDs: []string{"u1", "u3"}},
				{Emoji: "👍", Count: 1, UserIDs: []string{"u2"}},
			},
		},
		{
			"skin tone variants are distinct",
			[]models.Reaction{r("u1", "👍"), r("u2", "👍🏽")},
			[]ReactionSummary{
				{Emoji: "👍", Count: 1, UserIDs: []string{"u1"}},
				{Emoji: "👍🏽", Count: 1, UserIDs: []string{"u2"}},
			},
		},
		{
			"duplicate rows folded",
			[]models.Reaction{r("u1", "👍"), r("u1", "👍"), r("u2", "👍")},
			[]ReactionSummary{{Emoji: "👍", Count: 2, UserIDs: []string{"u1", "u2"}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, AggregateReactions(tt.rows))
		})
	}
}

func TestAggregateReactions_CountsSumToRows(t *testing.T) {
	emojis := []string{"👍", "❤️", "😂", "👍🏻"}
	var rows []models.Reaction
	for u := 0; u < 7; u++ {
		for i, e := range emojis {
			if (u+i)%3 == 0 {
				continue
			}
			rows = append(rows, models.Reaction{UserID: string(rune('a' + u)), Emoji: e})
		}
	}

	got := AggregateReactions(rows)
	sum := 0
	seen := map[string]bool{}
	for _, g := range got {
		require.False(t, seen[g.Emoji], "groups must be disjoint")
		seen[g.Emoji] = true
		require.Len(t, g.UserIDs, g.Count)
		sum += g.Count
	}
	require.Equal(t, len(rows), sum)
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	e.user(t, "u2", "Bob")
	c := e.group(t, "team", time.Now(), "u1")

	require.NoError(t, e.messages.Send(ctx, "u1", c.ID, SendInput{Content: ""}))
	require.NoError(t, e.messages.Send(ctx, "u1", c.ID, SendInput{Content: "   "}))
	msgs, err := e.store.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Empty(t, msgs)

	require.NoError(t, e.messages.Send(ctx, "u1", c.ID, SendInput{Content: "  hello  "}))
	msgs, err = e.store.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "hello", msgs[0].Content)
	require.Equal(t, models.KindText, msgs[0].Kind)

	require.ErrorIs(t, e.messages.Send(ctx, "u2", c.ID, SendInput{Content: "hi"}), ErrForbidden)
	require.ErrorIs(t, e.messages.Send(ctx, "u1", "missing", SendInput{Content: "hi"}), ErrNotFound)
}

func TestSend_Reply(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	c := e.group(t, "one", time.Now(), "u1")
	other := e.group(t, "two", time.Now(), "u1")

	require.NoError(t, e.messages.Send(ctx, "u1", c.ID, SendInput{Content: "first"}))
	msgs, err := e.store.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	parent := msgs[0].ID

	require.NoError(t, e.messages.Send(ctx, "u1", c.ID, SendInput{Content: "second", ReplyToID: &parent}))
	require.ErrorIs(t, e.messages.Send(ctx, "u1", other.ID, SendInput{Content: "x", ReplyToID: &parent}), ErrValidation)
	missing := "nope"
	require.ErrorIs(t, e.messages.Send(ctx, "u1", c.ID, SendInput{Content: "x", ReplyToID: &missing}), ErrValidation)

	list, err := e.messages.List(ctx, "u1", c.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[1].ReplyToID)
	require.Equal(t, parent, *list[1].ReplyToID)
}

func TestList_JoinsSenderAndReactions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	e.user(t, "u2", "Bob")
	c := e.group(t, "team", time.Now(), "u1", "u2")

	require.NoError(t, e.store.CreateMessage(ctx, &models.Message{ID: "m1", ChatID: c.ID, SenderID: "u1", Content: "a", Kind: models.KindText, CreatedAt: time.Unix(1, 0)}))
	require.NoError(t, e.store.CreateMessage(ctx, &models.Message{ID: "m2", ChatID: c.ID, SenderID: "u2", Content: "b", Kind: models.KindText, CreatedAt: time.Unix(2, 0)}))

	_, err := e.messages.ToggleReaction(ctx, "u2", "m1", "👍")
	require.NoError(t, err)
	_, err = e.messages.ToggleReaction(ctx, "u1", "m1", "👍")
	require.NoError(t, err)

	list, err := e.messages.List(ctx, "u1", c.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "m1", list[0].ID)
	require.Equal(t, "Alice", list[0].Sender.FullName)
	require.Equal(t, []ReactionSummary{{Emoji: "👍", Count: 2, UserIDs: []string{"u2", "u1"}}}, list[0].Reactions)
	require.Equal(t, "Bob", list[1].Sender.FullName)
	require.Empty(t, list[1].Reactions)

	_, err = e.messages.List(ctx, "u3", c.ID)
	require.ErrorIs(t, err, ErrForbidden)

	e.store.failMessages.Store(true)
	list, err = e.messages.List(ctx, "u1", c.ID)
	require.ErrorIs(t, err, errBoom)
	require.Nil(t, list)
}

func TestToggleReaction_RoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	c := e.group(t, "team", time.Now(), "u1")
	require.NoError(t, e.store.CreateMessage(ctx, &models.Message{ID: "m1", ChatID: c.ID, SenderID: "u1", Content: "a", Kind: models.KindText}))

	reacted, err := e.messages.ToggleReaction(ctx, "u1", "m1", "👍")
	require.NoError(t, err)
	require.True(t, reacted)

	reacted, err = e.messages.ToggleReaction(ctx, "u1", "m1", "👍")
	require.NoError(t, err)
	require.False(t, reacted)

	rows, err := e.store.ReactionsFor(ctx, []string{"m1"})
	require.NoError(t, err)
	require.Empty(t, rows)

	_, err = e.messages.ToggleReaction(ctx, "u1", "m1", "")
	require.ErrorIs(t, err, ErrValidation)
	_, err = e.messages.ToggleReaction(ctx, "u1", "missing", "👍")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUploadAttachment(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.user(t, "u1", "Alice")
	c := e.group(t, "team", time.Now(), "u1")

	body := []byte("\x89PNG fake")
	url, err := e.messages.UploadAttachment(ctx, "u1", c.ID, Attachment{
		Filename:    "Cat.PNG",
		ContentType: "image/png",
		Size:        int64(len(body)),
		Body:        bytes.NewReader(body),
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "http://files.test/files/u1/"), url)
	require.True(t, strings.HasSuffix(url, ".png"), url)

	key := strings.TrimPrefix(url, "http://files.test/files/")
	stored, err := os.ReadFile(filepath.Join(e.files.Dir(), filepath.FromSlash(key)))
	require.NoError(t, err)
	require.Equal(t, body, stored)

	msgs, err := e.store.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, models.KindImage, msgs[0].Kind)
	require.Equal(t, "Shared Cat.PNG", msgs[0].Content)
	require.Equal(t, url, msgs[0].FileURL)
	require.Equal(t, int64(len(body)), msgs[0].FileSize)

	_, err = e.messages.UploadAttachment(ctx, "u1", c.ID, Attachment{
		Filename:    "notes.txt",
		ContentType: "text/plain",
		Size:        3,
		Body:        strings.NewReader("abc"),
	})
	require.NoError(t, err)
	msgs, err = e.store.ListMessages(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.KindFile, msgs[1].Kind)

	_, err = e.messages.UploadAttachment(ctx, "u1", c.ID, Attachment{
		Filename: "huge.bin",
		Size:     2 << 20,
		Body:     bytes.NewReader(nil),
	})
	require.ErrorIs(t, err, ErrValidation)
}
