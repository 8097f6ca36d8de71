package events

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFilter_Match(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		change Change
		want   bool
	}{
		{"empty filter", Filter{}, Change{Table: TableMessages, Op: OpInsert}, true},
		{"table hit", Filter{Tables: []Table{TableMessages}}, Change{Table: TableMessages}, true},
		{"table miss", Filter{Tables: []Table{TableChats}}, Change{Table: TableMessages}, false},
		{"op miss", Filter{Ops: []Op{OpInsert}}, Change{Table: TableMessages, Op: OpDelete}, false},
		{"chat hit", Filter{ChatID: "c1"}, Change{ChatID: "c1"}, true},
		{"chat miss", Filter{ChatID: "c1"}, Change{ChatID: "c2"}, false},
		{"chat filter on unscoped row", Filter{ChatID: "c1"}, Change{Table: TableUsers}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.filter.Match(tt.change))
		})
	}
}

func TestBus_DeliversMatching(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(Filter{ChatID: "c1"}, 4)
	defer sub.Close()

	b.Publish(Change{Table: TableMessages, ChatID: "c2"})
	b.Publish(Change{Table: TableMessages, ChatID: "c1", RowID: "m1"})

	select {
	case c := <-sub.C():
		require.Equal(t, "m1", c.RowID)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change")
	}
	select {
	case c := <-sub.C():
		t.Fatalf("unexpected change: %+v", c)
	default:
	}
}

func TestBus_CoalescesWhenFull(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(Filter{}, 1)
	defer sub.Close()

	for i := 0; i < 10; i++ {
		b.Publish(Change{Table: TableMessages})
	}
	require.Len(t, sub.C(), 1)
}

func TestBus_CloseDetaches(t *testing.T) {
	b := NewBus()
	sub := b.Subscribe(Filter{}, 1)
	require.Equal(t, 1, b.Len())
	sub.Close()
	sub.Close()
	require.Equal(t, 0, b.Len())

	b.Publish(Change{Table: TableMessages})
	require.Len(t, sub.C(), 0)
}

type recorder struct{ got []Change }

func (r *recorder) Publish(c Change) { r.got = append(r.got, c) }

func TestFanout(t *testing.T) {
	a, c := &recorder{}, &recorder{}
	f := Fanout(a, nil, c)
	f.Publish(Change{RowID: "x"})
	require.Len(t, a.got, 1)
	require.Len(t, c.got, 1)
}

func TestRedisBridge_RoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("skip: TEST_REDIS_URL not set")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewBus()
	sub := bus.Subscribe(Filter{Tables: []Table{TableMessages}}, 1)
	defer sub.Close()

	bridge, err := NewRedisBridge(ctx, url, "chatterlite:test", bus)
	require.NoError(t, err)
	defer bridge.Close()
	go func() { _ = bridge.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	bridge.Publish(Change{Table: TableMessages, RowID: "m1", ChatID: "c1"})
	select {
	case c := <-sub.C():
		require.Equal(t, "m1", c.RowID)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for relayed change")
	}
}
