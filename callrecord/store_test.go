/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callrecord

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejzpr/gateway-calling-go/callsdk"
)

type store interface {
	Channel
	Pruner
}

func stores() map[string]func(t *testing.T) store {
	return map[string]func(t *testing.T) store{
		"memory": func(t *testing.T) store {
			return NewMemoryStore(callsdk.NopLogger())
		},
		"sqlite": func(t *testing.T) store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "calls.db"), callsdk.NopLogger())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func ringing(id string) *Record {
	return &Record{
		CallID:         id,
		CallerID:       "alice",
		ReceiverID:     "bob",
		ConversationID: "conv-1",
		Type:           TypeVideo,
		Status:         StatusRinging,
		StartTime:      time.Now().UnixMilli(),
	}
}

func next(t *testing.T, ch <-chan Record) Record {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok, "watch channel closed")
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for record")
		return Record{}
	}
}

func TestStores(t *testing.T) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("create and get", func(t *testing.T) {
				s := open(t)
				rec := ringing("c1")
				require.NoError(t, s.Create(ctx, rec))
				got, err := s.Get(ctx, "c1")
				require.NoError(t, err)
				assert.Equal(t, *rec, *got)

				assert.ErrorIs(t, s.Create(ctx, ringing("c1")), ErrExists)
				_, err = s.Get(ctx, "missing")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("create validates", func(t *testing.T) {
				s := open(t)
				bad := ringing("c2")
				bad.Status = StatusAccepted
				assert.Error(t, s.Create(ctx, bad))
				bad = ringing("")
				assert.Error(t, s.Create(ctx, bad))
			})

			t.Run("monotone transitions", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Create(ctx, ringing("c3")))
				now := time.Now()

				r, err := s.UpdateStatus(ctx, "c3", StatusAccepted, now)
				require.NoError(t, err)
				assert.Equal(t, StatusAccepted, r.Status)

				// idempotent
				r, err = s.UpdateStatus(ctx, "c3", StatusAccepted, now.Add(time.Minute))
				require.NoError(t, err)
				assert.Equal(t, now.UnixMilli(), r.AnsweredAt)

				_, err = s.UpdateStatus(ctx, "c3", StatusMissed, now)
				assert.ErrorIs(t, err, ErrInvalidTransition)

				r, err = s.UpdateStatus(ctx, "c3", StatusEnded, now.Add(42*time.Second))
				require.NoError(t, err)
				assert.Equal(t, int64(42), r.Duration)

				_, err = s.UpdateStatus(ctx, "c3", StatusAccepted, now)
				assert.ErrorIs(t, err, ErrInvalidTransition)

				got, err := s.Get(ctx, "c3")
				require.NoError(t, err)
				assert.Equal(t, StatusEnded, got.Status)

				_, err = s.UpdateStatus(ctx, "nope", StatusEnded, now)
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("watch call", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Create(ctx, ringing("c4")))

				wctx, cancel := context.WithCancel(ctx)
				ch, err := s.WatchCall(wctx, "c4")
				require.NoError(t, err)
				assert.Equal(t, StatusRinging, next(t, ch).Status)

				_, err = s.UpdateStatus(ctx, "c4", StatusRejected, time.Now())
				require.NoError(t, err)
				assert.Equal(t, StatusRejected, next(t, ch).Status)

				cancel()
				select {
				case _, ok := <-ch:
					assert.False(t, ok, "watch channel should close")
				case <-time.After(time.Second):
					t.Fatal("watch channel not closed after cancel")
				}

				_, err = s.WatchCall(ctx, "missing")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("watch incoming", func(t *testing.T) {
				s := open(t)
				require.NoError(t, s.Create(ctx, ringing("old")))

				wctx, cancel := context.WithCancel(ctx)
				defer cancel()
				ch, err := s.WatchIncoming(wctx, "bob")
				require.NoError(t, err)
				assert.Equal(t, "old", next(t, ch).CallID)

				other := ringing("other")
				other.ReceiverID = "carol"
				require.NoError(t, s.Create(ctx, other))
				require.NoError(t, s.Create(ctx, ringing("new")))
				assert.Equal(t, "new", next(t, ch).CallID)

				// status updates are not announcements
				_, err = s.UpdateStatus(ctx, "new", StatusAccepted, time.Now())
				require.NoError(t, err)
				select {
				case r := <-ch:
					t.Fatalf("unexpected announcement %s/%s", r.CallID, r.Status)
				case <-time.After(20 * time.Millisecond):
				}
			})

			t.Run("prune", func(t *testing.T) {
				s := open(t)
				old := time.Now().Add(-48 * time.Hour)
				require.NoError(t, s.Create(ctx, ringing("done")))
				_, err := s.UpdateStatus(ctx, "done", StatusMissed, old)
				require.NoError(t, err)
				require.NoError(t, s.Create(ctx, ringing("live")))

				n, err := s.Prune(ctx, time.Now().Add(-24*time.Hour))
				require.NoError(t, err)
				assert.Equal(t, 1, n)

				_, err = s.Get(ctx, "done")
				assert.ErrorIs(t, err, ErrNotFound)
				_, err = s.Get(ctx, "live")
				assert.NoError(t, err)
			})
		})
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.db")
	ctx := context.Background()

	s, err := OpenSQLite(path, callsdk.NopLogger())
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, ringing("p1")))
	_, err = s.UpdateStatus(ctx, "p1", StatusAccepted, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path, callsdk.NopLogger())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.True(t, got.IsVideo())

	recent, err := s.Recent(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "p1", recent[0].CallID)
}

func TestSQLiteStore_InMemory(t *testing.T) {
	s, err := OpenSQLite(":memory:", callsdk.NopLogger())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Create(context.Background(), ringing("m1")))
	_, err = s.Get(context.Background(), "m1")
	assert.NoError(t, err)
}

func TestSQLiteStore_SharedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.db")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	open := func() *SQLiteStore {
		s, err := OpenSQLite(path, callsdk.NopLogger(), WithPollInterval(20*time.Millisecond))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}
	caller, receiver := open(), open()

	incoming, err := receiver.WatchIncoming(ctx, "bob")
	require.NoError(t, err)

	require.NoError(t, caller.Create(ctx, ringing("x1")))
	announced := next(t, incoming)
	assert.Equal(t, "x1", announced.CallID)
	assert.Equal(t, StatusRinging, announced.Status)

	updates, err := caller.WatchCall(ctx, "x1")
	require.NoError(t, err)
	assert.Equal(t, StatusRinging, next(t, updates).Status)

	_, err = receiver.UpdateStatus(ctx, "x1", StatusAccepted, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, next(t, updates).Status)

	_, err = caller.UpdateStatus(ctx, "x1", StatusEnded, time.Now())
	require.NoError(t, err)
	assert.Equal(t, StatusEnded, next(t, updates).Status)

	// each change is delivered once, and the call is announced once
	select {
	case r := <-updates:
		t.Fatalf("unexpected repeat %s", r.Status)
	case r := <-incoming:
		t.Fatalf("unexpected announcement %s", r.CallID)
	case <-time.After(100 * time.Millisecond):
	}

	t.Run("polling disabled", func(t *testing.T) {
		s, err := OpenSQLite(path, callsdk.NopLogger(), WithPollInterval(0))
		require.NoError(t, err)
		defer s.Close()

		wctx, wcancel := context.WithCancel(context.Background())
		defer wcancel()
		ch, err := s.WatchIncoming(wctx, "bob")
		require.NoError(t, err)

		require.NoError(t, caller.Create(ctx, ringing("x2")))
		select {
		case r := <-ch:
			t.Fatalf("unexpected announcement %s", r.CallID)
		case <-time.After(100 * time.Millisecond):
		}
	})
}
