package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/internal/network/codec"
)

type stubSession struct {
	id       int64
	username string
}

func (s *stubSession) ID() int64 { return s.id }

func (s *stubSession) Context() context.Context { return context.Background() }

func (s *stubSession) RemoteAddr() net.Addr { return nil }

func (s *stubSession) Username() string { return s.username }

func (s *stubSession) State() State { return StateAuthenticated }

func (s *stubSession) Deliver(*model.Message) error { return nil }

func (s *stubSession) DeliverFrame(*codec.Frame) error { return nil }

func (s *stubSession) Close() error { return nil }

func TestRegistryPutGetRemove(t *testing.T) {
	r := NewRegistry()
	alice := &stubSession{id: 1, username: "alice"}

	prev, replaced := r.Put("alice", alice)
	assert.Nil(t, prev)
	assert.False(t, replaced)

	got, ok := r.Get("alice")
	require.True(t, ok)
	assert.Same(t, alice, got)
	assert.Equal(t, 1, r.Count())

	removed, ok := r.Remove("alice")
	assert.True(t, ok)
	assert.Same(t, alice, removed)
	_, ok = r.Get("alice")
	assert.False(t, ok)

	// 删除不存在的用户名是 no-op。
	_, ok = r.Remove("alice")
	assert.False(t, ok)
	assert.Zero(t, r.Count())
}

func TestRegistryPutReplaces(t *testing.T) {
	r := NewRegistry()
	first := &stubSession{id: 1, username: "alice"}
	second := &stubSession{id: 2, username: "alice"}

	r.Put("alice", first)
	prev, replaced := r.Put("alice", first)
	assert.False(t, replaced, "re-registering the same session is not a replacement")
	assert.Nil(t, prev)

	prev, replaced = r.Put("alice", second)
	assert.True(t, replaced)
	assert.Same(t, first, prev)
	got, _ := r.Get("alice")
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Count())

	assert.False(t, r.RemoveIf("alice", first))
	assert.Equal(t, 1, r.Count())
	assert.True(t, r.RemoveIf("alice", second))
	assert.Zero(t, r.Count())
	assert.False(t, r.RemoveIf("alice", second))
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry()
	for i, name := range []string{"carol", "alice", "bob"} {
		r.Put(name, &stubSession{id: int64(i), username: name})
	}

	snapshot := r.Snapshot()
	require.Len(t, snapshot, 3)
	names := []string{snapshot[0].Username, snapshot[1].Username, snapshot[2].Username}
	assert.Equal(t, []string{"alice", "bob", "carol"}, names)
	for _, u := range snapshot {
		assert.Equal(t, model.UserStatusOnline, u.Status)
		assert.Equal(t, model.AvatarColor(u.Username), u.AvatarColor)
	}

	// 快照是拷贝，之后的变化不影响它。
	r.Remove("bob")
	assert.Len(t, snapshot, 3)
	assert.Len(t, r.Snapshot(), 2)

	var visited []string
	r.Range(func(username string, _ Session) bool {
		visited = append(visited, username)
		return false
	})
	assert.Equal(t, []string{"alice"}, visited)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	const workers = 32

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user-%d", i)
			sess := &stubSession{id: int64(i), username: name}
			for j := 0; j < 100; j++ {
				r.Put(name, sess)
				_, _ = r.Get(name)
				_ = r.Snapshot()
				if j%2 == 0 {
					r.RemoveIf(name, sess)
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, workers, r.Count())
	assert.Len(t, r.Snapshot(), workers)
}
