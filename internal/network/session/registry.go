package session

import (
	"sort"
	"sync"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/pkg/metrics"
)

// Registry 维护“用户名 -> 在线会话”的索引，是当前可达用户的唯一来源。
//
// 特性：
//   - 使用读写锁保证并发安全，调用方无需额外加锁；
//   - 同一用户名至多一个会话，Put 以最后一次写入为准；
//   - 遍历前复制一份快照，避免在持锁情况下执行回调或写网络。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewRegistry 创建一个空的 Registry。
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
	}
}

// Put 登记 username 对应的会话。
//
// 若该用户名已登记了另一个会话，返回被替换的旧会话与 replaced=true，
// 由调用方决定如何处理旧会话。
func (r *Registry) Put(username string, sess Session) (prev Session, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, exists := r.sessions[username]
	r.sessions[username] = sess
	if !exists {
		metrics.OnlineSessions.Inc()
		return nil, false
	}
	if prev == sess {
		return nil, false
	}
	return prev, true
}

// Remove 删除 username 的登记，不存在时为 no-op。
func (r *Registry) Remove(username string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[username]
	if ok {
		delete(r.sessions, username)
		metrics.OnlineSessions.Dec()
	}
	return sess, ok
}

// RemoveIf 仅当 username 当前登记的正是 sess 时才删除。
// 被新登录替换掉的会话在清理时不会误删新会话。
func (r *Registry) RemoveIf(username string, sess Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.sessions[username]
	if !ok || cur != sess {
		return false
	}
	delete(r.sessions, username)
	metrics.OnlineSessions.Dec()
	return true
}

// Get 根据用户名查找会话。
func (r *Registry) Get(username string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[username]
	return sess, ok
}

// Snapshot 返回当前在线用户列表，按用户名排序。
// 返回的是时间点拷贝，之后的登记变化不会反映到其中。
func (r *Registry) Snapshot() []model.User {
	r.mu.RLock()
	users := make([]model.User, 0, len(r.sessions))
	for username := range r.sessions {
		users = append(users, model.NewOnlineUser(username))
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users
}

type entry struct {
	username string
	sess     Session
}

// entries 在读锁内复制全部登记项，按用户名排序。
func (r *Registry) entries() []entry {
	r.mu.RLock()
	out := make([]entry, 0, len(r.sessions))
	for username, sess := range r.sessions {
		out = append(out, entry{username: username, sess: sess})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].username < out[j].username
	})
	return out
}

// Range 在快照上遍历全部会话，fn 返回 false 时中断。
// 回调期间不持有锁，可以安全地向会话写数据。
func (r *Registry) Range(fn func(username string, sess Session) bool) {
	if fn == nil {
		return
	}
	for _, e := range r.entries() {
		if !fn(e.username, e.sess) {
			return
		}
	}
}

// Count 返回当前已登记的会话数量。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
