package memory

import (
	"context"
	"sync"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/internal/store"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

type account struct {
	email  string
	hash   string
	status model.UserStatus
}

// Store 是进程内的 store.Store 实现，用于开发环境与测试，重启后数据丢失。
type Store struct {
	cost int

	mu       sync.RWMutex
	accounts map[string]*account
	offline  map[string][]*model.Message
	history  []*model.Message
	closed   bool
}

var _ store.Store = (*Store)(nil)

// New 创建一个空的内存存储，cost 为 bcrypt 代价。
func New(cost int) *Store {
	return &Store{
		cost:     cost,
		accounts: make(map[string]*account),
		offline:  make(map[string][]*model.Message),
	}
}

func (s *Store) CreateAccount(ctx context.Context, username, password, email string) error {
	if err := store.ValidateCredentials(username, password); err != nil {
		return err
	}
	// 哈希在锁外计算。
	hash, err := store.HashPassword(password, s.cost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("create account"); err != nil {
		return err
	}
	if _, ok := s.accounts[username]; ok {
		return merr.WrapErrAuthUsernameTaken(username)
	}
	s.accounts[username] = &account{email: email, hash: hash, status: model.UserStatusOffline}
	return nil
}

func (s *Store) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	s.mu.RLock()
	if err := s.checkOpen("authenticate"); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	acc, ok := s.accounts[username]
	var hash, email string
	if ok {
		hash, email = acc.hash, acc.email
	}
	s.mu.RUnlock()

	if !ok {
		return nil, merr.WrapErrAuthInvalidCredentials(username)
	}
	if err := store.CheckPassword(username, hash, password); err != nil {
		return nil, err
	}
	return &model.User{
		Username:    username,
		Email:       email,
		Status:      model.UserStatusOnline,
		AvatarColor: model.AvatarColor(username),
	}, nil
}

func (s *Store) SetStatus(ctx context.Context, username string, status model.UserStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("set status"); err != nil {
		return err
	}
	if acc, ok := s.accounts[username]; ok {
		acc.status = status
	}
	return nil
}

// Status 返回账户当前记录的状态，账户不存在时返回 false。
func (s *Store) Status(username string) (model.UserStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[username]
	if !ok {
		return model.UserStatusOffline, false
	}
	return acc.status, true
}

func (s *Store) EnqueueOffline(ctx context.Context, msg *model.Message) error {
	if msg == nil || msg.Receiver == "" {
		return merr.WrapErrParameterMissing("receiver", "offline message")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("enqueue offline"); err != nil {
		return err
	}
	s.offline[msg.Receiver] = append(s.offline[msg.Receiver], msg.Clone())
	return nil
}

func (s *Store) FetchAndClearOffline(ctx context.Context, username string) ([]*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("fetch offline"); err != nil {
		return nil, err
	}
	msgs := s.offline[username]
	delete(s.offline, username)
	return msgs, nil
}

func (s *Store) AppendHistory(ctx context.Context, msg *model.Message) error {
	if msg == nil {
		return merr.WrapErrParameterMissing("message")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("append history"); err != nil {
		return err
	}
	s.history = append(s.history, msg.Clone())
	return nil
}

// History 返回按追加顺序排列的历史消息拷贝。
func (s *Store) History() []*model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Message, 0, len(s.history))
	for _, msg := range s.history {
		out = append(out, msg.Clone())
	}
	return out
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) checkOpen(operation string) error {
	if s.closed {
		return merr.WrapErrServiceClosed("memory store", operation)
	}
	return nil
}
