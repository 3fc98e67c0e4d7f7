package store

import (
	"context"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
)

// AuthStore 是账户凭据的外部存储。
//
// 错误约定：
//   - 凭据不匹配或用户不存在返回 merr.ErrAuthInvalidCredentials；
//   - 用户名已被占用返回 merr.ErrAuthUsernameTaken；
//   - 存储本身不可用返回 merr.ErrStoreUnavailable（可重试）。
type AuthStore interface {
	// CreateAccount 创建账户，密码只以哈希形式保存。
	CreateAccount(ctx context.Context, username, password, email string) error

	// Authenticate 校验凭据并返回账户记录。
	Authenticate(ctx context.Context, username, password string) (*model.User, error)

	// SetStatus 更新账户的在线状态，账户不存在时不报错。
	SetStatus(ctx context.Context, username string, status model.UserStatus) error
}

// MessageStore 是离线消息与聊天历史的外部存储。
type MessageStore interface {
	// EnqueueOffline 为 msg.Receiver 保存一条待投递消息。
	EnqueueOffline(ctx context.Context, msg *model.Message) error

	// FetchAndClearOffline 按入队顺序取出 username 的全部待投递消息并标记为已投递。
	FetchAndClearOffline(ctx context.Context, username string) ([]*model.Message, error)

	// AppendHistory 追加一条聊天历史，调用方只做尽力而为的处理。
	AppendHistory(ctx context.Context, msg *model.Message) error
}

// Store 同时提供账户与消息能力，由 application 按配置创建。
type Store interface {
	AuthStore
	MessageStore

	// Close 释放底层资源。
	Close() error
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)
