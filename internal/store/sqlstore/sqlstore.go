package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-chat/internal/model"
	"github.com/lk2023060901/danmu-garden-chat/internal/store"
	"github.com/lk2023060901/danmu-garden-chat/pkg/log"
	"github.com/lk2023060901/danmu-garden-chat/pkg/util/merr"
)

// Config 描述 SQL 存储的连接参数。
type Config struct {
	Driver     string
	DSN        string
	BcryptCost int

	// ConnectAttempts 为首次连通性检查的最大重试次数，0 表示使用默认值。
	ConnectAttempts uint64
	MaxOpenConns    int
}

const (
	defaultConnectAttempts = 5
	defaultMaxOpenConns    = 10
)

// Store 是基于 database/sql 的 store.Store 实现，支持 SQLite 与 Postgres。
type Store struct {
	log.Binder

	db      *sql.DB
	dialect dialect
	cost    int
}

var _ store.Store = (*Store)(nil)

// Open 打开数据库，带退避地等待其可用，并执行建表。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, merr.WrapErrParameterInvalidMsg("%s", err.Error())
	}
	if cfg.DSN == "" {
		return nil, merr.WrapErrParameterMissing("store.dsn")
	}

	db, err := sql.Open(d.driverName, cfg.DSN)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", d.name)
	}
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	// SQLite 只允许一个写者，单连接同时让 PRAGMA 设置对后续语句始终生效。
	if d.name == store.DriverSQLite {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, dialect: d, cost: cfg.BcryptCost}
	s.BindModule("store", zap.String("driver", d.name))

	attempts := cfg.ConnectAttempts
	if attempts == 0 {
		attempts = defaultConnectAttempts
	}
	if err := s.ping(ctx, attempts); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.Logger().Info("sql store ready")
	return s, nil
}

func (s *Store) ping(ctx context.Context, attempts uint64) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0

	op := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return s.db.PingContext(pingCtx)
	}
	notify := func(err error, next time.Duration) {
		s.Logger().Warn("database not reachable, wait for retry...", zap.Error(err), zap.Duration("nextBackoffInterval", next))
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(backoff.WithMaxRetries(b, attempts), ctx), notify); err != nil {
		return merr.WrapErrStoreUnavailable("ping", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.setup {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migrate: %s", stmt)
		}
	}
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) CreateAccount(ctx context.Context, username, password, email string) error {
	if err := store.ValidateCredentials(username, password); err != nil {
		return err
	}
	hash, err := store.HashPassword(password, s.cost)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx,
		`INSERT INTO users (username, password_hash, email, avatar_color, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		username, hash, email, model.AvatarColor(username), model.UserStatusOffline.String(), model.Now().UnixNano())
	if err != nil {
		if s.dialect.unique(err) {
			return merr.WrapErrAuthUsernameTaken(username)
		}
		return merr.WrapErrStoreUnavailable("create account", err)
	}
	return nil
}

func (s *Store) Authenticate(ctx context.Context, username, password string) (*model.User, error) {
	var (
		hash string
		u    = model.User{Username: username}
	)
	row := s.db.QueryRowContext(ctx,
		s.dialect.rebind(`SELECT password_hash, email, avatar_color FROM users WHERE username = ?`), username)
	if err := row.Scan(&hash, &u.Email, &u.AvatarColor); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, merr.WrapErrAuthInvalidCredentials(username)
		}
		return nil, merr.WrapErrStoreUnavailable("authenticate", err)
	}
	if err := store.CheckPassword(username, hash, password); err != nil {
		return nil, err
	}
	u.Status = model.UserStatusOnline
	return &u, nil
}

func (s *Store) SetStatus(ctx context.Context, username string, status model.UserStatus) error {
	if _, err := s.exec(ctx, `UPDATE users SET status = ? WHERE username = ?`, status.String(), username); err != nil {
		return merr.WrapErrStoreUnavailable("set status", err)
	}
	return nil
}

// Status 查询账户记录的在线状态。
func (s *Store) Status(ctx context.Context, username string) (model.UserStatus, error) {
	var name string
	row := s.db.QueryRowContext(ctx, s.dialect.rebind(`SELECT status FROM users WHERE username = ?`), username)
	if err := row.Scan(&name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.UserStatusOffline, merr.WrapErrParameterInvalidMsg("unknown user %q", username)
		}
		return model.UserStatusOffline, merr.WrapErrStoreUnavailable("get status", err)
	}
	return model.ParseUserStatus(name)
}

func (s *Store) EnqueueOffline(ctx context.Context, msg *model.Message) error {
	if msg == nil || msg.Receiver == "" {
		return merr.WrapErrParameterMissing("receiver", "offline message")
	}
	_, err := s.exec(ctx,
		`INSERT INTO offline_messages
			(message_id, sender_username, receiver_username, message_type, content, file_name, file_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Sender, msg.Receiver, msg.Type.String(), msg.Content, msg.FileName, msg.FileData, unixNano(msg.Timestamp))
	if err != nil {
		return merr.WrapErrStoreUnavailable("enqueue offline", err)
	}
	return nil
}

// FetchAndClearOffline 在一个事务内读出未投递消息并将其标记为已投递。
func (s *Store) FetchAndClearOffline(ctx context.Context, username string) (msgs []*model.Message, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, merr.WrapErrStoreUnavailable("fetch offline", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, s.dialect.rebind(
		`SELECT id, message_id, sender_username, receiver_username, message_type, content, file_name, file_data, created_at
		FROM offline_messages WHERE receiver_username = ? AND delivered = FALSE ORDER BY id`), username)
	if err != nil {
		return nil, merr.WrapErrStoreUnavailable("fetch offline", err)
	}
	var lastID int64
	for rows.Next() {
		var (
			msg      model.Message
			typeName string
			created  int64
		)
		if err = rows.Scan(&lastID, &msg.ID, &msg.Sender, &msg.Receiver, &typeName,
			&msg.Content, &msg.FileName, &msg.FileData, &created); err != nil {
			_ = rows.Close()
			return nil, merr.WrapErrStoreUnavailable("fetch offline", err)
		}
		if msg.Type, err = model.ParseMessageType(typeName); err != nil {
			_ = rows.Close()
			return nil, err
		}
		msg.Timestamp = fromUnixNano(created)
		msgs = append(msgs, &msg)
	}
	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return nil, merr.WrapErrStoreUnavailable("fetch offline", err)
	}
	_ = rows.Close()
	if len(msgs) == 0 {
		return nil, tx.Commit()
	}

	if _, err = tx.ExecContext(ctx, s.dialect.rebind(
		`UPDATE offline_messages SET delivered = TRUE WHERE receiver_username = ? AND delivered = FALSE AND id <= ?`),
		username, lastID); err != nil {
		return nil, merr.WrapErrStoreUnavailable("clear offline", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, merr.WrapErrStoreUnavailable("clear offline", err)
	}
	return msgs, nil
}

func (s *Store) AppendHistory(ctx context.Context, msg *model.Message) error {
	if msg == nil {
		return merr.WrapErrParameterMissing("message")
	}
	_, err := s.exec(ctx,
		`INSERT INTO chat_history
			(message_id, sender_username, receiver_username, message_type, content, file_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Sender, msg.Receiver, msg.Type.String(), msg.Content, msg.FileName, unixNano(msg.Timestamp))
	if err != nil {
		return merr.WrapErrStoreUnavailable("append history", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
