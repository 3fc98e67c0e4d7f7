package sqlstore

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/lk2023060901/danmu-garden-chat/internal/store"
)

// dialect 收敛 SQLite 与 Postgres 之间的差异。
type dialect struct {
	name       string
	driverName string
	// numbered 为 true 时占位符使用 $1, $2 ...
	numbered bool
	// setup 在建表前执行，每个连接生效的设置依赖 MaxOpenConns。
	setup  []string
	schema []string
	unique func(err error) bool
}

var sqliteDialect = dialect{
	name:       store.DriverSQLite,
	driverName: "sqlite",
	setup: []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	},
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			username      TEXT    PRIMARY KEY,
			password_hash TEXT    NOT NULL,
			email         TEXT    NOT NULL DEFAULT '',
			avatar_color  TEXT    NOT NULL,
			status        TEXT    NOT NULL DEFAULT 'OFFLINE',
			created_at    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS offline_messages (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id        TEXT    NOT NULL,
			sender_username   TEXT    NOT NULL,
			receiver_username TEXT    NOT NULL,
			message_type      TEXT    NOT NULL,
			content           TEXT    NOT NULL DEFAULT '',
			file_name         TEXT    NOT NULL DEFAULT '',
			file_data         BLOB,
			created_at        INTEGER NOT NULL,
			delivered         BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_receiver ON offline_messages(receiver_username, delivered)`,
		`CREATE TABLE IF NOT EXISTS chat_history (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id        TEXT    NOT NULL,
			sender_username   TEXT    NOT NULL,
			receiver_username TEXT    NOT NULL DEFAULT '',
			message_type      TEXT    NOT NULL,
			content           TEXT    NOT NULL DEFAULT '',
			file_name         TEXT    NOT NULL DEFAULT '',
			created_at        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_created ON chat_history(created_at)`,
	},
	unique: func(err error) bool {
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return false
		}
		code := se.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	},
}

var postgresDialect = dialect{
	name:       store.DriverPostgres,
	driverName: "postgres",
	numbered:   true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			username      TEXT   PRIMARY KEY,
			password_hash TEXT   NOT NULL,
			email         TEXT   NOT NULL DEFAULT '',
			avatar_color  TEXT   NOT NULL,
			status        TEXT   NOT NULL DEFAULT 'OFFLINE',
			created_at    BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS offline_messages (
			id                BIGSERIAL PRIMARY KEY,
			message_id        TEXT    NOT NULL,
			sender_username   TEXT    NOT NULL,
			receiver_username TEXT    NOT NULL,
			message_type      TEXT    NOT NULL,
			content           TEXT    NOT NULL DEFAULT '',
			file_name         TEXT    NOT NULL DEFAULT '',
			file_data         BYTEA,
			created_at        BIGINT  NOT NULL,
			delivered         BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_receiver ON offline_messages(receiver_username, delivered)`,
		`CREATE TABLE IF NOT EXISTS chat_history (
			id                BIGSERIAL PRIMARY KEY,
			message_id        TEXT   NOT NULL,
			sender_username   TEXT   NOT NULL,
			receiver_username TEXT   NOT NULL DEFAULT '',
			message_type      TEXT   NOT NULL,
			content           TEXT   NOT NULL DEFAULT '',
			file_name         TEXT   NOT NULL DEFAULT '',
			created_at        BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_created ON chat_history(created_at)`,
	},
	unique: func(err error) bool {
		var pe *pq.Error
		if !errors.As(err, &pe) {
			return false
		}
		return pe.Code.Name() == "unique_violation"
	},
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case store.DriverSQLite:
		return sqliteDialect, nil
	case store.DriverPostgres:
		return postgresDialect, nil
	default:
		return dialect{}, errors.Newf("unsupported sql driver %q", driver)
	}
}

// rebind 把 ? 占位符改写为方言要求的形式，查询中不含字面量问号。
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] != '?' {
			b.WriteByte(query[i])
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
