package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"chat-relay/server/internal/model"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	session_id TEXT PRIMARY KEY,
	turns      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated_at ON chat_sessions(updated_at);
`

// SQLiteStore 把每个会话的轮次序列化为 JSON 存在一行里，重启后仍可恢复。
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore 打开（必要时创建）数据库文件并建表。
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite 只有一个写者。
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) ([]model.Turn, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT turns FROM chat_sessions WHERE session_id = ?`, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	var turns []model.Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("decode turns: %w", err)
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	return turns, nil
}

func (s *SQLiteStore) Save(ctx context.Context, id string, turns []model.Turn) error {
	if turns == nil {
		turns = []model.Turn{}
	}
	raw, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("encode turns: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_sessions (session_id, turns, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET turns = excluded.turns, updated_at = excluded.updated_at`,
		id, string(raw), s.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Expire(ctx context.Context, before time.Time) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	cutoff := before.UnixNano()
	rows, err := tx.QueryContext(ctx, `SELECT session_id FROM chat_sessions WHERE updated_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	var expired []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan session id: %w", err)
		}
		expired = append(expired, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE updated_at < ?`, cutoff); err != nil {
		return nil, fmt.Errorf("delete expired sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return expired, nil
}

// Close 关闭底层数据库连接。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
