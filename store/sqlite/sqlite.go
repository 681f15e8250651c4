// Package sqlite implements the channelmesh store contracts on an embedded
// SQLite database. It suits single-node deployments; the idempotency ledger
// is durable across restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hupe1980/channelmesh/core"
)

// Store handles SQLite database operations.
type Store struct {
	db *sql.DB
}

// New opens the database at dbPath, creating it and its schema if needed.
// If dbPath is empty, defaults to "./data/channelmesh.db"
func New(ctx context.Context, dbPath string) (*Store, error) {
	if dbPath == "" {
		dbPath = "./data/channelmesh.db"
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		instructions TEXT NOT NULL DEFAULT '',
		capability_class TEXT NOT NULL DEFAULT 'standard',
		model_provider TEXT NOT NULL DEFAULT '',
		model_name TEXT NOT NULL DEFAULT ''
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_name ON agents (name COLLATE NOCASE);

	CREATE TABLE IF NOT EXISTS channel_members (
		channel_id TEXT NOT NULL,
		member_kind TEXT NOT NULL,
		member_id TEXT NOT NULL,
		PRIMARY KEY (channel_id, member_kind, member_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		channel_id TEXT NOT NULL,
		author_kind TEXT NOT NULL,
		author_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_channel_order ON messages (channel_id, created_at, id);

	CREATE TABLE IF NOT EXISTS processed_triggers (
		key TEXT PRIMARY KEY,
		claimed_at INTEGER NOT NULL
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert implements core.MessageStore. Timestamps are stored as Unix nanoseconds.
func (s *Store) Insert(ctx context.Context, msg core.Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, channel_id, author_kind, author_id, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChannelID, string(msg.AuthorKind), msg.AuthorID, msg.Content, msg.CreatedAt.UnixNano())
	return err
}

// Update implements core.MessageStore.
func (s *Store) Update(ctx context.Context, id, content string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrMessageNotFound
	}
	return nil
}

// ChannelOf implements core.MessageLocator.
func (s *Store) ChannelOf(ctx context.Context, id string) (string, error) {
	var channelID string
	err := s.db.QueryRowContext(ctx, `SELECT channel_id FROM messages WHERE id = ?`, id).Scan(&channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", core.ErrMessageNotFound
	}
	return channelID, err
}

// ListHistory implements core.MessageStore.
func (s *Store) ListHistory(ctx context.Context, channelID string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, author_kind, author_id, content, created_at FROM (
			SELECT id, channel_id, author_kind, author_id, content, created_at
			FROM messages WHERE channel_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		) ORDER BY created_at, id
	`, channelID, limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

// SearchMessages implements core.MessageSearcher, newest first.
func (s *Store) SearchMessages(ctx context.Context, channelID, query string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, author_kind, author_id, content, created_at
		FROM messages
		WHERE channel_id = ? AND instr(lower(content), ?) > 0
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, channelID, strings.ToLower(query), limit)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]core.Message, error) {
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		var (
			m    core.Message
			kind string
			ts   int64
		)
		if err := rows.Scan(&m.ID, &m.ChannelID, &kind, &m.AuthorID, &m.Content, &ts); err != nil {
			return nil, err
		}
		m.AuthorKind = core.AuthorKind(kind)
		m.CreatedAt = time.Unix(0, ts).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetAgent implements core.AgentDirectory.
func (s *Store) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, instructions, capability_class, model_provider, model_name
		FROM agents WHERE id = ?
	`, id)
	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrAgentNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListChannelAgents implements core.AgentDirectory.
func (s *Store) ListChannelAgents(ctx context.Context, channelID, excludingID string) ([]core.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.name, a.description, a.instructions, a.capability_class, a.model_provider, a.model_name
		FROM channel_members m
		JOIN agents a ON a.id = m.member_id
		WHERE m.channel_id = ? AND m.member_kind = 'agent' AND a.id <> ?
		ORDER BY lower(a.name)
	`, channelID, excludingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*core.Agent, error) {
	var (
		a     core.Agent
		class string
	)
	if err := row.Scan(&a.ID, &a.Name, &a.Description, &a.Instructions, &class, &a.ModelConfig.Provider, &a.ModelConfig.Model); err != nil {
		return nil, err
	}
	a.Class = core.CapabilityClass(class)
	return &a, nil
}

// CreateAgent implements core.ChannelAdmin.
func (s *Store) CreateAgent(ctx context.Context, agent core.Agent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, description, instructions, capability_class, model_provider, model_name)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, agent.ID, agent.Name, agent.Description, agent.Instructions, string(agent.Class), agent.ModelConfig.Provider, agent.ModelConfig.Model)

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return core.ErrAgentNameTaken
	}
	return err
}

// AddMember implements core.ChannelAdmin.
func (s *Store) AddMember(ctx context.Context, member core.ChannelMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO channel_members (channel_id, member_kind, member_id)
		VALUES (?, ?, ?)
	`, member.ChannelID, string(member.Kind), member.MemberID)
	return err
}

// ListChannelMembers implements core.ChannelAdmin.
func (s *Store) ListChannelMembers(ctx context.Context, channelID string) ([]core.ChannelMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT channel_id, member_kind, member_id
		FROM channel_members WHERE channel_id = ?
		ORDER BY member_kind, member_id
	`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ChannelMember
	for rows.Next() {
		var (
			m    core.ChannelMember
			kind string
		)
		if err := rows.Scan(&m.ChannelID, &kind, &m.MemberID); err != nil {
			return nil, err
		}
		m.Kind = core.MemberKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

// Claim implements core.IdempotencyLedger.
func (s *Store) Claim(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_triggers (key, claimed_at) VALUES (?, ?)
	`, key, time.Now().UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
