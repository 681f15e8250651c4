// Package postgres implements the channelmesh store contracts on PostgreSQL
// through a pgx connection pool. Its idempotency ledger survives restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/channelmesh/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	instructions TEXT NOT NULL DEFAULT '',
	capability_class TEXT NOT NULL DEFAULT 'standard',
	model_provider TEXT NOT NULL DEFAULT '',
	model_name TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_name ON agents (lower(name));

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
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_channel_order ON messages (channel_id, created_at, id);

CREATE TABLE IF NOT EXISTS processed_triggers (
	key TEXT PRIMARY KEY,
	claimed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store handles PostgreSQL database operations.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store with a connection pool and applies the schema.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	s := &Store{pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

// Migrate creates missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Insert implements core.MessageStore.
func (s *Store) Insert(ctx context.Context, msg core.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (id, channel_id, author_kind, author_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ChannelID, string(msg.AuthorKind), msg.AuthorID, msg.Content, msg.CreatedAt)
	return err
}

// Update implements core.MessageStore.
func (s *Store) Update(ctx context.Context, id, content string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE messages SET content = $2 WHERE id = $1`, id, content)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrMessageNotFound
	}
	return nil
}

// ChannelOf implements core.MessageLocator.
func (s *Store) ChannelOf(ctx context.Context, id string) (string, error) {
	var channelID string
	err := s.pool.QueryRow(ctx, `SELECT channel_id FROM messages WHERE id = $1`, id).Scan(&channelID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", core.ErrMessageNotFound
	}
	return channelID, err
}

// ListHistory implements core.MessageStore.
func (s *Store) ListHistory(ctx context.Context, channelID string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		rows, err := s.pool.Query(ctx, `
			SELECT id, channel_id, author_kind, author_id, content, created_at
			FROM messages WHERE channel_id = $1
			ORDER BY created_at, id
		`, channelID)
		if err != nil {
			return nil, err
		}
		return collectMessages(rows)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, channel_id, author_kind, author_id, content, created_at FROM (
			SELECT id, channel_id, author_kind, author_id, content, created_at
			FROM messages WHERE channel_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at, id
	`, channelID, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// SearchMessages implements core.MessageSearcher with a case-insensitive
// substring match, newest first.
func (s *Store) SearchMessages(ctx context.Context, channelID, query string, limit int) ([]core.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, channel_id, author_kind, author_id, content, created_at
		FROM messages
		WHERE channel_id = $1 AND content ILIKE '%' || $2 || '%'
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, channelID, escapeLike(query), limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

func escapeLike(q string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
}

func collectMessages(rows pgx.Rows) ([]core.Message, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Message, error) {
		var (
			m    core.Message
			kind string
		)
		err := row.Scan(&m.ID, &m.ChannelID, &kind, &m.AuthorID, &m.Content, &m.CreatedAt)
		m.AuthorKind = core.AuthorKind(kind)
		return m, err
	})
}

// GetAgent implements core.AgentDirectory.
func (s *Store) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, description, instructions, capability_class, model_provider, model_name
		FROM agents WHERE id = $1
	`, id)
	a, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrAgentNotFound
		}
		return nil, err
	}
	return a, nil
}

// ListChannelAgents implements core.AgentDirectory.
func (s *Store) ListChannelAgents(ctx context.Context, channelID, excludingID string) ([]core.Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT a.id, a.name, a.description, a.instructions, a.capability_class, a.model_provider, a.model_name
		FROM channel_members m
		JOIN agents a ON a.id = m.member_id
		WHERE m.channel_id = $1 AND m.member_kind = 'agent' AND a.id <> $2
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

func scanAgent(row pgx.Row) (*core.Agent, error) {
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
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, name, description, instructions, capability_class, model_provider, model_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, agent.ID, agent.Name, agent.Description, agent.Instructions, string(agent.Class), agent.ModelConfig.Provider, agent.ModelConfig.Model)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return core.ErrAgentNameTaken
	}
	return err
}

// AddMember implements core.ChannelAdmin.
func (s *Store) AddMember(ctx context.Context, member core.ChannelMember) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO channel_members (channel_id, member_kind, member_id)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, member.ChannelID, string(member.Kind), member.MemberID)
	return err
}

// ListChannelMembers implements core.ChannelAdmin.
func (s *Store) ListChannelMembers(ctx context.Context, channelID string) ([]core.ChannelMember, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT channel_id, member_kind, member_id
		FROM channel_members WHERE channel_id = $1
		ORDER BY member_kind, member_id
	`, channelID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.ChannelMember, error) {
		var (
			m    core.ChannelMember
			kind string
		)
		err := row.Scan(&m.ChannelID, &kind, &m.MemberID)
		m.Kind = core.MemberKind(kind)
		return m, err
	})
}

// Claim implements core.IdempotencyLedger.
func (s *Store) Claim(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO processed_triggers (key) VALUES ($1)
		ON CONFLICT (key) DO NOTHING
	`, key)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
