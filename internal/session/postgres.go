package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable Store implementation backed by pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("session.NewPostgresStore: parse config: %w", err)
	}

	cfg.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("session.NewPostgresStore: connect: %w", err)
	}

	err = pool.Ping(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("session.NewPostgresStore: ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Migrate creates the session tables when absent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS acp_sessions (
			id                   TEXT PRIMARY KEY,
			title                TEXT NOT NULL DEFAULT '',
			created_at           TIMESTAMPTZ NOT NULL,
			updated_at           TIMESTAMPTZ NOT NULL,
			message_count        INT NOT NULL DEFAULT 0,
			agent_name           TEXT NOT NULL DEFAULT '',
			ws_url               TEXT NOT NULL DEFAULT '',
			mode_id              TEXT NOT NULL DEFAULT '',
			model_id             TEXT NOT NULL DEFAULT '',
			last_message_preview TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS acp_session_messages (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES acp_sessions(id) ON DELETE CASCADE,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_session_messages_session
			ON acp_session_messages (session_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("session.PostgresStore.Migrate: %w", err)
	}

	return nil
}

func (s *PostgresStore) Create(ctx context.Context, data *Data) error {
	record := cloneData(data)
	if record.Metadata.CreatedAt.IsZero() {
		record.Metadata.CreatedAt = time.Now()
	}
	record.Metadata.UpdatedAt = record.Metadata.CreatedAt
	refreshDerived(record)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session.PostgresStore.Create: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = insertSession(ctx, tx, record)
	if err != nil {
		return fmt.Errorf("session.PostgresStore.Create: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("session.PostgresStore.Create: commit: %w", err)
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Data, error) {
	var data Data

	err := s.pool.QueryRow(ctx,
		`SELECT id, title, created_at, updated_at, message_count, agent_name, ws_url, mode_id, model_id, last_message_preview
		 FROM acp_sessions WHERE id = $1`,
		id,
	).Scan(
		&data.Metadata.ID, &data.Metadata.Title, &data.Metadata.CreatedAt, &data.Metadata.UpdatedAt,
		&data.Metadata.MessageCount, &data.Metadata.AgentName, &data.Metadata.WsURL,
		&data.Metadata.ModeID, &data.Metadata.ModelID, &data.Metadata.LastMessagePreview,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session.PostgresStore.Get %s: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session.PostgresStore.Get: %w", err)
	}

	data.Messages, err = s.listMessages(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session.PostgresStore.Get: %w", err)
	}

	return &data, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Metadata, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, created_at, updated_at, message_count, agent_name, ws_url, mode_id, model_id, last_message_preview
		 FROM acp_sessions ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("session.PostgresStore.List: %w", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		var m Metadata

		err = rows.Scan(
			&m.ID, &m.Title, &m.CreatedAt, &m.UpdatedAt, &m.MessageCount,
			&m.AgentName, &m.WsURL, &m.ModeID, &m.ModelID, &m.LastMessagePreview,
		)
		if err != nil {
			return nil, fmt.Errorf("session.PostgresStore.List: scan: %w", err)
		}
		out = append(out, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("session.PostgresStore.List: rows: %w", err)
	}

	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM acp_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("session.PostgresStore.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session.PostgresStore.Delete %s: %w", id, ErrSessionNotFound)
	}

	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session.PostgresStore.AppendMessage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE acp_sessions SET message_count = message_count + 1, updated_at = $2 WHERE id = $1`,
		sessionID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("session.PostgresStore.AppendMessage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Unknown ids are tolerated: a message may arrive after its
		// session was torn down.
		return nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO acp_session_messages (id, session_id, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, sessionID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("session.PostgresStore.AppendMessage: insert: %w", err)
	}

	if msg.Role == RoleUser {
		_, err = tx.Exec(ctx,
			`UPDATE acp_sessions
			 SET last_message_preview = $2,
			     title = CASE WHEN title = '' OR title = 'New Session' THEN $3 ELSE title END
			 WHERE id = $1`,
			sessionID, DerivePreview(msg.Content), DeriveTitle(msg.Content),
		)
		if err != nil {
			return fmt.Errorf("session.PostgresStore.AppendMessage: derive: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("session.PostgresStore.AppendMessage: commit: %w", err)
	}

	return nil
}

func (s *PostgresStore) ClearMessages(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session.PostgresStore.ClearMessages: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `DELETE FROM acp_session_messages WHERE session_id = $1`, id)
	if err != nil {
		return fmt.Errorf("session.PostgresStore.ClearMessages: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE acp_sessions SET message_count = 0, last_message_preview = '' WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("session.PostgresStore.ClearMessages: reset: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("session.PostgresStore.ClearMessages: commit: %w", err)
	}

	return nil
}

func (s *PostgresStore) UpdateMetadata(ctx context.Context, meta Metadata) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE acp_sessions
		 SET title = $2, agent_name = $3, ws_url = $4, mode_id = $5, model_id = $6, updated_at = $7
		 WHERE id = $1`,
		meta.ID, meta.Title, meta.AgentName, meta.WsURL, meta.ModeID, meta.ModelID, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("session.PostgresStore.UpdateMetadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session.PostgresStore.UpdateMetadata %s: %w", meta.ID, ErrSessionNotFound)
	}

	return nil
}

func (s *PostgresStore) Copy(ctx context.Context, sourceID, newID, titleSuffix string) (*Data, error) {
	source, err := s.Get(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("session.PostgresStore.Copy: %w", err)
	}

	record := cloneData(source)
	record.Metadata.ID = newID
	record.Metadata.Title = source.Metadata.Title + titleSuffix
	now := time.Now()
	record.Metadata.CreatedAt = now
	record.Metadata.UpdatedAt = now
	for i := range record.Messages {
		// Message rows need fresh primary keys in the copy.
		record.Messages[i].ID = uuid.NewString()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("session.PostgresStore.Copy: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = insertSession(ctx, tx, record)
	if err != nil {
		return nil, fmt.Errorf("session.PostgresStore.Copy: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("session.PostgresStore.Copy: commit: %w", err)
	}

	return record, nil
}

func (s *PostgresStore) listMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, created_at
		 FROM acp_session_messages WHERE session_id = $1
		 ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message

		err = rows.Scan(&m.ID, &m.Role, &m.Content, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("messages: scan: %w", err)
		}
		out = append(out, m)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("messages: rows: %w", err)
	}

	return out, nil
}

func insertSession(ctx context.Context, tx pgx.Tx, record *Data) error {
	meta := record.Metadata
	_, err := tx.Exec(ctx,
		`INSERT INTO acp_sessions (id, title, created_at, updated_at, message_count, agent_name, ws_url, mode_id, model_id, last_message_preview)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		meta.ID, meta.Title, meta.CreatedAt, meta.UpdatedAt, meta.MessageCount,
		meta.AgentName, meta.WsURL, meta.ModeID, meta.ModelID, meta.LastMessagePreview,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	for _, msg := range record.Messages {
		_, err = tx.Exec(ctx,
			`INSERT INTO acp_session_messages (id, session_id, role, content, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			msg.ID, meta.ID, msg.Role, msg.Content, msg.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return nil
}
