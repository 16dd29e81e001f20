package sessionrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yanqian/paper-synthesizer/internal/domain/analysis"
)

const schema = `
CREATE TABLE IF NOT EXISTS analysis_sessions (
	id UUID PRIMARY KEY,
	state TEXT NOT NULL,
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

// PostgresRepository persists sessions as JSONB documents.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the sessions table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create analysis_sessions: %w", err)
	}
	return nil
}

// Create inserts a new session row.
func (r *PostgresRepository) Create(ctx context.Context, session analysis.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO analysis_sessions (id, state, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, session.ID, session.State.String(), payload, session.CreatedAt, session.UpdatedAt)
	return err
}

// Get fetches a session by id.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (analysis.Session, bool, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, `
		SELECT payload
		FROM analysis_sessions
		WHERE id = $1
	`, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return analysis.Session{}, false, nil
	}
	if err != nil {
		return analysis.Session{}, false, err
	}
	var session analysis.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return analysis.Session{}, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return session, true, nil
}

// Save overwrites the stored session.
func (r *PostgresRepository) Save(ctx context.Context, session analysis.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE analysis_sessions
		SET state = $2, payload = $3, updated_at = $4
		WHERE id = $1
	`, session.ID, session.State.String(), payload, session.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s not found", session.ID)
	}
	return nil
}

var _ analysis.Store = (*PostgresRepository)(nil)
