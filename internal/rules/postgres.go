package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const policySchema = `
CREATE TABLE IF NOT EXISTS policy_documents (
	key        TEXT        NOT NULL,
	version    TEXT        NOT NULL,
	body       TEXT        NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (key, version)
);
`

// ErrNoDocument is returned when the store has no document for a key.
var ErrNoDocument = errors.New("no policy document stored")

// PostgresSource reads rule documents from the policy_documents table.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresSource, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to policy store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging policy store: %w", err)
	}
	return &PostgresSource{pool: pool}, nil
}

func (s *PostgresSource) Name() string { return "postgres" }

// Close releases the pool.
func (s *PostgresSource) Close() {
	s.pool.Close()
}

// Migrate creates the policy_documents table.
func (s *PostgresSource) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, policySchema); err != nil {
		return fmt.Errorf("migrating policy store: %w", err)
	}
	return nil
}

// Fetch loads the newest version stored under key.
func (s *PostgresSource) Fetch(ctx context.Context, key string) (*Set, error) {
	var version, body string
	err := s.pool.QueryRow(ctx,
		`SELECT version, body FROM policy_documents WHERE key = $1 ORDER BY version DESC LIMIT 1`,
		key,
	).Scan(&version, &body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w for key %q", ErrNoDocument, key)
	}
	if err != nil {
		return nil, fmt.Errorf("querying policy document: %w", err)
	}
	set, err := Parse([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("policy document %s@%s: %w", key, version, err)
	}
	if set.Version != version {
		return nil, fmt.Errorf("policy document %s: row version %q does not match body version %q", key, version, set.Version)
	}
	return set, nil
}

// Put validates body and stores it as a new version under key. Storing the
// same version twice replaces the body.
func (s *PostgresSource) Put(ctx context.Context, key string, body []byte) (string, error) {
	set, err := Parse(body)
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO policy_documents (key, version, body) VALUES ($1, $2, $3)
		ON CONFLICT (key, version) DO UPDATE SET body = EXCLUDED.body, created_at = now()`,
		key, set.Version, string(body))
	if err != nil {
		return "", fmt.Errorf("storing policy document: %w", err)
	}
	return set.Version, nil
}
