package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/trace"
)

const createSSHUserTable = `
CREATE TABLE IF NOT EXISTS ssh_users (
	id            BIGSERIAL   PRIMARY KEY,
	username      TEXT        NOT NULL UNIQUE,
	fingerprint   TEXT        NOT NULL UNIQUE,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_login_at TIMESTAMPTZ
);
`

// SSHUser is an operator allowed to open the terminal dashboard.
type SSHUser struct {
	ID          int64
	Username    string
	Fingerprint string
	LastLoginAt *time.Time
}

// SSHUserRepository authenticates dashboard sessions by public key
// fingerprint.
type SSHUserRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewSSHUserRepository(pool PgxPool, tracer trace.Tracer) *SSHUserRepository {
	return &SSHUserRepository{pool: pool, tracer: tracer}
}

func (r *SSHUserRepository) RunMigrations(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "ssh-user-repo.migrate")
	defer span.End()

	_, err := r.pool.Exec(ctx, createSSHUserTable)
	return err
}

// FindByFingerprint returns nil without an error when no user matches.
func (r *SSHUserRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*SSHUser, error) {
	ctx, span := r.tracer.Start(ctx, "ssh-user-repo.find-by-fingerprint")
	defer span.End()

	var u SSHUser
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, fingerprint, last_login_at
		 FROM ssh_users WHERE fingerprint = $1`,
		fingerprint,
	).Scan(&u.ID, &u.Username, &u.Fingerprint, &u.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *SSHUserRepository) UpdateLastLogin(ctx context.Context, id int64) error {
	ctx, span := r.tracer.Start(ctx, "ssh-user-repo.update-last-login")
	defer span.End()

	_, err := r.pool.Exec(ctx, `UPDATE ssh_users SET last_login_at = now() WHERE id = $1`, id)
	return err
}

// Register inserts a user or refreshes the fingerprint for an existing
// username.
func (r *SSHUserRepository) Register(ctx context.Context, username, fingerprint string) (*SSHUser, error) {
	ctx, span := r.tracer.Start(ctx, "ssh-user-repo.register")
	defer span.End()

	var u SSHUser
	err := r.pool.QueryRow(ctx,
		`INSERT INTO ssh_users (username, fingerprint)
		 VALUES ($1, $2)
		 ON CONFLICT (username) DO UPDATE SET fingerprint = EXCLUDED.fingerprint
		 RETURNING id, username, fingerprint, last_login_at`,
		username, fingerprint,
	).Scan(&u.ID, &u.Username, &u.Fingerprint, &u.LastLoginAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
