package lockout

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is the transactional [Repository]. Mutate serializes
// per credential with SELECT ... FOR UPDATE, so concurrent failure
// transitions on one credential queue behind the row lock instead of losing
// increments.
//
// Expected schema:
//
//	CREATE TABLE credentials (
//	    id              TEXT PRIMARY KEY,
//	    identifier      TEXT NOT NULL UNIQUE,
//	    username        TEXT NOT NULL,
//	    email           TEXT NOT NULL,
//	    role            TEXT NOT NULL,
//	    password_hash   TEXT NOT NULL,
//	    active          BOOLEAN NOT NULL DEFAULT TRUE,
//	    email_verified  BOOLEAN NOT NULL DEFAULT FALSE,
//	    failed_attempts INTEGER NOT NULL DEFAULT 0,
//	    locked_until    TIMESTAMPTZ,
//	    last_login_at   TIMESTAMPTZ,
//	    last_login_ip   TEXT NOT NULL DEFAULT ''
//	);
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const credentialColumns = `id, identifier, username, email, role, password_hash,
	active, email_verified, failed_attempts, locked_until, last_login_at, last_login_ip`

func scanCredential(row pgx.Row) (Credential, error) {
	var cred Credential
	err := row.Scan(
		&cred.ID,
		&cred.Identifier,
		&cred.Username,
		&cred.Email,
		&cred.Role,
		&cred.PasswordHash,
		&cred.Active,
		&cred.EmailVerified,
		&cred.FailedAttempts,
		&cred.LockedUntil,
		&cred.LastLoginAt,
		&cred.LastLoginIP,
	)
	return cred, err
}

func (r *PostgresRepository) FindByIdentifier(ctx context.Context, identifier string) (Credential, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE identifier = $1`,
		identifier)

	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("query credential: %w", err)
	}
	return cred, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (Credential, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = $1`,
		id)

	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("query credential: %w", err)
	}
	return cred, nil
}

func (r *PostgresRepository) Create(ctx context.Context, cred Credential) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		cred.ID,
		cred.Identifier,
		cred.Username,
		cred.Email,
		cred.Role,
		cred.PasswordHash,
		cred.Active,
		cred.EmailVerified,
		cred.FailedAttempts,
		cred.LockedUntil,
		cred.LastLoginAt,
		cred.LastLoginIP,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Mutate(ctx context.Context, id string, fn func(Credential) (Credential, error)) (Credential, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = $1 FOR UPDATE`,
		id)

	current, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, ErrNotFound
		}
		return Credential{}, fmt.Errorf("lock credential: %w", err)
	}

	next, err := fn(current)
	if err != nil {
		return Credential{}, err
	}
	next.ID = id

	if _, err := tx.Exec(ctx, `
		UPDATE credentials SET
			identifier = $2,
			username = $3,
			email = $4,
			role = $5,
			password_hash = $6,
			active = $7,
			email_verified = $8,
			failed_attempts = $9,
			locked_until = $10,
			last_login_at = $11,
			last_login_ip = $12
		WHERE id = $1
	`,
		next.ID,
		next.Identifier,
		next.Username,
		next.Email,
		next.Role,
		next.PasswordHash,
		next.Active,
		next.EmailVerified,
		next.FailedAttempts,
		next.LockedUntil,
		next.LastLoginAt,
		next.LastLoginIP,
	); err != nil {
		return Credential{}, fmt.Errorf("update credential: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Credential{}, fmt.Errorf("commit transaction: %w", err)
	}
	return next, nil
}
