package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage is the canonical transactional [Storage] backend.
//
// Expected schema:
//
//	CREATE TABLE refresh_tokens (
//	    id         UUID PRIMARY KEY,
//	    token      TEXT NOT NULL UNIQUE,
//	    owner_id   TEXT NOT NULL,
//	    ip         TEXT NOT NULL DEFAULT '',
//	    user_agent TEXT NOT NULL DEFAULT '',
//	    created_at TIMESTAMPTZ NOT NULL,
//	    expires_at TIMESTAMPTZ NOT NULL,
//	    revoked    BOOLEAN NOT NULL DEFAULT FALSE
//	);
//	CREATE INDEX refresh_tokens_owner_idx ON refresh_tokens (owner_id);
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage creates a [PostgresStorage] over an existing pool.
func NewPostgresStorage(pool *pgxpool.Pool) *PostgresStorage {
	return &PostgresStorage{pool: pool}
}

const refreshColumns = "id, token, owner_id, ip, user_agent, created_at, expires_at, revoked"

func scanToken(row pgx.Row) (*Token, error) {
	var tok Token
	err := row.Scan(
		&tok.ID, &tok.Token, &tok.OwnerID, &tok.IP, &tok.UserAgent,
		&tok.CreatedAt, &tok.ExpiresAt, &tok.Revoked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &tok, nil
}

// Insert implements [Storage].
func (p *PostgresStorage) Insert(ctx context.Context, tok *Token) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (`+refreshColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		tok.ID, tok.Token, tok.OwnerID, tok.IP, tok.UserAgent,
		tok.CreatedAt, tok.ExpiresAt, tok.Revoked,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get implements [Storage].
func (p *PostgresStorage) Get(ctx context.Context, token string) (*Token, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT `+refreshColumns+`
		FROM refresh_tokens
		WHERE token = $1`, token)
	return scanToken(row)
}

// Consume implements [Storage]. The guarded UPDATE is the atomicity
// point: only one caller can flip an alive row, everyone else falls
// through to the classifying SELECT.
func (p *PostgresStorage) Consume(ctx context.Context, token string, now time.Time) (*Token, error) {
	row := p.pool.QueryRow(ctx, `
		UPDATE refresh_tokens
		SET revoked = TRUE
		WHERE token = $1 AND NOT revoked AND expires_at > $2
		RETURNING `+refreshColumns, token, now)

	tok, err := scanToken(row)
	if err == nil {
		tok.Revoked = false
		return tok, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// The guarded update matched nothing; fetch the row to say why.
	tok, err = p.Get(ctx, token)
	if err != nil {
		return nil, err
	}
	if tok.Revoked {
		return tok, ErrRevoked
	}
	if !now.Before(tok.ExpiresAt) {
		return nil, ErrExpired
	}
	// Raced with a concurrent consume that committed between our two
	// statements. Treat it as the revoked case.
	tok.Revoked = true
	return tok, ErrRevoked
}

// Revoke implements [Storage]. Idempotent.
func (p *PostgresStorage) Revoke(ctx context.Context, token string) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE token = $1 AND NOT revoked`, token)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// RevokeAllForOwner implements [Storage].
func (p *PostgresStorage) RevokeAllForOwner(ctx context.Context, ownerID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked = TRUE
		WHERE owner_id = $1 AND NOT revoked`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

// ActiveForOwner implements [Storage].
func (p *PostgresStorage) ActiveForOwner(ctx context.Context, ownerID string, now time.Time) ([]*Token, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+refreshColumns+`
		FROM refresh_tokens
		WHERE owner_id = $1 AND NOT revoked AND expires_at > $2
		ORDER BY created_at ASC`, ownerID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var active []*Token
	for rows.Next() {
		var tok Token
		err := rows.Scan(
			&tok.ID, &tok.Token, &tok.OwnerID, &tok.IP, &tok.UserAgent,
			&tok.CreatedAt, &tok.ExpiresAt, &tok.Revoked,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		active = append(active, &tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return active, nil
}

// PurgeDefunct implements [Storage].
func (p *PostgresStorage) PurgeDefunct(ctx context.Context, now time.Time) (int, error) {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM refresh_tokens
		WHERE revoked OR expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}
