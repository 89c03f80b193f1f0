package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/kumbh-rakshak/kr-backend/internal/identity/domain"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

// PostgresDirectory implements Directory against a self-hosted
// identity table, for pilot events that run without Firebase.
//
// Expected schema:
//
//	CREATE TABLE identities (
//	    id            TEXT PRIMARY KEY,
//	    email         TEXT NOT NULL UNIQUE,
//	    password_hash TEXT NOT NULL,
//	    name          TEXT NOT NULL DEFAULT '',
//	    phone         TEXT NOT NULL DEFAULT '',
//	    role          TEXT NOT NULL DEFAULT 'user',
//	    active        BOOLEAN NOT NULL DEFAULT TRUE,
//	    session_epoch BIGINT NOT NULL DEFAULT 0,
//	    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// OpenPostgresDirectory connects a pool and pings it before handing
// the directory out.
func OpenPostgresDirectory(ctx context.Context, dsn string) (*PostgresDirectory, error) {
	if dsn == "" {
		return nil, fmt.Errorf("DIRECTORY_DB_DSN is not set")
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(cctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	pctx, pcancel := context.WithTimeout(ctx, 2*time.Second)
	defer pcancel()

	if err := pool.Ping(pctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	return &PostgresDirectory{pool: pool}, nil
}

// NewPostgresDirectory wraps an existing pool.
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

// Close releases the pool.
func (p *PostgresDirectory) Close() {
	p.pool.Close()
}

func (p *PostgresDirectory) Register(ctx context.Context, creds domain.Credentials, profile domain.Profile, role domain.Role) (*domain.IdentityRecord, error) {
	if creds.Email == "" || len(creds.Password) < 6 {
		return nil, fmt.Errorf("%w: email and a password of at least 6 characters are required", domain.ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	record := &domain.IdentityRecord{
		ID:     uuid.New().String(),
		Name:   profile.Name,
		Phone:  profile.Phone,
		Email:  creds.Email,
		Role:   role,
		Active: true,
	}

	query := `
		INSERT INTO identities (id, email, password_hash, name, phone, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	err = p.pool.QueryRow(ctx, query,
		record.ID,
		record.Email,
		string(hash),
		record.Name,
		record.Phone,
		string(record.Role),
	).Scan(&record.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, domain.ErrConflict
		}
		return nil, fmt.Errorf("failed to insert identity: %w", mapPgErr(err))
	}

	return record, nil
}

func (p *PostgresDirectory) Authenticate(ctx context.Context, creds domain.Credentials) (*domain.IdentityRecord, error) {
	query := `
		SELECT id, email, password_hash, name, phone, role, active, created_at
		FROM identities
		WHERE email = $1
	`

	var record domain.IdentityRecord
	var hash string
	err := p.pool.QueryRow(ctx, query, creds.Email).Scan(
		&record.ID,
		&record.Email,
		&hash,
		&record.Name,
		&record.Phone,
		&record.Role,
		&record.Active,
		&record.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", mapPgErr(err))
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds.Password)) != nil {
		return nil, domain.ErrUnauthorized
	}

	return &record, nil
}

func (p *PostgresDirectory) FetchRecord(ctx context.Context, id string) (*domain.IdentityRecord, error) {
	query := `
		SELECT id, email, name, phone, role, active, created_at
		FROM identities
		WHERE id = $1
	`

	var record domain.IdentityRecord
	err := p.pool.QueryRow(ctx, query, id).Scan(
		&record.ID,
		&record.Email,
		&record.Name,
		&record.Phone,
		&record.Role,
		&record.Active,
		&record.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch identity: %w", mapPgErr(err))
	}

	return &record, nil
}

// InvalidateSession bumps the session epoch; tokens minted before the
// bump are rejected by the API gateway.
func (p *PostgresDirectory) InvalidateSession(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE identities SET session_epoch = session_epoch + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to invalidate session: %w", mapPgErr(err))
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (p *PostgresDirectory) UpdateProfile(ctx context.Context, id string, profile domain.Profile) (*domain.IdentityRecord, error) {
	query := `
		UPDATE identities
		SET name = $2, phone = $3
		WHERE id = $1
		RETURNING id, email, name, phone, role, active, created_at
	`

	var record domain.IdentityRecord
	err := p.pool.QueryRow(ctx, query, id, profile.Name, profile.Phone).Scan(
		&record.ID,
		&record.Email,
		&record.Name,
		&record.Phone,
		&record.Role,
		&record.Active,
		&record.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update identity: %w", mapPgErr(err))
	}

	return &record, nil
}

// mapPgErr classifies driver errors: anything the server did not
// answer is ErrUnavailable so reads can fall back to the cache;
// errors the server reported stay as-is.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
}
