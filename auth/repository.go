package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"threadswap/ledger"
)

var (
	// ErrMemberNotFound signals that the member does not exist.
	ErrMemberNotFound = errors.New("auth: member not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for authentication.
type Repository interface {
	CreateMember(ctx context.Context, params CreateMemberParams) (Member, error)
	GetMemberByEmail(ctx context.Context, email string) (Member, error)
	GetMemberByID(ctx context.Context, memberID string) (Member, error)
}

// CreateMemberParams contains write parameters for creating members.
type CreateMemberParams struct {
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool   *pgxpool.Pool
	ledger *ledger.Repository
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, ledger: ledger.NewRepository()}
}

// CreateMember inserts a new member and provisions their points account in
// the same transaction, so every member has balance and stats rows from the
// moment they exist.
func (r *PGRepository) CreateMember(ctx context.Context, params CreateMemberParams) (Member, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Member{}, fmt.Errorf("auth: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertSQL = `
		INSERT INTO members (email, full_name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, email, full_name, password_hash, role::text, created_at, updated_at
	`

	member, err := scanMember(tx.QueryRow(ctx, insertSQL, params.Email, params.FullName, params.PasswordHash, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Member{}, ErrDuplicateEmail
		}
		return Member{}, fmt.Errorf("auth: create member: %w", err)
	}

	if err := r.ledger.EnsureAccount(ctx, tx, member.ID); err != nil {
		return Member{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Member{}, fmt.Errorf("auth: commit create member: %w", err)
	}
	return member, nil
}

// GetMemberByEmail retrieves a member by email address.
func (r *PGRepository) GetMemberByEmail(ctx context.Context, email string) (Member, error) {
	const selectSQL = `
		SELECT id, email, full_name, password_hash, role::text, created_at, updated_at
		FROM members
		WHERE email = $1
	`

	member, err := scanMember(r.pool.QueryRow(ctx, selectSQL, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, ErrMemberNotFound
		}
		return Member{}, fmt.Errorf("auth: get member by email: %w", err)
	}

	return member, nil
}

// GetMemberByID retrieves a member by ID.
func (r *PGRepository) GetMemberByID(ctx context.Context, memberID string) (Member, error) {
	const selectSQL = `
		SELECT id, email, full_name, password_hash, role::text, created_at, updated_at
		FROM members
		WHERE id = $1
	`

	member, err := scanMember(r.pool.QueryRow(ctx, selectSQL, memberID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Member{}, ErrMemberNotFound
		}
		return Member{}, fmt.Errorf("auth: get member by id: %w", err)
	}

	return member, nil
}

func scanMember(row pgx.Row) (Member, error) {
	var m Member
	err := row.Scan(
		&m.ID,
		&m.Email,
		&m.FullName,
		&m.PasswordHash,
		&m.Role,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return Member{}, err
	}
	return m, nil
}
