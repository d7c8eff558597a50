package principal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for principals of every kind.
type Repository interface {
	FindByEmail(ctx context.Context, kind Kind, email string) (*Principal, error)
	FindByID(ctx context.Context, kind Kind, id int64) (*Principal, error)
	Create(ctx context.Context, kind Kind, in NewPrincipal) (*Principal, error)
	MarkVerified(ctx context.Context, kind Kind, id int64) error
	Approve(ctx context.Context, kind Kind, id int64) error
	ListPending(ctx context.Context, kind Kind) ([]Principal, error)
}

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type tableSpec struct {
	table      string
	displayCol string
	emailExpr  string
	phoneExpr  string
	approved   string
	insert     string
	insertArgs func(NewPrincipal) []any
}

func (t tableSpec) columns() string {
	return fmt.Sprintf("id, %s, name, %s, %s, password_hash, verified, %s, created_at",
		t.displayCol, t.emailExpr, t.phoneExpr, t.approved)
}

var tables = map[Kind]tableSpec{
	KindAdmin: {
		table:      "admins",
		displayCol: "display_id",
		emailExpr:  "email",
		phoneExpr:  "''",
		approved:   "TRUE",
		insert:     "INSERT INTO admins (display_id, name, email, password_hash, verified) VALUES ($1, $2, $3, $4, $5)",
		insertArgs: func(in NewPrincipal) []any {
			return []any{in.DisplayID, in.Name, in.Email, in.PasswordHash, in.Verified}
		},
	},
	KindSchool: {
		table:      "schools",
		displayCol: "school_id",
		emailExpr:  "contact->>'email'",
		phoneExpr:  "COALESCE(contact->>'phone', '')",
		approved:   "admin_verified",
		insert: "INSERT INTO schools (school_id, name, contact, password_hash, verified, admin_verified) " +
			"VALUES ($1, $2, jsonb_build_object('email', $3::text, 'phone', $4::text), $5, $6, $7)",
		insertArgs: func(in NewPrincipal) []any {
			return []any{in.DisplayID, in.Name, in.Email, in.Phone, in.PasswordHash, in.Verified, in.AdminVerified}
		},
	},
	KindDonor: {
		table:      "donors",
		displayCol: "donor_id",
		emailExpr:  "email",
		phoneExpr:  "phone",
		approved:   "TRUE",
		insert:     "INSERT INTO donors (donor_id, name, email, phone, password_hash, verified) VALUES ($1, $2, $3, $4, $5, $6)",
		insertArgs: func(in NewPrincipal) []any {
			return []any{in.DisplayID, in.Name, in.Email, in.Phone, in.PasswordHash, in.Verified}
		},
	},
	KindGoverningBody: {
		table:      "governing_bodies",
		displayCol: "govern_id",
		emailExpr:  "email",
		phoneExpr:  "phone",
		approved:   "admin_verified",
		insert: "INSERT INTO governing_bodies (govern_id, name, email, phone, password_hash, verified, admin_verified) " +
			"VALUES ($1, $2, $3, $4, $5, $6, $7)",
		insertArgs: func(in NewPrincipal) []any {
			return []any{in.DisplayID, in.Name, in.Email, in.Phone, in.PasswordHash, in.Verified, in.AdminVerified}
		},
	},
}

func specFor(kind Kind) (tableSpec, error) {
	spec, ok := tables[kind]
	if !ok {
		return tableSpec{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return spec, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db DBTX
}

// NewRepository constructs a PostgreSQL repository on top of the pool.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{db: pool}
}

// WithTx returns a repository bound to the given transaction.
func (r *PGRepository) WithTx(tx pgx.Tx) *PGRepository {
	return &PGRepository{db: tx}
}

// FindByEmail fetches a principal by normalised email.
func (r *PGRepository) FindByEmail(ctx context.Context, kind Kind, email string) (*Principal, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1", spec.columns(), spec.table, spec.emailExpr)
	return scanPrincipal(kind, r.db.QueryRow(ctx, query, NormalizeEmail(email)))
}

// FindByID fetches a principal by primary key.
func (r *PGRepository) FindByID(ctx context.Context, kind Kind, id int64) (*Principal, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", spec.columns(), spec.table)
	return scanPrincipal(kind, r.db.QueryRow(ctx, query, id))
}

// Create inserts a new principal. Emails are stored normalised.
func (r *PGRepository) Create(ctx context.Context, kind Kind, in NewPrincipal) (*Principal, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	in.Email = NormalizeEmail(in.Email)
	query := spec.insert + " RETURNING " + spec.columns()
	p, err := scanPrincipal(kind, r.db.QueryRow(ctx, query, spec.insertArgs(in)...))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	return p, nil
}

// MarkVerified records that the principal confirmed their email address.
func (r *PGRepository) MarkVerified(ctx context.Context, kind Kind, id int64) error {
	spec, err := specFor(kind)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, fmt.Sprintf("UPDATE %s SET verified = TRUE WHERE id = $1", spec.table), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Approve sets the administrator approval flag.
func (r *PGRepository) Approve(ctx context.Context, kind Kind, id int64) error {
	spec, err := specFor(kind)
	if err != nil {
		return err
	}
	if spec.approved != "admin_verified" {
		return fmt.Errorf("%w: %q does not require approval", ErrUnknownKind, kind)
	}
	tag, err := r.db.Exec(ctx, fmt.Sprintf("UPDATE %s SET admin_verified = TRUE WHERE id = $1", spec.table), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPending returns principals still awaiting administrator approval.
func (r *PGRepository) ListPending(ctx context.Context, kind Kind) ([]Principal, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	if spec.approved != "admin_verified" {
		return []Principal{}, nil
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE admin_verified = FALSE ORDER BY created_at, id", spec.columns(), spec.table)
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	pending := []Principal{}
	for rows.Next() {
		p, err := scanPrincipal(kind, rows)
		if err != nil {
			return nil, err
		}
		pending = append(pending, *p)
	}
	return pending, rows.Err()
}

func scanPrincipal(kind Kind, row pgx.Row) (*Principal, error) {
	p := &Principal{Kind: kind}
	err := row.Scan(&p.ID, &p.DisplayID, &p.Name, &p.Email, &p.Phone, &p.PasswordHash, &p.Verified, &p.AdminVerified, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return p, nil
}

var _ Repository = (*PGRepository)(nil)
