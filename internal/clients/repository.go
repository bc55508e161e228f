package clients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const clientsSchema = `CREATE TABLE IF NOT EXISTS clients (
	id BIGSERIAL PRIMARY KEY,
	owner TEXT NOT NULL,
	name TEXT NOT NULL,
	company TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	city TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT '',
	is_representative BOOLEAN NOT NULL DEFAULT false,
	active BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_clients_owner ON clients (owner);`

const clientColumns = `id, owner, name, company, email, phone, address, city, country, is_representative, active, created_at`

// pgForeignKeyViolation is the SQLSTATE raised when a delete would orphan
// referencing rows.
const pgForeignKeyViolation = "23503"

// Repository is the postgres store of clients.
type Repository interface {
	Get(ctx context.Context, id int64) (Client, error)
	ListByOwner(ctx context.Context, owner string) ([]Client, error)
	// Delete removes the client only while it still belongs to owner.
	Delete(ctx context.Context, id int64, owner string) error
}

// PostgresRepository implements Repository on database/sql with the pgx
// driver.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the clients table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, clientsSchema); err != nil {
		return fmt.Errorf("ensure clients schema: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClient(s scanner) (Client, error) {
	var c Client
	err := s.Scan(&c.ID, &c.Owner, &c.Name, &c.Company, &c.Email, &c.Phone,
		&c.Address, &c.City, &c.Country, &c.IsRepresentative, &c.Active, &c.CreatedAt)
	return c, err
}

func (r *PostgresRepository) Get(ctx context.Context, id int64) (Client, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+clientColumns+` FROM clients WHERE id = $1`, id)
	c, err := scanClient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Client{}, ErrClientNotFound
	}
	if err != nil {
		return Client{}, fmt.Errorf("get client %d: %w", id, err)
	}
	return c, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, owner string) ([]Client, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE owner = $1 ORDER BY name, id`, owner)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64, owner string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM clients WHERE id = $1 AND owner = $2`, id, owner)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return ErrClientInUse
		}
		return fmt.Errorf("delete client %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete client %d: %w", id, err)
	}
	if n == 0 {
		return ErrClientNotFound
	}
	return nil
}
