package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ent0n29/voicecart/internal/extract"
)

// PostgresStore persists profiles in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var fieldColumns = map[extract.Field]string{
	extract.FieldName:       "name",
	extract.FieldEmail:      "email",
	extract.FieldAddress:    "address",
	extract.FieldPhone:      "phone",
	extract.FieldCardName:   "card_name",
	extract.FieldCardNumber: "card_number",
	extract.FieldExpiryDate: "expiry_date",
	extract.FieldCVV:        "cvv",
}

const selectColumns = `user_id, name, email, address, phone, card_name, card_number, expiry_date, cvv, updated_at`

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS shopper_profiles (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			address TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			card_name TEXT NOT NULL DEFAULT '',
			card_number TEXT NOT NULL DEFAULT '',
			expiry_date TEXT NOT NULL DEFAULT '',
			cvv TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (Profile, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM shopper_profiles WHERE user_id=$1`, userID)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Update(ctx context.Context, userID string, partial map[extract.Field]string) (Profile, error) {
	query, args := upsertStatement(userID, partial)
	p, err := scanProfile(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return Profile{}, fmt.Errorf("update profile: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// upsertStatement builds an insert-or-merge of the non-empty values of
// partial, in collection order.
func upsertStatement(userID string, partial map[extract.Field]string) (string, []any) {
	cols := []string{"user_id"}
	placeholders := []string{"$1"}
	sets := []string{"updated_at = now()"}
	args := []any{userID}

	for _, f := range extract.Fields {
		v := strings.TrimSpace(partial[f])
		if v == "" {
			continue
		}
		col := fieldColumns[f]
		args = append(args, v)
		cols = append(cols, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	query := fmt.Sprintf(
		`INSERT INTO shopper_profiles (%s) VALUES (%s)
		 ON CONFLICT (user_id) DO UPDATE SET %s
		 RETURNING %s`,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(sets, ", "),
		selectColumns,
	)
	return query, args
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.UserID, &p.Name, &p.Email, &p.Address, &p.Phone,
		&p.CardName, &p.CardNumber, &p.ExpiryDate, &p.CVV, &p.UpdatedAt)
	return p, err
}
