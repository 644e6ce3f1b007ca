package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS ledger_accounts (
	user_id  TEXT PRIMARY KEY,
	balances JSONB NOT NULL DEFAULT '{}'::jsonb
)`

// PostgresStore keeps one row per user with the balances as a JSONB column.
// Updates run inside a transaction with SELECT ... FOR UPDATE, so concurrent
// updates for the same user serialize at the database.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) (*PostgresStore, error) {
	if _, err := db.Exec(ledgerSchema); err != nil {
		return nil, fmt.Errorf("ensure ledger schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Load(ctx context.Context) (Book, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT user_id, balances FROM ledger_accounts`)
	if err != nil {
		log.Error().Err(err).Msg("postgres ledger read failed")
		return nil, fmt.Errorf("load ledger: %w", ErrPersistence)
	}
	defer rows.Close()

	book := Book{}
	for rows.Next() {
		var user string
		var raw []byte
		if err := rows.Scan(&user, &raw); err != nil {
			return nil, fmt.Errorf("load ledger: %w", ErrPersistence)
		}
		acct := NewAccount()
		if err := json.Unmarshal(raw, &acct.Balances); err != nil {
			log.Warn().Err(err).Str("user", user).Msg("skipping corrupt ledger row")
			continue
		}
		book[user] = acct
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load ledger: %w", ErrPersistence)
	}
	return book, nil
}

func (s *PostgresStore) Update(ctx context.Context, user string, fn func(*Account) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		log.Error().Err(err).Str("user", user).Msg("postgres ledger tx failed")
		return fmt.Errorf("update account: %w", ErrPersistence)
	}
	defer tx.Rollback()

	acct := NewAccount()
	var raw []byte
	err = tx.QueryRowxContext(ctx,
		`SELECT balances FROM ledger_accounts WHERE user_id = $1 FOR UPDATE`, user).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// first mutation for this user
	case err != nil:
		log.Error().Err(err).Str("user", user).Msg("postgres ledger read failed")
		return fmt.Errorf("update account: %w", ErrPersistence)
	default:
		if err := json.Unmarshal(raw, &acct.Balances); err != nil {
			log.Warn().Err(err).Str("user", user).Msg("corrupt ledger row, starting empty")
			acct = NewAccount()
		}
	}

	if err := fn(acct); err != nil {
		return err
	}

	data, err := json.Marshal(acct.Balances)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_accounts (user_id, balances) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balances = EXCLUDED.balances`,
		user, data); err != nil {
		log.Error().Err(err).Str("user", user).Msg("postgres ledger write failed")
		return fmt.Errorf("update account: %w", ErrPersistence)
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Str("user", user).Msg("postgres ledger commit failed")
		return fmt.Errorf("update account: %w", ErrPersistence)
	}
	return nil
}
