package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"exchange-dashboard/internal/core"
)

// Record is one row of api_keys. Secret columns never serialize.
type Record struct {
	ID         string          `db:"id" json:"id"`
	UserID     string          `db:"user_id" json:"user_id"`
	Name       string          `db:"name" json:"name"`
	Exchange   core.ExchangeID `db:"exchange" json:"exchange"`
	APIKey     string          `db:"api_key" json:"api_key"`
	APISecret  string          `db:"api_secret" json:"-"`
	Passphrase string          `db:"passphrase" json:"-"`
	Memo       string          `db:"memo" json:"-"`
	TestMode   bool            `db:"test_mode" json:"test_mode"`
	Enabled    bool            `db:"enabled" json:"enabled"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	LastUsed   *time.Time      `db:"last_used" json:"last_used,omitempty"`
}

// Credential maps the row onto the signing credential; Bitmart's memo takes
// the passphrase slot.
func (r Record) Credential() core.Credential {
	third := r.Passphrase
	if r.Exchange == core.Bitmart {
		third = r.Memo
	}
	return core.Credential{
		Exchange:   r.Exchange,
		APIKey:     r.APIKey,
		APISecret:  r.APISecret,
		Passphrase: third,
	}
}

type MaskedRecord struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Exchange   core.ExchangeID `json:"exchange"`
	APIKey     string          `json:"apiKey"`
	APISecret  string          `json:"apiSecret"`
	Passphrase *string         `json:"passphrase"`
	Memo       *string         `json:"memo"`
	TestMode   bool            `json:"testMode"`
	Enabled    bool            `json:"enabled"`
	CreatedAt  time.Time       `json:"createdAt"`
	LastUsed   *time.Time      `json:"lastUsed,omitempty"`
}

// Mask returns the display form: the key stays readable, everything else is masked.
func (r Record) Mask() MaskedRecord {
	return MaskedRecord{
		ID:         r.ID,
		Name:       r.Name,
		Exchange:   r.Exchange,
		APIKey:     r.APIKey,
		APISecret:  core.MaskSecret(r.APISecret),
		Passphrase: maskOptional(r.Passphrase),
		Memo:       maskOptional(r.Memo),
		TestMode:   r.TestMode,
		Enabled:    r.Enabled,
		CreatedAt:  r.CreatedAt,
		LastUsed:   r.LastUsed,
	}
}

func maskOptional(v string) *string {
	if v == "" {
		return nil
	}
	masked := core.MaskSecret(v)
	return &masked
}

type Input struct {
	UserID     string          `json:"-"`
	Exchange   core.ExchangeID `json:"exchange"`
	APIKey     string          `json:"apiKey"`
	APISecret  string          `json:"apiSecret"`
	Passphrase string          `json:"passphrase"`
	Memo       string          `json:"memo"`
}

func (in Input) normalize() Input {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Exchange = core.ExchangeID(strings.ToLower(strings.TrimSpace(string(in.Exchange))))
	in.APIKey = strings.TrimSpace(in.APIKey)
	in.APISecret = strings.TrimSpace(in.APISecret)
	in.Passphrase = strings.TrimSpace(in.Passphrase)
	in.Memo = strings.TrimSpace(in.Memo)
	return in
}

// Validate enforces the per-exchange required fields: a passphrase for
// Blofin, a memo for Bitmart.
func (in Input) Validate() error {
	if in.UserID == "" {
		return errors.New("user id is required")
	}
	switch in.Exchange {
	case core.Blofin:
		if in.APIKey == "" || in.APISecret == "" || in.Passphrase == "" {
			return fmt.Errorf("%w: exchange, API key, API secret, and API passphrase are required", core.ErrInvalidCredential)
		}
	case core.Bitmart:
		if in.APIKey == "" || in.APISecret == "" || in.Memo == "" {
			return fmt.Errorf("%w: exchange, API key, API secret, and memo are required", core.ErrInvalidCredential)
		}
	default:
		return fmt.Errorf("%w: %q", core.ErrUnknownExchange, in.Exchange)
	}
	return nil
}

const recordColumns = `id, user_id, name, exchange, api_key, api_secret,
	COALESCE(passphrase, '') AS passphrase, COALESCE(memo, '') AS memo,
	test_mode, enabled, created_at, last_used`

// Save inserts or replaces the user's key for the exchange. A saved key is
// enabled and marked used.
func (s *Store) Save(ctx context.Context, in Input) (Record, error) {
	in = in.normalize()
	if err := in.Validate(); err != nil {
		return Record{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var passphrase, memo sql.NullString
	if in.Exchange == core.Bitmart {
		memo = sql.NullString{String: in.Memo, Valid: true}
	} else {
		passphrase = sql.NullString{String: in.Passphrase, Valid: true}
	}
	now := s.now().UTC()

	query := `
		INSERT INTO api_keys (id, user_id, name, exchange, api_key, api_secret, passphrase, memo, test_mode, enabled, created_at, last_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, TRUE, $9, $9)
		ON CONFLICT (user_id, exchange) DO UPDATE SET
			name = EXCLUDED.name,
			api_key = EXCLUDED.api_key,
			api_secret = EXCLUDED.api_secret,
			passphrase = EXCLUDED.passphrase,
			memo = EXCLUDED.memo,
			test_mode = FALSE,
			enabled = TRUE,
			last_used = EXCLUDED.last_used
		RETURNING ` + recordColumns

	var rec Record
	err := s.db.QueryRowxContext(ctx, query,
		uuid.NewString(), in.UserID, in.Exchange.DisplayName()+" API Keys", string(in.Exchange),
		in.APIKey, in.APISecret, passphrase, memo, now).
		StructScan(&rec)
	if err != nil {
		return Record{}, fmt.Errorf("save %s api keys: %w", in.Exchange, err)
	}
	return rec, nil
}

// Get returns the user's newest key for the exchange.
func (s *Store) Get(ctx context.Context, userID string, exchange core.ExchangeID) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + recordColumns + `
		FROM api_keys
		WHERE user_id = $1 AND exchange = $2
		ORDER BY created_at DESC
		LIMIT 1`

	var rec Record
	if err := s.db.GetContext(ctx, &rec, query, userID, string(exchange)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, core.ErrNotFound
		}
		return Record{}, fmt.Errorf("get %s api keys: %w", exchange, err)
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context, userID string) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `SELECT ` + recordColumns + `
		FROM api_keys
		WHERE user_id = $1
		ORDER BY exchange, created_at DESC`

	var recs []Record
	if err := s.db.SelectContext(ctx, &recs, query, userID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return recs, nil
}

func (s *Store) SetEnabled(ctx context.Context, userID, id string, enabled bool) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := `
		UPDATE api_keys SET enabled = $3
		WHERE user_id = $1 AND id = $2
		RETURNING ` + recordColumns

	var rec Record
	if err := s.db.QueryRowxContext(ctx, query, userID, id, enabled).StructScan(&rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, core.ErrNotFound
		}
		return Record{}, fmt.Errorf("update api key: %w", err)
	}
	return rec, nil
}

func (s *Store) Delete(ctx context.Context, userID, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// TouchLastUsed stamps the key that served a successful call.
func (s *Store) TouchLastUsed(ctx context.Context, userID string, exchange core.ExchangeID, at time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used = $3 WHERE user_id = $1 AND exchange = $2`,
		userID, string(exchange), at.UTC())
	if err != nil {
		return fmt.Errorf("touch %s api key: %w", exchange, err)
	}
	return nil
}

// Summary is the diagnostics view: counts and exchange names, no key material.
type Summary struct {
	UserID    string            `json:"userId"`
	KeysFound int               `json:"keysFound"`
	Exchanges []core.ExchangeID `json:"exchanges"`
}

func (s *Store) Summary(ctx context.Context, userID string) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var exchanges []core.ExchangeID
	if err := s.db.SelectContext(ctx, &exchanges,
		`SELECT exchange FROM api_keys WHERE user_id = $1 ORDER BY exchange`, userID); err != nil {
		return Summary{}, fmt.Errorf("summarize api keys: %w", err)
	}
	if exchanges == nil {
		exchanges = []core.ExchangeID{}
	}
	return Summary{UserID: userID, KeysFound: len(exchanges), Exchanges: exchanges}, nil
}
