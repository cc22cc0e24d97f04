package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/tablescout/billing-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite, for local runs and
// the store test suite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	// Pragmas must ride on the DSN so every pooled connection gets them;
	// an Exec only configures the one connection that happens to run it.
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS business_entities (
	id                       TEXT PRIMARY KEY,
	name                     TEXT NOT NULL,
	email                    TEXT NOT NULL DEFAULT '',
	phone                    TEXT NOT NULL DEFAULT '',
	website                  TEXT NOT NULL DEFAULT '',
	owner_id                 TEXT NOT NULL DEFAULT '',
	external_customer_id     TEXT NOT NULL DEFAULT '',
	external_subscription_id TEXT NOT NULL DEFAULT '',
	tier                     TEXT NOT NULL DEFAULT '',
	active                   INTEGER NOT NULL DEFAULT 1,
	created_at               DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at               DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS owner_accounts (
	id                  TEXT PRIMARY KEY,
	email               TEXT NOT NULL DEFAULT '',
	billing_customer_id TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS unmatched_records (
	external_subscription_id TEXT PRIMARY KEY,
	external_customer_id     TEXT NOT NULL,
	customer_email           TEXT NOT NULL DEFAULT '',
	customer_name            TEXT NOT NULL DEFAULT '',
	customer_phone           TEXT NOT NULL DEFAULT '',
	declared_business_name   TEXT NOT NULL DEFAULT '',
	amount_minor_units       INTEGER NOT NULL DEFAULT 0,
	billing_interval         TEXT NOT NULL DEFAULT '',
	match_attempts           TEXT NOT NULL DEFAULT '[]',
	status                   TEXT NOT NULL DEFAULT 'pending',
	matched_entity_id        TEXT NOT NULL DEFAULT '',
	matched_at               DATETIME,
	matched_by               TEXT NOT NULL DEFAULT '',
	created_at               DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at               DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entities_external_customer_id ON business_entities(external_customer_id);
CREATE INDEX IF NOT EXISTS idx_entities_external_subscription_id ON business_entities(external_subscription_id);
CREATE INDEX IF NOT EXISTS idx_entities_owner_id ON business_entities(owner_id);
CREATE INDEX IF NOT EXISTS idx_unmatched_status ON unmatched_records(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteEntityColumns = `id, name, email, phone, website, owner_id,
	external_customer_id, external_subscription_id, tier, active, created_at, updated_at`

func (s *SQLiteStore) scanEntityRow(row *sql.Row) (*model.BusinessEntity, error) {
	var e model.BusinessEntity
	var tier string
	err := row.Scan(&e.ID, &e.Name, &e.Email, &e.Phone, &e.Website, &e.OwnerID,
		&e.ExternalCustomerID, &e.ExternalSubscriptionID, &tier, &e.Active,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	e.Tier = model.Tier(tier)
	return &e, nil
}

func (s *SQLiteStore) queryEntities(ctx context.Context, query string, args ...any) ([]model.BusinessEntity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BusinessEntity
	for rows.Next() {
		var e model.BusinessEntity
		var tier string
		if err := rows.Scan(&e.ID, &e.Name, &e.Email, &e.Phone, &e.Website, &e.OwnerID,
			&e.ExternalCustomerID, &e.ExternalSubscriptionID, &tier, &e.Active,
			&e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		e.Tier = model.Tier(tier)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) EntityByExternalSubscriptionID(ctx context.Context, subscriptionID string) (*model.BusinessEntity, error) {
	e, err := s.scanEntityRow(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEntityColumns+` FROM business_entities WHERE external_subscription_id = ? AND external_subscription_id != ''`,
		subscriptionID))
	return e, eris.Wrapf(err, "sqlite: entity by subscription %s", subscriptionID)
}

func (s *SQLiteStore) EntityByExternalCustomerID(ctx context.Context, customerID string) (*model.BusinessEntity, error) {
	e, err := s.scanEntityRow(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEntityColumns+` FROM business_entities WHERE external_customer_id = ? AND external_customer_id != ''`,
		customerID))
	return e, eris.Wrapf(err, "sqlite: entity by customer %s", customerID)
}

func (s *SQLiteStore) EntityByEmail(ctx context.Context, email string) (*model.BusinessEntity, error) {
	e, err := s.scanEntityRow(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEntityColumns+` FROM business_entities WHERE lower(email) = lower(?) AND email != ''`,
		email))
	return e, eris.Wrap(err, "sqlite: entity by email")
}

func (s *SQLiteStore) EntitiesByOwner(ctx context.Context, ownerID string) ([]model.BusinessEntity, error) {
	out, err := s.queryEntities(ctx,
		`SELECT `+sqliteEntityColumns+` FROM business_entities WHERE owner_id = ? AND owner_id != '' ORDER BY id`,
		ownerID)
	return out, eris.Wrapf(err, "sqlite: entities by owner %s", ownerID)
}

func (s *SQLiteStore) ActiveEntities(ctx context.Context) ([]model.BusinessEntity, error) {
	out, err := s.queryEntities(ctx,
		`SELECT `+sqliteEntityColumns+` FROM business_entities WHERE active = 1 ORDER BY id`)
	return out, eris.Wrap(err, "sqlite: active entities")
}

func (s *SQLiteStore) scanOwnerRow(row *sql.Row) (*model.OwnerAccount, error) {
	var o model.OwnerAccount
	err := row.Scan(&o.ID, &o.Email, &o.BillingCustomerID, &o.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func (s *SQLiteStore) OwnerByBillingCustomerID(ctx context.Context, customerID string) (*model.OwnerAccount, error) {
	o, err := s.scanOwnerRow(s.db.QueryRowContext(ctx,
		`SELECT id, email, billing_customer_id, created_at FROM owner_accounts
		 WHERE billing_customer_id = ? AND billing_customer_id != ''`,
		customerID))
	return o, eris.Wrapf(err, "sqlite: owner by billing customer %s", customerID)
}

func (s *SQLiteStore) OwnerByEmail(ctx context.Context, email string) (*model.OwnerAccount, error) {
	o, err := s.scanOwnerRow(s.db.QueryRowContext(ctx,
		`SELECT id, email, billing_customer_id, created_at FROM owner_accounts
		 WHERE lower(email) = lower(?) AND email != ''`,
		email))
	return o, eris.Wrap(err, "sqlite: owner by email")
}

func (s *SQLiteStore) ListLinkedSubscriptionIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_subscription_id FROM business_entities WHERE external_subscription_id != ''`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list linked subscriptions")
	}
	defer rows.Close()

	linked := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: list linked subscriptions")
		}
		linked[id] = true
	}
	return linked, eris.Wrap(rows.Err(), "sqlite: list linked subscriptions")
}

func (s *SQLiteStore) LinkEntityBilling(ctx context.Context, entityID string, tier model.Tier, subscriptionID, customerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE business_entities
		 SET tier = ?, external_subscription_id = ?, external_customer_id = ?, updated_at = datetime('now')
		 WHERE id = ? AND external_subscription_id = ''`,
		string(tier), subscriptionID, customerID, entityID)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: link entity %s", entityID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: link entity %s", entityID)
	}
	return n == 1, nil
}

func (s *SQLiteStore) UpsertUnmatched(ctx context.Context, rec *model.UnmatchedRecord) error {
	attempts, err := json.Marshal(rec.MatchAttempts)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal match attempts")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO unmatched_records (
			external_subscription_id, external_customer_id, customer_email,
			customer_name, customer_phone, declared_business_name,
			amount_minor_units, billing_interval, match_attempts, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending')
		ON CONFLICT (external_subscription_id) DO UPDATE SET
			external_customer_id = excluded.external_customer_id,
			customer_email = excluded.customer_email,
			customer_name = excluded.customer_name,
			customer_phone = excluded.customer_phone,
			declared_business_name = excluded.declared_business_name,
			amount_minor_units = excluded.amount_minor_units,
			billing_interval = excluded.billing_interval,
			match_attempts = excluded.match_attempts,
			updated_at = datetime('now')
		WHERE unmatched_records.status = 'pending'`,
		rec.ExternalSubscriptionID, rec.ExternalCustomerID, rec.CustomerEmail,
		rec.CustomerName, rec.CustomerPhone, rec.DeclaredBusinessName,
		rec.AmountMinorUnits, rec.BillingInterval, string(attempts))
	return eris.Wrapf(err, "sqlite: upsert unmatched %s", rec.ExternalSubscriptionID)
}

func (s *SQLiteStore) ConfirmMatch(ctx context.Context, subscriptionID, entityID, matchedBy string) error {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM unmatched_records WHERE external_subscription_id = ?`,
		subscriptionID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return eris.Errorf("sqlite: unmatched record %s not found", subscriptionID)
		}
		return eris.Wrapf(err, "sqlite: confirm match %s", subscriptionID)
	}
	if status == string(model.UnmatchedMatched) {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE unmatched_records
		 SET status = 'matched', matched_entity_id = ?, matched_at = ?, matched_by = ?, updated_at = datetime('now')
		 WHERE external_subscription_id = ? AND status != 'matched'`,
		entityID, time.Now().UTC(), matchedBy, subscriptionID)
	return eris.Wrapf(err, "sqlite: confirm match %s", subscriptionID)
}

func (s *SQLiteStore) IgnoreUnmatched(ctx context.Context, subscriptionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE unmatched_records SET status = 'ignored', updated_at = datetime('now')
		 WHERE external_subscription_id = ? AND status = 'pending'`,
		subscriptionID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: ignore unmatched %s", subscriptionID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: ignore unmatched %s", subscriptionID)
	}
	if n == 0 {
		return eris.Errorf("sqlite: unmatched record %s not found or not pending", subscriptionID)
	}
	return nil
}

const sqliteUnmatchedColumns = `external_subscription_id, external_customer_id, customer_email,
	customer_name, customer_phone, declared_business_name, amount_minor_units,
	billing_interval, match_attempts, status, matched_entity_id, matched_at,
	matched_by, created_at, updated_at`

func (s *SQLiteStore) queryUnmatched(ctx context.Context, query string, args ...any) ([]model.UnmatchedRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UnmatchedRecord
	for rows.Next() {
		var rec model.UnmatchedRecord
		var attempts, status string
		var matchedAt sql.NullTime
		if err := rows.Scan(&rec.ExternalSubscriptionID, &rec.ExternalCustomerID,
			&rec.CustomerEmail, &rec.CustomerName, &rec.CustomerPhone,
			&rec.DeclaredBusinessName, &rec.AmountMinorUnits, &rec.BillingInterval,
			&attempts, &status, &rec.MatchedEntityID, &matchedAt,
			&rec.MatchedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Status = model.UnmatchedStatus(status)
		if matchedAt.Valid {
			t := matchedAt.Time
			rec.MatchedAt = &t
		}
		if attempts != "" {
			if err := json.Unmarshal([]byte(attempts), &rec.MatchAttempts); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetUnmatched(ctx context.Context, subscriptionID string) (*model.UnmatchedRecord, error) {
	recs, err := s.queryUnmatched(ctx,
		`SELECT `+sqliteUnmatchedColumns+` FROM unmatched_records WHERE external_subscription_id = ?`,
		subscriptionID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get unmatched %s", subscriptionID)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (s *SQLiteStore) ListUnmatched(ctx context.Context, status model.UnmatchedStatus, limit int) ([]model.UnmatchedRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	recs, err := s.queryUnmatched(ctx,
		`SELECT `+sqliteUnmatchedColumns+` FROM unmatched_records
		 WHERE (? = '' OR status = ?) ORDER BY updated_at DESC LIMIT ?`,
		string(status), string(status), limit)
	return recs, eris.Wrap(err, "sqlite: list unmatched")
}

func (s *SQLiteStore) UpsertEntity(ctx context.Context, e *model.BusinessEntity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO business_entities (id, name, email, phone, website, owner_id,
			external_customer_id, external_subscription_id, tier, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, email = excluded.email, phone = excluded.phone,
			website = excluded.website, owner_id = excluded.owner_id,
			external_customer_id = excluded.external_customer_id,
			external_subscription_id = excluded.external_subscription_id,
			tier = excluded.tier, active = excluded.active, updated_at = datetime('now')`,
		e.ID, e.Name, e.Email, e.Phone, e.Website, e.OwnerID,
		e.ExternalCustomerID, e.ExternalSubscriptionID, string(e.Tier), e.Active)
	return eris.Wrapf(err, "sqlite: upsert entity %s", e.ID)
}

func (s *SQLiteStore) UpsertOwner(ctx context.Context, o *model.OwnerAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO owner_accounts (id, email, billing_customer_id)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email, billing_customer_id = excluded.billing_customer_id`,
		o.ID, o.Email, o.BillingCustomerID)
	return eris.Wrapf(err, "sqlite: upsert owner %s", o.ID)
}
