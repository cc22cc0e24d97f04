package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/tablescout/billing-cli/internal/db"
	"github.com/tablescout/billing-cli/internal/model"
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to Postgres and returns a store over the pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
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
	active                   BOOLEAN NOT NULL DEFAULT TRUE,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS owner_accounts (
	id                  TEXT PRIMARY KEY,
	email               TEXT NOT NULL DEFAULT '',
	billing_customer_id TEXT NOT NULL DEFAULT '',
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS unmatched_records (
	external_subscription_id TEXT PRIMARY KEY,
	external_customer_id     TEXT NOT NULL,
	customer_email           TEXT NOT NULL DEFAULT '',
	customer_name            TEXT NOT NULL DEFAULT '',
	customer_phone           TEXT NOT NULL DEFAULT '',
	declared_business_name   TEXT NOT NULL DEFAULT '',
	amount_minor_units       BIGINT NOT NULL DEFAULT 0,
	billing_interval         TEXT NOT NULL DEFAULT '',
	match_attempts           JSONB NOT NULL DEFAULT '[]',
	status                   TEXT NOT NULL DEFAULT 'pending',
	matched_entity_id        TEXT NOT NULL DEFAULT '',
	matched_at               TIMESTAMPTZ,
	matched_by               TEXT NOT NULL DEFAULT '',
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entities_external_customer_id ON business_entities(external_customer_id) WHERE external_customer_id != '';
CREATE INDEX IF NOT EXISTS idx_entities_external_subscription_id ON business_entities(external_subscription_id) WHERE external_subscription_id != '';
CREATE INDEX IF NOT EXISTS idx_entities_email_lower ON business_entities(lower(email)) WHERE email != '';
CREATE INDEX IF NOT EXISTS idx_entities_owner_id ON business_entities(owner_id) WHERE owner_id != '';
CREATE INDEX IF NOT EXISTS idx_entities_active ON business_entities(active);
CREATE INDEX IF NOT EXISTS idx_owners_billing_customer_id ON owner_accounts(billing_customer_id) WHERE billing_customer_id != '';
CREATE INDEX IF NOT EXISTS idx_owners_email_lower ON owner_accounts(lower(email)) WHERE email != '';
CREATE INDEX IF NOT EXISTS idx_unmatched_status ON unmatched_records(status);
`

// Migrate creates the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const entityColumns = `id, name, email, phone, website, owner_id,
	external_customer_id, external_subscription_id, tier, active, created_at, updated_at`

func scanEntity(row pgx.Row) (*model.BusinessEntity, error) {
	var e model.BusinessEntity
	err := row.Scan(&e.ID, &e.Name, &e.Email, &e.Phone, &e.Website, &e.OwnerID,
		&e.ExternalCustomerID, &e.ExternalSubscriptionID, &e.Tier, &e.Active,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func scanEntities(rows pgx.Rows) ([]model.BusinessEntity, error) {
	defer rows.Close()
	var out []model.BusinessEntity
	for rows.Next() {
		var e model.BusinessEntity
		if err := rows.Scan(&e.ID, &e.Name, &e.Email, &e.Phone, &e.Website, &e.OwnerID,
			&e.ExternalCustomerID, &e.ExternalSubscriptionID, &e.Tier, &e.Active,
			&e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) EntityByExternalSubscriptionID(ctx context.Context, subscriptionID string) (*model.BusinessEntity, error) {
	e, err := scanEntity(s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM business_entities WHERE external_subscription_id = $1 AND external_subscription_id != ''`,
		subscriptionID))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: entity by subscription %s", subscriptionID)
	}
	return e, nil
}

func (s *PostgresStore) EntityByExternalCustomerID(ctx context.Context, customerID string) (*model.BusinessEntity, error) {
	e, err := scanEntity(s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM business_entities WHERE external_customer_id = $1 AND external_customer_id != ''`,
		customerID))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: entity by customer %s", customerID)
	}
	return e, nil
}

func (s *PostgresStore) EntityByEmail(ctx context.Context, email string) (*model.BusinessEntity, error) {
	e, err := scanEntity(s.pool.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM business_entities WHERE lower(email) = lower($1) AND email != ''`,
		email))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: entity by email")
	}
	return e, nil
}

func (s *PostgresStore) EntitiesByOwner(ctx context.Context, ownerID string) ([]model.BusinessEntity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM business_entities WHERE owner_id = $1 ORDER BY id`,
		ownerID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: entities by owner %s", ownerID)
	}
	out, err := scanEntities(rows)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: entities by owner %s", ownerID)
	}
	return out, nil
}

func (s *PostgresStore) ActiveEntities(ctx context.Context) ([]model.BusinessEntity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entityColumns+` FROM business_entities WHERE active ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active entities")
	}
	out, err := scanEntities(rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: active entities")
	}
	return out, nil
}

func (s *PostgresStore) OwnerByBillingCustomerID(ctx context.Context, customerID string) (*model.OwnerAccount, error) {
	o := &model.OwnerAccount{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, billing_customer_id, created_at FROM owner_accounts
		 WHERE billing_customer_id = $1 AND billing_customer_id != ''`,
		customerID).Scan(&o.ID, &o.Email, &o.BillingCustomerID, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: owner by billing customer %s", customerID)
	}
	return o, nil
}

func (s *PostgresStore) OwnerByEmail(ctx context.Context, email string) (*model.OwnerAccount, error) {
	o := &model.OwnerAccount{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, billing_customer_id, created_at FROM owner_accounts
		 WHERE lower(email) = lower($1) AND email != ''`,
		email).Scan(&o.ID, &o.Email, &o.BillingCustomerID, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: owner by email")
	}
	return o, nil
}

func (s *PostgresStore) ListLinkedSubscriptionIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT external_subscription_id FROM business_entities WHERE external_subscription_id != ''`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list linked subscriptions")
	}
	defer rows.Close()

	linked := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: list linked subscriptions")
		}
		linked[id] = true
	}
	return linked, eris.Wrap(rows.Err(), "postgres: list linked subscriptions")
}

func (s *PostgresStore) LinkEntityBilling(ctx context.Context, entityID string, tier model.Tier, subscriptionID, customerID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE business_entities
		 SET tier = $2, external_subscription_id = $3, external_customer_id = $4, updated_at = now()
		 WHERE id = $1 AND external_subscription_id = ''`,
		entityID, string(tier), subscriptionID, customerID)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: link entity %s", entityID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpsertUnmatched(ctx context.Context, rec *model.UnmatchedRecord) error {
	attempts, err := json.Marshal(rec.MatchAttempts)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal match attempts")
	}

	// Each pass rewrites the attempt log and resets the record to pending,
	// but a record a human or the driver has already resolved (matched or
	// ignored) keeps its status.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO unmatched_records (
			external_subscription_id, external_customer_id, customer_email,
			customer_name, customer_phone, declared_business_name,
			amount_minor_units, billing_interval, match_attempts, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'pending')
		ON CONFLICT (external_subscription_id) DO UPDATE SET
			external_customer_id = EXCLUDED.external_customer_id,
			customer_email = EXCLUDED.customer_email,
			customer_name = EXCLUDED.customer_name,
			customer_phone = EXCLUDED.customer_phone,
			declared_business_name = EXCLUDED.declared_business_name,
			amount_minor_units = EXCLUDED.amount_minor_units,
			billing_interval = EXCLUDED.billing_interval,
			match_attempts = EXCLUDED.match_attempts,
			updated_at = now()
		WHERE unmatched_records.status = 'pending'`,
		rec.ExternalSubscriptionID, rec.ExternalCustomerID, rec.CustomerEmail,
		rec.CustomerName, rec.CustomerPhone, rec.DeclaredBusinessName,
		rec.AmountMinorUnits, rec.BillingInterval, attempts)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert unmatched %s", rec.ExternalSubscriptionID)
	}
	return nil
}

func (s *PostgresStore) ConfirmMatch(ctx context.Context, subscriptionID, entityID, matchedBy string) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM unmatched_records WHERE external_subscription_id = $1`,
		subscriptionID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return eris.Errorf("postgres: unmatched record %s not found", subscriptionID)
		}
		return eris.Wrapf(err, "postgres: confirm match %s", subscriptionID)
	}
	if status == string(model.UnmatchedMatched) {
		// Already confirmed; matched_at and matched_by stay untouched.
		return nil
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE unmatched_records
		 SET status = 'matched', matched_entity_id = $2, matched_at = now(), matched_by = $3, updated_at = now()
		 WHERE external_subscription_id = $1 AND status != 'matched'`,
		subscriptionID, entityID, matchedBy)
	return eris.Wrapf(err, "postgres: confirm match %s", subscriptionID)
}

func (s *PostgresStore) IgnoreUnmatched(ctx context.Context, subscriptionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE unmatched_records SET status = 'ignored', updated_at = now()
		 WHERE external_subscription_id = $1 AND status = 'pending'`,
		subscriptionID)
	if err != nil {
		return eris.Wrapf(err, "postgres: ignore unmatched %s", subscriptionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: unmatched record %s not found or not pending", subscriptionID)
	}
	return nil
}

const unmatchedColumns = `external_subscription_id, external_customer_id, customer_email,
	customer_name, customer_phone, declared_business_name, amount_minor_units,
	billing_interval, match_attempts, status, matched_entity_id, matched_at,
	matched_by, created_at, updated_at`

func scanUnmatched(rows pgx.Rows) ([]model.UnmatchedRecord, error) {
	defer rows.Close()
	var out []model.UnmatchedRecord
	for rows.Next() {
		var rec model.UnmatchedRecord
		var attempts []byte
		if err := rows.Scan(&rec.ExternalSubscriptionID, &rec.ExternalCustomerID,
			&rec.CustomerEmail, &rec.CustomerName, &rec.CustomerPhone,
			&rec.DeclaredBusinessName, &rec.AmountMinorUnits, &rec.BillingInterval,
			&attempts, &rec.Status, &rec.MatchedEntityID, &rec.MatchedAt,
			&rec.MatchedBy, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		if len(attempts) > 0 {
			if err := json.Unmarshal(attempts, &rec.MatchAttempts); err != nil {
				return nil, err
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetUnmatched(ctx context.Context, subscriptionID string) (*model.UnmatchedRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+unmatchedColumns+` FROM unmatched_records WHERE external_subscription_id = $1`,
		subscriptionID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get unmatched %s", subscriptionID)
	}
	recs, err := scanUnmatched(rows)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get unmatched %s", subscriptionID)
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

func (s *PostgresStore) ListUnmatched(ctx context.Context, status model.UnmatchedStatus, limit int) ([]model.UnmatchedRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+unmatchedColumns+` FROM unmatched_records
		 WHERE ($1 = '' OR status = $1) ORDER BY updated_at DESC LIMIT $2`,
		string(status), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unmatched")
	}
	out, err := scanUnmatched(rows)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unmatched")
	}
	return out, nil
}

func (s *PostgresStore) UpsertEntity(ctx context.Context, e *model.BusinessEntity) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO business_entities (id, name, email, phone, website, owner_id,
			external_customer_id, external_subscription_id, tier, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email, phone = EXCLUDED.phone,
			website = EXCLUDED.website, owner_id = EXCLUDED.owner_id,
			external_customer_id = EXCLUDED.external_customer_id,
			external_subscription_id = EXCLUDED.external_subscription_id,
			tier = EXCLUDED.tier, active = EXCLUDED.active, updated_at = now()`,
		e.ID, e.Name, e.Email, e.Phone, e.Website, e.OwnerID,
		e.ExternalCustomerID, e.ExternalSubscriptionID, string(e.Tier), e.Active)
	return eris.Wrapf(err, "postgres: upsert entity %s", e.ID)
}

func (s *PostgresStore) UpsertOwner(ctx context.Context, o *model.OwnerAccount) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO owner_accounts (id, email, billing_customer_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email, billing_customer_id = EXCLUDED.billing_customer_id`,
		o.ID, o.Email, o.BillingCustomerID)
	return eris.Wrapf(err, "postgres: upsert owner %s", o.ID)
}
