package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablescout/billing-cli/internal/model"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func entityRow(id, name string) *pgxmock.Rows {
	now := time.Now()
	return pgxmock.NewRows([]string{"id", "name", "email", "phone", "website", "owner_id",
		"external_customer_id", "external_subscription_id", "tier", "active", "created_at", "updated_at"}).
		AddRow(id, name, "", "", "", "", "cus_1", "", model.TierStandard, true, now, now)
}

func TestPostgresEntityByExternalCustomerID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM business_entities WHERE external_customer_id").
		WithArgs("cus_1").
		WillReturnRows(entityRow("r1", "Lucky Dog"))

	e, err := s.EntityByExternalCustomerID(context.Background(), "cus_1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "r1", e.ID)
	assert.Equal(t, model.TierStandard, e.Tier)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresEntityLookupNoRows(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM business_entities WHERE external_subscription_id").
		WithArgs("sub_absent").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	e, err := s.EntityByExternalSubscriptionID(context.Background(), "sub_absent")
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLinkEntityBilling(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE business_entities").
		WithArgs("r1", "premium", "sub_1", "cus_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ok, err := s.LinkEntityBilling(ctx, "r1", model.TierPremium, "sub_1", "cus_1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Entity already linked: the conditional update touches no rows.
	mock.ExpectExec("UPDATE business_entities").
		WithArgs("r1", "standard", "sub_2", "cus_2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err = s.LinkEntityBilling(ctx, "r1", model.TierStandard, "sub_2", "cus_2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConfirmMatchPending(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT status FROM unmatched_records").
		WithArgs("sub_1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("pending"))
	mock.ExpectExec("UPDATE unmatched_records").
		WithArgs("sub_1", "r1", model.MatchedByReconcile).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.ConfirmMatch(context.Background(), "sub_1", "r1", model.MatchedByReconcile))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConfirmMatchAlreadyMatched(t *testing.T) {
	s, mock := newMockStore(t)

	// No UPDATE is issued for an already-confirmed record.
	mock.ExpectQuery("SELECT status FROM unmatched_records").
		WithArgs("sub_1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("matched"))

	require.NoError(t, s.ConfirmMatch(context.Background(), "sub_1", "r1", model.MatchedByAuto))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresConfirmMatchNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT status FROM unmatched_records").
		WithArgs("sub_absent").
		WillReturnRows(pgxmock.NewRows([]string{"status"}))

	err := s.ConfirmMatch(context.Background(), "sub_absent", "r1", model.MatchedByAuto)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresIgnoreUnmatchedNotPending(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE unmatched_records SET status = 'ignored'").
		WithArgs("sub_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.IgnoreUnmatched(context.Background(), "sub_1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListLinkedSubscriptionIDs(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT external_subscription_id FROM business_entities").
		WillReturnRows(pgxmock.NewRows([]string{"external_subscription_id"}).
			AddRow("sub_1").AddRow("sub_2"))

	linked, err := s.ListLinkedSubscriptionIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"sub_1": true, "sub_2": true}, linked)

	require.NoError(t, mock.ExpectationsWereMet())
}
