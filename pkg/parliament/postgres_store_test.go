package parliament

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

func TestPostgresStore_PutAndGetMember(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreFromDB(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO members")).
		WithArgs("ops-1", "human", "on-call", sqlmock.AnyArg(), 1.0, true, false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.PutMember(ctx, contracts.ParliamentMember{
		MemberID:   "ops-1",
		Type:       contracts.MemberHuman,
		Role:       "on-call",
		Committees: []string{"operators"},
		Weight:     1.0,
		Active:     true,
	})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"member_id", "type", "role", "committees", "weight", "active", "suspended"}).
		AddRow("ops-1", "human", "on-call", []byte(`["operators"]`), 1.0, true, false)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT member_id, type, role, committees, weight, active, suspended FROM members WHERE member_id=$1")).
		WithArgs("ops-1").
		WillReturnRows(rows)

	m, ok, err := store.GetMember(ctx, "ops-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, contracts.MemberHuman, m.Type)
	assert.Equal(t, []string{"operators"}, m.Committees)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMember_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreFromDB(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT member_id, type, role, committees, weight, active, suspended FROM members WHERE member_id=$1")).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, ok, err := store.GetMember(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}
