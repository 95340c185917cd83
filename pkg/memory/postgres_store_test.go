package memory

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindburn-labs/grace/pkg/contracts"
)

func TestPostgresStore_PutAndQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreFromDB(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO memory_entries")).
		WithArgs("e-1", "billing", "episodic", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), int64(0), 0.0, "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.Put(ctx, contracts.MemoryEntry{
		EntryID:    "e-1",
		Domain:     "billing",
		MemoryType: contracts.MemoryEpisodic,
		Content:    map[string]any{"note": "spike"},
		Tags:       []string{"cpu"},
		Timestamp:  time.Now(),
	})
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"entry_id", "domain", "memory_type", "content", "tags", "timestamp", "access_count", "relevance_score", "signature", "metadata"}).
		AddRow("e-1", "billing", "episodic", []byte(`{"note":"spike"}`), []byte(`["cpu"]`), time.Now(), 3, 0.8, "sig", []byte(`{}`))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT entry_id, domain, memory_type, content, tags, timestamp, access_count, relevance_score, signature, metadata")).
		WithArgs("billing", "episodic").
		WillReturnRows(rows)

	entries, err := store.Query(ctx, "billing", contracts.MemoryEpisodic)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "e-1", entries[0].EntryID)
	assert.Equal(t, 3, entries[0].AccessCount)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_BumpAccessCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStoreFromDB(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE memory_entries SET access_count = access_count + 1 WHERE entry_id=$1")).
		WithArgs("e-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.BumpAccessCount(ctx, "e-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
