package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/charlesng35/guildstats/internal/database/testutil"
	"github.com/charlesng35/guildstats/internal/models"
	apperrors "github.com/charlesng35/guildstats/pkg/errors"
)

func TestDatabaseStore_FindOneMissing(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore[models.MessageCount](db)

	doc, found, err := store.FindOne(context.Background(), "guild-1")
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, doc.ID)
}

func TestDatabaseStore_UpsertReplace(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore[models.MessageCount](db)
	ctx := context.Background()

	require.NoError(t, store.UpsertReplace(ctx, models.MessageCount{ID: "guild-1", Count: 4, Day: "2026-10-15"}))
	require.NoError(t, store.UpsertReplace(ctx, models.MessageCount{ID: "guild-1", Count: 1, Day: "2026-10-16"}))

	doc, found, err := store.FindOne(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 1, doc.Count)
	require.Equal(t, "2026-10-16", doc.Day)

	var rows int64
	require.NoError(t, db.Model(&models.MessageCount{}).Count(&rows).Error)
	require.EqualValues(t, 1, rows)
}

func TestDatabaseStore_UpsertReplaceJSONColumns(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore[models.DataCollectionPolicy](db)
	ctx := context.Background()

	require.NoError(t, store.UpsertReplace(ctx, models.DataCollectionPolicy{
		ID:      "guild-1",
		Allowed: datatypes.JSONSlice[string]{"u1", "u2"},
	}))
	require.NoError(t, store.UpsertReplace(ctx, models.DataCollectionPolicy{
		ID:      "guild-1",
		Allowed: datatypes.JSONSlice[string]{"u2"},
	}))

	doc, found, err := store.FindOne(ctx, "guild-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []string{"u2"}, []string(doc.Allowed))
}

func TestDatabaseStore_UpsertReplaceRequiresID(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore[models.MessageCount](db)

	err := store.UpsertReplace(context.Background(), models.MessageCount{Count: 1})
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestDatabaseStore_Delete(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore[models.UserInfo](db)
	ctx := context.Background()

	require.NoError(t, store.UpsertReplace(ctx, models.UserInfo{ID: "user-1", Bio: "hello"}))
	require.NoError(t, store.Delete(ctx, "user-1"))
	require.NoError(t, store.Delete(ctx, "user-1"))

	_, found, err := store.FindOne(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestDatabaseStore_FindOneMalformedRecord(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore[models.DataCollectionPolicy](db)

	require.NoError(t, db.Exec(
		"INSERT INTO data_collection_policies (id, allowed) VALUES (?, ?)",
		"guild-1", "{not json",
	).Error)

	_, found, err := store.FindOne(context.Background(), "guild-1")
	require.False(t, found)
	require.ErrorIs(t, err, apperrors.ErrInvalidRecord)
}

func TestDatabaseStore_Unavailable(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore[models.MessageCount](db)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, _, err = store.FindOne(context.Background(), "guild-1")
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)

	err = store.UpsertReplace(context.Background(), models.MessageCount{ID: "guild-1"})
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

func TestDatabaseStore_NilReceiver(t *testing.T) {
	var store *DatabaseStore[models.MessageCount]
	require.Nil(t, NewDatabaseStore[models.MessageCount](nil))

	_, _, err := store.FindOne(context.Background(), "guild-1")
	require.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
}

func TestIsScanError(t *testing.T) {
	syntaxErr := json.Unmarshal([]byte("{not json"), &[]string{})
	typeErr := json.Unmarshal([]byte(`"many"`), new(int64))
	_, numErr := strconv.ParseInt("many", 10, 64)

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "json syntax", err: fmt.Errorf("decode allowed: %w", syntaxErr), want: true},
		{name: "json type", err: typeErr, want: true},
		{name: "number conversion", err: numErr, want: true},
		{name: "database/sql scan", err: errors.New(`sql: Scan error on column index 1, name "count": converting driver.Value type string ("many") to a int64: invalid syntax`), want: true},
		{name: "driver error mentioning scan", err: errors.New("read tcp 10.0.0.5:5432: scan error: connection reset by peer"), want: false},
		{name: "driver error mentioning unmarshal", err: errors.New("redis proxy: cannot unmarshal handshake"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, isScanError(tt.err))
		})
	}
}
