//go:build sql
// +build sql

package auctiondb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestSQLStore runs the store tests against a Postgres instance in docker.
func TestSQLStore(t *testing.T) {
	sqlFixture := NewTestPgFixture(t, time.Minute)
	defer sqlFixture.TearDown(t)

	store := sqlFixture.NewSQLStore(t)
	defer store.Close()
	require.NoError(t, store.Init(context.Background()))

	testStoreBackend(t, store)

	// Removed orders stay in the database as history.
	var count int64
	err := store.db.Unscoped().Model(&SQLOrder{}).Count(&count).Error
	require.NoError(t, err)
	require.EqualValues(t, 3, count)
}
