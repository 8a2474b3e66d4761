package auctiondb

import (
	"context"
	"io/ioutil"
	"net"
	"os"
	"testing"

	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/fixedpoint"
	"github.com/optionvault/vendue/order"
	"github.com/stretchr/testify/require"
)

// getFreePort returns a random open TCP port.
func getFreePort() int {
	ln, err := net.Listen("tcp", "[::]:0")
	if err != nil {
		panic(err)
	}

	port := ln.Addr().(*net.TCPAddr).Port

	err = ln.Close()
	if err != nil {
		panic(err)
	}

	return port
}

// testStoreBackend runs the same set of operations against any Store
// implementation.
func testStoreBackend(t *testing.T, store Store) {
	ctxb := context.Background()

	// An empty store has no auctions.
	records, err := store.Auctions(ctxb)
	require.NoError(t, err)
	require.Empty(t, records)

	orders, err := store.Orders(ctxb, 1)
	require.NoError(t, err)
	require.Empty(t, orders)

	// Persist two epochs out of order with a couple of orders.
	rec2 := newTestRecord(2)
	require.NoError(t, store.PersistEpoch(ctxb, rec2, nil, nil))

	rec1 := newTestRecord(1)
	o1, o2, o3 := newTestOrder(1, 1), newTestOrder(1, 2), newTestOrder(1, 3)
	err = store.PersistEpoch(
		ctxb, rec1, []*order.Order{o3, o1, o2}, nil,
	)
	require.NoError(t, err)

	records, err = store.Auctions(ctxb)
	require.NoError(t, err)
	require.Equal(t, []*auction.Record{rec1, rec2}, records)

	orders, err = store.Orders(ctxb, 1)
	require.NoError(t, err)
	require.Equal(t, []*order.Order{o1, o2, o3}, orders)

	orders, err = store.Orders(ctxb, 2)
	require.NoError(t, err)
	require.Empty(t, orders)

	// Update the record and remove an order atomically.
	rec1.Status = auction.StatusFinalized
	rec1.TotalContractsSold = fixedpoint.MustParse("100")
	err = store.PersistEpoch(ctxb, rec1, nil, []order.ID{2})
	require.NoError(t, err)

	records, err = store.Auctions(ctxb)
	require.NoError(t, err)
	require.Equal(t, rec1, records[0])

	orders, err = store.Orders(ctxb, 1)
	require.NoError(t, err)
	require.Equal(t, []*order.Order{o1, o3}, orders)

	// Orders of the wrong epoch are rejected and nothing is written.
	err = store.PersistEpoch(
		ctxb, rec2, []*order.Order{newTestOrder(1, 4)}, nil,
	)
	require.Error(t, err)

	orders, err = store.Orders(ctxb, 2)
	require.NoError(t, err)
	require.Empty(t, orders)
}

// TestMemStore runs the store tests against the in-memory backend.
func TestMemStore(t *testing.T) {
	t.Parallel()

	store := NewMemStore()
	_, err := store.Auctions(context.Background())
	require.ErrorIs(t, err, errNotInitialized)

	require.NoError(t, store.Init(context.Background()))
	require.ErrorIs(
		t, store.Init(context.Background()), errAlreadyInitialized,
	)

	testStoreBackend(t, store)
}

// TestBoltStore runs the store tests against the bolt backend and makes sure
// the data survives a restart.
func TestBoltStore(t *testing.T) {
	t.Parallel()

	tempDir, err := ioutil.TempDir("", "bolt")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	cfg := &BoltConfig{DBPath: tempDir}
	store, err := NewBoltStore(cfg)
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))

	testStoreBackend(t, store)
	require.NoError(t, store.Close())

	store, err = NewBoltStore(cfg)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Init(context.Background()))

	records, err := store.Auctions(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
}

// TestSQLConfigDSN makes sure the password can be hidden from logs.
func TestSQLConfigDSN(t *testing.T) {
	t.Parallel()

	cfg := &SQLConfig{
		Host: "localhost", Port: 5432, User: "u", Password: "secret",
		DBName: "vendue",
	}
	require.Equal(
		t, "user=u password=secret dbname=vendue host=localhost "+
			"port=5432 sslmode=disable",
		cfg.DSN(false),
	)
	require.NotContains(t, cfg.DSN(true), "secret")
}
