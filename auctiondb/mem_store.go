package auctiondb

import (
	"context"
	"sort"
	"sync"

	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/order"
)

// MemStore is a Store that keeps everything in memory. It is used by tests and
// the memory backend of the daemon.
type MemStore struct {
	sync.RWMutex

	initialized bool
	auctions    map[auction.Epoch]*auction.Record
	orders      map[auction.Epoch]map[order.ID]*order.Order
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		auctions: make(map[auction.Epoch]*auction.Record),
		orders:   make(map[auction.Epoch]map[order.ID]*order.Order),
	}
}

// Init marks the store as initialized.
func (s *MemStore) Init(context.Context) error {
	s.Lock()
	defer s.Unlock()

	if s.initialized {
		return errAlreadyInitialized
	}
	s.initialized = true

	return nil
}

// Auctions returns the auction records of all epochs, ordered by epoch.
func (s *MemStore) Auctions(context.Context) ([]*auction.Record, error) {
	s.RLock()
	defer s.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}

	records := make([]*auction.Record, 0, len(s.auctions))
	for _, rec := range s.auctions {
		records = append(records, rec.Copy())
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Epoch < records[j].Epoch
	})

	return records, nil
}

// Orders returns all orders currently in the book of the given epoch.
func (s *MemStore) Orders(_ context.Context,
	epoch auction.Epoch) ([]*order.Order, error) {

	s.RLock()
	defer s.RUnlock()

	if !s.initialized {
		return nil, errNotInitialized
	}

	orders := make([]*order.Order, 0, len(s.orders[epoch]))
	for _, o := range s.orders[epoch] {
		orders = append(orders, o.Copy())
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ID < orders[j].ID
	})

	return orders, nil
}

// PersistEpoch atomically stores the auction record and the order changes of
// an epoch.
func (s *MemStore) PersistEpoch(_ context.Context, rec *auction.Record,
	upserts []*order.Order, removals []order.ID) error {

	s.Lock()
	defer s.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if err := checkEpoch(rec, upserts); err != nil {
		return err
	}

	s.auctions[rec.Epoch] = rec.Copy()

	book, ok := s.orders[rec.Epoch]
	if !ok {
		book = make(map[order.ID]*order.Order)
		s.orders[rec.Epoch] = book
	}
	for _, o := range upserts {
		book[o.ID] = o.Copy()
	}
	for _, id := range removals {
		delete(book, id)
	}

	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemStore) Close() error {
	return nil
}
