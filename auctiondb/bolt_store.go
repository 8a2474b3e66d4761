package auctiondb

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lightningnetwork/lnd/kvdb"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/order"
)

const (
	// DBFilename is the default filename of the bolt database.
	DBFilename = "vendue.db"
)

var (
	// metaBucketKey is the top level bucket holding the db version.
	metaBucketKey = []byte("meta")

	// versionKey is the key of the db version within the meta bucket.
	versionKey = []byte("version")

	// auctionBucketKey is the top level bucket that stores the auction
	// records keyed by their big endian epoch.
	auctionBucketKey = []byte("auctions")

	// orderBucketKey is the top level bucket holding one nested bucket per
	// epoch, which stores the orders keyed by their big endian ID.
	orderBucketKey = []byte("orders")
)

// BoltConfig holds the configuration of the bolt backend.
type BoltConfig struct {
	DBPath         string `long:"dbpath" description:"Directory of the bolt database file"`
	NoFreelistSync bool   `long:"nofreelistsync" description:"Don't sync the freelist to disk, trading slower startup for faster writes"`
}

// BoltStore is a Store that keeps all data in a local bolt database, for
// single node deployments that don't run an etcd cluster.
type BoltStore struct {
	db kvdb.Backend

	initialized bool
}

// NewBoltStore opens or creates the bolt database in the configured
// directory.
func NewBoltStore(cfg *BoltConfig) (*BoltStore, error) {
	if err := os.MkdirAll(cfg.DBPath, 0700); err != nil {
		return nil, err
	}

	path := filepath.Join(cfg.DBPath, DBFilename)
	db, err := kvdb.Create(
		kvdb.BoltBackendName, path, cfg.NoFreelistSync,
		kvdb.DefaultDBTimeout,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to open bolt db %s: %w", path,
			err)
	}

	return &BoltStore{db: db}, nil
}

// Init creates the top level buckets and checks the db version.
func (s *BoltStore) Init(context.Context) error {
	if s.initialized {
		return errAlreadyInitialized
	}

	err := kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		meta, err := tx.CreateTopLevelBucket(metaBucketKey)
		if err != nil {
			return err
		}

		for _, key := range [][]byte{auctionBucketKey, orderBucketKey} {
			if _, err := tx.CreateTopLevelBucket(key); err != nil {
				return err
			}
		}

		rawVersion := meta.Get(versionKey)
		if rawVersion == nil {
			log.Infof("Initializing db with version %v",
				currentDbVersion)

			var b [4]byte
			binary.BigEndian.PutUint32(b[:], currentDbVersion)
			return meta.Put(versionKey, b[:])
		}

		version := binary.BigEndian.Uint32(rawVersion)
		log.Infof("Current db version %v, latest version %v", version,
			currentDbVersion)
		if version != currentDbVersion {
			return errDbVersionMismatch
		}

		return nil
	}, func() {})
	if err != nil {
		return err
	}

	s.initialized = true
	return nil
}

// Auctions returns the auction records of all epochs, ordered by epoch.
func (s *BoltStore) Auctions(context.Context) ([]*auction.Record, error) {
	if !s.initialized {
		return nil, errNotInitialized
	}

	var records []*auction.Record
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		bucket := tx.ReadBucket(auctionBucketKey)

		// Keys are big endian so the cursor returns them in epoch
		// order.
		return bucket.ForEach(func(k, v []byte) error {
			rec, err := DeserializeRecord(bytes.NewReader(v))
			if err != nil {
				return err
			}

			records = append(records, rec)
			return nil
		})
	}, func() {
		records = nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// Orders returns all orders currently in the book of the given epoch.
func (s *BoltStore) Orders(_ context.Context,
	epoch auction.Epoch) ([]*order.Order, error) {

	if !s.initialized {
		return nil, errNotInitialized
	}

	var orders []*order.Order
	err := kvdb.View(s.db, func(tx kvdb.RTx) error {
		epochBucket := tx.ReadBucket(orderBucketKey).NestedReadBucket(
			uint64Key(uint64(epoch)),
		)
		if epochBucket == nil {
			return nil
		}

		return epochBucket.ForEach(func(k, v []byte) error {
			o, err := DeserializeOrder(bytes.NewReader(v))
			if err != nil {
				return err
			}

			orders = append(orders, o)
			return nil
		})
	}, func() {
		orders = nil
	})
	if err != nil {
		return nil, err
	}

	return orders, nil
}

// PersistEpoch atomically stores the auction record and the order changes of
// an epoch in a single bolt transaction.
func (s *BoltStore) PersistEpoch(_ context.Context, rec *auction.Record,
	upserts []*order.Order, removals []order.ID) error {

	if !s.initialized {
		return errNotInitialized
	}
	if err := checkEpoch(rec, upserts); err != nil {
		return err
	}

	recBytes, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	return kvdb.Update(s.db, func(tx kvdb.RwTx) error {
		epochKey := uint64Key(uint64(rec.Epoch))

		err := tx.ReadWriteBucket(auctionBucketKey).Put(
			epochKey, recBytes,
		)
		if err != nil {
			return err
		}

		epochBucket, err := tx.ReadWriteBucket(
			orderBucketKey,
		).CreateBucketIfNotExists(epochKey)
		if err != nil {
			return err
		}

		for _, o := range upserts {
			orderBytes, err := encodeOrder(o)
			if err != nil {
				return err
			}

			err = epochBucket.Put(uint64Key(uint64(o.ID)), orderBytes)
			if err != nil {
				return err
			}
		}

		for _, id := range removals {
			err := epochBucket.Delete(uint64Key(uint64(id)))
			if err != nil {
				return err
			}
		}

		return nil
	}, func() {})
}

// Close closes the bolt database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// uint64Key returns the big endian encoding of a bucket key.
func uint64Key(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}
