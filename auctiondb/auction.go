package auctiondb

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/order"
	conc "go.etcd.io/etcd/client/v3/concurrency"
)

// getAuctionKey returns the key path of an epoch's auction record.
func (s *EtcdStore) getAuctionKey(epoch auction.Epoch) string {
	// vendue/<network>/auction/<epoch>.
	return s.getKeyPrefix(auctionPrefix) + keyDelimiter +
		fmt.Sprintf("%020d", epoch)
}

// getOrderPrefix returns the key prefix of all orders of an epoch.
func (s *EtcdStore) getOrderPrefix(epoch auction.Epoch) string {
	// vendue/<network>/order/<epoch>/.
	return s.getKeyPrefix(orderPrefix) + keyDelimiter +
		fmt.Sprintf("%020d", epoch) + keyDelimiter
}

// getOrderKey returns the key path of a single order.
func (s *EtcdStore) getOrderKey(epoch auction.Epoch, id order.ID) string {
	// vendue/<network>/order/<epoch>/<id>.
	return s.getOrderPrefix(epoch) + fmt.Sprintf("%020d", id)
}

// Auctions returns the auction records of all epochs, ordered by epoch.
func (s *EtcdStore) Auctions(ctx context.Context) ([]*auction.Record, error) {
	if !s.initialized {
		return nil, errNotInitialized
	}

	resultMap, err := s.getAllValuesByPrefix(
		ctx, s.getKeyPrefix(auctionPrefix)+keyDelimiter,
	)
	if err != nil {
		return nil, err
	}

	records := make([]*auction.Record, 0, len(resultMap))
	for key, value := range resultMap {
		rec, err := DeserializeRecord(bytes.NewReader(value))
		if err != nil {
			return nil, fmt.Errorf("unable to decode auction %s: %w",
				key, err)
		}

		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Epoch < records[j].Epoch
	})

	return records, nil
}

// Orders returns all orders currently in the book of the given epoch.
func (s *EtcdStore) Orders(ctx context.Context,
	epoch auction.Epoch) ([]*order.Order, error) {

	if !s.initialized {
		return nil, errNotInitialized
	}

	resultMap, err := s.getAllValuesByPrefix(ctx, s.getOrderPrefix(epoch))
	if err != nil {
		return nil, err
	}

	orders := make([]*order.Order, 0, len(resultMap))
	for key, value := range resultMap {
		o, err := DeserializeOrder(bytes.NewReader(value))
		if err != nil {
			return nil, fmt.Errorf("unable to decode order %s: %w",
				key, err)
		}

		orders = append(orders, o)
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ID < orders[j].ID
	})

	return orders, nil
}

// PersistEpoch atomically stores the auction record of an epoch together with
// all order changes in a single STM transaction.
func (s *EtcdStore) PersistEpoch(ctx context.Context, rec *auction.Record,
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

	orderBytes := make([][]byte, len(upserts))
	for idx, o := range upserts {
		orderBytes[idx], err = encodeOrder(o)
		if err != nil {
			return err
		}
	}

	_, err = s.defaultSTM(ctx, func(stm conc.STM) error {
		stm.Put(s.getAuctionKey(rec.Epoch), string(recBytes))

		for idx, o := range upserts {
			stm.Put(
				s.getOrderKey(rec.Epoch, o.ID),
				string(orderBytes[idx]),
			)
		}

		for _, id := range removals {
			stm.Del(s.getOrderKey(rec.Epoch, id))
		}

		return nil
	})
	if err != nil {
		return err
	}

	// Optionally mirror the updated auction and orders to SQL.
	if s.sqlMirror != nil {
		err := s.sqlMirror.PersistEpoch(ctx, rec, upserts, removals)
		if err != nil {
			log.Errorf("Unable to store epoch %d updates to SQL db: "+
				"%v", rec.Epoch, err)
		}
	}

	return nil
}
