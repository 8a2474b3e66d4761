package auctiondb

import (
	"context"
	"time"

	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/fixedpoint"
	"github.com/optionvault/vendue/order"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLAuction is the SQL model of an auction record. Fixed-point values are
// stored as their number of base units.
type SQLAuction struct {
	Epoch              uint64 `gorm:"primaryKey;autoIncrement:false"`
	StartTime          time.Time
	EndTime            time.Time
	Duration           int64
	MaxPrice           int64
	MinPrice           int64
	PricesSet          bool
	ClearingPrice      int64
	Strike             int64
	ClaimID            string
	TotalContracts     int64
	TotalContractsSold int64
	TotalPremium       int64
	PremiumTransferred bool
	Status             uint8
	BoundaryOrder      uint64
	BoundaryFill       int64
	LastOrderID        uint64
	CashSettled        bool
	ExerciseValue      int64
}

// SQLOrder is the SQL model of an order. Orders that left the book are soft
// deleted so the SQL database keeps the full order history.
type SQLOrder struct {
	Epoch       uint64 `gorm:"primaryKey;autoIncrement:false"`
	ID          uint64 `gorm:"primaryKey;autoIncrement:false"`
	Price       int64
	Size        int64
	Buyer       string `gorm:"index"`
	Origin      uint8
	Cost        int64
	SubmittedAt time.Time
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func newSQLAuction(rec *auction.Record) *SQLAuction {
	return &SQLAuction{
		Epoch:              uint64(rec.Epoch),
		StartTime:          rec.StartTime,
		EndTime:            rec.EndTime,
		Duration:           int64(rec.Duration),
		MaxPrice:           rec.MaxPrice.Units(),
		MinPrice:           rec.MinPrice.Units(),
		PricesSet:          rec.PricesSet,
		ClearingPrice:      rec.ClearingPrice.Units(),
		Strike:             rec.Strike.Units(),
		ClaimID:            string(rec.ClaimID),
		TotalContracts:     rec.TotalContracts.Units(),
		TotalContractsSold: rec.TotalContractsSold.Units(),
		TotalPremium:       rec.TotalPremium.Units(),
		PremiumTransferred: rec.PremiumTransferred,
		Status:             uint8(rec.Status),
		BoundaryOrder:      rec.BoundaryOrder,
		BoundaryFill:       rec.BoundaryFill.Units(),
		LastOrderID:        rec.LastOrderID,
		CashSettled:        rec.CashSettled,
		ExerciseValue:      rec.ExerciseValue.Units(),
	}
}

func (a *SQLAuction) toRecord() *auction.Record {
	return &auction.Record{
		Epoch:              auction.Epoch(a.Epoch),
		StartTime:          normalizeTime(a.StartTime),
		EndTime:            normalizeTime(a.EndTime),
		Duration:           time.Duration(a.Duration),
		MaxPrice:           fixedpoint.FromUnits(a.MaxPrice),
		MinPrice:           fixedpoint.FromUnits(a.MinPrice),
		PricesSet:          a.PricesSet,
		ClearingPrice:      fixedpoint.FromUnits(a.ClearingPrice),
		Strike:             fixedpoint.FromUnits(a.Strike),
		ClaimID:            account.AssetID(a.ClaimID),
		TotalContracts:     fixedpoint.FromUnits(a.TotalContracts),
		TotalContractsSold: fixedpoint.FromUnits(a.TotalContractsSold),
		TotalPremium:       fixedpoint.FromUnits(a.TotalPremium),
		PremiumTransferred: a.PremiumTransferred,
		Status:             auction.Status(a.Status),
		BoundaryOrder:      a.BoundaryOrder,
		BoundaryFill:       fixedpoint.FromUnits(a.BoundaryFill),
		LastOrderID:        a.LastOrderID,
		CashSettled:        a.CashSettled,
		ExerciseValue:      fixedpoint.FromUnits(a.ExerciseValue),
	}
}

func newSQLOrder(o *order.Order) *SQLOrder {
	return &SQLOrder{
		Epoch:       uint64(o.Epoch),
		ID:          uint64(o.ID),
		Price:       o.Price.Units(),
		Size:        o.Size.Units(),
		Buyer:       string(o.Buyer),
		Origin:      uint8(o.Origin),
		Cost:        o.Cost.Units(),
		SubmittedAt: o.SubmittedAt,
	}
}

func (o *SQLOrder) toOrder() *order.Order {
	return &order.Order{
		ID:          order.ID(o.ID),
		Epoch:       auction.Epoch(o.Epoch),
		Price:       fixedpoint.FromUnits(o.Price),
		Size:        fixedpoint.FromUnits(o.Size),
		Buyer:       account.Address(o.Buyer),
		Origin:      order.Origin(o.Origin),
		Cost:        fixedpoint.FromUnits(o.Cost),
		SubmittedAt: normalizeTime(o.SubmittedAt),
	}
}

// normalizeTime converts a time read from the database into the local time
// zone, the way all other backends return times.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}

	return time.Unix(0, t.UnixNano())
}

// UpdateAuction inserts or updates an auction record.
func (s *SQLTransaction) UpdateAuction(rec *auction.Record) error {
	return s.tx.Clauses(
		clause.OnConflict{UpdateAll: true},
	).Create(newSQLAuction(rec)).Error
}

// UpdateOrder inserts or updates an order.
func (s *SQLTransaction) UpdateOrder(o *order.Order) error {
	return s.tx.Clauses(
		clause.OnConflict{UpdateAll: true},
	).Create(newSQLOrder(o)).Error
}

// RemoveOrders soft deletes the orders with the given IDs from an epoch's
// book.
func (s *SQLTransaction) RemoveOrders(epoch auction.Epoch,
	ids []order.ID) error {

	if len(ids) == 0 {
		return nil
	}

	rawIDs := make([]uint64, len(ids))
	for idx, id := range ids {
		rawIDs[idx] = uint64(id)
	}

	return s.tx.Where(
		"epoch = ? AND id IN ?", uint64(epoch), rawIDs,
	).Delete(&SQLOrder{}).Error
}

// Auctions returns the auction records of all epochs, ordered by epoch.
func (s *SQLStore) Auctions(ctx context.Context) ([]*auction.Record, error) {
	if !s.initialized {
		return nil, errNotInitialized
	}

	var rows []SQLAuction
	err := s.db.WithContext(ctx).Order("epoch").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	records := make([]*auction.Record, 0, len(rows))
	for idx := range rows {
		records = append(records, rows[idx].toRecord())
	}

	return records, nil
}

// Orders returns all orders currently in the book of the given epoch.
func (s *SQLStore) Orders(ctx context.Context,
	epoch auction.Epoch) ([]*order.Order, error) {

	if !s.initialized {
		return nil, errNotInitialized
	}

	var rows []SQLOrder
	err := s.db.WithContext(ctx).Where(
		"epoch = ?", uint64(epoch),
	).Order("id").Find(&rows).Error
	if err != nil {
		return nil, err
	}

	orders := make([]*order.Order, 0, len(rows))
	for idx := range rows {
		orders = append(orders, rows[idx].toOrder())
	}

	return orders, nil
}

// PersistEpoch atomically stores the auction record and the order changes of
// an epoch in a single SQL transaction.
func (s *SQLStore) PersistEpoch(ctx context.Context, rec *auction.Record,
	upserts []*order.Order, removals []order.ID) error {

	if err := checkEpoch(rec, upserts); err != nil {
		return err
	}

	return s.Transaction(ctx, func(tx *SQLTransaction) error {
		if err := tx.UpdateAuction(rec); err != nil {
			return err
		}

		for _, o := range upserts {
			if err := tx.UpdateOrder(o); err != nil {
				return err
			}
		}

		return tx.RemoveOrders(rec.Epoch, removals)
	})
}
