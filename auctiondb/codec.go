package auctiondb

import (
	"bytes"
	"io"
	"time"

	"github.com/lightningnetwork/lnd/tlv"
	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
	"github.com/optionvault/vendue/fixedpoint"
	"github.com/optionvault/vendue/order"
)

const (
	recordEpochType              tlv.Type = 0
	recordStartType              tlv.Type = 1
	recordEndType                tlv.Type = 2
	recordDurationType           tlv.Type = 3
	recordMaxPriceType           tlv.Type = 4
	recordMinPriceType           tlv.Type = 5
	recordPricesSetType          tlv.Type = 6
	recordClearingPriceType      tlv.Type = 7
	recordStrikeType             tlv.Type = 8
	recordClaimIDType            tlv.Type = 9
	recordTotalContractsType     tlv.Type = 10
	recordTotalSoldType          tlv.Type = 11
	recordTotalPremiumType       tlv.Type = 12
	recordPremiumTransferredType tlv.Type = 13
	recordStatusType             tlv.Type = 14
	recordBoundaryOrderType      tlv.Type = 15
	recordBoundaryFillType       tlv.Type = 16
	recordLastOrderIDType        tlv.Type = 17
	recordCashSettledType        tlv.Type = 18
	recordExerciseValueType      tlv.Type = 19

	orderIDType          tlv.Type = 0
	orderEpochType       tlv.Type = 1
	orderPriceType       tlv.Type = 2
	orderSizeType        tlv.Type = 3
	orderBuyerType       tlv.Type = 4
	orderOriginType      tlv.Type = 5
	orderCostType        tlv.Type = 6
	orderSubmittedAtType tlv.Type = 7
)

// encodedRecord holds the wire representation of all auction record fields.
type encodedRecord struct {
	epoch              uint64
	start              uint64
	end                uint64
	duration           uint64
	maxPrice           uint64
	minPrice           uint64
	pricesSet          uint8
	clearingPrice      uint64
	strike             uint64
	claimID            []byte
	totalContracts     uint64
	totalSold          uint64
	totalPremium       uint64
	premiumTransferred uint8
	status             uint8
	boundaryOrder      uint64
	boundaryFill       uint64
	lastOrderID        uint64
	cashSettled        uint8
	exerciseValue      uint64
}

func (e *encodedRecord) stream() (*tlv.Stream, error) {
	return tlv.NewStream(
		tlv.MakePrimitiveRecord(recordEpochType, &e.epoch),
		tlv.MakePrimitiveRecord(recordStartType, &e.start),
		tlv.MakePrimitiveRecord(recordEndType, &e.end),
		tlv.MakePrimitiveRecord(recordDurationType, &e.duration),
		tlv.MakePrimitiveRecord(recordMaxPriceType, &e.maxPrice),
		tlv.MakePrimitiveRecord(recordMinPriceType, &e.minPrice),
		tlv.MakePrimitiveRecord(recordPricesSetType, &e.pricesSet),
		tlv.MakePrimitiveRecord(
			recordClearingPriceType, &e.clearingPrice,
		),
		tlv.MakePrimitiveRecord(recordStrikeType, &e.strike),
		tlv.MakePrimitiveRecord(recordClaimIDType, &e.claimID),
		tlv.MakePrimitiveRecord(
			recordTotalContractsType, &e.totalContracts,
		),
		tlv.MakePrimitiveRecord(recordTotalSoldType, &e.totalSold),
		tlv.MakePrimitiveRecord(
			recordTotalPremiumType, &e.totalPremium,
		),
		tlv.MakePrimitiveRecord(
			recordPremiumTransferredType, &e.premiumTransferred,
		),
		tlv.MakePrimitiveRecord(recordStatusType, &e.status),
		tlv.MakePrimitiveRecord(
			recordBoundaryOrderType, &e.boundaryOrder,
		),
		tlv.MakePrimitiveRecord(
			recordBoundaryFillType, &e.boundaryFill,
		),
		tlv.MakePrimitiveRecord(recordLastOrderIDType, &e.lastOrderID),
		tlv.MakePrimitiveRecord(recordCashSettledType, &e.cashSettled),
		tlv.MakePrimitiveRecord(
			recordExerciseValueType, &e.exerciseValue,
		),
	)
}

// SerializeRecord encodes an auction record as a single tlv stream.
func SerializeRecord(w io.Writer, rec *auction.Record) error {
	e := &encodedRecord{
		epoch:              uint64(rec.Epoch),
		start:              encodeTime(rec.StartTime),
		end:                encodeTime(rec.EndTime),
		duration:           uint64(rec.Duration),
		maxPrice:           encodeFixed(rec.MaxPrice),
		minPrice:           encodeFixed(rec.MinPrice),
		pricesSet:          encodeBool(rec.PricesSet),
		clearingPrice:      encodeFixed(rec.ClearingPrice),
		strike:             encodeFixed(rec.Strike),
		claimID:            []byte(rec.ClaimID),
		totalContracts:     encodeFixed(rec.TotalContracts),
		totalSold:          encodeFixed(rec.TotalContractsSold),
		totalPremium:       encodeFixed(rec.TotalPremium),
		premiumTransferred: encodeBool(rec.PremiumTransferred),
		status:             uint8(rec.Status),
		boundaryOrder:      rec.BoundaryOrder,
		boundaryFill:       encodeFixed(rec.BoundaryFill),
		lastOrderID:        rec.LastOrderID,
		cashSettled:        encodeBool(rec.CashSettled),
		exerciseValue:      encodeFixed(rec.ExerciseValue),
	}

	tlvStream, err := e.stream()
	if err != nil {
		return err
	}

	return tlvStream.Encode(w)
}

// DeserializeRecord decodes an auction record from a single tlv stream.
func DeserializeRecord(r io.Reader) (*auction.Record, error) {
	e := &encodedRecord{}
	tlvStream, err := e.stream()
	if err != nil {
		return nil, err
	}

	if err := tlvStream.Decode(r); err != nil {
		return nil, err
	}

	return &auction.Record{
		Epoch:              auction.Epoch(e.epoch),
		StartTime:          decodeTime(e.start),
		EndTime:            decodeTime(e.end),
		Duration:           time.Duration(e.duration),
		MaxPrice:           decodeFixed(e.maxPrice),
		MinPrice:           decodeFixed(e.minPrice),
		PricesSet:          e.pricesSet != 0,
		ClearingPrice:      decodeFixed(e.clearingPrice),
		Strike:             decodeFixed(e.strike),
		ClaimID:            account.AssetID(e.claimID),
		TotalContracts:     decodeFixed(e.totalContracts),
		TotalContractsSold: decodeFixed(e.totalSold),
		TotalPremium:       decodeFixed(e.totalPremium),
		PremiumTransferred: e.premiumTransferred != 0,
		Status:             auction.Status(e.status),
		BoundaryOrder:      e.boundaryOrder,
		BoundaryFill:       decodeFixed(e.boundaryFill),
		LastOrderID:        e.lastOrderID,
		CashSettled:        e.cashSettled != 0,
		ExerciseValue:      decodeFixed(e.exerciseValue),
	}, nil
}

// encodedOrder holds the wire representation of all order fields.
type encodedOrder struct {
	id          uint64
	epoch       uint64
	price       uint64
	size        uint64
	buyer       []byte
	origin      uint8
	cost        uint64
	submittedAt uint64
}

func (e *encodedOrder) stream() (*tlv.Stream, error) {
	return tlv.NewStream(
		tlv.MakePrimitiveRecord(orderIDType, &e.id),
		tlv.MakePrimitiveRecord(orderEpochType, &e.epoch),
		tlv.MakePrimitiveRecord(orderPriceType, &e.price),
		tlv.MakePrimitiveRecord(orderSizeType, &e.size),
		tlv.MakePrimitiveRecord(orderBuyerType, &e.buyer),
		tlv.MakePrimitiveRecord(orderOriginType, &e.origin),
		tlv.MakePrimitiveRecord(orderCostType, &e.cost),
		tlv.MakePrimitiveRecord(orderSubmittedAtType, &e.submittedAt),
	)
}

// SerializeOrder encodes an order as a single tlv stream.
func SerializeOrder(w io.Writer, o *order.Order) error {
	e := &encodedOrder{
		id:          uint64(o.ID),
		epoch:       uint64(o.Epoch),
		price:       encodeFixed(o.Price),
		size:        encodeFixed(o.Size),
		buyer:       []byte(o.Buyer),
		origin:      uint8(o.Origin),
		cost:        encodeFixed(o.Cost),
		submittedAt: encodeTime(o.SubmittedAt),
	}

	tlvStream, err := e.stream()
	if err != nil {
		return err
	}

	return tlvStream.Encode(w)
}

// DeserializeOrder decodes an order from a single tlv stream.
func DeserializeOrder(r io.Reader) (*order.Order, error) {
	e := &encodedOrder{}
	tlvStream, err := e.stream()
	if err != nil {
		return nil, err
	}

	if err := tlvStream.Decode(r); err != nil {
		return nil, err
	}

	return &order.Order{
		ID:          order.ID(e.id),
		Epoch:       auction.Epoch(e.epoch),
		Price:       decodeFixed(e.price),
		Size:        decodeFixed(e.size),
		Buyer:       account.Address(e.buyer),
		Origin:      order.Origin(e.origin),
		Cost:        decodeFixed(e.cost),
		SubmittedAt: decodeTime(e.submittedAt),
	}, nil
}

// encodeRecord returns the serialized form of an auction record.
func encodeRecord(rec *auction.Record) ([]byte, error) {
	var b bytes.Buffer
	if err := SerializeRecord(&b, rec); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// encodeOrder returns the serialized form of an order.
func encodeOrder(o *order.Order) ([]byte, error) {
	var b bytes.Buffer
	if err := SerializeOrder(&b, o); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func encodeFixed(f fixedpoint.Fixed) uint64 {
	return uint64(f.Units())
}

func decodeFixed(u uint64) fixedpoint.Fixed {
	return fixedpoint.FromUnits(int64(u))
}

func encodeTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}

	return uint64(t.UnixNano())
}

func decodeTime(u uint64) time.Time {
	if u == 0 {
		return time.Time{}
	}

	return time.Unix(0, int64(u))
}

func encodeBool(b bool) uint8 {
	if b {
		return 1
	}

	return 0
}
