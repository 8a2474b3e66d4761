package order

import (
	"fmt"

	"github.com/google/btree"
	"github.com/optionvault/vendue/account"
	"github.com/optionvault/vendue/auction"
)

// bookDegree is the degree of the B-tree backing the book.
const bookDegree = 16

// Book is the order book of a single epoch. Orders are kept in a B-tree in
// priority order, which is descending price and ascending ID for orders of the
// same price. Next to the tree the book keeps an ID index and the claim set
// of every buyer, which is the set of order IDs the buyer can withdraw or
// cancel. An order is always in all three or in none of them.
//
// The book is not safe for concurrent use, callers serialize access.
type Book struct {
	epoch auction.Epoch

	tree   *btree.BTreeG[*Order]
	byID   map[ID]*Order
	claims map[account.Address]map[ID]struct{}

	lastID ID
}

// NewBook creates an empty book for the given epoch. lastID is the ID of the
// latest order ever submitted to the epoch, zero for a new epoch.
func NewBook(epoch auction.Epoch, lastID ID) *Book {
	return &Book{
		epoch: epoch,
		tree: btree.NewG(bookDegree, func(a, b *Order) bool {
			return a.Before(b)
		}),
		byID:   make(map[ID]*Order),
		claims: make(map[account.Address]map[ID]struct{}),
		lastID: lastID,
	}
}

// Epoch returns the epoch of the book.
func (b *Book) Epoch() auction.Epoch {
	return b.epoch
}

// NextID returns the ID the next submitted order receives.
func (b *Book) NextID() ID {
	return b.lastID + 1
}

// LastID returns the ID of the latest order ever inserted.
func (b *Book) LastID() ID {
	return b.lastID
}

// Rewind resets the ID of the latest order. It is used to hand out an ID again
// after the insert of its order was undone.
func (b *Book) Rewind(lastID ID) {
	b.lastID = lastID
}

// Len returns the number of orders in the book.
func (b *Book) Len() int {
	return b.tree.Len()
}

// Insert adds an order to the book and to its buyer's claim set.
func (b *Book) Insert(o *Order) error {
	switch {
	case o.ID == 0:
		return ErrInvalidOrderID

	case o.Epoch != b.epoch:
		return fmt.Errorf("order of epoch %d inserted into book of "+
			"epoch %d", o.Epoch, b.epoch)
	}

	if _, ok := b.byID[o.ID]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateOrder, o.ID)
	}

	b.tree.ReplaceOrInsert(o)
	b.byID[o.ID] = o

	claims, ok := b.claims[o.Buyer]
	if !ok {
		claims = make(map[ID]struct{})
		b.claims[o.Buyer] = claims
	}
	claims[o.ID] = struct{}{}

	if o.ID > b.lastID {
		b.lastID = o.ID
	}

	return nil
}

// Remove takes an order out of the book and its buyer's claim set and returns
// it.
func (b *Book) Remove(id ID) (*Order, error) {
	if id == 0 {
		return nil, ErrInvalidOrderID
	}

	o, ok := b.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, id)
	}

	b.tree.Delete(o)
	delete(b.byID, id)

	claims := b.claims[o.Buyer]
	delete(claims, id)
	if len(claims) == 0 {
		delete(b.claims, o.Buyer)
	}

	return o, nil
}

// Get returns the order with the given ID. The returned order must not be
// modified.
func (b *Book) Get(id ID) (*Order, bool) {
	o, ok := b.byID[id]
	return o, ok
}

// Descend calls cb for every order in priority order until cb returns false.
func (b *Book) Descend(cb func(o *Order) bool) {
	b.tree.Ascend(func(o *Order) bool {
		return cb(o)
	})
}

// Orders returns all orders in priority order.
func (b *Book) Orders() []*Order {
	orders := make([]*Order, 0, b.tree.Len())
	b.Descend(func(o *Order) bool {
		orders = append(orders, o)
		return true
	})

	return orders
}

// OrdersOf returns the orders in the claim set of the given buyer in priority
// order.
func (b *Book) OrdersOf(buyer account.Address) []*Order {
	claims := b.claims[buyer]
	if len(claims) == 0 {
		return nil
	}

	orders := make([]*Order, 0, len(claims))
	b.Descend(func(o *Order) bool {
		if _, ok := claims[o.ID]; ok {
			orders = append(orders, o)
		}

		return len(orders) < len(claims)
	})

	return orders
}

// Claims returns the number of orders the given buyer holds in the book.
func (b *Book) Claims(buyer account.Address) int {
	return len(b.claims[buyer])
}
