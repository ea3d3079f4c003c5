package inventory

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrNotFound          = errors.New("inventory: lot not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	ErrConflict          = errors.New("inventory: concurrent modification")
)

// InsufficientStockError reports how much of a product is left when a deduction cannot be satisfied.
type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductName
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("inventory: product %s only has %d left (requested %d)", name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Lot is a discrete stock record for a product. A product's stock is the sum of its lots.
type Lot struct {
	ID             int64
	ProductID      string
	Stock          int
	Version        int64
	LastModifiedBy string
	UpdatedAt      time.Time
}

func (l *Lot) Deduct(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > l.Stock {
		return &InsufficientStockError{ProductID: l.ProductID, Requested: quantity, Available: l.Stock}
	}
	l.Stock -= quantity
	l.touch()
	return nil
}

func (l *Lot) Add(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	l.Stock += quantity
	l.touch()
	return nil
}

// Adjust sets the stock to an absolute value and returns the change.
func (l *Lot) Adjust(stock int, actor string) (int, error) {
	if stock < 0 {
		return 0, ErrInvalidQuantity
	}
	delta := stock - l.Stock
	l.Stock = stock
	l.LastModifiedBy = actor
	l.touch()
	return delta, nil
}

func (l *Lot) touch() {
	l.UpdatedAt = time.Now().UTC()
}

// Deduction is the quantity taken from one lot.
type Deduction struct {
	LotID    int64
	Quantity int
}

// Available sums the stock of the given lots.
func Available(lots []Lot) int {
	total := 0
	for _, l := range lots {
		total += l.Stock
	}
	return total
}

// PlanDeduction walks lots in ascending id order and returns how much to take from each so that the
// total equals quantity. Nothing is mutated; an InsufficientStockError is returned when the lots cannot
// cover the request.
func PlanDeduction(productID string, lots []Lot, quantity int) ([]Deduction, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if available := Available(lots); available < quantity {
		return nil, &InsufficientStockError{ProductID: productID, Requested: quantity, Available: available}
	}

	ordered := make([]Lot, len(lots))
	copy(ordered, lots)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	remaining := quantity
	plan := make([]Deduction, 0, len(ordered))
	for _, l := range ordered {
		if remaining == 0 {
			break
		}
		if l.Stock <= 0 {
			continue
		}
		take := min(l.Stock, remaining)
		plan = append(plan, Deduction{LotID: l.ID, Quantity: take})
		remaining -= take
	}
	return plan, nil
}

// CanonicalLot is the lot restores are credited to: the one with the lowest id.
func CanonicalLot(lots []Lot) (Lot, bool) {
	if len(lots) == 0 {
		return Lot{}, false
	}
	first := lots[0]
	for _, l := range lots[1:] {
		if l.ID < first.ID {
			first = l
		}
	}
	return first, true
}
