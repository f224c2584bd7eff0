// Package event provides the interaction event model and the append-only
// event store used by the ingestion and aggregation pipeline.
package event

import (
	"errors"
	"fmt"
	"time"
)

// Type identifies the kind of user interaction an event records.
type Type string

// Recognized event types.
const (
	TypeView      Type = "view"
	TypeLike      Type = "like"
	TypeUnlike    Type = "unlike"
	TypeAddToCart Type = "add_to_cart"
	TypePurchase  Type = "purchase"
	TypeCheckout  Type = "checkout"
	TypeClick     Type = "click"
	TypeCustom    Type = "custom"
)

// Scope selects whether an aggregate query targets a store or a product.
type Scope string

// Aggregation scopes.
const (
	ScopeStore   Scope = "store"
	ScopeProduct Scope = "product"
)

// Common errors for event operations.
var (
	ErrInvalidEventType = errors.New("unrecognized event type")
	ErrInvalidRange     = errors.New("from must not be after to")
)

// validTypes is the set of recognized event types.
var validTypes = map[Type]struct{}{
	TypeView:      {},
	TypeLike:      {},
	TypeUnlike:    {},
	TypeAddToCart: {},
	TypePurchase:  {},
	TypeCheckout:  {},
	TypeClick:     {},
	TypeCustom:    {},
}

// Event is an immutable record of a single user interaction.
// StoreID, ProductID, and UserID are optional so anonymous or
// store-level-only events can be recorded.
type Event struct {
	ID        string            `json:"id"`
	StoreID   *string           `json:"store_id,omitempty"`
	ProductID *string           `json:"product_id,omitempty"`
	UserID    *string           `json:"user_id,omitempty"`
	EventType Type              `json:"event_type"`
	Value     *float64          `json:"value,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Validate checks that the event carries a recognized event type.
func (e *Event) Validate() error {
	if _, ok := validTypes[e.EventType]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidEventType, e.EventType)
	}
	return nil
}

// ValidateRange checks that an optional [from, to] range is well formed.
// A nil bound means unbounded on that side.
func ValidateRange(from, to *time.Time) error {
	if from != nil && to != nil && from.After(*to) {
		return ErrInvalidRange
	}
	return nil
}

// InRange reports whether t falls within the inclusive [from, to] range.
// A nil bound is unbounded on that side.
func InRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

// Totals holds conditional sums over events in a range.
// Revenue is the sum of Value over purchase events only; Checkouts is
// only meaningful at store scope.
type Totals struct {
	Views      int64   `json:"views"`
	Purchases  int64   `json:"purchases"`
	AddToCarts int64   `json:"add_to_carts"`
	Checkouts  int64   `json:"checkouts"`
	Revenue    float64 `json:"revenue"`
}

// ProductConversion is one row of a top-N-by-conversion query.
type ProductConversion struct {
	ProductID      string  `json:"product_id"`
	Views          int64   `json:"views"`
	Purchases      int64   `json:"purchases"`
	Revenue        float64 `json:"revenue"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Rate divides numerator by denominator, returning 0 when the
// denominator is 0. All conversion math goes through this guard.
func Rate(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}
