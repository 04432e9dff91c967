package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offer is the current canonical state of one tracked offer.
type Offer struct {
	ID                  string
	Name                string
	Status              string
	Country             string
	CountryName         string
	Carrier             string
	Vertical            string
	Flow                string
	Payout              decimal.Decimal
	Currency            string
	DailyCap            *int64
	FilledCap           *int64
	TypeTraffic         string
	LastActivityRaw     *string
	LastActivityAt      *time.Time
	LastActivityMinutes *float64
	HasActivity         bool
	LastActivitySeenAt  *time.Time
	Priority            string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Snapshot is an append-only observation, written only when the offer's
// activity value or status changed.
type Snapshot struct {
	ID              int64
	OfferID         string
	ActivityRaw     *string
	ActivityMinutes *float64
	ActivityAt      *time.Time
	FilledCap       *int64
	Payout          decimal.Decimal
	Status          string
	CreatedAt       time.Time
}

// AlertRecord captures a delivered alert for de-duplication and auditing.
type AlertRecord struct {
	ID              int64
	OfferID         string
	Kind            string
	PreviousRaw     *string
	CurrentRaw      *string
	PreviousMinutes *float64
	CurrentMinutes  *float64
	PreviousStatus  string
	CurrentStatus   string
	CreatedAt       time.Time
}

// OfferFilter narrows ListOffers.
type OfferFilter struct {
	Priority string
	Limit    int
}
