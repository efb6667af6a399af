package models

import (
	"time"
)

// Availability is the closed set of stock states a product can be in.
// No other values are permitted downstream of normalization.
type Availability string

const (
	AvailabilityInStock    Availability = "In Stock"
	AvailabilityOutOfStock Availability = "Out of Stock"
	AvailabilityUnknown    Availability = "Unknown"
)

// DefaultCurrency is fixed for all records; it is never derived from
// scraped text.
const DefaultCurrency = "EUR"

// RawRecord is a product as it comes off a listing page, before
// normalization. RawText holds the card's concatenated descendant text
// (price and stock phrases included) and is the only place raw card text
// lives; typed fields are populated later by the cleaner.
type RawRecord struct {
	Name      string    `json:"name"`
	RawText   string    `json:"raw_text"`
	ImageURL  string    `json:"image_url,omitempty"`
	SourceURL string    `json:"source_url"`
	ScrapedAt time.Time `json:"scraped_at"`
}

// Product is a normalized record ready for storage. Name is the natural
// key used for dedup and upsert; two products sharing a display name are
// treated as the same product.
type Product struct {
	ID           int64        `json:"id,omitempty"`
	Name         string       `json:"name"`
	Price        float64      `json:"price"`
	Currency     string       `json:"currency"`
	Availability Availability `json:"availability"`
	ImageURL     string       `json:"image_url,omitempty"`
	SourceURL    string       `json:"source_url"`
	ScrapedAt    time.Time    `json:"scraped_at"`

	// Reserved for future extractors, never populated by this pipeline.
	Category string   `json:"category,omitempty"`
	Rating   *float64 `json:"rating,omitempty"`
}

func NewRawRecord(name, sourceURL string) RawRecord {
	return RawRecord{
		Name:      name,
		SourceURL: sourceURL,
		ScrapedAt: time.Now().UTC(),
	}
}

// HasPrice reports whether the price was resolved during normalization.
// Zero means unknown, not free.
func (p *Product) HasPrice() bool {
	return p.Price > 0
}

func (a Availability) Valid() bool {
	switch a {
	case AvailabilityInStock, AvailabilityOutOfStock, AvailabilityUnknown:
		return true
	}
	return false
}
