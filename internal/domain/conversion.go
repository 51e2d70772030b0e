package domain

import (
	"errors"
	"time"
)

// TimestampLayout is the date-time format the ads platform expects for
// conversion_date_time, also used for every stamped field in a document.
const TimestampLayout = "2006-01-02 15:04:05-07:00"

// MaxAttempts bounds automatic retries; records at or above it are never
// selected by the retry scan again.
const MaxAttempts = 5

// StatusCode is the lifecycle state of a conversion record.
type StatusCode string

const (
	StatusNew     StatusCode = "new"
	StatusSuccess StatusCode = "success"
	StatusError   StatusCode = "error"
)

// ErrCampaignNotFound is returned by a campaign directory when no document
// exists for the requested campaign id.
var ErrCampaignNotFound = errors.New("campaign not found")

// Detail is the outbound payload of a conversion. GCLID is the storage key.
type Detail struct {
	GCLID              string
	ConversionDateTime string
	ConversionAction   string
	OrderID            *string
	ConversionValue    *string
}

// Status is the mutable tracking block of a conversion.
type Status struct {
	Current     StatusCode
	Message     string
	Attempts    int
	LastAttempt *string
	TestMode    bool
}

// Meta records where a conversion came from. URL and Query are diagnostic only.
type Meta struct {
	CampaignID string
	URL        string
	Date       string
	Query      map[string]string
}

// ConversionDocument is the persisted shape of one conversion record.
type ConversionDocument struct {
	Detail Detail
	Status Status
	Meta   Meta
}

// Campaign maps a campaign id to the ads platform conversion action.
type Campaign struct {
	CampaignID string
	Name       string
}

// FormatTimestamp renders t in TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
