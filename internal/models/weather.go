package models

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Bounds for capture timestamps. A record may not claim to be from the
// future beyond ordinary clock skew, nor predate the retention horizon.
const (
	ClockSkewTolerance = time.Hour
	MaxRecordAge       = 365 * 24 * time.Hour
)

var (
	ErrTimestampInFuture = errors.New("timestamp too far in the future")
	ErrTimestampTooOld   = errors.New("timestamp older than retention horizon")
)

// WeatherRecord is one snapshot of conditions for a place at a point in
// time. Place is the normalized lookup key; PlaceDisplay preserves the
// caller's original spelling.
type WeatherRecord struct {
	Place         string    `json:"place" validate:"required"`
	PlaceDisplay  string    `json:"placeDisplay,omitempty"`
	Temperature   float64   `json:"temperature"`
	Description   string    `json:"description"`
	Humidity      int       `json:"humidity" validate:"gte=0,lte=100"`
	Pressure      float64   `json:"pressure"`
	WindSpeed     float64   `json:"windSpeed" validate:"gte=0"`
	WindDirection *int      `json:"windDirection,omitempty" validate:"omitempty,gte=0,lte=360"`
	Visibility    *float64  `json:"visibility,omitempty" validate:"omitempty,gte=0"`
	Timestamp     time.Time `json:"timestamp" validate:"required"`
	Source        string    `json:"source" validate:"required"`
}

// Validate checks field ranges and timestamp sanity. Timestamps are
// compared in UTC; a zoneless timestamp must already have been stamped
// UTC by the caller that parsed it.
func (r WeatherRecord) Validate() error {
	if err := validate.Struct(r); err != nil {
		return err
	}
	now := time.Now().UTC()
	ts := r.Timestamp.UTC()
	if ts.After(now.Add(ClockSkewTolerance)) {
		return ErrTimestampInFuture
	}
	if ts.Before(now.Add(-MaxRecordAge)) {
		return ErrTimestampTooOld
	}
	return nil
}
