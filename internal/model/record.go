package model

import (
	"database/sql/driver"
	"fmt"
	"math"
	"strings"
	"time"
)

// DateLayout is the wire and storage format of release dates
const DateLayout = "2006-01-02"

// Record represents a single product in the catalog. InfoID is supplied by
// the caller and is unique across the whole catalog.
type Record struct {
	InfoID           int64   `json:"info_id"`
	Name             string  `json:"name"`
	ReleaseDate      Date    `json:"release_date"`
	Price            float64 `json:"price"`
	DiscountDLCCount int     `json:"discount_dlc_count"`
	About            string  `json:"about"`
	Achievements     int     `json:"achievements"`
	Notes            string  `json:"notes"`
	Developers       string  `json:"developers"`
	Publishers       string  `json:"publishers"`
	Categories       string  `json:"categories"`
	Genres           string  `json:"genres"`
	Tags             string  `json:"tags"`
}

// ReleaseYear returns the partition key of the record
func (r *Record) ReleaseYear() int {
	return r.ReleaseDate.Year()
}

// Equal reports whether two records carry the same stored values. Prices are
// compared at cent precision, the precision of the price column.
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.InfoID == o.InfoID &&
		r.Name == o.Name &&
		r.ReleaseDate.String() == o.ReleaseDate.String() &&
		cents(r.Price) == cents(o.Price) &&
		r.DiscountDLCCount == o.DiscountDLCCount &&
		r.About == o.About &&
		r.Achievements == o.Achievements &&
		r.Notes == o.Notes &&
		r.Developers == o.Developers &&
		r.Publishers == o.Publishers &&
		r.Categories == o.Categories &&
		r.Genres == o.Genres &&
		r.Tags == o.Tags
}

func cents(v float64) int64 {
	return int64(math.Round(v * 100))
}

// Date is a calendar date without time of day
type Date struct {
	time.Time
}

// NewDate builds a Date in UTC
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses YYYY-MM-DD, tolerating the timestamp forms some drivers
// return for DATE columns.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{DateLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDate(t.Year(), t.Month(), t.Day()), nil
		}
	}
	return Date{}, fmt.Errorf("invalid date %q: expected %s", s, DateLayout)
}

// String formats the date as YYYY-MM-DD
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(DateLayout)
}

// MarshalJSON encodes the date as a YYYY-MM-DD string
func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON decodes a YYYY-MM-DD string
func (d *Date) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner for DATE columns across drivers
func (d *Date) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = NewDate(v.Year(), v.Month(), v.Day())
		return nil
	case []byte:
		parsed, err := ParseDate(string(v))
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case string:
		parsed, err := ParseDate(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Date", src)
	}
}

// Value implements driver.Valuer
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}
