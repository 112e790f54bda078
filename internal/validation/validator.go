package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/devrev/gamecatalog/internal/errors"
	"github.com/devrev/gamecatalog/internal/model"
)

const (
	// Size limits
	MaxNameSize     = 255
	MaxShortTextLen = 1024      // developers, publishers, categories, genres, tags
	MaxLongTextLen  = 64 * 1024 // about, notes

	// Release dates outside this window are almost certainly input mistakes
	MinReleaseYear = 1950
	MaxReleaseYear = 2100
)

// Validator validates records before they reach any node
type Validator struct {
	maxNameSize     int
	maxShortTextLen int
	maxLongTextLen  int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxNameSize:     MaxNameSize,
		maxShortTextLen: MaxShortTextLen,
		maxLongTextLen:  MaxLongTextLen,
	}
}

// ValidateIdentifier validates a caller supplied info_id
func (v *Validator) ValidateIdentifier(infoID int64) error {
	if infoID < 1 {
		return errors.InvalidRecord("info_id", "must be a positive integer")
	}
	return nil
}

// ValidateRecord validates every field of a record
func (v *Validator) ValidateRecord(rec *model.Record) error {
	if rec == nil {
		return errors.InvalidRecord("record", "record is required")
	}
	if err := v.ValidateIdentifier(rec.InfoID); err != nil {
		return err
	}

	if strings.TrimSpace(rec.Name) == "" {
		return errors.InvalidRecord("name", "name cannot be empty")
	}
	if err := v.validateText("name", rec.Name, v.maxNameSize); err != nil {
		return err
	}

	if rec.ReleaseDate.IsZero() {
		return errors.InvalidRecord("release_date", "release date is required")
	}
	if y := rec.ReleaseYear(); y < MinReleaseYear || y > MaxReleaseYear {
		return errors.InvalidRecord("release_date", fmt.Sprintf("year %d outside %d-%d", y, MinReleaseYear, MaxReleaseYear))
	}

	if rec.Price < 0 {
		return errors.InvalidRecord("price", "must not be negative")
	}
	if rec.DiscountDLCCount < 0 {
		return errors.InvalidRecord("discount_dlc_count", "must not be negative")
	}
	if rec.Achievements < 0 {
		return errors.InvalidRecord("achievements", "must not be negative")
	}

	short := map[string]string{
		"developers": rec.Developers,
		"publishers": rec.Publishers,
		"categories": rec.Categories,
		"genres":     rec.Genres,
		"tags":       rec.Tags,
	}
	for field, value := range short {
		if err := v.validateText(field, value, v.maxShortTextLen); err != nil {
			return err
		}
	}

	if err := v.validateText("about", rec.About, v.maxLongTextLen); err != nil {
		return err
	}
	return v.validateText("notes", rec.Notes, v.maxLongTextLen)
}

func (v *Validator) validateText(field, value string, maxLen int) error {
	if len(value) > maxLen {
		return errors.InvalidRecord(field, fmt.Sprintf("exceeds maximum size of %d bytes", maxLen))
	}

	// Null bytes are rejected by some drivers mid-statement
	if strings.Contains(value, "\x00") {
		return errors.InvalidRecord(field, "cannot contain null bytes")
	}

	for _, r := range value {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			return errors.InvalidRecord(field, "cannot contain control characters")
		}
	}

	return nil
}
