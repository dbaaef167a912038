// Package sequence allocates human-readable record numbers such as INV-2025-000042.
package sequence

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gridbill/gridbill/internal/shared"
)

// Series names.
const (
	SeriesCustomer = "customer"
	SeriesMeter    = "meter"
	SeriesContract = "contract"
	SeriesInvoice  = "invoice"
	SeriesPayment  = "payment"
	SeriesPlan     = "plan"
)

// ErrSequenceNotFound is returned for unknown series names.
var ErrSequenceNotFound = fmt.Errorf("%w: sequence", shared.ErrNotFound)

// ErrSequenceExhausted is returned when the counter no longer fits its padding.
var ErrSequenceExhausted = fmt.Errorf("%w: sequence counter exceeds configured padding", shared.ErrStateConflict)

// Sequence is a named persistent counter.
type Sequence struct {
	Name         string    `json:"name"`
	Prefix       string    `json:"prefix"`
	Padding      int       `json:"padding"`
	ResetYearly  bool      `json:"reset_yearly"`
	CurrentYear  int       `json:"current_year"`
	CurrentValue int64     `json:"current_value"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ConfigureInput updates formatting of a series.
type ConfigureInput struct {
	Prefix      string `json:"prefix" validate:"required,min=1,max=10"`
	Padding     int    `json:"padding" validate:"min=1,max=12"`
	ResetYearly bool   `json:"reset_yearly"`
}

var prefixPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}$`)

// Advance returns the sequence after allocating one number at now.
// Yearly series restart at 1 when the calendar year changes.
func Advance(seq Sequence, now time.Time) Sequence {
	year := now.Year()
	if seq.ResetYearly && seq.CurrentYear != year {
		seq.CurrentValue = 1
	} else {
		seq.CurrentValue++
	}
	seq.CurrentYear = year
	seq.UpdatedAt = now
	return seq
}

// Number formats the current value of seq.
func (s Sequence) Number() (string, error) {
	return Format(s.Prefix, s.Padding, s.CurrentValue, s.CurrentYear, s.ResetYearly)
}

// Format renders PREFIX-000042 or, for yearly series, PREFIX-2025-000042.
func Format(prefix string, padding int, value int64, year int, yearly bool) (string, error) {
	if padding <= 0 {
		padding = 1
	}
	digits := strconv.FormatInt(value, 10)
	if len(digits) > padding {
		return "", fmt.Errorf("%w: %s value %d", ErrSequenceExhausted, prefix, value)
	}
	counter := strings.Repeat("0", padding-len(digits)) + digits
	if yearly {
		return fmt.Sprintf("%s-%04d-%s", prefix, year, counter), nil
	}
	return prefix + "-" + counter, nil
}

func validateConfigure(input ConfigureInput) error {
	verr := &shared.ValidationError{}
	if !prefixPattern.MatchString(input.Prefix) {
		verr.Add("prefix", "must be 1-10 uppercase letters or digits starting with a letter")
	}
	if input.Padding < 1 || input.Padding > 12 {
		verr.Add("padding", "must be between 1 and 12")
	}
	return verr.OrNil()
}
