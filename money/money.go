/*
Package money converts between user-entered dollar strings and integer cents.

PURPOSE:
  Every monetary value in the engine is an int64 count of cents. Strings only
  exist at the edges (request payloads, API responses). This package is the
  single place where that conversion happens.

ACCEPTED FORMATS (strict):
  "12"     -> 1200
  "12.5"   -> 1250
  "12.50"  -> 1250
  "$12.50" -> 1250   (one optional leading dollar sign)

  Anything else ("12.", ".5", "12.505", "-3", "1,000") is rejected with
  ErrInvalidCurrencyFormat.

LENIENT PARSING:
  ParseLenient accepts operator-typed amounts such as " $1,250.00 " by
  trimming whitespace and dropping thousands separators before applying the
  strict rules. It is used for shipping, cost entries and project budgets.

SEE ALSO:
  - procurement/sanitize.go: strict parsing of item costs
*/
package money

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidCurrencyFormat is returned when a string is not a dollar amount.
	ErrInvalidCurrencyFormat = errors.New("invalid currency format")

	// ErrOutOfRange is returned when cents arithmetic leaves the int64 range.
	ErrOutOfRange = errors.New("amount out of range")
)

var (
	wholeDollars = regexp.MustCompile(`^\d+$`)
	oneDecimal   = regexp.MustCompile(`^\d+\.\d$`)
	twoDecimals  = regexp.MustCompile(`^\d+\.\d{2}$`)

	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// ParseCents converts a strict dollar string into cents.
func ParseCents(s string) (int64, error) {
	raw := strings.TrimPrefix(s, "$")
	if !wholeDollars.MatchString(raw) && !oneDecimal.MatchString(raw) && !twoDecimals.MatchString(raw) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCurrencyFormat, s)
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCurrencyFormat, s)
	}
	cents := d.Shift(2)
	if cents.GreaterThan(maxCents) {
		return 0, fmt.Errorf("%w: %q exceeds the supported range", ErrInvalidCurrencyFormat, s)
	}
	return cents.IntPart(), nil
}

// ParseLenient is ParseCents after trimming whitespace and thousands separators.
func ParseLenient(s string) (int64, error) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	if strings.HasPrefix(cleaned, "$") {
		cleaned = "$" + strings.TrimSpace(cleaned[1:])
	}
	return ParseCents(cleaned)
}

// FormatDollars renders cents as "d.cc".
func FormatDollars(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Multiply returns cents x quantity, or ErrOutOfRange instead of wrapping.
func Multiply(cents int64, quantity int) (int64, error) {
	return bounded(decimal.NewFromInt(cents).Mul(decimal.NewFromInt(int64(quantity))))
}

// Sum adds amounts, or returns ErrOutOfRange instead of wrapping.
func Sum(amounts ...int64) (int64, error) {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(decimal.NewFromInt(a))
	}
	return bounded(total)
}

func bounded(d decimal.Decimal) (int64, error) {
	if d.GreaterThan(maxCents) || d.LessThan(minCents) {
		return 0, fmt.Errorf("%w: %s cents", ErrOutOfRange, d.String())
	}
	return d.IntPart(), nil
}
