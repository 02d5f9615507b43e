// Package money holds the fixed-point arithmetic rules for ledger amounts:
// two fractional digits, exact addition, and a bounded magnitude matching
// the numeric(18,2) columns.
package money

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/ledger-core/pkg/errors"
)

// Scale is the number of fractional digits every amount carries.
const Scale = 2

var (
	// ErrPrecision is returned for values with more than Scale fractional digits.
	ErrPrecision = errors.New("amount has more than 2 fractional digits")
	// ErrOverflow is returned when a value exceeds the supported magnitude.
	ErrOverflow = errors.New("amount exceeds supported range")

	// MaxMagnitude is the largest absolute value a numeric(18,2) column holds.
	MaxMagnitude = decimal.RequireFromString("9999999999999999.99")

	// SQLiteMaxMagnitude is the largest 2-decimal amount with 15 significant
	// digits. sqlite's NUMERIC affinity keeps amounts as doubles, which
	// round-trip exactly only up to 15 significant digits.
	SQLiteMaxMagnitude = decimal.RequireFromString("9999999999999.99")
)

// limit, when set, is a process-wide bound below MaxMagnitude.
var limit atomic.Pointer[decimal.Decimal]

// Limit returns the largest absolute amount currently accepted.
func Limit() decimal.Decimal {
	if p := limit.Load(); p != nil {
		return *p
	}
	return MaxMagnitude
}

// RestrictMagnitude lowers Limit to ceiling for the rest of the process. A
// bound at or above the current one is ignored, so the limit only ever shrinks.
func RestrictMagnitude(ceiling decimal.Decimal) {
	ceiling = ceiling.Abs()
	for {
		cur := limit.Load()
		bound := MaxMagnitude
		if cur != nil {
			bound = *cur
		}
		if !ceiling.LessThan(bound) {
			return
		}
		if limit.CompareAndSwap(cur, &ceiling) {
			return
		}
	}
}

// Parse reads a decimal string without rounding it.
func Parse(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return Check(d)
}

// Check verifies scale and range and returns d unchanged when valid.
func Check(d decimal.Decimal) (decimal.Decimal, error) {
	if !d.Equal(d.Truncate(Scale)) {
		return decimal.Zero, ErrPrecision
	}
	if d.Abs().GreaterThan(Limit()) {
		return decimal.Zero, ErrOverflow
	}
	return d, nil
}

// Add returns a+b, failing instead of exceeding the supported range.
func Add(a, b decimal.Decimal) (decimal.Decimal, error) {
	return Check(a.Add(b))
}

// Sub returns a-b, failing instead of exceeding the supported range.
func Sub(a, b decimal.Decimal) (decimal.Decimal, error) {
	return Check(a.Sub(b))
}

// Sum adds every value exactly. Each value must be a valid amount; the range
// is enforced on the final total only, so intermediate totals may exceed it.
func Sum(values ...decimal.Decimal) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, v := range values {
		if _, err := Check(v); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return Check(total)
}

// Format renders d with exactly two fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// Validate wraps Check failures as validation errors naming the field.
func Validate(field string, d decimal.Decimal) error {
	if _, err := Check(d); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("%s: %s", field, err.Error())).
			WithDetails(map[string]any{"field": field, "value": d.String()})
	}
	return nil
}
