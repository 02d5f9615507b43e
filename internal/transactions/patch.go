package transactions

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/ledger-core/pkg/enums"
)

// Patch carries the optional fields of an update. Nil means unchanged. An
// empty string clears an optional text column.
type Patch struct {
	AccountID      *uuid.UUID
	Currency       *string
	Date           *time.Time
	ValueDate      *time.Time
	ClearValueDate bool
	Amount         *decimal.Decimal
	Description    *string
	Merchant       *string
	Type           *enums.TransactionType
	Category       *string
	Notes          *string
	Tags           *[]string
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.AccountID == nil && p.Currency == nil && p.Date == nil && p.ValueDate == nil &&
		!p.ClearValueDate && p.Amount == nil && p.Description == nil && p.Merchant == nil &&
		p.Type == nil && p.Category == nil && p.Notes == nil && p.Tags == nil
}

// GetOption tweaks point reads.
type GetOption func(*getOptions)

type getOptions struct {
	includeDeleted bool
}

// IncludeDeleted makes GetByID return soft-deleted rows as well.
func IncludeDeleted() GetOption {
	return func(o *getOptions) { o.includeDeleted = true }
}

// DateOnly truncates t to midnight UTC of its calendar day.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeTags trims, drops blanks and duplicates, and sorts.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

func optionalString(v *string) any {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return trimmed
}
