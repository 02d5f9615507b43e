package ledger

import (
	"reflect"

	"github.com/google/uuid"

	"github.com/angelmondragon/ledger-core/pkg/db/models"
	"github.com/angelmondragon/ledger-core/pkg/money"
)

const dateLayout = "2006-01-02"

// snapshot is the audited view of a transaction.
func snapshot(txn *models.Transaction) map[string]any {
	if txn == nil {
		return nil
	}
	out := map[string]any{
		"id":          txn.ID.String(),
		"amount":      money.Format(txn.Amount),
		"currency":    txn.Currency.String(),
		"date":        txn.Date.Format(dateLayout),
		"description": txn.Description,
		"type":        txn.Type.String(),
		"tags":        txn.Tags,
		"deleted":     txn.Deleted,
	}
	out["value_date"] = nil
	if txn.ValueDate != nil {
		out["value_date"] = txn.ValueDate.Format(dateLayout)
	}
	out["merchant"] = derefString(txn.Merchant)
	out["category"] = derefString(txn.Category)
	out["notes"] = derefString(txn.Notes)
	out["parent_transaction_id"] = nil
	if txn.ParentTransactionID != nil {
		out["parent_transaction_id"] = txn.ParentTransactionID.String()
	}
	return out
}

// diff keeps only the fields that changed between two snapshots.
func diff(before, after map[string]any) (map[string]any, map[string]any) {
	changedBefore := map[string]any{}
	changedAfter := map[string]any{}
	for key, next := range after {
		prev := before[key]
		if reflect.DeepEqual(prev, next) {
			continue
		}
		changedBefore[key] = prev
		changedAfter[key] = next
	}
	return changedBefore, changedAfter
}

func derefString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func entityIDs(first uuid.UUID, rest []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(rest)+1)
	out = append(out, first)
	for _, id := range rest {
		if id != first {
			out = append(out, id)
		}
	}
	return out
}
