package enums

import "fmt"

// AuditAction names the mutation recorded by an audit event.
type AuditAction string

const (
	AuditActionCreate    AuditAction = "CREATE"
	AuditActionUpdate    AuditAction = "UPDATE"
	AuditActionDelete    AuditAction = "DELETE"
	AuditActionSplit     AuditAction = "SPLIT"
	AuditActionJoin      AuditAction = "JOIN"
	AuditActionRepair    AuditAction = "REPAIR"
	AuditActionReconcile AuditAction = "RECONCILE"
	AuditActionDenied    AuditAction = "DENIED"
)

var validAuditActions = []AuditAction{
	AuditActionCreate,
	AuditActionUpdate,
	AuditActionDelete,
	AuditActionSplit,
	AuditActionJoin,
	AuditActionRepair,
	AuditActionReconcile,
	AuditActionDenied,
}

// IsValid reports whether the value matches a known audit action.
func (a AuditAction) IsValid() bool {
	for _, candidate := range validAuditActions {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAuditAction converts raw input into an AuditAction.
func ParseAuditAction(value string) (AuditAction, error) {
	for _, candidate := range validAuditActions {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit action %q", value)
}
