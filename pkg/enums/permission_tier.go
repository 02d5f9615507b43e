package enums

import "fmt"

// PermissionTier maps to the permission_tier column on permission_grants.
type PermissionTier string

const (
	PermissionTierNone   PermissionTier = ""
	PermissionTierViewer PermissionTier = "viewer"
	PermissionTierEditor PermissionTier = "editor"
	PermissionTierOwner  PermissionTier = "owner"
)

var validPermissionTiers = []PermissionTier{
	PermissionTierViewer,
	PermissionTierEditor,
	PermissionTierOwner,
}

// String implements fmt.Stringer.
func (p PermissionTier) String() string {
	if p == PermissionTierNone {
		return "none"
	}
	return string(p)
}

// IsValid reports whether the value is a grantable tier.
func (p PermissionTier) IsValid() bool {
	for _, candidate := range validPermissionTiers {
		if candidate == p {
			return true
		}
	}
	return false
}

// Rank orders tiers: none=0, viewer=1, editor=2, owner=3.
func (p PermissionTier) Rank() int {
	switch p {
	case PermissionTierViewer:
		return 1
	case PermissionTierEditor:
		return 2
	case PermissionTierOwner:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether p grants every capability of min.
func (p PermissionTier) AtLeast(min PermissionTier) bool {
	return p.Rank() >= min.Rank() && p.Rank() > 0
}

// ParsePermissionTier converts raw input into a PermissionTier.
func ParsePermissionTier(value string) (PermissionTier, error) {
	for _, candidate := range validPermissionTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return PermissionTierNone, fmt.Errorf("invalid permission tier %q", value)
}
