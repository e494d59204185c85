package usm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Classification identifies the publisher-assigned category of an update.
type Classification string

const (
	ClassSecurity   Classification = "security"
	ClassCritical   Classification = "critical"
	ClassRollup     Classification = "rollup"
	ClassDefinition Classification = "definition"
	ClassFeature    Classification = "feature"
	ClassDriver     Classification = "driver"
	ClassTool       Classification = "tool"
	ClassUnknown    Classification = "unknown"
)

// ParseClassification converts an external classification string into a typed
// Classification. Unrecognized values map to ClassUnknown rather than failing,
// so a new catalog category never breaks a maintenance run.
func ParseClassification(s string) Classification {
	switch Classification(strings.ToLower(strings.TrimSpace(s))) {
	case ClassSecurity, ClassCritical, ClassRollup, ClassDefinition, ClassFeature, ClassDriver, ClassTool:
		return Classification(strings.ToLower(strings.TrimSpace(s)))
	default:
		return ClassUnknown
	}
}

// Update is a catalog entry as seen by the maintenance engine. The catalog
// client converts external responses into this form at the boundary.
type Update struct {
	ID             string
	Title          string
	Classification Classification
	ReleasedAt     time.Time // publisher release timestamp
	IsDeclined     bool
	IsSuperseded   bool
	IsExpired      bool
	ApprovedGroups []string // target groups with an existing install approval
}

// IsApprovedFor reports whether the update already has an install approval
// for the given target group.
func (u *Update) IsApprovedFor(group string) bool {
	for _, g := range u.ApprovedGroups {
		if g == group {
			return true
		}
	}
	return false
}

// Catalog is the update catalog service. Decline and Approve may fail per
// item; callers are expected to log and continue.
type Catalog interface {
	// ListUpdates returns the full current update set.
	ListUpdates(ctx context.Context) ([]Update, error)

	// Decline marks an update as declined.
	Decline(ctx context.Context, updateID string) error

	// Approve approves an update for installation in the target group.
	Approve(ctx context.Context, updateID string, targetGroup string) error
}

// ErrNoCatalogData indicates the catalog listing could not be retrieved.
// Callers must skip dependent phases rather than operate on partial data.
var ErrNoCatalogData = fmt.Errorf("catalog data unavailable")
