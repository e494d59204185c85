package usm

import (
	"strings"
	"time"
)

// PolicyParams controls update classification for one maintenance run.
type PolicyParams struct {
	// AgeMonths is the cutoff: updates released more than this many months
	// ago are declined, and only newer updates are approval candidates.
	AgeMonths int

	// AllowedClassifications limits which categories may be auto-approved.
	AllowedClassifications []Classification

	// AutoApproveCap is the safety valve: if more than this many updates
	// qualify for approval in one run, none are approved.
	AutoApproveCap int

	// TargetGroup is the computer group approvals are issued for.
	TargetGroup string
}

// DefaultPolicyParams returns the repository defaults.
func DefaultPolicyParams() PolicyParams {
	return PolicyParams{
		AgeMonths:              6,
		AllowedClassifications: []Classification{ClassSecurity, ClassCritical, ClassDefinition},
		AutoApproveCap:         100,
		TargetGroup:            "All Computers",
	}
}

func (p PolicyParams) classificationAllowed(c Classification) bool {
	for _, a := range p.AllowedClassifications {
		if a == c {
			return true
		}
	}
	return false
}

// previewMarkers are title substrings that exclude an update from
// auto-approval regardless of classification.
var previewMarkers = []string{"preview", "beta"}

func hasPreviewMarker(title string) bool {
	t := strings.ToLower(title)
	for _, m := range previewMarkers {
		if strings.Contains(t, m) {
			return true
		}
	}
	return false
}

// DeclineCounters is display-only telemetry: an update matching several
// decline triggers is counted once per trigger here, but appears exactly once
// in ToDecline. Never use these counters to drive mutation.
type DeclineCounters struct {
	Expired    int
	Superseded int
	Aged       int
}

// Classification of the full update set into three disjoint result sets.
type PolicyDecision struct {
	ToDecline []Update
	ToApprove []Update
	ToPurge   []Update

	// ApprovalRefused is set when the auto-approve safety valve fired.
	// ToApprove then holds the oversized candidate set for manual review;
	// callers must not approve any of it.
	ApprovalRefused bool

	Counters DeclineCounters
}

// Classify partitions updates into decline, approve and purge-candidate sets.
// It is pure: no catalog or store calls, no side effects. A nil update set
// (catalog listing unavailable) yields ErrNoCatalogData so callers skip the
// dependent cleanup phases for this run.
func Classify(updates []Update, params PolicyParams, now time.Time) (*PolicyDecision, error) {
	if updates == nil {
		return nil, ErrNoCatalogData
	}

	cutoff := now.AddDate(0, -params.AgeMonths, 0)
	d := &PolicyDecision{}

	for _, u := range updates {
		if u.IsDeclined {
			d.ToPurge = append(d.ToPurge, u)
			continue
		}

		// Decline triggers union into a single membership decision.
		decline := false
		if u.IsExpired {
			d.Counters.Expired++
			decline = true
		}
		if u.IsSuperseded {
			d.Counters.Superseded++
			decline = true
		}
		if u.ReleasedAt.Before(cutoff) {
			d.Counters.Aged++
			decline = true
		}
		if decline {
			d.ToDecline = append(d.ToDecline, u)
			continue
		}

		if !params.classificationAllowed(u.Classification) {
			continue
		}
		if hasPreviewMarker(u.Title) {
			continue
		}
		if u.IsApprovedFor(params.TargetGroup) {
			continue
		}
		d.ToApprove = append(d.ToApprove, u)
	}

	if len(d.ToApprove) > params.AutoApproveCap {
		d.ApprovalRefused = true
	}

	return d, nil
}
