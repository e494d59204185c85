package usm

import (
	"context"
	"fmt"
	"time"
)

// Phase names in execution order.
const (
	PhasePolicy    = "policy"
	PhaseDecline   = "decline"
	PhaseApprove   = "approve"
	PhaseCleanup   = "cleanup"
	PhaseIndex     = "index"
	PhaseBackup    = "backup"
	PhaseRetention = "retention"
)

// PhaseStatus is the terminal status of one maintenance phase.
type PhaseStatus string

const (
	PhaseSuccess PhaseStatus = "success"
	PhaseWarning PhaseStatus = "warning"
	PhaseFailed  PhaseStatus = "failed"
	PhaseSkipped PhaseStatus = "skipped"
	// PhaseRefused marks a safety-valve refusal: nothing was mutated and a
	// manual-review report was produced instead.
	PhaseRefused PhaseStatus = "refused"
)

// PhaseResult is the structured outcome of one phase: name, counts and error
// detail, surfaced to the caller instead of raw errors.
type PhaseResult struct {
	Phase    string
	Status   PhaseStatus
	Counts   map[string]int64
	Warnings []string
	Err      error
}

// RunParams configures one maintenance run.
type RunParams struct {
	Policy          PolicyParams
	Batch           BatchParams
	BackupDir       string
	RetentionDays   int
	MinIndexPages   int64
	SkipDeepCleanup bool
}

// RunReport is the operator-facing record of one maintenance run: every
// phase's before/after counts plus store size before and after, so the run's
// impact is verifiable without inspecting the store.
type RunReport struct {
	Started         time.Time
	Finished        time.Time
	Phases          []PhaseResult
	SizeBefore      int64
	SizeAfter       int64
	ManualReviewIDs []string // oversized auto-approve candidate set, if any
}

// Failed reports whether any phase failed.
func (r *RunReport) Failed() bool {
	for _, p := range r.Phases {
		if p.Status == PhaseFailed {
			return true
		}
	}
	return false
}

// Phase returns the result for a named phase, or nil.
func (r *RunReport) Phase(name string) *PhaseResult {
	for i := range r.Phases {
		if r.Phases[i].Phase == name {
			return &r.Phases[i]
		}
	}
	return nil
}

// MaintenanceService orchestrates one maintenance run. Phases execute
// strictly in order; no phase starts before the previous phase's
// store-visible effects are committed. The service assumes single-writer
// access for the duration of the run; the caller holds the run marker.
type MaintenanceService struct {
	catalog Catalog
	store   Store
	mutator *Mutator
	indexes *IndexMaintainer
	backups *BackupManager
	clock   Clock
	logger  Logger
}

// NewMaintenanceService wires the engines over a catalog and store.
func NewMaintenanceService(catalog Catalog, store Store, clock Clock, logger Logger) *MaintenanceService {
	return &MaintenanceService{
		catalog: catalog,
		store:   store,
		mutator: NewMutator(store, catalog, logger),
		indexes: NewIndexMaintainer(store, logger),
		backups: NewBackupManager(store, clock, logger),
		clock:   clock,
		logger:  logger,
	}
}

// Run executes a full maintenance run: classify → decline/approve →
// deep cleanup → index maintenance → backup → retention. Earlier phases'
// effects are never rolled back by later failures (at-least-partial-progress
// across phases). A store connectivity loss during cleanup blocks the index
// and backup phases, since the store may be mid-mutation.
func (s *MaintenanceService) Run(ctx context.Context, params RunParams) (*RunReport, error) {
	report := &RunReport{Started: s.clock.Now()}
	defer func() { report.Finished = s.clock.Now() }()

	// Precondition: an unreachable store aborts before anything mutates.
	if err := s.store.Ping(ctx); err != nil {
		return report, fmt.Errorf("store not reachable: %w", err)
	}
	if size, err := s.store.SizeBytes(ctx); err == nil {
		report.SizeBefore = size
	}

	decision := s.runPolicy(ctx, report, params)

	connectivityLost := false
	if decision != nil {
		s.runDecline(ctx, report, decision)
		s.runApprove(ctx, report, decision, params)
		connectivityLost = s.runCleanup(ctx, report, decision, params)
	} else {
		// No catalog data: cleanup depends on the classification, skip it.
		report.Phases = append(report.Phases,
			PhaseResult{Phase: PhaseDecline, Status: PhaseSkipped},
			PhaseResult{Phase: PhaseApprove, Status: PhaseSkipped},
			PhaseResult{Phase: PhaseCleanup, Status: PhaseSkipped})
	}

	if connectivityLost {
		report.Phases = append(report.Phases,
			PhaseResult{Phase: PhaseIndex, Status: PhaseSkipped},
			PhaseResult{Phase: PhaseBackup, Status: PhaseSkipped},
			PhaseResult{Phase: PhaseRetention, Status: PhaseSkipped})
		return report, nil
	}

	s.runIndexMaintenance(ctx, report, params)
	backupOK := s.runBackup(ctx, report, params)

	// Never prune old backups when the new one did not succeed: that could
	// leave a window with zero valid backups.
	if backupOK {
		s.runRetention(report, params)
	} else {
		report.Phases = append(report.Phases, PhaseResult{Phase: PhaseRetention, Status: PhaseSkipped})
	}

	if size, err := s.store.SizeBytes(ctx); err == nil {
		report.SizeAfter = size
	}
	return report, nil
}

func (s *MaintenanceService) runPolicy(ctx context.Context, report *RunReport, params RunParams) *PolicyDecision {
	updates, err := s.catalog.ListUpdates(ctx)
	if err != nil {
		report.Phases = append(report.Phases, PhaseResult{
			Phase:  PhasePolicy,
			Status: PhaseFailed,
			Err:    fmt.Errorf("%w: %v", ErrNoCatalogData, err),
		})
		return nil
	}
	if updates == nil {
		updates = []Update{}
	}

	decision, err := Classify(updates, params.Policy, s.clock.Now())
	if err != nil {
		report.Phases = append(report.Phases, PhaseResult{Phase: PhasePolicy, Status: PhaseFailed, Err: err})
		return nil
	}

	report.Phases = append(report.Phases, PhaseResult{
		Phase:  PhasePolicy,
		Status: PhaseSuccess,
		Counts: map[string]int64{
			"updates":           int64(len(updates)),
			"toDecline":         int64(len(decision.ToDecline)),
			"toApprove":         int64(len(decision.ToApprove)),
			"toPurge":           int64(len(decision.ToPurge)),
			"expiredTrigger":    int64(decision.Counters.Expired),
			"supersededTrigger": int64(decision.Counters.Superseded),
			"agedTrigger":       int64(decision.Counters.Aged),
		},
	})
	return decision
}

func (s *MaintenanceService) runDecline(ctx context.Context, report *RunReport, decision *PolicyDecision) {
	out, err := s.mutator.DeclineAll(ctx, decision.ToDecline)
	res := PhaseResult{
		Phase:  PhaseDecline,
		Status: PhaseSuccess,
		Counts: map[string]int64{
			"declined": int64(out.Succeeded),
			"failed":   int64(len(out.Failed)),
		},
		Err: err,
	}
	if err != nil {
		res.Status = PhaseFailed
	} else if len(out.Failed) > 0 {
		res.Status = PhaseWarning
	}
	report.Phases = append(report.Phases, res)
}

func (s *MaintenanceService) runApprove(ctx context.Context, report *RunReport, decision *PolicyDecision, params RunParams) {
	if decision.ApprovalRefused {
		for _, u := range decision.ToApprove {
			report.ManualReviewIDs = append(report.ManualReviewIDs, u.ID)
		}
		report.Phases = append(report.Phases, PhaseResult{
			Phase:  PhaseApprove,
			Status: PhaseRefused,
			Counts: map[string]int64{
				"candidates": int64(len(decision.ToApprove)),
				"cap":        int64(params.Policy.AutoApproveCap),
				"approved":   0,
			},
			Warnings: []string{fmt.Sprintf(
				"%d approval candidates exceed the cap of %d; manual review required",
				len(decision.ToApprove), params.Policy.AutoApproveCap)},
		})
		return
	}

	out, err := s.mutator.ApproveAll(ctx, decision.ToApprove, params.Policy.TargetGroup)
	res := PhaseResult{
		Phase:  PhaseApprove,
		Status: PhaseSuccess,
		Counts: map[string]int64{
			"approved": int64(out.Succeeded),
			"failed":   int64(len(out.Failed)),
		},
		Err: err,
	}
	if err != nil {
		res.Status = PhaseFailed
	} else if len(out.Failed) > 0 {
		res.Status = PhaseWarning
	}
	report.Phases = append(report.Phases, res)
}

// runCleanup runs the destructive store operations. Returns true when the
// phase was aborted by a connectivity loss. Supersession pruning for both
// retired states completes before any metadata purge runs, since a purge
// with edges still pointing at its revisions would leave dangling references.
func (s *MaintenanceService) runCleanup(ctx context.Context, report *RunReport, decision *PolicyDecision, params RunParams) bool {
	if params.SkipDeepCleanup {
		report.Phases = append(report.Phases, PhaseResult{Phase: PhaseCleanup, Status: PhaseSkipped})
		return false
	}

	counts := map[string]int64{}
	fail := func(err error) bool {
		status := PhaseFailed
		report.Phases = append(report.Phases, PhaseResult{Phase: PhaseCleanup, Status: status, Counts: counts, Err: err})
		return IsConnectivityErr(err)
	}

	for _, state := range []RevisionState{StateDeclined, StateSuperseded} {
		n, err := s.mutator.PruneSupersession(ctx, state, params.Batch)
		counts["supersessionRows"] += n
		if err != nil {
			return fail(err)
		}
	}

	cutoff := s.clock.Now().AddDate(0, -params.Policy.AgeMonths, 0)
	for _, state := range []RevisionState{StateDeclined, StateSuperseded} {
		n, err := s.mutator.PruneAgedStatus(ctx, state, cutoff, params.Batch)
		counts["statusRows"] += n
		if err != nil {
			return fail(err)
		}
	}

	out, err := s.mutator.PurgeUpdates(ctx, decision.ToPurge, params.Batch)
	counts["purged"] = int64(out.Succeeded)
	counts["purgeFailed"] = int64(len(out.Failed))
	if err != nil {
		return fail(err)
	}

	status := PhaseSuccess
	if len(out.Failed) > 0 {
		status = PhaseWarning
	}
	report.Phases = append(report.Phases, PhaseResult{Phase: PhaseCleanup, Status: status, Counts: counts})
	return false
}

func (s *MaintenanceService) runIndexMaintenance(ctx context.Context, report *RunReport, params RunParams) {
	out, err := s.indexes.Run(ctx, params.MinIndexPages)
	res := PhaseResult{Phase: PhaseIndex, Status: PhaseSuccess, Err: err}
	if out != nil {
		res.Counts = map[string]int64{
			"rebuilt":     int64(out.Rebuilt),
			"reorganized": int64(out.Reorganized),
			"skipped":     int64(out.Skipped),
			"failed":      int64(len(out.Failed)),
		}
		if len(out.Failed) > 0 {
			res.Status = PhaseWarning
		}
	}
	if err != nil {
		// Index maintenance is best-effort: a failure here warns but never
		// blocks the backup that follows.
		res.Status = PhaseWarning
	}
	report.Phases = append(report.Phases, res)
}

func (s *MaintenanceService) runBackup(ctx context.Context, report *RunReport, params RunParams) bool {
	res, err := s.backups.Backup(ctx, params.BackupDir)
	if err != nil {
		report.Phases = append(report.Phases, PhaseResult{Phase: PhaseBackup, Status: PhaseFailed, Err: err})
		return false
	}
	report.Phases = append(report.Phases, PhaseResult{
		Phase:  PhaseBackup,
		Status: PhaseSuccess,
		Counts: map[string]int64{
			"bytes":           res.SizeBytes,
			"durationSeconds": int64(res.Duration / time.Second),
		},
	})
	return true
}

func (s *MaintenanceService) runRetention(report *RunReport, params RunParams) {
	res, err := s.backups.ApplyRetention(params.BackupDir, params.RetentionDays)
	pr := PhaseResult{Phase: PhaseRetention, Status: PhaseSuccess, Err: err}
	if res != nil {
		pr.Counts = map[string]int64{
			"deleted":    int64(res.Deleted),
			"bytesFreed": res.BytesFreed,
		}
	}
	if err != nil {
		pr.Status = PhaseFailed
	}
	report.Phases = append(report.Phases, pr)
}
