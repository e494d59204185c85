package usm_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"usm-go/internal/testutil"
	"usm-go/internal/usm"
)

func serviceParams(t *testing.T) usm.RunParams {
	t.Helper()
	return usm.RunParams{
		Policy:        usm.DefaultPolicyParams(),
		Batch:         fastBatch(10),
		BackupDir:     t.TempDir(),
		RetentionDays: 90,
		MinIndexPages: 100,
	}
}

func phaseStatus(t *testing.T, report *usm.RunReport, name string) usm.PhaseStatus {
	t.Helper()
	p := report.Phase(name)
	if p == nil {
		t.Fatalf("phase %s missing from report", name)
	}
	return p.Status
}

func TestMaintenanceService_Run(t *testing.T) {
	t.Run("full run executes every phase in order", func(t *testing.T) {
		catalog := testutil.NewFakeCatalog(
			usm.Update{ID: "u-aged", Classification: usm.ClassSecurity, ReleasedAt: agedDate()},
			usm.Update{ID: "u-new", Classification: usm.ClassSecurity, ReleasedAt: recentDate()},
			usm.Update{ID: "u-gone", Classification: usm.ClassSecurity, ReleasedAt: agedDate(), IsDeclined: true},
		)
		store := testutil.NewFakeStore()
		store.Size = 4096
		store.SupersessionRows[usm.StateDeclined] = 15
		store.StatusRows[usm.StateSuperseded] = 5
		store.LocalIDs["u-gone"] = 42

		svc := usm.NewMaintenanceService(catalog, store, testutil.FixedClock(), usm.NopLogger{})
		params := serviceParams(t)

		report, err := svc.Run(context.Background(), params)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		wantOrder := []string{
			usm.PhasePolicy, usm.PhaseDecline, usm.PhaseApprove, usm.PhaseCleanup,
			usm.PhaseIndex, usm.PhaseBackup, usm.PhaseRetention,
		}
		if len(report.Phases) != len(wantOrder) {
			t.Fatalf("report has %d phases, want %d", len(report.Phases), len(wantOrder))
		}
		for i, name := range wantOrder {
			if report.Phases[i].Phase != name {
				t.Errorf("phase[%d] = %s, want %s", i, report.Phases[i].Phase, name)
			}
			if report.Phases[i].Status != usm.PhaseSuccess && report.Phases[i].Status != usm.PhaseWarning {
				t.Errorf("phase %s status = %s", name, report.Phases[i].Status)
			}
		}

		if catalog.DeclinedCount() != 1 {
			t.Errorf("declines = %d, want 1", catalog.DeclinedCount())
		}
		if catalog.ApprovedCount() != 1 {
			t.Errorf("approvals = %d, want 1", catalog.ApprovedCount())
		}
		if len(store.Purged) != 1 || store.Purged[0] != 42 {
			t.Errorf("purged = %v, want [42]", store.Purged)
		}
		if got := report.Phase(usm.PhaseCleanup).Counts["supersessionRows"]; got != 15 {
			t.Errorf("supersessionRows = %d, want 15", got)
		}

		entries, _ := os.ReadDir(params.BackupDir)
		if len(entries) != 1 {
			t.Errorf("backup dir holds %d entries, want 1", len(entries))
		}
		if report.SizeBefore != 4096 || report.SizeAfter != 4096 {
			t.Errorf("sizes = %d/%d, want 4096/4096", report.SizeBefore, report.SizeAfter)
		}
	})

	t.Run("unreachable store aborts before any phase", func(t *testing.T) {
		store := testutil.NewFakeStore()
		store.PingErr = errors.New("connection refused")
		svc := usm.NewMaintenanceService(testutil.NewFakeCatalog(), store, testutil.FixedClock(), usm.NopLogger{})

		report, err := svc.Run(context.Background(), serviceParams(t))
		if err == nil {
			t.Fatal("Run() error = nil, want ping failure")
		}
		if len(report.Phases) != 0 {
			t.Errorf("phases ran despite unreachable store: %+v", report.Phases)
		}
	})

	t.Run("catalog failure skips decline, approve and cleanup", func(t *testing.T) {
		catalog := testutil.NewFakeCatalog()
		catalog.ListErr = errors.New("catalog unavailable")
		store := testutil.NewFakeStore()
		store.SupersessionRows[usm.StateDeclined] = 10
		svc := usm.NewMaintenanceService(catalog, store, testutil.FixedClock(), usm.NopLogger{})
		params := serviceParams(t)

		report, err := svc.Run(context.Background(), params)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if got := phaseStatus(t, report, usm.PhasePolicy); got != usm.PhaseFailed {
			t.Errorf("policy status = %s, want failed", got)
		}
		for _, name := range []string{usm.PhaseDecline, usm.PhaseApprove, usm.PhaseCleanup} {
			if got := phaseStatus(t, report, name); got != usm.PhaseSkipped {
				t.Errorf("%s status = %s, want skipped", name, got)
			}
		}
		// No cleanup means no rows deleted.
		if store.SupersessionRows[usm.StateDeclined] != 10 {
			t.Error("cleanup ran despite missing catalog data")
		}
		// Index and backup do not depend on the catalog.
		if got := phaseStatus(t, report, usm.PhaseBackup); got != usm.PhaseSuccess {
			t.Errorf("backup status = %s, want success", got)
		}
	})

	t.Run("connectivity loss during cleanup blocks index and backup", func(t *testing.T) {
		catalog := testutil.NewFakeCatalog(
			usm.Update{ID: "u-new", Classification: usm.ClassSecurity, ReleasedAt: recentDate()},
		)
		store := testutil.NewFakeStore()
		store.SupersessionRows[usm.StateDeclined] = 100
		store.DeleteErr = usm.ErrConnectivity
		store.DeleteErrAfter = 2
		svc := usm.NewMaintenanceService(catalog, store, testutil.FixedClock(), usm.NopLogger{})
		params := serviceParams(t)

		report, err := svc.Run(context.Background(), params)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if got := phaseStatus(t, report, usm.PhaseCleanup); got != usm.PhaseFailed {
			t.Errorf("cleanup status = %s, want failed", got)
		}
		for _, name := range []string{usm.PhaseIndex, usm.PhaseBackup, usm.PhaseRetention} {
			if got := phaseStatus(t, report, name); got != usm.PhaseSkipped {
				t.Errorf("%s status = %s, want skipped", name, got)
			}
		}
		entries, _ := os.ReadDir(params.BackupDir)
		if len(entries) != 0 {
			t.Error("backup written despite connectivity loss")
		}
	})

	t.Run("index failure warns but never blocks backup", func(t *testing.T) {
		store := testutil.NewFakeStore()
		store.StatsErr = errors.New("stats view locked")
		svc := usm.NewMaintenanceService(testutil.NewFakeCatalog(), store, testutil.FixedClock(), usm.NopLogger{})
		params := serviceParams(t)

		report, err := svc.Run(context.Background(), params)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if got := phaseStatus(t, report, usm.PhaseIndex); got != usm.PhaseWarning {
			t.Errorf("index status = %s, want warning", got)
		}
		if got := phaseStatus(t, report, usm.PhaseBackup); got != usm.PhaseSuccess {
			t.Errorf("backup status = %s, want success", got)
		}
	})

	t.Run("failed backup skips retention", func(t *testing.T) {
		store := testutil.NewFakeStore()
		store.BackupErr = errors.New("disk full")
		svc := usm.NewMaintenanceService(testutil.NewFakeCatalog(), store, testutil.FixedClock(), usm.NopLogger{})

		report, err := svc.Run(context.Background(), serviceParams(t))
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if got := phaseStatus(t, report, usm.PhaseBackup); got != usm.PhaseFailed {
			t.Errorf("backup status = %s, want failed", got)
		}
		if got := phaseStatus(t, report, usm.PhaseRetention); got != usm.PhaseSkipped {
			t.Errorf("retention status = %s, want skipped", got)
		}
		if !report.Failed() {
			t.Error("report.Failed() = false, want true")
		}
	})

	t.Run("oversized approval set is refused whole", func(t *testing.T) {
		var updates []usm.Update
		for i := 0; i < 5; i++ {
			updates = append(updates, usm.Update{
				ID:             fmt.Sprintf("u-%d", i),
				Classification: usm.ClassSecurity,
				ReleasedAt:     recentDate(),
			})
		}
		catalog := testutil.NewFakeCatalog(updates...)
		svc := usm.NewMaintenanceService(catalog, testutil.NewFakeStore(), testutil.FixedClock(), usm.NopLogger{})
		params := serviceParams(t)
		params.Policy.AutoApproveCap = 3

		report, err := svc.Run(context.Background(), params)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if got := phaseStatus(t, report, usm.PhaseApprove); got != usm.PhaseRefused {
			t.Errorf("approve status = %s, want refused", got)
		}
		if catalog.ApprovedCount() != 0 {
			t.Errorf("approvals = %d, want 0 after refusal", catalog.ApprovedCount())
		}
		if len(report.ManualReviewIDs) != 5 {
			t.Errorf("ManualReviewIDs = %d, want 5", len(report.ManualReviewIDs))
		}
	})

	t.Run("skip deep cleanup leaves the store untouched", func(t *testing.T) {
		catalog := testutil.NewFakeCatalog(
			usm.Update{ID: "u-aged", Classification: usm.ClassSecurity, ReleasedAt: agedDate()},
		)
		store := testutil.NewFakeStore()
		store.SupersessionRows[usm.StateDeclined] = 10
		svc := usm.NewMaintenanceService(catalog, store, testutil.FixedClock(), usm.NopLogger{})
		params := serviceParams(t)
		params.SkipDeepCleanup = true

		report, err := svc.Run(context.Background(), params)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if got := phaseStatus(t, report, usm.PhaseCleanup); got != usm.PhaseSkipped {
			t.Errorf("cleanup status = %s, want skipped", got)
		}
		// Decline still ran.
		if catalog.DeclinedCount() != 1 {
			t.Errorf("declines = %d, want 1", catalog.DeclinedCount())
		}
		if store.SupersessionRows[usm.StateDeclined] != 10 {
			t.Error("rows pruned despite skip-deep-cleanup")
		}
	})
}
