package usm_test

import (
	"context"
	"errors"
	"testing"

	"usm-go/internal/testutil"
	"usm-go/internal/usm"
)

func TestPlanIndexMaintenance(t *testing.T) {
	stats := []usm.IndexStat{
		{Table: "revisions", Index: "ix_healthy", FragmentationPercent: 5, PageCount: 5000},
		{Table: "revisions", Index: "ix_floor", FragmentationPercent: 10, PageCount: 5000},
		{Table: "revisions", Index: "ix_small", FragmentationPercent: 45, PageCount: 80},
		{Table: "status_records", Index: "ix_reorg", FragmentationPercent: 18, PageCount: 5000},
		{Table: "status_records", Index: "ix_boundary", FragmentationPercent: 30, PageCount: 5000},
		{Table: "supersession_edges", Index: "ix_rebuild", FragmentationPercent: 62.5, PageCount: 5000},
	}

	plans := usm.PlanIndexMaintenance(stats, 100)

	want := map[string]usm.IndexAction{
		"ix_reorg":    usm.ActionReorganize,
		"ix_boundary": usm.ActionReorganize, // exactly 30% reorganizes, does not rebuild
		"ix_rebuild":  usm.ActionRebuild,
	}
	if len(plans) != len(want) {
		t.Fatalf("plan has %d entries, want %d: %+v", len(plans), len(want), plans)
	}
	for _, p := range plans {
		wantAction, ok := want[p.Stat.Index]
		if !ok {
			t.Errorf("index %s planned but should be skipped", p.Stat.Index)
			continue
		}
		if p.Action != wantAction {
			t.Errorf("index %s action = %s, want %s", p.Stat.Index, p.Action, wantAction)
		}
	}
}

func TestIndexMaintainer_Run(t *testing.T) {
	t.Run("executes planned actions and refreshes statistics", func(t *testing.T) {
		store := testutil.NewFakeStore()
		store.Stats = []usm.IndexStat{
			{Table: "revisions", Index: "ix_a", FragmentationPercent: 15, PageCount: 2000},
			{Table: "revisions", Index: "ix_b", FragmentationPercent: 40, PageCount: 2000},
			{Table: "revisions", Index: "ix_c", FragmentationPercent: 2, PageCount: 2000},
		}
		im := usm.NewIndexMaintainer(store, usm.NopLogger{})

		out, err := im.Run(context.Background(), 100)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if out.Reorganized != 1 || out.Rebuilt != 1 || out.Skipped != 1 {
			t.Errorf("outcome = %+v, want reorganized=1 rebuilt=1 skipped=1", out)
		}
		if store.StatsRefreshed != 1 {
			t.Errorf("statistics refreshed %d times, want 1", store.StatsRefreshed)
		}
	})

	t.Run("one failed index does not block the rest", func(t *testing.T) {
		store := testutil.NewFakeStore()
		store.Stats = []usm.IndexStat{
			{Table: "revisions", Index: "ix_a", FragmentationPercent: 15, PageCount: 2000},
			{Table: "revisions", Index: "ix_b", FragmentationPercent: 15, PageCount: 2000},
		}
		store.ReorganizeErrs["revisions.ix_a"] = errors.New("lock timeout")
		im := usm.NewIndexMaintainer(store, usm.NopLogger{})

		out, err := im.Run(context.Background(), 100)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if out.Reorganized != 1 || len(out.Failed) != 1 {
			t.Errorf("outcome = %+v, want reorganized=1 failed=1", out)
		}
		if store.StatsRefreshed != 1 {
			t.Errorf("statistics refreshed %d times, want 1", store.StatsRefreshed)
		}
	})

	t.Run("statistics refresh runs even when nothing is planned", func(t *testing.T) {
		store := testutil.NewFakeStore()
		im := usm.NewIndexMaintainer(store, usm.NopLogger{})

		if _, err := im.Run(context.Background(), 100); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if store.StatsRefreshed != 1 {
			t.Errorf("statistics refreshed %d times, want 1", store.StatsRefreshed)
		}
	})

	t.Run("statistics refresh failure fails the sweep", func(t *testing.T) {
		store := testutil.NewFakeStore()
		store.UpdateStatsErr = errors.New("analyze failed")
		im := usm.NewIndexMaintainer(store, usm.NopLogger{})

		if _, err := im.Run(context.Background(), 100); err == nil {
			t.Fatal("Run() error = nil, want statistics failure")
		}
	})
}
