package usm

import "context"

// Fragmentation thresholds. Indexes at or below the floor are healthy and
// skipped; above the rebuild threshold a reorganize would churn too many
// pages, so the index is rebuilt instead.
const (
	fragFloorPercent   = 10.0
	fragRebuildPercent = 30.0
)

// IndexAction is what the planner decided for one index.
type IndexAction int

const (
	ActionSkip IndexAction = iota
	ActionReorganize
	ActionRebuild
)

func (a IndexAction) String() string {
	switch a {
	case ActionReorganize:
		return "reorganize"
	case ActionRebuild:
		return "rebuild"
	default:
		return "skip"
	}
}

// IndexPlan pairs an index with its chosen maintenance action.
type IndexPlan struct {
	Stat   IndexStat
	Action IndexAction
}

// PlanIndexMaintenance classifies each index: below the fragmentation floor
// or at or below minPages it is skipped outright; above the rebuild threshold
// it is rebuilt; otherwise reorganized. Skipped indexes are not part of the
// returned plan; they are a no-op, not a failure.
func PlanIndexMaintenance(stats []IndexStat, minPages int64) []IndexPlan {
	var plans []IndexPlan
	for _, st := range stats {
		if st.FragmentationPercent <= fragFloorPercent || st.PageCount <= minPages {
			continue
		}
		action := ActionReorganize
		if st.FragmentationPercent > fragRebuildPercent {
			action = ActionRebuild
		}
		plans = append(plans, IndexPlan{Stat: st, Action: action})
	}
	return plans
}

// IndexOutcome reports one defragmentation sweep.
type IndexOutcome struct {
	Rebuilt     int
	Reorganized int
	Skipped     int
	Failed      []ItemError
}

// IndexMaintainer inspects index health and issues rebuild/reorganize
// statements. The sweep is best-effort: a lock timeout on one index is
// logged and does not block the rest.
type IndexMaintainer struct {
	store  Store
	logger Logger
}

// NewIndexMaintainer creates an IndexMaintainer over the given store.
func NewIndexMaintainer(store Store, logger Logger) *IndexMaintainer {
	return &IndexMaintainer{store: store, logger: logger}
}

// Run inspects every index, executes the planned actions independently, and
// finishes with a statistics refresh. The refresh runs even when no index
// needed work; a refresh failure is the only error that fails the sweep.
func (im *IndexMaintainer) Run(ctx context.Context, minPages int64) (*IndexOutcome, error) {
	stats, err := im.store.IndexStats(ctx)
	if err != nil {
		return nil, err
	}

	plans := PlanIndexMaintenance(stats, minPages)
	out := &IndexOutcome{Skipped: len(stats) - len(plans)}

	for _, p := range plans {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		var actErr error
		switch p.Action {
		case ActionRebuild:
			actErr = im.store.RebuildIndex(ctx, p.Stat.Table, p.Stat.Index)
		case ActionReorganize:
			actErr = im.store.ReorganizeIndex(ctx, p.Stat.Table, p.Stat.Index)
		}
		if actErr != nil {
			im.logger.Warn("index maintenance failed",
				"table", p.Stat.Table, "index", p.Stat.Index,
				"action", p.Action.String(), "error", actErr)
			out.Failed = append(out.Failed, ItemError{UpdateID: p.Stat.Index, Err: actErr})
			continue
		}
		switch p.Action {
		case ActionRebuild:
			out.Rebuilt++
		case ActionReorganize:
			out.Reorganized++
		}
	}

	if err := im.store.UpdateStatistics(ctx); err != nil {
		return out, err
	}

	im.logger.Info("index maintenance complete",
		"rebuilt", out.Rebuilt, "reorganized", out.Reorganized,
		"skipped", out.Skipped, "failed", len(out.Failed))
	return out, nil
}
