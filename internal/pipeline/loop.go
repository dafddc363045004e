package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/benchsweep/benchsweep/internal/models"
)

// Stages is what the run loop needs from the pipeline. It exists so the loop
// can be exercised without git checkouts or external processes.
type Stages interface {
	EnsureFrameworkBuild(ctx context.Context, commit string) (*models.FrameworkBuildRecord, bool, error)
	EnsureApplicationBuild(ctx context.Context, fw *models.FrameworkBuildRecord, commit, project string) (*models.ApplicationBuildRecord, bool, error)
	RunBenchmark(ctx context.Context, app *models.ApplicationBuildRecord, test string) (*models.BenchmarkRunRecord, error)
}

// Summary reports what one invocation did.
type Summary struct {
	Planned           int
	Executed          int
	Deferred          int
	FrameworkReused   int
	FrameworkBuilt    int
	ApplicationReused int
	ApplicationBuilt  int
}

// itemStage is the per-item state machine. A work item moves strictly
// forward; the first stage error moves it to stageFailed, which aborts the
// whole loop — there is no item-level isolation.
type itemStage int

const (
	stageFramework itemStage = iota
	stageApplication
	stageBenchmark
	stageDone
	stageFailed
)

// Run feeds work items through the three-stage pipeline sequentially. When
// maxItems > 0 only the first maxItems resolver-ordered items are processed
// and the rest are reported as deferred.
func Run(ctx context.Context, st Stages, items []models.WorkItem, maxItems int) (*Summary, error) {
	s := &Summary{Planned: len(items)}

	if maxItems > 0 && len(items) > maxItems {
		s.Deferred = len(items) - maxItems
		slog.Info("work list truncated", "max", maxItems, "deferred", s.Deferred)
		items = items[:maxItems]
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		slog.Info("processing work item",
			"test", item.Test,
			"framework_commit", item.FrameworkCommit,
			"application", item.Application)
		if err := runItem(ctx, st, item, s); err != nil {
			return s, fmt.Errorf("work item (%s, %s, %s): %w",
				item.Test, item.FrameworkCommit, item.Application, err)
		}
		s.Executed++
	}
	return s, nil
}

func runItem(ctx context.Context, st Stages, item models.WorkItem, s *Summary) error {
	var (
		fw      *models.FrameworkBuildRecord
		app     *models.ApplicationBuildRecord
		failure error
	)

	stage := stageFramework
	for {
		switch stage {
		case stageFramework:
			rec, reused, err := st.EnsureFrameworkBuild(ctx, item.FrameworkCommit)
			if err != nil {
				failure, stage = err, stageFailed
				continue
			}
			if reused {
				s.FrameworkReused++
			} else {
				s.FrameworkBuilt++
			}
			fw, stage = rec, stageApplication

		case stageApplication:
			rec, reused, err := st.EnsureApplicationBuild(ctx, fw, item.ApplicationCommit, item.Application)
			if err != nil {
				failure, stage = err, stageFailed
				continue
			}
			if reused {
				s.ApplicationReused++
			} else {
				s.ApplicationBuilt++
			}
			app, stage = rec, stageBenchmark

		case stageBenchmark:
			if _, err := st.RunBenchmark(ctx, app, item.Test); err != nil {
				failure, stage = err, stageFailed
				continue
			}
			stage = stageDone

		case stageDone:
			return nil

		case stageFailed:
			return failure
		}
	}
}
