// Package resolver expands the configured test matrix into outstanding work
// items: every non-merge framework commit in a spec's range, crossed with the
// spec's test names, minus work already proven done by recorded benchmark
// runs from this tool instance.
package resolver

import (
	"fmt"
	"log/slog"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/models"
	"github.com/benchsweep/benchsweep/internal/vcs"
)

// History is the slice of a repository the resolver queries.
type History interface {
	ResolveCommit(branch, rev string) (string, error)
	LogRange(branch, startRev, endRev string) ([]vcs.Commit, error)
}

// RunLedger is the slice of the store the resolver joins against.
type RunLedger interface {
	ListBenchmarkRuns() ([]models.BenchmarkRunRecord, error)
	ReadApplicationBuild(id string) (*models.ApplicationBuildRecord, error)
	ReadFrameworkBuild(id string) (*models.FrameworkBuildRecord, error)
}

// Resolver turns matrix specs into an ordered list of outstanding WorkItems.
type Resolver struct {
	Framework   History
	Application History
	Ledger      RunLedger
	InstanceID  string
}

// Resolve expands every matrix spec in order and subtracts completed work.
// The returned order is spec order, then history order (oldest commit first),
// then test order within a commit — stable for a fixed repository state, so
// the run loop's truncation is reproducible.
func (r *Resolver) Resolve(specs []config.MatrixSpec) ([]models.WorkItem, error) {
	var items []models.WorkItem
	for i, spec := range specs {
		appCommit, err := r.Application.ResolveCommit(spec.ApplicationBranch, spec.ApplicationRev)
		if err != nil {
			return nil, fmt.Errorf("matrix[%d]: %w", i, err)
		}

		commits, err := r.Framework.LogRange(spec.FrameworkBranch, spec.Start, spec.End)
		if err != nil {
			return nil, fmt.Errorf("matrix[%d]: %w", i, err)
		}

		for _, c := range commits {
			// Merge commits are never tested on their own; their content
			// is covered by the linear history they merge.
			if c.ParentCount > 1 {
				continue
			}
			for _, test := range spec.Tests {
				items = append(items, models.WorkItem{
					Test:              test,
					FrameworkCommit:   c.Hash,
					ApplicationCommit: appCommit,
					Application:       spec.Application,
					FrameworkBranch:   spec.FrameworkBranch,
					ApplicationBranch: spec.ApplicationBranch,
				})
			}
		}
	}

	done, err := r.completed()
	if err != nil {
		return nil, err
	}

	var outstanding []models.WorkItem
	for _, item := range items {
		if _, ok := done[item.Identity()]; ok {
			continue
		}
		outstanding = append(outstanding, item)
	}

	slog.Info("matrix resolved",
		"expanded", len(items),
		"completed", len(items)-len(outstanding),
		"outstanding", len(outstanding))
	return outstanding, nil
}

// completed recovers the identity tuple of every recorded benchmark run by a
// typed join run → application build → framework build. A dangling upstream
// id is data corruption and fails the resolution; it is never skipped. Runs
// whose root framework build came from another tool instance are not
// credited — environment differences between instances make their results
// incomparable.
func (r *Resolver) completed() (map[models.Identity]struct{}, error) {
	runs, err := r.Ledger.ListBenchmarkRuns()
	if err != nil {
		return nil, err
	}

	done := make(map[models.Identity]struct{}, len(runs))
	for _, run := range runs {
		app, err := r.Ledger.ReadApplicationBuild(run.ApplicationBuildID)
		if err != nil {
			return nil, err
		}
		if app == nil {
			return nil, fmt.Errorf("%w: run %s references missing application build %s",
				models.ErrBrokenLineage, run.ID, run.ApplicationBuildID)
		}

		fw, err := r.Ledger.ReadFrameworkBuild(app.FrameworkBuildID)
		if err != nil {
			return nil, err
		}
		if fw == nil {
			return nil, fmt.Errorf("%w: application build %s references missing framework build %s",
				models.ErrBrokenLineage, app.ID, app.FrameworkBuildID)
		}

		if fw.InstanceID != r.InstanceID {
			continue
		}

		done[models.Identity{
			Test:              run.Test,
			FrameworkCommit:   fw.Commit,
			ApplicationCommit: app.Commit,
			Application:       app.Project,
		}] = struct{}{}
	}
	return done, nil
}
