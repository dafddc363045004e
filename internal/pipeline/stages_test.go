package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/executor"
	"github.com/benchsweep/benchsweep/internal/models"
	"github.com/benchsweep/benchsweep/internal/pipeline"
	"github.com/benchsweep/benchsweep/internal/store"
)

// fakeSource serves files from memory and records checkouts. Stage tests use
// it instead of a real repository; the vcs package has its own tests.
type fakeSource struct {
	files     map[string]string // path -> contents, same at every commit
	checkouts []string
}

func (f *fakeSource) Checkout(commit string) error {
	f.checkouts = append(f.checkouts, commit)
	return nil
}

func (f *fakeSource) FileAt(commit, path string) ([]byte, error) {
	contents, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file %s", path)
	}
	return []byte(contents), nil
}

const testProjectToml = `[build]
commands = [["sh", "-c", "echo built > \"$BENCH_OUTPUT_DIR/app\""]]
output = "app"

[server]
command = ["sleep", "30"]
warmup_sec = 0.0

[[test]]
name = "plaintext"
load = [["true"]]
`

func newTestPipeline(t *testing.T) (*pipeline.Pipeline, *fakeSource, *fakeSource) {
	t.Helper()

	workDir := t.TempDir()
	st, err := store.Open(filepath.Join(workDir, "store"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}

	cfg := config.Config{
		InstanceID: "rig-1",
		WorkDir:    workDir,
		Toolchain:  config.ToolchainConfig{Program: "echo", Args: []string{"toolchain-1.0"}},
		Framework: config.FrameworkConfig{
			Remote: "unused",
			Build:  [][]string{{"sh", "-c", "mkdir -p bin && echo built > bin/framework"}},
			Output: "bin/framework",
		},
		Application: config.ApplicationConfig{Remote: "unused"},
	}

	// The checkouts exist on disk already; fakeSource only pretends to move them.
	if err := os.MkdirAll(cfg.FrameworkDir(), 0755); err != nil {
		t.Fatalf("creating framework dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.ApplicationDir(), "hello"), 0755); err != nil {
		t.Fatalf("creating application dir: %v", err)
	}

	fw := &fakeSource{files: map[string]string{}}
	app := &fakeSource{files: map[string]string{"hello/bench.toml": testProjectToml}}

	return &pipeline.Pipeline{
		Config:      cfg,
		Store:       st,
		Framework:   fw,
		Application: app,
		Runner:      &executor.Runner{},
	}, fw, app
}

func TestEnsureFrameworkBuildThenReuse(t *testing.T) {
	p, fw, _ := newTestPipeline(t)
	ctx := context.Background()

	// First invocation: empty ledger, empty pointers
	rec, reused, err := p.EnsureFrameworkBuild(ctx, "c1")
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	if reused {
		t.Fatal("first build must not be a reuse")
	}
	if rec.ID == "" || rec.Commit != "c1" || rec.InstanceID != "rig-1" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if len(fw.checkouts) != 1 || fw.checkouts[0] != "c1" {
		t.Errorf("expected one checkout of c1, got %v", fw.checkouts)
	}
	if _, err := os.Stat(p.Config.FrameworkOutput()); err != nil {
		t.Fatalf("expected build output on disk: %v", err)
	}

	ptrs, err := p.Store.ReadPointers()
	if err != nil {
		t.Fatalf("reading pointers: %v", err)
	}
	if ptrs.LastFrameworkBuild != rec.ID {
		t.Errorf("pointer not advanced: %+v", ptrs)
	}

	// Second invocation with unchanged inputs: reuse, no side effects
	rec2, reused, err := p.EnsureFrameworkBuild(ctx, "c1")
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !reused {
		t.Fatal("expected reuse on unchanged inputs")
	}
	if rec2.ID != rec.ID {
		t.Errorf("expected the same record, got %s then %s", rec.ID, rec2.ID)
	}
	if len(fw.checkouts) != 1 {
		t.Errorf("reuse must not check out, got %v", fw.checkouts)
	}
}

func TestEnsureFrameworkBuildRebuildsOnNewCommit(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	first, _, err := p.EnsureFrameworkBuild(ctx, "c1")
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, reused, err := p.EnsureFrameworkBuild(ctx, "c2")
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if reused {
		t.Fatal("expected rebuild for a new commit")
	}
	if second.ID == first.ID {
		t.Error("rebuild must produce a fresh artifact id")
	}
}

func TestFrameworkBuildFailureIsRecordedNotRaised(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	p.Config.Framework.Build = [][]string{
		{"false"},
		{"sh", "-c", "mkdir -p bin && echo built > bin/framework"},
	}

	rec, _, err := p.EnsureFrameworkBuild(context.Background(), "c1")
	if err != nil {
		t.Fatalf("framework command failure must not be fatal: %v", err)
	}
	if len(rec.Executions) != 2 {
		t.Fatalf("expected both executions recorded, got %d", len(rec.Executions))
	}
	if rec.Executions[0].Succeeded() {
		t.Error("expected first execution to record its failure")
	}
	if !rec.Executions[1].Succeeded() {
		t.Error("expected second execution to run despite the first failing")
	}
}

func TestEnsureApplicationBuildThreadsUpstreamIdentity(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	fw, _, err := p.EnsureFrameworkBuild(ctx, "c1")
	if err != nil {
		t.Fatalf("framework build: %v", err)
	}

	app, reused, err := p.EnsureApplicationBuild(ctx, fw, "a1", "hello")
	if err != nil {
		t.Fatalf("application build: %v", err)
	}
	if reused {
		t.Fatal("first application build must not be a reuse")
	}
	if app.FrameworkBuildID != fw.ID {
		t.Errorf("expected upstream id %s, got %s", fw.ID, app.FrameworkBuildID)
	}

	// Unchanged inputs: reuse
	app2, reused, err := p.EnsureApplicationBuild(ctx, fw, "a1", "hello")
	if err != nil {
		t.Fatalf("second application build: %v", err)
	}
	if !reused || app2.ID != app.ID {
		t.Errorf("expected reuse of %s, got %s (reused=%v)", app.ID, app2.ID, reused)
	}

	// A new framework build invalidates the application build
	fw2, _, err := p.EnsureFrameworkBuild(ctx, "c2")
	if err != nil {
		t.Fatalf("second framework build: %v", err)
	}
	app3, reused, err := p.EnsureApplicationBuild(ctx, fw2, "a1", "hello")
	if err != nil {
		t.Fatalf("third application build: %v", err)
	}
	if reused {
		t.Error("expected rebuild after upstream change")
	}
	if app3.FrameworkBuildID != fw2.ID {
		t.Errorf("expected new upstream id %s, got %s", fw2.ID, app3.FrameworkBuildID)
	}
}

func TestEnsureApplicationBuildRequiresFrameworkBuild(t *testing.T) {
	p, _, _ := newTestPipeline(t)

	_, _, err := p.EnsureApplicationBuild(context.Background(), nil, "a1", "hello")
	if !errors.Is(err, models.ErrMissingPrecondition) {
		t.Errorf("expected ErrMissingPrecondition, got %v", err)
	}
}

func TestEnsureApplicationBuildCommandFailureIsFatal(t *testing.T) {
	p, _, app := newTestPipeline(t)
	app.files["hello/bench.toml"] = `[build]
commands = [["false"]]
output = "app"

[server]
command = ["sleep", "30"]
`
	ctx := context.Background()

	fw, _, err := p.EnsureFrameworkBuild(ctx, "c1")
	if err != nil {
		t.Fatalf("framework build: %v", err)
	}

	_, _, err = p.EnsureApplicationBuild(ctx, fw, "a1", "hello")
	if !errors.Is(err, models.ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}

	// No record, no pointer advance
	ptrs, err := p.Store.ReadPointers()
	if err != nil {
		t.Fatalf("reading pointers: %v", err)
	}
	if ptrs.ApplicationBuildFor("hello") != "" {
		t.Errorf("failed build must not advance the pointer, got %+v", ptrs)
	}
}

func TestRunBenchmarkAlwaysExecutesAndRecords(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	fw, _, err := p.EnsureFrameworkBuild(ctx, "c1")
	if err != nil {
		t.Fatalf("framework build: %v", err)
	}
	app, _, err := p.EnsureApplicationBuild(ctx, fw, "a1", "hello")
	if err != nil {
		t.Fatalf("application build: %v", err)
	}

	run1, err := p.RunBenchmark(ctx, app, "plaintext")
	if err != nil {
		t.Fatalf("first benchmark: %v", err)
	}
	run2, err := p.RunBenchmark(ctx, app, "plaintext")
	if err != nil {
		t.Fatalf("second benchmark: %v", err)
	}
	if run1.ID == run2.ID {
		t.Error("benchmark runs are never reused; expected two distinct records")
	}
	if run1.ApplicationBuildID != app.ID {
		t.Errorf("expected upstream %s, got %s", app.ID, run1.ApplicationBuildID)
	}
	if len(run1.Load) != 1 || !run1.Load[0].Succeeded() {
		t.Errorf("unexpected load executions: %+v", run1.Load)
	}

	runs, err := p.Store.ListBenchmarkRuns()
	if err != nil {
		t.Fatalf("listing runs: %v", err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 persisted runs, got %d", len(runs))
	}
}

func TestRunBenchmarkUnknownTestIsFatal(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	ctx := context.Background()

	fw, _, err := p.EnsureFrameworkBuild(ctx, "c1")
	if err != nil {
		t.Fatalf("framework build: %v", err)
	}
	app, _, err := p.EnsureApplicationBuild(ctx, fw, "a1", "hello")
	if err != nil {
		t.Fatalf("application build: %v", err)
	}

	_, err = p.RunBenchmark(ctx, app, "no-such-test")
	if !errors.Is(err, models.ErrMissingPrecondition) {
		t.Errorf("expected ErrMissingPrecondition, got %v", err)
	}
}
