package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/benchsweep/benchsweep/internal/config"
	"github.com/benchsweep/benchsweep/internal/executor"
	"github.com/benchsweep/benchsweep/internal/models"
	"github.com/benchsweep/benchsweep/internal/store"
)

// projectConfigFile is the per-project descriptor read from the application
// tree at the commit under test.
const projectConfigFile = "bench.toml"

// Source is the slice of a repository the stages need: moving the worktree
// and reading a file at a commit without moving it.
type Source interface {
	Checkout(commit string) error
	FileAt(commit, path string) ([]byte, error)
}

// Pipeline runs the three stages against one store and two checkouts. All
// execution is strictly sequential; nothing here is safe for concurrent use.
type Pipeline struct {
	Config      config.Config
	Store       *store.Store
	Framework   Source
	Application Source
	Runner      *executor.Runner
}

// toolchainFingerprint captures the toolchain's version diagnostic output.
// Called fresh by every stage; the result is compared byte-for-byte against
// the record's stored fingerprint.
func (p *Pipeline) toolchainFingerprint(ctx context.Context) (string, error) {
	e := p.Runner.Run(ctx, models.Command{
		Program: p.Config.Toolchain.Program,
		Args:    p.Config.Toolchain.Args,
	})
	if e.ExitCode == nil {
		return "", fmt.Errorf("%w: toolchain probe %q could not run",
			models.ErrMissingPrecondition, p.Config.Toolchain.Program)
	}
	return deref(e.Stdout) + deref(e.Stderr), nil
}

// EnsureFrameworkBuild returns a framework build for the commit, reusing the
// last recorded build when the invalidation policy allows it. Build command
// failures are recorded in the executions, never raised: a failed framework
// build is still a retrievable record with its diagnostics.
func (p *Pipeline) EnsureFrameworkBuild(ctx context.Context, commit string) (*models.FrameworkBuildRecord, bool, error) {
	toolchain, err := p.toolchainFingerprint(ctx)
	if err != nil {
		return nil, false, err
	}

	ptrs, err := p.Store.ReadPointers()
	if err != nil {
		return nil, false, err
	}

	var existing *models.FrameworkBuildRecord
	var state *BuildState
	if ptrs.LastFrameworkBuild != "" {
		existing, err = p.Store.ReadFrameworkBuild(ptrs.LastFrameworkBuild)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			slog.Warn("pointer names a missing framework build", "id", ptrs.LastFrameworkBuild)
		} else {
			state = &BuildState{Commit: existing.Commit, Toolchain: existing.Toolchain}
		}
	}

	desired := Fingerprint{
		Commit:     commit,
		Toolchain:  toolchain,
		OutputPath: p.Config.FrameworkOutput(),
	}
	reasons := Decide(state, desired)
	if len(reasons) == 0 {
		slog.Info("framework build reused", "id", existing.ID, "commit", commit)
		return existing, true, nil
	}
	for _, r := range reasons {
		slog.Info("framework rebuild", "reason", r)
	}

	if err := p.Framework.Checkout(commit); err != nil {
		return nil, false, err
	}
	// Clear stale output so the rebuild is isolated. Runs only on the
	// rebuild path, never when reusing.
	if err := os.RemoveAll(p.Config.FrameworkOutput()); err != nil {
		return nil, false, fmt.Errorf("clearing framework output: %w", err)
	}

	var execs []models.Execution
	for _, argv := range p.Config.Framework.Build {
		e := p.Runner.Run(ctx, command(argv, p.Config.FrameworkDir(), nil))
		execs = append(execs, e)
		if !e.Succeeded() {
			slog.Warn("framework build command failed", "program", argv[0], "commit", commit)
		}
	}

	rec := models.FrameworkBuildRecord{
		ID:         uuid.NewString(),
		InstanceID: p.Config.InstanceID,
		Commit:     commit,
		Toolchain:  toolchain,
		Executions: execs,
	}
	if err := p.Store.WriteFrameworkBuild(rec); err != nil {
		return nil, false, err
	}
	if err := p.advancePointers(func(ptrs *models.Pointers) {
		ptrs.LastFrameworkBuild = rec.ID
	}); err != nil {
		return nil, false, err
	}

	slog.Info("framework build recorded", "id", rec.ID, "commit", commit)
	return &rec, false, nil
}

// EnsureApplicationBuild returns an application build of the project at the
// commit against the given framework build, reusing the project's last
// recorded build when the policy allows it. Unlike the framework stage, a
// failed build command is fatal and leaves no record.
func (p *Pipeline) EnsureApplicationBuild(ctx context.Context, fw *models.FrameworkBuildRecord, commit, project string) (*models.ApplicationBuildRecord, bool, error) {
	if fw == nil {
		return nil, false, fmt.Errorf("%w: no framework build for application build of %s",
			models.ErrMissingPrecondition, project)
	}

	proj, err := p.projectConfig(commit, project)
	if err != nil {
		return nil, false, err
	}
	toolchain, err := p.toolchainFingerprint(ctx)
	if err != nil {
		return nil, false, err
	}

	ptrs, err := p.Store.ReadPointers()
	if err != nil {
		return nil, false, err
	}

	var existing *models.ApplicationBuildRecord
	var state *BuildState
	if id := ptrs.ApplicationBuildFor(project); id != "" {
		existing, err = p.Store.ReadApplicationBuild(id)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			slog.Warn("pointer names a missing application build", "id", id, "project", project)
		} else {
			state = &BuildState{
				Commit:     existing.Commit,
				Toolchain:  existing.Toolchain,
				UpstreamID: existing.FrameworkBuildID,
			}
		}
	}

	buildDir := p.Config.BuildDir(project)
	desired := Fingerprint{
		Commit:     commit,
		Toolchain:  toolchain,
		UpstreamID: fw.ID,
		OutputPath: filepath.Join(buildDir, proj.Build.Output),
	}
	reasons := Decide(state, desired)
	if len(reasons) == 0 {
		slog.Info("application build reused", "id", existing.ID, "project", project, "commit", commit)
		return existing, true, nil
	}
	for _, r := range reasons {
		slog.Info("application rebuild", "project", project, "reason", r)
	}

	if err := p.Application.Checkout(commit); err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(buildDir, 0755); err != nil {
		return nil, false, fmt.Errorf("creating build dir: %w", err)
	}

	env := p.stageEnv(buildDir)
	projectDir := filepath.Join(p.Config.ApplicationDir(), project)

	var execs []models.Execution
	for _, argv := range proj.Build.Commands {
		e := p.Runner.Run(ctx, command(argv, projectDir, env))
		execs = append(execs, e)
		if !e.Succeeded() {
			return nil, false, fmt.Errorf("%w: building %s at %s: %s exited %s",
				models.ErrCommandFailed, project, commit, argv[0], exitLabel(e))
		}
	}

	rec := models.ApplicationBuildRecord{
		ID:               uuid.NewString(),
		InstanceID:       p.Config.InstanceID,
		FrameworkBuildID: fw.ID,
		Project:          project,
		Commit:           commit,
		Toolchain:        toolchain,
		Executions:       execs,
	}
	if err := p.Store.WriteApplicationBuild(rec); err != nil {
		return nil, false, err
	}
	if err := p.advancePointers(func(ptrs *models.Pointers) {
		ptrs.SetApplicationBuild(project, rec.ID)
	}); err != nil {
		return nil, false, err
	}

	slog.Info("application build recorded", "id", rec.ID, "project", project, "commit", commit)
	return &rec, false, nil
}

// RunBenchmark always executes: a benchmark run is the unit of work being
// collected, not an artifact to reuse. The server is started, the test's
// load generators run in order, then the server is stopped and the whole run
// is recorded. Any failure is fatal and leaves no record.
func (p *Pipeline) RunBenchmark(ctx context.Context, app *models.ApplicationBuildRecord, test string) (*models.BenchmarkRunRecord, error) {
	if app == nil {
		return nil, fmt.Errorf("%w: no application build for benchmark %s",
			models.ErrMissingPrecondition, test)
	}

	proj, err := p.projectConfig(app.Commit, app.Project)
	if err != nil {
		return nil, err
	}
	tc, ok := proj.Test(test)
	if !ok {
		return nil, fmt.Errorf("%w: project %s does not define test %q",
			models.ErrMissingPrecondition, app.Project, test)
	}

	toolchain, err := p.toolchainFingerprint(ctx)
	if err != nil {
		return nil, err
	}

	buildDir := p.Config.BuildDir(app.Project)
	env := p.stageEnv(buildDir)

	handle, err := p.Runner.Start(ctx, command(proj.Server.Command, buildDir, env))
	if err != nil {
		return nil, fmt.Errorf("%w: server for %s: %v", models.ErrCommandFailed, test, err)
	}

	if err := warmup(ctx, proj.Server.WarmupSec); err != nil {
		handle.Stop()
		return nil, err
	}

	var load []models.Execution
	for _, argv := range tc.Load {
		e := p.Runner.Run(ctx, command(argv, buildDir, env))
		load = append(load, e)
		if !e.Succeeded() {
			handle.Stop()
			return nil, fmt.Errorf("%w: load generator %s for test %s exited %s",
				models.ErrCommandFailed, argv[0], test, exitLabel(e))
		}
	}

	server := handle.Stop()

	rec := models.BenchmarkRunRecord{
		ID:                 uuid.NewString(),
		InstanceID:         p.Config.InstanceID,
		ApplicationBuildID: app.ID,
		Test:               test,
		Toolchain:          toolchain,
		Server:             server,
		Load:               load,
	}
	if err := p.Store.WriteBenchmarkRun(rec); err != nil {
		return nil, err
	}

	slog.Info("benchmark run recorded", "id", rec.ID, "test", test, "project", app.Project)
	return &rec, nil
}

// advancePointers rewrites the whole pointer structure with mutate applied.
// This is a read-modify-write of the complete file; two instances sharing a
// store can lose an update (documented limitation, see internal/store).
func (p *Pipeline) advancePointers(mutate func(*models.Pointers)) error {
	ptrs, err := p.Store.ReadPointers()
	if err != nil {
		return err
	}
	mutate(&ptrs)
	return p.Store.WritePointers(ptrs)
}

func (p *Pipeline) projectConfig(commit, project string) (config.ProjectConfig, error) {
	data, err := p.Application.FileAt(commit, path.Join(project, projectConfigFile))
	if err != nil {
		return config.ProjectConfig{}, fmt.Errorf("%w: %s for project %s at %s: %v",
			models.ErrMissingPrecondition, projectConfigFile, project, commit, err)
	}
	return config.ParseProject(data)
}

func (p *Pipeline) stageEnv(buildDir string) map[string]string {
	return map[string]string{
		"BENCH_OUTPUT_DIR":    buildDir,
		"BENCH_FRAMEWORK_DIR": p.Config.FrameworkDir(),
	}
}

func command(argv []string, dir string, env map[string]string) models.Command {
	cmd := models.Command{Program: argv[0], Dir: dir, Env: env}
	if len(argv) > 1 {
		cmd.Args = argv[1:]
	}
	return cmd
}

func warmup(ctx context.Context, seconds float64) error {
	if seconds <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Duration(seconds * float64(time.Second))):
		return nil
	}
}

func exitLabel(e models.Execution) string {
	if e.ExitCode == nil {
		return "without launching"
	}
	return fmt.Sprintf("with code %d", *e.ExitCode)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
