package models

import "time"

// Command describes one external process invocation.
type Command struct {
	Program string            `json:"program"`
	Args    []string          `json:"args,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Execution records one attempt to run a Command. Immutable once constructed.
// ExitCode is nil when the process could not be launched at all.
type Execution struct {
	Command   Command   `json:"command"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Stdout    *string   `json:"stdout,omitempty"`
	Stderr    *string   `json:"stderr,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
}

// Succeeded reports whether the process launched and exited zero.
func (e Execution) Succeeded() bool {
	return e.ExitCode != nil && *e.ExitCode == 0
}

// FrameworkBuildRecord is one attempt to build the framework at a commit.
type FrameworkBuildRecord struct {
	ID         string      `json:"id"`
	InstanceID string      `json:"instance_id"`
	Commit     string      `json:"commit"`
	Toolchain  string      `json:"toolchain"`
	Executions []Execution `json:"executions"`
}

// ApplicationBuildRecord is one attempt to build a test project against a
// specific framework build. FrameworkBuildID is the invalidation link: a new
// framework build gives downstream builds a different fingerprint.
type ApplicationBuildRecord struct {
	ID               string      `json:"id"`
	InstanceID       string      `json:"instance_id"`
	FrameworkBuildID string      `json:"framework_build_id"`
	Project          string      `json:"project"`
	Commit           string      `json:"commit"`
	Toolchain        string      `json:"toolchain"`
	Executions       []Execution `json:"executions"`
}

// BenchmarkRunRecord is one completed benchmark run against an application
// build. Runs are the collected unit of work and are never reused.
type BenchmarkRunRecord struct {
	ID                 string      `json:"id"`
	InstanceID         string      `json:"instance_id"`
	ApplicationBuildID string      `json:"application_build_id"`
	Test               string      `json:"test"`
	Toolchain          string      `json:"toolchain"`
	Server             Execution   `json:"server"`
	Load               []Execution `json:"load"`
}

// Pointers is the single mutable structure in the store: the most recent
// build id per lineage. It is always rewritten whole, never patched per
// entry, so concurrent tool instances sharing a store can lose an update.
type Pointers struct {
	LastFrameworkBuild            string            `json:"last_framework_build,omitempty"`
	LastApplicationBuildByProject map[string]string `json:"last_application_build_by_project,omitempty"`
}

// ApplicationBuildFor returns the last application build id recorded for a
// project, or "" when none exists.
func (p Pointers) ApplicationBuildFor(project string) string {
	return p.LastApplicationBuildByProject[project]
}

// SetApplicationBuild records the last application build id for a project.
func (p *Pointers) SetApplicationBuild(project, id string) {
	if p.LastApplicationBuildByProject == nil {
		p.LastApplicationBuildByProject = make(map[string]string)
	}
	p.LastApplicationBuildByProject[project] = id
}
