package pipeline

import (
	"fmt"
	"os"
)

// Reasons surfaced to the operator when a stage rebuilds. Order is fixed so
// repeated invocations report identically.
const (
	ReasonNoRecord         = "no existing build record"
	ReasonToolchainChanged = "toolchain version changed"
	ReasonUpstreamChanged  = "upstream build changed"
	ReasonOutputMissing    = "expected output missing"
)

// BuildState is the comparable slice of an existing record. UpstreamID is
// empty for the framework stage, which has no upstream.
type BuildState struct {
	Commit     string
	Toolchain  string
	UpstreamID string
}

// Fingerprint is the set of desired inputs for a stage. Toolchain must be
// captured fresh for every call; OutputPath (when non-empty) is stat'ed fresh
// for every call. Neither probe is ever cached across decisions.
type Fingerprint struct {
	Commit     string
	Toolchain  string
	UpstreamID string
	OutputPath string
}

// Decide returns the reasons the existing record cannot be reused for the
// desired fingerprint. An empty result means reuse. With no existing record
// at all the single "no existing build record" reason is returned.
func Decide(existing *BuildState, desired Fingerprint) []string {
	if existing == nil {
		return []string{ReasonNoRecord}
	}

	var reasons []string
	if existing.Commit != desired.Commit {
		reasons = append(reasons, fmt.Sprintf("commit changed to %s", desired.Commit))
	}
	if existing.Toolchain != desired.Toolchain {
		reasons = append(reasons, ReasonToolchainChanged)
	}
	if desired.UpstreamID != "" && existing.UpstreamID != desired.UpstreamID {
		reasons = append(reasons, ReasonUpstreamChanged)
	}
	if desired.OutputPath != "" {
		// Guards against interference the record cannot see, e.g. a
		// manually cleaned work directory.
		if _, err := os.Stat(desired.OutputPath); err != nil {
			reasons = append(reasons, ReasonOutputMissing)
		}
	}
	return reasons
}
