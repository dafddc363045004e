package pipeline_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benchsweep/benchsweep/internal/pipeline"
)

func existingOutput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out")
	if err := os.WriteFile(path, []byte("binary"), 0644); err != nil {
		t.Fatalf("writing output file: %v", err)
	}
	return path
}

func TestDecideNoRecord(t *testing.T) {
	reasons := pipeline.Decide(nil, pipeline.Fingerprint{Commit: "abc"})
	if len(reasons) != 1 || reasons[0] != pipeline.ReasonNoRecord {
		t.Errorf("expected exactly [%q], got %v", pipeline.ReasonNoRecord, reasons)
	}
}

func TestDecideReuse(t *testing.T) {
	out := existingOutput(t)
	state := &pipeline.BuildState{Commit: "abc", Toolchain: "go1.25", UpstreamID: "fw-1"}
	desired := pipeline.Fingerprint{Commit: "abc", Toolchain: "go1.25", UpstreamID: "fw-1", OutputPath: out}

	if reasons := pipeline.Decide(state, desired); len(reasons) != 0 {
		t.Errorf("expected reuse (no reasons), got %v", reasons)
	}
}

func TestDecideIndividualReasons(t *testing.T) {
	out := existingOutput(t)
	base := pipeline.BuildState{Commit: "abc", Toolchain: "go1.25", UpstreamID: "fw-1"}

	cases := []struct {
		name    string
		desired pipeline.Fingerprint
		want    string
	}{
		{
			"commit changed",
			pipeline.Fingerprint{Commit: "def", Toolchain: "go1.25", UpstreamID: "fw-1", OutputPath: out},
			"commit changed to def",
		},
		{
			"toolchain changed",
			pipeline.Fingerprint{Commit: "abc", Toolchain: "go1.26", UpstreamID: "fw-1", OutputPath: out},
			pipeline.ReasonToolchainChanged,
		},
		{
			"upstream changed",
			pipeline.Fingerprint{Commit: "abc", Toolchain: "go1.25", UpstreamID: "fw-2", OutputPath: out},
			pipeline.ReasonUpstreamChanged,
		},
		{
			"output missing",
			pipeline.Fingerprint{Commit: "abc", Toolchain: "go1.25", UpstreamID: "fw-1", OutputPath: filepath.Join(t.TempDir(), "gone")},
			pipeline.ReasonOutputMissing,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := base
			reasons := pipeline.Decide(&state, tc.desired)
			if len(reasons) != 1 || reasons[0] != tc.want {
				t.Errorf("expected [%q], got %v", tc.want, reasons)
			}
		})
	}
}

func TestDecideReasonsAccumulateInOrder(t *testing.T) {
	state := &pipeline.BuildState{Commit: "abc", Toolchain: "go1.25", UpstreamID: "fw-1"}
	desired := pipeline.Fingerprint{
		Commit:     "def",
		Toolchain:  "go1.26",
		UpstreamID: "fw-2",
		OutputPath: filepath.Join(t.TempDir(), "gone"),
	}

	reasons := pipeline.Decide(state, desired)
	if len(reasons) != 4 {
		t.Fatalf("expected 4 reasons, got %v", reasons)
	}
	if !strings.HasPrefix(reasons[0], "commit changed") {
		t.Errorf("expected commit reason first, got %v", reasons)
	}
	want := []string{
		pipeline.ReasonToolchainChanged,
		pipeline.ReasonUpstreamChanged,
		pipeline.ReasonOutputMissing,
	}
	for i, w := range want {
		if reasons[i+1] != w {
			t.Errorf("reason %d: expected %q, got %q", i+1, w, reasons[i+1])
		}
	}
}

func TestDecideNoUpstreamCheckForFrameworkStage(t *testing.T) {
	out := existingOutput(t)
	// Framework stage: desired has no upstream, existing record's upstream
	// slot is empty too; no upstream reason may appear.
	state := &pipeline.BuildState{Commit: "abc", Toolchain: "go1.25"}
	desired := pipeline.Fingerprint{Commit: "abc", Toolchain: "go1.25", OutputPath: out}

	if reasons := pipeline.Decide(state, desired); len(reasons) != 0 {
		t.Errorf("expected reuse, got %v", reasons)
	}
}

func TestDecideProbesOutputFreshEachCall(t *testing.T) {
	out := existingOutput(t)
	state := &pipeline.BuildState{Commit: "abc", Toolchain: "go1.25"}
	desired := pipeline.Fingerprint{Commit: "abc", Toolchain: "go1.25", OutputPath: out}

	if reasons := pipeline.Decide(state, desired); len(reasons) != 0 {
		t.Fatalf("expected reuse while output exists, got %v", reasons)
	}

	if err := os.Remove(out); err != nil {
		t.Fatalf("removing output: %v", err)
	}

	reasons := pipeline.Decide(state, desired)
	if len(reasons) != 1 || reasons[0] != pipeline.ReasonOutputMissing {
		t.Errorf("expected fresh probe to notice removal, got %v", reasons)
	}
}
