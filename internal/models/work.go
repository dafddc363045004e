package models

// WorkItem is one outstanding benchmark derived from the test matrix. It is
// never persisted; identity for dedup purposes is the Identity tuple, the
// branch fields are provenance only.
type WorkItem struct {
	Test              string
	FrameworkCommit   string
	ApplicationCommit string
	Application       string
	FrameworkBranch   string
	ApplicationBranch string
}

// Identity is the dedup key joining a WorkItem to a completed benchmark run.
type Identity struct {
	Test              string
	FrameworkCommit   string
	ApplicationCommit string
	Application       string
}

// Identity returns the item's dedup key.
func (w WorkItem) Identity() Identity {
	return Identity{
		Test:              w.Test,
		FrameworkCommit:   w.FrameworkCommit,
		ApplicationCommit: w.ApplicationCommit,
		Application:       w.Application,
	}
}
