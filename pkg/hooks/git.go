package hooks

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

// GitProvenance returns the current branch and commit for a working
// directory. Both come back empty outside a repository; provenance is
// best-effort and never blocks a hook for long.
func GitProvenance(cwd string) (branch, commitSHA string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if out, err := exec.CommandContext(ctx, "git", "-C", cwd, "rev-parse", "--abbrev-ref", "HEAD").Output(); err == nil {
		branch = strings.TrimSpace(string(out))
	}
	if out, err := exec.CommandContext(ctx, "git", "-C", cwd, "rev-parse", "HEAD").Output(); err == nil {
		commitSHA = strings.TrimSpace(string(out))
	}
	return branch, commitSHA
}
