// Package git keeps the local working copy in step with its upstream branch.
//
// It wraps go-git to provide the few operations a deployment needs:
//
//   - Pull: fast-forward the working copy and report the files that changed
//     between the old and new HEAD (a tree diff, not a working-tree diff)
//   - CheckForUpdates: fetch only, then compare local and upstream commits
//   - Status: list uncommitted and untracked files for drift detection
//   - IndexLocked: detect a leftover .git/index.lock before touching anything
//
// # Example Usage
//
//	engine := git.NewEngine("/config", git.WithBranch("main"))
//	if err := engine.Open(); err != nil {
//	    return err // wraps ErrRepositoryUnavailable
//	}
//
//	changed, err := engine.Pull(ctx)
//	if err != nil {
//	    return err
//	}
package git
