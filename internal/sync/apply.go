package sync

import (
	"os"

	"github.com/lakowske/netcore/internal/fsatomic"
)

// ApplyFiles is the shared Apply implementation every concrete
// Synchronizer in this module uses: it writes or removes each FileChange
// atomically, stopping at the first failure (the caller's Plan always
// computes every change up front, so a partial Apply still leaves every
// written file internally consistent, even if the overall projection is
// left incomplete until the next reconcile retries it).
func ApplyFiles(plan Plan) error {
	for _, change := range plan.Changes {
		switch change.Action {
		case ActionWrite:
			mode := change.Mode
			if mode == 0 {
				mode = 0o644
			}
			if err := fsatomic.Write(change.Path, change.Content, mode); err != nil {
				return err
			}
		case ActionDelete:
			if err := os.Remove(change.Path); err != nil && !os.IsNotExist(err) {
				return err
			}
		case ActionMkdirAll:
			mode := change.Mode
			if mode == 0 {
				mode = 0o755
			}
			if err := os.MkdirAll(change.Path, mode); err != nil {
				return err
			}
		}
	}
	return nil
}
