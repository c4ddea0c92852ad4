package installer

import (
	"context"
	"fmt"
	"os"
)

// shellBase holds what the root and broker backends share: the package
// manager binary, the staging directory and the process-wide collaborators.
type shellBase struct {
	mode       Mode
	pm         string
	stagingDir string
	lock       *CommitLock
	reporter   Reporter
}

// stage copies part into a temp file under the staging directory and
// returns its path and length. The path is returned even on error so the
// caller can remove it.
func (b *shellBase) stage(ctx context.Context, id int, part Part, offset int64) (string, int64, error) {
	defer part.Reader.Close()

	if err := os.MkdirAll(b.stagingDir, 0700); err != nil {
		return "", 0, fmt.Errorf("create staging dir: %w", err)
	}
	f, err := os.CreateTemp(b.stagingDir, fmt.Sprintf("%d-*.apk", id))
	if err != nil {
		return "", 0, fmt.Errorf("create staging file: %w", err)
	}
	// The privileged side reads the file as another user.
	if err := f.Chmod(0644); err != nil {
		f.Close()
		return f.Name(), 0, fmt.Errorf("chmod staging file: %w", err)
	}

	n, err := copyWithProgress(ctx, f, part.Reader, id, offset, b.reporter)
	if err != nil {
		f.Close()
		return f.Name(), n, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return f.Name(), n, fmt.Errorf("sync staging file: %w", err)
	}
	if err := f.Close(); err != nil {
		return f.Name(), n, err
	}
	return f.Name(), n, nil
}
