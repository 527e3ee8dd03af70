// Package attachments manages the per-call scratch directories that hold
// image attachments staged for a model call. Scratch dirs are uniquely
// named and removed unconditionally after the call, success or failure.
package attachments

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Scratch is one call's private staging directory.
type Scratch struct {
	Dir string
}

// NewScratch creates a uniquely named scratch directory under parent.
func NewScratch(parent string) (*Scratch, error) {
	dir := filepath.Join(parent, "scratch-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("attachments: create scratch: %w", err)
	}
	return &Scratch{Dir: dir}, nil
}

// Stage copies the given assets into the scratch dir with stable ordinal
// names and returns the staged paths in input order.
func (s *Scratch) Stage(paths []string) ([]string, error) {
	staged := make([]string, 0, len(paths))
	for i, src := range paths {
		dst := filepath.Join(s.Dir, fmt.Sprintf("frame-%03d%s", i, filepath.Ext(src)))
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("attachments: stage %s: %w", src, err)
		}
		staged = append(staged, dst)
	}
	return staged, nil
}

// Cleanup removes the scratch dir and everything in it. Safe to call
// more than once.
func (s *Scratch) Cleanup() {
	if s.Dir != "" {
		_ = os.RemoveAll(s.Dir)
	}
}

// EnsureWorkdir idempotently creates a provider's working/config
// directory before first use.
func EnsureWorkdir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("attachments: workdir %s: %w", dir, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
