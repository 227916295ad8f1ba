package cmd

import (
	"context"
	"errors"
	"io"
)

// ErrDrift is returned by RunDiff when the cache disagrees with the kernel.
var ErrDrift = errors.New("link cache differs from kernel")

// RunDiff compares the link cache with a fresh kernel dump and prints a
// unified diff of any disagreement.
func RunDiff(ctx context.Context, s *Session, out io.Writer) error {
	diff, err := s.Platform.Verify(ctx)
	if err != nil {
		return err
	}
	if diff == "" {
		Printer.Fprintf(out, "No differences.\n")
		return nil
	}
	Printer.Fprintf(out, "%s", diff)
	return ErrDrift
}
