package cmd

import (
	"context"
	"fmt"
	"io"

	"grimm.is/linkd/internal/platform"
)

// ParseScope maps "master" or "slave" to an OptionScope.
func ParseScope(s string) (platform.OptionScope, error) {
	switch s {
	case "master", "":
		return platform.ScopeMaster, nil
	case "slave":
		return platform.ScopeSlave, nil
	}
	return 0, fmt.Errorf("unknown option scope %q (want master or slave)", s)
}

// RunOption reads an option, or writes it when value is non-nil. Writes
// print the value read back afterwards, which is the kernel's normalized
// form ("active-backup 1" for mode=active-backup).
func RunOption(ctx context.Context, s *Session, out io.Writer, scope platform.OptionScope, arg, key string, value *string) error {
	h, err := s.Resolve(arg)
	if err != nil {
		return err
	}
	if value != nil {
		if err := s.Platform.SetOption(ctx, h, scope, key, *value); err != nil {
			return err
		}
	}
	v, err := s.Platform.GetOption(ctx, h, scope, key)
	if err != nil {
		return err
	}
	Printer.Fprintf(out, "%s\n", v)
	return nil
}
