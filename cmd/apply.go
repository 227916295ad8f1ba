package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"grimm.is/linkd/internal/config"
	"grimm.is/linkd/internal/platform"
)

// ProfileFromConfig converts a link block into a realization profile.
func ProfileFromConfig(l *config.LinkConfig) (platform.Profile, error) {
	typ, err := platform.ParseLinkType(l.Type)
	if err != nil {
		return platform.Profile{}, fmt.Errorf("link %q: %w", l.Name, err)
	}
	prof := platform.Profile{
		Name:   l.Name,
		Type:   typ,
		Up:     l.Up,
		Master: l.Master,
	}
	if l.SlaveType != "" {
		if prof.SlaveType, err = platform.ParseLinkType(l.SlaveType); err != nil {
			return platform.Profile{}, fmt.Errorf("link %q slave_type: %w", l.Name, err)
		}
	}
	if prof.MasterOptions, err = l.MasterOptions(); err != nil {
		return platform.Profile{}, err
	}
	if prof.SlaveOptions, err = l.SlaveOptionMap(); err != nil {
		return platform.Profile{}, err
	}
	return prof, nil
}

// ApplyOrder sorts link blocks so every master precedes its slaves.
// Masters that are not in the list are assumed to exist already.
func ApplyOrder(links []config.LinkConfig) ([]config.LinkConfig, error) {
	inConfig := make(map[string]bool, len(links))
	for _, l := range links {
		inConfig[l.Name] = true
	}

	placed := make(map[string]bool, len(links))
	order := make([]config.LinkConfig, 0, len(links))
	pending := links
	for len(pending) > 0 {
		var next []config.LinkConfig
		for _, l := range pending {
			if l.Master == "" || !inConfig[l.Master] || placed[l.Master] {
				order = append(order, l)
				placed[l.Name] = true
			} else {
				next = append(next, l)
			}
		}
		if len(next) == len(pending) {
			names := make([]string, len(next))
			for i, l := range next {
				names[i] = l.Name
			}
			return nil, fmt.Errorf("master cycle among links: %s", strings.Join(names, ", "))
		}
		pending = next
	}
	return order, nil
}

// RunApply realizes every link block of the configuration. With dryRun
// it only prints what would be created or updated.
func RunApply(ctx context.Context, s *Session, out io.Writer, dryRun bool) error {
	links, err := ApplyOrder(s.Config.Links)
	if err != nil {
		return err
	}

	for i := range links {
		prof, err := ProfileFromConfig(&links[i])
		if err != nil {
			return err
		}
		if dryRun {
			action := "create"
			if s.Platform.LinkExists(prof.Name) {
				action = "update"
			}
			Printer.Fprintf(out, "[DRY RUN] %s %s %s\n", action, prof.Type, prof.Name)
			continue
		}

		h, err := s.Platform.Realize(ctx, prof)
		if err != nil {
			return fmt.Errorf("apply %s: %w", prof.Name, err)
		}
		s.Logger.Info("link realized", "link", prof.Name, "handle", h)
		Printer.Fprintf(out, "%s: ok (handle %d)\n", prof.Name, h)
	}
	return nil
}

// RunExport prints the current virtual links and enslaved links as link
// blocks that "apply" accepts. With withOptions every supported option is
// read back and included.
func RunExport(ctx context.Context, s *Session, out io.Writer, withOptions bool) error {
	var blocks []config.LinkConfig
	for _, l := range s.Platform.Links() {
		if !l.Type.Capabilities().Virtual && l.Master == 0 {
			continue
		}
		b, err := exportLink(ctx, s, l, withOptions)
		if err != nil {
			return err
		}
		blocks = append(blocks, b)
	}
	_, err := out.Write(config.EncodeLinks(blocks))
	return err
}

func exportLink(ctx context.Context, s *Session, l platform.Link, withOptions bool) (config.LinkConfig, error) {
	up := l.Up
	b := config.LinkConfig{
		Name:         l.Name,
		Type:         l.Type.String(),
		Up:           &up,
		Options:      config.OptionsValue(nil),
		SlaveOptions: config.OptionsValue(nil),
	}

	var master platform.Link
	if l.Master != 0 {
		m, err := s.Platform.Link(l.Master)
		if err != nil {
			return b, err
		}
		master = m
		b.Master = m.Name
	}
	if !withOptions {
		return b, nil
	}

	opts, err := readOptions(ctx, s, l.Handle, platform.ScopeMaster, l.Type.Capabilities().MasterOptions)
	if err != nil {
		return b, err
	}
	b.Options = config.OptionsValue(opts)

	if l.Master != 0 {
		opts, err := readOptions(ctx, s, l.Handle, platform.ScopeSlave, master.Type.Capabilities().SlaveOptions)
		if err != nil {
			return b, err
		}
		b.SlaveOptions = config.OptionsValue(opts)
	}
	return b, nil
}

// readOptions reads keys and keeps the leading word of each non-empty
// value, the form the kernel accepts on write ("active-backup 1" becomes
// "active-backup").
func readOptions(ctx context.Context, s *Session, h int, scope platform.OptionScope, keys []string) (map[string]string, error) {
	opts := make(map[string]string, len(keys))
	for _, k := range keys {
		v, err := s.Platform.GetOption(ctx, h, scope, k)
		if err != nil {
			return nil, fmt.Errorf("read %s option %s: %w", scope, k, err)
		}
		if f := strings.Fields(v); len(f) > 0 {
			opts[k] = f[0]
		}
	}
	return opts, nil
}
