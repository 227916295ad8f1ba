package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"grimm.is/linkd/internal/platform"
)

// RunList prints every cached link, one per row.
func RunList(s *Session, out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	Printer.Fprintf(w, "HANDLE\tNAME\tTYPE\tSTATE\tMASTER\n")
	for _, l := range s.Platform.Links() {
		master := "-"
		if l.Master != 0 {
			if name, err := s.Platform.Name(l.Master); err == nil {
				master = name
			}
		}
		Printer.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", l.Handle, l.Name, l.Type, linkState(l), master)
	}
	return w.Flush()
}

func linkState(l platform.Link) string {
	var parts []string
	if l.Up {
		parts = append(parts, "up")
	} else {
		parts = append(parts, "down")
	}
	if l.Connected {
		parts = append(parts, "connected")
	}
	if !l.ARP {
		parts = append(parts, "noarp")
	}
	return strings.Join(parts, ",")
}

// RunShow prints every property of one link.
func RunShow(s *Session, out io.Writer, arg string) error {
	h, err := s.Resolve(arg)
	if err != nil {
		return err
	}
	l, err := s.Platform.Link(h)
	if err != nil {
		return err
	}

	Printer.Fprintf(out, "%s (handle %d)\n", l.Name, l.Handle)
	Printer.Fprintf(out, "  type:           %s\n", l.Type)
	Printer.Fprintf(out, "  up:             %t\n", l.Up)
	Printer.Fprintf(out, "  connected:      %t\n", l.Connected)
	Printer.Fprintf(out, "  arp:            %t\n", l.ARP)
	Printer.Fprintf(out, "  carrier:        %t\n", l.Carrier)
	Printer.Fprintf(out, "  carrier detect: %t\n", l.CarrierDetect)
	Printer.Fprintf(out, "  vlans:          %t\n", l.VLANs)
	if l.MTU != 0 {
		Printer.Fprintf(out, "  mtu:            %d\n", l.MTU)
	}
	if l.HardwareAddr != "" {
		Printer.Fprintf(out, "  address:        %s\n", l.HardwareAddr)
	}
	if l.Master != 0 {
		name, _ := s.Platform.Name(l.Master)
		Printer.Fprintf(out, "  master:         %s (%d)\n", name, l.Master)
	}
	if len(l.Slaves) > 0 {
		names := make([]string, 0, len(l.Slaves))
		for _, sh := range l.Slaves {
			name, _ := s.Platform.Name(sh)
			names = append(names, name)
		}
		Printer.Fprintf(out, "  slaves:         %s\n", strings.Join(names, " "))
	}
	return nil
}

// RunAdd creates a virtual link of the named type.
func RunAdd(ctx context.Context, s *Session, out io.Writer, typeName, name string) error {
	typ, err := platform.ParseLinkType(typeName)
	if err != nil {
		return err
	}
	h, err := s.Platform.AddVirtual(ctx, typ, name)
	if err != nil {
		return err
	}
	Printer.Fprintf(out, "Added %s %s (handle %d)\n", typ, name, h)
	return nil
}

// RunDelete deletes a link.
func RunDelete(ctx context.Context, s *Session, arg string) error {
	h, err := s.Resolve(arg)
	if err != nil {
		return err
	}
	return s.Platform.Delete(ctx, h)
}

// RunSet applies one of the flag operations: up, down, arp or noarp.
func RunSet(ctx context.Context, s *Session, op, arg string) error {
	h, err := s.Resolve(arg)
	if err != nil {
		return err
	}
	switch op {
	case "up":
		return s.Platform.SetUp(ctx, h)
	case "down":
		return s.Platform.SetDown(ctx, h)
	case "arp":
		return s.Platform.SetARP(ctx, h)
	case "noarp":
		return s.Platform.SetNoARP(ctx, h)
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
}

// RunEnslave attaches slave to master.
func RunEnslave(ctx context.Context, s *Session, master, slave string) error {
	m, sl, err := s.resolvePair(master, slave)
	if err != nil {
		return err
	}
	return s.Platform.Enslave(ctx, m, sl)
}

// RunRelease detaches slave from master.
func RunRelease(ctx context.Context, s *Session, master, slave string) error {
	m, sl, err := s.resolvePair(master, slave)
	if err != nil {
		return err
	}
	return s.Platform.Release(ctx, m, sl)
}

func (s *Session) resolvePair(master, slave string) (int, int, error) {
	m, err := s.Resolve(master)
	if err != nil {
		return 0, 0, err
	}
	sl, err := s.Resolve(slave)
	if err != nil {
		return 0, 0, err
	}
	return m, sl, nil
}
