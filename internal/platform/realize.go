package platform

import (
	"context"
	"sort"

	"grimm.is/linkd/internal/errors"
)

// Profile is the desired state of one link as supplied by the settings
// layer.
type Profile struct {
	Name string
	Type LinkType

	// Up, when set, is the desired administrative state.
	Up *bool

	// Master names the aggregating link this one should be enslaved to.
	// Empty means the link should have no master.
	Master string

	// SlaveType, when set, must match the master's type.
	SlaveType LinkType

	MasterOptions map[string]string
	SlaveOptions  map[string]string
}

// Realize converges a link to profile, creating it if needed, and returns
// its handle. Each step is a separate operation with its own events.
func (p *Platform) Realize(ctx context.Context, prof Profile) (int, error) {
	h, err := p.realize(ctx, prof)
	if err != nil {
		err = errors.Attr(err, "profile", prof.Name)
	}
	return h, p.setErr(err)
}

func (p *Platform) realize(ctx context.Context, prof Profile) (int, error) {
	l, exists := p.cache.GetByName(prof.Name)
	switch {
	case exists && l.Type != prof.Type:
		return 0, errors.Errorf(errors.KindInvalidOperation,
			"link %q exists as %s, profile wants %s", prof.Name, l.Type, prof.Type)
	case !exists && !prof.Type.Capabilities().Virtual:
		return 0, notFoundName(prof.Name)
	case !exists:
		h, err := p.AddVirtual(ctx, prof.Type, prof.Name)
		if err != nil {
			return 0, err
		}
		if l, err = p.lookup(h); err != nil {
			return 0, err
		}
	}
	h := l.Handle

	for _, k := range sortedKeys(prof.MasterOptions) {
		if err := p.SetMasterOption(ctx, h, k, prof.MasterOptions[k]); err != nil {
			return h, err
		}
	}

	if err := p.realizeMaster(ctx, prof, h); err != nil {
		return h, err
	}

	if prof.Up != nil {
		var err error
		if *prof.Up {
			err = p.SetUp(ctx, h)
		} else {
			err = p.SetDown(ctx, h)
		}
		if err != nil {
			return h, err
		}
	}
	return h, nil
}

func (p *Platform) realizeMaster(ctx context.Context, prof Profile, h int) error {
	l, err := p.lookup(h)
	if err != nil {
		return err
	}

	if prof.Master == "" {
		if prof.SlaveType != LinkTypeNone || len(prof.SlaveOptions) > 0 {
			return errors.Errorf(errors.KindInvalidOperation, "profile %q has slave settings but no master", prof.Name)
		}
		if l.Master != 0 {
			return p.Release(ctx, l.Master, h)
		}
		return nil
	}

	m, ok := p.cache.GetByName(prof.Master)
	if !ok {
		return notFoundName(prof.Master)
	}
	if prof.SlaveType != LinkTypeNone && prof.SlaveType != m.Type {
		return errors.Errorf(errors.KindInvalidOperation,
			"profile %q wants a %s master but %s is a %s", prof.Name, prof.SlaveType, m.Name, m.Type)
	}

	if l.Master != 0 && l.Master != m.Handle {
		if err := p.Release(ctx, l.Master, h); err != nil {
			return err
		}
	}
	if l.Master != m.Handle && l.Up && m.Type.Capabilities().SlavesDown {
		if err := p.SetDown(ctx, h); err != nil {
			return err
		}
	}
	if err := p.Enslave(ctx, m.Handle, h); err != nil {
		return err
	}

	for _, k := range sortedKeys(prof.SlaveOptions) {
		if err := p.SetSlaveOption(ctx, h, k, prof.SlaveOptions[k]); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
