package platform

import (
	"context"
	"strings"

	"grimm.is/linkd/internal/errors"
	"grimm.is/linkd/internal/logging"
)

func validateName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return errors.Errorf(errors.KindInvalidOperation, "invalid link name %q: must be 1-%d characters", name, MaxNameLen)
	}
	if strings.ContainsAny(name, "/: \t\n") || name == "." || name == ".." {
		return errors.Errorf(errors.KindInvalidOperation, "invalid link name %q", name)
	}
	return nil
}

// AddVirtual creates a software link of the given type and returns its
// handle once it is in the cache.
func (p *Platform) AddVirtual(ctx context.Context, typ LinkType, name string) (int, error) {
	var handle int
	err := p.operation(ctx, "add", func(log *logging.Logger) error {
		h, err := p.addVirtual(ctx, log, typ, name)
		handle = h
		return err
	})
	return handle, err
}

func (p *Platform) addVirtual(ctx context.Context, log *logging.Logger, typ LinkType, name string) (int, error) {
	if err := validateName(name); err != nil {
		return 0, err
	}
	if !typ.Capabilities().Virtual {
		return 0, errors.Errorf(errors.KindInvalidOperation, "link type %s cannot be created", typ)
	}
	if _, exists := p.cache.GetByName(name); exists {
		return 0, errors.Attr(errors.Errorf(errors.KindAlreadyExists, "link %q already exists", name), "name", name)
	}

	implicitBond := typ == LinkTypeBond && name != implicitBondName && !p.hasName(implicitBondName)

	log.Debug("creating link", "name", name, "type", typ.String())
	h, err := p.transport.Create(ctx, LinkSpec{Name: name, Type: typ})
	if err != nil {
		log.Warn("link creation failed", "name", name, "error", err)
		return 0, err
	}

	err = p.await(ctx, "add", h, func() bool {
		l, ok := p.cache.Get(h)
		return ok && l.Name == name
	})
	if err != nil {
		return h, err
	}

	if implicitBond {
		if err := p.checkImplicitBond(ctx, log); err != nil {
			return h, err
		}
	}
	return h, nil
}

func (p *Platform) hasName(name string) bool {
	_, ok := p.cache.GetByName(name)
	return ok
}

// Delete removes a link. Its slaves are detached, not deleted.
func (p *Platform) Delete(ctx context.Context, handle int) error {
	return p.operation(ctx, "delete", func(log *logging.Logger) error {
		if _, err := p.lookup(handle); err != nil {
			return err
		}
		return p.delete(ctx, log, handle)
	})
}

// DeleteByName removes the named link.
func (p *Platform) DeleteByName(ctx context.Context, name string) error {
	return p.operation(ctx, "delete", func(log *logging.Logger) error {
		l, ok := p.cache.GetByName(name)
		if !ok {
			return notFoundName(name)
		}
		return p.delete(ctx, log, l.Handle)
	})
}

func (p *Platform) delete(ctx context.Context, log *logging.Logger, handle int) error {
	log.Debug("deleting link", "handle", handle)
	if err := p.transport.Delete(ctx, handle); err != nil {
		log.Warn("link deletion failed", "handle", handle, "error", err)
		return err
	}
	return p.await(ctx, "delete", handle, func() bool {
		if _, ok := p.cache.Get(handle); ok {
			return false
		}
		for _, l := range p.cache.All() {
			if l.Master == handle {
				return false
			}
		}
		return true
	})
}

// SetUp brings a link up.
func (p *Platform) SetUp(ctx context.Context, handle int) error {
	return p.setFlag(ctx, "set_up", handle, Patch{Up: boolPtr(true)}, func(l Link) bool { return l.Up })
}

// SetDown takes a link down.
func (p *Platform) SetDown(ctx context.Context, handle int) error {
	return p.setFlag(ctx, "set_down", handle, Patch{Up: boolPtr(false)}, func(l Link) bool { return !l.Up })
}

// SetARP enables ARP on a link.
func (p *Platform) SetARP(ctx context.Context, handle int) error {
	return p.setFlag(ctx, "set_arp", handle, Patch{ARP: boolPtr(true)}, func(l Link) bool { return l.ARP })
}

// SetNoARP disables ARP on a link.
func (p *Platform) SetNoARP(ctx context.Context, handle int) error {
	return p.setFlag(ctx, "set_noarp", handle, Patch{ARP: boolPtr(false)}, func(l Link) bool { return !l.ARP })
}

func (p *Platform) setFlag(ctx context.Context, op string, handle int, patch Patch, holds func(Link) bool) error {
	return p.operation(ctx, op, func(log *logging.Logger) error {
		if _, err := p.lookup(handle); err != nil {
			return err
		}
		log.Debug("modifying link", "handle", handle)
		if err := p.transport.Modify(ctx, handle, patch); err != nil {
			log.Warn("link modification failed", "handle", handle, "error", err)
			return err
		}
		return p.await(ctx, op, handle, func() bool {
			l, ok := p.cache.Get(handle)
			return ok && holds(l)
		})
	})
}

// Enslave attaches slave to master. Enslaving to the current master
// succeeds without touching the kernel.
func (p *Platform) Enslave(ctx context.Context, master, slave int) error {
	return p.operation(ctx, "enslave", func(log *logging.Logger) error {
		m, err := p.lookup(master)
		if err != nil {
			return err
		}
		s, err := p.lookup(slave)
		if err != nil {
			return err
		}
		if err := p.checkEnslave(m, s); err != nil {
			return errors.Attr(errors.Attr(err, "master", master), "slave", slave)
		}
		if s.Master == master {
			log.Debug("already enslaved", "master", master, "slave", slave)
			return nil
		}

		log.Debug("enslaving", "master", m.Name, "slave", s.Name)
		if err := p.transport.Modify(ctx, slave, Patch{Master: intPtr(master)}); err != nil {
			log.Warn("enslave failed", "master", m.Name, "slave", s.Name, "error", err)
			return err
		}
		return p.await(ctx, "enslave", slave, func() bool {
			l, ok := p.cache.Get(slave)
			if !ok || l.Master != master {
				return false
			}
			ml, ok := p.cache.Get(master)
			return ok && hasHandle(ml.Slaves, slave)
		})
	})
}

func (p *Platform) checkEnslave(m, s Link) error {
	if m.Handle == s.Handle {
		return errors.Errorf(errors.KindInvalidOperation, "cannot enslave %s to itself", m.Name)
	}
	caps := m.Type.Capabilities()
	if !caps.Aggregating {
		return errors.Errorf(errors.KindInvalidOperation, "%s is a %s and cannot have slaves", m.Name, m.Type)
	}
	if s.Master == m.Handle {
		return nil
	}
	if s.Master != 0 {
		return errors.Errorf(errors.KindInvalidOperation, "%s is already enslaved to link %d", s.Name, s.Master)
	}
	// Walking up from the master must not reach the slave.
	seen := map[int]bool{}
	for h := m.Master; h != 0 && !seen[h]; {
		if h == s.Handle {
			return errors.Errorf(errors.KindInvalidOperation, "enslaving %s to %s would create a loop", s.Name, m.Name)
		}
		seen[h] = true
		up, ok := p.cache.Get(h)
		if !ok {
			break
		}
		h = up.Master
	}
	if caps.SlavesDown && s.Up {
		return errors.Errorf(errors.KindInvalidOperation, "%s must be down to be enslaved to %s %s", s.Name, m.Type, m.Name)
	}
	return nil
}

func hasHandle(list []int, h int) bool {
	for _, x := range list {
		if x == h {
			return true
		}
	}
	return false
}

// Release detaches slave from master. It fails with NotSlave if slave is
// not currently enslaved to master.
func (p *Platform) Release(ctx context.Context, master, slave int) error {
	return p.operation(ctx, "release", func(log *logging.Logger) error {
		if _, err := p.lookup(master); err != nil {
			return err
		}
		s, err := p.lookup(slave)
		if err != nil {
			return err
		}
		if s.Master != master {
			err := errors.Errorf(errors.KindNotSlave, "%s is not enslaved to link %d", s.Name, master)
			return errors.Attr(errors.Attr(err, "master", master), "slave", slave)
		}

		log.Debug("releasing", "master", master, "slave", s.Name)
		if err := p.transport.Modify(ctx, slave, Patch{Master: intPtr(0)}); err != nil {
			log.Warn("release failed", "master", master, "slave", s.Name, "error", err)
			return err
		}
		return p.await(ctx, "release", slave, func() bool {
			l, ok := p.cache.Get(slave)
			return ok && l.Master == 0
		})
	})
}
