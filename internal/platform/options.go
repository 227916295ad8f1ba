package platform

import (
	"context"

	"grimm.is/linkd/internal/errors"
	"grimm.is/linkd/internal/logging"
)

// checkOption verifies that key is valid for the link in the given role.
func (p *Platform) checkOption(handle int, scope OptionScope, key string) error {
	l, err := p.lookup(handle)
	if err != nil {
		return err
	}

	switch scope {
	case ScopeMaster:
		caps := l.Type.Capabilities()
		if !caps.Aggregating {
			return errors.Errorf(errors.KindInvalidOperation, "%s is a %s and has no master options", l.Name, l.Type)
		}
		if !hasKey(caps.MasterOptions, key) {
			return errors.Errorf(errors.KindInvalidOperation, "%s does not support master option %q", l.Type, key)
		}
	case ScopeSlave:
		if l.Master == 0 {
			return errors.Errorf(errors.KindInvalidOperation, "%s is not enslaved and has no slave options", l.Name)
		}
		m, err := p.lookup(l.Master)
		if err != nil {
			return err
		}
		if !hasKey(m.Type.Capabilities().SlaveOptions, key) {
			return errors.Errorf(errors.KindInvalidOperation, "%s slaves do not support option %q", m.Type, key)
		}
	default:
		return errors.Errorf(errors.KindInvalidOperation, "unknown option scope %d", int(scope))
	}
	return nil
}

// SetOption writes a master- or slave-scoped option. Options are not part
// of the link snapshot, so no events are published.
func (p *Platform) SetOption(ctx context.Context, handle int, scope OptionScope, key, value string) error {
	return p.operation(ctx, "set_option", func(log *logging.Logger) error {
		if err := p.checkOption(handle, scope, key); err != nil {
			return errors.Attr(err, "option", key)
		}
		log.Debug("setting option", "handle", handle, "scope", scope.String(), "key", key, "value", value)
		if err := p.transport.SetOption(ctx, handle, scope, key, value); err != nil {
			log.Warn("option write failed", "handle", handle, "key", key, "error", err)
			return errors.Attr(err, "option", key)
		}
		return nil
	})
}

// GetOption reads a master- or slave-scoped option. Backends may normalize
// values on read: a bond mode written as "active-backup" reads back as
// "active-backup 1".
func (p *Platform) GetOption(ctx context.Context, handle int, scope OptionScope, key string) (string, error) {
	var value string
	err := p.operation(ctx, "get_option", func(log *logging.Logger) error {
		if err := p.checkOption(handle, scope, key); err != nil {
			return errors.Attr(err, "option", key)
		}
		v, err := p.transport.GetOption(ctx, handle, scope, key)
		if err != nil {
			return errors.Attr(err, "option", key)
		}
		value = v
		return nil
	})
	return value, err
}

// SetMasterOption is SetOption in ScopeMaster.
func (p *Platform) SetMasterOption(ctx context.Context, handle int, key, value string) error {
	return p.SetOption(ctx, handle, ScopeMaster, key, value)
}

// GetMasterOption is GetOption in ScopeMaster.
func (p *Platform) GetMasterOption(ctx context.Context, handle int, key string) (string, error) {
	return p.GetOption(ctx, handle, ScopeMaster, key)
}

// SetSlaveOption is SetOption in ScopeSlave.
func (p *Platform) SetSlaveOption(ctx context.Context, handle int, key, value string) error {
	return p.SetOption(ctx, handle, ScopeSlave, key, value)
}

// GetSlaveOption is GetOption in ScopeSlave.
func (p *Platform) GetSlaveOption(ctx context.Context, handle int, key string) (string, error) {
	return p.GetOption(ctx, handle, ScopeSlave, key)
}
