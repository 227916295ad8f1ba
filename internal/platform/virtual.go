package platform

import (
	"context"

	"grimm.is/linkd/internal/logging"
)

// implicitBondName is the device old bonding drivers create when the
// module is loaded.
const implicitBondName = "bond0"

// AddDummy creates a dummy link.
func (p *Platform) AddDummy(ctx context.Context, name string) (int, error) {
	return p.AddVirtual(ctx, LinkTypeDummy, name)
}

// AddBridge creates a bridge.
func (p *Platform) AddBridge(ctx context.Context, name string) (int, error) {
	return p.AddVirtual(ctx, LinkTypeBridge, name)
}

// AddBond creates a bond. If the kernel creates bond0 as a side effect it
// is deleted again before any event for it is published, unless
// Options.KeepImplicitBond is set.
func (p *Platform) AddBond(ctx context.Context, name string) (int, error) {
	return p.AddVirtual(ctx, LinkTypeBond, name)
}

// AddTeam creates a team.
func (p *Platform) AddTeam(ctx context.Context, name string) (int, error) {
	return p.AddVirtual(ctx, LinkTypeTeam, name)
}

// checkImplicitBond runs after a bond was created while no bond0 existed.
func (p *Platform) checkImplicitBond(ctx context.Context, log *logging.Logger) error {
	l, ok := p.cache.GetByName(implicitBondName)
	if !ok {
		return nil
	}

	if p.opts.KeepImplicitBond {
		log.Warn("kernel created implicit bond, keeping it", "name", l.Name, "handle", l.Handle)
		p.metrics.RecordImplicitLink(l.Name, "kept")
		return nil
	}

	log.Warn("kernel created implicit bond, deleting it", "name", l.Name, "handle", l.Handle)
	p.metrics.RecordImplicitLink(l.Name, "pruned")
	return p.delete(ctx, log, l.Handle)
}
