package platform

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"grimm.is/linkd/internal/clock"
	"grimm.is/linkd/internal/errors"
	"grimm.is/linkd/internal/logging"
	"grimm.is/linkd/internal/metrics"
)

func newTestPlatform(t *testing.T, opts Options, fakeOpts ...FakeOption) (*Platform, *FakeTransport) {
	t.Helper()
	ft := NewFakeTransport(fakeOpts...)
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.SettleTime == 0 {
		opts.SettleTime = 5 * time.Millisecond
	}
	p, err := New(context.Background(), ft, opts)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, ft
}

// drain returns the queued events as "kind name" strings.
func drain(sub *Subscription) []string {
	out := []string{}
	for {
		e, ok := sub.TryNext()
		if !ok {
			return out
		}
		out = append(out, fmt.Sprintf("%s %s", e.Kind, e.Link.Name))
	}
}

func requireKind(t *testing.T, kind errors.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, errors.GetKind(err), "error: %v", err)
}

func TestNewPanicsOnNilTransport(t *testing.T) {
	assert.Panics(t, func() {
		New(context.Background(), nil, Options{})
	})
}

func TestNewSeedsCache(t *testing.T) {
	ft := NewFakeTransport()
	_, err := ft.Plug("eth0")
	require.NoError(t, err)

	p, err := New(context.Background(), ft, Options{Logger: logging.Discard()})
	require.NoError(t, err)
	defer p.Close()

	sub := p.Subscribe(0)
	assert.True(t, p.LinkExists("lo"))
	assert.True(t, p.LinkExists("eth0"))
	assert.Len(t, p.Links(), 2)

	// Links already seen in the initial dump are not announced again.
	_, err = p.Process(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, drain(sub))
}

func TestBogusLink(t *testing.T) {
	p, _ := newTestPlatform(t, Options{})
	ctx := context.Background()
	const bogus = 9999

	_, err := p.Link(bogus)
	requireKind(t, errors.KindNotFound, err)
	requireKind(t, errors.KindNotFound, p.LastError())

	typ, err := p.Type(bogus)
	assert.Equal(t, LinkTypeNone, typ)
	requireKind(t, errors.KindNotFound, err)

	assert.False(t, p.LinkExists("bogus0"))
	assert.NoError(t, p.LastError())

	_, err = p.Ifindex("bogus0")
	requireKind(t, errors.KindNotFound, err)
	_, err = p.Name(bogus)
	requireKind(t, errors.KindNotFound, err)
	_, err = p.IsUp(bogus)
	requireKind(t, errors.KindNotFound, err)

	ops := map[string]func() error{
		"set_up":       func() error { return p.SetUp(ctx, bogus) },
		"set_down":     func() error { return p.SetDown(ctx, bogus) },
		"set_arp":      func() error { return p.SetARP(ctx, bogus) },
		"set_noarp":    func() error { return p.SetNoARP(ctx, bogus) },
		"delete":       func() error { return p.Delete(ctx, bogus) },
		"delete_name":  func() error { return p.DeleteByName(ctx, "bogus0") },
		"enslave":      func() error { return p.Enslave(ctx, bogus, 1) },
		"enslave_to":   func() error { return p.Enslave(ctx, 1, bogus) },
		"release":      func() error { return p.Release(ctx, bogus, 1) },
		"set_option":   func() error { return p.SetMasterOption(ctx, bogus, "mode", "1") },
		"get_option":   func() error { _, err := p.GetSlaveOption(ctx, bogus, "priority"); return err },
		"realize_phys": func() error { _, err := p.Realize(ctx, Profile{Name: "bogus0", Type: LinkTypeEthernet}); return err },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			requireKind(t, errors.KindNotFound, err)
			requireKind(t, errors.KindNotFound, p.LastError())
		})
	}

	for _, name := range []string{"", "abcdefghijklmnop", "a/b", "a b", ".."} {
		_, err := p.AddDummy(ctx, name)
		requireKind(t, errors.KindInvalidOperation, err)
	}
}

func TestLoopback(t *testing.T) {
	p, _ := newTestPlatform(t, Options{})
	ctx := context.Background()

	h, err := p.Ifindex("lo")
	require.NoError(t, err)
	assert.Equal(t, 1, h)

	name, err := p.Name(h)
	require.NoError(t, err)
	assert.Equal(t, "lo", name)

	typ, _ := p.Type(h)
	assert.Equal(t, LinkTypeLoopback, typ)
	typeName, _ := p.TypeName(h)
	assert.Equal(t, "loopback", typeName)

	up, _ := p.IsUp(h)
	assert.True(t, up)
	connected, _ := p.IsConnected(h)
	assert.True(t, connected)
	cd, _ := p.SupportsCarrierDetect(h)
	assert.True(t, cd)
	vlans, _ := p.SupportsVLANs(h)
	assert.False(t, vlans)
	master, _ := p.Master(h)
	assert.Zero(t, master)

	sub := p.Subscribe(0)
	requireKind(t, errors.KindInvalidOperation, p.Delete(ctx, h))
	assert.True(t, p.LinkExists("lo"))

	_, err = p.AddVirtual(ctx, LinkTypeLoopback, "lo2")
	requireKind(t, errors.KindInvalidOperation, err)
	_, err = p.AddVirtual(ctx, LinkTypeEthernet, "eth9")
	requireKind(t, errors.KindInvalidOperation, err)

	requireKind(t, errors.KindInvalidOperation, p.Enslave(ctx, h, h))
	requireKind(t, errors.KindInvalidOperation, p.SetMasterOption(ctx, h, "mode", "1"))
	assert.Empty(t, drain(sub))
}

func TestVirtualLinks(t *testing.T) {
	for _, typ := range []LinkType{LinkTypeBridge, LinkTypeBond, LinkTypeTeam} {
		t.Run(typ.String(), func(t *testing.T) {
			p, _ := newTestPlatform(t, Options{})
			ctx := context.Background()
			sub := p.Subscribe(0)
			name := "test_" + typ.String()
			caps := typ.Capabilities()

			h, err := p.AddVirtual(ctx, typ, name)
			require.NoError(t, err)
			assert.Equal(t, []string{"added " + name}, drain(sub))
			assert.True(t, p.LinkExists(name))

			_, err = p.AddVirtual(ctx, typ, name)
			requireKind(t, errors.KindAlreadyExists, err)
			assert.Empty(t, drain(sub))

			got, _ := p.Type(h)
			assert.Equal(t, typ, got)
			up, _ := p.IsUp(h)
			assert.False(t, up)
			arp, _ := p.UsesARP(h)
			assert.True(t, arp)
			vlans, _ := p.SupportsVLANs(h)
			assert.True(t, vlans)
			cd, _ := p.SupportsCarrierDetect(h)
			assert.False(t, cd)

			// Up, and up again without effect.
			require.NoError(t, p.SetUp(ctx, h))
			assert.Equal(t, []string{"changed " + name}, drain(sub))
			require.NoError(t, p.SetUp(ctx, h))
			assert.Empty(t, drain(sub))
			connected, _ := p.IsConnected(h)
			assert.False(t, connected, "a master without slaves is not connected")

			require.NoError(t, p.SetNoARP(ctx, h))
			assert.Equal(t, []string{"changed " + name}, drain(sub))
			arp, _ = p.UsesARP(h)
			assert.False(t, arp)
			require.NoError(t, p.SetARP(ctx, h))
			assert.Equal(t, []string{"changed " + name}, drain(sub))

			slave, err := p.AddDummy(ctx, "test_slave")
			require.NoError(t, err)
			assert.Equal(t, []string{"added test_slave"}, drain(sub))

			requireKind(t, errors.KindInvalidOperation, p.Enslave(ctx, h, h))
			requireKind(t, errors.KindInvalidOperation, p.Enslave(ctx, slave, h))

			require.NoError(t, p.Enslave(ctx, h, slave))
			assert.Equal(t, []string{"changed test_slave", "changed " + name}, drain(sub))
			m, _ := p.Master(slave)
			assert.Equal(t, h, m)
			l, _ := p.Link(h)
			assert.Equal(t, []int{slave}, l.Slaves)

			if caps.AutoUpSlaves {
				up, _ := p.IsUp(slave)
				assert.True(t, up, "%s brings its slaves up", typ)
			} else {
				require.NoError(t, p.SetUp(ctx, slave))
				drain(sub)
			}
			connected, _ = p.IsConnected(h)
			assert.True(t, connected)

			// Enslaving to the current master is a no-op.
			require.NoError(t, p.Enslave(ctx, h, slave))
			assert.Empty(t, drain(sub))

			require.NoError(t, p.Release(ctx, h, slave))
			assert.Equal(t, []string{"changed test_slave", "changed " + name}, drain(sub))
			m, _ = p.Master(slave)
			assert.Zero(t, m)
			connected, _ = p.IsConnected(h)
			assert.False(t, connected)
			if caps.AutoUpSlaves {
				up, _ := p.IsUp(slave)
				assert.False(t, up, "%s takes released slaves down", typ)
			}

			requireKind(t, errors.KindNotSlave, p.Release(ctx, h, slave))
			requireKind(t, errors.KindNotSlave, p.LastError())

			require.NoError(t, p.Enslave(ctx, h, slave))
			drain(sub)

			require.NoError(t, p.Delete(ctx, h))
			assert.Equal(t, []string{"removed " + name, "changed test_slave"}, drain(sub))
			assert.False(t, p.LinkExists(name))
			m, err = p.Master(slave)
			require.NoError(t, err)
			assert.Zero(t, m, "slaves of a deleted master are detached")

			before := p.Links()
			requireKind(t, errors.KindNotFound, p.Delete(ctx, h))
			assert.Equal(t, before, p.Links(), "deleting a gone link leaves the cache untouched")
			assert.Empty(t, drain(sub))

			require.NoError(t, p.DeleteByName(ctx, "test_slave"))
			assert.Equal(t, []string{"removed test_slave"}, drain(sub))
		})
	}
}

func TestEnslaveRules(t *testing.T) {
	p, _ := newTestPlatform(t, Options{})
	ctx := context.Background()

	bond, err := p.AddBond(ctx, "bond1")
	require.NoError(t, err)
	br, err := p.AddBridge(ctx, "br0")
	require.NoError(t, err)
	br2, err := p.AddBridge(ctx, "br1")
	require.NoError(t, err)
	d, err := p.AddDummy(ctx, "d0")
	require.NoError(t, err)

	t.Run("up slave refused by bond", func(t *testing.T) {
		require.NoError(t, p.SetUp(ctx, d))
		requireKind(t, errors.KindInvalidOperation, p.Enslave(ctx, bond, d))
		require.NoError(t, p.SetDown(ctx, d))
	})

	t.Run("non aggregating master", func(t *testing.T) {
		d2, err := p.AddDummy(ctx, "d1")
		require.NoError(t, err)
		requireKind(t, errors.KindInvalidOperation, p.Enslave(ctx, d2, d))
	})

	t.Run("already enslaved elsewhere", func(t *testing.T) {
		require.NoError(t, p.Enslave(ctx, br, d))
		requireKind(t, errors.KindInvalidOperation, p.Enslave(ctx, br2, d))
		requireKind(t, errors.KindNotSlave, p.Release(ctx, br2, d))
		require.NoError(t, p.Release(ctx, br, d))
	})

	t.Run("loop", func(t *testing.T) {
		require.NoError(t, p.Enslave(ctx, br, bond))
		requireKind(t, errors.KindInvalidOperation, p.Enslave(ctx, bond, br))
		require.NoError(t, p.Release(ctx, br, bond))
	})
}

func TestExternalChanges(t *testing.T) {
	p, ft := newTestPlatform(t, Options{})
	ctx := context.Background()
	sub := p.Subscribe(0)

	x := p.Expect(EventAdded, 0)
	eth, err := ft.Plug("eth0")
	require.NoError(t, err)
	require.NoError(t, x.Wait(ctx, p))
	assert.Equal(t, eth, x.Event().Handle)
	require.NoError(t, x.Accept())
	require.NoError(t, x.Close())
	assert.Equal(t, []string{"added eth0"}, drain(sub))

	typ, _ := p.Type(eth)
	assert.Equal(t, LinkTypeEthernet, typ)
	cd, _ := p.SupportsCarrierDetect(eth)
	assert.True(t, cd)

	require.NoError(t, p.SetUp(ctx, eth))
	connected, _ := p.IsConnected(eth)
	assert.True(t, connected)
	drain(sub)

	t.Run("carrier loss", func(t *testing.T) {
		require.NoError(t, ft.SetCarrier(eth, false))
		n, err := p.Process(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		connected, _ := p.IsConnected(eth)
		assert.False(t, connected)
		up, _ := p.IsUp(eth)
		assert.True(t, up)
		assert.Equal(t, []string{"changed eth0"}, drain(sub))
	})

	t.Run("rename", func(t *testing.T) {
		d, err := p.AddDummy(ctx, "dummy0")
		require.NoError(t, err)
		drain(sub)

		require.NoError(t, ft.Rename(d, "renamed0"))
		_, err = p.Process(ctx, time.Second)
		require.NoError(t, err)
		assert.False(t, p.LinkExists("dummy0"))
		h, err := p.Ifindex("renamed0")
		require.NoError(t, err)
		assert.Equal(t, d, h)
		assert.Equal(t, []string{"changed renamed0"}, drain(sub))
	})

	t.Run("published before the next operation", func(t *testing.T) {
		_, err := ft.Plug("eth1")
		require.NoError(t, err)
		require.NoError(t, p.SetDown(ctx, eth))
		assert.Equal(t, []string{"added eth1", "changed eth0"}, drain(sub))
	})

	t.Run("process without pending changes", func(t *testing.T) {
		n, err := p.Process(ctx, 0)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestExpectationDuplicateDelivery(t *testing.T) {
	p, _ := newTestPlatform(t, Options{})
	ctx := context.Background()

	d, err := p.AddDummy(ctx, "d0")
	require.NoError(t, err)

	x := p.Expect(EventChanged, d)
	require.NoError(t, p.SetUp(ctx, d))
	assert.True(t, x.Received())
	require.NoError(t, x.Accept())

	require.NoError(t, p.SetDown(ctx, d))
	require.NoError(t, x.Accept())

	require.NoError(t, p.SetUp(ctx, d))
	require.NoError(t, p.SetDown(ctx, d))
	assert.ErrorIs(t, x.Err(), ErrDuplicateDelivery)
	assert.Error(t, x.Close())
}

func TestImplicitBond(t *testing.T) {
	t.Run("pruned", func(t *testing.T) {
		reg := metrics.New(nil)
		p, _ := newTestPlatform(t, Options{Metrics: reg}, WithLegacyDefaultBond())
		sub := p.Subscribe(0)

		_, err := p.AddBond(context.Background(), "bond1")
		require.NoError(t, err)
		assert.Equal(t, []string{"added bond1"}, drain(sub))
		assert.False(t, p.LinkExists("bond0"))
		assert.Equal(t, float64(1), testutil.ToFloat64(reg.ImplicitLinks.WithLabelValues("bond0", "pruned")))

		// A second bond does not trigger it again.
		_, err = p.AddBond(context.Background(), "bond2")
		require.NoError(t, err)
		assert.Equal(t, []string{"added bond2"}, drain(sub))
	})

	t.Run("kept", func(t *testing.T) {
		p, _ := newTestPlatform(t, Options{KeepImplicitBond: true}, WithLegacyDefaultBond())
		sub := p.Subscribe(0)

		_, err := p.AddBond(context.Background(), "bond1")
		require.NoError(t, err)
		assert.Equal(t, []string{"added bond1", "added bond0"}, drain(sub))
		assert.True(t, p.LinkExists("bond0"))
	})

	t.Run("explicit bond0", func(t *testing.T) {
		p, _ := newTestPlatform(t, Options{}, WithLegacyDefaultBond())
		sub := p.Subscribe(0)

		_, err := p.AddBond(context.Background(), "bond0")
		require.NoError(t, err)
		assert.Equal(t, []string{"added bond0"}, drain(sub))
		assert.True(t, p.LinkExists("bond0"))
	})
}

func TestOptions(t *testing.T) {
	p, _ := newTestPlatform(t, Options{})
	ctx := context.Background()
	sub := p.Subscribe(0)

	br, err := p.AddBridge(ctx, "br0")
	require.NoError(t, err)
	bond, err := p.AddBond(ctx, "bond1")
	require.NoError(t, err)
	team, err := p.AddTeam(ctx, "team0")
	require.NoError(t, err)
	d, err := p.AddDummy(ctx, "d0")
	require.NoError(t, err)
	drain(sub)

	t.Run("bridge master", func(t *testing.T) {
		require.NoError(t, p.SetMasterOption(ctx, br, "forward_delay", "789"))
		v, err := p.GetMasterOption(ctx, br, "forward_delay")
		require.NoError(t, err)
		assert.Equal(t, "789", v)

		requireKind(t, errors.KindInvalidOperation, p.SetMasterOption(ctx, br, "stp_state", "7"))
		requireKind(t, errors.KindInvalidOperation, p.SetMasterOption(ctx, br, "mode", "1"))
		assert.Empty(t, drain(sub), "options publish no events")
	})

	t.Run("bond master", func(t *testing.T) {
		v, err := p.GetMasterOption(ctx, bond, "mode")
		require.NoError(t, err)
		assert.Equal(t, "balance-rr 0", v)

		require.NoError(t, p.SetMasterOption(ctx, bond, "mode", "active-backup"))
		v, err = p.GetMasterOption(ctx, bond, "mode")
		require.NoError(t, err)
		assert.Equal(t, "active-backup 1", v)

		requireKind(t, errors.KindInvalidOperation, p.SetMasterOption(ctx, bond, "mode", "bogus"))
		attrs := errors.GetAttributes(p.LastError())
		assert.Equal(t, "mode", attrs["option"])
	})

	t.Run("team has none", func(t *testing.T) {
		requireKind(t, errors.KindInvalidOperation, p.SetMasterOption(ctx, team, "mode", "1"))
	})

	t.Run("slave scope", func(t *testing.T) {
		requireKind(t, errors.KindInvalidOperation, p.SetSlaveOption(ctx, d, "priority", "23"))

		require.NoError(t, p.Enslave(ctx, br, d))
		v, err := p.GetSlaveOption(ctx, d, "priority")
		require.NoError(t, err)
		assert.Equal(t, "32", v)

		require.NoError(t, p.SetSlaveOption(ctx, d, "priority", "23"))
		v, err = p.GetSlaveOption(ctx, d, "priority")
		require.NoError(t, err)
		assert.Equal(t, "23", v)
		requireKind(t, errors.KindInvalidOperation, p.SetSlaveOption(ctx, d, "priority", "789"))
		requireKind(t, errors.KindInvalidOperation, p.SetSlaveOption(ctx, d, "queue_id", "1"))

		require.NoError(t, p.Release(ctx, br, d))
		require.NoError(t, p.Enslave(ctx, bond, d))
		require.NoError(t, p.SetSlaveOption(ctx, d, "queue_id", "2"))
		v, err = p.GetSlaveOption(ctx, d, "queue_id")
		require.NoError(t, err)
		assert.Equal(t, "2", v)
	})
}

func TestRealize(t *testing.T) {
	p, ft := newTestPlatform(t, Options{})
	ctx := context.Background()
	up := true

	t.Run("creates and configures", func(t *testing.T) {
		h, err := p.Realize(ctx, Profile{
			Name:          "br0",
			Type:          LinkTypeBridge,
			Up:            &up,
			MasterOptions: map[string]string{"stp_state": "1", "forward_delay": "400"},
		})
		require.NoError(t, err)
		isUp, _ := p.IsUp(h)
		assert.True(t, isUp)
		v, err := p.GetMasterOption(ctx, h, "stp_state")
		require.NoError(t, err)
		assert.Equal(t, "1", v)
		assert.NoError(t, p.LastError())
	})

	t.Run("idempotent", func(t *testing.T) {
		sub := p.Subscribe(0)
		defer sub.Close()
		_, err := p.Realize(ctx, Profile{Name: "br0", Type: LinkTypeBridge, Up: &up})
		require.NoError(t, err)
		assert.Empty(t, drain(sub))
	})

	t.Run("physical slave", func(t *testing.T) {
		eth, err := ft.Plug("eth0")
		require.NoError(t, err)
		require.NoError(t, p.SetUp(ctx, eth))

		_, err = p.Realize(ctx, Profile{Name: "bond1", Type: LinkTypeBond, MasterOptions: map[string]string{"mode": "802.3ad"}})
		require.NoError(t, err)

		h, err := p.Realize(ctx, Profile{
			Name:         "eth0",
			Type:         LinkTypeEthernet,
			Master:       "bond1",
			SlaveType:    LinkTypeBond,
			SlaveOptions: map[string]string{"queue_id": "3"},
		})
		require.NoError(t, err)
		assert.Equal(t, eth, h)

		bond, _ := p.Ifindex("bond1")
		m, _ := p.Master(eth)
		assert.Equal(t, bond, m)
		isUp, _ := p.IsUp(eth)
		assert.True(t, isUp, "bond brings the slave back up")
		v, _ := p.GetSlaveOption(ctx, eth, "queue_id")
		assert.Equal(t, "3", v)
	})

	t.Run("moves to another master", func(t *testing.T) {
		eth, _ := p.Ifindex("eth0")
		br, _ := p.Ifindex("br0")
		_, err := p.Realize(ctx, Profile{Name: "eth0", Type: LinkTypeEthernet, Master: "br0", Up: &up})
		require.NoError(t, err)
		m, _ := p.Master(eth)
		assert.Equal(t, br, m)
	})

	t.Run("detaches", func(t *testing.T) {
		eth, _ := p.Ifindex("eth0")
		_, err := p.Realize(ctx, Profile{Name: "eth0", Type: LinkTypeEthernet})
		require.NoError(t, err)
		m, _ := p.Master(eth)
		assert.Zero(t, m)
	})

	t.Run("errors", func(t *testing.T) {
		_, err := p.Realize(ctx, Profile{Name: "lo", Type: LinkTypeBridge})
		requireKind(t, errors.KindInvalidOperation, err)
		assert.Equal(t, "lo", errors.GetAttributes(err)["profile"])

		_, err = p.Realize(ctx, Profile{Name: "eth0", Type: LinkTypeEthernet, Master: "missing0"})
		requireKind(t, errors.KindNotFound, err)

		_, err = p.Realize(ctx, Profile{Name: "eth0", Type: LinkTypeEthernet, Master: "br0", SlaveType: LinkTypeBond})
		requireKind(t, errors.KindInvalidOperation, err)

		_, err = p.Realize(ctx, Profile{Name: "eth0", Type: LinkTypeEthernet, SlaveOptions: map[string]string{"priority": "1"}})
		requireKind(t, errors.KindInvalidOperation, err)
		requireKind(t, errors.KindInvalidOperation, p.LastError())
	})
}

func TestVerify(t *testing.T) {
	p, _ := newTestPlatform(t, Options{})
	ctx := context.Background()

	_, err := p.AddBridge(ctx, "br0")
	require.NoError(t, err)

	diff, err := p.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, diff)

	// Drop loopback from the cache behind the platform's back.
	p.Cache().Apply(RawEvent{Kind: EventRemoved, Link: Link{Handle: 1}})
	diff, err = p.Verify(ctx)
	require.NoError(t, err)
	assert.Contains(t, diff, "--- cache")
	assert.Contains(t, diff, "+++ kernel")
	assert.Contains(t, diff, "+1: lo <UP,LOWER_UP,NOARP> type loopback")
}

// silentTransport accepts mutations but never reports them.
type silentTransport struct {
	*FakeTransport
}

func (s silentTransport) Poll(ctx context.Context, wait time.Duration) ([]RawEvent, error) {
	if wait > 5*time.Millisecond {
		wait = 5 * time.Millisecond
	}
	time.Sleep(wait)
	return nil, nil
}

// failingTransport refuses every modification with EIO.
type failingTransport struct {
	*FakeTransport
}

func (f failingTransport) Modify(ctx context.Context, handle int, patch Patch) error {
	return transportError(unix.EIO, "modify link %d", handle)
}

func TestTimeout(t *testing.T) {
	reg := metrics.New(nil)
	p, err := New(context.Background(), silentTransport{NewFakeTransport()}, Options{
		WaitTimeout: 30 * time.Millisecond,
		Logger:      logging.Discard(),
		Metrics:     reg,
	})
	require.NoError(t, err)

	_, err = p.AddDummy(context.Background(), "d0")
	requireKind(t, errors.KindTransportFailure, err)
	assert.Equal(t, int(unix.ETIMEDOUT), errors.GetCode(err))
	assert.False(t, p.LinkExists("d0"))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.Operations.WithLabelValues("add", "transport_failure")))
}

func TestTimeoutWithFrozenClock(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p, err := New(context.Background(), silentTransport{NewFakeTransport()}, Options{
		WaitTimeout: 30 * time.Millisecond,
		SettleTime:  5 * time.Millisecond,
		Logger:      logging.Discard(),
		Clock:       mock,
	})
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := p.AddDummy(context.Background(), "d0")
		errc <- err
	}()

	select {
	case err := <-errc:
		requireKind(t, errors.KindTransportFailure, err)
		assert.Equal(t, int(unix.ETIMEDOUT), errors.GetCode(err))
	case <-time.After(2 * time.Second):
		t.Fatal("AddDummy did not time out while the injected clock stood still")
	}
}

func TestSettleWithFrozenClock(t *testing.T) {
	mock := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	p, _ := newTestPlatform(t, Options{
		WaitTimeout: 50 * time.Millisecond,
		SettleTime:  5 * time.Millisecond,
		Clock:       mock,
	})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := p.AddDummy(ctx, "d0")
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("AddDummy did not settle while the injected clock stood still")
	}
	assert.True(t, p.LinkExists("d0"))
}

func TestTransportFailure(t *testing.T) {
	p, err := New(context.Background(), failingTransport{NewFakeTransport()}, Options{Logger: logging.Discard()})
	require.NoError(t, err)

	err = p.SetUp(context.Background(), 1)
	requireKind(t, errors.KindTransportFailure, err)
	assert.Equal(t, int(unix.EIO), errors.GetCode(err))
	assert.True(t, strings.Contains(err.Error(), "modify link 1"))
	assert.Equal(t, err, p.LastError())
}

func TestOperationMetrics(t *testing.T) {
	reg := metrics.New(nil)
	p, _ := newTestPlatform(t, Options{Metrics: reg})
	ctx := context.Background()

	_, err := p.AddDummy(ctx, "d0")
	require.NoError(t, err)
	_, err = p.AddDummy(ctx, "d0")
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(reg.Operations.WithLabelValues("add", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.Operations.WithLabelValues("add", "already_exists")))
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.Events.WithLabelValues("added")))
	assert.Equal(t, float64(2), testutil.ToFloat64(reg.CacheLinks))
}

func TestClosedTransport(t *testing.T) {
	p, ft := newTestPlatform(t, Options{})
	require.NoError(t, ft.Close())

	err := p.SetUp(context.Background(), 1)
	requireKind(t, errors.KindTransportFailure, err)
	assert.Equal(t, int(unix.EBADF), errors.GetCode(err))
}
