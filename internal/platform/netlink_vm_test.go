//go:build linux

package platform

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/linkd/internal/errors"
	"grimm.is/linkd/internal/logging"
	"grimm.is/linkd/internal/testutil"
)

// Runs the link lifecycle against a real kernel inside a scratch namespace.
// Options are not covered: sysfs shows the namespace it was mounted in.
func TestNetlinkVM(t *testing.T) {
	testutil.NewNetns(t, "linkd-test")
	ctx := context.Background()

	tr, err := NewNetlinkTransport(NetlinkOptions{Netns: "linkd-test", Logger: logging.Discard()})
	require.NoError(t, err)
	p, err := New(ctx, tr, Options{Logger: logging.Discard(), SettleTime: 20 * time.Millisecond})
	require.NoError(t, err)
	defer p.Close()

	lo, err := p.Ifindex("lo")
	require.NoError(t, err)
	typ, _ := p.Type(lo)
	assert.Equal(t, LinkTypeLoopback, typ)

	sub := p.Subscribe(0)
	br, err := p.AddBridge(ctx, "br0")
	require.NoError(t, err)
	assert.Equal(t, []string{"added br0"}, drain(sub))

	_, err = p.AddBridge(ctx, "br0")
	assert.Equal(t, errors.KindAlreadyExists, errors.GetKind(err))

	d, err := p.AddDummy(ctx, "test_slave")
	require.NoError(t, err)
	require.NoError(t, p.Enslave(ctx, br, d))
	m, _ := p.Master(d)
	assert.Equal(t, br, m)

	require.NoError(t, p.SetUp(ctx, br))
	require.NoError(t, p.SetUp(ctx, d))
	connected, _ := p.IsConnected(br)
	assert.True(t, connected)

	require.NoError(t, p.Release(ctx, br, d))
	assert.Equal(t, errors.KindNotSlave, errors.GetKind(p.Release(ctx, br, d)))

	bond, err := p.AddBond(ctx, "bond1")
	require.NoError(t, err)
	assert.Equal(t, errors.KindInvalidOperation, errors.GetKind(p.Enslave(ctx, bond, d)), "slave is up")
	require.NoError(t, p.SetDown(ctx, d))
	require.NoError(t, p.Enslave(ctx, bond, d))

	require.NoError(t, p.Delete(ctx, bond))
	require.NoError(t, p.Delete(ctx, br))
	require.NoError(t, p.DeleteByName(ctx, "test_slave"))

	diff, err := p.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, diff)
}
