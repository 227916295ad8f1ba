//go:build linux

package platform

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"grimm.is/linkd/internal/errors"
	"grimm.is/linkd/internal/logging"
	"grimm.is/linkd/internal/metrics"
)

const dumpRetries = 3

// NetlinkTransport talks to the kernel over rtnetlink. Bridge and bonding
// options go through sysfs.
type NetlinkTransport struct {
	nl      Netlinker
	sys     SystemController
	probe   CarrierProbe
	logger  *logging.Logger
	metrics *metrics.Registry

	queueLimit int

	mu      sync.Mutex
	updates chan netlink.LinkUpdate
	done    chan struct{}
	resync  bool
	closed  bool

	// known maps every handle reported so far to its name, so a lost
	// stream can be reconciled against a fresh dump.
	known map[int]string

	// carrier caches probe results per handle.
	carrier map[int]bool
}

// NewNetlinkTransport opens a netlink handle in the configured namespace and
// subscribes to link notifications.
func NewNetlinkTransport(opts NetlinkOptions) (*NetlinkTransport, error) {
	nl, err := NewRealNetlinker(opts.Netns)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindTransportFailure, "netlink")
	}
	if opts.Probe == nil {
		if p, err := NewEthtoolProbe(); err == nil {
			opts.Probe = p
		}
	}
	t, err := newNetlinkTransport(nl, opts)
	if err != nil {
		nl.Close()
		return nil, err
	}
	return t, nil
}

func newNetlinkTransport(nl Netlinker, opts NetlinkOptions) (*NetlinkTransport, error) {
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = DefaultQueueLimit
	}
	if opts.System == nil {
		opts.System = &RealSystemController{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("netlink")
	}

	t := &NetlinkTransport{
		nl:         nl,
		sys:        opts.System,
		probe:      opts.Probe,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		queueLimit: opts.QueueLimit,
		known:      make(map[int]string),
		carrier:    make(map[int]bool),
	}
	if err := t.subscribe(); err != nil {
		return nil, err
	}
	return t, nil
}

// subscribe starts a fresh notification stream. Caller holds mu or has
// exclusive access.
func (t *NetlinkTransport) subscribe() error {
	if t.done != nil {
		close(t.done)
	}
	t.updates = make(chan netlink.LinkUpdate, t.queueLimit)
	t.done = make(chan struct{})
	err := t.nl.LinkSubscribe(t.updates, t.done, func(err error) {
		t.logger.Warn("link notification stream failed", "error", err)
	})
	if err != nil {
		close(t.done)
		t.done = nil
		return transportError(err, "subscribe to link notifications")
	}
	return nil
}

// netlinkError maps errors from the netlink library, which reports a missing
// link with its own type rather than an errno.
func netlinkError(err error, format string, args ...any) error {
	var nf netlink.LinkNotFoundError
	if stderrors.As(err, &nf) {
		return errors.Errorf(errors.KindNotFound, format+": link not found", args...)
	}
	return transportError(err, format, args...)
}

func (t *NetlinkTransport) link(handle int) (netlink.Link, error) {
	l, err := t.nl.LinkByIndex(handle)
	if err != nil {
		return nil, netlinkError(err, "link %d", handle)
	}
	return l, nil
}

// Create adds a virtual link and returns its ifindex.
func (t *NetlinkTransport) Create(ctx context.Context, spec LinkSpec) (int, error) {
	attrs := netlink.NewLinkAttrs()
	attrs.Name = spec.Name

	var link netlink.Link
	switch spec.Type {
	case LinkTypeDummy:
		link = &netlink.Dummy{LinkAttrs: attrs}
	case LinkTypeBridge:
		link = &netlink.Bridge{LinkAttrs: attrs}
	case LinkTypeBond:
		link = netlink.NewLinkBond(attrs)
	case LinkTypeTeam:
		link = &netlink.GenericLink{LinkAttrs: attrs, LinkType: "team"}
	default:
		return 0, errors.Errorf(errors.KindInvalidOperation, "cannot create %s link %q", spec.Type, spec.Name)
	}

	if err := t.nl.LinkAdd(link); err != nil {
		return 0, netlinkError(err, "create %s %q", spec.Type, spec.Name)
	}
	if idx := link.Attrs().Index; idx > 0 {
		return idx, nil
	}
	created, err := t.nl.LinkByName(spec.Name)
	if err != nil {
		return 0, netlinkError(err, "look up created link %q", spec.Name)
	}
	return created.Attrs().Index, nil
}

// Modify applies a patch. Master changes go first so that a slave brought
// up in the same patch is up inside its master.
func (t *NetlinkTransport) Modify(ctx context.Context, handle int, patch Patch) error {
	link, err := t.link(handle)
	if err != nil {
		return err
	}

	if patch.Master != nil {
		if *patch.Master == 0 {
			err = t.nl.LinkSetNoMaster(link)
		} else {
			err = t.nl.LinkSetMasterByIndex(link, *patch.Master)
		}
		if err != nil {
			return netlinkError(err, "set master of link %d", handle)
		}
	}
	if patch.Up != nil {
		if *patch.Up {
			err = t.nl.LinkSetUp(link)
		} else {
			err = t.nl.LinkSetDown(link)
		}
		if err != nil {
			return netlinkError(err, "set link %d up=%t", handle, *patch.Up)
		}
	}
	if patch.ARP != nil {
		if *patch.ARP {
			err = t.nl.LinkSetARPOn(link)
		} else {
			err = t.nl.LinkSetARPOff(link)
		}
		if err != nil {
			return netlinkError(err, "set link %d arp=%t", handle, *patch.ARP)
		}
	}
	return nil
}

// Delete removes a link.
func (t *NetlinkTransport) Delete(ctx context.Context, handle int) error {
	link, err := t.link(handle)
	if err != nil {
		return err
	}
	if err := t.nl.LinkDel(link); err != nil {
		return netlinkError(err, "delete link %d", handle)
	}
	return nil
}

// Poll drains the notification stream. If the stream was lost, typically
// because the kernel overran the socket buffer, it resubscribes and
// reconciles with a full dump so no change goes unreported.
func (t *NetlinkTransport) Poll(ctx context.Context, wait time.Duration) ([]RawEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.Transport(int(unix.EBADF), unix.EBADF, "transport closed")
	}

	var events []RawEvent
	if t.resync {
		evs, err := t.recover(ctx)
		if err != nil {
			return nil, err
		}
		events = append(events, evs...)
	}

	lost := t.drain(&events)
	if !lost && len(events) == 0 && wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case u, ok := <-t.updates:
			if ok {
				events = append(events, t.translate(u)...)
				lost = t.drain(&events)
			} else {
				lost = true
			}
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if lost {
		t.resync = true
		evs, err := t.recover(ctx)
		if err != nil {
			return events, err
		}
		events = append(events, evs...)
	}
	return events, nil
}

// drain consumes every queued update without blocking. It reports whether
// the stream was closed.
func (t *NetlinkTransport) drain(events *[]RawEvent) bool {
	for {
		select {
		case u, ok := <-t.updates:
			if !ok {
				return true
			}
			*events = append(*events, t.translate(u)...)
		default:
			return false
		}
	}
}

// recover resubscribes and synthesizes events from a dump: Changed or Added
// for every link present, Removed for every known link that is gone.
func (t *NetlinkTransport) recover(ctx context.Context) ([]RawEvent, error) {
	t.logger.Warn("link notifications lost, resynchronizing")
	t.metrics.RecordResync()
	if err := t.subscribe(); err != nil {
		return nil, err
	}

	links, err := t.list()
	if err != nil {
		return nil, err
	}
	t.resync = false

	var events []RawEvent
	present := make(map[int]bool, len(links))
	for _, nl := range links {
		l := t.convert(nl)
		present[l.Handle] = true
		kind := EventAdded
		if _, ok := t.known[l.Handle]; ok {
			kind = EventChanged
		}
		t.known[l.Handle] = l.Name
		events = append(events, RawEvent{Kind: kind, Link: l})
	}

	var gone []int
	for h := range t.known {
		if !present[h] {
			gone = append(gone, h)
		}
	}
	sort.Ints(gone)
	for _, h := range gone {
		events = append(events, RawEvent{Kind: EventRemoved, Link: Link{Handle: h, Name: t.known[h]}})
		t.forget(h)
	}
	return events, nil
}

func (t *NetlinkTransport) forget(handle int) {
	delete(t.known, handle)
	delete(t.carrier, handle)
}

// translate converts one update. Bridge port notifications (AF_BRIDGE)
// duplicate the link ones and are ignored.
func (t *NetlinkTransport) translate(u netlink.LinkUpdate) []RawEvent {
	if u.IfInfomsg.Family == unix.AF_BRIDGE || u.Link == nil {
		return nil
	}

	switch u.Header.Type {
	case unix.RTM_DELLINK:
		l := t.convert(u.Link)
		t.forget(l.Handle)
		return []RawEvent{{Kind: EventRemoved, Link: l}}
	case unix.RTM_NEWLINK:
		l := t.convert(u.Link)
		kind := EventAdded
		if name, ok := t.known[l.Handle]; ok {
			kind = EventChanged
			if name != l.Name {
				delete(t.carrier, l.Handle)
			}
		}
		t.known[l.Handle] = l.Name
		return []RawEvent{{Kind: kind, Link: l}}
	}
	return nil
}

// Dump lists every link in the namespace.
func (t *NetlinkTransport) Dump(ctx context.Context) ([]Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	links, err := t.list()
	if err != nil {
		return nil, err
	}
	out := make([]Link, 0, len(links))
	for _, nl := range links {
		l := t.convert(nl)
		t.known[l.Handle] = l.Name
		out = append(out, l)
	}
	return out, nil
}

// list retries dumps the kernel reports as interrupted by a concurrent change.
func (t *NetlinkTransport) list() ([]netlink.Link, error) {
	var (
		links []netlink.Link
		err   error
	)
	for i := 0; i < dumpRetries; i++ {
		links, err = t.nl.LinkList()
		if !stderrors.Is(err, netlink.ErrDumpInterrupted) {
			break
		}
		t.logger.Debug("link dump interrupted, retrying", "attempt", i+1)
	}
	if err != nil {
		return nil, netlinkError(err, "dump links")
	}
	return links, nil
}

// convert maps a netlink link to the platform representation.
func (t *NetlinkTransport) convert(nl netlink.Link) Link {
	a := nl.Attrs()
	typ := linkTypeOf(nl)
	caps := typ.Capabilities()

	l := Link{
		Handle:        a.Index,
		Name:          a.Name,
		Type:          typ,
		Up:            a.RawFlags&unix.IFF_UP != 0,
		ARP:           a.RawFlags&unix.IFF_NOARP == 0,
		Carrier:       a.RawFlags&unix.IFF_LOWER_UP != 0,
		MTU:           a.MTU,
		Master:        a.MasterIndex,
		CarrierDetect: caps.CarrierDetect,
		VLANs:         caps.VLANs,
	}
	if len(a.HardwareAddr) > 0 {
		l.HardwareAddr = a.HardwareAddr.String()
	}
	if typ == LinkTypeEthernet {
		l.CarrierDetect = t.carrierDetect(l.Handle, l.Name)
	}
	return l
}

func (t *NetlinkTransport) carrierDetect(handle int, name string) bool {
	if t.probe == nil {
		return LinkTypeEthernet.Capabilities().CarrierDetect
	}
	if v, ok := t.carrier[handle]; ok {
		return v
	}
	v := t.probe.SupportsCarrierDetect(name)
	t.carrier[handle] = v
	return v
}

func linkTypeOf(nl netlink.Link) LinkType {
	switch nl.Type() {
	case "dummy":
		return LinkTypeDummy
	case "bridge":
		return LinkTypeBridge
	case "bond":
		return LinkTypeBond
	case "team":
		return LinkTypeTeam
	case "vlan":
		return LinkTypeVLAN
	case "veth":
		return LinkTypeVeth
	case "tuntap":
		return LinkTypeTun
	case "device":
		a := nl.Attrs()
		if a.EncapType == "loopback" || a.RawFlags&unix.IFF_LOOPBACK != 0 {
			return LinkTypeLoopback
		}
		if a.EncapType == "ether" || a.EncapType == "" {
			return LinkTypeEthernet
		}
	}
	return LinkTypeUnknown
}

// optionFiles resolves the sysfs attributes backing an option.
func (t *NetlinkTransport) optionFiles(handle int, scope OptionScope, key, value string) (read, write, writeValue string, err error) {
	link, err := t.link(handle)
	if err != nil {
		return "", "", "", err
	}
	name := link.Attrs().Name
	ownerName, ownerType := name, linkTypeOf(link)

	if scope == ScopeSlave {
		m := link.Attrs().MasterIndex
		if m == 0 {
			return "", "", "", errors.Errorf(errors.KindNotSlave, "link %d has no master", handle)
		}
		master, err := t.link(m)
		if err != nil {
			return "", "", "", err
		}
		ownerName, ownerType = master.Attrs().Name, linkTypeOf(master)
	}

	read, write, writeValue, ok := optionFiles(name, ownerName, ownerType, scope, key, value)
	if !ok {
		return "", "", "", errors.Errorf(errors.KindInvalidOperation, "%s options not supported for link %d", scope, handle)
	}
	return read, write, writeValue, nil
}

func (t *NetlinkTransport) sysfsError(err error, format string, args ...any) error {
	if t.sys.IsNotExist(err) {
		return errors.Wrapf(err, errors.KindInvalidOperation, format, args...)
	}
	return transportError(err, format, args...)
}

// GetOption reads an option from sysfs.
func (t *NetlinkTransport) GetOption(ctx context.Context, handle int, scope OptionScope, key string) (string, error) {
	read, _, _, err := t.optionFiles(handle, scope, key, "")
	if err != nil {
		return "", err
	}
	v, err := t.sys.ReadSysfs(read)
	if err != nil {
		return "", t.sysfsError(err, "read %s option %q of link %d", scope, key, handle)
	}
	return v, nil
}

// SetOption writes an option to sysfs.
func (t *NetlinkTransport) SetOption(ctx context.Context, handle int, scope OptionScope, key, value string) error {
	_, write, v, err := t.optionFiles(handle, scope, key, value)
	if err != nil {
		return err
	}
	if err := t.sys.WriteSysfs(write, v); err != nil {
		return t.sysfsError(err, "write %s option %q of link %d", scope, key, handle)
	}
	return nil
}

// Close stops the notification stream and releases the handle.
func (t *NetlinkTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
	if c, ok := t.probe.(interface{ Close() }); ok {
		c.Close()
	}
	t.nl.Close()
	return nil
}
