package platform

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type fakeLink struct {
	link        Link
	physCarrier bool
	masterOpts  map[string]string
	slaveOpts   map[string]string
}

// FakeTransport is an in-memory kernel. It assigns handles the way the
// kernel assigns ifindexes (increasing, never reused), reproduces the
// kernel's side effects for the link types in the capability table and
// queues a notification for every change.
//
// Calling its methods directly, rather than through a Platform, models
// another process changing links behind the platform's back.
type FakeTransport struct {
	mu         sync.Mutex
	links      map[int]*fakeLink
	nextHandle int
	queue      []RawEvent
	ready      chan struct{}
	closed     bool

	legacyDefaultBond bool
	bondingLoaded     bool
}

// FakeOption configures a FakeTransport.
type FakeOption func(*FakeTransport)

// WithLegacyDefaultBond makes the first bond creation also create bond0,
// as the bonding module does when loaded with max_bonds=1.
func WithLegacyDefaultBond() FakeOption {
	return func(f *FakeTransport) { f.legacyDefaultBond = true }
}

// NewFakeTransport creates a fake kernel holding only the loopback link,
// handle 1.
func NewFakeTransport(opts ...FakeOption) *FakeTransport {
	f := &FakeTransport{
		links:      make(map[int]*fakeLink),
		nextHandle: 1,
		ready:      make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(f)
	}

	lo := f.add("lo", LinkTypeLoopback)
	lo.link.Up = true
	lo.link.MTU = 65536
	lo.link.HardwareAddr = "00:00:00:00:00:00"
	f.recompute()
	f.queue = nil
	return f
}

func fakeErr(errno unix.Errno, format string, args ...any) error {
	return transportError(errno, format, args...)
}

func (f *FakeTransport) errClosed() error {
	return fakeErr(unix.EBADF, "transport closed")
}

// add inserts a link without queueing events. Caller holds mu.
func (f *FakeTransport) add(name string, typ LinkType) *fakeLink {
	h := f.nextHandle
	f.nextHandle++
	caps := typ.Capabilities()
	fl := &fakeLink{
		link: Link{
			Handle:        h,
			Name:          name,
			Type:          typ,
			ARP:           caps.DefaultARP,
			MTU:           1500,
			HardwareAddr:  fmt.Sprintf("02:00:00:00:%02x:%02x", (h>>8)&0xff, h&0xff),
			CarrierDetect: caps.CarrierDetect,
			VLANs:         caps.VLANs,
		},
		physCarrier: true,
		masterOpts:  copyOptions(masterDefaults[typ]),
	}
	f.links[h] = fl
	return fl
}

func (f *FakeTransport) byName(name string) *fakeLink {
	for _, fl := range f.links {
		if fl.link.Name == name {
			return fl
		}
	}
	return nil
}

func (f *FakeTransport) snapshot() map[int]Link {
	m := make(map[int]Link, len(f.links))
	for h, fl := range f.links {
		m[h] = fl.link
	}
	return m
}

// recompute updates carrier: ordinary links have carrier when up and
// physically connected, masters when up with a slave that has carrier.
func (f *FakeTransport) recompute() {
	for _, fl := range f.links {
		if !fl.link.Type.IsAggregating() {
			fl.link.Carrier = fl.link.Up && fl.physCarrier
		}
	}
	// Nested masters settle within len(links) rounds.
	for i := 0; i <= len(f.links); i++ {
		changed := false
		for h, fl := range f.links {
			if !fl.link.Type.IsAggregating() {
				continue
			}
			carrier := false
			if fl.link.Up {
				for _, s := range f.links {
					if s.link.Master == h && s.link.Carrier {
						carrier = true
						break
					}
				}
			}
			if fl.link.Carrier != carrier {
				fl.link.Carrier = carrier
				changed = true
			}
		}
		if !changed {
			break
		}
	}
}

// commit queues events for every difference against before, the primary
// handle first.
func (f *FakeTransport) commit(before map[int]Link, primary int) {
	f.recompute()

	handles := make([]int, 0, len(f.links)+len(before))
	seen := make(map[int]bool)
	for h := range before {
		handles = append(handles, h)
		seen[h] = true
	}
	for h := range f.links {
		if !seen[h] {
			handles = append(handles, h)
		}
	}
	sort.Slice(handles, func(i, j int) bool {
		if (handles[i] == primary) != (handles[j] == primary) {
			return handles[i] == primary
		}
		return handles[i] < handles[j]
	})

	queued := false
	for _, h := range handles {
		old, had := before[h]
		cur, has := f.links[h]
		switch {
		case had && !has:
			f.queue = append(f.queue, RawEvent{Kind: EventRemoved, Link: Link{Handle: h, Name: old.Name}})
		case !had && has:
			f.queue = append(f.queue, RawEvent{Kind: EventAdded, Link: cur.link})
		case has && !old.Equal(cur.link):
			f.queue = append(f.queue, RawEvent{Kind: EventChanged, Link: cur.link})
		default:
			continue
		}
		queued = true
	}

	if queued {
		select {
		case f.ready <- struct{}{}:
		default:
		}
	}
}

// Create adds a software link.
func (f *FakeTransport) Create(ctx context.Context, spec LinkSpec) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, f.errClosed()
	}
	if spec.Name == "" || len(spec.Name) > MaxNameLen {
		return 0, fakeErr(unix.EINVAL, "create %q", spec.Name)
	}
	if f.byName(spec.Name) != nil {
		return 0, fakeErr(unix.EEXIST, "create %q", spec.Name)
	}
	if !spec.Type.Capabilities().Virtual {
		return 0, fakeErr(unix.EOPNOTSUPP, "create %q: type %s", spec.Name, spec.Type)
	}

	before := f.snapshot()
	if spec.Type == LinkTypeBond && !f.bondingLoaded {
		f.bondingLoaded = true
		if f.legacyDefaultBond && spec.Name != implicitBondName && f.byName(implicitBondName) == nil {
			f.add(implicitBondName, LinkTypeBond)
		}
	}
	fl := f.add(spec.Name, spec.Type)
	f.commit(before, fl.link.Handle)
	return fl.link.Handle, nil
}

// Modify applies a patch.
func (f *FakeTransport) Modify(ctx context.Context, handle int, patch Patch) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return f.errClosed()
	}
	fl, ok := f.links[handle]
	if !ok {
		return fakeErr(unix.ENODEV, "modify link %d", handle)
	}
	if patch.Master != nil && *patch.Master != 0 {
		if err := f.checkMaster(fl, *patch.Master); err != nil {
			return err
		}
	}

	before := f.snapshot()
	if patch.Master != nil {
		f.setMaster(fl, *patch.Master)
	}
	if patch.Up != nil {
		fl.link.Up = *patch.Up
	}
	if patch.ARP != nil {
		fl.link.ARP = *patch.ARP
	}
	f.commit(before, handle)
	return nil
}

func (f *FakeTransport) checkMaster(fl *fakeLink, master int) error {
	ml, ok := f.links[master]
	if !ok {
		return fakeErr(unix.ENODEV, "set master %d", master)
	}
	if master == fl.link.Handle {
		return fakeErr(unix.ELOOP, "enslave %s to itself", fl.link.Name)
	}
	caps := ml.link.Type.Capabilities()
	if !caps.Aggregating {
		return fakeErr(unix.EOPNOTSUPP, "set master %s", ml.link.Name)
	}
	if fl.link.Master == master {
		return nil
	}
	if fl.link.Master != 0 {
		return fakeErr(unix.EBUSY, "%s already has a master", fl.link.Name)
	}
	for h := ml.link.Master; h != 0; {
		if h == fl.link.Handle {
			return fakeErr(unix.ELOOP, "enslave %s to %s", fl.link.Name, ml.link.Name)
		}
		up, ok := f.links[h]
		if !ok {
			break
		}
		h = up.link.Master
	}
	if caps.SlavesDown && fl.link.Up {
		return fakeErr(unix.EBUSY, "%s is up", fl.link.Name)
	}
	return nil
}

// setMaster attaches or detaches, applying the master type's slave policy.
func (f *FakeTransport) setMaster(fl *fakeLink, master int) {
	if fl.link.Master == master {
		return
	}
	if old, ok := f.links[fl.link.Master]; ok && old.link.Type.Capabilities().AutoUpSlaves {
		fl.link.Up = false
	}
	fl.link.Master = master
	fl.slaveOpts = nil
	if master == 0 {
		return
	}
	ml := f.links[master]
	fl.slaveOpts = copyOptions(slaveDefaults[ml.link.Type])
	if ml.link.Type.Capabilities().AutoUpSlaves {
		fl.link.Up = true
	}
}

// Delete removes a software link, detaching its slaves.
func (f *FakeTransport) Delete(ctx context.Context, handle int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return f.errClosed()
	}
	fl, ok := f.links[handle]
	if !ok {
		return fakeErr(unix.ENODEV, "delete link %d", handle)
	}
	if !fl.link.Type.Capabilities().Virtual {
		return fakeErr(unix.EOPNOTSUPP, "delete %s", fl.link.Name)
	}

	before := f.snapshot()
	for _, s := range f.links {
		if s.link.Master == handle {
			f.setMaster(s, 0)
		}
	}
	delete(f.links, handle)
	f.commit(before, handle)
	return nil
}

// Poll returns queued notifications, waiting up to wait for the first.
func (f *FakeTransport) Poll(ctx context.Context, wait time.Duration) ([]RawEvent, error) {
	var timer *time.Timer
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return nil, f.errClosed()
		}
		if len(f.queue) > 0 {
			evs := f.queue
			f.queue = nil
			f.mu.Unlock()
			return evs, nil
		}
		f.mu.Unlock()

		if wait <= 0 {
			return nil, nil
		}
		if timer == nil {
			timer = time.NewTimer(wait)
			defer timer.Stop()
		}
		select {
		case <-f.ready:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Dump returns all links ordered by handle.
func (f *FakeTransport) Dump(ctx context.Context) ([]Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, f.errClosed()
	}
	out := make([]Link, 0, len(f.links))
	for _, fl := range f.links {
		out = append(out, fl.link)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

// optionTarget resolves the option map and the type whose table applies.
func (f *FakeTransport) optionTarget(handle int, scope OptionScope, key string) (map[string]string, LinkType, error) {
	fl, ok := f.links[handle]
	if !ok {
		return nil, LinkTypeNone, fakeErr(unix.ENODEV, "option %s on link %d", key, handle)
	}
	switch scope {
	case ScopeMaster:
		if _, ok := fl.masterOpts[key]; ok {
			return fl.masterOpts, fl.link.Type, nil
		}
	case ScopeSlave:
		if ml, ok := f.links[fl.link.Master]; ok {
			if _, ok := fl.slaveOpts[key]; ok {
				return fl.slaveOpts, ml.link.Type, nil
			}
		}
	}
	return nil, LinkTypeNone, fakeErr(unix.EOPNOTSUPP, "%s option %s on %s", scope, key, fl.link.Name)
}

// GetOption reads an option in its normalized form.
func (f *FakeTransport) GetOption(ctx context.Context, handle int, scope OptionScope, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return "", f.errClosed()
	}
	opts, _, err := f.optionTarget(handle, scope, key)
	if err != nil {
		return "", err
	}
	return opts[key], nil
}

// SetOption validates and stores an option.
func (f *FakeTransport) SetOption(ctx context.Context, handle int, scope OptionScope, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return f.errClosed()
	}
	opts, typ, err := f.optionTarget(handle, scope, key)
	if err != nil {
		return err
	}
	v, ok := normalizeOption(typ, scope, key, value)
	if !ok {
		return fakeErr(unix.EINVAL, "%s option %s=%q", scope, key, value)
	}
	opts[key] = v
	return nil
}

// Close makes every further call fail.
func (f *FakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Plug simulates hotplugging an ethernet device with carrier.
func (f *FakeTransport) Plug(name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.byName(name) != nil {
		return 0, fakeErr(unix.EEXIST, "plug %q", name)
	}
	before := f.snapshot()
	fl := f.add(name, LinkTypeEthernet)
	f.commit(before, fl.link.Handle)
	return fl.link.Handle, nil
}

// SetCarrier simulates a cable being connected or pulled.
func (f *FakeTransport) SetCarrier(handle int, carrier bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl, ok := f.links[handle]
	if !ok {
		return fakeErr(unix.ENODEV, "carrier on link %d", handle)
	}
	before := f.snapshot()
	fl.physCarrier = carrier
	f.commit(before, handle)
	return nil
}

// Rename changes a link's name. Like the kernel it refuses while the link
// is up.
func (f *FakeTransport) Rename(handle int, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fl, ok := f.links[handle]
	if !ok {
		return fakeErr(unix.ENODEV, "rename link %d", handle)
	}
	if name == "" || len(name) > MaxNameLen {
		return fakeErr(unix.EINVAL, "rename to %q", name)
	}
	if other := f.byName(name); other != nil && other != fl {
		return fakeErr(unix.EEXIST, "rename to %q", name)
	}
	if fl.link.Up {
		return fakeErr(unix.EBUSY, "rename %s while up", fl.link.Name)
	}
	before := f.snapshot()
	fl.link.Name = name
	f.commit(before, handle)
	return nil
}
