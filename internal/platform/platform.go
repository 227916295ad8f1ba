package platform

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"grimm.is/linkd/internal/clock"
	"grimm.is/linkd/internal/errors"
	"grimm.is/linkd/internal/logging"
	"grimm.is/linkd/internal/metrics"
)

const (
	// DefaultWaitTimeout bounds how long a mutation waits for the cache to
	// reflect it.
	DefaultWaitTimeout = 5 * time.Second

	// MaxNameLen is IFNAMSIZ without the terminator.
	MaxNameLen = 15
)

// Options configures a Platform. The zero value is usable.
type Options struct {
	// WaitTimeout bounds the wait for confirmation of a mutation.
	// Zero means DefaultWaitTimeout.
	WaitTimeout time.Duration

	// SettleTime keeps draining notifications after a mutation is confirmed
	// for as long as they keep arriving within this window, so that
	// follow-up kernel changes (a bond bringing its slave up) land in the
	// same operation. Zero disables settling.
	SettleTime time.Duration

	// KeepImplicitBond leaves a bond0 created as a side effect of AddBond
	// in place instead of deleting it.
	KeepImplicitBond bool

	Clock   clock.Clock
	Logger  *logging.Logger
	Metrics *metrics.Registry
}

// Platform is the link operations API. All mutations are serialized; queries
// read the cache and may run concurrently with them.
type Platform struct {
	transport Transport
	cache     *Cache
	notifier  *Notifier
	opts      Options
	clock     clock.Clock
	logger    *logging.Logger
	metrics   *metrics.Registry

	opMu sync.Mutex

	errMu   sync.Mutex
	lastErr error
}

// New creates a Platform over t and seeds the cache from a full dump.
// It panics if t is nil.
func New(ctx context.Context, t Transport, opts Options) (*Platform, error) {
	if t == nil {
		panic("platform: nil transport")
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = DefaultWaitTimeout
	}
	if opts.Clock == nil {
		opts.Clock = &clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.WithComponent("platform")
	}

	p := &Platform{
		transport: t,
		cache:     NewCache(),
		notifier:  NewNotifier(opts.Clock),
		opts:      opts,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}

	links, err := t.Dump(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.GetKind(err), "initial link dump")
	}
	for _, l := range links {
		p.cache.Apply(RawEvent{Kind: EventAdded, Link: l})
	}
	p.cache.Flush()
	p.metrics.SetCacheSize(p.cache.Len())
	p.logger.Debug("platform ready", "links", p.cache.Len())
	return p, nil
}

// Close releases the transport.
func (p *Platform) Close() error {
	return p.transport.Close()
}

// Cache returns the link cache.
func (p *Platform) Cache() *Cache { return p.cache }

// Notifier returns the change notifier.
func (p *Platform) Notifier() *Notifier { return p.notifier }

// Subscribe is shorthand for Notifier().Subscribe.
func (p *Platform) Subscribe(handle int, kinds ...EventKind) *Subscription {
	return p.notifier.Subscribe(handle, kinds...)
}

// Expect is shorthand for Notifier().Expect.
func (p *Platform) Expect(kind EventKind, handle int) *Expectation {
	return p.notifier.Expect(kind, handle)
}

// LastError returns the error of the most recent call, nil if it succeeded.
func (p *Platform) LastError() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.lastErr
}

func (p *Platform) setErr(err error) error {
	p.errMu.Lock()
	p.lastErr = err
	p.errMu.Unlock()
	return err
}

// Process drains notifications of changes made outside this Platform,
// waiting up to wait for the first one, and publishes the resulting events.
// It returns the number of notifications applied.
func (p *Platform) Process(ctx context.Context, wait time.Duration) (int, error) {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	n, err := p.pump(ctx, wait)
	if err == nil && n > 0 {
		_, err = p.settle(ctx, time.Now().Add(p.opts.WaitTimeout))
	}
	p.publish()
	return n, err
}

// pump polls the transport once and applies what it returns.
func (p *Platform) pump(ctx context.Context, wait time.Duration) (int, error) {
	evs, err := p.transport.Poll(ctx, wait)
	for _, ev := range evs {
		p.cache.Apply(ev)
	}
	p.metrics.RecordNotifications(len(evs))
	return len(evs), err
}

// settle keeps pumping while notifications arrive within the settle window.
func (p *Platform) settle(ctx context.Context, deadline time.Time) (int, error) {
	total := 0
	if p.opts.SettleTime <= 0 {
		return 0, nil
	}
	for {
		wait := min(p.opts.SettleTime, time.Until(deadline))
		if wait <= 0 {
			return total, nil
		}
		n, err := p.pump(ctx, wait)
		total += n
		if err != nil || n == 0 {
			return total, err
		}
	}
}

// publish flushes the cache and hands the changes to the notifier.
func (p *Platform) publish() {
	events := p.notifier.Publish(p.cache.Flush())
	for _, e := range events {
		p.metrics.RecordEvent(e.Kind.String())
		p.logger.Debug("link event", "kind", e.Kind.String(), "handle", e.Handle, "name", e.Link.Name)
	}
	if len(events) > 0 {
		p.metrics.SetCacheSize(p.cache.Len())
	}
}

// operation runs fn as one serialized operation: pending external
// notifications are published first so they are not attributed to fn, and
// everything fn caused is published as one batch afterwards.
func (p *Platform) operation(ctx context.Context, op string, fn func(log *logging.Logger) error) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	log := p.logger.WithOp(op, uuid.NewString())
	start := p.clock.Now()

	if _, err := p.pump(ctx, 0); err != nil {
		p.publish()
		p.metrics.RecordOperation(op, resultLabel(err), 0)
		return p.setErr(err)
	}
	p.publish()

	err := fn(log)
	p.publish()

	if err != nil {
		log.Debug("operation failed", "error", err, "kind", errors.GetKind(err).String())
	}
	p.metrics.RecordOperation(op, resultLabel(err), p.clock.Since(start))
	return p.setErr(err)
}

// await drives notification processing until done reports true, then
// settles. On expiry it returns TransportFailure(ETIMEDOUT); whatever was
// observed stays in the cache. Deadlines run on wall time because the
// transport blocks in wall time; the injected clock only stamps events.
func (p *Platform) await(ctx context.Context, op string, handle int, done func() bool) error {
	deadline := time.Now().Add(p.opts.WaitTimeout)
	for !done() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return timeoutError(op, handle)
		}
		if _, err := p.pump(ctx, remaining); err != nil {
			return err
		}
	}
	_, err := p.settle(ctx, deadline)
	return err
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	return errors.GetKind(err).String()
}

func notFound(handle int) error {
	return errors.Attr(errors.Errorf(errors.KindNotFound, "link %d not found", handle), "handle", handle)
}

func notFoundName(name string) error {
	return errors.Attr(errors.Errorf(errors.KindNotFound, "link %q not found", name), "name", name)
}

func (p *Platform) lookup(handle int) (Link, error) {
	l, ok := p.cache.Get(handle)
	if !ok {
		return Link{}, notFound(handle)
	}
	return l, nil
}

// Queries. Each records its outcome in LastError.

// LinkExists reports whether a link with the given name exists.
func (p *Platform) LinkExists(name string) bool {
	_, ok := p.cache.GetByName(name)
	p.setErr(nil)
	return ok
}

// Link returns a snapshot of the link.
func (p *Platform) Link(handle int) (Link, error) {
	l, err := p.lookup(handle)
	return l, p.setErr(err)
}

// LinkByName returns a snapshot of the named link.
func (p *Platform) LinkByName(name string) (Link, error) {
	l, ok := p.cache.GetByName(name)
	if !ok {
		return Link{}, p.setErr(notFoundName(name))
	}
	return l, p.setErr(nil)
}

// Links returns snapshots of all links ordered by handle.
func (p *Platform) Links() []Link {
	p.setErr(nil)
	return p.cache.All()
}

// Ifindex returns the handle of the named link.
func (p *Platform) Ifindex(name string) (int, error) {
	l, err := p.LinkByName(name)
	if err != nil {
		return 0, err
	}
	return l.Handle, nil
}

// Name returns the link's name.
func (p *Platform) Name(handle int) (string, error) {
	l, err := p.Link(handle)
	return l.Name, err
}

// Type returns the link's type, LinkTypeNone if it does not exist.
func (p *Platform) Type(handle int) (LinkType, error) {
	l, err := p.Link(handle)
	if err != nil {
		return LinkTypeNone, err
	}
	return l.Type, nil
}

// TypeName returns the name of the link's type.
func (p *Platform) TypeName(handle int) (string, error) {
	l, err := p.Link(handle)
	if err != nil {
		return "", err
	}
	return l.Type.String(), nil
}

// IsUp reports the administrative state.
func (p *Platform) IsUp(handle int) (bool, error) {
	l, err := p.Link(handle)
	return l.Up, err
}

// IsConnected reports derived connectivity.
func (p *Platform) IsConnected(handle int) (bool, error) {
	l, err := p.Link(handle)
	return l.Connected, err
}

// UsesARP reports whether ARP is enabled.
func (p *Platform) UsesARP(handle int) (bool, error) {
	l, err := p.Link(handle)
	return l.ARP, err
}

// SupportsCarrierDetect reports whether the link can report carrier.
func (p *Platform) SupportsCarrierDetect(handle int) (bool, error) {
	l, err := p.Link(handle)
	return l.CarrierDetect, err
}

// SupportsVLANs reports whether VLANs can be stacked on the link.
func (p *Platform) SupportsVLANs(handle int) (bool, error) {
	l, err := p.Link(handle)
	return l.VLANs, err
}

// Master returns the handle of the link's master, 0 if unattached.
func (p *Platform) Master(handle int) (int, error) {
	l, err := p.Link(handle)
	return l.Master, err
}
