// Package pool implements the bounded connection pool: idle bag, leased
// set, FIFO waiter queue, target-address set, and per-address backoff
// state across failed connect attempts.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/IceFireDB/redwire/pkg/connection"
	"github.com/IceFireDB/redwire/pkg/logging"
	"github.com/IceFireDB/redwire/pkg/metrics"
	"github.com/IceFireDB/redwire/pkg/rerror"
)

// CapacityMode selects how the pool enforces its size bound.
type CapacityMode struct {
	strict bool
	max    int
}

// StrictMax caps active connections (leased + idle + connecting) at n.
func StrictMax(n int) CapacityMode { return CapacityMode{strict: true, max: n} }

// PreservedMax caps only idle connections at n; transient connections
// beyond n may be created to satisfy load and are closed on return instead
// of going idle.
func PreservedMax(n int) CapacityMode { return CapacityMode{strict: false, max: n} }

// Dialer opens and hands back a Ready connection.Connection to addr. The
// default dials through gnet.Client; tests inject a fake.
type Dialer func(ctx context.Context, addr string) (*connection.Connection, error)

// Config is the pool's full configuration surface, corresponding to the
// "initial_addresses" through "metrics" options.
type Config struct {
	Addresses          []string
	MinimumConnections int
	Capacity           CapacityMode
	InitialBackoff     time.Duration
	BackoffFactor      float64
	RetryTimeout       time.Duration
	OnUnexpectedClose  func(addr string, err error)
	Logger             logging.Logger
	Metrics            metrics.Collector
	Dial               Dialer
	MaxConcurrentDials int
}

func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 50 * time.Millisecond
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2
	}
	if c.RetryTimeout <= 0 {
		c.RetryTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = logging.NewNoop()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NewNoop()
	}
	if c.MaxConcurrentDials <= 0 {
		c.MaxConcurrentDials = 16
	}
	return c
}

// pooledConn pairs a live connection with the address it was dialed to, so
// returns and unexpected-close notifications know which backoff/idle-cap
// bucket it belongs to.
type pooledConn struct {
	conn *connection.Connection
	addr string
}

// waiter is a parked lease request, resolved exactly once by the owner
// goroutine.
type waiter struct {
	result chan leaseOutcome
	done   chan struct{} // closed when the waiter's context is canceled/expires
}

type leaseOutcome struct {
	conn *connection.Connection
	addr string
	err  error
}

// connectOutcome is posted back to the owner goroutine by a dial attempt
// running on the ants worker pool.
type connectOutcome struct {
	addr string
	conn *connection.Connection
	err  error
}

// Pool owns a bag of idle connections, a set of leased connections, a
// waiter queue, a target-address set, and a backoff state per address —
// all mutated exclusively by run, on its own goroutine; every other method
// sends a closure onto cmds and lets run execute it.
type Pool struct {
	cfg     Config
	workers *ants.Pool
	sem     *semaphore.Weighted // non-nil only for StrictMax

	cmds   chan func()
	closed chan struct{}
	once   sync.Once

	// owned exclusively by run()
	idle         []*pooledConn
	leased       map[*connection.Connection]*pooledConn
	waiters      []*waiter
	addrs        []string
	addrIdx      int
	backoff      map[string]*backoffState
	connecting   int
	isClosed     bool
	activeByAddr map[string]int
	idleByAddr   map[string]int
}

// bumpActive adjusts the tracked leased-connection count for addr by delta
// and reports the new total, giving the metrics collector a per-address
// gauge instead of one pool-wide counter.
func (p *Pool) bumpActive(addr string, delta int) {
	p.activeByAddr[addr] += delta
	p.cfg.Metrics.SetActiveConnections(addr, p.activeByAddr[addr])
}

// bumpIdle is bumpActive's idle-bag counterpart.
func (p *Pool) bumpIdle(addr string, delta int) {
	p.idleByAddr[addr] += delta
	p.cfg.Metrics.SetIdleConnections(addr, p.idleByAddr[addr])
}

// New builds a Pool from cfg. It does not connect anything until the first
// Lease or until MinimumConnections pulls the floor up in the background.
func New(cfg Config) (*Pool, error) {
	cfg = cfg.withDefaults()
	workers, err := ants.NewPool(cfg.MaxConcurrentDials, ants.WithNonblocking(false))
	if err != nil {
		return nil, err
	}
	p := &Pool{
		cfg:          cfg,
		workers:      workers,
		cmds:         make(chan func(), 64),
		closed:       make(chan struct{}),
		leased:       make(map[*connection.Connection]*pooledConn),
		addrs:        append([]string(nil), cfg.Addresses...),
		backoff:      make(map[string]*backoffState),
		activeByAddr: make(map[string]int),
		idleByAddr:   make(map[string]int),
	}
	if cfg.Capacity.strict {
		p.sem = semaphore.NewWeighted(int64(cfg.Capacity.max))
	}
	go p.run()
	if cfg.MinimumConnections > 0 {
		p.submit(func() { p.topUpLocked() })
	}
	return p, nil
}

// submit enqueues fn to run on the owner goroutine. It never blocks the
// caller on fn's completion.
func (p *Pool) submit(fn func()) {
	select {
	case p.cmds <- fn:
	case <-p.closed:
	}
}

func (p *Pool) run() {
	for {
		select {
		case fn := <-p.cmds:
			fn()
		case <-p.closed:
			p.drainLocked()
			return
		}
	}
}

// Lease is a held connection; the caller must call Release exactly once.
type Lease struct {
	pool *Pool
	pc   *pooledConn
}

// Conn returns the underlying connection for submitting commands.
func (l *Lease) Conn() *connection.Connection { return l.pc.conn }

// Release returns the connection to the pool, subject to the configured
// capacity mode. Once the pool is closed, Release closes the connection.
func (l *Lease) Release() {
	select {
	case <-l.pool.closed:
		_ = l.pc.conn.Close()
	default:
		l.pool.submit(func() { l.pool.returnLocked(l.pc) })
	}
}

// Lease obtains a connection, blocking the caller (not the owner goroutine)
// until one becomes available, ctx is canceled, or RetryTimeout elapses.
func (p *Pool) Lease(ctx context.Context) (*Lease, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.RetryTimeout)
	defer cancel()

	started := time.Now()
	w := &waiter{result: make(chan leaseOutcome, 1), done: make(chan struct{})}

	select {
	case p.cmds <- func() { p.admitLocked(w) }:
	case <-p.closed:
		return nil, &rerror.PoolClosedError{}
	case <-ctx.Done():
		return nil, &rerror.TimedOutWaitingForConnectionError{}
	}

	select {
	case out := <-w.result:
		p.cfg.Metrics.ObserveLeaseWait(time.Since(started))
		if out.err != nil {
			return nil, out.err
		}
		return &Lease{pool: p, pc: &pooledConn{conn: out.conn, addr: out.addr}}, nil
	case <-ctx.Done():
		close(w.done)
		p.submit(func() { p.abandonWaiterLocked(w) })
		return nil, &rerror.TimedOutWaitingForConnectionError{}
	case <-p.closed:
		return nil, &rerror.PoolClosedError{}
	}
}

// admitLocked runs on the owner goroutine: serve from idle, start a new
// connect, or park the waiter.
func (p *Pool) admitLocked(w *waiter) {
	if p.isClosed {
		w.result <- leaseOutcome{err: &rerror.PoolClosedError{}}
		return
	}
	if len(p.idle) > 0 {
		pc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		p.leased[pc.conn] = pc
		p.bumpIdle(pc.addr, -1)
		p.bumpActive(pc.addr, 1)
		w.result <- leaseOutcome{conn: pc.conn, addr: pc.addr}
		return
	}
	if len(p.addrs) == 0 {
		w.result <- leaseOutcome{err: &rerror.NoAvailableConnectionTargetsError{}}
		return
	}
	p.waiters = append(p.waiters, w)
	p.startConnectLocked(p.nextAddrLocked())
}

func (p *Pool) nextAddrLocked() string {
	addr := p.addrs[p.addrIdx%len(p.addrs)]
	p.addrIdx++
	return addr
}

// startConnectLocked acquires a capacity slot (StrictMax only — PreservedMax
// has no cap on active connections) and launches one dial attempt on the
// worker pool, posting its outcome back onto cmds. Returns false without
// launching anything if StrictMax has no free slot right now; the caller's
// waiter, already parked, is served later when a slot frees (a return, a
// connect success, or an unexpected close releasing its slot).
func (p *Pool) startConnectLocked(addr string) bool {
	if p.cfg.Capacity.strict && !p.sem.TryAcquire(1) {
		return false
	}
	p.connecting++
	err := p.workers.Submit(func() {
		dialCtx, cancel := context.WithTimeout(context.Background(), p.cfg.RetryTimeout)
		defer cancel()
		conn, dialErr := p.cfg.Dial(dialCtx, addr)
		p.submit(func() { p.onConnectDoneLocked(connectOutcome{addr: addr, conn: conn, err: dialErr}) })
	})
	if err != nil {
		p.onConnectDoneLocked(connectOutcome{addr: addr, err: err})
	}
	return true
}

func (p *Pool) onConnectDoneLocked(out connectOutcome) {
	p.connecting--
	if out.err != nil {
		if p.cfg.Capacity.strict {
			p.sem.Release(1)
		}
		p.scheduleRetryLocked(out.addr)
		return
	}
	b := p.backoffFor(out.addr)
	b.reset()

	pc := &pooledConn{conn: out.conn, addr: out.addr}
	out.conn.OnUnexpectedClose(func(c *connection.Connection, closeErr error) {
		p.submit(func() { p.onUnexpectedCloseLocked(pc, closeErr) })
	})

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		select {
		case <-w.done:
			// waiter already timed out; offer the connection back to idle.
			p.offerIdleLocked(pc)
		default:
			p.leased[pc.conn] = pc
			p.bumpActive(pc.addr, 1)
			w.result <- leaseOutcome{conn: pc.conn, addr: pc.addr}
		}
		return
	}
	p.offerIdleLocked(pc)
}

func (p *Pool) scheduleRetryLocked(addr string) {
	b := p.backoffFor(addr)
	delay := b.next()
	time.AfterFunc(delay, func() {
		p.submit(func() {
			if p.isClosed || len(p.waiters) == 0 {
				return
			}
			p.startConnectLocked(addr)
		})
	})
}

func (p *Pool) backoffFor(addr string) *backoffState {
	b, ok := p.backoff[addr]
	if !ok {
		b = newBackoffState(p.cfg.InitialBackoff, p.cfg.BackoffFactor)
		p.backoff[addr] = b
	}
	return b
}

// offerIdleLocked adds pc to the idle bag, or closes it immediately when
// PreservedMax's idle cap is already full.
func (p *Pool) offerIdleLocked(pc *pooledConn) {
	if !p.cfg.Capacity.strict && len(p.idle) >= p.cfg.Capacity.max {
		_ = pc.conn.Close()
		return
	}
	p.idle = append(p.idle, pc)
	p.bumpIdle(pc.addr, 1)
}

func (p *Pool) abandonWaiterLocked(w *waiter) {
	for i, ww := range p.waiters {
		if ww == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// returnLocked implements the return algorithm: StrictMax always pushes
// back into idle (unless the connection already closed); PreservedMax
// pushes into idle only while under the idle cap, else closes it.
func (p *Pool) returnLocked(pc *pooledConn) {
	delete(p.leased, pc.conn)
	p.bumpActive(pc.addr, -1)
	if p.isClosed {
		_ = pc.conn.Close()
		return
	}
	if pc.conn.State() == connection.Closed {
		return
	}
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		select {
		case <-w.done:
			p.offerReturnLocked(pc)
		default:
			p.leased[pc.conn] = pc
			p.bumpActive(pc.addr, 1)
			w.result <- leaseOutcome{conn: pc.conn, addr: pc.addr}
		}
		return
	}
	p.offerReturnLocked(pc)
}

func (p *Pool) offerReturnLocked(pc *pooledConn) {
	if p.cfg.Capacity.strict {
		p.idle = append(p.idle, pc)
		p.bumpIdle(pc.addr, 1)
		return
	}
	p.offerIdleLocked(pc)
}

// onUnexpectedCloseLocked removes pc from whichever set it was in, frees
// its StrictMax capacity slot, serves a parked waiter if one is now
// admissible, and tops back up to the configured floor.
func (p *Pool) onUnexpectedCloseLocked(pc *pooledConn, closeErr error) {
	wasTracked := false
	if _, ok := p.leased[pc.conn]; ok {
		delete(p.leased, pc.conn)
		wasTracked = true
		p.bumpActive(pc.addr, -1)
	}
	for i, idlePC := range p.idle {
		if idlePC == pc {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			p.bumpIdle(pc.addr, -1)
			wasTracked = true
			break
		}
	}
	if wasTracked && p.cfg.Capacity.strict {
		p.sem.Release(1)
	}
	p.cfg.Metrics.IncReconnect(pc.addr)
	if p.cfg.OnUnexpectedClose != nil {
		p.cfg.OnUnexpectedClose(pc.addr, closeErr)
	}
	if p.isClosed {
		return
	}
	if len(p.waiters) > 0 && len(p.addrs) > 0 {
		p.startConnectLocked(p.nextAddrLocked())
	}
	p.topUpLocked()
}

// active is idle+leased+in-flight-connecting, used only by topUpLocked to
// decide how many more connects the floor needs; StrictMax admission itself
// is gated by sem, not by this count.
func (p *Pool) active() int {
	return len(p.idle) + len(p.leased) + p.connecting
}

// topUpLocked starts as many connects as needed to bring active back up to
// MinimumConnections, stopping early if StrictMax has no free slot left.
func (p *Pool) topUpLocked() {
	if len(p.addrs) == 0 {
		return
	}
	for p.active() < p.cfg.MinimumConnections {
		if !p.startConnectLocked(p.nextAddrLocked()) {
			return
		}
	}
}

// Stats reports the current idle and leased connection counts.
func (p *Pool) Stats() (idle, leased int) {
	resultCh := make(chan [2]int, 1)
	p.submit(func() { resultCh <- [2]int{len(p.idle), len(p.leased)} })
	select {
	case r := <-resultCh:
		return r[0], r[1]
	case <-p.closed:
		return 0, 0
	}
}

// UpdateAddresses atomically swaps the target-address set used by future
// connects. Already-leased connections are unaffected.
func (p *Pool) UpdateAddresses(addrs []string) {
	cp := append([]string(nil), addrs...)
	p.submit(func() {
		p.addrs = cp
		p.addrIdx = 0
	})
}

// Close marks the pool closed, fails every parked waiter with PoolClosed,
// and closes every idle connection. Leased connections close when returned.
func (p *Pool) Close() error {
	var errOut error
	p.once.Do(func() {
		done := make(chan error, 1)
		p.submit(func() {
			p.isClosed = true
			for _, w := range p.waiters {
				w.result <- leaseOutcome{err: &rerror.PoolClosedError{}}
			}
			p.waiters = nil
			done <- p.closeIdleLocked()
		})
		select {
		case errOut = <-done:
		case <-time.After(p.cfg.RetryTimeout):
		}
		close(p.closed)
		p.workers.Release()
	})
	return errOut
}

// closeIdleLocked closes every idle connection concurrently and aggregates
// their close errors, releasing each one's StrictMax capacity slot.
func (p *Pool) closeIdleLocked() error {
	g := new(errgroup.Group)
	var mu sync.Mutex
	var errs error
	for _, pc := range p.idle {
		pc := pc
		g.Go(func() error {
			err := pc.conn.Close()
			if err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if p.cfg.Capacity.strict {
		p.sem.Release(int64(len(p.idle)))
	}
	p.idle = nil
	return errs
}

// drainLocked runs once after closed fires, for any commands still queued.
func (p *Pool) drainLocked() {
	for {
		select {
		case fn := <-p.cmds:
			fn()
		default:
			return
		}
	}
}
