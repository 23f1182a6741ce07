package imap

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/driftkit-mail/driftsync/internal/imapdemux"
	"github.com/driftkit-mail/driftsync/internal/logging"
)

// IsConnectionError reports whether err indicates a dead connection. Such
// errors warrant discarding the lease instead of releasing it: the staged
// sync state a task built on a dead connection is gone either way.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"use of closed network connection",
		"connection reset",
		"broken pipe",
		"EOF",
		"i/o timeout",
		"connection refused",
		"network is unreachable",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// PoolConfig configures connection reuse across mailbox switches.
type PoolConfig struct {
	// MaxLeases caps the number of live connections per account. A
	// synchronizer holds its lease for the whole SELECT-to-commit window,
	// so two concurrent mailbox syncs on one account need two leases.
	MaxLeases int

	// IdleTimeout is how long an unleased connection may sit before the
	// cleanup routine closes it.
	IdleTimeout time.Duration

	// AcquireTimeout bounds how long Acquire waits when every lease is
	// taken.
	AcquireTimeout time.Duration
}

// DefaultPoolConfig returns the defaults a desktop-class client wants.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxLeases:      3,
		IdleTimeout:    5 * time.Minute,
		AcquireTimeout: 2 * time.Minute,
	}
}

// Lease is an exclusively held connection. While a Lease is out, no other
// caller can issue commands on its connection; the holding synchronizer's
// command stream and the connection's unsolicited-event stream stay
// associated with exactly one task at a time.
type Lease struct {
	client    *Client
	account   string
	createdAt time.Time
	lastUsed  time.Time
	held      bool
	mu        sync.Mutex
}

// Client returns the connection this lease holds exclusively.
func (l *Lease) Client() *Client { return l.client }

func (l *Lease) alive() bool {
	return l.client != nil && l.client.client != nil
}

// Pool hands out leased IMAP connections per account, dialing on demand up
// to the configured cap and parking callers beyond it until a lease frees
// up.
type Pool struct {
	config PoolConfig
	leases map[string][]*Lease
	queue  map[string][]chan *Lease
	mu     sync.Mutex
	log    zerolog.Logger

	// dial resolves an account ID to its connection parameters. The pool
	// never sees raw credentials beyond what ClientConfig carries.
	dial func(account string) (*ClientConfig, error)
}

// NewPool returns a Pool resolving accounts through dial.
func NewPool(config PoolConfig, dial func(account string) (*ClientConfig, error)) *Pool {
	return &Pool{
		config: config,
		leases: make(map[string][]*Lease),
		queue:  make(map[string][]chan *Lease),
		log:    logging.WithComponent("imap-pool"),
		dial:   dial,
	}
}

// Acquire returns an exclusively held connection for account, reusing an
// idle one, dialing a new one below the cap, or waiting for a release.
func (p *Pool) Acquire(ctx context.Context, account string) (*Lease, error) {
	p.mu.Lock()

	for _, l := range p.leases[account] {
		l.mu.Lock()
		if !l.held && l.alive() {
			l.held = true
			l.lastUsed = time.Now()
			l.mu.Unlock()
			p.mu.Unlock()
			p.log.Debug().Str("account", account).Msg("reusing idle connection")
			return l, nil
		}
		l.mu.Unlock()
	}

	if len(p.leases[account]) < p.config.MaxLeases {
		p.mu.Unlock()
		return p.dialLease(ctx, account)
	}

	p.log.Debug().Str("account", account).Int("cap", p.config.MaxLeases).Msg("lease cap reached, waiting")
	waiter := make(chan *Lease, 1)
	p.queue[account] = append(p.queue[account], waiter)
	p.mu.Unlock()

	select {
	case l := <-waiter:
		if l == nil {
			return nil, fmt.Errorf("imap pool: closed while waiting for %s", account)
		}
		return l, nil
	case <-ctx.Done():
		p.dropWaiter(account, waiter)
		return nil, ctx.Err()
	case <-time.After(p.config.AcquireTimeout):
		p.dropWaiter(account, waiter)
		p.log.Warn().Str("account", account).Dur("timeout", p.config.AcquireTimeout).Msg("timed out waiting for a lease")
		return nil, fmt.Errorf("imap pool: timed out waiting for a connection to %s", account)
	}
}

func (p *Pool) dropWaiter(account string, waiter chan *Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()
	q := p.queue[account]
	for i, w := range q {
		if w == waiter {
			p.queue[account] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// dialLease connects and authenticates a fresh connection. Every connection
// gets its own demux so the unsolicited events of one mailbox session never
// leak into another connection's task.
func (p *Pool) dialLease(ctx context.Context, account string) (*Lease, error) {
	config, err := p.dial(account)
	if err != nil {
		return nil, fmt.Errorf("imap pool: resolve %s: %w", account, err)
	}

	client := NewClient(*config, imapdemux.NewDemux())

	done := make(chan error, 1)
	go func() {
		if err := client.Connect(); err != nil {
			done <- err
			return
		}
		if err := client.Login(); err != nil {
			client.ForceClose()
			done <- err
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("imap pool: connect %s: %w", account, err)
		}
	case <-ctx.Done():
		go client.ForceClose()
		return nil, ctx.Err()
	}

	l := &Lease{
		client:    client,
		account:   account,
		createdAt: time.Now(),
		lastUsed:  time.Now(),
		held:      true,
	}

	p.mu.Lock()
	p.leases[account] = append(p.leases[account], l)
	p.mu.Unlock()

	p.log.Info().Str("account", account).Msg("dialed new connection")
	return l, nil
}

// Release returns a lease so the next Acquire (or a parked waiter) can take
// it. A lease that went unhealthy while held is quietly dropped instead.
func (p *Pool) Release(l *Lease) {
	if l == nil {
		return
	}

	l.mu.Lock()
	l.held = false
	l.lastUsed = time.Now()
	alive := l.alive()
	l.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !alive || !p.tracksLocked(l) {
		p.log.Debug().Str("account", l.account).Msg("released connection is gone, dropping")
		return
	}

	if q := p.queue[l.account]; len(q) > 0 {
		waiter := q[0]
		p.queue[l.account] = q[1:]
		l.mu.Lock()
		l.held = true
		l.mu.Unlock()
		waiter <- l
		return
	}
}

func (p *Pool) tracksLocked(l *Lease) bool {
	for _, have := range p.leases[l.account] {
		if have == l {
			return true
		}
	}
	return false
}

// Discard force-closes a lease known to be dead (IsConnectionError) and
// removes it from the pool so it is never handed out again.
func (p *Pool) Discard(l *Lease) {
	if l == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	l.mu.Lock()
	if l.client != nil {
		l.client.ForceClose()
		l.client = nil
	}
	l.mu.Unlock()

	leases := p.leases[l.account]
	for i, have := range leases {
		if have == l {
			p.leases[l.account] = append(leases[:i], leases[i+1:]...)
			break
		}
	}
	if len(p.leases[l.account]) == 0 {
		delete(p.leases, l.account)
	}

	p.log.Debug().Str("account", l.account).Msg("discarded dead connection")
}

// CloseAccount force-closes every connection for account and fails its
// parked waiters.
func (p *Pool) CloseAccount(account string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, l := range p.leases[account] {
		l.mu.Lock()
		if l.client != nil {
			l.client.ForceClose()
			l.client = nil
		}
		l.mu.Unlock()
	}
	delete(p.leases, account)

	for _, w := range p.queue[account] {
		close(w)
	}
	delete(p.queue, account)

	p.log.Info().Str("account", account).Msg("closed account connections")
}

// CloseAll closes every connection in the pool.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	accounts := make([]string, 0, len(p.leases))
	for account := range p.leases {
		accounts = append(accounts, account)
	}
	p.mu.Unlock()

	for _, account := range accounts {
		p.CloseAccount(account)
	}
}

// CleanupIdle closes connections no task has held for longer than
// IdleTimeout.
func (p *Pool) CleanupIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	closed := 0

	for account, leases := range p.leases {
		var kept []*Lease
		for _, l := range leases {
			l.mu.Lock()
			idle := !l.held && now.Sub(l.lastUsed) > p.config.IdleTimeout
			if idle && l.client != nil {
				l.client.ForceClose()
				l.client = nil
				closed++
			}
			l.mu.Unlock()
			if !idle {
				kept = append(kept, l)
			}
		}
		if len(kept) == 0 {
			delete(p.leases, account)
		} else {
			p.leases[account] = kept
		}
	}

	if closed > 0 {
		p.log.Debug().Int("closed", closed).Msg("closed idle connections")
	}
}

// StartCleanupRoutine runs CleanupIdle once a minute until ctx is done.
func (p *Pool) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.CleanupIdle()
			case <-ctx.Done():
				return
			}
		}
	}()
}
