package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"

	"github.com/bobg/hbs"
	"github.com/bobg/hbs/node"
)

// DefaultConnectTimeout bounds the wait for a pool member to become ready.
const DefaultConnectTimeout = 5 * time.Second

// Pool is the set of storage nodes a Router can use.
// Connections are dialed lazily and shared by all callers.
type Pool struct {
	dialOpts       []grpc.DialOption
	connectTimeout time.Duration

	mu     sync.Mutex // protects the fields below
	names  []string   // sorted
	addrs  map[string]string
	conns  map[string]*grpc.ClientConn
	next   int
	closed bool
}

// NewPool produces a Pool of the nodes in members,
// a map from node name to address.
func NewPool(members map[string]string, connectTimeout time.Duration, dialOpts ...grpc.DialOption) *Pool {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	p := &Pool{
		dialOpts:       dialOpts,
		connectTimeout: connectTimeout,
		addrs:          make(map[string]string),
		conns:          make(map[string]*grpc.ClientConn),
	}
	for name, addr := range members {
		p.names = append(p.names, name)
		p.addrs[name] = addr
	}
	sort.Strings(p.names)
	return p
}

// Names lists the pool members in sorted order.
func (p *Pool) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.names...)
}

// Pick chooses a ready member, round-robin.
// If no member is ready it returns an error wrapping hbs.ErrNoBackend.
func (p *Pool) Pick(ctx context.Context) (string, *node.Client, error) {
	p.mu.Lock()
	names := p.names
	start := p.next
	p.next++
	p.mu.Unlock()

	for i := range names {
		name := names[(start+i)%len(names)]
		c, err := p.Connect(ctx, name)
		if err == nil {
			return name, c, nil
		}
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
	}
	return "", nil, errors.Wrapf(hbs.ErrNoBackend, "none of %d pool members is ready", len(names))
}

// Connect produces a client for the named member.
// If the member is unknown or cannot be made ready,
// it returns an error wrapping hbs.ErrUnavailable.
func (p *Pool) Connect(ctx context.Context, name string) (*node.Client, error) {
	cc, err := p.conn(ctx, name)
	if err != nil {
		return nil, err
	}
	if !p.ready(ctx, cc) {
		return nil, errors.Wrapf(hbs.ErrUnavailable, "node %s is not ready", name)
	}
	return node.NewClient(cc), nil
}

func (p *Pool) conn(ctx context.Context, name string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, errors.Wrap(hbs.ErrUnavailable, "pool is closed")
	}
	if cc, ok := p.conns[name]; ok {
		return cc, nil
	}
	addr, ok := p.addrs[name]
	if !ok {
		return nil, errors.Wrapf(hbs.ErrUnavailable, "no node named %s", name)
	}
	cc, err := grpc.DialContext(ctx, addr, p.dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(hbs.ErrUnavailable, "dialing %s at %s: %s", name, addr, err)
	}
	p.conns[name] = cc
	return cc, nil
}

// ready waits for cc to leave the idle and connecting states,
// for at most the connect timeout.
func (p *Pool) ready(ctx context.Context, cc *grpc.ClientConn) bool {
	ctx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	defer cancel()

	cc.Connect()
	retried := false
	for {
		s := cc.GetState()
		switch s {
		case connectivity.Ready:
			return true
		case connectivity.Shutdown:
			return false
		case connectivity.TransientFailure:
			// One immediate retry, so that a restarted node
			// need not wait out the reconnect backoff.
			if retried {
				return false
			}
			retried = true
			cc.ResetConnectBackoff()
		}
		if !cc.WaitForStateChange(ctx, s) {
			return false
		}
	}
}

// Probe gets the Stat of every member concurrently.
// Unreachable members are reported, not treated as errors.
func (p *Pool) Probe(ctx context.Context) []NodeStat {
	names := p.Names()
	result := make([]NodeStat, len(names))

	var g errgroup.Group
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			ns := NodeStat{Name: name, Addr: p.addr(name)}
			c, err := p.Connect(ctx, name)
			if err == nil {
				ns.Stat, err = c.Stat(ctx)
			}
			if err != nil {
				ns.Err = err.Error()
			} else {
				ns.Reachable = true
			}
			result[i] = ns
			return nil
		})
	}
	g.Wait()
	return result
}

func (p *Pool) addr(name string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addrs[name]
}

// Close closes all connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	var err error
	for name, cc := range p.conns {
		if err2 := cc.Close(); err2 != nil && err == nil {
			err = errors.Wrapf(err2, "closing connection to %s", name)
		}
	}
	p.conns = nil
	return err
}
