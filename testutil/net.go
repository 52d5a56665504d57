// Package testutil holds helpers shared by the tests of this module.
package testutil

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/bobg/hbs/rpc"
)

// TestBlockSize is a block size small enough to exercise multi-chunk paths in tests.
const TestBlockSize = 1 << 16

// Net is an in-memory network of gRPC servers, keyed by address.
// Dialing an address with no server fails immediately.
type Net struct {
	mu        sync.Mutex
	listeners map[string]*bufconn.Listener
}

// NewNet produces an empty Net.
func NewNet() *Net {
	return &Net{listeners: make(map[string]*bufconn.Listener)}
}

// Serve starts a gRPC server at addr.
// The register function adds services to it.
// The server stops when the test ends.
func (n *Net) Serve(t *testing.T, addr string, register func(*grpc.Server)) *grpc.Server {
	t.Helper()

	l := bufconn.Listen(1 << 20)
	s := grpc.NewServer(rpc.ServerOptions(zerolog.Nop(), TestBlockSize)...)
	register(s)

	n.mu.Lock()
	n.listeners[addr] = l
	n.mu.Unlock()

	go s.Serve(l)
	t.Cleanup(func() { n.Stop(addr, s) })
	return s
}

// Stop stops the server s at addr and forgets addr.
// It is safe to call more than once.
func (n *Net) Stop(addr string, s *grpc.Server) {
	n.mu.Lock()
	delete(n.listeners, addr)
	n.mu.Unlock()
	s.Stop()
}

// Dial connects to a server on the network.
func (n *Net) Dial(ctx context.Context, addr string) (net.Conn, error) {
	n.mu.Lock()
	l, ok := n.listeners[addr]
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("no server at %s", addr)
	}
	return l.DialContext(ctx)
}

// DialOptions are the options for dialing servers on the network.
func (n *Net) DialOptions() []grpc.DialOption {
	return append(rpc.DialOptions(TestBlockSize), grpc.WithContextDialer(n.Dial))
}

// ClientConn dials addr and closes the connection when the test ends.
func (n *Net) ClientConn(t *testing.T, addr string) *grpc.ClientConn {
	t.Helper()
	cc, err := grpc.DialContext(context.Background(), addr, n.DialOptions()...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cc.Close() })
	return cc
}
