package xrayrpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/xrayfleet/xrayfleet/internal/retry"
)

// UUIDMismatchError reports an engine that answered the restart with a
// different access key than the one it was sent.
type UUIDMismatchError struct {
	Expected uuid.UUID
	Received uuid.UUID
}

func (e *UUIDMismatchError) Error() string {
	return fmt.Sprintf("engine restarted with unexpected uuid: sent %s, received %s", e.Expected, e.Received)
}

const restartTimeout = 10 * time.Second

// clientConn is the slice of grpc.ClientConn the manager uses; narrowed so
// tests can stand in a fake.
type clientConn interface {
	Invoke(ctx context.Context, method string, args, reply any, opts ...grpc.CallOption) error
	Close() error
}

type dialFunc func(addr string) (clientConn, error)

// Options configure transport security for engine channels.
type Options struct {
	// Insecure disables TLS entirely. Loudly discouraged.
	Insecure bool
	// RootCAFile pins the trust anchors; empty means the system pool.
	RootCAFile string
}

// Manager holds one long-lived channel per engine address. Channels are
// created on first use and reused until Close.
type Manager struct {
	mu    sync.Mutex
	conns map[string]clientConn
	dial  dialFunc
}

func NewManager(opts Options) *Manager {
	return &Manager{
		conns: make(map[string]clientConn),
		dial:  dialer(opts),
	}
}

func dialer(opts Options) dialFunc {
	return func(addr string) (clientConn, error) {
		target, dialOpts, err := targetOptions(addr, opts)
		if err != nil {
			return nil, err
		}
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{})))
		return grpc.NewClient(target, dialOpts...)
	}
}

// targetOptions normalizes the address and picks credentials. A trailing dot
// on the host is the explicit absolute form: it is stripped for dialing and
// the bare host becomes both the TLS server name and the :authority.
func targetOptions(addr string, opts Options) (string, []grpc.DialOption, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "", nil, fmt.Errorf("bad engine addr %q: %w", addr, err)
	}

	absolute := strings.HasSuffix(host, ".")
	host = strings.TrimSuffix(host, ".")
	target := net.JoinHostPort(host, port)

	var dialOpts []grpc.DialOption
	if opts.Insecure {
		log.Warn().Str("addr", target).Msg("using insecure grpc credentials")
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		creds, err := transportCreds(opts.RootCAFile, host, absolute)
		if err != nil {
			return "", nil, err
		}
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(creds))
	}
	if absolute {
		dialOpts = append(dialOpts, grpc.WithAuthority(host))
	}
	return target, dialOpts, nil
}

func transportCreds(rootCAFile, host string, override bool) (credentials.TransportCredentials, error) {
	cfg := &tls.Config{}
	if rootCAFile != "" {
		pem, err := os.ReadFile(rootCAFile)
		if err != nil {
			return nil, fmt.Errorf("read root CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", rootCAFile)
		}
		cfg.RootCAs = pool
	}
	if override {
		cfg.ServerName = host
	}
	return credentials.NewTLS(cfg), nil
}

func (m *Manager) channel(addr string) (clientConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if conn, ok := m.conns[addr]; ok {
		return conn, nil
	}
	conn, err := m.dial(addr)
	if err != nil {
		return nil, err
	}
	m.conns[addr] = conn
	return conn, nil
}

// Close tears down every channel. The manager is unusable afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for addr, conn := range m.conns {
		if err := conn.Close(); err != nil {
			log.Error().Err(err).Str("addr", addr).Msg("channel close failed")
		}
	}
	m.conns = make(map[string]clientConn)
}

// Restart sends the access key to the engine at addr and verifies that the
// engine echoes the same key back. Transient transport failures are retried
// with backoff.
func (m *Manager) Restart(ctx context.Context, key uuid.UUID, addr string) error {
	conn, err := m.channel(addr)
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, restartTimeout)
		defer cancel()
	}

	req := &XrayInfo{UUID: key.String()}
	resp := &XrayInfo{}
	if err := retry.Do(ctx, func() error {
		return conn.Invoke(ctx, restartMethod, req, resp)
	}); err != nil {
		return fmt.Errorf("restart rpc to %s: %w", addr, err)
	}

	received, err := uuid.Parse(resp.UUID)
	if err != nil {
		return fmt.Errorf("restart rpc to %s returned bad uuid %q: %w", addr, resp.UUID, err)
	}
	if received != key {
		return &UUIDMismatchError{Expected: key, Received: received}
	}
	return nil
}
