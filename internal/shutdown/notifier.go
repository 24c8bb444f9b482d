// Package shutdown carries a one-shot stop notification from its source
// (an OS signal, a context, a test) to the accept loop.
//
// A blocking Accept cannot observe the notification by itself, so firing the
// Notifier also opens a throwaway connection to the listener's own address.
// The accept loop wakes up, polls Fired and discards that connection.
package shutdown

import (
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

const defaultDialTimeout = time.Second

// Notifier is a single-shot shutdown notification.
type Notifier struct {
	once sync.Once
	done chan struct{}

	mu       sync.Mutex
	wakeAddr string

	dialTimeout time.Duration
	log         *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the Notifier logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) {
		if l != nil {
			n.log = l
		}
	}
}

// WithDialTimeout bounds the self-connect made when the Notifier fires.
func WithDialTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		if d > 0 {
			n.dialTimeout = d
		}
	}
}

// NewNotifier returns an unfired Notifier.
func NewNotifier(opts ...Option) *Notifier {
	n := &Notifier{
		done:        make(chan struct{}),
		dialTimeout: defaultDialTimeout,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetWakeAddr sets the address dialed when the Notifier fires.
// Unspecified hosts are dialed on 127.0.0.1.
func (n *Notifier) SetWakeAddr(addr net.Addr) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.wakeAddr = WakeAddress(addr)
}

// Fire delivers the notification. Only the first call has any effect; it
// reports whether this call was the one that fired.
func (n *Notifier) Fire() bool {
	fired := false
	n.once.Do(func() {
		fired = true
		close(n.done)
		n.log.Info("Shutdown requested")
		n.wake()
	})
	return fired
}

// Fired polls the notification without blocking.
func (n *Notifier) Fired() bool {
	select {
	case <-n.done:
		return true
	default:
		return false
	}
}

// Done is closed when the Notifier fires.
func (n *Notifier) Done() <-chan struct{} {
	return n.done
}

// wake unblocks a pending Accept on the wake address.
func (n *Notifier) wake() {
	n.mu.Lock()
	addr := n.wakeAddr
	n.mu.Unlock()

	if addr == "" {
		return
	}

	conn, err := net.DialTimeout("tcp", addr, n.dialTimeout)
	if err != nil {
		n.log.Warn("Self-connect failed", "addr", addr, "error", err)
		return
	}
	_ = conn.Close()
}

// WakeAddress returns a dialable form of a listener address.
func WakeAddress(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	tcp, ok := addr.(*net.TCPAddr)
	if !ok {
		return addr.String()
	}

	ip := tcp.IP
	if ip == nil || ip.IsUnspecified() {
		ip = net.IPv4(127, 0, 0, 1)
	}
	return net.JoinHostPort(ip.String(), strconv.Itoa(tcp.Port))
}
