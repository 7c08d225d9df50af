// Package failover composes a primary transport.Transport with one or more
// backups: requests are served from the primary while it is healthy, and
// from the next healthy backup once the primary's health checker reports it
// Unhealthy, recovering back to the primary once its own health probe
// passes again.
//
// Grounded on unraid-management-agent's watchdog-driven failover pattern
// and the teacher's main.go transport-selection logic (picking one
// configured transport at startup, generalized here to pick among several
// live ones).
package failover

import (
	"context"
	"fmt"
	"sync"

	"mcpcore/internal/jsonrpc"
	"mcpcore/internal/robustness/healthcheck"
	"mcpcore/internal/transport"
)

// Target pairs a transport with the health checker that monitors it.
type Target struct {
	Name      string
	Transport transport.Transport
	Checker   *healthcheck.Checker
}

// Transport routes Send/Receive to whichever Target is currently active,
// switching active targets as health status changes.
type Transport struct {
	targets []*Target

	mu     sync.RWMutex
	active int

	reqChan chan *jsonrpc.Request
	done    chan struct{}
}

// New builds a failover Transport over targets in priority order: targets[0]
// is the primary, the rest are backups tried in order.
func New(targets ...*Target) *Transport {
	return &Transport{targets: targets, reqChan: make(chan *jsonrpc.Request, 64), done: make(chan struct{})}
}

// Start starts every target's transport and health checker, then begins
// watching for health transitions.
func (t *Transport) Start(ctx context.Context) error {
	if len(t.targets) == 0 {
		return fmt.Errorf("failover: no targets configured")
	}
	for _, tgt := range t.targets {
		if err := tgt.Transport.Start(ctx); err != nil {
			return fmt.Errorf("failover: start target %s: %w", tgt.Name, err)
		}
		if tgt.Checker != nil {
			tgt.Checker.Start(ctx)
		}
	}
	go t.bridgeActive(ctx)
	go t.watchHealth(ctx)
	return nil
}

func (t *Transport) bridgeActive(ctx context.Context) {
	defer close(t.reqChan)
	for {
		active := t.activeTarget()
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case req, ok := <-active.Transport.Receive():
			if !ok {
				continue
			}
			select {
			case t.reqChan <- req:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (t *Transport) watchHealth(ctx context.Context) {
	for i, tgt := range t.targets {
		if tgt.Checker == nil {
			continue
		}
		go func(i int, tgt *Target) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.done:
					return
				case status := <-tgt.Checker.Changes():
					t.onHealthChange(i, status)
				}
			}
		}(i, tgt)
	}
}

func (t *Transport) onHealthChange(index int, status healthcheck.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if index == t.active && status == healthcheck.Unhealthy {
		// Primary (or current active) went unhealthy: fail over to the
		// first healthy backup, preferring lower index (higher priority).
		for i, tgt := range t.targets {
			if i == index {
				continue
			}
			if tgt.Checker == nil || tgt.Checker.Status() == healthcheck.Healthy {
				t.active = i
				return
			}
		}
		return
	}

	if index < t.active && status == healthcheck.Healthy {
		// A higher-priority target recovered: fail back to it.
		t.active = index
	}
}

func (t *Transport) activeTarget() *Target {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.targets[t.active]
}

// ActiveName reports which target is currently serving traffic.
func (t *Transport) ActiveName() string {
	return t.activeTarget().Name
}

// Send delegates to the currently active target.
func (t *Transport) Send(ctx context.Context, resp *jsonrpc.Response) error {
	return t.activeTarget().Transport.Send(ctx, resp)
}

// Receive returns the bridged request channel.
func (t *Transport) Receive() <-chan *jsonrpc.Request { return t.reqChan }

// Close stops every target's transport and health checker. Idempotent per
// target, since each target's own Close is idempotent.
func (t *Transport) Close() error {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	var firstErr error
	for _, tgt := range t.targets {
		if tgt.Checker != nil {
			tgt.Checker.Stop()
		}
		if err := tgt.Transport.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// State reports the active target's connection state.
func (t *Transport) State() transport.State {
	return t.activeTarget().Transport.State()
}

// TransportType reports the currently active target's transport type.
func (t *Transport) TransportType() string {
	return t.activeTarget().Transport.TransportType()
}

// Capabilities reports the currently active target's capability set.
func (t *Transport) Capabilities() transport.Capabilities {
	return t.activeTarget().Transport.Capabilities()
}

// Metrics reports the currently active target's cumulative counters.
func (t *Transport) Metrics() transport.Metrics {
	return t.activeTarget().Transport.Metrics()
}

var _ transport.Transport = (*Transport)(nil)
