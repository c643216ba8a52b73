// Package lifecycle implements the service-lifecycle/health state machine
// embedded in both the submitter and worker processes: a starting/ready/
// degraded/stopping/stopped/crashed state machine, debounced dependency
// health, and the capabilities descriptor announced at the points spec.md
// §4.3 names (starting, entering ready, feature-flag change, shutdown).
package lifecycle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/watermark-removal/internal/domain"
)

// State is one node of the lifecycle state machine.
type State string

// Lifecycle states (spec.md §4.3).
const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateDegraded State = "degraded"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateCrashed  State = "crashed"
)

// DependencyCheck declares one probeable external dependency.
type DependencyCheck struct {
	Name               string
	Required           bool
	MinProtocolVersion int
	Probe              func(ctx context.Context) error
}

// DependencyStatus is the per-dependency view exposed on /readyz.
type DependencyStatus struct {
	Name                 string `json:"name"`
	Required             bool   `json:"required"`
	Up                   bool   `json:"up"`
	ConsecutiveSuccesses int    `json:"consecutive_successes"`
	ConsecutiveFailures  int    `json:"consecutive_failures"`
	LastError            string `json:"last_error,omitempty"`
}

// debounceCount is the number of consecutive identical probe results
// required before a dependency's up/down flag flips (spec.md §4.3
// "Dependency probes").
const debounceCount = 2

type dependencyState struct {
	check                DependencyCheck
	mu                   sync.Mutex
	up                   bool
	consecutiveSuccesses int
	consecutiveFailures  int
	lastErr              error
}

func (d *dependencyState) record(err error) (changed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastErr = err
	if err == nil {
		d.consecutiveSuccesses++
		d.consecutiveFailures = 0
		if !d.up && d.consecutiveSuccesses >= debounceCount {
			d.up = true
			changed = true
		}
	} else {
		d.consecutiveFailures++
		d.consecutiveSuccesses = 0
		if d.up && d.consecutiveFailures >= debounceCount {
			d.up = false
			changed = true
		}
	}
	return changed
}

func (d *dependencyState) status() DependencyStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := DependencyStatus{
		Name:                 d.check.Name,
		Required:             d.check.Required,
		Up:                   d.up,
		ConsecutiveSuccesses: d.consecutiveSuccesses,
		ConsecutiveFailures:  d.consecutiveFailures,
	}
	if d.lastErr != nil {
		s.LastError = d.lastErr.Error()
	}
	return s
}

// Controller owns the state machine, the dependency probe loops, and the
// capabilities descriptor for one process (submitter or worker).
type Controller struct {
	service    string
	runID      string
	instanceID string
	startedAt  time.Time
	logger     *slog.Logger

	registryURL string
	httpClient  *http.Client

	mu    sync.RWMutex
	state State
	deps  []*dependencyState

	descriptorMu sync.RWMutex
	descriptor   domain.CapabilitiesDescriptor

	probeInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// New constructs a Controller in StateStarting. Call Start to begin
// dependency probe loops and announce the capabilities descriptor.
func New(service, runID, instanceID string, descriptor domain.CapabilitiesDescriptor, checks []DependencyCheck, registryURL string, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	deps := make([]*dependencyState, 0, len(checks))
	for _, c := range checks {
		deps = append(deps, &dependencyState{check: c})
	}
	return &Controller{
		service:       service,
		runID:         runID,
		instanceID:    instanceID,
		startedAt:     time.Now(),
		logger:        logger,
		registryURL:   registryURL,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
		state:         StateStarting,
		deps:          deps,
		descriptor:    descriptor,
		probeInterval: 5 * time.Second,
		stopCh:        make(chan struct{}),
	}
}

// Start announces STARTING, launches one probe loop per dependency (spec.md
// §4.4 "Lifecycle Controller runs one probe loop per dependency"), and
// transitions to ready once every required dependency is up (or immediately,
// if there are no required dependencies).
func (c *Controller) Start(ctx context.Context) {
	c.announce("starting")
	for _, d := range c.deps {
		go c.probeLoop(ctx, d)
	}
	if c.allRequiredUp() {
		c.transition(StateReady, "initial dependencies satisfied")
	}
}

func (c *Controller) probeLoop(ctx context.Context, d *dependencyState) {
	ticker := time.NewTicker(c.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			err := d.check.Probe(ctx)
			if d.record(err) {
				c.onDependencyFlip(d, err == nil)
			}
		}
	}
}

func (c *Controller) onDependencyFlip(d *dependencyState, up bool) {
	c.logger.Info("dependency state changed",
		slog.String("dependency", d.check.Name),
		slog.Bool("up", up))

	if !d.check.Required {
		return
	}
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()

	switch {
	case state == StateReady && !up:
		c.transition(StateDegraded, "required dependency "+d.check.Name+" went down")
	case state == StateDegraded && up && c.allRequiredUp():
		c.transition(StateReady, "all required dependencies recovered")
	}
}

func (c *Controller) allRequiredUp() bool {
	for _, d := range c.deps {
		if !d.check.Required {
			continue
		}
		d.mu.Lock()
		up := d.up
		d.mu.Unlock()
		if !up {
			return false
		}
	}
	return true
}

// transition moves the state machine to next, emitting the structured
// lifecycle log record (spec.md §4.3) and re-announcing capabilities on
// entering ready.
func (c *Controller) transition(next State, reason string) {
	c.mu.Lock()
	prev := c.state
	if prev == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	c.mu.Unlock()

	c.logger.Info("lifecycle transition",
		slog.String("service", c.service),
		slog.String("event", "state_transition"),
		slog.String("state", string(next)),
		slog.String("previous_state", string(prev)),
		slog.String("reason", reason),
		slog.String("run_id", c.runID),
		slog.Int64("uptime_ms", time.Since(c.startedAt).Milliseconds()))

	if next == StateReady {
		c.announce("entering_ready")
	}
}

// Stop transitions to stopping, announces capabilities one final time, then
// to stopped, and halts the dependency probe loops.
func (c *Controller) Stop() {
	c.transition(StateStopping, "shutdown requested")
	c.announce("shutdown")
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.transition(StateStopped, "shutdown complete")
}

// Crash records an unrecoverable failure, transitioning straight to crashed.
func (c *Controller) Crash(reason string) {
	c.transition(StateCrashed, reason)
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Uptime returns the duration since the controller was constructed.
func (c *Controller) Uptime() time.Duration { return time.Since(c.startedAt) }

// Dependencies returns the current per-dependency status snapshot.
func (c *Controller) Dependencies() []DependencyStatus {
	out := make([]DependencyStatus, 0, len(c.deps))
	for _, d := range c.deps {
		out = append(out, d.status())
	}
	return out
}

// Descriptor returns a copy of the current capabilities descriptor.
func (c *Controller) Descriptor() domain.CapabilitiesDescriptor {
	c.descriptorMu.RLock()
	defer c.descriptorMu.RUnlock()
	return c.descriptor
}

// SetFeature updates one feature flag on the descriptor and re-announces it
// (spec.md §4.3 "on any feature-flag change"). Receivers must not cache the
// descriptor across such announcements.
func (c *Controller) SetFeature(name string, value any) {
	c.descriptorMu.Lock()
	if c.descriptor.Features == nil {
		c.descriptor.Features = make(map[string]any)
	}
	c.descriptor.Features[name] = value
	c.descriptorMu.Unlock()
	c.announce("feature_flag_change")
}

// announce POSTs the current descriptor to the configured registry URL, if
// any. Registry failures are logged and never change local state.
func (c *Controller) announce(trigger string) {
	desc := c.Descriptor()
	c.logger.Info("capabilities announcement",
		slog.String("trigger", trigger),
		slog.String("service", c.service),
		slog.String("state", string(c.State())))

	if c.registryURL == "" {
		return
	}
	b, err := json.Marshal(desc)
	if err != nil {
		c.logger.Warn("failed to marshal capabilities descriptor", slog.Any("error", err))
		return
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	err = backoff.Retry(func() error {
		req, reqErr := http.NewRequest(http.MethodPost, c.registryURL, bytes.NewReader(b))
		if reqErr != nil {
			return backoff.Permanent(reqErr)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, doErr := c.httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return fmt.Errorf("registry returned %d", resp.StatusCode)
		}
		return nil
	}, bo)
	if err != nil {
		c.logger.Warn("capabilities registry announcement failed", slog.Any("error", err))
	}
}
