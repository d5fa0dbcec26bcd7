package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scadaflow/internal/logger"
	"scadaflow/pkg/models"
)

// ActionFunc executes one dispatcher action for an alert.
type ActionFunc func(ctx context.Context, alert *models.AlertEvent) error

// Config wires the concrete action implementations. A nil func means
// the action is not configured; requesting it is then a failure, since
// an operator asked for something the deployment cannot deliver.
type Config struct {
	Notify         ActionFunc
	ForwardToSIEM  ActionFunc
	CreateIncident ActionFunc
	Escalate       ActionFunc

	// OnActionFailure is called per failed action, for metrics.
	OnActionFailure func(action string)

	Timeout time.Duration
}

const defaultActionTimeout = 10 * time.Second

// Dispatcher runs the actions an alert requests. Every action is
// attempted regardless of earlier failures; ActionsTaken ends up with
// exactly the ones that succeeded.
type Dispatcher struct {
	actions   map[string]ActionFunc
	onFailure func(string)
	timeout   time.Duration

	mu       sync.Mutex
	failures map[string]int
}

func New(cfg Config) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	return &Dispatcher{
		actions: map[string]ActionFunc{
			"notify":          cfg.Notify,
			"forward_to_siem": cfg.ForwardToSIEM,
			"create_incident": cfg.CreateIncident,
			"escalate":        cfg.Escalate,
		},
		onFailure: cfg.OnActionFailure,
		timeout:   timeout,
		failures:  make(map[string]int),
	}
}

// Dispatch attempts every requested action of the alert. It mutates
// alert.ActionsTaken to the successful subset and returns an error
// summarizing the failures, if any. A partial result is not rolled
// back; a notification that went out stays out.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.AlertEvent) error {
	var failed []string
	alert.ActionsTaken = alert.ActionsTaken[:0]
	for _, name := range alert.Actions {
		if err := d.run(ctx, name, alert); err != nil {
			logger.Errorf("dispatch: action %s failed for alert %s: %v", name, alert.AlertID, err)
			failed = append(failed, name)
			d.recordFailure(name)
			continue
		}
		alert.ActionsTaken = append(alert.ActionsTaken, name)
	}
	if len(failed) > 0 {
		return fmt.Errorf("alert %s: %d of %d actions failed: %v",
			alert.AlertID, len(failed), len(alert.Actions), failed)
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, name string, alert *models.AlertEvent) error {
	fn := d.actions[name]
	if fn == nil {
		return fmt.Errorf("action %s is not configured", name)
	}
	actionCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return fn(actionCtx, alert)
}

func (d *Dispatcher) recordFailure(name string) {
	d.mu.Lock()
	d.failures[name]++
	d.mu.Unlock()
	if d.onFailure != nil {
		d.onFailure(name)
	}
}

// FailureCounts returns a copy of the per-action failure counters, used
// by the health endpoint to surface degraded alerting.
func (d *Dispatcher) FailureCounts() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.failures))
	for k, v := range d.failures {
		out[k] = v
	}
	return out
}
