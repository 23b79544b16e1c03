package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/locolabs/fleetwatch/internal/core/domain"
	"github.com/locolabs/fleetwatch/internal/metrics"
)

// AlertSender is the subset of the alert sink the orchestrator needs.
type AlertSender interface {
	Send(ctx context.Context, severity domain.Severity, message, instanceID string, meta map[string]string)
}

// Orchestrator decides whether and how to recover an instance from its
// latest classification. One instance is handled at a time per cycle; the
// attempt counter bounds how often actions fire before the instance is
// declared exhausted and handed to operators.
type Orchestrator struct {
	tracker  *Tracker
	actioner Actioner
	alerts   AlertSender
	log      *slog.Logger

	// alerted remembers instances whose exhaustion alert already fired so
	// the critical alert is raised once per exhaustion episode.
	mu      sync.Mutex
	alerted map[string]bool
}

func NewOrchestrator(tracker *Tracker, actioner Actioner, alerts AlertSender, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		tracker:  tracker,
		actioner: actioner,
		alerts:   alerts,
		log:      log,
		alerted:  make(map[string]bool),
	}
}

// State exposes the instance's recovery lifecycle phase.
func (o *Orchestrator) State(id string) domain.RecoveryState {
	return o.tracker.State(id)
}

// HandleResult applies the recovery policy for one instance. A healthy
// classification or a successfully dispatched action resets the attempt
// counter; only failing actions accumulate. An exhausted instance gets a
// single critical alert and no further actions until a healthy probe or a
// successful action clears it.
func (o *Orchestrator) HandleResult(ctx context.Context, inst domain.Instance, c domain.Classification) {
	if !c.RecoveryNeeded {
		if o.tracker.Attempts(inst.ID) > 0 {
			o.log.Info("instance recovered", "instance", inst.ID)
		}
		o.tracker.Reset(inst.ID)
		o.mu.Lock()
		delete(o.alerted, inst.ID)
		o.mu.Unlock()
		return
	}

	if o.tracker.Exhausted(inst.ID) {
		if o.markAlerted(inst.ID) {
			o.log.Error("recovery attempts exhausted", "instance", inst.ID, "failure_type", c.FailureType)
			if o.alerts != nil {
				o.alerts.Send(ctx, domain.SeverityCritical,
					fmt.Sprintf("instance %s exhausted recovery attempts (%s failure), manual intervention required", inst.ID, c.FailureType),
					inst.ID, map[string]string{"failure_type": string(c.FailureType)})
			}
		}
		return
	}

	attempt := o.tracker.Increment(inst.ID)
	o.log.Warn("attempting recovery",
		"instance", inst.ID,
		"failure_type", c.FailureType,
		"attempt", attempt,
		"issues", c.Issues)
	if o.alerts != nil && attempt == 1 {
		o.alerts.Send(ctx, domain.SeverityWarning,
			fmt.Sprintf("recovery started for instance %s (%s failure)", inst.ID, c.FailureType),
			inst.ID, map[string]string{"failure_type": string(c.FailureType)})
	}

	action, err := o.dispatch(ctx, inst, c.FailureType)
	result := "success"
	if err != nil {
		result = "failure"
	}
	metrics.RecoveryAttemptsTotal.WithLabelValues(inst.ID, action, result).Inc()

	if err != nil {
		// Counter stays for the next cycle; repeated failures exhaust.
		o.log.Error("recovery action failed",
			"instance", inst.ID, "action", action, "attempt", attempt, "error", err)
		return
	}

	// The action succeeded, so the instance is back in the controller's
	// hands: clear the counter and rearm the exhaustion alert.
	o.tracker.Reset(inst.ID)
	o.mu.Lock()
	delete(o.alerted, inst.ID)
	o.mu.Unlock()
	o.log.Info("recovery action dispatched", "instance", inst.ID, "action", action, "attempt", attempt)
}

// markAlerted flips the exhaustion flag and reports whether this caller
// was first, so the critical alert fires exactly once per episode.
func (o *Orchestrator) markAlerted(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.alerted[id] {
		return false
	}
	o.alerted[id] = true
	return true
}

// dispatch runs the strategy for a failure category and returns the action
// label used in logs and metrics. Mixed failures try the cheap network
// reset first and only restart the workload if that dispatch fails.
func (o *Orchestrator) dispatch(ctx context.Context, inst domain.Instance, ft domain.FailureType) (string, error) {
	switch ft {
	case domain.FailureNetwork:
		return "reset_network", o.actioner.ResetNetwork(ctx, inst)
	case domain.FailureQemu:
		return "restart_workload", o.actioner.RestartWorkload(ctx, inst)
	case domain.FailureMixed:
		if err := o.actioner.ResetNetwork(ctx, inst); err == nil {
			return "reset_network", nil
		}
		return "restart_workload", o.actioner.RestartWorkload(ctx, inst)
	case domain.FailureClient:
		// Client-side trouble is not fixable from here. Record the attempt
		// so a persistently broken agent still surfaces as exhausted.
		o.log.Warn("client-side failure, no action taken", "instance", inst.ID)
		return "none", fmt.Errorf("client failure for %s is not actionable", inst.ID)
	default:
		return "none", fmt.Errorf("no strategy for failure type %q", ft)
	}
}
