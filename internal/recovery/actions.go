package recovery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/locolabs/fleetwatch/internal/core/domain"
	"github.com/locolabs/fleetwatch/internal/infra/orchestrator"
)

// Actioner executes recovery actions against a single instance. Both
// actions must be idempotent: cycles can overlap with the orchestrator
// already acting on the same instance.
type Actioner interface {
	// RestartWorkload restarts the instance's backing workload. Under
	// Kubernetes this deletes the pod and lets the StatefulSet controller
	// reschedule it.
	RestartWorkload(ctx context.Context, inst domain.Instance) error
	// ResetNetwork asks the instance agent to rebuild its bridge and tap
	// devices without restarting the VM.
	ResetNetwork(ctx context.Context, inst domain.Instance) error
}

// KubeActioner recovers instances through the orchestrator API.
type KubeActioner struct {
	pods    orchestrator.Actioner
	network *HTTPNetworkAction
	log     *slog.Logger
}

func NewKubeActioner(pods orchestrator.Actioner, network *HTTPNetworkAction, log *slog.Logger) *KubeActioner {
	if log == nil {
		log = slog.Default()
	}
	return &KubeActioner{pods: pods, network: network, log: log}
}

func (a *KubeActioner) RestartWorkload(ctx context.Context, inst domain.Instance) error {
	a.log.Warn("restarting workload", "instance", inst.ID)
	return a.pods.DeletePod(ctx, inst.ID)
}

func (a *KubeActioner) ResetNetwork(ctx context.Context, inst domain.Instance) error {
	return a.network.ResetNetwork(ctx, inst)
}

// NetworkOnlyActioner serves static deployments with no orchestrator to
// restart workloads through. Restart requests surface as errors so the
// attempt still counts and eventually exhausts.
type NetworkOnlyActioner struct {
	network *HTTPNetworkAction
}

func NewNetworkOnlyActioner(network *HTTPNetworkAction) *NetworkOnlyActioner {
	return &NetworkOnlyActioner{network: network}
}

func (a *NetworkOnlyActioner) RestartWorkload(_ context.Context, inst domain.Instance) error {
	return fmt.Errorf("no orchestrator available to restart %s", inst.ID)
}

func (a *NetworkOnlyActioner) ResetNetwork(ctx context.Context, inst domain.Instance) error {
	return a.network.ResetNetwork(ctx, inst)
}

// HTTPNetworkAction POSTs the instance agent's network reset endpoint.
// The agent treats a reset of already-healthy devices as a no-op.
type HTTPNetworkAction struct {
	client *http.Client
}

func NewHTTPNetworkAction(timeout time.Duration) *HTTPNetworkAction {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPNetworkAction{client: &http.Client{Timeout: timeout}}
}

func (a *HTTPNetworkAction) ResetNetwork(ctx context.Context, inst domain.Instance) error {
	port := inst.Port(domain.PortHealth)
	if port == 0 {
		return fmt.Errorf("instance %s exposes no health port", inst.ID)
	}
	url := fmt.Sprintf("http://%s:%d/network/reset", inst.Host, port)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("build network reset request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("network reset %s: %w", inst.ID, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("network reset %s: unexpected status %d", inst.ID, resp.StatusCode)
	}
	return nil
}
