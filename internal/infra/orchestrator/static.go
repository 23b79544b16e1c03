package orchestrator

import (
	"context"
	"time"

	"github.com/locolabs/fleetwatch/internal/core/domain"
)

// StaticEndpoint is one fixed fleet member for orchestrator-less setups.
type StaticEndpoint struct {
	Name  string
	Host  string
	Ports map[string]int
}

// StaticClient serves a fixed instance list. Watch is unsupported; the
// discovery cache runs in polling-only mode.
type StaticClient struct {
	endpoints []StaticEndpoint
	started   time.Time
}

// NewStaticClient builds a client over a fixed endpoint list.
func NewStaticClient(endpoints []StaticEndpoint) *StaticClient {
	return &StaticClient{
		endpoints: endpoints,
		started:   time.Now(),
	}
}

// ListInstances returns the configured endpoints. Static members are
// always considered ready; the health prober decides otherwise.
func (c *StaticClient) ListInstances(ctx context.Context) ([]RawObject, error) {
	objects := make([]RawObject, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		ports := make(map[string]int, len(ep.Ports))
		for name, port := range ep.Ports {
			ports[name] = port
		}
		objects = append(objects, RawObject{
			Name:      ep.Name,
			IP:        ep.Host,
			Ready:     true,
			Ports:     ports,
			StartTime: c.started,
		})
	}
	return objects, nil
}

// Watch is unsupported for static lists.
func (c *StaticClient) Watch(ctx context.Context) (<-chan Event, error) {
	return nil, ErrWatchUnsupported
}

// Mode reports the discovery mechanism.
func (c *StaticClient) Mode() domain.DiscoveryMode {
	return domain.ModeStatic
}

var _ Client = (*StaticClient)(nil)
