// Package orchestrator abstracts the cluster control plane the fleet runs
// on. The discovery cache only depends on the Client interface; concrete
// implementations cover Kubernetes pod queries and static endpoint lists.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/locolabs/fleetwatch/internal/core/domain"
)

// ErrWatchUnsupported is returned by Watch when the backing source cannot
// stream change events. Callers degrade to polling; this is never fatal.
var ErrWatchUnsupported = errors.New("orchestrator: watch not supported")

// EventType describes a change to a fleet member.
type EventType string

const (
	EventAdded    EventType = "added"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
)

// Event is a change notification for a single resource.
type Event struct {
	Type EventType
	Name string
}

// RawObject is the orchestrator's view of one fleet member before
// normalization into a domain.Instance.
type RawObject struct {
	Name      string
	IP        string
	Ready     bool
	Ports     map[string]int
	StartTime time.Time
	Labels    map[string]string
}

// Client lists and watches fleet members.
type Client interface {
	// ListInstances returns the raw objects matching the client's selector.
	ListInstances(ctx context.Context) ([]RawObject, error)

	// Watch streams change events until ctx is cancelled. Implementations
	// that cannot watch return ErrWatchUnsupported.
	Watch(ctx context.Context) (<-chan Event, error)

	// Mode identifies the discovery mechanism for status reporting.
	Mode() domain.DiscoveryMode
}

// Actioner performs recovery operations against the control plane.
type Actioner interface {
	// DeletePod removes the named pod so its controller reschedules it.
	// Deleting an already-absent pod is not an error.
	DeletePod(ctx context.Context, name string) error
}
