package domain

import "time"

// SnapshotSource indicates whether a discovery snapshot came from a live
// orchestrator query or is a stale copy served because the query failed.
type SnapshotSource string

const (
	SourceLive           SnapshotSource = "live"
	SourceCachedFallback SnapshotSource = "cached-fallback"
)

// DiscoveryMode identifies how instances were discovered.
type DiscoveryMode string

const (
	ModeKubernetesPods      DiscoveryMode = "kubernetes-pods"
	ModeKubernetesEndpoints DiscoveryMode = "kubernetes-endpoints"
	ModeStatic              DiscoveryMode = "static"
)

// Well-known named ports on an emulator instance.
const (
	PortVNC        = "vnc"
	PortHealth     = "health"
	PortWebsockify = "websockify"
)

// Instance is an immutable record of a single fleet member as seen during
// one discovery cycle. A later cycle supersedes it with a new record under
// the same ID; instances are never mutated in place.
type Instance struct {
	ID             string         `json:"id"`
	Ordinal        int            `json:"ordinal"`
	Host           string         `json:"host"`
	Ports          map[string]int `json:"ports"`
	Ready          bool           `json:"ready"`
	DiscoveredAt   time.Time      `json:"discovered_at"`
	LastTransition time.Time      `json:"last_transition"`
}

// Port returns the named port, or 0 if the instance does not expose it.
func (i Instance) Port(name string) int {
	return i.Ports[name]
}

// DiscoverySnapshot is an ordered view of the fleet at a point in time.
// Instances are sorted ascending by ordinal and ordinals are unique.
type DiscoverySnapshot struct {
	Instances []Instance     `json:"instances"`
	FetchedAt time.Time      `json:"fetched_at"`
	Source    SnapshotSource `json:"source"`
	Mode      DiscoveryMode  `json:"mode"`
}

// SnapshotStats summarizes readiness across a snapshot.
type SnapshotStats struct {
	Total    int `json:"total"`
	Ready    int `json:"ready"`
	NotReady int `json:"notReady"`
}

// Stats counts ready and not-ready instances.
func (s DiscoverySnapshot) Stats() SnapshotStats {
	stats := SnapshotStats{Total: len(s.Instances)}
	for _, inst := range s.Instances {
		if inst.Ready {
			stats.Ready++
		} else {
			stats.NotReady++
		}
	}
	return stats
}
