package discovery

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/locolabs/fleetwatch/internal/core/domain"

	"github.com/locolabs/fleetwatch/internal/infra/orchestrator"
)

// Normalize converts raw orchestrator objects into canonical instances,
// sorted ascending by ordinal with duplicate ordinals dropped (first one
// wins).
func Normalize(objects []orchestrator.RawObject, discoveredAt time.Time) []domain.Instance {
	instances := make([]domain.Instance, 0, len(objects))
	for _, obj := range objects {
		ports := make(map[string]int, len(obj.Ports))
		for name, port := range obj.Ports {
			ports[name] = port
		}
		instances = append(instances, domain.Instance{
			ID:             obj.Name,
			Ordinal:        ParseOrdinal(obj.Name),
			Host:           obj.IP,
			Ports:          ports,
			Ready:          obj.Ready,
			DiscoveredAt:   discoveredAt,
			LastTransition: obj.StartTime,
		})
	}

	sort.SliceStable(instances, func(i, j int) bool {
		return instances[i].Ordinal < instances[j].Ordinal
	})

	// Ordinals must be unique within a snapshot.
	deduped := instances[:0]
	seen := -1
	for _, inst := range instances {
		if inst.Ordinal == seen {
			continue
		}
		seen = inst.Ordinal
		deduped = append(deduped, inst)
	}
	return deduped
}

// ParseOrdinal extracts the stable ordinal from a StatefulSet-style name
// with a trailing -<digits> suffix. Names without one map to ordinal 0.
func ParseOrdinal(name string) int {
	idx := strings.LastIndex(name, "-")
	if idx < 0 || idx == len(name)-1 {
		return 0
	}
	ordinal, err := strconv.Atoi(name[idx+1:])
	if err != nil || ordinal < 0 {
		return 0
	}
	return ordinal
}
