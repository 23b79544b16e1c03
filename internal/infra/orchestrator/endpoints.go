package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"

	"github.com/locolabs/fleetwatch/internal/core/domain"
)

// EndpointsClient discovers fleet members through the Endpoints objects of
// labelled services. Useful when the prober should only see addresses the
// service mesh considers routable; not-ready addresses are still listed so
// unhealthy members stay visible.
type EndpointsClient struct {
	clientset kubernetes.Interface
	namespace string
	selector  string
	log       *slog.Logger
}

// NewEndpointsClient builds a client from a kubeconfig path (or in-cluster
// config when the path is empty).
func NewEndpointsClient(cfg KubeConfig) (*EndpointsClient, error) {
	restCfg, err := buildRESTConfig(cfg.KubeconfigPath, cfg.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to build rest config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return NewEndpointsClientWithClientset(clientset, cfg), nil
}

// NewEndpointsClientWithClientset wires an existing clientset; used by
// tests with the fake clientset.
func NewEndpointsClientWithClientset(clientset kubernetes.Interface, cfg KubeConfig) *EndpointsClient {
	return &EndpointsClient{
		clientset: clientset,
		namespace: cfg.Namespace,
		selector:  labels.SelectorFromSet(cfg.Selector).String(),
		log:       slog.Default().With("component", "orchestrator"),
	}
}

// ListInstances flattens every subset address of the matching Endpoints
// objects into raw objects.
func (c *EndpointsClient) ListInstances(ctx context.Context) ([]RawObject, error) {
	eps, err := c.clientset.CoreV1().Endpoints(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: c.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}

	var objects []RawObject
	for i := range eps.Items {
		for _, subset := range eps.Items[i].Subsets {
			ports := make(map[string]int, len(subset.Ports))
			for _, port := range subset.Ports {
				if port.Name != "" {
					ports[port.Name] = int(port.Port)
				}
			}
			for _, addr := range subset.Addresses {
				objects = append(objects, addressToRawObject(addr, ports, true))
			}
			for _, addr := range subset.NotReadyAddresses {
				objects = append(objects, addressToRawObject(addr, ports, false))
			}
		}
	}
	return objects, nil
}

func addressToRawObject(addr corev1.EndpointAddress, ports map[string]int, ready bool) RawObject {
	name := addr.Hostname
	if name == "" && addr.TargetRef != nil {
		name = addr.TargetRef.Name
	}
	if name == "" {
		name = addr.IP
	}

	copied := make(map[string]int, len(ports))
	for k, v := range ports {
		copied[k] = v
	}
	return RawObject{
		Name:  name,
		IP:    addr.IP,
		Ready: ready,
		Ports: copied,
	}
}

// Watch streams Endpoints change events; membership and readiness changes
// both surface as MODIFIED on the owning object.
func (c *EndpointsClient) Watch(ctx context.Context) (<-chan Event, error) {
	watcher, err := c.clientset.CoreV1().Endpoints(c.namespace).Watch(ctx, metav1.ListOptions{
		LabelSelector: c.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start endpoints watch: %w", err)
	}

	events := make(chan Event)
	go func() {
		defer close(events)
		defer watcher.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.ResultChan():
				if !ok {
					return
				}
				ep, isEndpoints := ev.Object.(*corev1.Endpoints)
				if !isEndpoints {
					continue
				}
				var eventType EventType
				switch ev.Type {
				case "ADDED":
					eventType = EventAdded
				case "MODIFIED":
					eventType = EventModified
				case "DELETED":
					eventType = EventDeleted
				default:
					continue
				}
				select {
				case events <- Event{Type: eventType, Name: ep.Name}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

// Mode reports the discovery mechanism.
func (c *EndpointsClient) Mode() domain.DiscoveryMode {
	return domain.ModeKubernetesEndpoints
}

// DeletePod restarts the backing workload of an endpoint address. For
// StatefulSet members the address hostname is the pod name, so the same
// delete-and-reschedule recovery applies.
func (c *EndpointsClient) DeletePod(ctx context.Context, name string) error {
	err := c.clientset.CoreV1().Pods(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !k8serrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete pod %s: %w", name, err)
	}
	return nil
}

var _ Client = (*EndpointsClient)(nil)
var _ Actioner = (*EndpointsClient)(nil)
