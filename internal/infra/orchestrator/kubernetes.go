package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	corev1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/locolabs/fleetwatch/internal/core/domain"
)

// KubeConfig holds Kubernetes connection settings.
type KubeConfig struct {
	Namespace      string
	KubeconfigPath string
	Context        string
	Selector       map[string]string
}

// KubeClient discovers fleet members by querying pods with a label
// selector. It also implements Actioner for workload restarts.
type KubeClient struct {
	clientset kubernetes.Interface
	namespace string
	selector  string
	log       *slog.Logger
}

// NewKubeClient builds a client from a kubeconfig path (or in-cluster
// config when the path is empty).
func NewKubeClient(cfg KubeConfig) (*KubeClient, error) {
	restCfg, err := buildRESTConfig(cfg.KubeconfigPath, cfg.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to build rest config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return NewKubeClientWithClientset(clientset, cfg), nil
}

// NewKubeClientWithClientset wires an existing clientset; used by tests
// with the fake clientset.
func NewKubeClientWithClientset(clientset kubernetes.Interface, cfg KubeConfig) *KubeClient {
	return &KubeClient{
		clientset: clientset,
		namespace: cfg.Namespace,
		selector:  labels.SelectorFromSet(cfg.Selector).String(),
		log:       slog.Default().With("component", "orchestrator"),
	}
}

func buildRESTConfig(kubeconfigPath, kubeContext string) (*rest.Config, error) {
	kubeconfigPath = strings.TrimSpace(kubeconfigPath)

	if kubeconfigPath != "" {
		loadingRules := &clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfigPath}
		overrides := &clientcmd.ConfigOverrides{}
		if kubeContext != "" {
			overrides.CurrentContext = kubeContext
		}
		return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(loadingRules, overrides).ClientConfig()
	}

	if restCfg, err := rest.InClusterConfig(); err == nil {
		return restCfg, nil
	}

	// Fallback: default kubeconfig path.
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		clientcmd.NewDefaultClientConfigLoadingRules(),
		&clientcmd.ConfigOverrides{CurrentContext: kubeContext},
	).ClientConfig()
}

// ListInstances queries pods matching the selector.
func (c *KubeClient) ListInstances(ctx context.Context) ([]RawObject, error) {
	pods, err := c.clientset.CoreV1().Pods(c.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: c.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}

	objects := make([]RawObject, 0, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed {
			continue
		}
		objects = append(objects, podToRawObject(pod))
	}
	return objects, nil
}

func podToRawObject(pod *corev1.Pod) RawObject {
	obj := RawObject{
		Name:   pod.Name,
		IP:     pod.Status.PodIP,
		Ports:  make(map[string]int),
		Labels: pod.Labels,
	}

	if pod.Status.StartTime != nil {
		obj.StartTime = pod.Status.StartTime.Time
	}

	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			obj.Ready = cond.Status == corev1.ConditionTrue
			break
		}
	}

	for _, container := range pod.Spec.Containers {
		for _, port := range container.Ports {
			if port.Name != "" {
				obj.Ports[port.Name] = int(port.ContainerPort)
			}
		}
	}
	return obj
}

// Watch streams pod change events. The returned channel closes when the
// server-side watch ends; callers re-establish or fall back to polling.
func (c *KubeClient) Watch(ctx context.Context) (<-chan Event, error) {
	watcher, err := c.clientset.CoreV1().Pods(c.namespace).Watch(ctx, metav1.ListOptions{
		LabelSelector: c.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start pod watch: %w", err)
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
				pod, isPod := ev.Object.(*corev1.Pod)
				if !isPod {
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
				case events <- Event{Type: eventType, Name: pod.Name}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

// Mode reports the discovery mechanism.
func (c *KubeClient) Mode() domain.DiscoveryMode {
	return domain.ModeKubernetesPods
}

// DeletePod removes a pod so its controller reschedules it. Repeating the
// delete after the pod is gone is a no-op, which keeps recovery idempotent.
func (c *KubeClient) DeletePod(ctx context.Context, name string) error {
	err := c.clientset.CoreV1().Pods(c.namespace).Delete(ctx, name, metav1.DeleteOptions{})
	if err != nil && !k8serrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete pod %s: %w", name, err)
	}
	return nil
}

var _ Client = (*KubeClient)(nil)
var _ Actioner = (*KubeClient)(nil)
