package orchestrator

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/locolabs/fleetwatch/internal/core/domain"
)

func emulatorEndpoints() *corev1.Endpoints {
	return &corev1.Endpoints{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "loco-emulator",
			Namespace: "loco",
			Labels: map[string]string{
				"app.kubernetes.io/component": "emulator",
			},
		},
		Subsets: []corev1.EndpointSubset{
			{
				Addresses: []corev1.EndpointAddress{
					{IP: "10.0.0.1", Hostname: "loco-emulator-0"},
					{IP: "10.0.0.2", TargetRef: &corev1.ObjectReference{Kind: "Pod", Name: "loco-emulator-1"}},
				},
				NotReadyAddresses: []corev1.EndpointAddress{
					{IP: "10.0.0.3", Hostname: "loco-emulator-2"},
				},
				Ports: []corev1.EndpointPort{
					{Name: "vnc", Port: 5901},
					{Name: "health", Port: 8080},
				},
			},
		},
	}
}

func testEndpointsClient(eps ...*corev1.Endpoints) *EndpointsClient {
	clientset := fake.NewSimpleClientset()
	for _, ep := range eps {
		_, _ = clientset.CoreV1().Endpoints("loco").Create(context.Background(), ep, metav1.CreateOptions{})
	}
	return NewEndpointsClientWithClientset(clientset, KubeConfig{
		Namespace: "loco",
		Selector: map[string]string{
			"app.kubernetes.io/component": "emulator",
		},
	})
}

func TestEndpointsListInstances(t *testing.T) {
	client := testEndpointsClient(emulatorEndpoints())

	objects, err := client.ListInstances(context.Background())
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(objects) != 3 {
		t.Fatalf("Expected 3 objects, got %d", len(objects))
	}

	byName := make(map[string]RawObject)
	for _, obj := range objects {
		byName[obj.Name] = obj
	}

	first := byName["loco-emulator-0"]
	if !first.Ready {
		t.Error("Expected loco-emulator-0 to be ready")
	}
	if first.IP != "10.0.0.1" {
		t.Errorf("Expected IP 10.0.0.1, got %s", first.IP)
	}
	if first.Ports["vnc"] != 5901 || first.Ports["health"] != 8080 {
		t.Errorf("Unexpected ports: %v", first.Ports)
	}

	// Name falls back to the target pod when the address has no hostname.
	if _, ok := byName["loco-emulator-1"]; !ok {
		t.Error("Expected loco-emulator-1 from the address target ref")
	}

	if byName["loco-emulator-2"].Ready {
		t.Error("Expected not-ready address loco-emulator-2 to be listed as not ready")
	}
}

func TestEndpointsMode(t *testing.T) {
	client := testEndpointsClient()
	if client.Mode() != domain.ModeKubernetesEndpoints {
		t.Errorf("Expected kubernetes-endpoints mode, got %s", client.Mode())
	}
}
