// Package health probes emulator instances, scores the reported health
// document, and keeps a bounded per-instance result history.
package health

import (
	"errors"
	"time"
)

// Payload mirrors the JSON health document served by each emulator
// instance. Subsystem sections are optional; a nil pointer means the
// section was absent from the document, which is distinct from a section
// reporting zero values.
type Payload struct {
	Timestamp     string             `json:"timestamp"`
	OverallStatus string             `json:"overall_status"`
	QemuHealthy   *bool              `json:"qemu_healthy"`
	Video         *VideoStatus       `json:"video"`
	Audio         *AudioStatus       `json:"audio"`
	Performance   *PerformanceStatus `json:"performance"`
	Network       *NetworkStatus     `json:"network"`
}

// VideoStatus reports the VNC/display subsystem.
type VideoStatus struct {
	VNCAvailable       bool `json:"vnc_available"`
	DisplayActive      bool `json:"display_active"`
	EstimatedFrameRate int  `json:"estimated_frame_rate"`
	VNCPort            int  `json:"vnc_port"`
}

// AudioStatus reports the PulseAudio subsystem.
type AudioStatus struct {
	PulseRunning bool `json:"pulse_running"`
	AudioDevices int  `json:"audio_devices"`
	AlsaDevices  int  `json:"alsa_devices"`
}

// PerformanceStatus reports host and emulator resource usage.
type PerformanceStatus struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
	LoadAverage float64 `json:"load_average"`
	QemuCPU     float64 `json:"qemu_cpu"`
	QemuMemory  float64 `json:"qemu_memory"`
}

// NetworkStatus reports the bridge/tap networking of the emulator.
type NetworkStatus struct {
	BridgeUp  bool  `json:"bridge_up"`
	TapUp     bool  `json:"tap_up"`
	TxPackets int64 `json:"tx_packets"`
	RxPackets int64 `json:"rx_packets"`
	TxErrors  int64 `json:"tx_errors"`
	RxErrors  int64 `json:"rx_errors"`
}

// ErrEmptyPayload marks a document carrying no recognizable subsystem.
var ErrEmptyPayload = errors.New("health: payload has no subsystem fields")

// ErrMalformedPayload marks a response that could not be decoded as a
// health document. Both sentinels identify protocol errors from an agent
// we did reach, as opposed to transport failures.
var ErrMalformedPayload = errors.New("health: malformed payload")

// Validate checks the document at the boundary before scoring.
func (p *Payload) Validate() error {
	if p.QemuHealthy == nil && p.Video == nil && p.Audio == nil &&
		p.Performance == nil && p.Network == nil {
		return ErrEmptyPayload
	}
	return nil
}

// ParsedTimestamp returns the document's own timestamp, or the zero time
// when absent or malformed.
func (p *Payload) ParsedTimestamp() time.Time {
	if p.Timestamp == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, p.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return ts
}
