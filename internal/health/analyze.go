package health

import "github.com/locolabs/fleetwatch/internal/core/domain"

// Fixed score deductions per detected issue. The accumulation is
// order-independent: every triggered deduction applies exactly once.
const (
	penaltyQemuDown       = 30
	penaltyHighCPU        = 15
	penaltyHighMemory     = 15
	penaltyVNCUnavailable = 20
	penaltyLowFrameRate   = 10
	penaltyAudioDown      = 15
	penaltyNetworkDown    = 10
	penaltyHighTxErrors   = 5

	minUsableFrameRate = 5
	txErrorRateLimit   = 0.01
)

// Analyzer turns a health document into a composite score and issue list.
type Analyzer struct {
	CPUThreshold    float64
	MemoryThreshold float64
}

// NewAnalyzer applies default thresholds for zero values.
func NewAnalyzer(cpuThreshold, memoryThreshold float64) Analyzer {
	if cpuThreshold == 0 {
		cpuThreshold = 90
	}
	if memoryThreshold == 0 {
		memoryThreshold = 90
	}
	return Analyzer{CPUThreshold: cpuThreshold, MemoryThreshold: memoryThreshold}
}

// Analyze scores a payload deterministically: identical documents produce
// identical scores and issue sets. Absent subsystems contribute nothing.
func (a Analyzer) Analyze(p *Payload) (int, []domain.IssueTag, domain.SLAStatus) {
	score := 100
	var issues []domain.IssueTag

	deduct := func(tag domain.IssueTag, penalty int) {
		issues = append(issues, tag)
		score -= penalty
	}

	if p.QemuHealthy != nil && !*p.QemuHealthy {
		deduct(domain.IssueQemuDown, penaltyQemuDown)
	}

	if p.Performance != nil {
		if p.Performance.CPUUsage > a.CPUThreshold {
			deduct(domain.IssueHighCPU, penaltyHighCPU)
		}
		if p.Performance.MemoryUsage > a.MemoryThreshold {
			deduct(domain.IssueHighMemory, penaltyHighMemory)
		}
	}

	if p.Video != nil {
		if !p.Video.VNCAvailable {
			deduct(domain.IssueVNCUnavailable, penaltyVNCUnavailable)
		}
		if p.Video.DisplayActive && p.Video.EstimatedFrameRate < minUsableFrameRate {
			deduct(domain.IssueLowFrameRate, penaltyLowFrameRate)
		}
	}

	if p.Audio != nil && !p.Audio.PulseRunning {
		deduct(domain.IssueAudioDown, penaltyAudioDown)
	}

	if p.Network != nil {
		if !p.Network.BridgeUp || !p.Network.TapUp {
			deduct(domain.IssueNetworkDown, penaltyNetworkDown)
		}
		if p.Network.TxPackets > 0 {
			rate := float64(p.Network.TxErrors) / float64(p.Network.TxPackets)
			if rate > txErrorRateLimit {
				deduct(domain.IssueHighTxErrors, penaltyHighTxErrors)
			}
		}
	}

	if score < 0 {
		score = 0
	}
	return score, issues, domain.SLAForScore(score)
}
