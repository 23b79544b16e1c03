// Package recovery classifies unhealthy instances and drives bounded,
// idempotent recovery actions against them.
package recovery

import "github.com/locolabs/fleetwatch/internal/core/domain"

// issueCategory maps each issue tag to the failure side it implicates.
// Rules are independent of evaluation order: the final category only
// depends on which sides appear in the issue set.
var issueCategory = map[domain.IssueTag]domain.FailureType{
	domain.IssueQemuDown:       domain.FailureQemu,
	domain.IssueVNCUnavailable: domain.FailureQemu,
	domain.IssueLowFrameRate:   domain.FailureQemu,
	domain.IssueAudioDown:      domain.FailureQemu,
	domain.IssueHighCPU:        domain.FailureQemu,
	domain.IssueHighMemory:     domain.FailureQemu,

	domain.IssueNetworkDown:        domain.FailureNetwork,
	domain.IssueHighTxErrors:       domain.FailureNetwork,
	domain.IssueUnreachable:        domain.FailureNetwork,
	domain.IssueCircuitBreakerOpen: domain.FailureNetwork,

	domain.IssueInvalidPayload: domain.FailureClient,
}

// Classify derives a failure category from the latest health result. Each
// rule is evaluated independently; the final category only depends on which
// sides the issue set implicates, never on tag order.
func Classify(result domain.HealthResult) domain.Classification {
	classification := domain.Classification{
		InstanceID:  result.InstanceID,
		FailureType: domain.FailureNone,
		Issues:      result.Issues,
	}

	var qemuSide, networkSide, clientSide bool
	for _, issue := range result.Issues {
		switch issueCategory[issue] {
		case domain.FailureQemu:
			qemuSide = true
		case domain.FailureNetwork:
			networkSide = true
		case domain.FailureClient:
			clientSide = true
		}
	}

	switch {
	case qemuSide && networkSide:
		classification.FailureType = domain.FailureMixed
	case qemuSide:
		classification.FailureType = domain.FailureQemu
	case networkSide:
		classification.FailureType = domain.FailureNetwork
	case clientSide:
		classification.FailureType = domain.FailureClient
	}

	switch classification.FailureType {
	case domain.FailureNetwork, domain.FailureQemu, domain.FailureMixed, domain.FailureClient:
		classification.RecoveryNeeded = true
	}
	return classification
}
