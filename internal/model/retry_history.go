package model

import (
	"slices"

	v1 "recoverflow/pkg/api/v1"
)

// RetryHistory is the singleton ledger of completed retry operations.
// HistoricOperations is ordered newest first.
type RetryHistory struct {
	HistoricOperations       []v1.HistoricRetryOperation       `json:"historic_operations"`
	UnacknowledgedOperations []v1.UnacknowledgedRetryOperation `json:"unacknowledged_operations"`
}

func (h *RetryHistory) hasHistoric(requestID string, retryType v1.RetryType) bool {
	return slices.ContainsFunc(h.HistoricOperations, func(op v1.HistoricRetryOperation) bool {
		return op.RequestID == requestID && op.RetryType == retryType
	})
}

func (h *RetryHistory) hasUnacknowledged(requestID string, retryType v1.RetryType) bool {
	return slices.ContainsFunc(h.UnacknowledgedOperations, func(op v1.UnacknowledgedRetryOperation) bool {
		return op.RequestID == requestID && op.RetryType == retryType
	})
}

// AddToHistory prepends op and trims the list to depth. Recording the same
// operation twice is a no-op.
func (h *RetryHistory) AddToHistory(op v1.HistoricRetryOperation, depth int) bool {
	if h.hasHistoric(op.RequestID, op.RetryType) {
		return false
	}
	h.HistoricOperations = append([]v1.HistoricRetryOperation{op}, h.HistoricOperations...)
	if depth > 0 && len(h.HistoricOperations) > depth {
		h.HistoricOperations = h.HistoricOperations[:depth]
	}
	return true
}

func (h *RetryHistory) AddToUnacknowledged(op v1.UnacknowledgedRetryOperation) bool {
	if h.hasUnacknowledged(op.RequestID, op.RetryType) {
		return false
	}
	h.UnacknowledgedOperations = append(h.UnacknowledgedOperations, op)
	return true
}

func (h *RetryHistory) Acknowledge(requestID string, retryType v1.RetryType) bool {
	idx := slices.IndexFunc(h.UnacknowledgedOperations, func(op v1.UnacknowledgedRetryOperation) bool {
		return op.RequestID == requestID && op.RetryType == retryType
	})
	if idx < 0 {
		return false
	}
	h.UnacknowledgedOperations = slices.Delete(h.UnacknowledgedOperations, idx, idx+1)
	return true
}

func (h *RetryHistory) View() v1.RetryHistoryView {
	return v1.RetryHistoryView{
		HistoricOperations:       slices.Clone(h.HistoricOperations),
		UnacknowledgedOperations: slices.Clone(h.UnacknowledgedOperations),
	}
}
