package hsm

import "streamwsm/internal/model"

// Advisory ordering only: the ledger accepts any recognized status, but the
// API layer consults this table to warn callers walking backwards.
var streamTransitions = map[model.StreamStatus]map[model.StreamStatus]bool{
	model.StreamStatusInitializing: {
		model.StreamStatusActive: true,
	},
	model.StreamStatusActive: {
		model.StreamStatusBlocked:   true,
		model.StreamStatusPaused:    true,
		model.StreamStatusCompleted: true,
	},
	model.StreamStatusBlocked: {
		model.StreamStatusActive:    true,
		model.StreamStatusPaused:    true,
		model.StreamStatusCompleted: true,
	},
	model.StreamStatusPaused: {
		model.StreamStatusActive:    true,
		model.StreamStatusBlocked:   true,
		model.StreamStatusCompleted: true,
	},
	model.StreamStatusCompleted: {
		model.StreamStatusArchived: true,
	},
}

func CanTransitionStream(from model.StreamStatus, to model.StreamStatus) bool {
	if from == to {
		return true
	}
	return streamTransitions[from][to]
}

func TerminalStatus(status model.StreamStatus) bool {
	return status == model.StreamStatusCompleted || status == model.StreamStatusArchived
}
