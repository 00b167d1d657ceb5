package core

import "fmt"

type EngineEvent int

// trace events

const (
	RoundCompleted EngineEvent = iota
	ExportChanged
	SessionUp
	SessionDown
)

// phase events

const (
	PhaseStarted EngineEvent = iota + 100
	PhaseConverged
	TopologyChanged
)

// warn events

const (
	DiagnosticRaised EngineEvent = iota + 1000
	BudgetExceeded
	OscillationDetected
)

func (e EngineEvent) String() string {
	switch e {
	case RoundCompleted:
		return "RoundCompleted"
	case ExportChanged:
		return "ExportChanged"
	case SessionUp:
		return "SessionUp"
	case SessionDown:
		return "SessionDown"
	case PhaseStarted:
		return "PhaseStarted"
	case PhaseConverged:
		return "PhaseConverged"
	case TopologyChanged:
		return "TopologyChanged"
	case DiagnosticRaised:
		return "DiagnosticRaised"
	case BudgetExceeded:
		return "BudgetExceeded"
	case OscillationDetected:
		return "OscillationDetected"
	}
	return fmt.Sprintf("EngineEvent(%d)", int(e))
}
