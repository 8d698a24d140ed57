package migrate

import "fmt"

// State is the position of a Runner within a run.
type State uint8

const (
	Idle State = iota
	SchemaEnsured
	LedgerReady
	Applying
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case SchemaEnsured:
		return "schema-ensured"
	case LedgerReady:
		return "ledger-ready"
	case Applying:
		return "applying"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Terminal reports whether no further transition is allowed out of s.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// Runs never skip SchemaEnsured or LedgerReady. Failed is reachable from
// every non-terminal state so that provisioning errors also end the run.
var transitions = map[State][]State{
	Idle:          {SchemaEnsured, Failed},
	SchemaEnsured: {LedgerReady, Failed},
	LedgerReady:   {Applying, Done, Failed},
	Applying:      {Applying, Done, Failed},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
