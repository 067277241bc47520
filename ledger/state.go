/*
state.go - Grant approval state machine

PURPOSE:
  Every grant carries an explicit state. Legal moves are listed in a
  transition table per chain length; anything not in the table is an
  InvalidState error. Nullable audit timestamps are derived from the
  transition, never inspected to decide legality.

STATE DIAGRAM (one step, points):

    pending --verify--> verified*
    pending --reject--> rejected

STATE DIAGRAM (two steps, overtime):

    pending  --verify-----> verified
    pending  --reject-----> rejected
    verified --approve----> approved*
    verified --disapprove-> disapproved

  (*) effective: counts toward the receiver's balance.

TERMINAL STATES:
  A state with no outgoing transition is terminal. For one-step chains
  this makes "verified" terminal; for two-step chains it does not.

SEE ALSO:
  - kind.go: Selects the machine via Kind.Steps
  - workflow.go: Drives transitions inside a store transaction
*/
package ledger

// State is the approval state of a grant.
type State string

const (
	StatePending     State = "pending"
	StateVerified    State = "verified"
	StateRejected    State = "rejected"
	StateApproved    State = "approved"
	StateDisapproved State = "disapproved"
)

// Action is an approval decision applied to a grant.
type Action string

const (
	ActionVerify     Action = "verify"
	ActionReject     Action = "reject"
	ActionApprove    Action = "approve"
	ActionDisapprove Action = "disapprove"
)

// VerifyAction maps an accept/reject decision to a first-step action.
func VerifyAction(accept bool) Action {
	if accept {
		return ActionVerify
	}
	return ActionReject
}

// ApproveAction maps an accept/reject decision to a second-step action.
func ApproveAction(accept bool) Action {
	if accept {
		return ActionApprove
	}
	return ActionDisapprove
}

// =============================================================================
// MACHINE
// =============================================================================

type edge struct {
	from   State
	action Action
}

// Machine is a transition table for one chain length.
type Machine struct {
	steps     int
	table     map[edge]State
	effective State
}

var (
	singleStep = &Machine{
		steps: 1,
		table: map[edge]State{
			{StatePending, ActionVerify}: StateVerified,
			{StatePending, ActionReject}: StateRejected,
		},
		effective: StateVerified,
	}

	twoStep = &Machine{
		steps: 2,
		table: map[edge]State{
			{StatePending, ActionVerify}:      StateVerified,
			{StatePending, ActionReject}:      StateRejected,
			{StateVerified, ActionApprove}:    StateApproved,
			{StateVerified, ActionDisapprove}: StateDisapproved,
		},
		effective: StateApproved,
	}
)

func machineFor(steps int) *Machine {
	if steps > 1 {
		return twoStep
	}
	return singleStep
}

// Next returns the state reached by applying action in from.
func (m *Machine) Next(from State, action Action) (State, bool) {
	to, ok := m.table[edge{from, action}]
	return to, ok
}

// Terminal reports whether no action is legal from s.
func (m *Machine) Terminal(s State) bool {
	for e := range m.table {
		if e.from == s {
			return false
		}
	}
	return true
}

// Effective reports whether s is the chain's affirmative terminal state.
func (m *Machine) Effective(s State) bool {
	return s == m.effective
}

// Actioned reports whether any step of the chain has been taken.
func (m *Machine) Actioned(s State) bool {
	return s != StatePending
}

// States lists every state reachable in this machine.
func (m *Machine) States() []State {
	if m.steps > 1 {
		return []State{StatePending, StateVerified, StateRejected, StateApproved, StateDisapproved}
	}
	return []State{StatePending, StateVerified, StateRejected}
}
