package registry

// StakeState is the lifecycle state of an auditor's stake.
type StakeState string

const (
	StakeUnstaked  StakeState = "unstaked"
	StakeStaked    StakeState = "staked"
	StakeUnbonding StakeState = "unbonding"
	// StakeSlashed is terminal until an admin reinstates the auditor.
	StakeSlashed StakeState = "slashed"
)

// stakeEvent names a lifecycle transition.
type stakeEvent string

const (
	evStake     stakeEvent = "stake"
	evUnstake   stakeEvent = "request_unstake"
	evWithdraw  stakeEvent = "withdraw"
	evSlash     stakeEvent = "slash"
	evReinstate stakeEvent = "reinstate"
)

// stakeTransitions lists the legal moves; anything absent is rejected.
var stakeTransitions = map[StakeState]map[stakeEvent]StakeState{
	StakeUnstaked: {
		evStake: StakeStaked,
	},
	StakeStaked: {
		evStake:   StakeStaked,
		evUnstake: StakeUnbonding,
		evSlash:   StakeSlashed,
	},
	StakeUnbonding: {
		evStake:    StakeStaked,
		evWithdraw: StakeUnstaked,
		evSlash:    StakeSlashed,
	},
	StakeSlashed: {
		evReinstate: StakeUnstaked,
	},
}

// next returns the target state for ev, or the error describing why the
// transition is refused from the current state.
func (s StakeState) next(ev stakeEvent) (StakeState, error) {
	if to, ok := stakeTransitions[s][ev]; ok {
		return to, nil
	}
	if s == StakeSlashed {
		return s, ErrAuditorBanned
	}
	switch ev {
	case evUnstake:
		return s, ErrNotStaked
	case evWithdraw:
		return s, ErrUnstakeNotRequested
	case evSlash:
		return s, ErrNothingToSlash
	case evReinstate:
		return s, ErrNotSlashed
	}
	return s, ErrNotStaked
}
