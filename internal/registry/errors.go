package registry

import "errors"

var (
	ErrAuditorNotActive         = errors.New("auditor is not active")
	ErrAuditorAlreadySigned     = errors.New("auditor has already signed this skill")
	ErrInsufficientStake        = errors.New("stake below minimum")
	ErrStillLocked              = errors.New("stake is still locked in unbonding")
	ErrUnstakeNotRequested      = errors.New("unstake not requested")
	ErrNothingToSlash           = errors.New("nothing to slash")
	ErrInvalidConsensusVerdict  = errors.New("invalid consensus verdict")
	ErrConsensusAlreadyRecorded = errors.New("consensus already recorded for this round")
	ErrInvalidProtocolTreasury  = errors.New("invalid protocol treasury")
	ErrUnauthorized             = errors.New("caller is not authorized")

	ErrRegistryExists   = errors.New("registry already initialized")
	ErrRegistryNotFound = errors.New("registry not initialized")
	ErrSkillExists      = errors.New("skill fingerprint already registered")
	ErrSkillNotFound    = errors.New("skill not found")
	ErrAuditorExists    = errors.New("auditor already initialized")
	ErrAuditorNotFound  = errors.New("auditor not found")
	ErrAuditorBanned    = errors.New("auditor is permanently banned")
	ErrNotStaked        = errors.New("auditor is not staked")
	ErrNotSlashed       = errors.New("auditor is not slashed")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrInvalidIdentity  = errors.New("identity must not be empty")
	ErrSkillNotPriced   = errors.New("skill has no price")

	ErrSettlementFailed  = errors.New("payment settlement failed")
	ErrPersistenceFailed = errors.New("persisting change failed")
)
