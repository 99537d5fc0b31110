package registry

import (
	"encoding/hex"
	"fmt"
	"time"
)

// Identity is an account identity such as a base58 public key.
type Identity string

// SkillID is the content fingerprint of a skill, typically the SHA-256 of its code.
type SkillID [32]byte

// ParseSkillID decodes a 64-character hex fingerprint.
func ParseSkillID(s string) (SkillID, error) {
	var id SkillID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse skill id: %w", err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("parse skill id: want %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (id SkillID) String() string { return hex.EncodeToString(id[:]) }

func (id SkillID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *SkillID) UnmarshalText(b []byte) error {
	parsed, err := ParseSkillID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Signature is an opaque 64-byte signature. It is stored verbatim and never verified.
type Signature [64]byte

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(s[:])), nil
}

func (s *Signature) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}
	if len(raw) != len(s) {
		return fmt.Errorf("parse signature: want %d bytes, got %d", len(s), len(raw))
	}
	copy(s[:], raw)
	return nil
}

// ContentRef is an opaque content-addressed handle (an IPFS CID, for example).
type ContentRef string

// Registry holds the global counters and the admin identity.
type Registry struct {
	Admin                 Identity  `json:"admin"`
	SkillCount            uint64    `json:"skill_count"`
	TotalExecutions       uint64    `json:"total_executions"`
	TotalConsensusRecords uint64    `json:"total_consensus_records"`
	CreatedAt             time.Time `json:"created_at"`
}

// ConsensusStatus mirrors the last recorded verdict on a skill.
type ConsensusStatus string

const (
	StatusPending   ConsensusStatus = "pending"
	StatusInReview  ConsensusStatus = "in_review"
	StatusApproved  ConsensusStatus = "approved"
	StatusRejected  ConsensusStatus = "rejected"
	StatusContested ConsensusStatus = "contested"
)

// AuditorSignature is one attestation on a skill. Tier is snapshotted at signing time.
type AuditorSignature struct {
	Auditor   Identity    `json:"auditor"`
	Signature Signature   `json:"signature"`
	Tier      AuditorTier `json:"tier"`
	Timestamp time.Time   `json:"timestamp"`
}

// Skill is the aggregate owning attestations, statistics and consensus linkage.
type Skill struct {
	ID               SkillID            `json:"id"`
	Creator          Identity           `json:"creator"`
	CreatorSignature Signature          `json:"creator_signature"`
	Price            uint64             `json:"price"`
	CodeRef          ContentRef         `json:"code_ref"`
	AuditReportRef   ContentRef         `json:"audit_report_ref"`
	Attestations     []AuditorSignature `json:"attestations"`
	AttestationCount uint32             `json:"attestation_count"`

	// TrustScore is the authoritative stored value: the consensus score while a
	// consensus record is current, the running score otherwise.
	TrustScore   uint16 `json:"trust_score"`
	RunningScore uint16 `json:"running_score"`

	ExecutionCount uint64    `json:"execution_count"`
	SuccessCount   uint64    `json:"success_count"`
	TotalEarned    uint64    `json:"total_earned"`
	LastUsedAt     time.Time `json:"last_used_at"`
	CreatedAt      time.Time `json:"created_at"`

	ConsensusStatus ConsensusStatus `json:"consensus_status"`
	ConsensusRef    *ConsensusKey   `json:"consensus_ref,omitempty"`
	ConsensusRound  uint32          `json:"consensus_round"`
}

// HasSigned reports whether the auditor already attested this skill.
func (s *Skill) HasSigned(auditor Identity) bool {
	for _, a := range s.Attestations {
		if a.Auditor == auditor {
			return true
		}
	}
	return false
}

func (s *Skill) clone() *Skill {
	c := *s
	c.Attestations = append([]AuditorSignature(nil), s.Attestations...)
	if s.ConsensusRef != nil {
		ref := *s.ConsensusRef
		c.ConsensusRef = &ref
	}
	return &c
}

// Auditor is a registered reviewer and its stake.
type Auditor struct {
	Identity          Identity    `json:"identity"`
	Tier              AuditorTier `json:"tier"`
	AuditsPerformed   uint64      `json:"audits_performed"`
	Reputation        uint16      `json:"reputation"`
	TotalEarned       uint64      `json:"total_earned"`
	StakeAmount       uint64      `json:"stake_amount"`
	State             StakeState  `json:"state"`
	UnbondingUnlockAt time.Time   `json:"unbonding_unlock_at,omitempty"`
	SlashedAt         time.Time   `json:"slashed_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
}

// Active reports whether the auditor may attest.
func (a *Auditor) Active() bool { return a.State == StakeStaked }

func (a *Auditor) clone() *Auditor {
	c := *a
	return &c
}

// Verdict is the outcome of an off-chain consensus round.
type Verdict string

const (
	VerdictPending      Verdict = "pending"
	VerdictApproved     Verdict = "approved"
	VerdictRejected     Verdict = "rejected"
	VerdictInconclusive Verdict = "inconclusive"
)

// Status maps a verdict onto the skill's consensus status.
func (v Verdict) Status() (ConsensusStatus, bool) {
	switch v {
	case VerdictApproved:
		return StatusApproved, true
	case VerdictRejected:
		return StatusRejected, true
	case VerdictInconclusive:
		return StatusContested, true
	case VerdictPending:
		return StatusInReview, true
	}
	return "", false
}

// ConsensusKey addresses one consensus round of one skill.
type ConsensusKey struct {
	Skill SkillID `json:"skill"`
	Round uint32  `json:"round"`
}

func (k ConsensusKey) String() string { return fmt.Sprintf("%s/%d", k.Skill, k.Round) }

// ConsensusRecord is an immutable, time-bounded verdict for one round.
type ConsensusRecord struct {
	Skill            SkillID    `json:"skill"`
	Round            uint32     `json:"round"`
	Verdict          Verdict    `json:"verdict"`
	Confidence       uint8      `json:"confidence"`
	TrustScore       uint16     `json:"trust_score"`
	EvaluatorCount   uint8      `json:"evaluator_count"`
	MeanScore        uint16     `json:"mean_score"`
	ScoreVariance    uint16     `json:"score_variance"`
	CriticalOverlap  uint16     `json:"critical_overlap"`
	MethodologyCount uint8      `json:"methodology_count"`
	ReportsRef       ContentRef `json:"reports_ref"`
	ReasoningRef     ContentRef `json:"reasoning_ref"`
	EvaluatedAt      time.Time  `json:"evaluated_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RecordedBy       Identity   `json:"recorded_by"`
}

// Key returns the record's address.
func (r *ConsensusRecord) Key() ConsensusKey { return ConsensusKey{Skill: r.Skill, Round: r.Round} }

// Current reports whether the record is still authoritative at now.
func (r *ConsensusRecord) Current(now time.Time) bool { return now.Before(r.ExpiresAt) }

// ExecutionLog records one paid invocation. Never mutated after creation.
type ExecutionLog struct {
	ID            string    `json:"id"`
	Skill         SkillID   `json:"skill"`
	Executor      Identity  `json:"executor"`
	Success       bool      `json:"success"`
	LatencyMS     uint32    `json:"latency_ms"`
	PaymentAmount uint64    `json:"payment_amount"`
	CreatorShare  uint64    `json:"creator_share"`
	ProtocolShare uint64    `json:"protocol_share"`
	Timestamp     time.Time `json:"timestamp"`
}
