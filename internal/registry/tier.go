package registry

import "fmt"

// AuditorTier is the vetting level of an auditor. Lower tiers are less vetted.
type AuditorTier string

const (
	Tier1 AuditorTier = "tier1"
	Tier2 AuditorTier = "tier2"
	Tier3 AuditorTier = "tier3"
)

// DefaultTier is assigned to newly initialized community auditors.
const DefaultTier = Tier3

// tierWeights is the attestation weight of each tier.
var tierWeights = map[AuditorTier]uint16{
	Tier1: 100,
	Tier2: 50,
	Tier3: 20,
}

// startingReputation seeds a fresh auditor's reputation per tier.
var startingReputation = map[AuditorTier]uint16{
	Tier1: 100,
	Tier2: 50,
	Tier3: 20,
}

// Weight returns the attestation weight of the tier, 0 for unknown tiers.
func (t AuditorTier) Weight() uint16 { return tierWeights[t] }

// Valid reports whether t is a known tier.
func (t AuditorTier) Valid() bool {
	_, ok := tierWeights[t]
	return ok
}

// ParseTier validates a tier name.
func ParseTier(s string) (AuditorTier, error) {
	t := AuditorTier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown auditor tier %q", s)
	}
	return t, nil
}
