package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAuditorSignatureRequiresActiveAuditor(t *testing.T) {
	f := newFixture(t)
	id := f.mint("inactive", 100)
	_, err := f.ledger.InitializeAuditor(f.ctx, "carol")
	require.NoError(t, err)

	_, err = f.ledger.AddAuditorSignature(f.ctx, id, "carol", Signature{}, "")
	require.ErrorIs(t, err, ErrAuditorNotActive)

	_, err = f.ledger.AddAuditorSignature(f.ctx, id, "nobody", Signature{}, "")
	require.ErrorIs(t, err, ErrAuditorNotFound)

	f.stakedAuditor("dave", Tier3)
	_, err = f.ledger.RequestUnstake(f.ctx, "dave", "dave")
	require.NoError(t, err)
	_, err = f.ledger.AddAuditorSignature(f.ctx, id, "dave", Signature{}, "")
	require.ErrorIs(t, err, ErrAuditorNotActive)

	s, err := f.ledger.Skill(id)
	require.NoError(t, err)
	assert.Empty(t, s.Attestations)
	assert.Zero(t, s.AttestationCount)
}

func TestAddAuditorSignatureRejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	id := f.mint("dup", 100)
	f.stakedAuditor("alice", Tier1)

	s, err := f.ledger.AddAuditorSignature(f.ctx, id, "alice", Signature{7}, "ipfs://r1")
	require.NoError(t, err)
	assert.EqualValues(t, 100, s.TrustScore)

	_, err = f.ledger.AddAuditorSignature(f.ctx, id, "alice", Signature{8}, "ipfs://r2")
	require.ErrorIs(t, err, ErrAuditorAlreadySigned)

	s, err = f.ledger.Skill(id)
	require.NoError(t, err)
	assert.Len(t, s.Attestations, 1)
	assert.EqualValues(t, 1, s.AttestationCount)
	assert.Equal(t, ContentRef("ipfs://r1"), s.AuditReportRef)

	a, err := f.ledger.Auditor("alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, a.AuditsPerformed)
}

func TestAttestationSnapshotsTier(t *testing.T) {
	f := newFixture(t)
	id := f.mint("tiers", 100)
	f.stakedAuditor("alice", Tier2)

	_, err := f.ledger.AddAuditorSignature(f.ctx, id, "alice", Signature{1}, "")
	require.NoError(t, err)

	_, err = f.ledger.SetAuditorTier(f.ctx, admin, "alice", Tier1)
	require.NoError(t, err)

	s, err := f.ledger.RefreshTrustScore(f.ctx, id)
	require.NoError(t, err)
	require.Len(t, s.Attestations, 1)
	assert.Equal(t, Tier2, s.Attestations[0].Tier)
	assert.EqualValues(t, 50, s.TrustScore)

	_, err = f.ledger.SetAuditorTier(f.ctx, "alice", "alice", Tier1)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestSkillsAttestedBy(t *testing.T) {
	f := newFixture(t)
	a := f.mint("a", 100)
	f.mint("b", 100)
	c := f.mint("c", 100)
	f.stakedAuditor("alice", Tier3)

	for _, id := range []SkillID{a, c} {
		_, err := f.ledger.AddAuditorSignature(f.ctx, id, "alice", Signature{}, "")
		require.NoError(t, err)
	}
	got, err := f.ledger.SkillsAttestedBy(f.ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a.String(), c.String()}, got)
}
