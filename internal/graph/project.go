package graph

import (
	"github.com/nidhogg/sigil-registry/internal/registry"
)

// stateAfter maps stake lifecycle events onto the auditor's resulting state.
var stateAfter = map[registry.EventType]registry.StakeState{
	registry.EventAuditorStaked:     registry.StakeStaked,
	registry.EventUnstakeRequested:  registry.StakeUnbonding,
	registry.EventStakeWithdrawn:    registry.StakeUnstaked,
	registry.EventAuditorSlashed:    registry.StakeSlashed,
	registry.EventAuditorReinstated: registry.StakeUnstaked,
}

// statement returns the Cypher that projects ev, or false if ev has no graph effect.
func statement(ev registry.Event) (string, map[string]interface{}, bool) {
	at := ev.At.UTC().Format("2006-01-02T15:04:05Z")

	switch ev.Type {
	case registry.EventSkillMinted:
		return `MERGE (s:Skill {fingerprint: $fp})
			SET s.price = $price, s.created_at = datetime($at), s.trust_score = 0, s.status = 'pending'
			MERGE (c:Creator {identity: $creator})
			MERGE (c)-[:CREATED]->(s)`,
			map[string]interface{}{"fp": ev.Skill, "price": int64(ev.Amount), "at": at, "creator": string(ev.Actor)},
			true

	case registry.EventAuditorInitialized:
		return `MERGE (a:Auditor {identity: $id})
			SET a.tier = $tier, a.state = 'unstaked', a.created_at = datetime($at)`,
			map[string]interface{}{"id": string(ev.Auditor), "tier": string(ev.Tier), "at": at},
			true

	case registry.EventAuditorTierChanged:
		return `MERGE (a:Auditor {identity: $id}) SET a.tier = $tier`,
			map[string]interface{}{"id": string(ev.Auditor), "tier": string(ev.Tier)},
			true

	case registry.EventAttestationAdded:
		return `MERGE (a:Auditor {identity: $id})
			MERGE (s:Skill {fingerprint: $fp})
			MERGE (a)-[r:ATTESTED]->(s)
			SET r.tier = $tier, r.at = datetime($at), s.trust_score = $score`,
			map[string]interface{}{
				"id": string(ev.Auditor), "fp": ev.Skill, "tier": string(ev.Tier),
				"at": at, "score": int64(ev.TrustScore),
			},
			true

	case registry.EventConsensusRecorded:
		return `MERGE (s:Skill {fingerprint: $fp})
			SET s.trust_score = $score, s.verdict = $verdict, s.consensus_round = $round, s.evaluated_at = datetime($at)`,
			map[string]interface{}{
				"fp": ev.Skill, "score": int64(ev.TrustScore), "verdict": string(ev.Verdict),
				"round": int64(ev.Round), "at": at,
			},
			true

	case registry.EventExecutionLogged:
		return `MERGE (e:Executor {identity: $id})
			MERGE (s:Skill {fingerprint: $fp})
			MERGE (e)-[r:EXECUTED]->(s)
			SET r.count = coalesce(r.count, 0) + 1, r.last_at = datetime($at), s.trust_score = $score`,
			map[string]interface{}{"id": string(ev.Actor), "fp": ev.Skill, "at": at, "score": int64(ev.TrustScore)},
			true

	case registry.EventAuditorSlashed:
		return `MERGE (a:Auditor {identity: $id})
			SET a.state = $state, a.slashed_at = datetime($at)`,
			map[string]interface{}{"id": string(ev.Auditor), "state": string(registry.StakeSlashed), "at": at},
			true
	}

	if state, ok := stateAfter[ev.Type]; ok {
		return `MERGE (a:Auditor {identity: $id}) SET a.state = $state`,
			map[string]interface{}{"id": string(ev.Auditor), "state": string(state)},
			true
	}
	return "", nil, false
}
