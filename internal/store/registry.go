package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/nidhogg/sigil-registry/internal/registry"
	"go.uber.org/zap"
)

// Commit writes every entity in the change set in one transaction.
func (s *Store) Commit(ctx context.Context, ch *registry.Change) error {
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if ch.Bootstrap {
			if err := createRegistry(ctx, tx, ch.Registry); err != nil {
				return err
			}
		} else if ch.Registry != nil {
			if err := saveRegistry(ctx, tx, ch.Registry); err != nil {
				return err
			}
		}
		if ch.Skill != nil {
			if err := saveSkill(ctx, tx, ch.Skill); err != nil {
				return err
			}
		}
		if ch.Auditor != nil {
			if err := saveAuditor(ctx, tx, ch.Auditor); err != nil {
				return err
			}
		}
		if ch.Consensus != nil {
			if err := insertConsensus(ctx, tx, ch.Consensus); err != nil {
				return err
			}
		}
		if ch.Execution != nil {
			if err := insertExecution(ctx, tx, ch.Execution); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit change: %w", err)
	}
	return nil
}

func createRegistry(ctx context.Context, tx pgx.Tx, r *registry.Registry) error {
	tag, err := tx.Exec(ctx, `
		INSERT INTO registry (id, admin, skill_count, total_executions, total_consensus_records, created_at)
		VALUES (1, $1, 0, 0, 0, $2)
		ON CONFLICT (id) DO NOTHING`,
		string(r.Admin), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return registry.ErrRegistryExists
	}
	return nil
}

func saveRegistry(ctx context.Context, tx pgx.Tx, r *registry.Registry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO registry (id, admin, skill_count, total_executions, total_consensus_records, created_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			admin = EXCLUDED.admin,
			skill_count = EXCLUDED.skill_count,
			total_executions = EXCLUDED.total_executions,
			total_consensus_records = EXCLUDED.total_consensus_records`,
		string(r.Admin), int64(r.SkillCount), int64(r.TotalExecutions), int64(r.TotalConsensusRecords), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save registry: %w", err)
	}
	return nil
}

func saveSkill(ctx context.Context, tx pgx.Tx, sk *registry.Skill) error {
	attestations, err := json.Marshal(sk.Attestations)
	if err != nil {
		return fmt.Errorf("marshal attestations: %w", err)
	}
	var ref *int64
	if sk.ConsensusRef != nil {
		round := int64(sk.ConsensusRef.Round)
		ref = &round
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO skills (id, creator, creator_signature, price, code_ref, audit_report_ref,
		                    attestations, attestation_count, trust_score, running_score,
		                    execution_count, success_count, total_earned, last_used_at, created_at,
		                    consensus_status, consensus_ref, consensus_round)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE SET
			audit_report_ref = EXCLUDED.audit_report_ref,
			attestations = EXCLUDED.attestations,
			attestation_count = EXCLUDED.attestation_count,
			trust_score = EXCLUDED.trust_score,
			running_score = EXCLUDED.running_score,
			execution_count = EXCLUDED.execution_count,
			success_count = EXCLUDED.success_count,
			total_earned = EXCLUDED.total_earned,
			last_used_at = EXCLUDED.last_used_at,
			consensus_status = EXCLUDED.consensus_status,
			consensus_ref = EXCLUDED.consensus_ref,
			consensus_round = EXCLUDED.consensus_round`,
		sk.ID.String(), string(sk.Creator), sk.CreatorSignature[:], int64(sk.Price), string(sk.CodeRef),
		string(sk.AuditReportRef), attestations, int64(sk.AttestationCount), int64(sk.TrustScore),
		int64(sk.RunningScore), int64(sk.ExecutionCount), int64(sk.SuccessCount), int64(sk.TotalEarned),
		nullTime(sk.LastUsedAt), sk.CreatedAt, string(sk.ConsensusStatus), ref, int64(sk.ConsensusRound),
	)
	if err != nil {
		return fmt.Errorf("save skill %s: %w", sk.ID, err)
	}
	return nil
}

func saveAuditor(ctx context.Context, tx pgx.Tx, a *registry.Auditor) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO auditors (identity, tier, audits_performed, reputation, total_earned, stake_amount,
		                      state, unbonding_unlock_at, slashed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (identity) DO UPDATE SET
			tier = EXCLUDED.tier,
			audits_performed = EXCLUDED.audits_performed,
			reputation = EXCLUDED.reputation,
			total_earned = EXCLUDED.total_earned,
			stake_amount = EXCLUDED.stake_amount,
			state = EXCLUDED.state,
			unbonding_unlock_at = EXCLUDED.unbonding_unlock_at,
			slashed_at = EXCLUDED.slashed_at`,
		string(a.Identity), string(a.Tier), int64(a.AuditsPerformed), int64(a.Reputation),
		int64(a.TotalEarned), int64(a.StakeAmount), string(a.State),
		nullTime(a.UnbondingUnlockAt), nullTime(a.SlashedAt), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save auditor %s: %w", a.Identity, err)
	}
	return nil
}

func insertConsensus(ctx context.Context, tx pgx.Tx, r *registry.ConsensusRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO consensus_records (skill_id, round, verdict, confidence, trust_score, evaluator_count,
		                               mean_score, score_variance, critical_overlap, methodology_count,
		                               reports_ref, reasoning_ref, evaluated_at, expires_at, recorded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		r.Skill.String(), int64(r.Round), string(r.Verdict), int64(r.Confidence), int64(r.TrustScore),
		int64(r.EvaluatorCount), int64(r.MeanScore), int64(r.ScoreVariance), int64(r.CriticalOverlap),
		int64(r.MethodologyCount), string(r.ReportsRef), string(r.ReasoningRef),
		r.EvaluatedAt, r.ExpiresAt, string(r.RecordedBy),
	)
	if err != nil {
		return fmt.Errorf("insert consensus %s: %w", r.Key(), err)
	}
	return nil
}

func insertExecution(ctx context.Context, tx pgx.Tx, e *registry.ExecutionLog) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO execution_logs (id, skill_id, executor, success, latency_ms, payment_amount,
		                            creator_share, protocol_share, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Skill.String(), string(e.Executor), e.Success, int64(e.LatencyMS),
		int64(e.PaymentAmount), int64(e.CreatorShare), int64(e.ProtocolShare), e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert execution %s: %w", e.ID, err)
	}
	return nil
}

// LoadSnapshot reads the full registry state. It returns
// registry.ErrRegistryNotFound when the registry was never initialized.
func (s *Store) LoadSnapshot(ctx context.Context) (*registry.Snapshot, error) {
	snap := &registry.Snapshot{}

	var (
		reg                       registry.Registry
		admin                     string
		skills, execs, consensusN int64
	)
	err := s.db.QueryRow(ctx, `
		SELECT admin, skill_count, total_executions, total_consensus_records, created_at
		FROM registry WHERE id = 1`,
	).Scan(&admin, &skills, &execs, &consensusN, &reg.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, registry.ErrRegistryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	reg.Admin = registry.Identity(admin)
	reg.SkillCount = uint64(skills)
	reg.TotalExecutions = uint64(execs)
	reg.TotalConsensusRecords = uint64(consensusN)
	reg.CreatedAt = reg.CreatedAt.UTC()
	snap.Registry = &reg

	if snap.Skills, err = s.loadSkills(ctx); err != nil {
		return nil, err
	}
	if snap.Auditors, err = s.loadAuditors(ctx); err != nil {
		return nil, err
	}
	if snap.Consensus, err = s.loadConsensus(ctx); err != nil {
		return nil, err
	}
	if snap.Executions, err = s.loadExecutions(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("registry snapshot loaded",
		zap.Int("skills", len(snap.Skills)),
		zap.Int("auditors", len(snap.Auditors)),
		zap.Int("consensus_records", len(snap.Consensus)),
		zap.Int("executions", len(snap.Executions)))
	return snap, nil
}

func (s *Store) loadSkills(ctx context.Context) ([]*registry.Skill, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, creator, creator_signature, price, code_ref, audit_report_ref, attestations,
		       attestation_count, trust_score, running_score, execution_count, success_count,
		       total_earned, last_used_at, created_at, consensus_status, consensus_ref, consensus_round
		FROM skills ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var out []*registry.Skill
	for rows.Next() {
		var (
			sk                                         registry.Skill
			id, creator, codeRef, reportRef, status    string
			sig, attestations                          []byte
			price, count, trust, running, execN, succN int64
			earned, round                              int64
			lastUsed                                   *time.Time
			ref                                        *int64
		)
		if err := rows.Scan(&id, &creator, &sig, &price, &codeRef, &reportRef, &attestations,
			&count, &trust, &running, &execN, &succN, &earned, &lastUsed, &sk.CreatedAt,
			&status, &ref, &round); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		if sk.ID, err = registry.ParseSkillID(id); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		copy(sk.CreatorSignature[:], sig)
		if err := json.Unmarshal(attestations, &sk.Attestations); err != nil {
			return nil, fmt.Errorf("unmarshal attestations of %s: %w", id, err)
		}
		sk.Creator = registry.Identity(creator)
		sk.Price = uint64(price)
		sk.CodeRef = registry.ContentRef(codeRef)
		sk.AuditReportRef = registry.ContentRef(reportRef)
		sk.AttestationCount = uint32(count)
		sk.TrustScore = uint16(trust)
		sk.RunningScore = uint16(running)
		sk.ExecutionCount = uint64(execN)
		sk.SuccessCount = uint64(succN)
		sk.TotalEarned = uint64(earned)
		sk.LastUsedAt = fromNullTime(lastUsed)
		sk.CreatedAt = sk.CreatedAt.UTC()
		sk.ConsensusStatus = registry.ConsensusStatus(status)
		sk.ConsensusRound = uint32(round)
		if ref != nil {
			sk.ConsensusRef = &registry.ConsensusKey{Skill: sk.ID, Round: uint32(*ref)}
		}
		out = append(out, &sk)
	}
	return out, rows.Err()
}

func (s *Store) loadAuditors(ctx context.Context) ([]*registry.Auditor, error) {
	rows, err := s.db.Query(ctx, `
		SELECT identity, tier, audits_performed, reputation, total_earned, stake_amount,
		       state, unbonding_unlock_at, slashed_at, created_at
		FROM auditors ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("list auditors: %w", err)
	}
	defer rows.Close()

	var out []*registry.Auditor
	for rows.Next() {
		var (
			a                           registry.Auditor
			identity, tier, state       string
			audits, rep, earned, staked int64
			unlockAt, slashedAt         *time.Time
		)
		if err := rows.Scan(&identity, &tier, &audits, &rep, &earned, &staked,
			&state, &unlockAt, &slashedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan auditor: %w", err)
		}
		a.Identity = registry.Identity(identity)
		a.Tier = registry.AuditorTier(tier)
		a.AuditsPerformed = uint64(audits)
		a.Reputation = uint16(rep)
		a.TotalEarned = uint64(earned)
		a.StakeAmount = uint64(staked)
		a.State = registry.StakeState(state)
		a.UnbondingUnlockAt = fromNullTime(unlockAt)
		a.SlashedAt = fromNullTime(slashedAt)
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Store) loadConsensus(ctx context.Context) ([]*registry.ConsensusRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT skill_id, round, verdict, confidence, trust_score, evaluator_count, mean_score,
		       score_variance, critical_overlap, methodology_count, reports_ref, reasoning_ref,
		       evaluated_at, expires_at, recorded_by
		FROM consensus_records ORDER BY skill_id, round`)
	if err != nil {
		return nil, fmt.Errorf("list consensus records: %w", err)
	}
	defer rows.Close()

	var out []*registry.ConsensusRecord
	for rows.Next() {
		var (
			r                                            registry.ConsensusRecord
			skill, verdict, reports, reasoning, recorder string
			round, conf, trust, evals, mean, variance    int64
			overlap, methods                             int64
		)
		if err := rows.Scan(&skill, &round, &verdict, &conf, &trust, &evals, &mean,
			&variance, &overlap, &methods, &reports, &reasoning,
			&r.EvaluatedAt, &r.ExpiresAt, &recorder); err != nil {
			return nil, fmt.Errorf("scan consensus record: %w", err)
		}
		if r.Skill, err = registry.ParseSkillID(skill); err != nil {
			return nil, fmt.Errorf("scan consensus record: %w", err)
		}
		r.Round = uint32(round)
		r.Verdict = registry.Verdict(verdict)
		r.Confidence = uint8(conf)
		r.TrustScore = uint16(trust)
		r.EvaluatorCount = uint8(evals)
		r.MeanScore = uint16(mean)
		r.ScoreVariance = uint16(variance)
		r.CriticalOverlap = uint16(overlap)
		r.MethodologyCount = uint8(methods)
		r.ReportsRef = registry.ContentRef(reports)
		r.ReasoningRef = registry.ContentRef(reasoning)
		r.EvaluatedAt = r.EvaluatedAt.UTC()
		r.ExpiresAt = r.ExpiresAt.UTC()
		r.RecordedBy = registry.Identity(recorder)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *Store) loadExecutions(ctx context.Context) ([]*registry.ExecutionLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, skill_id, executor, success, latency_ms, payment_amount,
		       creator_share, protocol_share, executed_at
		FROM execution_logs ORDER BY executed_at`)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var out []*registry.ExecutionLog
	for rows.Next() {
		var (
			e                                registry.ExecutionLog
			skill, executor                  string
			latency, paid, creator, protocol int64
		)
		if err := rows.Scan(&e.ID, &skill, &executor, &e.Success, &latency, &paid,
			&creator, &protocol, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		if e.Skill, err = registry.ParseSkillID(skill); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		e.Executor = registry.Identity(executor)
		e.LatencyMS = uint32(latency)
		e.PaymentAmount = uint64(paid)
		e.CreatorShare = uint64(creator)
		e.ProtocolShare = uint64(protocol)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, &e)
	}
	return out, rows.Err()
}
