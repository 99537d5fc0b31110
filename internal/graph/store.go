// Package graph mirrors the attestation network into Neo4j so reviewers can
// query who vouched for what.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/nidhogg/sigil-registry/internal/registry"
	"go.uber.org/zap"
)

// Store handles Neo4j operations for the attestation graph.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewStore creates a Neo4j-backed attestation graph.
func NewStore(uri, user, password string, logger *zap.Logger) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the uniqueness constraints the MERGE statements rely on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, q := range []string{
		`CREATE CONSTRAINT skill_fingerprint IF NOT EXISTS FOR (s:Skill) REQUIRE s.fingerprint IS UNIQUE`,
		`CREATE CONSTRAINT auditor_identity IF NOT EXISTS FOR (a:Auditor) REQUIRE a.identity IS UNIQUE`,
	} {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

// Publish projects a committed registry event onto the graph. Events with no
// graph meaning are ignored.
func (s *Store) Publish(ctx context.Context, ev registry.Event) error {
	cypher, params, ok := statement(ev)
	if !ok {
		return nil
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	if _, err := session.Run(ctx, cypher, params); err != nil {
		return fmt.Errorf("project %s: %w", ev.Type, err)
	}
	s.logger.Debug("graph updated", zap.String("type", string(ev.Type)))
	return nil
}

// SkillsAttestedBy lists the fingerprints of skills the auditor has signed.
func (s *Store) SkillsAttestedBy(ctx context.Context, auditor registry.Identity) ([]string, error) {
	return s.strings(ctx,
		`MATCH (:Auditor {identity: $id})-[:ATTESTED]->(s:Skill)
		 RETURN s.fingerprint AS v ORDER BY v`,
		map[string]interface{}{"id": string(auditor)})
}

// Attestors lists the identities that signed the skill.
func (s *Store) Attestors(ctx context.Context, fingerprint string) ([]string, error) {
	return s.strings(ctx,
		`MATCH (a:Auditor)-[:ATTESTED]->(:Skill {fingerprint: $fp})
		 RETURN a.identity AS v ORDER BY v`,
		map[string]interface{}{"fp": fingerprint})
}

// Peers lists the other auditors that signed at least one skill in common
// with auditor. Dense peer groups are a starting point for collusion review.
func (s *Store) Peers(ctx context.Context, auditor registry.Identity) ([]string, error) {
	return s.strings(ctx,
		`MATCH (:Auditor {identity: $id})-[:ATTESTED]->(:Skill)<-[:ATTESTED]-(p:Auditor)
		 WHERE p.identity <> $id
		 RETURN DISTINCT p.identity AS v ORDER BY v`,
		map[string]interface{}{"id": string(auditor)})
}

func (s *Store) strings(ctx context.Context, cypher string, params map[string]interface{}) ([]string, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	var out []string
	for result.Next(ctx) {
		v, _ := result.Record().Get("v")
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out, result.Err()
}
