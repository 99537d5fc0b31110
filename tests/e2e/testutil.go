//go:build e2e

package e2e

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"
	"time"

	tcneo4j "github.com/testcontainers/testcontainers-go/modules/neo4j"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/sigil-registry/internal/clock"
	"github.com/nidhogg/sigil-registry/internal/events"
	"github.com/nidhogg/sigil-registry/internal/graph"
	"github.com/nidhogg/sigil-registry/internal/payment"
	"github.com/nidhogg/sigil-registry/internal/registry"
	pgstore "github.com/nidhogg/sigil-registry/internal/store"
)

// Package-level shared state, set by TestMain and used by all tests.
var (
	testLogger  *zap.Logger
	testPGStore *pgstore.Store
	testBus     *events.Bus
	testGraph   *graph.Store
)

const (
	testAdmin      = "admin"
	testTreasury   = "treasury"
	testRewardFund = "reward-fund"
)

// startNeo4j starts a Neo4j testcontainer, returns URI + cleanup func.
func startNeo4j(ctx context.Context) (string, func(), error) {
	container, err := tcneo4j.Run(ctx, "neo4j:5-community",
		tcneo4j.WithoutAuthentication(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start neo4j: %w", err)
	}
	uri, err := container.BoltUrl(ctx)
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("neo4j bolt url: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return uri, cleanup, nil
}

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("sigil_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

// startRedis starts a Redis testcontainer, returns URL + cleanup func.
func startRedis(ctx context.Context) (string, func(), error) {
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		return "", nil, fmt.Errorf("start redis: %w", err)
	}
	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("redis endpoint: %w", err)
	}
	url := "redis://" + endpoint
	cleanup := func() { container.Terminate(ctx) }
	return url, cleanup, nil
}

// fingerprint derives a unique skill id per test so tests can share one database.
func fingerprint(t *testing.T, name string) registry.SkillID {
	return registry.SkillID(sha256.Sum256([]byte(t.Name() + "/" + name)))
}

// uniqueIdentity namespaces an identity to the running test.
func uniqueIdentity(t *testing.T, name string) registry.Identity {
	return registry.Identity(fmt.Sprintf("%s-%s-%d", name, t.Name(), time.Now().UnixNano()))
}

// openLedger wires a ledger over the shared Postgres store, acting as both
// rail and persister, restoring the persisted registry when one exists.
func openLedger(t *testing.T, ctx context.Context, clk clock.Clock, sink registry.EventSink) *registry.Ledger {
	t.Helper()
	opts := registry.Options{
		Clock:     clk,
		Rail:      testPGStore,
		Accounts:  payment.Accounts{Treasury: testTreasury, RewardFund: testRewardFund},
		Persister: testPGStore,
		Sink:      sink,
		Logger:    testLogger,
	}
	snap, err := testPGStore.LoadSnapshot(ctx)
	if err == nil {
		l, rerr := registry.Restore(snap, opts)
		if rerr != nil {
			t.Fatalf("restore: %v", rerr)
		}
		return l
	}
	l, err := registry.InitializeRegistry(ctx, testAdmin, opts)
	if err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	return l
}
