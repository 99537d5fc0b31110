package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/sigil-registry/internal/registry"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeNotifier struct {
	platform string
	fail     bool
	mu       sync.Mutex
	alerts   []*Alert
}

func (f *fakeNotifier) Platform() string              { return f.platform }
func (f *fakeNotifier) Connect(context.Context) error { return nil }
func (f *fakeNotifier) Close() error                  { return nil }
func (f *fakeNotifier) Notify(_ context.Context, a *Alert) error {
	if f.fail {
		return errors.New("platform down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
	return nil
}

func TestBroadcasterFiltersRoutineEvents(t *testing.T) {
	hub := NewHub(zap.NewNop())
	fake := &fakeNotifier{platform: "fake"}
	hub.Register(fake)
	b := NewBroadcaster(hub, zap.NewNop())
	ctx := context.Background()

	for _, typ := range []registry.EventType{
		registry.EventSkillMinted,
		registry.EventAttestationAdded,
		registry.EventExecutionLogged,
		registry.EventAuditorStaked,
	} {
		require.NoError(t, b.Publish(ctx, registry.Event{Type: typ}))
	}
	assert.Empty(t, fake.alerts)
	assert.Empty(t, b.History(0))

	require.NoError(t, b.Publish(ctx, registry.Event{
		Type:    registry.EventAuditorSlashed,
		Auditor: "mallory",
		Amount:  50_000_000,
	}))
	require.Len(t, fake.alerts, 1)
	assert.Equal(t, SeverityCritical, fake.alerts[0].Severity)
	assert.Contains(t, fake.alerts[0].Content, "50.000000 USDC")

	h := b.History(10)
	require.Len(t, h, 1)
	assert.Equal(t, []string{"fake"}, h[0].Targets)
}

func TestAlertForConsensus(t *testing.T) {
	a, ok := alertFor(registry.Event{
		Type:       registry.EventConsensusRecorded,
		Skill:      strings.Repeat("ab", 32),
		Round:      2,
		Verdict:    registry.VerdictInconclusive,
		TrustScore: 410,
	})
	require.True(t, ok)
	assert.Equal(t, SeverityWarning, a.Severity)
	assert.Equal(t, "Consensus round 2: inconclusive", a.Title)
	assert.Contains(t, a.Content, "abababababab now has trust score 410")
	assert.Contains(t, a.Content, "contested")

	a, ok = alertFor(registry.Event{Type: registry.EventConsensusRecorded, Verdict: registry.VerdictApproved})
	require.True(t, ok)
	assert.Equal(t, SeverityInfo, a.Severity)

	a, ok = alertFor(registry.Event{Type: registry.EventConsensusExpired, Round: 1, TrustScore: 300})
	require.True(t, ok)
	assert.Equal(t, SeverityWarning, a.Severity)
}

func TestHubKeepsDeliveringPastFailures(t *testing.T) {
	hub := NewHub(zap.NewNop())
	good := &fakeNotifier{platform: "good"}
	hub.Register(good)
	hub.Register(&fakeNotifier{platform: "bad", fail: true})

	delivered, err := hub.Notify(context.Background(), &Alert{Title: "x"})
	assert.Error(t, err)
	assert.Equal(t, []string{"good"}, delivered)
	assert.Len(t, good.alerts, 1)
	assert.Equal(t, []string{"bad", "good"}, hub.Platforms())
}

func TestHistoryIsBounded(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.Register(&fakeNotifier{platform: "fake"})
	b := NewBroadcaster(hub, zap.NewNop())
	for i := 0; i < maxHistory+5; i++ {
		require.NoError(t, b.Publish(context.Background(), registry.Event{Type: registry.EventAuditorReinstated, Auditor: "a"}))
	}
	assert.Len(t, b.History(0), maxHistory)
	assert.Len(t, b.History(3), 3)
}

func TestSlackNotifier(t *testing.T) {
	var (
		mu     sync.Mutex
		posted []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/auth.test":
			json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "team": "sigil", "user": "bot"})
		case "/chat.postMessage":
			assert.NoError(t, r.ParseForm())
			mu.Lock()
			posted = append(posted, r.FormValue("channel")+"|"+r.FormValue("text"))
			mu.Unlock()
			json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "channel": "C123", "ts": "1.0"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	n := NewSlackNotifier("xoxb-test", "C123", zap.NewNop(), slack.OptionAPIURL(srv.URL+"/"))
	ctx := context.Background()
	require.NoError(t, n.Connect(ctx))
	assert.True(t, n.Status().Connected)

	require.NoError(t, n.Notify(ctx, &Alert{Title: "Auditor slashed", Content: "gone", Severity: SeverityCritical}))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, posted, 1)
	assert.Equal(t, "C123|:rotating_light: *Auditor slashed*\ngone", posted[0])
}

func TestDiscordEmbed(t *testing.T) {
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	e := embedFor(&Alert{Kind: "auditor.slashed", Title: "t", Content: "c", Severity: SeverityCritical, Auditor: "mallory", At: at})
	assert.Equal(t, 0xe74c3c, e.Color)
	assert.Equal(t, "2026-06-01T00:00:00Z", e.Timestamp)
	require.Len(t, e.Fields, 1)
	assert.Equal(t, "mallory", e.Fields[0].Value)
	assert.Equal(t, "auditor.slashed", e.Footer.Text)

	err := NewDiscordNotifier("token", "chan", zap.NewNop()).Notify(context.Background(), &Alert{})
	assert.Error(t, err)
}
