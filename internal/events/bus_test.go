package events

import (
	"testing"
	"time"

	"github.com/nidhogg/sigil-registry/internal/registry"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestStreamsFor(t *testing.T) {
	tests := []struct {
		name string
		ev   registry.Event
		want []string
	}{
		{
			name: "registry event",
			ev:   registry.Event{Type: registry.EventRegistryInitialized},
			want: []string{"sigil:events"},
		},
		{
			name: "skill event",
			ev:   registry.Event{Type: registry.EventSkillMinted, Skill: "ab12"},
			want: []string{"sigil:events", "sigil:skill:ab12"},
		},
		{
			name: "attestation touches both",
			ev:   registry.Event{Type: registry.EventAttestationAdded, Skill: "ab12", Auditor: "alice"},
			want: []string{"sigil:events", "sigil:skill:ab12", "sigil:auditor:alice"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, streamsFor(tt.ev))
		})
	}
}

func TestDecode(t *testing.T) {
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	ev, ok := decode(redis.XMessage{ID: "1-0", Values: map[string]interface{}{
		"type": "auditor.slashed",
		"data": `{"type":"auditor.slashed","auditor":"mallory","amount":50000000,"at":"2026-05-01T00:00:00Z"}`,
	}})
	assert.True(t, ok)
	assert.Equal(t, registry.EventAuditorSlashed, ev.Type)
	assert.Equal(t, registry.Identity("mallory"), ev.Auditor)
	assert.EqualValues(t, 50_000_000, ev.Amount)
	assert.True(t, at.Equal(ev.At))

	_, ok = decode(redis.XMessage{Values: map[string]interface{}{"data": "{"}})
	assert.False(t, ok)
	_, ok = decode(redis.XMessage{Values: map[string]interface{}{}})
	assert.False(t, ok)
}
