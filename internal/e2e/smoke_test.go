//go:build e2e

package e2e

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"
)

var baseURL string

func TestMain(m *testing.M) {
	baseURL = os.Getenv("SIGIL_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:3210"
	}

	// Wait for server readiness (up to 30s)
	ready := false
	for i := 0; i < 30; i++ {
		resp, err := http.Get(baseURL + "/api/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				ready = true
				break
			}
		}
		time.Sleep(1 * time.Second)
	}
	if !ready {
		fmt.Fprintf(os.Stderr, "server at %s not ready after 30s\n", baseURL)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// call sends a request as identity and decodes the JSON reply into out when non-nil.
func call(t *testing.T, method, path, identity string, body, out interface{}) int {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, baseURL+path, r)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set("X-Sigil-Identity", identity)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body: %v", err)
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("unmarshal response: %v (body: %s)", err, string(raw))
		}
	}
	return resp.StatusCode
}

func TestRegistryIsInitialized(t *testing.T) {
	var reg struct {
		Admin string `json:"admin"`
	}
	if status := call(t, "GET", "/api/registry", "", nil, &reg); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if reg.Admin == "" {
		t.Error("expected an admin identity")
	}
}

func TestMintAndReadBack(t *testing.T) {
	sum := sha256.Sum256([]byte(fmt.Sprintf("smoke-%d", time.Now().UnixNano())))
	id := fmt.Sprintf("%x", sum)

	status := call(t, "POST", "/api/skills", "smoke-creator", map[string]interface{}{
		"id":       id,
		"price":    1000,
		"code_ref": "bafy-smoke",
	}, nil)
	if status != http.StatusCreated {
		t.Fatalf("mint: expected 201, got %d", status)
	}
	if status := call(t, "POST", "/api/skills", "smoke-creator", map[string]interface{}{"id": id}, nil); status != http.StatusConflict {
		t.Errorf("duplicate mint: expected 409, got %d", status)
	}

	var skill struct {
		ID             string `json:"id"`
		EffectiveScore uint16 `json:"effective_score"`
	}
	if status := call(t, "GET", "/api/skills/"+id, "", nil, &skill); status != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", status)
	}
	if skill.ID != id || skill.EffectiveScore != 0 {
		t.Errorf("unexpected skill: %+v", skill)
	}
}

func TestUnfundedStakeIsRejected(t *testing.T) {
	who := fmt.Sprintf("smoke-auditor-%d", time.Now().UnixNano())
	if status := call(t, "POST", "/api/auditors", who, nil, nil); status != http.StatusCreated {
		t.Fatalf("init auditor: expected 201, got %d", status)
	}
	status := call(t, "POST", "/api/auditors/"+who+"/stake", who, map[string]uint64{"amount": 50_000_000}, nil)
	if status != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for unfunded stake, got %d", status)
	}
}
