package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

const usage = `Usage: sigilctl [-server URL] [-as IDENTITY] <command> [args]

Reads:
  registry                          global counters and admin
  skills                            list skills
  skill <id>                        one skill with its effective score
  consensus <id>                    current record and history
  executions <id> [limit]           recent execution logs
  attestors <id>                    auditors that signed a skill
  auditors                          list auditors
  auditor <identity>                one auditor
  attested <identity>               skills an auditor signed
  peers <identity>                  co-signing auditors
  events [skill|auditor <key>]      recent registry events
  alerts                            recent operator alerts

Writes (sent as -as):
  mint <id> <price> [code_ref]
  attest <id> <signature-hex> [report_ref]
  execute <id> [ok|fail] [latency_ms]
  record <id> <verdict> <trust_score> [confidence]
  init-auditor
  stake <amount>
  unstake | withdraw
  slash <identity> | reinstate <identity>
  tier <identity> <tier1|tier2|tier3>
  deposit <identity> <amount>       admin only, in-memory rail
  sweep
`

type client struct {
	server   string
	identity string
	http     *http.Client
}

func main() {
	server := flag.String("server", "http://localhost:3210", "Sigil registry server URL")
	identity := flag.String("as", os.Getenv("SIGIL_IDENTITY"), "Identity to act as")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	c := &client{server: strings.TrimRight(*server, "/"), identity: *identity, http: &http.Client{Timeout: 30 * time.Second}}
	if err := c.run(args[0], args[1:]); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func (c *client) run(cmd string, args []string) error {
	switch cmd {
	case "registry":
		return c.get("/api/registry")
	case "skills":
		return c.get("/api/skills")
	case "auditors":
		return c.get("/api/auditors")
	case "alerts":
		return c.get("/api/alerts")
	case "skill", "consensus", "attestors":
		if err := need(args, 1, cmd+" <id>"); err != nil {
			return err
		}
		path := "/api/skills/" + args[0]
		if cmd != "skill" {
			path += "/" + cmd
		}
		return c.get(path)
	case "executions":
		if err := need(args, 1, "executions <id> [limit]"); err != nil {
			return err
		}
		path := "/api/skills/" + args[0] + "/executions"
		if len(args) > 1 {
			path += "?limit=" + args[1]
		}
		return c.get(path)
	case "auditor", "attested", "peers":
		if err := need(args, 1, cmd+" <identity>"); err != nil {
			return err
		}
		path := "/api/auditors/" + args[0]
		if cmd != "auditor" {
			path += "/" + cmd
		}
		return c.get(path)
	case "events":
		path := "/api/events"
		if len(args) == 2 && (args[0] == "skill" || args[0] == "auditor") {
			path += "?" + args[0] + "=" + args[1]
		}
		return c.get(path)

	case "mint":
		if err := need(args, 2, "mint <id> <price> [code_ref]"); err != nil {
			return err
		}
		price, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("price: %w", err)
		}
		body := map[string]interface{}{"id": args[0], "price": price}
		if len(args) > 2 {
			body["code_ref"] = args[2]
		}
		return c.post("/api/skills", body)
	case "attest":
		if err := need(args, 2, "attest <id> <signature-hex> [report_ref]"); err != nil {
			return err
		}
		body := map[string]interface{}{"signature": args[1]}
		if len(args) > 2 {
			body["audit_report"] = args[2]
		}
		return c.post("/api/skills/"+args[0]+"/attestations", body)
	case "execute":
		if err := need(args, 1, "execute <id> [ok|fail] [latency_ms]"); err != nil {
			return err
		}
		body := map[string]interface{}{"success": len(args) < 2 || args[1] != "fail"}
		if len(args) > 2 {
			ms, err := strconv.ParseUint(args[2], 10, 32)
			if err != nil {
				return fmt.Errorf("latency: %w", err)
			}
			body["latency_ms"] = ms
		}
		return c.post("/api/skills/"+args[0]+"/executions", body)
	case "record":
		if err := need(args, 3, "record <id> <verdict> <trust_score> [confidence]"); err != nil {
			return err
		}
		score, err := strconv.ParseUint(args[2], 10, 16)
		if err != nil {
			return fmt.Errorf("trust_score: %w", err)
		}
		body := map[string]interface{}{"verdict": args[1], "trust_score": score}
		if len(args) > 3 {
			conf, err := strconv.ParseUint(args[3], 10, 8)
			if err != nil {
				return fmt.Errorf("confidence: %w", err)
			}
			body["confidence"] = conf
		}
		return c.post("/api/skills/"+args[0]+"/consensus", body)
	case "init-auditor":
		return c.post("/api/auditors", nil)
	case "stake":
		if err := need(args, 1, "stake <amount>"); err != nil {
			return err
		}
		amount, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		return c.post("/api/auditors/"+c.identity+"/stake", map[string]uint64{"amount": amount})
	case "unstake", "withdraw":
		return c.post("/api/auditors/"+c.identity+"/"+cmd, nil)
	case "slash", "reinstate":
		if err := need(args, 1, cmd+" <identity>"); err != nil {
			return err
		}
		return c.post("/api/auditors/"+args[0]+"/"+cmd, nil)
	case "tier":
		if err := need(args, 2, "tier <identity> <tier>"); err != nil {
			return err
		}
		return c.post("/api/auditors/"+args[0]+"/tier", map[string]string{"tier": args[1]})
	case "deposit":
		if err := need(args, 2, "deposit <identity> <amount>"); err != nil {
			return err
		}
		amount, err := strconv.ParseUint(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		return c.post("/api/wallets/"+args[0]+"/deposit", map[string]uint64{"amount": amount})
	case "sweep":
		return c.post("/api/sweep", nil)
	}
	return fmt.Errorf("unknown command %q (run sigilctl -h)", cmd)
}

func need(args []string, n int, form string) error {
	if len(args) < n {
		return fmt.Errorf("usage: sigilctl %s", form)
	}
	return nil
}

func (c *client) get(path string) error {
	req, err := http.NewRequest(http.MethodGet, c.server+path, nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *client) post(path string, body interface{}) error {
	if c.identity == "" {
		return fmt.Errorf("writes need an identity: pass -as or set SIGIL_IDENTITY")
	}
	var r io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(http.MethodPost, c.server+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Sigil-Identity", c.identity)
	return c.do(req)
}

func (c *client) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(out.String())
	return nil
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
