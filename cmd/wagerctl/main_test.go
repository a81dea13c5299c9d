package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/atmx/wager-engine/internal/api"
	"github.com/atmx/wager-engine/internal/auth"
	"github.com/atmx/wager-engine/internal/vrf"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := RootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

var quoted = regexp.MustCompile(`"([^"]+)"`)

func keyPair(t *testing.T, out string) (string, string) {
	t.Helper()
	m := quoted.FindAllStringSubmatch(out, -1)
	if len(m) != 2 {
		t.Fatalf("unexpected keygen output:\n%s", out)
	}
	return m[0][1], m[1][1]
}

func TestOracle_KeygenThenProve(t *testing.T) {
	out, err := execute(t, "oracle", "keygen")
	if err != nil {
		t.Fatal(err)
	}
	priv, pub := keyPair(t, out)

	out, err = execute(t, "oracle", "prove", "--key", priv, "--game", "g1", "--request", "r1")
	if err != nil {
		t.Fatal(err)
	}
	var req api.FulfillRequest
	if err := json.Unmarshal([]byte(out), &req); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	outcome, err := strconv.ParseUint(req.Outcome, 10, 64)
	if err != nil {
		t.Fatal(err)
	}
	proof, err := hex.DecodeString(req.Proof)
	if err != nil {
		t.Fatal(err)
	}

	v, err := vrf.NewEdDSAVerifier(pub)
	if err != nil {
		t.Fatal(err)
	}
	if err := v.Verify("g1", "r1", outcome, proof); err != nil {
		t.Fatalf("proof rejected: %v", err)
	}
	if err := v.Verify("g1", "r2", outcome, proof); err == nil {
		t.Fatal("proof accepted for a different request")
	}
}

func TestOracle_ProveMissingFlag(t *testing.T) {
	if _, err := execute(t, "oracle", "prove", "--game", "g1", "--request", "r1"); err == nil {
		t.Fatal("expected missing --key error")
	}
}

func TestOracle_ProveSubmitsToServer(t *testing.T) {
	signer := vrf.GenerateSigner()
	key, err := signer.MarshalHex()
	if err != nil {
		t.Fatal(err)
	}

	var got api.FulfillRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out, err := execute(t, "oracle", "prove", "-k", key, "-g", "g1", "-r", "r9", "--server", srv.URL+"/")
	if err != nil {
		t.Fatal(err)
	}
	if path != "/api/v1/randomness/r9/fulfill" {
		t.Errorf("path = %s", path)
	}
	if got.Proof == "" || !strings.Contains(out, "fulfilled r9") {
		t.Errorf("request = %+v, output = %q", got, out)
	}
}

func TestOracle_ProveReportsRejection(t *testing.T) {
	key, _ := vrf.GenerateSigner().MarshalHex()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no such request","code":"UnknownRequest"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := execute(t, "oracle", "prove", "-k", key, "-g", "g1", "-r", "r1", "-s", srv.URL)
	if err == nil || !strings.Contains(err.Error(), "UnknownRequest") {
		t.Fatalf("err = %v", err)
	}
}

func TestToken_KeygenThenIssue(t *testing.T) {
	out, err := execute(t, "token", "keygen")
	if err != nil {
		t.Fatal(err)
	}
	priv, pub := keyPair(t, out)

	out, err = execute(t, "token", "issue", "--key", priv, "--subject", "alice", "--ttl", "1h")
	if err != nil {
		t.Fatal(err)
	}
	pubKey, err := auth.DecodePublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	v, err := auth.NewVerifier(pubKey, "wagerctl", "wager-engine")
	if err != nil {
		t.Fatal(err)
	}
	sub, err := v.Verify(strings.TrimSpace(out))
	if err != nil {
		t.Fatal(err)
	}
	if sub != "alice" {
		t.Fatalf("subject = %q", sub)
	}
}

func TestFee(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    []string
		wantErr bool
	}{
		{"percent", []string{"--percent", "2.5%"}, []string{"fee_bps = 250 (2.50%)"}, false},
		{"bps", []string{"--bps", "500"}, []string{"fee_bps = 500 (5.00%)"}, false},
		{"split", []string{"-p", "5", "--pool", "301", "--winners", "2"}, []string{"fee     = 15", "shares  = [143 143]"}, false},
		{"zero bps", []string{"--bps", "0"}, []string{"fee_bps = 0 (0.00%)"}, false},
		{"both", []string{"-p", "1", "-b", "100"}, nil, true},
		{"neither", nil, nil, true},
		{"too fine", []string{"-p", "0.001"}, nil, true},
		{"too large", []string{"-b", "10001"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, append([]string{"fee"}, tt.args...)...)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("output missing %q:\n%s", w, out)
				}
			}
		})
	}
}

func TestConfigCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wager.toml")
	body := "[server]\nport = \"9090\"\n\n[game]\ntimeout = \"2m\"\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, "config", "check", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "port=9090") || !strings.Contains(out, "timeout="+(2*time.Minute).String()) {
		t.Fatalf("output = %q", out)
	}

	if _, err := execute(t, "config", "check", filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
