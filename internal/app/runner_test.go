package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggonzalez94/vault-gateway/internal/ledger"
	"github.com/ggonzalez94/vault-gateway/internal/ledger/ledgertest"
	"github.com/ggonzalez94/vault-gateway/internal/out"
	"github.com/ggonzalez94/vault-gateway/internal/signer"
	"github.com/ggonzalez94/vault-gateway/internal/version"
)

const testKey = "59c6995e998f97a5a0044976f0945388cf9b7e5e5f4f9d2d9d8f1f5b7f6d11d1"

// syncBuffer guards a buffer shared with the server goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	for _, k := range []string{
		"RPC_URL", "CHAIN_ID", "ACCOUNT_ADDRESS", "PRIVATE_KEY", "PRIVATE_KEY_FILE", "KEYSTORE_PATH",
		"VAULT_ADDRESS", "COLLATERAL_TOKEN_ADDRESS", "DEBT_TOKEN_ADDRESS", "PORT", "GATEWAY_CONFIG",
		"GATEWAY_ABI_URL", "GATEWAY_LOG_LEVEL", "GATEWAY_RATE_LIMIT", "GATEWAY_DISABLE_MINT",
	} {
		t.Setenv(k, "")
	}
}

func setValidEnv(t *testing.T) {
	t.Helper()
	s, err := signer.NewLocalSigner(signer.Config{PrivateKeyHex: testKey})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	t.Setenv("RPC_URL", "http://ledger.test:8545")
	t.Setenv("ACCOUNT_ADDRESS", s.Address().Hex())
	t.Setenv("PRIVATE_KEY", testKey)
	t.Setenv("VAULT_ADDRESS", ledgertest.VaultAddress.Hex())
	t.Setenv("COLLATERAL_TOKEN_ADDRESS", ledgertest.CollateralAddress.Hex())
	t.Setenv("DEBT_TOKEN_ADDRESS", ledgertest.DebtAddress.Hex())
	t.Setenv("GATEWAY_POLL_INTERVAL", "5ms")
}

func stubRunner(node *ledgertest.Node, stdout, stderr io.Writer, ready chan<- string) *Runner {
	r := NewRunnerWithWriters(stdout, stderr)
	r.dial = func(context.Context, string) (ledger.Backend, func(), error) {
		return node, nil, nil
	}
	r.listen = func(network, _ string) (net.Listener, error) {
		return net.Listen(network, "127.0.0.1:0")
	}
	r.ready = ready
	return r
}

func TestVersionCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	if code := r.Run([]string{"version"}); code != exitOK {
		t.Fatalf("expected exit 0, got %d (%s)", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != version.Version {
		t.Fatalf("unexpected version output %q", stdout.String())
	}

	stdout.Reset()
	if code := r.Run([]string{"version", "--long"}); code != exitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout.String(), "commit:") {
		t.Fatalf("expected build metadata, got %q", stdout.String())
	}
}

func TestServeFailsFastOnMissingConfig(t *testing.T) {
	clearEnv(t)
	var stdout, stderr bytes.Buffer
	r := NewRunnerWithWriters(&stdout, &stderr)
	code := r.Run([]string{"serve"})
	if code != exitConfig {
		t.Fatalf("expected config exit code, got %d", code)
	}
	if !strings.Contains(stderr.String(), "RPC_URL is required") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestServeRejectsUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := NewRunnerWithWriters(&stdout, &stderr).Run([]string{"serve", "--bogus"}); code != exitConfig {
		t.Fatalf("expected config exit code, got %d", code)
	}
}

func TestServeRejectsChainMismatch(t *testing.T) {
	clearEnv(t)
	setValidEnv(t)
	t.Setenv("CHAIN_ID", "1")
	var stdout syncBuffer
	var stderr bytes.Buffer
	r := stubRunner(ledgertest.NewNode(), &stdout, &stderr, nil)
	if code := r.Run([]string{"serve"}); code != exitConfig {
		t.Fatalf("expected config exit code, got %d (%s)", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "does not match") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestServeRejectsKeyForOtherAccount(t *testing.T) {
	clearEnv(t)
	setValidEnv(t)
	t.Setenv("ACCOUNT_ADDRESS", "0x00000000000000000000000000000000000000aa")
	var stdout syncBuffer
	var stderr bytes.Buffer
	r := stubRunner(ledgertest.NewNode(), &stdout, &stderr, nil)
	if code := r.Run([]string{"serve"}); code != exitConfig {
		t.Fatalf("expected config exit code, got %d", code)
	}
	if !strings.Contains(stderr.String(), "load signer") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
}

func TestServeHandlesRequestsAndShutsDown(t *testing.T) {
	clearEnv(t)
	setValidEnv(t)
	node := ledgertest.NewNode()
	ready := make(chan string, 1)
	var stdout syncBuffer
	var stderr bytes.Buffer
	r := stubRunner(node, &stdout, &stderr, ready)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan int, 1)
	go func() { done <- r.RunContext(ctx, []string{"serve", "--log-level", "debug"}) }()

	var addr string
	select {
	case addr = <-ready:
	case code := <-done:
		t.Fatalf("serve exited early with %d: %s", code, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}
	base := "http://" + addr

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from healthz, got %d", resp.StatusCode)
	}

	resp, err = http.Post(base+"/deposit", "application/json", strings.NewReader(`{"amount":"42"}`))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from deposit, got %d", resp.StatusCode)
	}
	account, err := signer.NewLocalSigner(signer.Config{PrivateKeyHex: testKey})
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	if got := node.Collateral(account.Address()); got.Int64() != 42 {
		t.Fatalf("expected collateral 42, got %s", got)
	}

	cancel()
	select {
	case code := <-done:
		if code != exitOK {
			t.Fatalf("expected clean shutdown, got %d: %s", code, stderr.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	if !strings.Contains(stdout.String(), `"message":"listening"`) {
		t.Fatalf("expected listening log line, got %s", stdout.String())
	}
}

func TestShutdownAnswersPendingWriteWithTimedOut(t *testing.T) {
	clearEnv(t)
	setValidEnv(t)
	t.Setenv("GATEWAY_CONFIRM_TIMEOUT", "1m")
	node := ledgertest.NewNode()
	node.WithholdReceipts = true
	ready := make(chan string, 1)
	var stdout syncBuffer
	var stderr bytes.Buffer
	r := stubRunner(node, &stdout, &stderr, ready)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan int, 1)
	go func() { done <- r.RunContext(ctx, []string{"serve"}) }()

	var addr string
	select {
	case addr = <-ready:
	case code := <-done:
		t.Fatalf("serve exited early with %d: %s", code, stderr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	type result struct {
		status int
		body   out.ErrorBody
		err    error
	}
	results := make(chan result, 1)
	go func() {
		resp, err := http.Post("http://"+addr+"/deposit", "application/json", strings.NewReader(`{"amount":"7"}`))
		if err != nil {
			results <- result{err: err}
			return
		}
		defer resp.Body.Close()
		var body out.ErrorBody
		err = json.NewDecoder(resp.Body).Decode(&body)
		results <- result{status: resp.StatusCode, body: body, err: err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for node.SendCount.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if node.SendCount.Load() != 1 {
		t.Fatal("deposit was never broadcast")
	}
	cancel()

	select {
	case res := <-results:
		if res.err != nil {
			t.Fatalf("expected a response body, got %v", res.err)
		}
		if res.status != http.StatusGatewayTimeout || res.body.Code != "TimedOut" {
			t.Fatalf("expected 504 TimedOut, got %d %+v", res.status, res.body)
		}
		if !strings.HasPrefix(res.body.Tx, "0x") || !strings.Contains(res.body.Error, "may still land") {
			t.Fatalf("expected hash and may-still-land message, got %+v", res.body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending write was not answered during shutdown")
	}

	select {
	case code := <-done:
		if code != exitOK {
			t.Fatalf("expected clean shutdown, got %d: %s", code, stderr.String())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
