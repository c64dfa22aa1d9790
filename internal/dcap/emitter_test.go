package dcap_test

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/cantondev/canton-mcp-server/internal/dcap"
)

// listen opens a loopback UDP socket and returns it with a channel of
// received payloads.
func listen(t *testing.T) (*net.UDPAddr, <-chan []byte) {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	ch := make(chan []byte, 16)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			payload := make([]byte, n)
			copy(payload, buf[:n])
			ch <- payload
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr), ch
}

func newEmitter(t *testing.T, addr *net.UDPAddr) *dcap.Emitter {
	t.Helper()
	e, err := dcap.NewEmitter(dcap.Config{
		Addr:       addr.IP.String(),
		Port:       addr.Port,
		ServerID:   "canton-mcp-test",
		ServerName: "Canton MCP Test",
	}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func receive(t *testing.T, ch <-chan []byte) map[string]any {
	t.Helper()
	select {
	case payload := <-ch:
		var rec map[string]any
		if err := json.Unmarshal(payload, &rec); err != nil {
			t.Fatalf("datagram not JSON: %v", err)
		}
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("no datagram received")
		return nil
	}
}

func TestEmitPerf(t *testing.T) {
	addr, ch := listen(t)
	e := newEmitter(t, addr)

	cost := 0.10
	e.EmitPerf(dcap.PerfRecord{
		Tool:     "validate_daml_business_logic",
		ExecMS:   42,
		Success:  true,
		Ctx:      dcap.PerfContext{Args: map[string]any{"daml_code": "template Foo"}},
		CostPaid: &cost,
		Currency: "USDC",
	})

	rec := receive(t, ch)
	if rec["v"] != float64(2) || rec["t"] != "perf_update" {
		t.Errorf("header fields = v:%v t:%v", rec["v"], rec["t"])
	}
	if rec["sid"] != "canton-mcp-test" {
		t.Errorf("sid = %v", rec["sid"])
	}
	if rec["tool"] != "validate_daml_business_logic" || rec["exec_ms"] != float64(42) {
		t.Errorf("tool fields = %v / %v", rec["tool"], rec["exec_ms"])
	}
	if rec["success"] != true || rec["cost_paid"] != 0.10 || rec["currency"] != "USDC" {
		t.Errorf("payment fields = %v / %v / %v", rec["success"], rec["cost_paid"], rec["currency"])
	}
	if _, hasTS := rec["ts"]; !hasTS {
		t.Error("ts missing")
	}
}

func TestEmitPerfOmitsCostWhenUnpaid(t *testing.T) {
	addr, ch := listen(t)
	e := newEmitter(t, addr)

	e.EmitPerf(dcap.PerfRecord{Tool: "echo", ExecMS: 1, Success: true})

	rec := receive(t, ch)
	if _, present := rec["cost_paid"]; present {
		t.Error("cost_paid present on a free call")
	}
	if _, present := rec["currency"]; present {
		t.Error("currency present on a free call")
	}
}

func TestEmitPerfTruncatesOversizeArgs(t *testing.T) {
	addr, ch := listen(t)
	e := newEmitter(t, addr)

	// Many argument keys so even anonymized values exceed the datagram cap.
	args := make(map[string]any, 200)
	for i := 0; i < 200; i++ {
		args[strings.Repeat("k", 10)+string(rune('a'+i%26))+string(rune('a'+i/26))] = strings.Repeat("v", 19)
	}
	e.EmitPerf(dcap.PerfRecord{Tool: "big", ExecMS: 1, Success: true, Ctx: dcap.PerfContext{Args: args}})

	rec := receive(t, ch)
	if rec["tool"] != "big" {
		t.Errorf("tool = %v", rec["tool"])
	}
	ctx, _ := rec["ctx"].(map[string]any)
	inner, _ := ctx["args"].(map[string]any)
	if len(inner) != 0 {
		t.Errorf("oversize args not dropped: %d keys survive", len(inner))
	}
}

func TestAnonymizeArgs(t *testing.T) {
	in := map[string]any{
		"short":  "hello",
		"long":   strings.Repeat("x", 100),
		"number": 42,
		"flag":   true,
		"list":   []any{1, 2, 3},
		"object": map[string]any{"a": 1, "b": 2},
		"null":   nil,
	}
	out := dcap.AnonymizeArgs(in)

	if out["short"] != "hello" {
		t.Errorf("short = %v", out["short"])
	}
	long, _ := out["long"].(string)
	if len(long) != 23 || !strings.HasSuffix(long, "...") {
		t.Errorf("long = %q", long)
	}
	if out["number"] != 42 || out["flag"] != true {
		t.Errorf("scalars = %v / %v", out["number"], out["flag"])
	}
	if out["list"] != "[3 items]" {
		t.Errorf("list = %v", out["list"])
	}
	if out["object"] != "{2 fields}" {
		t.Errorf("object = %v", out["object"])
	}
	if out["null"] != nil {
		t.Errorf("null = %v", out["null"])
	}
}

func TestEmitDiscovery(t *testing.T) {
	addr, ch := listen(t)
	e := newEmitter(t, addr)

	e.EmitDiscovery(dcap.DiscoveryRecord{
		Tool:        "echo",
		Description: "Echo a test message",
		Pricing:     map[string]any{"model": "free"},
		Connector: dcap.Connector{
			Transport: dcap.ConnectorTransport{Type: "sse", Endpoint: "http://localhost:7284/mcp"},
			Auth:      dcap.ConnectorAuth{Type: "none"},
			MCP: dcap.ConnectorMCP{
				ProtocolVersion: "2025-06-18",
				ServerName:      "canton-mcp-server",
				ServerVersion:   "dev",
			},
		},
	})

	rec := receive(t, ch)
	if rec["t"] != "semantic_discover" || rec["tool"] != "echo" {
		t.Errorf("record = %v / %v", rec["t"], rec["tool"])
	}
	if rec["server_name"] != "Canton MCP Test" {
		t.Errorf("server_name = %v", rec["server_name"])
	}
	connector, _ := rec["connector"].(map[string]any)
	transport, _ := connector["transport"].(map[string]any)
	if transport["type"] != "sse" || transport["endpoint"] != "http://localhost:7284/mcp" {
		t.Errorf("transport = %#v", transport)
	}
}

func TestStartDiscoveryBroadcastsImmediately(t *testing.T) {
	addr, ch := listen(t)
	e := newEmitter(t, addr)

	catalogue := func() []dcap.DiscoveryRecord {
		return []dcap.DiscoveryRecord{{Tool: "echo"}, {Tool: "validate_daml_business_logic"}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.StartDiscovery(ctx, time.Hour, catalogue)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		rec := receive(t, ch)
		seen[rec["tool"].(string)] = true
	}
	if !seen["echo"] || !seen["validate_daml_business_logic"] {
		t.Errorf("tools seen = %v", seen)
	}
}

func TestStartDiscoveryClampsNonPositiveInterval(t *testing.T) {
	addr, ch := listen(t)
	e := newEmitter(t, addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.StartDiscovery(ctx, 0, func() []dcap.DiscoveryRecord {
		return []dcap.DiscoveryRecord{{Tool: "echo"}}
	})

	// The immediate broadcast still happens; the zero interval must not
	// crash the ticker goroutine.
	rec := receive(t, ch)
	if rec["tool"] != "echo" {
		t.Errorf("tool = %v", rec["tool"])
	}
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	addr, _ := listen(t)
	e := newEmitter(t, addr)

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Late records from calls still draining at shutdown are dropped, not
	// sent on the closed queue.
	e.EmitPerf(dcap.PerfRecord{Tool: "echo", ExecMS: 1, Success: true})
	e.EmitDiscovery(dcap.DiscoveryRecord{Tool: "echo"})
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestNewEmitterRejectsBadAddress(t *testing.T) {
	_, err := dcap.NewEmitter(dcap.Config{Addr: "not-an-ip", Port: 10191}, zap.NewNop())
	if err == nil {
		t.Fatal("invalid address accepted")
	}
}
