package headfeed

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSubscribeRequest_JSONShape(t *testing.T) {
	req := subscribeRequest{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: []any{"newHeads"}}
	b, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, ok := m["method"].(string); !ok || got != "eth_subscribe" {
		t.Fatalf("method mismatch: %#v", m["method"])
	}
	params, ok := m["params"].([]any)
	if !ok || len(params) != 1 || params[0] != "newHeads" {
		t.Fatalf("params mismatch: %#v", m["params"])
	}
}

func TestDecodeFrame_Notification(t *testing.T) {
	frame := []byte(`{"jsonrpc":"2.0","method":"eth_subscription","params":{"subscription":"0xcd0c3e8af590364c09d0fa6a1210faf5","result":{"number":"0x1b4","hash":"0xabc","timestamp":"0x64","baseFeePerGas":"0x3b9aca00"}}}`)
	now := time.Unix(1_700_000_000, 0)

	head, ok, err := decodeFrame(frame, now)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ok {
		t.Fatal("notification should yield a head")
	}
	if head.Number != 436 {
		t.Fatalf("number: got=%d want=436", head.Number)
	}
	if head.Hash != "0xabc" {
		t.Fatalf("hash: got=%q", head.Hash)
	}
	if !head.Time.Equal(time.Unix(100, 0)) {
		t.Fatalf("time: got=%s", head.Time)
	}
	if head.BaseFee == nil || head.BaseFee.Int64() != 1_000_000_000 {
		t.Fatalf("base fee: got=%v want=1000000000", head.BaseFee)
	}
	if !head.Received.Equal(now) {
		t.Fatalf("received: got=%s", head.Received)
	}
}

func TestDecodeFrame_SubscribeAckIgnored(t *testing.T) {
	frame := []byte(`{"jsonrpc":"2.0","id":1,"result":"0xcd0c3e8af590364c09d0fa6a1210faf5"}`)
	_, ok, err := decodeFrame(frame, time.Now())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ok {
		t.Fatal("subscribe ack must not produce a head")
	}
}

func TestDecodeFrame_RPCError(t *testing.T) {
	frame := []byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"notifications not supported"}}`)
	if _, _, err := decodeFrame(frame, time.Now()); err == nil {
		t.Fatal("rpc error frame should surface an error")
	}
}

func TestParseHexUint64(t *testing.T) {
	if v, err := parseHexUint64("0x2a"); err != nil || v != 42 {
		t.Fatalf("got=%d err=%v", v, err)
	}
	if _, err := parseHexUint64("0x"); err == nil {
		t.Fatal("bare prefix should fail")
	}
	if _, err := parseHexUint64("zz"); err == nil {
		t.Fatal("non-hex should fail")
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	o := (Options{}).withDefaults()
	if o.PingInterval != DefaultPingInterval {
		t.Fatalf("PingInterval: got=%s want=%s", o.PingInterval, DefaultPingInterval)
	}
	if o.BackoffMin <= 0 || o.BackoffMax <= 0 {
		t.Fatalf("backoff defaults missing: %#v", o)
	}
	if o.OutBuffer <= 0 {
		t.Fatalf("OutBuffer default missing: %#v", o)
	}
}

func TestNextBackoff_CapsAtMax(t *testing.T) {
	if got := nextBackoff(2*time.Second, 3*time.Second); got != 3*time.Second {
		t.Fatalf("got=%s want=%s", got, 3*time.Second)
	}
	if got := nextBackoff(250*time.Millisecond, 3*time.Second); got != 500*time.Millisecond {
		t.Fatalf("got=%s want=%s", got, 500*time.Millisecond)
	}
}
