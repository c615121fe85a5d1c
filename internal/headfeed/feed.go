// Package headfeed subscribes to newHeads over a raw JSON-RPC websocket.
// Used by the latency probe to measure head arrival delay without the
// abstraction cost of a full client.
package headfeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const DefaultPingInterval = 5 * time.Second

// Head is one decoded newHeads notification. Received is stamped locally the
// moment the frame is read, so Received minus Time is the end-to-end delay
// (block timestamps have whole-second resolution).
type Head struct {
	Number   uint64
	Hash     string
	Time     time.Time
	BaseFee  *big.Int
	Received time.Time
}

type subscribeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// envelope covers both the eth_subscribe ack and subsequent notifications.
type envelope struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

type wireHead struct {
	Number    string `json:"number"`
	Hash      string `json:"hash"`
	Timestamp string `json:"timestamp"`
	BaseFee   string `json:"baseFeePerGas"`
}

type Options struct {
	PingInterval time.Duration

	BackoffMin time.Duration
	BackoffMax time.Duration

	OutBuffer int

	// OnPong, when set, receives the round trip of each keepalive ping.
	// Called from the session's read loop.
	OnPong func(rtt time.Duration)
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Second
	}
	if o.OutBuffer <= 0 {
		o.OutBuffer = 64
	}
	return o
}

// Start connects to the websocket endpoint, subscribes to newHeads and emits
// decoded heads until the context ends, reconnecting with backoff on any
// session failure. Slow consumers lose heads rather than stalling the read
// loop.
func Start(ctx context.Context, url string, opts Options) (<-chan Head, <-chan error) {
	opts = opts.withDefaults()

	out := make(chan Head, opts.OutBuffer)
	errs := make(chan error, 16)

	go func() {
		defer close(out)
		defer close(errs)

		backoff := opts.BackoffMin
		for {
			if ctx.Err() != nil {
				return
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				emitErrNonBlocking(errs, fmt.Errorf("headfeed dial: %w", err))
				sleepWithJitter(ctx, backoff)
				backoff = nextBackoff(backoff, opts.BackoffMax)
				continue
			}

			backoff = opts.BackoffMin

			if err := runSession(ctx, conn, opts, out, errs); err != nil && ctx.Err() == nil {
				emitErrNonBlocking(errs, err)
			}

			_ = conn.Close()
			if ctx.Err() != nil {
				return
			}
			sleepWithJitter(ctx, backoff)
			backoff = nextBackoff(backoff, opts.BackoffMax)
		}
	}()

	return out, errs
}

func runSession(ctx context.Context, conn *websocket.Conn, opts Options, out chan<- Head, errs chan<- error) error {
	if conn == nil {
		return fmt.Errorf("headfeed session: nil conn")
	}

	req := subscribeRequest{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: []any{"newHeads"}}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("headfeed subscribe marshal: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, reqBytes); err != nil {
		return fmt.Errorf("headfeed subscribe write: %w", err)
	}

	var writeMu sync.Mutex
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }

	// Newest-ping-wins: a pong is timed against the most recent ping sent.
	var lastPingNs atomic.Int64
	if opts.OnPong != nil {
		conn.SetPongHandler(func(string) error {
			if sent := lastPingNs.Swap(0); sent != 0 {
				opts.OnPong(time.Since(time.Unix(0, sent)))
			}
			return nil
		})
	}

	go func() {
		defer stopAll()
		t := time.NewTicker(opts.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				lastPingNs.Store(time.Now().UnixNano())
				writeMu.Lock()
				werr := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(3*time.Second))
				writeMu.Unlock()
				if werr != nil {
					lastPingNs.Store(0)
					emitErrNonBlocking(errs, fmt.Errorf("headfeed ping: %w", werr))
					_ = conn.Close()
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			stopAll()
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("headfeed read: %w", err)
		}

		if typ != websocket.TextMessage && typ != websocket.BinaryMessage {
			continue
		}
		if len(msg) == 0 {
			continue
		}

		head, ok, err := decodeFrame(msg, time.Now())
		if err != nil {
			emitErrNonBlocking(errs, err)
			continue
		}
		if !ok {
			continue
		}

		select {
		case out <- head:
		default:
		}
	}
}

// decodeFrame parses one websocket frame. The subscribe ack and anything
// that is not an eth_subscription notification decode cleanly but yield
// ok=false.
func decodeFrame(msg []byte, received time.Time) (Head, bool, error) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Head{}, false, fmt.Errorf("headfeed json decode: %w", err)
	}
	if env.Error != nil {
		return Head{}, false, fmt.Errorf("headfeed rpc error %d: %s", env.Error.Code, env.Error.Message)
	}
	if env.Method != "eth_subscription" {
		return Head{}, false, nil
	}

	var wh wireHead
	if err := json.Unmarshal(env.Params.Result, &wh); err != nil {
		return Head{}, false, fmt.Errorf("headfeed head decode: %w", err)
	}
	number, err := parseHexUint64(wh.Number)
	if err != nil {
		return Head{}, false, fmt.Errorf("headfeed block number %q: %w", wh.Number, err)
	}
	ts, err := parseHexUint64(wh.Timestamp)
	if err != nil {
		return Head{}, false, fmt.Errorf("headfeed timestamp %q: %w", wh.Timestamp, err)
	}

	head := Head{
		Number:   number,
		Hash:     wh.Hash,
		Time:     time.Unix(int64(ts), 0),
		Received: received,
	}
	if wh.BaseFee != "" {
		if fee, ok := new(big.Int).SetString(strings.TrimPrefix(wh.BaseFee, "0x"), 16); ok {
			head.BaseFee = fee
		}
	}
	return head, true, nil
}

func parseHexUint64(s string) (uint64, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	return strconv.ParseUint(trimmed, 16, 64)
}

func emitErrNonBlocking(ch chan<- error, err error) {
	if err == nil {
		return
	}
	select {
	case ch <- err:
	default:
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	j := int64(d) / 7
	if j > 0 {
		d = time.Duration(int64(d) + rand.Int64N(2*j+1) - j)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
