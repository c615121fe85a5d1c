// Command probe measures RPC endpoint latency ahead of a launch window:
// HTTP JSON-RPC round-trip breakdowns for eth_blockNumber and eth_gasPrice,
// plus a newHeads websocket feed timing head arrival and keepalive round
// trips. Run it from each candidate region and compare the summaries.
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/http/httptrace"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"fleetsnipe/internal/dotenv"
	"fleetsnipe/internal/headfeed"
	"fleetsnipe/internal/jsonl"
)

type stats struct {
	min    int64
	median int64
	p95    int64
	max    int64
}

func summarize(values []int64) stats {
	if len(values) == 0 {
		return stats{}
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	pick := func(q float64) int64 {
		idx := int(q * float64(len(sorted)))
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return stats{
		min:    sorted[0],
		median: pick(0.5),
		p95:    pick(0.95),
		max:    sorted[len(sorted)-1],
	}
}

type ring struct {
	mu         sync.Mutex
	buf        []int64
	next       int
	hasWrapped bool
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 4096
	}
	return &ring{buf: make([]int64, 0, capacity)}
}

func (r *ring) add(v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, v)
		return
	}
	r.hasWrapped = true
	r.buf[r.next] = v
	r.next++
	if r.next >= len(r.buf) {
		r.next = 0
	}
}

func (r *ring) snapshot() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return nil
	}
	out := make([]int64, 0, len(r.buf))
	if !r.hasWrapped || r.next == 0 {
		out = append(out, r.buf...)
		return out
	}
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

type args struct {
	label       string
	outFile     string
	duration    time.Duration
	printEvery  time.Duration
	printFormat string

	httpURL          string
	httpTimeout      time.Duration
	disableKeepAlive bool
	blockInterval    time.Duration
	gasInterval      time.Duration

	wsURL        string
	pingInterval time.Duration

	sampleCap int
}

func parseArgs() (args, error) {
	var (
		labelFlag       string
		outFlag         string
		durationFlag    time.Duration
		printEveryFlag  time.Duration
		printFormatFlag string

		httpURLFlag       string
		httpTimeoutFlag   time.Duration
		noKeepAliveFlag   bool
		blockIntervalFlag time.Duration
		gasIntervalFlag   time.Duration

		wsURLFlag  string
		wsPingFlag time.Duration

		sampleCapFlag int
	)

	flag.StringVar(&labelFlag, "label", "", "Optional label for this run (e.g. fra, nyc, local)")
	flag.StringVar(&outFlag, "out", "", "Optional JSONL sample file")
	flag.DurationVar(&durationFlag, "duration", 30*time.Second, "Total runtime (0 = run until Ctrl+C)")
	flag.DurationVar(&printEveryFlag, "print-every", 5*time.Second, "How often to print summary stats")
	flag.StringVar(&printFormatFlag, "print-format", "table", "Summary output format: table or compact")

	flag.StringVar(&httpURLFlag, "http-url", "", "HTTP JSON-RPC endpoint (default $RPC_URL)")
	flag.DurationVar(&httpTimeoutFlag, "http-timeout", 5*time.Second, "Per-request timeout for HTTP probes")
	flag.BoolVar(&noKeepAliveFlag, "no-keepalive", false, "Disable HTTP keep-alives (forces new TCP/TLS each request)")
	flag.DurationVar(&blockIntervalFlag, "block-interval", 500*time.Millisecond, "Interval for eth_blockNumber probes")
	flag.DurationVar(&gasIntervalFlag, "gas-interval", 2*time.Second, "Interval for eth_gasPrice probes")

	flag.StringVar(&wsURLFlag, "ws-url", "", "Websocket JSON-RPC endpoint for newHeads (default $RPC_WS_URL)")
	flag.DurationVar(&wsPingFlag, "ws-ping", 5*time.Second, "Websocket keepalive ping interval")

	flag.IntVar(&sampleCapFlag, "sample-cap", 4096, "Max samples kept per metric in memory (ring buffer)")

	flag.Parse()

	label := strings.TrimSpace(labelFlag)
	if label == "" {
		label = strings.TrimSpace(os.Getenv("PROBE_LABEL"))
	}
	outFile := strings.TrimSpace(outFlag)
	if outFile == "" {
		outFile = strings.TrimSpace(os.Getenv("PROBE_OUT_FILE"))
	}

	if printEveryFlag <= 0 {
		return args{}, fmt.Errorf("print-every must be > 0")
	}
	if durationFlag < 0 {
		return args{}, fmt.Errorf("duration must be >= 0")
	}
	printFormat := strings.ToLower(strings.TrimSpace(printFormatFlag))
	if printFormat == "" {
		printFormat = "table"
	}
	switch printFormat {
	case "table", "compact":
	default:
		return args{}, fmt.Errorf("invalid print-format %q (use table or compact)", printFormatFlag)
	}

	httpURL := strings.TrimSpace(httpURLFlag)
	if httpURL == "" {
		httpURL = strings.TrimSpace(os.Getenv("RPC_URL"))
	}
	if httpURL != "" && !strings.HasPrefix(httpURL, "http://") && !strings.HasPrefix(httpURL, "https://") {
		return args{}, fmt.Errorf("http-url must start with http:// or https:// (got %q)", httpURL)
	}
	if httpTimeoutFlag <= 0 {
		return args{}, fmt.Errorf("http-timeout must be > 0")
	}
	if blockIntervalFlag <= 0 {
		return args{}, fmt.Errorf("block-interval must be > 0")
	}
	if gasIntervalFlag <= 0 {
		return args{}, fmt.Errorf("gas-interval must be > 0")
	}

	wsURL := strings.TrimSpace(wsURLFlag)
	if wsURL == "" {
		wsURL = strings.TrimSpace(os.Getenv("RPC_WS_URL"))
	}
	if wsURL != "" && !strings.HasPrefix(wsURL, "ws://") && !strings.HasPrefix(wsURL, "wss://") {
		return args{}, fmt.Errorf("ws-url must start with ws:// or wss:// (got %q)", wsURL)
	}
	if wsPingFlag <= 0 {
		return args{}, fmt.Errorf("ws-ping must be > 0")
	}

	if httpURL == "" && wsURL == "" {
		return args{}, fmt.Errorf("nothing to probe: set --http-url/$RPC_URL or --ws-url/$RPC_WS_URL")
	}
	if sampleCapFlag <= 0 {
		return args{}, fmt.Errorf("sample-cap must be > 0")
	}

	return args{
		label:            label,
		outFile:          outFile,
		duration:         durationFlag,
		printEvery:       printEveryFlag,
		printFormat:      printFormat,
		httpURL:          httpURL,
		httpTimeout:      httpTimeoutFlag,
		disableKeepAlive: noKeepAliveFlag,
		blockInterval:    blockIntervalFlag,
		gasInterval:      gasIntervalFlag,
		wsURL:            wsURL,
		pingInterval:     wsPingFlag,
		sampleCap:        sampleCapFlag,
	}, nil
}

type httpMetrics struct {
	totalMs *ring
	ttfbMs  *ring
	dnsMs   *ring
	connMs  *ring
	tlsMs   *ring

	ok     atomic.Int64
	errors atomic.Int64
	reused atomic.Int64
}

func newHTTPMetrics(sampleCap int) *httpMetrics {
	return &httpMetrics{
		totalMs: newRing(sampleCap),
		ttfbMs:  newRing(sampleCap),
		dnsMs:   newRing(sampleCap),
		connMs:  newRing(sampleCap),
		tlsMs:   newRing(sampleCap),
	}
}

type wsMetrics struct {
	heads    atomic.Int64
	feedErrs atomic.Int64

	delayMs    *ring
	intervalMs *ring
	pingRttMs  *ring
}

func newWSMetrics(sampleCap int) *wsMetrics {
	return &wsMetrics{
		delayMs:    newRing(sampleCap),
		intervalMs: newRing(sampleCap),
		pingRttMs:  newRing(sampleCap),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int64  `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type traceTimings struct {
	dns        time.Duration
	connect    time.Duration
	tls        time.Duration
	ttfb       time.Duration
	connReused bool
}

// rpcPostTimed issues one JSON-RPC call with an httptrace attached and
// returns the per-phase timings alongside the decoded result.
func rpcPostTimed(ctx context.Context, client *http.Client, url, method string) (traceTimings, int, json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: []any{}})
	if err != nil {
		return traceTimings{}, 0, nil, err
	}

	var (
		t0 = time.Now()
		td traceTimings

		dnsStart, connStart, tlsStart time.Time
		gotFirstByte                  time.Time
	)

	trace := &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone: func(httptrace.DNSDoneInfo) {
			if !dnsStart.IsZero() {
				td.dns = time.Since(dnsStart)
			}
		},
		ConnectStart: func(_, _ string) { connStart = time.Now() },
		ConnectDone: func(_, _ string, err error) {
			if err == nil && !connStart.IsZero() {
				td.connect = time.Since(connStart)
			}
		},
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil && !tlsStart.IsZero() {
				td.tls = time.Since(tlsStart)
			}
		},
		GotConn: func(info httptrace.GotConnInfo) { td.connReused = info.Reused },
		GotFirstResponseByte: func() {
			if gotFirstByte.IsZero() {
				gotFirstByte = time.Now()
			}
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return traceTimings{}, 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return traceTimings{}, 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if gotFirstByte.IsZero() {
		gotFirstByte = time.Now()
	}
	td.ttfb = gotFirstByte.Sub(t0)
	if err != nil {
		return td, resp.StatusCode, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return td, resp.StatusCode, nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var parsed rpcResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return td, resp.StatusCode, nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if parsed.Error != nil {
		return td, resp.StatusCode, nil, fmt.Errorf("rpc error %d: %s", parsed.Error.Code, parsed.Error.Message)
	}
	return td, resp.StatusCode, parsed.Result, nil
}

func decodeHexQuantity(raw json.RawMessage) (*big.Int, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("quantity decode: %w", err)
	}
	v, ok := new(big.Int).SetString(strings.TrimPrefix(s, "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("bad hex quantity %q", s)
	}
	return v, nil
}

func fmtMs(ms int64) string {
	sign := ""
	if ms < 0 {
		sign = "-"
		ms = -ms
	}
	switch {
	case ms >= 60_000:
		return fmt.Sprintf("%s%.1fm", sign, float64(ms)/60_000.0)
	case ms >= 1_000:
		return fmt.Sprintf("%s%.2fs", sign, float64(ms)/1_000.0)
	default:
		return fmt.Sprintf("%s%dms", sign, ms)
	}
}

func baseRow(label, metric string) map[string]any {
	return map[string]any{
		"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		"label":  label,
		"metric": metric,
	}
}

func writeRow(w *jsonl.Writer, row map[string]any) {
	if err := w.Write(row); err != nil {
		log.Printf("[warn] sample write: %v", err)
	}
}

// blockNumberLoop probes eth_blockNumber. When the websocket feed is live,
// each sample also records how many blocks the HTTP answer trails it by.
func blockNumberLoop(ctx context.Context, a args, client *http.Client, m *httpMetrics, headGap *ring, wsHead *atomic.Int64, writer *jsonl.Writer) {
	t := time.NewTicker(a.blockInterval)
	defer t.Stop()

	run := func() {
		reqCtx, cancel := context.WithTimeout(ctx, a.httpTimeout)
		defer cancel()

		t0 := time.Now()
		td, status, result, err := rpcPostTimed(reqCtx, client, a.httpURL, "eth_blockNumber")
		totalMs := time.Since(t0).Milliseconds()

		row := baseRow(a.label, "rpc_block_number")
		row["url"] = a.httpURL
		row["status"] = status
		row["total_ms"] = totalMs
		row["ttfb_ms"] = td.ttfb.Milliseconds()
		row["dns_ms"] = td.dns.Milliseconds()
		row["conn_ms"] = td.connect.Milliseconds()
		row["tls_ms"] = td.tls.Milliseconds()
		row["reused"] = td.connReused
		row["err"] = ""

		if td.connReused {
			m.reused.Add(1)
		}
		if err == nil {
			var num *big.Int
			if num, err = decodeHexQuantity(result); err == nil && !num.IsUint64() {
				err = fmt.Errorf("block number out of range: %s", num)
			}
			if err == nil {
				m.ok.Add(1)
				m.totalMs.add(totalMs)
				m.ttfbMs.add(td.ttfb.Milliseconds())
				m.dnsMs.add(td.dns.Milliseconds())
				m.connMs.add(td.connect.Milliseconds())
				m.tlsMs.add(td.tls.Milliseconds())
				row["number"] = num.Uint64()
				if ws := wsHead.Load(); ws > 0 {
					gap := ws - int64(num.Uint64())
					headGap.add(gap)
					row["head_gap"] = gap
				}
				writeRow(writer, row)
				return
			}
		}
		m.errors.Add(1)
		row["err"] = err.Error()
		writeRow(writer, row)
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			run()
		}
	}
}

func gasPriceLoop(ctx context.Context, a args, client *http.Client, m *httpMetrics, lastGwei *atomic.Int64, writer *jsonl.Writer) {
	t := time.NewTicker(a.gasInterval)
	defer t.Stop()

	run := func() {
		reqCtx, cancel := context.WithTimeout(ctx, a.httpTimeout)
		defer cancel()

		t0 := time.Now()
		td, status, result, err := rpcPostTimed(reqCtx, client, a.httpURL, "eth_gasPrice")
		totalMs := time.Since(t0).Milliseconds()

		row := baseRow(a.label, "rpc_gas_price")
		row["url"] = a.httpURL
		row["status"] = status
		row["total_ms"] = totalMs
		row["ttfb_ms"] = td.ttfb.Milliseconds()
		row["dns_ms"] = td.dns.Milliseconds()
		row["conn_ms"] = td.connect.Milliseconds()
		row["tls_ms"] = td.tls.Milliseconds()
		row["reused"] = td.connReused
		row["err"] = ""

		if td.connReused {
			m.reused.Add(1)
		}
		if err == nil {
			var price *big.Int
			if price, err = decodeHexQuantity(result); err == nil {
				m.ok.Add(1)
				m.totalMs.add(totalMs)
				m.ttfbMs.add(td.ttfb.Milliseconds())
				m.dnsMs.add(td.dns.Milliseconds())
				m.connMs.add(td.connect.Milliseconds())
				m.tlsMs.add(td.tls.Milliseconds())
				row["gas_price_wei"] = price.String()
				if gwei := new(big.Int).Div(price, big.NewInt(1_000_000_000)); gwei.IsInt64() {
					lastGwei.Store(gwei.Int64())
				}
				writeRow(writer, row)
				return
			}
		}
		m.errors.Add(1)
		row["err"] = err.Error()
		writeRow(writer, row)
	}

	run()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			run()
		}
	}
}

// headLoop consumes the newHeads feed. Head delay is receive time minus the
// block timestamp, so it includes up to a second of timestamp quantization
// on top of propagation.
func headLoop(ctx context.Context, a args, m *wsMetrics, wsHead *atomic.Int64, writer *jsonl.Writer) {
	heads, errs := headfeed.Start(ctx, a.wsURL, headfeed.Options{
		PingInterval: a.pingInterval,
		OnPong: func(rtt time.Duration) {
			m.pingRttMs.add(rtt.Milliseconds())
			row := baseRow(a.label, "ws_ping_rtt")
			row["url"] = a.wsURL
			row["rtt_ms"] = rtt.Milliseconds()
			writeRow(writer, row)
		},
	})

	var lastRecv time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.feedErrs.Add(1)
			log.Printf("[warn] %v", err)
		case h, ok := <-heads:
			if !ok {
				return
			}
			m.heads.Add(1)
			wsHead.Store(int64(h.Number))

			delayMs := h.Received.Sub(h.Time).Milliseconds()
			m.delayMs.add(delayMs)

			row := baseRow(a.label, "ws_head")
			row["url"] = a.wsURL
			row["number"] = h.Number
			row["delay_ms"] = delayMs
			if !lastRecv.IsZero() {
				intervalMs := h.Received.Sub(lastRecv).Milliseconds()
				m.intervalMs.add(intervalMs)
				row["interval_ms"] = intervalMs
			}
			lastRecv = h.Received
			if h.BaseFee != nil {
				row["base_fee_wei"] = h.BaseFee.String()
			}
			writeRow(writer, row)
		}
	}
}

func fmtStatTriplet(st stats, n int) string {
	if n <= 0 {
		return "n/a"
	}
	return fmt.Sprintf("p50=%s p95=%s max=%s", fmtMs(st.median), fmtMs(st.p95), fmtMs(st.max))
}

func printHTTPStatsCompact(prefix string, m *httpMetrics) {
	total := m.totalMs.snapshot()
	stTotal := summarize(total)
	stTTFB := summarize(m.ttfbMs.snapshot())
	stDNS := summarize(m.dnsMs.snapshot())
	stConn := summarize(m.connMs.snapshot())
	stTLS := summarize(m.tlsMs.snapshot())

	ok := m.ok.Load()
	errs := m.errors.Load()
	reused := m.reused.Load()
	totalReq := ok + errs
	reusedPct := int64(0)
	if totalReq > 0 {
		reusedPct = (100 * reused) / totalReq
	}

	log.Printf("%s: ok=%d err=%d reused=%d (%d%%) total(p50/p95/max)=%s/%s/%s ttfb(p50)=%s dns(p50)=%s conn(p50)=%s tls(p50)=%s",
		prefix,
		ok, errs,
		reused, reusedPct,
		fmtMs(stTotal.median), fmtMs(stTotal.p95), fmtMs(stTotal.max),
		fmtMs(stTTFB.median), fmtMs(stDNS.median), fmtMs(stConn.median), fmtMs(stTLS.median),
	)
}

func printHTTPStatsTable(prefix string, m *httpMetrics) {
	total := m.totalMs.snapshot()
	stTotal := summarize(total)
	stTTFB := summarize(m.ttfbMs.snapshot())
	stDNS := summarize(m.dnsMs.snapshot())
	stConn := summarize(m.connMs.snapshot())
	stTLS := summarize(m.tlsMs.snapshot())

	ok := m.ok.Load()
	errs := m.errors.Load()
	reused := m.reused.Load()
	totalReq := ok + errs
	reusedPct := int64(0)
	if totalReq > 0 {
		reusedPct = (100 * reused) / totalReq
	}

	log.Printf("%-12s ok=%-6d err=%-6d reused=%-6d (%d%%) samples=%d", prefix, ok, errs, reused, reusedPct, len(total))
	log.Printf("  total:  %s", fmtStatTriplet(stTotal, len(total)))
	log.Printf("  ttfb:   p50=%-8s  dns: p50=%-8s  conn: p50=%-8s  tls: p50=%-8s", fmtMs(stTTFB.median), fmtMs(stDNS.median), fmtMs(stConn.median), fmtMs(stTLS.median))
}

func printWSStatsCompact(m *wsMetrics) {
	delay := m.delayMs.snapshot()
	interval := m.intervalMs.snapshot()
	ping := m.pingRttMs.snapshot()
	stDelay := summarize(delay)
	stInterval := summarize(interval)
	stPing := summarize(ping)

	log.Printf("newHeads: heads=%d feed_err=%d delay(p50/p95/max)=%s/%s/%s interval(p50)=%s ping_rtt(p50/p95/max)=%s/%s/%s",
		m.heads.Load(), m.feedErrs.Load(),
		fmtMs(stDelay.median), fmtMs(stDelay.p95), fmtMs(stDelay.max),
		fmtMs(stInterval.median),
		fmtMs(stPing.median), fmtMs(stPing.p95), fmtMs(stPing.max),
	)
}

func printWSStatsTable(m *wsMetrics) {
	delay := m.delayMs.snapshot()
	interval := m.intervalMs.snapshot()
	ping := m.pingRttMs.snapshot()
	stDelay := summarize(delay)
	stInterval := summarize(interval)
	stPing := summarize(ping)

	log.Printf("%-12s heads=%-7d feed_err=%-5d", "newHeads", m.heads.Load(), m.feedErrs.Load())
	log.Printf("  delay:    %s", fmtStatTriplet(stDelay, len(delay)))
	log.Printf("  interval: %s", fmtStatTriplet(stInterval, len(interval)))
	log.Printf("  ping_rtt: %s", fmtStatTriplet(stPing, len(ping)))
}

func printHeadGap(headGap *ring) {
	gaps := headGap.snapshot()
	if len(gaps) == 0 {
		return
	}
	st := summarize(gaps)
	log.Printf("  head_gap: p50=%d p95=%d max=%d blocks behind ws feed", st.median, st.p95, st.max)
}

func printSummary(a args, blockM, gasM *httpMetrics, headGap *ring, lastGwei *atomic.Int64, wsM *wsMetrics) {
	if a.label != "" {
		log.Printf("=== summary  label=%s ===", a.label)
	} else {
		log.Printf("=== summary ===")
	}
	switch a.printFormat {
	case "compact":
		if a.httpURL != "" {
			printHTTPStatsCompact("blockNumber", blockM)
			printHTTPStatsCompact("gasPrice", gasM)
		}
		if a.wsURL != "" {
			printWSStatsCompact(wsM)
		}
	default:
		if a.httpURL != "" {
			printHTTPStatsTable("blockNumber", blockM)
			printHeadGap(headGap)
			printHTTPStatsTable("gasPrice", gasM)
			if gwei := lastGwei.Load(); gwei > 0 {
				log.Printf("  last:   %d gwei", gwei)
			}
		}
		if a.wsURL != "" {
			printWSStatsTable(wsM)
		}
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.LUTC)
	log.SetOutput(os.Stdout)

	if err := dotenv.Load(); err != nil {
		log.Printf("[warn] %v", err)
	}

	parsed, err := parseArgs()
	if err != nil {
		log.Fatalf("[fatal] %v", err)
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx := baseCtx
	if parsed.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(baseCtx, parsed.duration)
		defer cancel()
	}

	writer := jsonl.New(parsed.outFile)
	defer writer.Close()

	log.Printf("[probe] starting, label %q, duration %s (Ctrl+C to stop early)", parsed.label, parsed.duration)
	if parsed.httpURL != "" {
		log.Printf("[probe] http %s (eth_blockNumber every %s, eth_gasPrice every %s)", parsed.httpURL, parsed.blockInterval, parsed.gasInterval)
	}
	if parsed.wsURL != "" {
		log.Printf("[probe] ws %s (newHeads, ping every %s)", parsed.wsURL, parsed.pingInterval)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DisableKeepAlives = parsed.disableKeepAlive
	transport.MaxIdleConns = 128
	transport.MaxIdleConnsPerHost = 64
	transport.IdleConnTimeout = 30 * time.Second
	httpClient := &http.Client{Transport: transport}

	blockMetrics := newHTTPMetrics(parsed.sampleCap)
	gasMetrics := newHTTPMetrics(parsed.sampleCap)
	wsStats := newWSMetrics(parsed.sampleCap)
	headGap := newRing(parsed.sampleCap)
	var wsHead atomic.Int64
	var lastGwei atomic.Int64

	var wg sync.WaitGroup
	if parsed.httpURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			blockNumberLoop(ctx, parsed, httpClient, blockMetrics, headGap, &wsHead, writer)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			gasPriceLoop(ctx, parsed, httpClient, gasMetrics, &lastGwei, writer)
		}()
	}
	if parsed.wsURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			headLoop(ctx, parsed, wsStats, &wsHead, writer)
		}()
	}

	printTicker := time.NewTicker(parsed.printEvery)
	defer printTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			log.Printf("[probe] final summary:")
			printSummary(parsed, blockMetrics, gasMetrics, headGap, &lastGwei, wsStats)
			return
		case <-printTicker.C:
			printSummary(parsed, blockMetrics, gasMetrics, headGap, &lastGwei, wsStats)
		}
	}
}
