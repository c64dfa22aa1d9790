// Package dcap implements the DCAP telemetry fan-out: fire-and-forget UDP
// datagrams carrying per-call performance records and periodic semantic
// discovery advertisements of the tool catalogue. Emission never blocks the
// response path; datagrams that cannot be queued are dropped and counted.
package dcap

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Protocol constants.
const (
	// perfVersion is the integer protocol tag on perf_update records.
	perfVersion = 2

	// maxDatagram is the largest payload sent without risking IP
	// fragmentation on a standard-MTU LAN.
	maxDatagram = 1472

	// queueSize bounds the sender channel; producers never wait on it.
	queueSize = 256

	// argValueLimit is the longest string kept verbatim in ctx.args.
	argValueLimit = 20
)

var (
	dcapSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canton_mcp_dcap_datagrams_total",
		Help: "DCAP datagrams sent by record type.",
	}, []string{"type"})

	dcapDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canton_mcp_dcap_dropped_total",
		Help: "DCAP records dropped by reason (queue_full, oversize, send_error, closed).",
	}, []string{"reason"})
)

// Config configures the emitter.
type Config struct {
	Addr       string // unicast or multicast IP
	Port       int
	ServerID   string
	ServerName string
}

// PerfRecord is the per-call telemetry record.
type PerfRecord struct {
	V         int         `json:"v"`
	T         string      `json:"t"`
	TS        int64       `json:"ts"`
	SID       string      `json:"sid"`
	Tool      string      `json:"tool"`
	ExecMS    int64       `json:"exec_ms"`
	Success   bool        `json:"success"`
	Cancelled bool        `json:"cancelled,omitempty"`
	Ctx       PerfContext `json:"ctx"`
	CostPaid  *float64    `json:"cost_paid,omitempty"`
	Currency  string      `json:"currency,omitempty"`
	Payer     string      `json:"payer,omitempty"`
}

// PerfContext carries the anonymized tool arguments.
type PerfContext struct {
	Args map[string]any `json:"args"`
}

// Emitter owns the UDP socket and a single sender goroutine fed by a bounded
// channel. Records are transient values, never retained after send.
type Emitter struct {
	cfg    Config
	conn   net.Conn
	queue  chan queued
	done   chan struct{}
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

type queued struct {
	recordType string
	payload    []byte
}

// NewEmitter dials the configured UDP target and starts the sender. The
// multicast TTL option is applied only when the target address is in
// 224.0.0.0/4; unicast targets use the socket as dialed.
func NewEmitter(cfg Config, logger *zap.Logger) (*Emitter, error) {
	ip := net.ParseIP(cfg.Addr)
	if ip == nil {
		return nil, fmt.Errorf("dcap: invalid address %q", cfg.Addr)
	}

	raddr := &net.UDPAddr{IP: ip, Port: cfg.Port}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("dcap: dial %s: %w", raddr, err)
	}
	if ip.IsMulticast() {
		if err := setMulticastTTL(conn, 2); err != nil {
			logger.Warn("dcap: could not set multicast TTL", zap.Error(err))
		}
	}

	e := &Emitter{
		cfg:    cfg,
		conn:   conn,
		queue:  make(chan queued, queueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	go e.sendLoop()
	logger.Info("dcap emitter started",
		zap.String("target", raddr.String()),
		zap.Bool("multicast", ip.IsMulticast()),
		zap.String("sid", cfg.ServerID))
	return e, nil
}

// EmitPerf queues one perf_update record. Arguments are anonymized and the
// datagram is size-capped before queueing. Never blocks.
func (e *Emitter) EmitPerf(rec PerfRecord) {
	rec.V = perfVersion
	rec.T = "perf_update"
	if rec.TS == 0 {
		rec.TS = time.Now().Unix()
	}
	if rec.SID == "" {
		rec.SID = e.cfg.ServerID
	}
	rec.Ctx.Args = AnonymizeArgs(rec.Ctx.Args)

	payload, err := json.Marshal(rec)
	if err != nil {
		e.logger.Warn("dcap: marshal perf record", zap.Error(err))
		return
	}
	if len(payload) > maxDatagram {
		// Argument contents give first; every other field is preserved.
		rec.Ctx.Args = map[string]any{}
		payload, err = json.Marshal(rec)
		if err != nil || len(payload) > maxDatagram {
			dcapDroppedTotal.WithLabelValues("oversize").Inc()
			e.logger.Warn("dcap: perf record exceeds datagram cap after truncation",
				zap.String("tool", rec.Tool), zap.Int("bytes", len(payload)))
			return
		}
	}
	e.enqueue("perf_update", payload)
}

// emitJSON queues an already-typed record (discovery path).
func (e *Emitter) emitJSON(recordType string, rec any) {
	payload, err := json.Marshal(rec)
	if err != nil {
		e.logger.Warn("dcap: marshal record", zap.String("type", recordType), zap.Error(err))
		return
	}
	if len(payload) > maxDatagram {
		dcapDroppedTotal.WithLabelValues("oversize").Inc()
		e.logger.Warn("dcap: record exceeds datagram cap",
			zap.String("type", recordType), zap.Int("bytes", len(payload)))
		return
	}
	e.enqueue(recordType, payload)
}

func (e *Emitter) enqueue(recordType string, payload []byte) {
	// The lock orders enqueue against Close so a record arriving during
	// shutdown is dropped instead of sent on a closed channel.
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		dcapDroppedTotal.WithLabelValues("closed").Inc()
		return
	}
	select {
	case e.queue <- queued{recordType: recordType, payload: payload}:
	default:
		dcapDroppedTotal.WithLabelValues("queue_full").Inc()
	}
}

func (e *Emitter) sendLoop() {
	for q := range e.queue {
		if _, err := e.conn.Write(q.payload); err != nil {
			dcapDroppedTotal.WithLabelValues("send_error").Inc()
			e.logger.Debug("dcap: send failed", zap.Error(err))
			continue
		}
		dcapSentTotal.WithLabelValues(q.recordType).Inc()
	}
	close(e.done)
}

// Close drains the queue and releases the socket. Safe to call more than
// once; records emitted after Close are dropped and counted.
func (e *Emitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()
	<-e.done
	return e.conn.Close()
}

// AnonymizeArgs redacts tool arguments for telemetry: long strings are
// truncated, collections are summarized by size, scalars pass through.
func AnonymizeArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		switch val := v.(type) {
		case string:
			if len(val) > argValueLimit {
				out[k] = val[:argValueLimit] + "..."
			} else {
				out[k] = val
			}
		case bool, int, int64, float32, float64, json.Number:
			out[k] = val
		case []any:
			out[k] = fmt.Sprintf("[%d items]", len(val))
		case map[string]any:
			out[k] = fmt.Sprintf("{%d fields}", len(val))
		case nil:
			out[k] = nil
		default:
			s := fmt.Sprintf("%v", val)
			if len(s) > argValueLimit {
				s = s[:argValueLimit]
			}
			out[k] = s
		}
	}
	return out
}
