// Package audit records every capability invocation outcome (C5) to an
// append-only log, async and batched so the invocation hot path never
// blocks on a write.
package audit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Entry is a single invocation audit record.
type Entry struct {
	HubID            string
	InvocationTarget string
	Action           string
	Invoker          string
	Outcome          string // "allowed" or "rejected"
	IPAddress        *netip.Addr
	CreatedAt        time.Time
}

// Writer is an async, buffered audit log writer. Entries are sent to an
// internal channel and flushed by a background goroutine in batches, so
// Log never blocks a request on a database round trip.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start launches the background goroutine that flushes audit entries to the
// database and returns immediately. Close waits for that goroutine to drain
// the pending entries.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the
// caller; if the buffer is full the entry is dropped and a warning logged.
func (w *Writer) Log(entry Entry) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"hub_id", entry.HubID, "action", entry.Action, "outcome", entry.Outcome)
	}
}

// LogInvocation is a convenience wrapper around Log for C5 call sites: it
// extracts the client IP from r and fills in the rest from the
// verification outcome.
func (w *Writer) LogInvocation(r *http.Request, hubID, invocationTarget, action, invoker, outcome string) {
	entry := Entry{
		HubID:            hubID,
		InvocationTarget: invocationTarget,
		Action:           action,
		Invoker:          invoker,
		Outcome:          outcome,
	}
	if ip := clientIP(r); ip.IsValid() {
		entry.IPAddress = &ip
	}
	w.Log(entry)
}

func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, e := range entries {
		var ip *string
		if e.IPAddress != nil {
			s := e.IPAddress.String()
			ip = &s
		}
		_, err := w.pool.Exec(ctx, `
			INSERT INTO invocation_audit_log
				(hub_id, invocation_target, action, invoker, outcome, ip_address, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.HubID, e.InvocationTarget, e.Action, e.Invoker, e.Outcome, ip, e.CreatedAt)
		if err != nil {
			w.logger.Error("writing audit log entry", "error", err,
				"hub_id", e.HubID, "action", e.Action)
		}
	}
}

// clientIP extracts the client IP address from the request, preferring
// X-Forwarded-For and X-Real-IP headers over RemoteAddr.
func clientIP(r *http.Request) netip.Addr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		if addr, err := netip.ParseAddr(strings.TrimSpace(parts[0])); err == nil {
			return addr
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if addr, err := netip.ParseAddr(strings.TrimSpace(xri)); err == nil {
			return addr
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, _ := netip.ParseAddr(host)
	return addr
}
