package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/hydrotrust/hydro-verifier/internal/ledger"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	expireEvery := flag.Int("expire-every", 0, "reject every Nth submission as expired (0 disables)")
	flag.Parse()

	logger := log.New(log.Writer(), "ledger-mock ", log.LstdFlags|log.Lmicroseconds)
	gw := newGateway(ledger.NewMemoryLedger(), *expireEvery)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, gw.routes()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("server error: %v", err)
	}
}

type gateway struct {
	ledger      *ledger.MemoryLedger
	expireEvery int64
	submissions atomic.Int64
}

func newGateway(l *ledger.MemoryLedger, expireEvery int) *gateway {
	return &gateway{ledger: l, expireEvery: int64(expireEvery)}
}

func (g *gateway) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/v1/transactions", g.submit)
	mux.HandleFunc("/v1/chain", func(w http.ResponseWriter, _ *http.Request) {
		ok, reason := g.ledger.Verify()
		writeJSON(w, http.StatusOK, map[string]any{
			"length": g.ledger.Length(),
			"head":   g.ledger.Head(),
			"valid":  ok,
			"reason": reason,
		})
	})
	return mux
}

func (g *gateway) submit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req ledger.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ledger.ErrorResponse{Code: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	if req.TransactionID == "" || req.Topic == "" {
		writeJSON(w, http.StatusBadRequest, ledger.ErrorResponse{Code: "INVALID_REQUEST", Message: "transactionId and topic are required"})
		return
	}

	n := g.submissions.Add(1)
	if g.expireEvery > 0 && n%g.expireEvery == 0 {
		writeJSON(w, http.StatusConflict, ledger.ErrorResponse{Code: ledger.ExpiredCode, Message: "simulated expiry"})
		return
	}

	receipt, err := g.ledger.Execute(r.Context(), &ledger.Transaction{
		ID:             req.TransactionID,
		Topic:          req.Topic,
		IdempotencyKey: req.IdempotencyKey,
		Message:        req.Message,
		ValidStart:     req.ValidStart,
		ValidDuration:  time.Duration(req.ValidDurationMs) * time.Millisecond,
	})
	if err != nil {
		if ledger.IsExpired(err) {
			writeJSON(w, http.StatusConflict, ledger.ErrorResponse{Code: ledger.ExpiredCode, Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ledger.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ledger.SubmitResponse{
		TransactionID:  receipt.TransactionID,
		SequenceNumber: receipt.SequenceNumber,
		CommittedAt:    receipt.CommittedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
