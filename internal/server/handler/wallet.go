package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/polysnap/internal/domain"
	"github.com/alanyoungcy/polysnap/internal/service"
)

// SnapshotService is the part of the service layer the wallet endpoints use.
type SnapshotService interface {
	TakeSnapshot(ctx context.Context, wallet string) (service.SnapshotResult, error)
	Latest(ctx context.Context, wallet string) (*domain.StoredSnapshot, error)
	History(ctx context.Context, wallet string, limit int) ([]domain.StoredSnapshot, error)
	Events(ctx context.Context, wallet string, limit int) ([]domain.ChangeEvent, error)
	SnapshotEvents(ctx context.Context, snapshotID string) ([]domain.ChangeEvent, error)
	MarketEvents(ctx context.Context, marketID string) ([]domain.ChangeEvent, error)
	Verify(ctx context.Context, wallet string) (domain.ChainReport, error)
}

// StreamReader reads the replayable per-wallet change stream.
type StreamReader interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// WalletHandler serves the wallet, snapshot and market endpoints.
type WalletHandler struct {
	snapshots SnapshotService
	stream    StreamReader
	logger    *slog.Logger
}

// NewWalletHandler creates a WalletHandler. stream may be nil, in which case
// the stream endpoint answers 404.
func NewWalletHandler(snapshots SnapshotService, stream StreamReader, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{snapshots: snapshots, stream: stream, logger: logger}
}

type historyResponse struct {
	Wallet    string                  `json:"wallet"`
	Snapshots []domain.StoredSnapshot `json:"snapshots"`
}

type eventsResponse struct {
	Events []domain.ChangeEvent `json:"events"`
}

// TakeSnapshot captures the wallet now.
// POST /api/wallets/{wallet}/snapshot
func (h *WalletHandler) TakeSnapshot(w http.ResponseWriter, r *http.Request) {
	res, err := h.snapshots.TakeSnapshot(r.Context(), r.PathValue("wallet"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	status := http.StatusOK
	if res.Saved {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// Latest returns the chain tail.
// GET /api/wallets/{wallet}/latest
func (h *WalletHandler) Latest(w http.ResponseWriter, r *http.Request) {
	snap, err := h.snapshots.Latest(r.Context(), r.PathValue("wallet"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// History returns snapshots newest first.
// GET /api/wallets/{wallet}/history?limit=50
func (h *WalletHandler) History(w http.ResponseWriter, r *http.Request) {
	wallet := r.PathValue("wallet")
	snaps, err := h.snapshots.History(r.Context(), wallet, parseLimit(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if snaps == nil {
		snaps = []domain.StoredSnapshot{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Wallet: wallet, Snapshots: snaps})
}

// Events returns the wallet's change events newest first.
// GET /api/wallets/{wallet}/events?limit=50
func (h *WalletHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.snapshots.Events(r.Context(), r.PathValue("wallet"), parseLimit(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: nonNil(events)})
}

// Verify walks the chain.
// GET /api/wallets/{wallet}/verify
func (h *WalletHandler) Verify(w http.ResponseWriter, r *http.Request) {
	report, err := h.snapshots.Verify(r.Context(), r.PathValue("wallet"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": report.OK(), "report": report})
}

// Stream replays entries of the wallet's change stream after ?after=.
// GET /api/wallets/{wallet}/stream?after=0&count=100
func (h *WalletHandler) Stream(w http.ResponseWriter, r *http.Request) {
	if h.stream == nil {
		writeError(w, http.StatusNotFound, "change stream not enabled")
		return
	}
	wallet, err := domain.NormalizeWallet(r.PathValue("wallet"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	count := 100
	if v := r.URL.Query().Get("count"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			count = min(n, maxLimit)
		}
	}

	msgs, err := h.stream.StreamRead(r.Context(), service.EventsStream(wallet), r.URL.Query().Get("after"), count)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	type entry struct {
		ID    string             `json:"id"`
		Event domain.ChangeEvent `json:"event"`
	}
	out := make([]entry, 0, len(msgs))
	for _, m := range msgs {
		e := entry{ID: m.ID}
		if err := json.Unmarshal(m.Payload, &e.Event); err != nil {
			h.logger.WarnContext(r.Context(), "handler: skipping undecodable stream entry",
				slog.String("id", m.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// SnapshotEvents returns the events committed with one snapshot.
// GET /api/snapshots/{id}/events
func (h *WalletHandler) SnapshotEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.snapshots.SnapshotEvents(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: nonNil(events)})
}

// MarketEvents returns every event recorded for a market.
// GET /api/markets/{market}/events
func (h *WalletHandler) MarketEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.snapshots.MarketEvents(r.Context(), r.PathValue("market"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: nonNil(events)})
}

func nonNil(events []domain.ChangeEvent) []domain.ChangeEvent {
	if events == nil {
		return []domain.ChangeEvent{}
	}
	return events
}
