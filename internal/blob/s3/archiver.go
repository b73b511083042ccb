package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/alanyoungcy/polysnap/internal/domain"
)

const (
	jsonlContentType = "application/x-ndjson"
	// multipartThreshold switches uploads to the multipart manager.
	multipartThreshold = 8 * 1024 * 1024
)

// WalletArchiver implements domain.Archiver. It exports a wallet's full
// snapshot chain (oldest first) and its change events as two JSONL objects
// and records the export in the audit log. Nothing is deleted from the
// primary store.
type WalletArchiver struct {
	writer domain.BlobWriter
	chain  domain.ChainStore
	events domain.EventStore
	audit  domain.AuditStore
	now    func() time.Time
}

// NewArchiver creates a WalletArchiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, chain domain.ChainStore, events domain.EventStore, audit domain.AuditStore) *WalletArchiver {
	return &WalletArchiver{
		writer: writer,
		chain:  chain,
		events: events,
		audit:  audit,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ArchiveWallet writes archive/<wallet>/snapshots-<ts>.jsonl and
// archive/<wallet>/events-<ts>.jsonl.
func (a *WalletArchiver) ArchiveWallet(ctx context.Context, wallet string) (domain.ArchiveResult, error) {
	history, err := a.chain.History(ctx, wallet, 0)
	if err != nil {
		return domain.ArchiveResult{}, fmt.Errorf("s3blob: archive %s history: %w", wallet, err)
	}
	if len(history) == 0 {
		return domain.ArchiveResult{}, fmt.Errorf("s3blob: archive %s: %w", wallet, domain.ErrNotFound)
	}
	slices.Reverse(history)

	events, err := a.events.EventsByWallet(ctx, wallet, 0)
	if err != nil {
		return domain.ArchiveResult{}, fmt.Errorf("s3blob: archive %s events: %w", wallet, err)
	}

	stamp := a.now().Format("20060102T150405Z")
	res := domain.ArchiveResult{
		Wallet:        wallet,
		SnapshotsPath: archivePath(wallet, "snapshots", stamp),
		EventsPath:    archivePath(wallet, "events", stamp),
		SnapshotCount: len(history),
		EventCount:    len(events),
	}

	if err := upload(ctx, a.writer, res.SnapshotsPath, history); err != nil {
		return domain.ArchiveResult{}, err
	}
	if err := upload(ctx, a.writer, res.EventsPath, events); err != nil {
		return domain.ArchiveResult{}, err
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.wallet", map[string]any{
			"wallet":         wallet,
			"snapshots_path": res.SnapshotsPath,
			"events_path":    res.EventsPath,
			"snapshots":      res.SnapshotCount,
			"events":         res.EventCount,
		}); err != nil {
			return res, fmt.Errorf("s3blob: archive %s audit log: %w", wallet, err)
		}
	}
	return res, nil
}

func upload[T any](ctx context.Context, w domain.BlobWriter, path string, records []T) error {
	buf, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: marshal %s: %w", path, err)
	}
	if len(buf) >= multipartThreshold {
		err = w.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = w.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}

func archivePath(wallet, kind, stamp string) string {
	return fmt.Sprintf("archive/%s/%s-%s.jsonl", wallet, kind, stamp)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*WalletArchiver)(nil)
