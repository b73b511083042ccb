package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ArchiveResult describes one wallet history export.
type ArchiveResult struct {
	Wallet        string
	SnapshotsPath string
	EventsPath    string
	SnapshotCount int
	EventCount    int
}

// Archiver exports a wallet's chain and events to cold storage.
type Archiver interface {
	ArchiveWallet(ctx context.Context, wallet string) (ArchiveResult, error)
}
