package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysnap/internal/diff"
	"github.com/alanyoungcy/polysnap/internal/domain"
	"github.com/alanyoungcy/polysnap/internal/store/memory"
)

type memWriter struct {
	objects   map[string][]byte
	multipart int
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if contentType != jsonlContentType {
		return io.ErrUnexpectedEOF
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	return nil
}

func (w *memWriter) PutMultipart(_ context.Context, path string, data io.Reader, _ int64) error {
	w.multipart++
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	return nil
}

func jsonlLines(t *testing.T, b []byte) []json.RawMessage {
	t.Helper()
	var out []json.RawMessage
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		out = append(out, json.RawMessage(append([]byte(nil), sc.Bytes()...)))
	}
	require.NoError(t, sc.Err())
	return out
}

func TestArchiveWallet(t *testing.T) {
	ctx := context.Background()
	const wallet = "0x1234567890abcdef1234567890abcdef12345678"
	store := memory.New()

	t0 := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	s1 := domain.Snapshot{Wallet: wallet, Timestamp: t0, Positions: []domain.Position{}}
	s2 := domain.Snapshot{Wallet: wallet, Timestamp: t0.Add(time.Hour), Positions: []domain.Position{{
		MarketID: "m1", MarketTitle: "M1", YesShares: 5, YesAvgPrice: domain.Float(0.2),
		ResolvedOutcome: domain.OutcomeUnresolved,
	}}}
	rootID, err := store.InitializeChain(ctx, s1)
	require.NoError(t, err)
	_, err = store.AppendWithEvents(ctx, s2, diff.ComputeDiff(&s1, s2))
	require.NoError(t, err)

	writer := &memWriter{objects: map[string][]byte{}}
	archiver := NewArchiver(writer, store, store, store)
	archiver.now = func() time.Time { return time.Date(2025, 4, 2, 3, 4, 5, 0, time.UTC) }

	res, err := archiver.ArchiveWallet(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, "archive/"+wallet+"/snapshots-20250402T030405Z.jsonl", res.SnapshotsPath)
	assert.Equal(t, "archive/"+wallet+"/events-20250402T030405Z.jsonl", res.EventsPath)
	assert.Equal(t, 2, res.SnapshotCount)
	assert.Equal(t, 1, res.EventCount)
	assert.Zero(t, writer.multipart)

	snapLines := jsonlLines(t, writer.objects[res.SnapshotsPath])
	require.Len(t, snapLines, 2)
	var first domain.StoredSnapshot
	require.NoError(t, json.Unmarshal(snapLines[0], &first))
	assert.Equal(t, rootID, first.ID, "snapshots are archived oldest first")

	eventLines := jsonlLines(t, writer.objects[res.EventsPath])
	require.Len(t, eventLines, 1)
	var ev domain.ChangeEvent
	require.NoError(t, json.Unmarshal(eventLines[0], &ev))
	assert.Equal(t, domain.EventOpened, ev.Type)

	entries, err := store.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.wallet", entries[0].Event)
}

func TestArchiveWalletUnknown(t *testing.T) {
	store := memory.New()
	archiver := NewArchiver(&memWriter{objects: map[string][]byte{}}, store, store, nil)

	_, err := archiver.ArchiveWallet(context.Background(), "0x1234567890abcdef1234567890abcdef12345678")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
}
