package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/atmx/liquidity-pool/internal/model"
)

// ObjectWriter stores one object. S3Writer implements it.
type ObjectWriter interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

// Source supplies the views to export. orderbook.Engine implements it.
type Source interface {
	ChainStorage() model.ChainStorage
	Snapshot() model.Snapshot
}

// Exporter writes the chain-storage view and the full snapshot under a
// timestamped key, and overwrites a "latest" copy of the chain-storage view.
type Exporter struct {
	src    Source
	out    ObjectWriter
	prefix string
	log    *slog.Logger
}

// NewExporter creates an exporter writing under prefix.
func NewExporter(src Source, out ObjectWriter, prefix string, log *slog.Logger) *Exporter {
	return &Exporter{src: src, out: out, prefix: prefix, log: log}
}

// ChainStorageKey is where an export taken at t is stored.
func ChainStorageKey(prefix string, t time.Time) string {
	t = t.UTC()
	return path.Join(prefix, "chain-storage", t.Format("2006/01/02"), t.Format("20060102T150405Z")+".json")
}

// SnapshotKey is where the full snapshot taken at t is stored.
func SnapshotKey(prefix string, t time.Time) string {
	t = t.UTC()
	return path.Join(prefix, "snapshots", t.Format("2006/01/02"), t.Format("20060102T150405Z")+".json")
}

// Export uploads one round. It returns the chain-storage key written.
func (x *Exporter) Export(ctx context.Context) (string, error) {
	cs := x.src.ChainStorage()
	snap := x.src.Snapshot()

	csData, err := json.MarshalIndent(cs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: encode chain storage: %w", err)
	}
	snapData, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("archive: encode snapshot: %w", err)
	}

	key := ChainStorageKey(x.prefix, cs.GeneratedAt)
	uploads := []struct {
		key  string
		data []byte
	}{
		{key, csData},
		{SnapshotKey(x.prefix, cs.GeneratedAt), snapData},
		{path.Join(x.prefix, "chain-storage", "latest.json"), csData},
	}
	for _, u := range uploads {
		if err := x.out.Put(ctx, u.key, bytes.NewReader(u.data), "application/json"); err != nil {
			return "", err
		}
	}
	x.log.Info("chain storage exported",
		"key", key,
		"assets", len(cs.Assets),
		"pending_orders", cs.PendingOrders,
		"share_supply", cs.ShareSupply.String(),
	)
	return key, nil
}

// Run exports every interval until ctx is cancelled. Failed rounds are
// logged and retried on the next tick.
func (x *Exporter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := x.Export(ctx); err != nil {
				x.log.Error("export chain storage", "error", err)
			}
		}
	}
}
