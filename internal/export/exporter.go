// Package export turns the catalog into a single stored ZIP archive.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/likevault/internal/archive"
	"github.com/iconidentify/likevault/internal/catalog"
	"github.com/iconidentify/likevault/internal/config"
	"github.com/iconidentify/likevault/internal/domain"
	"github.com/iconidentify/likevault/internal/downloader"
	"github.com/iconidentify/likevault/internal/sink"
	"github.com/iconidentify/likevault/internal/worker"
	"github.com/iconidentify/likevault/pkg/crypto"
)

// Export stages reported through ProgressFunc.
const (
	StageFetching   = "fetching"
	StageEncoding   = "encoding"
	StageDelivering = "delivering"
)

// Progress is a snapshot of a running export.
type Progress struct {
	Stage     string `json:"stage"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
}

// ProgressFunc observes export progress. It is never called concurrently.
type ProgressFunc func(Progress)

// CatalogSource supplies the catalog snapshot to export.
type CatalogSource interface {
	Load(ctx context.Context) (*domain.Catalog, error)
}

// Options tune a single export.
type Options struct {
	// Keys restricts the export to these catalog keys. Empty exports everything.
	Keys []string
	// Passphrase seals the archive. Empty falls back to the configured one.
	Passphrase string
	Progress   ProgressFunc
}

// Archive is a finished, not yet delivered, export.
type Archive struct {
	RunID     string
	Name      string
	Data      []byte
	Entries   int
	Encrypted bool
}

// Result describes a delivered export.
type Result struct {
	RunID     string        `json:"runId"`
	Name      string        `json:"name"`
	Location  string        `json:"location"`
	Entries   int           `json:"entries"`
	Bytes     int64         `json:"bytes"`
	Encrypted bool          `json:"encrypted"`
	Duration  time.Duration `json:"duration"`
}

// Exporter fetches every catalog video with bounded concurrency and packs
// them into one archive. At most one export runs at a time; a single failed
// fetch fails the whole export.
type Exporter struct {
	source      CatalogSource
	fetcher     downloader.Fetcher
	sink        sink.Sink
	events      domain.EventEmitter
	logger      *slog.Logger
	clock       domain.Clock
	ids         domain.IDGenerator
	concurrency int
	passphrase  string

	inFlight atomic.Bool
}

// NewExporter creates an Exporter. dst and events may be nil; without a
// sink only Prepare and Build are usable.
func NewExporter(
	cfg config.ExportConfig,
	source CatalogSource,
	fetcher downloader.Fetcher,
	dst sink.Sink,
	events domain.EventEmitter,
	logger *slog.Logger,
) *Exporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exporter{
		source:      source,
		fetcher:     fetcher,
		sink:        dst,
		events:      events,
		logger:      logger,
		clock:       domain.RealClock{},
		ids:         domain.UUIDGenerator{},
		concurrency: cfg.Concurrency,
		passphrase:  cfg.Passphrase,
	}
}

// SetClock replaces the time source used for names and entry times.
func (e *Exporter) SetClock(c domain.Clock) {
	e.clock = c
}

// SetIDGenerator replaces the run ID source.
func (e *Exporter) SetIDGenerator(g domain.IDGenerator) {
	e.ids = g
}

// Busy reports whether an export is in flight.
func (e *Exporter) Busy() bool {
	return e.inFlight.Load()
}

// Export builds an archive and hands it to the configured sink.
func (e *Exporter) Export(ctx context.Context, opts Options) (*Result, error) {
	if e.sink == nil {
		return nil, fmt.Errorf("%w: no export destination configured", domain.ErrExportFailed)
	}
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, domain.ErrBusy
	}
	defer e.inFlight.Store(false)

	start := e.clock.Now()
	a, err := e.prepare(ctx, opts)
	if err != nil {
		return nil, err
	}

	report(opts.Progress, Progress{Stage: StageDelivering, Completed: a.Entries, Total: a.Entries})
	location, err := e.sink.Deliver(ctx, a.Name, a.Data)
	if err != nil {
		e.fail(a.RunID, err)
		return nil, fmt.Errorf("%w: deliver: %w", domain.ErrExportFailed, err)
	}

	result := &Result{
		RunID:     a.RunID,
		Name:      a.Name,
		Location:  location,
		Entries:   a.Entries,
		Bytes:     int64(len(a.Data)),
		Encrypted: a.Encrypted,
		Duration:  e.clock.Now().Sub(start),
	}
	e.logger.Info("export delivered",
		"run_id", a.RunID,
		"location", location,
		"entries", a.Entries,
		"size", humanize.Bytes(uint64(len(a.Data))),
	)
	e.emit(domain.EventSeveritySuccess, fmt.Sprintf("Exported %d videos to %s", a.Entries, location), domain.EventMetadata{
		"run_id":   a.RunID,
		"entries":  a.Entries,
		"bytes":    len(a.Data),
		"location": location,
	})
	return result, nil
}

// Prepare builds an archive without delivering it, for callers that
// stream the bytes themselves.
func (e *Exporter) Prepare(ctx context.Context, opts Options) (*Archive, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return nil, domain.ErrBusy
	}
	defer e.inFlight.Store(false)
	return e.prepare(ctx, opts)
}

func (e *Exporter) prepare(ctx context.Context, opts Options) (*Archive, error) {
	runID := e.ids.New()

	current, err := e.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	items := selectItems(current.Snapshot(), opts.Keys)
	if len(items) == 0 {
		return nil, domain.ErrEmptyCatalog
	}

	e.logger.Info("export started", "run_id", runID, "items", len(items))
	e.emit(domain.EventSeverityInfo, fmt.Sprintf("Exporting %d videos", len(items)), domain.EventMetadata{
		"run_id": runID,
		"items":  len(items),
	})

	data, err := e.Build(ctx, items, opts.Progress)
	if err != nil {
		e.fail(runID, err)
		return nil, err
	}

	name := ArchiveName(e.clock.Now())
	passphrase := opts.Passphrase
	if passphrase == "" {
		passphrase = e.passphrase
	}
	encrypted := passphrase != ""
	if encrypted {
		data, err = crypto.Encrypt(data, passphrase)
		if err != nil {
			e.fail(runID, err)
			return nil, fmt.Errorf("%w: encrypt: %w", domain.ErrExportFailed, err)
		}
		name += crypto.Extension
	}

	return &Archive{RunID: runID, Name: name, Data: data, Entries: len(items), Encrypted: encrypted}, nil
}

// Build fetches items with the bounded pool and encodes them as a stored
// ZIP archive. It does not take the export guard.
func (e *Exporter) Build(ctx context.Context, items []domain.CatalogItem, progress ProgressFunc) ([]byte, error) {
	total := len(items)
	report(progress, Progress{Stage: StageFetching, Total: total})

	payloads, err := worker.Run(ctx, items, worker.Config{
		Workers: e.concurrency,
		OnProgress: func(completed, total int) {
			report(progress, Progress{Stage: StageFetching, Completed: completed, Total: total})
		},
	}, func(ctx context.Context, item domain.CatalogItem) ([]byte, error) {
		data, err := e.fetcher.Fetch(ctx, item.DownloadURL())
		if err != nil {
			return nil, domain.NewItemError(item.Key(), "fetch", err)
		}
		return data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExportFailed, err)
	}

	report(progress, Progress{Stage: StageEncoding, Completed: total, Total: total})
	names := EntryNames(items)
	now := e.clock.Now()
	entries := make([]archive.Entry, len(items))
	for i, item := range items {
		modified := now
		if t, ok := catalog.ParseTimestamp(item.CreatedAt); ok {
			modified = t
		}
		entries[i] = archive.NewEntry(names[i], payloads[i], modified)
	}

	data, err := archive.Encode(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrExportFailed, err)
	}
	return data, nil
}

func (e *Exporter) fail(runID string, err error) {
	e.logger.Error("export failed", "run_id", runID, "error", err)
	e.emit(domain.EventSeverityError, "Export failed: "+err.Error(), domain.EventMetadata{"run_id": runID})
}

func (e *Exporter) emit(severity domain.EventSeverity, message string, metadata domain.EventMetadata) {
	if e.events == nil {
		return
	}
	e.events.Emit(domain.Event{
		Timestamp: e.clock.Now(),
		Severity:  severity,
		Category:  domain.EventCategoryExport,
		Source:    "export",
		Message:   message,
		Metadata:  metadata.ToJSON(),
	})
}

func report(fn ProgressFunc, p Progress) {
	if fn != nil {
		fn(p)
	}
}

func selectItems(items []domain.CatalogItem, keys []string) []domain.CatalogItem {
	if len(keys) == 0 {
		return items
	}
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	out := items[:0]
	for _, item := range items {
		if want[item.Key()] {
			out = append(out, item)
		}
	}
	return out
}

// ArchiveName returns the suggested name of an archive created at t.
func ArchiveName(t time.Time) string {
	return "likes-" + strconv.FormatInt(t.UnixMilli(), 10) + ".zip"
}

// EntryNames returns one archive entry name per item: the post id, or the
// item id when there is none, sanitized and suffixed with .mp4. Collisions
// get a numeric suffix so every name is unique.
func EntryNames(items []domain.CatalogItem) []string {
	used := make(map[string]bool, len(items))
	names := make([]string, len(items))
	for i, item := range items {
		base := item.PostID
		if base == "" {
			base = item.ID
		}
		base = sanitize(base)

		name := base + ".mp4"
		for n := 2; used[name]; n++ {
			name = base + "-" + strconv.Itoa(n) + ".mp4"
		}
		used[name] = true
		names[i] = name
	}
	return names
}

const maxBaseLen = 128

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
		if b.Len() >= maxBaseLen {
			break
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "video"
	}
	return out
}
