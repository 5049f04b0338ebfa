package export

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/iconidentify/likevault/internal/config"
	"github.com/iconidentify/likevault/internal/domain"
	"github.com/iconidentify/likevault/internal/testutil"
	"github.com/iconidentify/likevault/pkg/crypto"
)

type fakeSource struct {
	catalog *domain.Catalog
}

func (f *fakeSource) Load(ctx context.Context) (*domain.Catalog, error) {
	return f.catalog, nil
}

type fakeFetcher struct {
	mu      sync.Mutex
	fail    map[string]error
	fetched []string
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	if err := f.fail[url]; err != nil {
		return nil, err
	}
	return []byte("bytes of " + url), nil
}

type recordingSink struct {
	mu   sync.Mutex
	name string
	data []byte
	err  error
}

func (r *recordingSink) Deliver(ctx context.Context, name string, data []byte) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.name, r.data = name, data
	return "/exports/" + name, nil
}

type harness struct {
	exporter *Exporter
	fetcher  *fakeFetcher
	sink     *recordingSink
	events   *testutil.RecordingEmitter
	clock    *testutil.StubClock
}

func newHarness(cfg config.ExportConfig, items ...domain.CatalogItem) *harness {
	clock := testutil.FixedClock()
	c := domain.NewCatalog(clock.Now())
	c.Items = append(c.Items, items...)

	h := &harness{
		fetcher: &fakeFetcher{fail: map[string]error{}},
		sink:    &recordingSink{},
		events:  &testutil.RecordingEmitter{},
		clock:   clock,
	}
	h.exporter = NewExporter(cfg, &fakeSource{catalog: c}, h.fetcher, h.sink, h.events,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.exporter.SetClock(clock)
	h.exporter.SetIDGenerator(testutil.NewStubIDGenerator())
	return h
}

func video(id, postID, url string) domain.CatalogItem {
	return domain.CatalogItem{ID: id, PostID: postID, URL: url, Origin: domain.OriginSynced}
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	out := make(map[string]string)
	for _, f := range r.File {
		if f.Method != zip.Store {
			t.Errorf("%s: method = %d, want store", f.Name, f.Method)
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		out[f.Name] = string(b)
	}
	return out
}

func TestExport_DeliversArchive(t *testing.T) {
	hd := video("v1", "p1", "https://a/1.mp4")
	hd.HDURL = "https://a/1-hd.mp4"
	h := newHarness(config.ExportConfig{Concurrency: 2},
		hd,
		video("v2", "", "https://a/2.mp4"),
		video("v3", "p3", "https://a/3.mp4"),
	)

	var stages []Progress
	result, err := h.exporter.Export(context.Background(), Options{
		Progress: func(p Progress) { stages = append(stages, p) },
	})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	wantName := ArchiveName(h.clock.Now())
	if result.Name != wantName || h.sink.name != wantName {
		t.Errorf("name = %q / %q, want %q", result.Name, h.sink.name, wantName)
	}
	if result.Location != "/exports/"+wantName || result.Entries != 3 || result.Encrypted {
		t.Errorf("result = %+v", result)
	}
	if result.RunID != "id-1" {
		t.Errorf("RunID = %q, want id-1", result.RunID)
	}

	files := readZip(t, h.sink.data)
	want := map[string]string{
		"p1.mp4": "bytes of https://a/1-hd.mp4",
		"v2.mp4": "bytes of https://a/2.mp4",
		"p3.mp4": "bytes of https://a/3.mp4",
	}
	if !reflect.DeepEqual(files, want) {
		t.Errorf("archive = %v, want %v", files, want)
	}

	if len(stages) == 0 || stages[0].Stage != StageFetching || stages[len(stages)-1].Stage != StageDelivering {
		t.Errorf("stages = %+v", stages)
	}

	events := h.events.Events()
	if len(events) != 2 || events[1].Severity != domain.EventSeveritySuccess {
		t.Errorf("events = %+v, want start and success", events)
	}
}

func TestExport_FailFastProducesNoArchive(t *testing.T) {
	h := newHarness(config.ExportConfig{Concurrency: 1},
		video("v1", "p1", "https://a/1.mp4"),
		video("v2", "p2", "https://a/2.mp4"),
		video("v3", "p3", "https://a/3.mp4"),
	)
	h.fetcher.fail["https://a/2.mp4"] = domain.ErrURLExpired

	_, err := h.exporter.Export(context.Background(), Options{})
	if !errors.Is(err, domain.ErrExportFailed) || !errors.Is(err, domain.ErrURLExpired) {
		t.Fatalf("err = %v, want ErrExportFailed wrapping ErrURLExpired", err)
	}
	var itemErr *domain.ItemError
	if !errors.As(err, &itemErr) || itemErr.Key != "v2" {
		t.Errorf("err = %v, want ItemError for v2", err)
	}
	if h.sink.data != nil {
		t.Error("sink should receive nothing on failure")
	}
	for _, u := range h.fetcher.fetched {
		if u == "https://a/3.mp4" {
			t.Error("single worker should stop before the item after the failure")
		}
	}

	events := h.events.Events()
	if last := events[len(events)-1]; last.Severity != domain.EventSeverityError {
		t.Errorf("last event = %+v, want error", last)
	}
	if h.exporter.Busy() {
		t.Error("guard should be released after failure")
	}
}

func TestExport_EmptyCatalog(t *testing.T) {
	h := newHarness(config.ExportConfig{})

	if _, err := h.exporter.Export(context.Background(), Options{}); !errors.Is(err, domain.ErrEmptyCatalog) {
		t.Errorf("err = %v, want ErrEmptyCatalog", err)
	}
}

func TestExport_SelectedKeys(t *testing.T) {
	h := newHarness(config.ExportConfig{},
		video("v1", "p1", "https://a/1.mp4"),
		video("v2", "p2", "https://a/2.mp4"),
	)

	result, err := h.exporter.Export(context.Background(), Options{Keys: []string{"v2"}})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if result.Entries != 1 {
		t.Errorf("Entries = %d, want 1", result.Entries)
	}
	if files := readZip(t, h.sink.data); len(files) != 1 || files["p2.mp4"] == "" {
		t.Errorf("archive = %v", files)
	}
}

func TestExport_Encrypted(t *testing.T) {
	h := newHarness(config.ExportConfig{Passphrase: "configured"},
		video("v1", "p1", "https://a/1.mp4"),
	)

	result, err := h.exporter.Export(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if !result.Encrypted || result.Name != ArchiveName(h.clock.Now())+crypto.Extension {
		t.Errorf("result = %+v", result)
	}
	if !crypto.IsEncrypted(h.sink.data) {
		t.Fatal("delivered data is not sealed")
	}
	plain, err := crypto.Decrypt(h.sink.data, "configured")
	if err != nil {
		t.Fatalf("Decrypt failed: %v", err)
	}
	if files := readZip(t, plain); files["p1.mp4"] == "" {
		t.Errorf("archive = %v", files)
	}
}

func TestExport_DeliveryFailure(t *testing.T) {
	h := newHarness(config.ExportConfig{}, video("v1", "p1", "https://a/1.mp4"))
	h.sink.err = errors.New("disk full")

	_, err := h.exporter.Export(context.Background(), Options{})
	if !errors.Is(err, domain.ErrExportFailed) {
		t.Errorf("err = %v, want ErrExportFailed", err)
	}
}

func TestExport_RejectsConcurrentRuns(t *testing.T) {
	h := newHarness(config.ExportConfig{Concurrency: 1}, video("v1", "p1", "https://a/1.mp4"))
	h.fetcher.gate = make(chan struct{})
	h.fetcher.entered = make(chan struct{}, 1)

	done := make(chan error, 1)
	go func() {
		_, err := h.exporter.Export(context.Background(), Options{})
		done <- err
	}()
	<-h.fetcher.entered

	if !h.exporter.Busy() {
		t.Error("Busy should report the running export")
	}
	if _, err := h.exporter.Prepare(context.Background(), Options{}); !errors.Is(err, domain.ErrBusy) {
		t.Errorf("Prepare err = %v, want ErrBusy", err)
	}
	if _, err := h.exporter.Export(context.Background(), Options{}); !errors.Is(err, domain.ErrBusy) {
		t.Errorf("Export err = %v, want ErrBusy", err)
	}

	close(h.fetcher.gate)
	if err := <-done; err != nil {
		t.Fatalf("Export failed: %v", err)
	}
}

func TestPrepare_DoesNotDeliver(t *testing.T) {
	h := newHarness(config.ExportConfig{}, video("v1", "p1", "https://a/1.mp4"))

	a, err := h.exporter.Prepare(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if a.Entries != 1 || a.Encrypted || len(a.Data) == 0 {
		t.Errorf("archive = %+v", a)
	}
	if h.sink.data != nil {
		t.Error("Prepare should not deliver")
	}
}

func TestBuild_EntryTimesFromCreatedAt(t *testing.T) {
	item := video("v1", "p1", "https://a/1.mp4")
	item.CreatedAt = "2024-06-01T12:00:00Z"
	h := newHarness(config.ExportConfig{})

	data, err := h.exporter.Build(context.Background(), []domain.CatalogItem{item}, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	got := r.File[0].Modified
	if got.Year() != 2024 || got.Month() != time.June || got.Day() != 1 || got.Hour() != 12 {
		t.Errorf("Modified = %v, want 2024-06-01 12:00", got)
	}
}

func TestArchiveName(t *testing.T) {
	ts := time.UnixMilli(1736937000123)
	if got := ArchiveName(ts); got != "likes-1736937000123.zip" {
		t.Errorf("ArchiveName = %q", got)
	}
}

func TestEntryNames(t *testing.T) {
	items := []domain.CatalogItem{
		{ID: "a", PostID: "p1"},
		{ID: "b", PostID: "p1"},
		{ID: "https://assets.example.com/users/x/clip.mp4"},
		{ID: "c", PostID: "../../etc/passwd"},
		{ID: "d", PostID: "p1"},
		{ID: ""},
	}
	want := []string{
		"p1.mp4",
		"p1-2.mp4",
		"https___assets.example.com_users_x_clip.mp4.mp4",
		"etc_passwd.mp4",
		"p1-3.mp4",
		"video.mp4",
	}
	if got := EntryNames(items); !reflect.DeepEqual(got, want) {
		t.Errorf("EntryNames =\n%v\nwant\n%v", got, want)
	}
}
