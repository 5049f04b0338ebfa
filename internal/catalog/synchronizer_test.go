package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iconidentify/likevault/internal/domain"
	"github.com/iconidentify/likevault/internal/normalize"
	"github.com/iconidentify/likevault/internal/remote"
	"github.com/iconidentify/likevault/internal/repository"
	"github.com/iconidentify/likevault/internal/store"
	"github.com/iconidentify/likevault/internal/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testNormalizer(t *testing.T) *normalize.Normalizer {
	t.Helper()
	n, err := normalize.New(normalize.Config{
		AssetHost:  "https://assets.example.com",
		PublicHost: "https://public.example.com",
		PageOrigin: "https://app.example.com/imagine",
	})
	if err != nil {
		t.Fatalf("normalize.New: %v", err)
	}
	return n
}

// fakeRemote serves pages keyed by the request cursor.
type fakeRemote struct {
	mu       sync.Mutex
	pages    map[string]*remote.Page
	errs     map[string]error
	identity string
	requests []remote.ListRequest

	// When gate is set, ListPage signals entered and waits for gate.
	gate    chan struct{}
	entered chan struct{}
	// onList runs after each request is recorded.
	onList func(f *fakeRemote)
}

func newFakeRemote(identity string) *fakeRemote {
	return &fakeRemote{
		pages:    make(map[string]*remote.Page),
		errs:     make(map[string]error),
		identity: identity,
	}
}

func (f *fakeRemote) ListPage(ctx context.Context, req remote.ListRequest) (*remote.Page, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate, entered, hook := f.gate, f.entered, f.onList
	f.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		<-gate
	}
	if hook != nil {
		hook(f)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[req.Cursor]; err != nil {
		return nil, err
	}
	if p, ok := f.pages[req.Cursor]; ok {
		return p, nil
	}
	return &remote.Page{}, nil
}

func (f *fakeRemote) Identity() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.identity
}

func (f *fakeRemote) setIdentity(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = id
}

func (f *fakeRemote) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func post(t *testing.T, fields map[string]interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func videoPost(t *testing.T, id string, created time.Time) json.RawMessage {
	return post(t, map[string]interface{}{
		"id":         id,
		"mediaUrl":   "users/u/" + id + ".mp4",
		"createTime": created.Format(time.RFC3339),
	})
}

type syncFixture struct {
	sync   *Synchronizer
	remote *fakeRemote
	repo   *repository.KVCatalogRepository
	events *testutil.RecordingEmitter
}

func newSyncFixture(t *testing.T, identity string) *syncFixture {
	t.Helper()
	rem := newFakeRemote(identity)
	clock := testutil.FixedClock()
	repo := repository.NewKVCatalogRepository(store.NewMemoryStore(), clock.Now)
	events := &testutil.RecordingEmitter{}

	s := NewSynchronizer(Config{PageSize: 40, Source: "MEDIA_POST_SOURCE_LIKED"}, rem, repo, testNormalizer(t), events, testLogger())
	s.SetClock(clock)
	return &syncFixture{sync: s, remote: rem, repo: repo, events: events}
}

func (f *syncFixture) catalog(t *testing.T) *domain.Catalog {
	t.Helper()
	c, err := f.repo.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func TestSynchronize_EndToEndTwoPages(t *testing.T) {
	f := newSyncFixture(t, "user-1")
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	var page1 []json.RawMessage
	for i := 0; i < 39; i++ {
		page1 = append(page1, videoPost(t, fmt.Sprintf("p1-%02d", i), base.Add(time.Duration(i)*time.Minute)))
	}
	// The 40th raw record is a non-mp4 child of the first post.
	page1[0] = post(t, map[string]interface{}{
		"id":         "p1-00",
		"mediaUrl":   "users/u/p1-00.mp4",
		"createTime": base.Format(time.RFC3339),
		"childPosts": []map[string]interface{}{
			{"id": "child-image", "mediaUrl": "users/u/child.png"},
		},
	})

	var page2 []json.RawMessage
	for i := 0; i < 5; i++ {
		page2 = append(page2, videoPost(t, fmt.Sprintf("p2-%02d", i), base.Add(time.Duration(100+i)*time.Minute)))
	}

	f.remote.pages[""] = &remote.Page{Posts: page1, NextCursor: "c1"}
	f.remote.pages["c1"] = &remote.Page{Posts: page2}

	result := f.sync.Synchronize(context.Background())
	if result.Err != nil {
		t.Fatalf("Synchronize failed: %v", result.Err)
	}
	if result.Pages != 2 || f.remote.requestCount() != 2 {
		t.Errorf("pages = %d, requests = %d, want 2", result.Pages, f.remote.requestCount())
	}
	if result.Count != 44 {
		t.Fatalf("Count = %d, want 44", result.Count)
	}

	catalog := f.catalog(t)
	if catalog.Len() != 44 {
		t.Fatalf("catalog Len = %d, want 44", catalog.Len())
	}
	if _, ok := catalog.Lookup("child-image"); ok {
		t.Error("non-mp4 child was merged")
	}
	if catalog.Items[0].ID != "p2-04" || catalog.Items[43].ID != "p1-00" {
		t.Errorf("first = %s, last = %s", catalog.Items[0].ID, catalog.Items[43].ID)
	}
	for i := 1; i < catalog.Len(); i++ {
		prev, _ := ParseTimestamp(catalog.Items[i-1].CreatedAt)
		cur, _ := ParseTimestamp(catalog.Items[i].CreatedAt)
		if cur.After(prev) {
			t.Fatalf("items %d and %d out of order", i-1, i)
		}
	}

	if counts := f.events.Counts(); len(counts) != 1 || counts[0] != 44 {
		t.Errorf("CatalogUpdated counts = %v, want [44]", counts)
	}
	if f.sync.State() != StateIdle {
		t.Errorf("State = %s, want idle", f.sync.State())
	}
}

func TestSynchronize_PaginationTerminatesOnEmptyPage(t *testing.T) {
	f := newSyncFixture(t, "user-1")
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	const n = 3
	cursor := ""
	for i := 0; i < n; i++ {
		next := fmt.Sprintf("c%d", i+1)
		f.remote.pages[cursor] = &remote.Page{
			Posts:      []json.RawMessage{videoPost(t, fmt.Sprintf("v%d", i), now)},
			NextCursor: next,
		}
		cursor = next
	}
	f.remote.pages[cursor] = &remote.Page{Posts: nil, NextCursor: "never-followed"}

	result := f.sync.Synchronize(context.Background())
	if result.Err != nil {
		t.Fatalf("Synchronize failed: %v", result.Err)
	}
	if got := f.remote.requestCount(); got != n+1 {
		t.Errorf("requests = %d, want %d", got, n+1)
	}
	if result.Count != n {
		t.Errorf("Count = %d, want %d", result.Count, n)
	}

	wantCursors := []string{"", "c1", "c2", "c3"}
	for i, req := range f.remote.requests {
		if req.Cursor != wantCursors[i] {
			t.Errorf("request %d cursor = %q, want %q", i, req.Cursor, wantCursors[i])
		}
		if req.Limit != 40 || req.Source != "MEDIA_POST_SOURCE_LIKED" {
			t.Errorf("request %d = %+v", i, req)
		}
	}
}

func TestSynchronize_FailureLeavesCatalogUntouched(t *testing.T) {
	f := newSyncFixture(t, "user-1")
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	f.remote.pages[""] = &remote.Page{Posts: []json.RawMessage{videoPost(t, "a", now)}, NextCursor: "c1"}
	f.remote.pages["c1"] = &remote.Page{Posts: []json.RawMessage{videoPost(t, "b", now)}}
	if r := f.sync.Synchronize(ctx); r.Err != nil {
		t.Fatalf("first pass: %v", r.Err)
	}

	f.remote.pages[""] = &remote.Page{Posts: []json.RawMessage{videoPost(t, "c", now)}, NextCursor: "c1"}
	f.remote.errs["c1"] = &remote.StatusError{StatusCode: 500}

	var hooked error
	f.sync.OnError(func(err error) { hooked = err })

	result := f.sync.Synchronize(ctx)
	var se *remote.StatusError
	if !errors.As(result.Err, &se) {
		t.Fatalf("Err = %v, want StatusError", result.Err)
	}
	if hooked == nil {
		t.Error("OnError hook not called")
	}

	catalog := f.catalog(t)
	if catalog.Len() != 2 {
		t.Errorf("Len = %d, want 2 (unchanged)", catalog.Len())
	}
	if _, ok := catalog.Lookup("c"); ok {
		t.Error("partial pass was merged")
	}

	stats := f.sync.Stats()
	if stats.Passes != 2 || stats.Failures != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.LastError == "" {
		t.Error("LastError not recorded")
	}
	if f.sync.State() != StateIdle || f.sync.Running() {
		t.Error("synchronizer did not return to idle after failure")
	}
}

func TestSynchronize_IdentitySwitchResetsCatalog(t *testing.T) {
	f := newSyncFixture(t, "user-1")
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	f.remote.pages[""] = &remote.Page{Posts: []json.RawMessage{videoPost(t, "mine", now)}}
	f.sync.Synchronize(ctx)
	addObserved(t, f.repo)

	// The new user's listing fails: the old catalog must still be gone.
	f.remote.setIdentity("user-2")
	f.remote.errs[""] = errors.New("connection reset")

	result := f.sync.Synchronize(ctx)
	if result.Err == nil {
		t.Fatal("expected fetch error")
	}
	if !result.Reset {
		t.Error("Reset = false, want true")
	}
	if n := f.catalog(t).Len(); n != 0 {
		t.Errorf("Len = %d after identity switch, want 0", n)
	}
	identity, _ := f.repo.Identity(ctx)
	if identity != "user-2" {
		t.Errorf("stored identity = %q", identity)
	}

	var sawIdentityEvent bool
	for _, e := range f.events.Events() {
		if e.Category == domain.EventCategoryIdentity {
			sawIdentityEvent = true
		}
	}
	if !sawIdentityEvent {
		t.Error("no identity event emitted")
	}
}

// addObserved stores an observed item directly in the repository.
func addObserved(t *testing.T, repo repository.CatalogRepository) {
	t.Helper()
	_, err := repo.Update(context.Background(), func(c *domain.Catalog) error {
		c.Items = Upsert(c.Items, domain.CatalogItem{ID: "https://cdn/live.mp4", URL: "https://cdn/live.mp4", Origin: domain.OriginObserved})
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSynchronize_EmptyStoredIdentityIsAdopted(t *testing.T) {
	f := newSyncFixture(t, "user-1")
	ctx := context.Background()

	f.repo.Save(ctx, &domain.Catalog{Items: []domain.CatalogItem{
		{ID: "https://cdn/live.mp4", URL: "https://cdn/live.mp4", Origin: domain.OriginObserved},
	}})

	result := f.sync.Synchronize(ctx)
	if result.Err != nil {
		t.Fatalf("Synchronize failed: %v", result.Err)
	}
	if result.Reset {
		t.Error("catalog reset on first identity")
	}
	if f.catalog(t).Len() != 1 {
		t.Error("observed item lost")
	}
	identity, _ := f.repo.Identity(ctx)
	if identity != "user-1" {
		t.Errorf("stored identity = %q, want user-1", identity)
	}
}

func TestSynchronize_NoIdentityKeepsCatalog(t *testing.T) {
	f := newSyncFixture(t, "")
	ctx := context.Background()
	f.repo.SaveIdentity(ctx, "someone")

	if r := f.sync.Synchronize(ctx); r.Reset || r.Err != nil {
		t.Errorf("result = %+v", r)
	}
	identity, _ := f.repo.Identity(ctx)
	if identity != "someone" {
		t.Errorf("stored identity = %q", identity)
	}
}

func TestSynchronize_PreservesObservedItems(t *testing.T) {
	f := newSyncFixture(t, "user-1")
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	f.remote.pages[""] = &remote.Page{Posts: []json.RawMessage{videoPost(t, "a", now)}}
	f.sync.Synchronize(ctx)
	addObserved(t, f.repo)

	// "a" disappears remotely; the observed item stays.
	f.remote.pages[""] = &remote.Page{}
	result := f.sync.Synchronize(ctx)
	if result.Err != nil {
		t.Fatal(result.Err)
	}

	catalog := f.catalog(t)
	if catalog.Len() != 1 || catalog.Items[0].Origin != domain.OriginObserved {
		t.Errorf("items = %+v", catalog.Items)
	}
}

func TestSynchronize_Reentrancy(t *testing.T) {
	f := newSyncFixture(t, "user-1")
	f.remote.gate = make(chan struct{})
	f.remote.entered = make(chan struct{}, 1)

	done := make(chan SyncResult)
	go func() { done <- f.sync.Synchronize(context.Background()) }()

	<-f.remote.entered
	if f.sync.State() != StateFetching {
		t.Errorf("State = %s, want fetching", f.sync.State())
	}

	second := f.sync.Synchronize(context.Background())
	if !second.Skipped {
		t.Error("concurrent Synchronize was not skipped")
	}

	close(f.remote.gate)
	first := <-done
	if first.Skipped || first.Err != nil {
		t.Errorf("first = %+v", first)
	}
	if got := f.remote.requestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
	if f.sync.Stats().Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", f.sync.Stats().Skipped)
	}
}

func TestSynchronize_CursorCycleAborts(t *testing.T) {
	f := newSyncFixture(t, "user-1")
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.remote.pages[""] = &remote.Page{Posts: []json.RawMessage{videoPost(t, "a", now)}, NextCursor: "loop"}
	f.remote.pages["loop"] = &remote.Page{Posts: []json.RawMessage{videoPost(t, "b", now)}, NextCursor: "loop"}

	result := f.sync.Synchronize(context.Background())
	if !errors.Is(result.Err, errCursorCycle) {
		t.Errorf("Err = %v, want cursor cycle", result.Err)
	}
	if f.catalog(t).Len() != 0 {
		t.Error("catalog mutated")
	}
}

func TestSynchronize_MaxPages(t *testing.T) {
	f := newSyncFixture(t, "user-1")
	f.sync.cfg.MaxPages = 2
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, cursor := range []string{"", "c1", "c2"} {
		f.remote.pages[cursor] = &remote.Page{
			Posts:      []json.RawMessage{videoPost(t, fmt.Sprintf("v%d", i), now)},
			NextCursor: fmt.Sprintf("c%d", i+1),
		}
	}

	result := f.sync.Synchronize(context.Background())
	if result.Err != nil {
		t.Fatal(result.Err)
	}
	if f.remote.requestCount() != 2 || result.Count != 2 {
		t.Errorf("requests = %d, count = %d", f.remote.requestCount(), result.Count)
	}
}

func TestSynchronize_IdentityChangeDuringPassAborts(t *testing.T) {
	f := newSyncFixture(t, "user-1")
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f.remote.pages[""] = &remote.Page{Posts: []json.RawMessage{videoPost(t, "a", now)}}
	f.remote.onList = func(r *fakeRemote) { r.setIdentity("user-2") }

	result := f.sync.Synchronize(context.Background())
	if !errors.Is(result.Err, errIdentityChanged) {
		t.Errorf("Err = %v, want identity changed", result.Err)
	}
	if f.catalog(t).Len() != 0 {
		t.Error("items fetched under a stale identity were merged")
	}
}

func TestObserver_AddObserved(t *testing.T) {
	clock := testutil.FixedClock()
	repo := repository.NewKVCatalogRepository(store.NewMemoryStore(), clock.Now)
	events := &testutil.RecordingEmitter{}
	o := NewObserver(repo, testNormalizer(t), events, testLogger())
	o.SetClock(clock)
	ctx := context.Background()

	item, ok, err := o.AddObserved(ctx, "users/u/live.mp4")
	if err != nil || !ok {
		t.Fatalf("AddObserved = %v, %v", ok, err)
	}
	if item.URL != "https://assets.example.com/users/u/live.mp4" || item.Origin != domain.OriginObserved {
		t.Errorf("item = %+v", item)
	}

	// Same URL again replaces rather than duplicates.
	if _, _, err := o.AddObserved(ctx, "users/u/live.mp4"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := o.AddObserved(ctx, "https://cdn/thumb.jpg"); ok {
		t.Error("non-video URL accepted")
	}

	catalog, _ := repo.Load(ctx)
	if catalog.Len() != 1 {
		t.Errorf("Len = %d, want 1", catalog.Len())
	}
	if counts := events.Counts(); len(counts) != 2 {
		t.Errorf("counts = %v, want two updates", counts)
	}
}
