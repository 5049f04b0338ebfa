package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iconidentify/likevault/internal/domain"
	"github.com/iconidentify/likevault/internal/normalize"
	"github.com/iconidentify/likevault/internal/remote"
	"github.com/iconidentify/likevault/internal/repository"
)

// State is the synchronizer's position in a pass.
type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateMerging  State = "merging"
)

var (
	errCursorCycle     = errors.New("listing returned a cursor it already issued")
	errIdentityChanged = errors.New("identity changed during pass")
)

// Remote is the listing endpoint plus the session identity it is scoped to.
type Remote interface {
	ListPage(ctx context.Context, req remote.ListRequest) (*remote.Page, error)
	Identity() string
}

// Config holds pagination settings.
type Config struct {
	PageSize int
	Source   string
	MaxPages int // 0 = unlimited
}

// SyncResult describes one Synchronize call.
type SyncResult struct {
	// Skipped is true when another pass was already in flight.
	Skipped  bool          `json:"skipped"`
	Reset    bool          `json:"reset"`
	Pages    int           `json:"pages"`
	Fetched  int           `json:"fetched"`
	Count    int           `json:"count"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// Stats are running counters for observing a synchronizer whose errors are
// never returned to callers.
type Stats struct {
	Passes      int64     `json:"passes"`
	Failures    int64     `json:"failures"`
	Skipped     int64     `json:"skipped"`
	Resets      int64     `json:"resets"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastCount   int       `json:"last_count"`
}

// Synchronizer pages through the remote listing and merges the result into
// the persisted catalog. At most one pass runs at a time.
type Synchronizer struct {
	cfg        Config
	remote     Remote
	repo       repository.CatalogRepository
	normalizer *normalize.Normalizer
	events     domain.EventEmitter
	logger     *slog.Logger
	clock      domain.Clock

	running atomic.Bool

	mu           sync.Mutex
	state        State
	stats        Stats
	lastIdentity string
	onError      func(error)
}

// NewSynchronizer creates a Synchronizer. events may be nil.
func NewSynchronizer(
	cfg Config,
	rem Remote,
	repo repository.CatalogRepository,
	normalizer *normalize.Normalizer,
	events domain.EventEmitter,
	logger *slog.Logger,
) *Synchronizer {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 40
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		cfg:        cfg,
		remote:     rem,
		repo:       repo,
		normalizer: normalizer,
		events:     events,
		logger:     logger,
		clock:      domain.RealClock{},
		state:      StateIdle,
	}
}

// SetClock replaces the time source.
func (s *Synchronizer) SetClock(c domain.Clock) {
	s.clock = c
}

// OnError registers a hook called with every failed pass's error.
func (s *Synchronizer) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// State returns the current state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the counters.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Running reports whether a pass is in flight.
func (s *Synchronizer) Running() bool {
	return s.running.Load()
}

// Synchronize runs one pass. A call made while a pass is in flight returns
// immediately with Skipped set. Failures leave the catalog untouched and are
// reported through the result, Stats and the OnError hook.
func (s *Synchronizer) Synchronize(ctx context.Context) SyncResult {
	if !s.running.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.stats.Skipped++
		s.mu.Unlock()
		return SyncResult{Skipped: true}
	}
	defer func() {
		s.setState(StateIdle)
		s.running.Store(false)
	}()

	start := s.clock.Now()
	result := s.pass(ctx)
	result.Duration = s.clock.Now().Sub(start)
	s.record(result)
	return result
}

func (s *Synchronizer) pass(ctx context.Context) SyncResult {
	var result SyncResult

	identity := s.remote.Identity()
	reset, err := s.ensureIdentity(ctx, identity)
	if err != nil {
		result.Err = fmt.Errorf("identity scope: %w", err)
		return result
	}
	result.Reset = reset

	s.setState(StateFetching)
	candidates, pages, err := s.fetchAll(ctx)
	result.Pages = pages
	if err != nil {
		result.Err = err
		return result
	}
	result.Fetched = len(candidates)

	if s.remote.Identity() != identity {
		result.Err = errIdentityChanged
		return result
	}

	s.setState(StateMerging)
	catalog, err := s.repo.Update(ctx, func(c *domain.Catalog) error {
		c.Items = Merge(c.Items, candidates)
		return nil
	})
	if err != nil {
		result.Err = fmt.Errorf("merge catalog: %w", err)
		return result
	}
	result.Count = catalog.Len()

	if s.events != nil {
		s.events.CatalogUpdated("sync", result.Count)
	}
	return result
}

// ensureIdentity resets the catalog when the session belongs to a different
// user than the stored owner. An empty stored identity is adopted silently.
func (s *Synchronizer) ensureIdentity(ctx context.Context, current string) (bool, error) {
	if current == "" {
		return false, nil
	}

	s.mu.Lock()
	last := s.lastIdentity
	s.mu.Unlock()
	if current == last {
		return false, nil
	}

	stored, err := s.repo.Identity(ctx)
	if err != nil {
		return false, err
	}

	reset := false
	switch {
	case stored == current:
	case stored == "":
		if err := s.repo.SaveIdentity(ctx, current); err != nil {
			return false, err
		}
	default:
		if err := s.repo.Reset(ctx, current); err != nil {
			return false, err
		}
		reset = true
		s.logger.Info("identity changed, catalog reset", "previous", stored, "current", current)
		if s.events != nil {
			s.events.Emit(domain.Event{
				Timestamp: s.clock.Now(),
				Severity:  domain.EventSeverityWarning,
				Category:  domain.EventCategoryIdentity,
				Source:    "sync",
				Message:   "Signed-in user changed; catalog cleared",
			})
			s.events.CatalogUpdated("sync", 0)
		}
	}

	s.mu.Lock()
	s.lastIdentity = current
	s.mu.Unlock()
	return reset, nil
}

// fetchAll requests pages strictly in cursor order until a page is empty or
// carries no next cursor.
func (s *Synchronizer) fetchAll(ctx context.Context) ([]domain.CatalogItem, int, error) {
	var candidates []domain.CatalogItem
	seen := make(map[string]bool)
	cursor := ""

	for pages := 0; ; {
		if s.cfg.MaxPages > 0 && pages >= s.cfg.MaxPages {
			s.logger.Warn("page limit reached", "max_pages", s.cfg.MaxPages)
			return candidates, pages, nil
		}

		page, err := s.remote.ListPage(ctx, remote.ListRequest{
			Limit:  s.cfg.PageSize,
			Source: s.cfg.Source,
			Cursor: cursor,
		})
		if err != nil {
			return nil, pages, fmt.Errorf("fetch page %d: %w", pages+1, err)
		}
		pages++

		items := s.normalizer.Posts(page.Posts)
		candidates = append(candidates, items...)
		s.logger.Debug("fetched page", "page", pages, "posts", len(page.Posts), "items", len(items))

		if len(page.Posts) == 0 || page.NextCursor == "" {
			return candidates, pages, nil
		}
		if seen[page.NextCursor] {
			return nil, pages, errCursorCycle
		}
		seen[page.NextCursor] = true
		cursor = page.NextCursor
	}
}

func (s *Synchronizer) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Synchronizer) record(result SyncResult) {
	s.mu.Lock()
	s.stats.Passes++
	if result.Reset {
		s.stats.Resets++
	}
	hook := s.onError
	if result.Err != nil {
		s.stats.Failures++
		s.stats.LastError = result.Err.Error()
		s.stats.LastErrorAt = s.clock.Now()
	} else {
		s.stats.LastSuccess = s.clock.Now()
		s.stats.LastCount = result.Count
	}
	s.mu.Unlock()

	if result.Err != nil {
		s.logger.Debug("sync pass failed", "error", result.Err, "pages", result.Pages)
		if hook != nil {
			hook(result.Err)
		}
		return
	}
	s.logger.Debug("sync pass complete",
		"pages", result.Pages,
		"fetched", result.Fetched,
		"items", result.Count,
		"duration", result.Duration,
	)
}
