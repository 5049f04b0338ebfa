// Package deletion removes liked posts from the remote service, one at a
// time, with retry and pacing tuned for an aggressively rate-limited endpoint.
package deletion

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/iconidentify/likevault/internal/catalog"
	"github.com/iconidentify/likevault/internal/config"
	"github.com/iconidentify/likevault/internal/domain"
	"github.com/iconidentify/likevault/internal/repository"
)

// Deleter is the remote delete endpoint. err is set only when no response
// was received.
type Deleter interface {
	DeletePost(ctx context.Context, postID string) (int, error)
}

// Resyncer runs a catalog synchronization pass.
type Resyncer interface {
	Synchronize(ctx context.Context) catalog.SyncResult
}

// Result is the outcome of deleting one post.
type Result struct {
	PostID   string `json:"postId"`
	OK       bool   `json:"ok"`
	Status   int    `json:"status"`
	Attempts int    `json:"attempts"`
}

// BatchResult partitions a batch by outcome, each in processing order.
type BatchResult struct {
	Deleted []string `json:"deleted"`
	Failed  []string `json:"failed"`
}

// Summary formats the batch outcome for status messages.
func (b BatchResult) Summary() string {
	return fmt.Sprintf("deleted %d, failed %d", len(b.Deleted), len(b.Failed))
}

// Orchestrator deletes posts and keeps the catalog in step. At most one
// deletion, single or batch, runs at a time.
type Orchestrator struct {
	cfg     config.DeleteConfig
	client  Deleter
	repo    repository.CatalogRepository
	syncer  Resyncer
	events  domain.EventEmitter
	logger  *slog.Logger
	sleeper domain.Sleeper
	clock   domain.Clock

	inFlight atomic.Bool
}

// NewOrchestrator creates an Orchestrator. syncer and events may be nil.
func NewOrchestrator(
	cfg config.DeleteConfig,
	client Deleter,
	repo repository.CatalogRepository,
	syncer Resyncer,
	events domain.EventEmitter,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:     cfg,
		client:  client,
		repo:    repo,
		syncer:  syncer,
		events:  events,
		logger:  logger,
		sleeper: domain.RealSleeper{},
		clock:   domain.RealClock{},
	}
}

// SetSleeper replaces the source of backoff and pacing delays.
func (o *Orchestrator) SetSleeper(s domain.Sleeper) {
	o.sleeper = s
}

// SetClock replaces the time source used for event timestamps.
func (o *Orchestrator) SetClock(c domain.Clock) {
	o.clock = c
}

// Busy reports whether a deletion is in flight.
func (o *Orchestrator) Busy() bool {
	return o.inFlight.Load()
}

func (o *Orchestrator) acquire() bool {
	return o.inFlight.CompareAndSwap(false, true)
}

func (o *Orchestrator) release() {
	o.inFlight.Store(false)
}

// DeleteOne deletes a single post. It returns domain.ErrBusy when another
// deletion is running. A post id of "" fails with status 0 without a request.
func (o *Orchestrator) DeleteOne(ctx context.Context, postID string) (Result, error) {
	if !o.acquire() {
		return Result{PostID: postID}, domain.ErrBusy
	}
	defer o.release()

	result := o.deletePost(ctx, postID)
	if result.OK {
		o.logger.Info("post deleted", "post_id", postID, "attempts", result.Attempts)
		o.afterDelete(ctx, []string{postID})
	} else {
		o.logger.Warn("post delete failed", "post_id", postID, "status", result.Status, "attempts", result.Attempts)
		o.emit(domain.EventSeverityError, "Delete failed", domain.EventMetadata{
			"post_id": postID,
			"status":  result.Status,
		})
	}
	return result, nil
}

// DeleteMany deletes the distinct non-empty ids sequentially, pausing
// between requests regardless of outcome. It returns domain.ErrBusy when
// another deletion is running.
func (o *Orchestrator) DeleteMany(ctx context.Context, postIDs []string) (BatchResult, error) {
	if !o.acquire() {
		return BatchResult{}, domain.ErrBusy
	}
	defer o.release()

	ids := dedupe(postIDs)
	batch := BatchResult{Deleted: []string{}, Failed: []string{}}

	for i, id := range ids {
		if i > 0 && o.cfg.Pacing > 0 {
			if err := o.sleeper.Sleep(ctx, o.cfg.Pacing); err != nil {
				batch.Failed = append(batch.Failed, ids[i:]...)
				break
			}
		}

		result := o.deletePost(ctx, id)
		if result.OK {
			batch.Deleted = append(batch.Deleted, id)
		} else {
			batch.Failed = append(batch.Failed, id)
			o.logger.Warn("post delete failed", "post_id", id, "status", result.Status)
		}
	}

	o.logger.Info("batch delete complete", "deleted", len(batch.Deleted), "failed", len(batch.Failed))
	severity := domain.EventSeveritySuccess
	if len(batch.Failed) > 0 {
		severity = domain.EventSeverityWarning
	}
	o.emit(severity, "Batch delete: "+batch.Summary(), domain.EventMetadata{
		"deleted": len(batch.Deleted),
		"failed":  len(batch.Failed),
	})

	if len(batch.Deleted) > 0 {
		o.afterDelete(ctx, batch.Deleted)
	}
	return batch, nil
}

// deletePost applies the retry policy: 429 waits RateLimitBackoff times the
// attempt number, a transport failure waits TransportBackoff, and any other
// response is final. Exhausting every attempt reports 429.
func (o *Orchestrator) deletePost(ctx context.Context, postID string) Result {
	result := Result{PostID: postID}
	if postID == "" {
		return result
	}

	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		result.Attempts = attempt

		status, err := o.client.DeletePost(ctx, postID)
		var wait time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				result.Status = 0
				return result
			}
			o.logger.Debug("delete transport error", "post_id", postID, "attempt", attempt, "error", err)
			wait = o.cfg.TransportBackoff
		case status == http.StatusTooManyRequests:
			o.logger.Debug("delete rate limited", "post_id", postID, "attempt", attempt)
			wait = o.cfg.RateLimitBackoff * time.Duration(attempt)
		default:
			result.Status = status
			result.OK = status >= 200 && status <= 299
			return result
		}

		if attempt == o.cfg.MaxAttempts {
			break
		}
		if err := o.sleeper.Sleep(ctx, wait); err != nil {
			result.Status = 0
			return result
		}
	}

	result.Status = http.StatusTooManyRequests
	return result
}

// afterDelete prunes deleted posts locally and then resynchronizes so the
// catalog reflects the server.
func (o *Orchestrator) afterDelete(ctx context.Context, postIDs []string) {
	removed, err := o.repo.RemovePosts(ctx, postIDs)
	if err != nil {
		o.logger.Error("prune deleted posts failed", "error", err)
	} else if o.events != nil {
		if current, err := o.repo.Load(ctx); err == nil {
			o.events.CatalogUpdated("delete", current.Len())
		}
	}
	o.logger.Debug("pruned deleted posts", "requested", len(postIDs), "removed", removed)

	if o.syncer != nil {
		if r := o.syncer.Synchronize(ctx); r.Skipped {
			o.logger.Debug("post-delete resync skipped, pass already running")
		}
	}
}

func (o *Orchestrator) emit(severity domain.EventSeverity, message string, metadata domain.EventMetadata) {
	if o.events == nil {
		return
	}
	o.events.Emit(domain.Event{
		Timestamp: o.clock.Now(),
		Severity:  severity,
		Category:  domain.EventCategoryDelete,
		Source:    "deletion",
		Message:   message,
		Metadata:  metadata.ToJSON(),
	})
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
