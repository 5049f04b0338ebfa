package handler

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/iconidentify/likevault/internal/poller"
)

type fakePollControl struct {
	state    poller.State
	checks   int
	activity *poller.ActivityLog
}

func (f *fakePollControl) State() poller.State { return f.state }

func (f *fakePollControl) Pause() {
	if f.state == poller.StateRunning {
		f.state = poller.StatePaused
	}
}

func (f *fakePollControl) Resume() {
	if f.state == poller.StatePaused {
		f.state = poller.StateRunning
	}
}

func (f *fakePollControl) CheckNow()                     { f.checks++ }
func (f *fakePollControl) Activity() *poller.ActivityLog { return f.activity }

func TestSyncHandler_PauseResume(t *testing.T) {
	p := &fakePollControl{state: poller.StateRunning}
	h := NewSyncHandler(p, testLogger())

	w := do(h.Pause, http.MethodPost, "/api/v1/sync/pause", "")
	var resp PollerStateResponse
	decode(t, w, &resp)
	if w.Code != http.StatusOK || resp.State != poller.StatePaused {
		t.Errorf("pause: status = %d, state = %s", w.Code, resp.State)
	}

	w = do(h.Resume, http.MethodPost, "/api/v1/sync/resume", "")
	decode(t, w, &resp)
	if w.Code != http.StatusOK || resp.State != poller.StateRunning {
		t.Errorf("resume: status = %d, state = %s", w.Code, resp.State)
	}
}

func TestSyncHandler_Check(t *testing.T) {
	p := &fakePollControl{state: poller.StatePaused}
	h := NewSyncHandler(p, testLogger())

	w := do(h.Check, http.MethodPost, "/api/v1/sync/check", "")
	if w.Code != http.StatusAccepted || p.checks != 1 {
		t.Errorf("status = %d, checks = %d", w.Code, p.checks)
	}
}

func TestSyncHandler_NotRunning(t *testing.T) {
	p := &fakePollControl{state: poller.StateIdle}
	h := NewSyncHandler(p, testLogger())

	for name, fn := range map[string]http.HandlerFunc{"pause": h.Pause, "resume": h.Resume, "check": h.Check} {
		if w := do(fn, http.MethodPost, "/api/v1/sync/"+name, ""); w.Code != http.StatusConflict {
			t.Errorf("%s: status = %d, want 409", name, w.Code)
		}
	}
	if p.checks != 0 {
		t.Errorf("checks = %d, want 0", p.checks)
	}
}

func TestSyncHandler_Activity(t *testing.T) {
	log := poller.NewActivityLog(filepath.Join(t.TempDir(), "activity.jsonl"), 10)
	for _, status := range []string{"success", "paused", "check_now"} {
		if err := log.Append(poller.ActivityEvent{Status: status}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}
	h := NewSyncHandler(&fakePollControl{state: poller.StateRunning, activity: log}, testLogger())

	w := do(h.Activity, http.MethodGet, "/api/v1/sync/activity?limit=2", "")
	var resp ActivityResponse
	decode(t, w, &resp)
	if len(resp.Events) != 2 || resp.Events[0].Status != "check_now" || resp.Events[1].Status != "paused" {
		t.Errorf("events = %+v", resp.Events)
	}

	empty := NewSyncHandler(&fakePollControl{state: poller.StateRunning}, testLogger())
	w = do(empty.Activity, http.MethodGet, "/api/v1/sync/activity", "")
	decode(t, w, &resp)
	if w.Code != http.StatusOK || resp.Events == nil || len(resp.Events) != 0 {
		t.Errorf("disabled log: status = %d, events = %v", w.Code, resp.Events)
	}
}
