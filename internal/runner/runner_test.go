package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kenmeiwatch/kenmeiwatch/internal/config"
	"github.com/kenmeiwatch/kenmeiwatch/internal/kenmei"
	"github.com/kenmeiwatch/kenmeiwatch/internal/metrics"
	"github.com/kenmeiwatch/kenmeiwatch/internal/state"
)

type fakeTracker struct {
	series   []kenmei.Series
	loginErr error
	fetchErr error
	logins   atomic.Int32
	block    chan struct{}
}

func (f *fakeTracker) Login(ctx context.Context, email, password string) error {
	f.logins.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.loginErr
}

func (f *fakeTracker) FetchSeries(ctx context.Context) ([]kenmei.Series, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.series, nil
}

type memStore struct {
	snap    state.Snapshot
	loadErr error
	saveErr error
	saves   int
	loads   int
}

func (m *memStore) Load() (state.Snapshot, error) {
	m.loads++
	if m.loadErr != nil {
		return state.Snapshot{}, m.loadErr
	}
	out := state.Snapshot{}
	for k, v := range m.snap {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Save(s state.Snapshot) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snap = s
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	failOn   map[int]bool
}

func (f *fakeNotifier) Send(ctx context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	if f.failOn[len(f.messages)] {
		return errors.New("pushover down")
	}
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.KenmeiEmail = "reader@example.com"
	cfg.KenmeiPassword = "secret"
	return cfg
}

func TestRunOnceDetectsUpdatesAndNewSeries(t *testing.T) {
	for _, notifyNew := range []bool{true, false} {
		tr := &fakeTracker{series: []kenmei.Series{
			{ID: "A", Title: "Berserk", Chapter: "12", Unread: true},
			{ID: "B", Title: "Vagabond", Chapter: "1", Unread: true},
		}}
		st := &memStore{snap: state.Snapshot{"A": "10"}}
		n := &fakeNotifier{}
		cfg := testConfig()
		cfg.NotifyNewSeries = notifyNew

		res, err := New(cfg, tr, st, n).RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce failed: %v", err)
		}
		want := 1
		if notifyNew {
			want = 2
		}
		if len(res.Updates) != want || res.Notified != want {
			t.Fatalf("notifyNew=%v: expected %d updates, got %+v", notifyNew, want, res)
		}
		if res.Updates[0].ID != "A" || res.Updates[0].Old != "10" || res.Updates[0].New != "12" {
			t.Fatalf("unexpected update for A: %+v", res.Updates[0])
		}
		if n.messages[0] != "Berserk | Ch. 12 released!" {
			t.Fatalf("unexpected message: %q", n.messages[0])
		}
		if st.snap["A"] != "12" || st.snap["B"] != "1" {
			t.Fatalf("expected state to hold fetched chapters, got %v", st.snap)
		}
	}
}

func TestRunOnceUnchangedOrLowerChapterIsQuiet(t *testing.T) {
	tr := &fakeTracker{series: []kenmei.Series{
		{ID: "A", Title: "Berserk", Chapter: "10", Unread: true},
		{ID: "B", Title: "Vagabond", Chapter: "4", Unread: true},
	}}
	st := &memStore{snap: state.Snapshot{"A": "10", "B": "5"}}
	n := &fakeNotifier{}

	res, err := New(testConfig(), tr, st, n).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(res.Updates) != 0 || len(n.messages) != 0 {
		t.Fatalf("expected no notifications, got %v", n.messages)
	}
	if !res.Saved {
		t.Fatal("expected state to be saved")
	}
}

func TestRunOnceNotificationFailureIsNotFatal(t *testing.T) {
	tr := &fakeTracker{series: []kenmei.Series{
		{ID: "1", Title: "One", Chapter: "2", Unread: true},
		{ID: "2", Title: "Two", Chapter: "3", Unread: true},
		{ID: "3", Title: "Three", Chapter: "4", Unread: true},
	}}
	st := &memStore{snap: state.Snapshot{"1": "1", "2": "2", "3": "3"}}
	n := &fakeNotifier{failOn: map[int]bool{2: true}}

	res, err := New(testConfig(), tr, st, n).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(n.messages) != 3 {
		t.Fatalf("expected all three notifications attempted, got %v", n.messages)
	}
	if res.Notified != 2 || res.NotifyFailures != 1 {
		t.Fatalf("unexpected counts: %+v", res)
	}
	if st.saves != 1 || st.snap["2"] != "3" {
		t.Fatalf("expected state saved with fetched chapters, got %v", st.snap)
	}
}

func TestRunOnceAuthAndFetchFailuresLeaveStateAlone(t *testing.T) {
	tests := []struct {
		name    string
		tracker *fakeTracker
		target  error
	}{
		{"auth", &fakeTracker{loginErr: kenmei.ErrAuth}, kenmei.ErrAuth},
		{"fetch", &fakeTracker{fetchErr: kenmei.ErrFetch}, kenmei.ErrFetch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &memStore{snap: state.Snapshot{"A": "10"}}
			n := &fakeNotifier{}
			_, err := New(testConfig(), tt.tracker, st, n).RunOnce(context.Background())
			if !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
			if st.loads != 0 || st.saves != 0 {
				t.Fatalf("state touched on failure: loads=%d saves=%d", st.loads, st.saves)
			}
			if len(n.messages) != 0 {
				t.Fatalf("unexpected notifications: %v", n.messages)
			}
		})
	}
}

func TestRunOnceCorruptStateStartsEmpty(t *testing.T) {
	tr := &fakeTracker{series: []kenmei.Series{{ID: "A", Title: "Berserk", Chapter: "12", Unread: true}}}
	st := &memStore{loadErr: errors.New("unmarshal state: bad")}
	n := &fakeNotifier{}

	res, err := New(testConfig(), tr, st, n).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(res.Updates) != 1 || !res.Updates[0].FirstSeen {
		t.Fatalf("expected a first-seen update, got %+v", res.Updates)
	}
}

func TestRunOnceSaveErrorIsReturned(t *testing.T) {
	tr := &fakeTracker{series: []kenmei.Series{{ID: "A", Title: "Berserk", Chapter: "12", Unread: true}}}
	st := &memStore{saveErr: errors.New("disk full")}

	res, err := New(testConfig(), tr, st, &fakeNotifier{}).RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "save state") {
		t.Fatalf("expected save error, got %v", err)
	}
	if res.Saved {
		t.Fatal("expected Saved=false")
	}
}

func TestRunOnceDryRun(t *testing.T) {
	tr := &fakeTracker{series: []kenmei.Series{{ID: "A", Title: "Berserk", Chapter: "12", Unread: true}}}
	st := &memStore{snap: state.Snapshot{"A": "10"}}
	n := &fakeNotifier{}
	cfg := testConfig()
	cfg.DryRun = true

	res, err := New(cfg, tr, st, n).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(res.Updates) != 1 {
		t.Fatalf("expected update to be detected, got %+v", res.Updates)
	}
	if len(n.messages) != 0 || st.saves != 0 {
		t.Fatalf("dry-run sent %d messages and saved %d times", len(n.messages), st.saves)
	}
}

func TestRunOnceDryRunIsNotCounted(t *testing.T) {
	tr := &fakeTracker{series: []kenmei.Series{{ID: "A", Title: "Berserk", Chapter: "12", Unread: true}}}
	cfg := testConfig()
	cfg.DryRun = true

	before := metrics.GetSnapshot().UpdatesDetected
	if _, err := New(cfg, tr, &memStore{}, &fakeNotifier{}).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if after := metrics.GetSnapshot().UpdatesDetected; after != before {
		t.Fatalf("dry-run changed updates_detected from %d to %d", before, after)
	}
}

func TestRunOnceReadSeriesNotLostAcrossRuns(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyNewSeries = false
	st := &memStore{}
	n := &fakeNotifier{}
	tr := &fakeTracker{}
	r := New(cfg, tr, st, n)

	runs := [][]kenmei.Series{
		{{ID: "A", Title: "Berserk", Chapter: "10", Unread: true}},
		{{ID: "A", Title: "Berserk", Chapter: "10", Unread: false}},
		{{ID: "A", Title: "Berserk", Chapter: "11", Unread: true}},
	}
	for i, series := range runs {
		tr.series = series
		if _, err := r.RunOnce(context.Background()); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}
	if len(n.messages) != 1 || n.messages[0] != "Berserk | Ch. 11 released!" {
		t.Fatalf("expected one notification for chapter 11, got %v", n.messages)
	}
}

func TestRunOnceTitleKeyedStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unread.json")
	legacy := "{\n    \"One Piece\": \"1100\"\n}"
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}
	tr := &fakeTracker{series: []kenmei.Series{{ID: "4242", Title: "One Piece", Chapter: "1100", Unread: true}}}
	n := &fakeNotifier{}

	if _, err := New(testConfig(), tr, state.NewStore(path), n).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(n.messages) != 0 {
		t.Fatalf("expected no notification for an unchanged chapter, got %v", n.messages)
	}
	b, _ := os.ReadFile(path)
	if string(b) != "{\n    \"4242\": \"1100\"\n}\n" {
		t.Fatalf("expected state rewritten by id, got:\n%s", b)
	}
}

func TestRunOnceFirstRunCreatesStateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unread.json")
	tr := &fakeTracker{series: []kenmei.Series{
		{ID: "1", Title: "Berserk", Chapter: "374", Unread: true},
		{ID: "2", Title: "Vagabond", Chapter: "327", Unread: true},
	}}
	n := &fakeNotifier{}

	if _, err := New(testConfig(), tr, state.NewStore(path), n).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("state file not created: %v", err)
	}
	want := "{\n    \"1\": \"374\",\n    \"2\": \"327\"\n}\n"
	if string(b) != want {
		t.Fatalf("unexpected state file:\n%s", b)
	}

	// a second run with the same data is quiet
	n.messages = nil
	res, err := New(testConfig(), tr, state.NewStore(path), n).RunOnce(context.Background())
	if err != nil || len(res.Updates) != 0 {
		t.Fatalf("expected quiet second run, got %+v %v", res, err)
	}
}

func TestStartRunsImmediatelyAndStopWaits(t *testing.T) {
	tr := &fakeTracker{block: make(chan struct{})}
	cfg := testConfig()
	cfg.Schedule = "@every 1h"
	r := New(cfg, tr, &memStore{}, &fakeNotifier{})

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected second Start to fail")
	}
	deadline := time.Now().Add(2 * time.Second)
	for tr.logins.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("initial run did not start")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopped := make(chan struct{})
	go func() {
		r.Stop(context.Background())
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a run was still active")
	case <-time.After(50 * time.Millisecond):
	}
	close(tr.block)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the run finished")
	}
}

func TestStartInvalidSchedule(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule = "every tuesday"
	r := New(cfg, &fakeTracker{}, &memStore{}, &fakeNotifier{})
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected invalid schedule error")
	}
	r.Stop(context.Background())
}

func TestBuildNotifier(t *testing.T) {
	cfg := testConfig()
	cfg.PushoverAppKey = "app"
	cfg.PushoverAccKey = "acc"
	cfg.DiscordWebhook = "http://discord.invalid/webhook"
	cfg.GotifyURL = "http://gotify.invalid"
	if n := BuildNotifier(cfg); n.Len() != 2 {
		t.Fatalf("expected pushover and discord, got %d services", n.Len())
	}
}
