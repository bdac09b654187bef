// Package runner drives a check run: log in, fetch series, diff against the
// stored snapshot, notify every release and persist the new snapshot.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kenmeiwatch/kenmeiwatch/internal/config"
	"github.com/kenmeiwatch/kenmeiwatch/internal/diff"
	"github.com/kenmeiwatch/kenmeiwatch/internal/kenmei"
	"github.com/kenmeiwatch/kenmeiwatch/internal/logging"
	"github.com/kenmeiwatch/kenmeiwatch/internal/metrics"
	"github.com/kenmeiwatch/kenmeiwatch/internal/notify"
	"github.com/kenmeiwatch/kenmeiwatch/internal/state"
)

// Tracker is the manga tracker account being watched.
type Tracker interface {
	Login(ctx context.Context, email, password string) error
	FetchSeries(ctx context.Context) ([]kenmei.Series, error)
}

// StateStore loads and persists the last-notified snapshot.
type StateStore interface {
	Load() (state.Snapshot, error)
	Save(state.Snapshot) error
}

// Notifier delivers one message.
type Notifier interface {
	Send(ctx context.Context, title, message string) error
}

// Result summarises a finished run.
type Result struct {
	Fetched        int
	Updates        []diff.Update
	Notified       int
	NotifyFailures int
	Removed        []string
	Saved          bool
}

// Runner executes check runs, once or on a cron schedule.
type Runner struct {
	cfg      *config.Config
	tracker  Tracker
	store    StateStore
	notifier Notifier
	Now      func() time.Time // injectable clock for testing

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup // tracks the initial run started by Start
}

// New creates a runner over the given collaborators.
func New(cfg *config.Config, tracker Tracker, store StateStore, notifier Notifier) *Runner {
	return &Runner{cfg: cfg, tracker: tracker, store: store, notifier: notifier, Now: time.Now}
}

// RunOnce performs one full check. Authentication and fetch errors abort the
// run before the state file is read or written. A failed notification is
// logged and counted, and the run continues with the next update. The new
// snapshot is saved even when some notifications failed; a save error is
// returned.
func (r *Runner) RunOnce(ctx context.Context) (Result, error) {
	start := r.Now()
	res, err := r.run(ctx)
	r.record(ctx, start, res, err)
	return res, err
}

func (r *Runner) run(ctx context.Context) (Result, error) {
	log := logging.Component("runner")
	var res Result

	if err := r.tracker.Login(ctx, r.cfg.KenmeiEmail, r.cfg.KenmeiPassword); err != nil {
		return res, fmt.Errorf("login: %w", err)
	}
	series, err := r.tracker.FetchSeries(ctx)
	if err != nil {
		return res, fmt.Errorf("fetch series: %w", err)
	}
	res.Fetched = len(series)
	log.Info().Int("series", len(series)).Msg("fetched series")

	prev, err := r.store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("state unreadable, starting from empty state")
	}
	if prev == nil {
		prev = state.Snapshot{}
	}

	res.Updates = diff.Detect(prev, series, diff.Policy{NotifyNewSeries: r.cfg.NotifyNewSeries, UnreadOnly: r.cfg.UnreadOnly})
	next := diff.Next(series)
	res.Removed = diff.Removed(prev, next)

	if r.cfg.DryRun {
		for _, u := range res.Updates {
			log.Info().Str("series", u.Title).Str("chapter_old", u.Old.String()).Str("chapter_new", u.New.String()).Msg("dry-run: would notify")
		}
		log.Info().Int("updates", len(res.Updates)).Msg("dry-run: skipping notifications and state save")
		return res, nil
	}

	for _, u := range res.Updates {
		title, message := notify.FormatUpdate(u)
		if err := r.notifier.Send(ctx, title, message); err != nil {
			res.NotifyFailures++
			metrics.IncNotificationFailed()
			log.Error().Err(err).Str("series", u.Title).Str("chapter_new", u.New.String()).Msg("notification failed")
			continue
		}
		res.Notified++
		metrics.IncNotificationSent()
		log.Info().Str("series", u.Title).Str("chapter_old", u.Old.String()).Str("chapter_new", u.New.String()).Msg("notified")
	}

	if len(res.Removed) > 0 {
		log.Debug().Strs("ids", res.Removed).Msg("series no longer reported, dropping from state")
	}
	if err := r.store.Save(next); err != nil {
		return res, fmt.Errorf("save state: %w", err)
	}
	res.Saved = true
	return res, nil
}

// record updates counters and pushes them to the configured sinks.
func (r *Runner) record(ctx context.Context, start time.Time, res Result, err error) {
	log := logging.Component("runner")
	now := r.Now()
	metrics.IncRun(err != nil)
	if !r.cfg.DryRun {
		metrics.AddUpdates(len(res.Updates))
	}
	if err == nil {
		metrics.SetSeriesTracked(res.Fetched)
	}
	metrics.ObserveRunDuration(now.Sub(start))
	metrics.SetLastRun(now)

	if perr := metrics.PushToGateway(r.cfg.PushgatewayURL); perr != nil {
		log.Warn().Err(perr).Msg("pushgateway push failed")
	}
	target := metrics.InfluxTarget{URL: r.cfg.InfluxURL, Token: r.cfg.InfluxToken, Org: r.cfg.InfluxOrg, Bucket: r.cfg.InfluxBucket}
	if perr := metrics.PushInflux(ctx, target); perr != nil {
		log.Warn().Err(perr).Msg("influxdb push failed")
	}
}

// Start runs a check immediately and then on the configured cron schedule.
// Scheduled runs never overlap: a tick that fires while a run is active is
// skipped.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return errors.New("runner already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	cl := cronLogger{}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	id, err := c.AddFunc(r.cfg.Schedule, func() { r.scheduled(ctx) })
	if err != nil {
		cancel()
		return fmt.Errorf("invalid schedule %q: %w", r.cfg.Schedule, err)
	}
	r.cron, r.cancel = c, cancel

	logging.Get().Info().Str("schedule", r.cfg.Schedule).Msg("starting kenmeiwatch")
	// run the first check right away through the same chain so it counts
	// towards skip-if-still-running
	job := c.Entry(id).WrappedJob
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		job.Run()
	}()
	c.Start()
	return nil
}

func (r *Runner) scheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	res, err := r.RunOnce(ctx)
	if err != nil {
		logging.Get().Error().Err(err).Msg("check run failed")
		return
	}
	logging.Get().Info().
		Int("series", res.Fetched).
		Int("updates", len(res.Updates)).
		Int("notified", res.Notified).
		Int("notify_failures", res.NotifyFailures).
		Msg("check run complete")
}

// Stop halts the schedule and waits for an active run to finish or for ctx
// to expire, whichever comes first.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil
	r.mu.Unlock()
	if c == nil {
		return
	}

	cronDone := c.Stop()
	done := make(chan struct{})
	go func() {
		<-cronDone.Done()
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Get().Info().Msg("all active runs completed")
	case <-ctx.Done():
		logging.Get().Warn().Msg("shutdown timeout exceeded, cancelling active run")
	}
	cancel()
}

// cronLogger routes cron's internal logging through zerolog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l := logging.Component("cron")
	l.Debug().Fields(keysAndValues).Msg(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l := logging.Component("cron")
	l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
