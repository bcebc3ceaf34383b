package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"eventdesk/internal/calendar"
	"eventdesk/internal/codec"
	appLog "eventdesk/internal/log"
)

// Importer stores decoded documents. *calendar.Service implements it.
type Importer interface {
	Import(ctx context.Context, owner string, data []byte, format codec.Format, opts calendar.ImportOptions) (calendar.ImportSummary, error)
}

// Result is the outcome of syncing one source.
type Result struct {
	Source    Source
	FromCache bool
	Summary   calendar.ImportSummary
	Err       error
}

// Syncer fetches every source and imports it with replace semantics, so
// a feed's edits overwrite the stored copies of its events.
type Syncer struct {
	fetcher  *Fetcher
	importer Importer
	sources  []Source
	// timeout bounds one full pass over the sources.
	timeout time.Duration

	// mu serializes passes started by cron and by SyncAll callers.
	mu   sync.Mutex
	cron *cron.Cron
	// initial tracks the pass Start runs outside cron.
	initial sync.WaitGroup
}

func NewSyncer(f *Fetcher, imp Importer, sources []Source) *Syncer {
	return &Syncer{
		fetcher:  f,
		importer: imp,
		sources:  append([]Source(nil), sources...),
		timeout:  5 * time.Minute,
	}
}

// SyncAll runs one pass. A failing source does not stop the others.
func (s *Syncer) SyncAll(ctx context.Context) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results := make([]Result, 0, len(s.sources))
	for _, src := range s.sources {
		res := Result{Source: src}
		fetched, err := s.fetcher.Fetch(ctx, src)
		if err != nil {
			res.Err = err
			appLog.Error("feed sync failed", err, "id", src.ID, "url", redactURL(src.URL))
			results = append(results, res)
			continue
		}
		res.FromCache = fetched.FromCache

		res.Summary, res.Err = s.importer.Import(ctx, src.Owner, fetched.Body, codec.FormatICS, calendar.ImportOptions{Replace: true})
		if res.Err != nil {
			appLog.Error("feed import failed", res.Err, "id", src.ID, "owner", src.Owner)
		} else {
			appLog.Info("feed synced", "id", src.ID, "owner", src.Owner, "from_cache", res.FromCache,
				"imported", res.Summary.Imported, "updated", res.Summary.Updated, "skipped", res.Summary.Skipped)
		}
		results = append(results, res)
	}
	return results
}

// Start runs a pass immediately and then on schedule, a standard five-field
// cron expression, until Stop.
func (s *Syncer) Start(ctx context.Context, schedule string) error {
	if s.cron != nil {
		return errors.New("feed: syncer already started")
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{})))
	if _, err := c.AddFunc(schedule, func() { s.SyncAll(ctx) }); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		s.SyncAll(ctx)
	}()

	appLog.Info("feed syncer started", "schedule", schedule, "sources", len(s.sources))
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *Syncer) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.initial.Wait()
}

// cronLogger routes cron's own messages to the application log.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
