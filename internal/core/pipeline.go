package core

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/valter-silva-au/cronwatch/internal/observability"
	"github.com/valter-silva-au/cronwatch/pkg/models"
)

// EventStore is the write side of the store used by the pipeline.
type EventStore interface {
	Insert(ctx context.Context, event models.CronEvent) (models.InsertResult, error)
	SaveCursor(ctx context.Context, cursor models.TailCursor) error
}

// Observer receives measurements from the pipeline and the daemon. The
// Prometheus collectors implement it.
type Observer interface {
	BatchProcessed(report models.IngestionReport, reset bool)
	NotificationSent(severity observability.AlertSeverity, err error)
	TickCompleted(kind string, elapsed time.Duration, err error)
	StatsPublished(stats observability.Stats)
}

type nopObserver struct{}

func (nopObserver) BatchProcessed(models.IngestionReport, bool) {}
func (nopObserver) NotificationSent(observability.AlertSeverity, error) {}
func (nopObserver) TickCompleted(string, time.Duration, error) {}
func (nopObserver) StatsPublished(observability.Stats) {}

// PipelineOptions configures a Pipeline. Tailer, Store and Notifier are
// required.
type PipelineOptions struct {
	Tailer     *observability.Tailer
	Store      EventStore
	Notifier   observability.Notifier
	MaxMessage int
	Observer   Observer
	Logger     *zap.SugaredLogger
	Now        func() time.Time
}

// Pipeline moves lines from the tailer through the parser into the store
// and raises an alert for every newly stored failure. RunOnce and
// ParseExisting must not be called concurrently.
type Pipeline struct {
	tailer     *observability.Tailer
	store      EventStore
	notifier   observability.Notifier
	maxMessage int
	observer   Observer
	logger     *zap.SugaredLogger
	now        func() time.Time
}

// NewPipeline creates a Pipeline from opts.
func NewPipeline(opts PipelineOptions) *Pipeline {
	p := &Pipeline{
		tailer:     opts.Tailer,
		store:      opts.Store,
		notifier:   opts.Notifier,
		maxMessage: opts.MaxMessage,
		observer:   opts.Observer,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if p.observer == nil {
		p.observer = nopObserver{}
	}
	if p.logger == nil {
		p.logger = zap.NewNop().Sugar()
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	if p.maxMessage <= 0 {
		p.maxMessage = observability.DefaultMaxMessage
	}
	return p
}

// SourcePath returns the log file being ingested.
func (p *Pipeline) SourcePath() string {
	return p.tailer.Path()
}

// RunOnce ingests every complete line appended since the last run. The
// cursor only advances once the whole batch is stored; on a storage error
// the batch is read again next time, and lines already stored come back as
// duplicates without alerting twice.
func (p *Pipeline) RunOnce(ctx context.Context) (models.IngestionReport, error) {
	batch, err := p.tailer.Poll()
	if err != nil {
		return models.IngestionReport{}, errors.Wrap(err, "polling source log")
	}
	if batch.Reset {
		p.logger.Infow("Source log rotated or truncated, reading from the start",
			"path", p.tailer.Path())
	}

	report, err := p.process(ctx, batch.Lines, true)
	p.observer.BatchProcessed(report, batch.Reset)
	if err != nil {
		return report, err
	}

	return report, p.commit(ctx, p.tailer, batch)
}

// ParseExisting ingests the whole source log from the start. Events already
// stored are skipped. Alerts are raised only when notify is set, so a
// backfill does not replay old failures. Afterwards RunOnce continues from
// the end of the file.
func (p *Pipeline) ParseExisting(ctx context.Context, notify bool) (models.IngestionReport, error) {
	fresh := observability.NewTailer(p.tailer.Path(), nil)
	batch, err := fresh.Poll()
	if err != nil {
		return models.IngestionReport{}, errors.Wrap(err, "reading source log")
	}

	report, err := p.process(ctx, batch.Lines, notify)
	p.observer.BatchProcessed(report, false)
	if err != nil {
		return report, err
	}

	if err := p.commit(ctx, fresh, batch); err != nil {
		return report, err
	}
	p.tailer = fresh
	return report, nil
}

func (p *Pipeline) commit(ctx context.Context, tailer *observability.Tailer, batch observability.Batch) error {
	before := tailer.Cursor()
	tailer.Commit(batch)
	after := tailer.Cursor()
	if after.Offset == before.Offset && after.Identity == before.Identity {
		return nil
	}
	if err := p.store.SaveCursor(ctx, after); err != nil {
		return errors.Wrap(err, "saving tail cursor")
	}
	return nil
}

// process handles lines in file order. Malformed lines are logged and
// skipped; a storage error stops the batch.
func (p *Pipeline) process(ctx context.Context, lines []string, notify bool) (models.IngestionReport, error) {
	var report models.IngestionReport
	for i, line := range lines {
		report.Lines++

		event, err := observability.Parse(line)
		if err != nil {
			if errors.Is(err, observability.ErrBlankLine) {
				continue
			}
			var malformed *observability.MalformedLineError
			if errors.As(err, &malformed) {
				report.Malformed++
				p.logger.Warnw("Skipping malformed line",
					"path", p.tailer.Path(),
					"line", malformed.Line,
					"reason", malformed.Reason)
				continue
			}
			return report, errors.Wrapf(err, "parsing line %d", i+1)
		}

		event.IngestedAt = p.now()
		result, err := p.store.Insert(ctx, event)
		if err != nil {
			return report, errors.Wrapf(err, "storing event at %s", event.Timestamp.Format(time.RFC3339))
		}

		switch result {
		case models.Duplicate:
			report.Duplicates++
		case models.Inserted:
			report.Inserted++
			if notify && event.Failed() {
				p.notify(ctx, event)
				report.Notified++
			}
		}
	}

	if report.Inserted > 0 || report.Malformed > 0 {
		p.logger.Infow("Processed new entries",
			"inserted", report.Inserted,
			"duplicates", report.Duplicates,
			"malformed", report.Malformed,
			"notified", report.Notified)
	}
	return report, nil
}

// notify delivers one alert. Delivery problems are logged and never
// propagated.
func (p *Pipeline) notify(ctx context.Context, event models.CronEvent) {
	alert := observability.NewAlert(event, p.maxMessage)
	err := p.notifier.Notify(ctx, alert)
	p.observer.NotificationSent(alert.Severity, err)
	if err == nil {
		return
	}
	if errors.Is(err, observability.ErrSinkUnavailable) {
		p.logger.Warnw("Notification sink unavailable",
			"exit_code", event.ExitCode,
			"message", alert.Message,
			"error", err)
		return
	}
	p.logger.Errorw("Failed to send notification",
		"exit_code", event.ExitCode,
		"message", alert.Message,
		"error", err)
}
