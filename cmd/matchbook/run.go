package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"matchbook/infra/sequence"
	entrywal "matchbook/infra/wal/entry"
	exitwal "matchbook/infra/wal/exit"
	"matchbook/service"
	"matchbook/snapshot"
)

func (c *cli) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Match a whole feed and print the final books",
		Long: "Reads a feed to its end, routes every event to its book, shuts the books " +
			"down and prints what is left resting in each of them.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.StringP("file", "f", "", "Feed to read: an XML file or a journal directory")
	f.String("feed", "xml", "Feed kind: xml, journal or kafka")
	f.Duration("shutdown-timeout", 5*time.Second, "How long to wait for books to drain")
	f.Bool("journal", false, "Journal every routed event")
	f.String("journal-dir", "data/journal", "Journal directory")
	f.Bool("journal-prune", false, "Drop journal segments of earlier runs once the report is persisted")
	f.Bool("outbox", false, "Stage the final report in the outbox")
	f.String("report-dir", "", "Also write the report as JSON into this directory")
	c.bind(f.Lookup("file"), "feed.path")
	c.bind(f.Lookup("feed"), "feed.kind")
	c.bind(f.Lookup("shutdown-timeout"), "shutdown.timeout")
	c.bind(f.Lookup("journal"), "journal.enabled")
	c.bind(f.Lookup("journal-dir"), "journal.dir")
	c.bind(f.Lookup("journal-prune"), "journal.prune")
	c.bind(f.Lookup("outbox"), "outbox.enabled")
	c.bind(f.Lookup("report-dir"), "report.dir")
	return cmd
}

func (c *cli) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID, err := snapshot.NewRunID()
	if err != nil {
		return err
	}
	log := c.log.With(zap.Stringer("run", runID))
	start := time.Now()

	src, closeSrc, err := c.openSource(log)
	if err != nil {
		return err
	}
	defer closeSrc()

	opts := []service.Option{
		service.WithSequencer(sequence.New(0)),
		service.WithMetrics(service.NewMetrics(c.prom)),
	}
	j, err := c.openJournal(log)
	if err != nil {
		return err
	}
	if j != nil {
		defer j.Close()
		opts = append(opts, service.WithJournal(j))
	}
	reg := service.NewBookRegistry(log, opts...)

	n, err := reg.Consume(ctx, src)
	if err != nil {
		// books stay as they are; the feed is not trusted past this point
		return errors.Wrapf(err, "feed aborted after %d events", n)
	}
	log.Info("feed drained", zap.Int("events", n), zap.Int("books", len(reg.BookIDs())))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Shutdown.Timeout)
	defer cancel()
	rep, shutdownErr := reg.Shutdown(shutdownCtx)

	report := c.finalReport(reg, runID, time.Since(start), rep)
	if err := snapshot.Render(c.out, report, c.cfg.Report.Color); err != nil {
		return err
	}
	if err := c.persistReport(report, log); err != nil {
		return err
	}
	if err := c.pruneJournal(j, log); err != nil {
		return err
	}
	return shutdownErr
}

// finalReport snapshots every book. A book still draining gets a short
// grace period and is reported unread if it does not finish in time.
func (c *cli) finalReport(reg *service.BookRegistry, runID uuid.UUID, elapsed time.Duration, rep service.ShutdownReport) snapshot.Report {
	ctx := context.Background()
	if rep.Degraded() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Shutdown.Timeout)
		defer cancel()
	}
	return snapshot.Build(runID, elapsed, reg.FinalStats(ctx), rep)
}

// journal wraps the entry journal with the sequence it had when this run
// opened it.
type journal struct {
	*entrywal.WAL
	startSeq uint64
}

// openJournal returns nil when journaling is off.
func (c *cli) openJournal(log *zap.Logger) (*journal, error) {
	if !c.cfg.Journal.Enabled {
		return nil, nil
	}
	w, err := entrywal.Open(entrywal.Config{
		Dir:             c.cfg.Journal.Dir,
		SegmentSize:     c.cfg.Journal.SegmentSize,
		SyncEveryAppend: c.cfg.Journal.Sync,
	}, log)
	if err != nil {
		return nil, err
	}
	return &journal{WAL: w, startSeq: w.LastSeq()}, nil
}

// pruneJournal removes closed segments whose events all came from earlier
// runs. It runs only after the report of this run is persisted.
func (c *cli) pruneJournal(j *journal, log *zap.Logger) error {
	if j == nil || !c.cfg.Journal.Prune {
		return nil
	}
	removed, err := j.TruncateBefore(j.startSeq)
	if err != nil {
		return errors.Wrap(err, "prune journal")
	}
	log.Info("journal pruned", zap.Int("segments", removed), zap.Uint64("through_seq", j.startSeq))
	return nil
}

func (c *cli) persistReport(r snapshot.Report, log *zap.Logger) error {
	if c.cfg.Report.Dir != "" {
		w := &snapshot.Writer{Dir: c.cfg.Report.Dir}
		path, err := w.Write(r)
		if err != nil {
			return err
		}
		log.Info("report written", zap.String("path", path))
	}
	if c.cfg.Outbox.Enabled {
		o, err := exitwal.Open(c.cfg.Outbox.Dir, log)
		if err != nil {
			return err
		}
		defer o.Close()
		if err := snapshot.Stage(o, r); err != nil {
			return err
		}
		log.Info("report staged", zap.Int("books", len(r.Books)))
	}
	return nil
}
