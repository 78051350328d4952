package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	exitwal "matchbook/infra/wal/exit"
	"matchbook/jobs/broadcaster"
	"matchbook/snapshot"
)

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show REPORT",
		Short: "Print a report written by run --report-dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			r, err := snapshot.Load(args[0])
			if err != nil {
				return err
			}
			return snapshot.Render(c.out, r, c.cfg.Report.Color)
		},
	}
}

func (c *cli) broadcastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "broadcast",
		Short: "Deliver staged reports from the outbox to the reports topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.broadcast(cmd.Context())
		},
	}
	f := cmd.Flags()
	f.String("outbox-dir", "data/outbox", "Outbox directory")
	f.String("topic", "matchbook.reports", "Reports topic")
	c.bind(f.Lookup("outbox-dir"), "outbox.dir")
	c.bind(f.Lookup("topic"), "kafka.reports_topic")
	return cmd
}

func (c *cli) broadcast(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	o, err := exitwal.Open(c.cfg.Outbox.Dir, c.log)
	if err != nil {
		return err
	}
	defer o.Close()

	bc, err := broadcaster.New(o, c.cfg.Kafka.Brokers, c.cfg.Kafka.ReportsTopic, c.log)
	if err != nil {
		return err
	}
	defer bc.Close()

	n, err := bc.Flush(ctx)
	if err != nil {
		return err
	}
	purged, err := o.PurgeAcked()
	if err != nil {
		return err
	}
	counts, err := o.Counts()
	if err != nil {
		return err
	}
	c.log.Info("outbox flushed",
		zap.Int("delivered", n),
		zap.Int("purged", purged),
		zap.Int("pending", counts[exitwal.StateNew]+counts[exitwal.StateSent]),
		zap.Int("failed", counts[exitwal.StateFailed]),
	)
	return nil
}
