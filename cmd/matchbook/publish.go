package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"matchbook/feed"
	"matchbook/infra/kafka"
)

func (c *cli) publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish FILE",
		Short: "Publish an XML feed to the feed topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.publish(cmd.Context(), args[0])
		},
	}
	f := cmd.Flags()
	f.StringSlice("brokers", []string{"localhost:9092"}, "Kafka brokers")
	f.String("topic", "matchbook.feed", "Feed topic")
	f.Int("batch", 500, "Messages per write")
	c.bind(f.Lookup("brokers"), "kafka.brokers")
	c.bind(f.Lookup("topic"), "kafka.feed_topic")
	c.bind(f.Lookup("batch"), "kafka.batch_size")
	return cmd
}

func (c *cli) publish(ctx context.Context, path string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open feed")
	}
	defer f.Close()

	k := c.cfg.Kafka
	p := kafka.NewProducer(k.Brokers, k.FeedTopic, c.log)
	defer p.Close()

	n, err := p.Publish(ctx, feed.NewXMLSource(f), k.BatchSize)
	if err != nil {
		return err
	}
	c.log.Info("published", zap.String("file", path), zap.String("topic", k.FeedTopic), zap.Int("events", n))
	return nil
}
