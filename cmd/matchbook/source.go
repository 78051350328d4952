package main

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"matchbook/config"
	"matchbook/feed"
	"matchbook/infra/kafka"
	entrywal "matchbook/infra/wal/entry"
)

func (c *cli) openSource(log *zap.Logger) (feed.Source, func(), error) {
	if err := c.cfg.ValidateFeed(); err != nil {
		return nil, nil, err
	}
	switch c.cfg.Feed.Kind {
	case config.FeedXML:
		f, err := os.Open(c.cfg.Feed.Path)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open feed")
		}
		return feed.NewXMLSource(f), func() { _ = f.Close() }, nil

	case config.FeedJournal:
		if c.cfg.Journal.Enabled && c.cfg.Journal.Dir == c.cfg.Feed.Path {
			return nil, nil, errors.New("cannot journal into the journal being replayed")
		}
		r, err := entrywal.NewReader(c.cfg.Feed.Path)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open journal feed")
		}
		return r, func() { _ = r.Close() }, nil

	case config.FeedKafka:
		k := c.cfg.Kafka
		cons := kafka.NewConsumer(k.Brokers, k.FeedTopic, k.GroupID, log)
		return cons, func() { _ = cons.Close() }, nil
	}
	return nil, nil, errors.Errorf("unknown feed kind %q", c.cfg.Feed.Kind)
}
