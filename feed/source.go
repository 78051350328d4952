// Package feed turns external order streams into normalized events.
package feed

import (
	"context"
	"io"

	"matchbook/domain/event"
)

// Source yields events in feed order. It returns io.EOF once the feed is
// exhausted; a KindEnd event ends a feed the same way.
type Source interface {
	Next(ctx context.Context) (event.Event, error)
}

// SliceSource replays a fixed list of events.
type SliceSource struct {
	events []event.Event
	pos    int
}

func NewSliceSource(events ...event.Event) *SliceSource {
	return &SliceSource{events: events}
}

func (s *SliceSource) Next(ctx context.Context) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	if s.pos >= len(s.events) {
		return event.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// Collect drains src into a slice, stopping at io.EOF or an end event.
func Collect(ctx context.Context, src Source) ([]event.Event, error) {
	var out []event.Event
	for {
		ev, err := src.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if ev.Kind == event.KindEnd {
			return out, nil
		}
		out = append(out, ev)
	}
}
