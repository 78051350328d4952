// Package entry is the entry journal: a segmented, crc-framed log of every
// event the registry routes, written before the event is queued.
package entry

import (
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"matchbook/domain/event"
)

const DefaultSegmentSize = 64 << 20

type Config struct {
	Dir         string
	SegmentSize int64
	// SyncEveryAppend fsyncs each record before Append returns.
	SyncEveryAppend bool
}

type WAL struct {
	mu      sync.Mutex
	dir     string
	segSize int64
	sync    bool
	current *segment
	lastSeq uint64
	closed  bool
	log     *zap.Logger
}

// Open resumes the journal in cfg.Dir, appending to its newest segment.
// A torn record at the tail of that segment is cut off.
func Open(cfg Config, log *zap.Logger) (*WAL, error) {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = DefaultSegmentSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir")
	}

	files, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}

	var lastSeq uint64
	index := 0
	for i, path := range files {
		maxSeq, valid, err := scanSegment(path)
		if err != nil {
			return nil, errors.Wrapf(err, "scan %s", path)
		}
		if maxSeq > lastSeq {
			lastSeq = maxSeq
		}
		if i == len(files)-1 {
			index = segmentIndex(path)
			if err := os.Truncate(path, valid); err != nil {
				return nil, errors.Wrapf(err, "trim torn tail of %s", path)
			}
		}
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}

	w := &WAL{
		dir:     cfg.Dir,
		segSize: cfg.SegmentSize,
		sync:    cfg.SyncEveryAppend,
		current: seg,
		lastSeq: lastSeq,
		log:     log.Named("journal"),
	}
	w.log.Info("journal opened",
		zap.String("dir", cfg.Dir),
		zap.Int("segment", index),
		zap.Uint64("last_seq", lastSeq),
	)
	return w, nil
}

// Append journals ev under the next sequence number.
func (w *WAL) Append(ev event.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	rec := &Record{
		Kind: ev.Kind,
		Seq:  w.lastSeq + 1,
		Time: time.Now().UnixNano(),
		Data: event.Marshal(ev),
	}
	if err := w.current.append(encodeRecord(rec)); err != nil {
		return errors.Wrapf(err, "append seq %d", rec.Seq)
	}
	w.lastSeq = rec.Seq

	if w.sync {
		if err := w.current.sync(); err != nil {
			return errors.Wrap(err, "sync journal")
		}
	}
	if w.current.offset >= w.segSize {
		return w.rotate()
	}
	return nil
}

// LastSeq returns the sequence of the newest record.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeq
}

func (w *WAL) rotate() error {
	if err := w.current.sync(); err != nil {
		return errors.Wrap(err, "sync before rotate")
	}
	_ = w.current.close()

	seg, err := openSegment(w.dir, w.current.index+1)
	if err != nil {
		return err
	}
	w.log.Debug("journal rotated", zap.Int("segment", seg.index), zap.Uint64("last_seq", w.lastSeq))
	w.current = seg
	return nil
}

// TruncateBefore removes closed segments whose records all have a sequence
// at or below seq. The active segment is never removed.
func (w *WAL) TruncateBefore(seq uint64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := listSegments(w.dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range files {
		if segmentIndex(path) >= w.current.index {
			continue
		}
		maxSeq, _, err := scanSegment(path)
		if err != nil {
			w.log.Warn("skipping unreadable segment", zap.String("path", path), zap.Error(err))
			continue
		}
		if maxSeq <= seq {
			if err := os.Remove(path); err != nil {
				return removed, errors.Wrapf(err, "remove %s", path)
			}
			removed++
		}
	}
	return removed, nil
}

// Close syncs and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.current.sync(); err != nil {
		_ = w.current.close()
		return errors.Wrap(err, "sync journal")
	}
	return w.current.close()
}
