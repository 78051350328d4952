package entry

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/pkg/errors"

	"matchbook/domain/event"
)

// Reader replays a journal directory record by record, oldest segment
// first. It is a feed source: each record yields its event.
type Reader struct {
	files   []string
	next    int
	f       *os.File
	br      *bufio.Reader
	lastSeq uint64
}

func NewReader(dir string) (*Reader, error) {
	files, err := listSegments(dir)
	if err != nil {
		return nil, err
	}
	return &Reader{files: files}, nil
}

// LastSeq returns the sequence of the last record read.
func (r *Reader) LastSeq() uint64 { return r.lastSeq }

func (r *Reader) Next(ctx context.Context) (event.Event, error) {
	if err := ctx.Err(); err != nil {
		return event.Event{}, err
	}
	rec, err := r.Record()
	if err != nil {
		return event.Event{}, err
	}
	return rec.Event()
}

// Record returns the next raw record, or io.EOF after the last one. A
// torn frame is only tolerated at the end of the newest segment.
func (r *Reader) Record() (*Record, error) {
	for {
		if r.br == nil {
			if r.next >= len(r.files) {
				return nil, io.EOF
			}
			f, err := os.Open(r.files[r.next])
			if err != nil {
				return nil, errors.Wrap(err, "open segment")
			}
			r.f, r.br = f, bufio.NewReader(f)
			r.next++
		}

		rec, err := readRecord(r.br)
		switch {
		case err == io.EOF:
			r.closeCurrent()
			continue
		case err == io.ErrUnexpectedEOF:
			path := r.f.Name()
			r.closeCurrent()
			if r.next < len(r.files) {
				return nil, errors.Wrapf(ErrCorrupt, "torn record inside %s", path)
			}
			return nil, io.EOF
		case err != nil:
			return nil, err
		}

		if rec.Seq <= r.lastSeq {
			return nil, errors.Wrapf(ErrCorrupt, "non-monotonic seq %d after %d", rec.Seq, r.lastSeq)
		}
		r.lastSeq = rec.Seq
		return rec, nil
	}
}

func (r *Reader) closeCurrent() {
	if r.f != nil {
		_ = r.f.Close()
	}
	r.f, r.br = nil, nil
}

func (r *Reader) Close() error {
	r.closeCurrent()
	r.next = len(r.files)
	return nil
}

// replay calls fn for every record in dir and returns the last sequence
// seen.
func replay(dir string, fn func(*Record) error) (uint64, error) {
	r, err := NewReader(dir)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	for {
		rec, err := r.Record()
		if err == io.EOF {
			return r.lastSeq, nil
		}
		if err != nil {
			return r.lastSeq, err
		}
		if err := fn(rec); err != nil {
			return r.lastSeq, err
		}
	}
}
