// Package exit is the report outbox: final book reports are written here
// first and handed to the broadcaster, which tracks their delivery state.
package exit

import (
	"encoding/binary"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("outbox: record not found")
	ErrShortRecord  = errors.New("outbox: invalid record length")
	ErrEmptyBookKey = errors.New("outbox: empty run or book id")
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Record is one book report and its delivery progress.
type Record struct {
	Key         string
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// RunID and BookID split the record key.
func (r Record) RunID() string {
	run, _, _ := strings.Cut(strings.TrimPrefix(r.Key, keyPrefix), "/")
	return run
}

func (r Record) BookID() string {
	_, book, _ := strings.Cut(strings.TrimPrefix(r.Key, keyPrefix), "/")
	return book
}

const (
	keyPrefix   = "report/"
	keyUpper    = "report0"
	recordFixed = 1 + 4 + 8
)

// Key builds the outbox key of one book's report in one run.
func Key(runID, bookID string) string {
	return keyPrefix + runID + "/" + bookID
}

// binary encoding: [state:1][retries:4][lastAttempt:8][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, recordFixed+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[recordFixed:], r.Payload)
	return buf
}

func decodeRecord(key string, b []byte) (Record, error) {
	if len(b) < recordFixed {
		return Record{}, errors.Wrapf(ErrShortRecord, "%s: %d bytes", key, len(b))
	}
	payload := make([]byte, len(b)-recordFixed)
	copy(payload, b[recordFixed:])
	return Record{
		Key:         key,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     payload,
	}, nil
}

type Outbox struct {
	db  *pebble.DB
	log *zap.Logger
	now func() time.Time
}

func Open(dir string, log *zap.Logger) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open outbox %s", dir)
	}
	return &Outbox{db: db, log: log.Named("outbox"), now: time.Now}, nil
}

func (o *Outbox) Close() error {
	return o.db.Close()
}

// PutNew stores a report as NEW, replacing any earlier record under key.
func (o *Outbox) PutNew(runID, bookID string, payload []byte) error {
	if runID == "" || bookID == "" {
		return ErrEmptyBookKey
	}
	key := Key(runID, bookID)
	return o.set(Record{Key: key, State: StateNew, Payload: payload})
}

func (o *Outbox) MarkSent(key string) error {
	return o.update(key, func(r *Record) {
		r.State = StateSent
		r.LastAttempt = o.now().UnixNano()
	})
}

func (o *Outbox) MarkAcked(key string) error {
	return o.update(key, func(r *Record) {
		r.State = StateAcked
	})
}

// MarkFailed counts a failed delivery. The record goes back to NEW until
// maxRetries attempts have failed, then stays FAILED.
func (o *Outbox) MarkFailed(key string, maxRetries uint32) error {
	return o.update(key, func(r *Record) {
		r.Retries++
		r.LastAttempt = o.now().UnixNano()
		if r.Retries >= maxRetries {
			r.State = StateFailed
			o.log.Warn("report delivery abandoned", zap.String("key", key), zap.Uint32("retries", r.Retries))
			return
		}
		r.State = StateNew
	})
}

func (o *Outbox) Delete(key string) error {
	return o.db.Delete([]byte(key), pebble.Sync)
}

func (o *Outbox) Get(key string) (Record, error) {
	val, closer, err := o.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, errors.Wrap(ErrNotFound, key)
	}
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()
	return decodeRecord(key, val)
}

// ScanByState calls fn for every record in state, in key order.
func (o *Outbox) ScanByState(state State, fn func(Record) error) error {
	return o.scan(func(r Record) error {
		if r.State != state {
			return nil
		}
		return fn(r)
	})
}

// ScanPending calls fn for every record still to be delivered: NEW ones
// and SENT ones that were never acknowledged.
func (o *Outbox) ScanPending(fn func(Record) error) error {
	return o.scan(func(r Record) error {
		if r.State != StateNew && r.State != StateSent {
			return nil
		}
		return fn(r)
	})
}

// PurgeAcked deletes every ACKED record and returns how many went.
func (o *Outbox) PurgeAcked() (int, error) {
	var keys []string
	err := o.ScanByState(StateAcked, func(r Record) error {
		keys = append(keys, r.Key)
		return nil
	})
	if err != nil {
		return 0, err
	}

	b := o.db.NewBatch()
	defer b.Close()
	for _, k := range keys {
		if err := b.Delete([]byte(k), nil); err != nil {
			return 0, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, errors.Wrap(err, "purge acked reports")
	}
	return len(keys), nil
}

// Counts returns the number of records in each state.
func (o *Outbox) Counts() (map[State]int, error) {
	out := map[State]int{}
	err := o.scan(func(r Record) error {
		out[r.State]++
		return nil
	})
	return out, err
}

func (o *Outbox) set(r Record) error {
	return o.db.Set([]byte(r.Key), encodeRecord(r), pebble.Sync)
}

func (o *Outbox) update(key string, fn func(*Record)) error {
	r, err := o.Get(key)
	if err != nil {
		return err
	}
	fn(&r)
	return o.set(r)
}

func (o *Outbox) scan(fn func(Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyUpper),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		rec, err := decodeRecord(string(iter.Key()), iter.Value())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}
