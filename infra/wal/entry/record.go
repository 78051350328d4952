package entry

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/pkg/errors"

	"matchbook/domain/event"
)

var (
	ErrCorrupt = errors.New("journal: corrupt record")
	ErrClosed  = errors.New("journal: closed")
)

// Frame layout: [kind:1][seq:8][time:8][len:4][payload][crc:4]. The crc
// covers header and payload.
const (
	headerSize  = 1 + 8 + 8 + 4
	trailerSize = 4
)

// Record is one journaled event in its encoded form.
type Record struct {
	Kind event.Kind
	Seq  uint64
	Time int64
	Data []byte
}

// Event decodes the record payload.
func (r *Record) Event() (event.Event, error) {
	ev, err := event.Unmarshal(r.Data)
	if err != nil {
		return ev, errors.Wrapf(err, "record %d", r.Seq)
	}
	if ev.Kind != r.Kind {
		return ev, errors.Wrapf(ErrCorrupt, "record %d: header kind %s, payload kind %s", r.Seq, r.Kind, ev.Kind)
	}
	return ev, nil
}

func (r *Record) frameSize() int64 {
	return int64(headerSize + len(r.Data) + trailerSize)
}

func encodeRecord(r *Record) []byte {
	n := len(r.Data)
	buf := make([]byte, headerSize+n+trailerSize)
	buf[0] = byte(r.Kind)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], uint32(n))
	copy(buf[headerSize:], r.Data)
	binary.BigEndian.PutUint32(buf[headerSize+n:], crc32.ChecksumIEEE(buf[:headerSize+n]))
	return buf
}

// readRecord returns io.EOF on a clean frame boundary and
// io.ErrUnexpectedEOF on a torn frame.
func readRecord(r io.Reader) (*Record, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(header[17:21])
	body := make([]byte, int(n)+trailerSize)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	payload := body[:n]
	sum := binary.BigEndian.Uint32(body[n:])
	h := crc32.NewIEEE()
	h.Write(header)
	h.Write(payload)
	if h.Sum32() != sum {
		return nil, errors.Wrapf(ErrCorrupt, "crc mismatch on seq %d", binary.BigEndian.Uint64(header[1:9]))
	}

	return &Record{
		Kind: event.Kind(header[0]),
		Seq:  binary.BigEndian.Uint64(header[1:9]),
		Time: int64(binary.BigEndian.Uint64(header[9:17])),
		Data: payload,
	}, nil
}
