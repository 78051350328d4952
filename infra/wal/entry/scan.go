package entry

import (
	"bufio"
	"io"
	"os"
)

// scanSegment walks a segment and returns the highest sequence it holds
// and the size of its intact prefix. A torn frame at the tail ends the
// prefix; a crc failure is returned.
func scanSegment(path string) (maxSeq uint64, valid int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	for {
		rec, err := readRecord(br)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return maxSeq, valid, nil
		}
		if err != nil {
			return maxSeq, valid, err
		}
		if rec.Seq > maxSeq {
			maxSeq = rec.Seq
		}
		valid += rec.frameSize()
	}
}
