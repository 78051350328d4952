package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"matchbook/infra/wal/exit"
)

// Writer stores reports as JSON files named after their run id.
type Writer struct {
	Dir string
}

// Write stores r and returns the file path.
func (w *Writer) Write(r Report) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", errors.Wrap(err, "create report dir")
	}

	path := filepath.Join(w.Dir, "report-"+r.RunID.String()+".json")
	tmp := path + ".tmp"
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "encode report")
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", errors.Wrap(err, "write report")
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", errors.Wrap(err, "publish report")
	}
	return path, nil
}

// Stage puts one outbox record per book, keyed by run and book id.
func Stage(o *exit.Outbox, r Report) error {
	for _, b := range r.Books {
		payload, err := BookPayload(r, b)
		if err != nil {
			return err
		}
		if err := o.PutNew(r.RunID.String(), b.Book, payload); err != nil {
			return errors.Wrapf(err, "stage report of %s", b.Book)
		}
	}
	return nil
}

type bookPayload struct {
	RunID string `json:"run_id"`
	BookReport
}

// BookPayload is the message body published for one book.
func BookPayload(r Report, b BookReport) ([]byte, error) {
	data, err := json.Marshal(bookPayload{RunID: r.RunID.String(), BookReport: b})
	if err != nil {
		return nil, errors.Wrapf(err, "encode report of %s", b.Book)
	}
	return data, nil
}
