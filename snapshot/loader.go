package snapshot

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// Load reads a report written by Writer.
func Load(path string) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, errors.Wrap(err, "read report")
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, errors.Wrapf(err, "decode report %s", path)
	}
	return r, nil
}
