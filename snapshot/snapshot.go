package snapshot

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"matchbook/domain/orderbook"
	"matchbook/service"
)

// Report is the outcome of one run.
type Report struct {
	RunID    uuid.UUID     `json:"run_id"`
	Created  time.Time     `json:"created"`
	Elapsed  time.Duration `json:"elapsed"`
	Books    []BookReport  `json:"books"`
	Pending  []string      `json:"pending,omitempty"`
	Degraded bool          `json:"degraded"`
}

type BookReport struct {
	Book    string       `json:"book"`
	State   string       `json:"state"`
	Applied uint64       `json:"applied"`
	Skipped uint64       `json:"skipped"`
	Unread  bool         `json:"unread,omitempty"`
	Buys    []OrderEntry `json:"buys"`
	Sells   []OrderEntry `json:"sells"`
}

type OrderEntry struct {
	ID      uint64          `json:"id"`
	Price   decimal.Decimal `json:"price"`
	Volume  int64           `json:"volume"`
	Arrival uint64          `json:"arrival"`
}

// NewRunID returns a fresh random run id.
func NewRunID() (uuid.UUID, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "generate run id")
	}
	return id, nil
}

// Build assembles a report from per-book stats, already in book id order,
// and the shutdown outcome.
func Build(runID uuid.UUID, elapsed time.Duration, stats []service.BookStats, shutdown service.ShutdownReport) Report {
	r := Report{
		RunID:    runID,
		Created:  time.Now().UTC(),
		Elapsed:  elapsed,
		Books:    make([]BookReport, 0, len(stats)),
		Pending:  shutdown.Pending,
		Degraded: shutdown.Degraded(),
	}
	for _, st := range stats {
		r.Books = append(r.Books, BookReport{
			Book:    st.Snapshot.BookID,
			State:   st.State.String(),
			Applied: st.Applied,
			Skipped: st.Rejected,
			Unread:  st.Unread,
			Buys:    entries(st.Snapshot.Buys),
			Sells:   entries(st.Snapshot.Sells),
		})
	}
	return r
}

func entries(in []orderbook.Entry) []OrderEntry {
	out := make([]OrderEntry, len(in))
	for i, e := range in {
		out[i] = OrderEntry{ID: e.ID, Price: e.Price, Volume: e.Volume, Arrival: e.Arrival}
	}
	return out
}

// Book returns the report of one book.
func (r Report) Book(id string) (BookReport, bool) {
	for _, b := range r.Books {
		if b.Book == id {
			return b, true
		}
	}
	return BookReport{}, false
}

// Skipped sums the skipped operations of every book.
func (r Report) Skipped() uint64 {
	var n uint64
	for _, b := range r.Books {
		n += b.Skipped
	}
	return n
}
