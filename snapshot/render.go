package snapshot

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

const (
	lineWidth   = 40
	columnWidth = (lineWidth + 1) / 2
)

// Render writes the report as text: per book a header, a two-column
// buy/sell table best price first, and a skipped-operations line when
// the book skipped any. Both columns are padded to full width. A book
// that could not be read gets a warning line instead of a table.
func Render(w io.Writer, r Report, colored bool) error {
	header := color.New(color.Bold)
	warn := color.New(color.FgYellow)
	if !colored {
		header.DisableColor()
		warn.DisableColor()
	}

	for _, b := range r.Books {
		if _, err := header.Fprintf(w, "book: %s\n", b.Book); err != nil {
			return err
		}
		if b.Unread {
			if _, err := warn.Fprintf(w, "not read, still %s\n", b.State); err != nil {
				return err
			}
		} else if err := renderBook(w, b); err != nil {
			return err
		}
		if b.Skipped > 0 {
			if _, err := warn.Fprintf(w, "skipped operations: %d\n", b.Skipped); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "Time: %d ms\n", r.Elapsed.Milliseconds()); err != nil {
		return err
	}
	if r.Degraded {
		_, err := warn.Fprintf(w, "shutdown incomplete, still draining: %s\n", strings.Join(r.Pending, ", "))
		return err
	}
	return nil
}

func renderBook(w io.Writer, b BookReport) error {
	var sb strings.Builder
	sb.WriteString(padStart("Buy -", columnWidth))
	sb.WriteString(padEnd("- Sell", columnWidth))
	sb.WriteByte('\n')
	sb.WriteString(strings.Repeat("=", lineWidth))
	sb.WriteByte('\n')

	rows := max(len(b.Buys), len(b.Sells))
	for i := 0; i < rows; i++ {
		sb.WriteString(padStart(cell(b.Buys, i)+" -", columnWidth))
		sb.WriteString(padEnd("- "+cell(b.Sells, i), columnWidth))
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

func cell(orders []OrderEntry, i int) string {
	if i >= len(orders) {
		return ""
	}
	return fmt.Sprintf("%d@%s", orders[i].Volume, orders[i].Price.StringFixed(2))
}

func padStart(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return strings.Repeat(" ", n-len(s)) + s
}

func padEnd(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat(" ", n-len(s))
}
