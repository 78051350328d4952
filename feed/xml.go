package feed

import (
	"context"
	"encoding/xml"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"matchbook/domain/event"
	"matchbook/domain/orderbook"
)

const (
	elemAdd    = "AddOrder"
	elemDelete = "DeleteOrder"

	attrBook      = "book"
	attrOperation = "operation"
	attrPrice     = "price"
	attrVolume    = "volume"
	attrOrderID   = "orderId"
)

// XMLSource streams AddOrder and DeleteOrder elements out of an XML
// document. Any other element is skipped.
type XMLSource struct {
	dec  *xml.Decoder
	read int
}

func NewXMLSource(r io.Reader) *XMLSource {
	return &XMLSource{dec: xml.NewDecoder(r)}
}

// Read returns the number of events produced so far.
func (s *XMLSource) Read() int { return s.read }

func (s *XMLSource) Next(ctx context.Context) (event.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return event.Event{}, err
		}
		tok, err := s.dec.Token()
		if err == io.EOF {
			return event.Event{}, io.EOF
		}
		if err != nil {
			return event.Event{}, errors.Wrapf(event.ErrMalformed, "xml after %d events: %v", s.read, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		var ev event.Event
		switch start.Name.Local {
		case elemAdd:
			ev, err = parseAdd(start.Attr)
		case elemDelete:
			ev, err = parseDelete(start.Attr)
		default:
			continue
		}
		if err != nil {
			line, _ := s.dec.InputPos()
			return event.Event{}, errors.Wrapf(err, "line %d", line)
		}
		s.read++
		return ev, nil
	}
}

func parseAdd(attrs []xml.Attr) (event.Event, error) {
	ev := event.Event{Kind: event.KindAdd}
	var seen struct{ book, id, op, price, volume bool }

	for _, a := range attrs {
		v := strings.TrimSpace(a.Value)
		switch a.Name.Local {
		case attrBook:
			ev.BookID, seen.book = v, true
		case attrOrderID:
			id, err := parseID(v)
			if err != nil {
				return ev, err
			}
			ev.OrderID, seen.id = id, true
		case attrOperation:
			side, err := parseSide(v)
			if err != nil {
				return ev, err
			}
			ev.Side, seen.op = side, true
		case attrPrice:
			p, err := decimal.NewFromString(v)
			if err != nil {
				return ev, errors.Wrapf(event.ErrMalformed, "price %q", v)
			}
			ev.Price, seen.price = p, true
		case attrVolume:
			vol, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return ev, errors.Wrapf(event.ErrMalformed, "volume %q", v)
			}
			ev.Volume, seen.volume = vol, true
		default:
			return ev, errors.Wrapf(event.ErrMalformed, "unknown %s attribute %q", elemAdd, a.Name.Local)
		}
	}

	switch {
	case !seen.book:
		return ev, missing(elemAdd, attrBook)
	case !seen.id:
		return ev, missing(elemAdd, attrOrderID)
	case !seen.op:
		return ev, missing(elemAdd, attrOperation)
	case !seen.price:
		return ev, missing(elemAdd, attrPrice)
	case !seen.volume:
		return ev, missing(elemAdd, attrVolume)
	}
	return ev, ev.Validate()
}

func parseDelete(attrs []xml.Attr) (event.Event, error) {
	ev := event.Event{Kind: event.KindCancel}
	var hasBook, hasID bool

	for _, a := range attrs {
		v := strings.TrimSpace(a.Value)
		switch a.Name.Local {
		case attrBook:
			ev.BookID, hasBook = v, true
		case attrOrderID:
			id, err := parseID(v)
			if err != nil {
				return ev, err
			}
			ev.OrderID, hasID = id, true
		}
	}
	if !hasBook {
		return ev, missing(elemDelete, attrBook)
	}
	if !hasID {
		return ev, missing(elemDelete, attrOrderID)
	}
	return ev, ev.Validate()
}

func parseID(v string) (uint64, error) {
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(event.ErrMalformed, "order id %q", v)
	}
	return id, nil
}

func parseSide(v string) (orderbook.Side, error) {
	switch strings.ToUpper(v) {
	case "BUY":
		return orderbook.Buy, nil
	case "SELL":
		return orderbook.Sell, nil
	}
	return 0, errors.Wrapf(event.ErrMalformed, "operation %q", v)
}

func missing(elem, attr string) error {
	return errors.Wrapf(event.ErrMalformed, "%s without %s", elem, attr)
}
