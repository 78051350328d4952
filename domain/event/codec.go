package event

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/encoding/protowire"

	"matchbook/domain/orderbook"
)

// Wire field numbers. Prices travel as decimal strings so no precision is
// lost between producer and consumer.
const (
	fieldKind    protowire.Number = 1
	fieldBook    protowire.Number = 2
	fieldOrderID protowire.Number = 3
	fieldSide    protowire.Number = 4
	fieldPrice   protowire.Number = 5
	fieldVolume  protowire.Number = 6
)

// Marshal encodes e in protobuf wire format.
func Marshal(e Event) []byte {
	b := make([]byte, 0, 48)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	if e.Kind == KindEnd {
		return b
	}
	b = protowire.AppendTag(b, fieldBook, protowire.BytesType)
	b = protowire.AppendString(b, e.BookID)
	b = protowire.AppendTag(b, fieldOrderID, protowire.VarintType)
	b = protowire.AppendVarint(b, e.OrderID)
	if e.Kind != KindAdd {
		return b
	}
	b = protowire.AppendTag(b, fieldSide, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Side))
	b = protowire.AppendTag(b, fieldPrice, protowire.BytesType)
	b = protowire.AppendString(b, e.Price.String())
	b = protowire.AppendTag(b, fieldVolume, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.Volume))
	return b
}

// Unmarshal decodes and validates an event. Unknown fields are skipped.
func Unmarshal(b []byte) (Event, error) {
	var e Event
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Event{}, errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
		}
		b = b[n:]

		switch {
		case num == fieldBook && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return Event{}, errors.Wrap(ErrMalformed, protowire.ParseError(m).Error())
			}
			e.BookID = v
			n = m
		case num == fieldPrice && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(b)
			if m < 0 {
				return Event{}, errors.Wrap(ErrMalformed, protowire.ParseError(m).Error())
			}
			price, err := decimal.NewFromString(v)
			if err != nil {
				return Event{}, errors.Wrapf(ErrMalformed, "price %q: %v", v, err)
			}
			e.Price = price
			n = m
		case typ == protowire.VarintType && num >= fieldKind && num <= fieldVolume:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Event{}, errors.Wrap(ErrMalformed, protowire.ParseError(m).Error())
			}
			switch num {
			case fieldKind:
				e.Kind = Kind(v)
			case fieldOrderID:
				e.OrderID = v
			case fieldSide:
				e.Side = orderbook.Side(v)
			case fieldVolume:
				e.Volume = protowire.DecodeZigZag(v)
			}
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Event{}, errors.Wrap(ErrMalformed, protowire.ParseError(n).Error())
			}
		}
		b = b[n:]
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
