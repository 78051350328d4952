package orderbook

import "github.com/pkg/errors"

var (
	ErrNilOrder        = errors.New("orderbook: nil order")
	ErrVolumeUnderflow = errors.New("orderbook: volume underflow")
	ErrSideMismatch    = errors.New("orderbook: order side does not match operation")
	ErrDuplicateOrder  = errors.New("orderbook: order already resting in book")
	ErrIndexCorrupted  = errors.New("orderbook: order index out of sync with price ladder")
)
