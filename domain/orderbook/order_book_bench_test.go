package orderbook

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
)

func BenchmarkSubmitRandomFlow(b *testing.B) {
	rng := rand.New(rand.NewSource(42))
	orders := make([]*Order, b.N)
	for i := range orders {
		side := Side(rng.Intn(2))
		price := decimal.New(int64(10_000+rng.Intn(100)), -2)
		o, err := NewOrder(uint64(i+1), side, price, int64(rng.Intn(5)+1), uint64(i+1))
		if err != nil {
			b.Fatal(err)
		}
		orders[i] = o
	}

	book := NewOrderBook("bench")
	b.ReportAllocs()
	b.ResetTimer()

	var fills int
	for _, o := range orders {
		var f []Fill
		var err error
		if o.Side() == Buy {
			f, err = book.SubmitBuy(o)
		} else {
			f, err = book.SubmitSell(o)
		}
		if err != nil {
			b.Fatalf("submit failed: %v", err)
		}
		fills += len(f)
	}
	b.StopTimer()

	if elapsed := b.Elapsed(); elapsed > 0 {
		b.ReportMetric(float64(fills)/elapsed.Seconds(), "fills/sec")
	}
}

func BenchmarkCancelDeepBook(b *testing.B) {
	book := NewOrderBook("bench")
	for i := 0; i < b.N; i++ {
		o, _ := NewOrder(uint64(i+1), Buy, decimal.New(int64(i%1000), -1), 1, uint64(i+1))
		_, _ = book.SubmitBuy(o)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = book.Cancel(uint64(i + 1))
	}
}
