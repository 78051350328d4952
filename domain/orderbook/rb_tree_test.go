package orderbook

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func px(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRBTreeInsertFindDelete(t *testing.T) {
	tree := NewRBTree()
	pl1 := tree.UpsertLevel(px("100"))
	require.NotNil(t, pl1)
	assert.Same(t, pl1, tree.FindLevel(px("100.00")), "numerically equal prices share a level")

	tree.UpsertLevel(px("200"))
	assert.True(t, tree.MinLevel().Price.Equal(px("100")))
	assert.True(t, tree.MaxLevel().Price.Equal(px("200")))

	assert.True(t, tree.DeleteLevel(px("100")))
	assert.Nil(t, tree.FindLevel(px("100")))
	assert.Equal(t, 1, tree.Size())
}

func TestDeleteNonExistentLevel(t *testing.T) {
	tree := NewRBTree()
	assert.False(t, tree.DeleteLevel(px("123")))
}

func TestEmptyTreeMinMax(t *testing.T) {
	tree := NewRBTree()
	assert.Nil(t, tree.MinLevel())
	assert.Nil(t, tree.MaxLevel())
}

func TestUpsertDuplicateLevel(t *testing.T) {
	tree := NewRBTree()
	pl1 := tree.UpsertLevel(px("150"))
	pl2 := tree.UpsertLevel(px("150"))
	assert.Same(t, pl1, pl2)
	assert.Equal(t, 1, tree.Size())
}

func TestRBTreeWalkOrderSurvivesChurn(t *testing.T) {
	tree := NewRBTree()
	rng := rand.New(rand.NewSource(1))
	present := map[int64]bool{}

	for i := 0; i < 5000; i++ {
		k := int64(rng.Intn(500))
		price := decimal.New(k, -1)
		if present[k] && rng.Intn(2) == 0 {
			require.True(t, tree.DeleteLevel(price))
			delete(present, k)
		} else {
			tree.UpsertLevel(price)
			present[k] = true
		}
	}
	require.Equal(t, len(present), tree.Size())

	var asc []decimal.Decimal
	tree.ForEachAscending(func(pl *PriceLevel) bool {
		asc = append(asc, pl.Price)
		return true
	})
	require.Len(t, asc, len(present))
	for i := 1; i < len(asc); i++ {
		assert.True(t, asc[i-1].LessThan(asc[i]))
	}

	var desc []decimal.Decimal
	tree.ForEachDescending(func(pl *PriceLevel) bool {
		desc = append(desc, pl.Price)
		return true
	})
	require.Len(t, desc, len(asc))
	for i := range desc {
		assert.True(t, desc[i].Equal(asc[len(asc)-1-i]))
	}
}

func TestForEachStopsEarly(t *testing.T) {
	tree := NewRBTree()
	for _, p := range []string{"1", "2", "3", "4"} {
		tree.UpsertLevel(px(p))
	}
	visited := 0
	tree.ForEachAscending(func(*PriceLevel) bool {
		visited++
		return visited < 2
	})
	assert.Equal(t, 2, visited)
}
