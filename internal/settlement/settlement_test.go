package settlement

import (
	"math/big"
	"testing"
)

func TestBumpGasPrice(t *testing.T) {
	got := bumpGasPrice(big.NewInt(100))
	if got.Cmp(big.NewInt(120)) != 0 {
		t.Fatalf("expected 120, got %v", got)
	}
}

func TestBuildIndexSets(t *testing.T) {
	sets := buildIndexSets(3)
	if len(sets) != 3 {
		t.Fatalf("expected 3 sets, got %d", len(sets))
	}
	want := []int64{1, 2, 4}
	for i, w := range want {
		if sets[i].Int64() != w {
			t.Fatalf("index %d: expected %d, got %d", i, w, sets[i].Int64())
		}
	}
}
