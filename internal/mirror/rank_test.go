package mirror

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Record
		want int
	}{
		{"lower score first", newRecord("https://z.example/", 1, 900, 0.5), newRecord("https://a.example/", 2, 0, 1), -1},
		{"lower delay on equal score", newRecord("https://z.example/", 1, 10, 0.5), newRecord("https://a.example/", 1, 20, 1), -1},
		{"higher completion on equal delay", newRecord("https://z.example/", 1, 10, 1), newRecord("https://a.example/", 1, 10, 0.9), -1},
		{"url breaks full ties", newRecord("https://b.example/", 1, 10, 1), newRecord("https://a.example/", 1, 10, 1), 1},
		{"identical", newRecord("https://a.example/", 1, 10, 1), newRecord("https://a.example/", 1, 10, 1), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Errorf("Compare() = %d, want %d", got, tt.want)
			}
			if got := Compare(tt.b, tt.a); got != -tt.want {
				t.Errorf("Compare() reversed = %d, want %d", got, -tt.want)
			}
		})
	}
}

func TestCompareUnknownsLast(t *testing.T) {
	scored := newRecord("https://z.example/", 99, 99999, 0)
	unscored := newRecord("https://a.example/", 0, 0, 1)
	unscored.Score = None[float64]()
	if Compare(scored, unscored) >= 0 {
		t.Error("record with a score should rank before an unscored one")
	}

	known := newRecord("https://z.example/", 1, 99999, 0)
	unknown := newRecord("https://a.example/", 1, 0, 1)
	unknown.Delay = None[int64]()
	if Compare(known, unknown) >= 0 {
		t.Error("record with a known delay should rank before an unknown one")
	}
}

func TestRankTotalOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var records []Record
	for i := 0; i < 200; i++ {
		r := newRecord(fmt.Sprintf("https://m%03d.example/", rng.Intn(150)), float64(rng.Intn(4)), int64(rng.Intn(3)*60), []float64{1, 0.9, 0.5}[rng.Intn(3)])
		r.Index = i
		records = append(records, r)
	}

	ranked := Rank(records)

	if len(ranked) != len(records) {
		t.Fatalf("Rank changed length: %d -> %d", len(records), len(ranked))
	}
	for i := 1; i < len(ranked); i++ {
		if Compare(ranked[i-1], ranked[i]) > 0 {
			t.Fatalf("out of order at %d: %+v before %+v", i, ranked[i-1], ranked[i])
		}
	}

	// permutation check by original index
	seen := make(map[int]bool, len(ranked))
	for _, r := range ranked {
		if seen[r.Index] {
			t.Fatalf("index %d appears twice", r.Index)
		}
		seen[r.Index] = true
	}
	if len(seen) != len(records) {
		t.Fatalf("ranked output is not a permutation of the input")
	}
}

func TestRankStableForIdenticalKeys(t *testing.T) {
	a := newRecord("https://same.example/", 1, 0, 1)
	a.Index = 0
	b := newRecord("https://same.example/", 1, 0, 1)
	b.Index = 1
	c := newRecord("https://first.example/", 0.5, 0, 1)
	c.Index = 2

	ranked := Rank([]Record{a, b, c})
	if ranked[0].Index != 2 || ranked[1].Index != 0 || ranked[2].Index != 1 {
		t.Fatalf("unexpected order: %d %d %d", ranked[0].Index, ranked[1].Index, ranked[2].Index)
	}
}

func TestRankTiesByURL(t *testing.T) {
	records := []Record{
		newRecord("https://charlie.example/", 1, 0, 1),
		newRecord("https://alpha.example/", 1, 0, 1),
		newRecord("https://bravo.example/", 1, 0, 1),
	}

	ranked := Rank(records)
	want := []string{"https://alpha.example/", "https://bravo.example/", "https://charlie.example/"}
	for i, w := range want {
		if ranked[i].URL != w {
			t.Errorf("ranked[%d] = %s, want %s", i, ranked[i].URL, w)
		}
	}
}

func TestRankDoesNotModifyInput(t *testing.T) {
	records := []Record{
		newRecord("https://b.example/", 2, 0, 1),
		newRecord("https://a.example/", 1, 0, 1),
	}
	_ = Rank(records)
	if records[0].URL != "https://b.example/" {
		t.Fatal("Rank reordered its input slice")
	}
	if got := Rank(nil); len(got) != 0 {
		t.Fatalf("expected empty result, got %d", len(got))
	}
}
