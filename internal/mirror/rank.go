package mirror

import (
	"cmp"
	"sort"
	"strings"
)

// Compare orders records by score ascending, then delay ascending, then
// completion descending, then URL ascending. Unknown scores and delays
// sort after every known value.
func Compare(a, b Record) int {
	if c := compareOptional(a.Score, b.Score); c != 0 {
		return c
	}
	if c := compareOptional(a.Delay, b.Delay); c != 0 {
		return c
	}
	if c := cmp.Compare(b.CompletionPct, a.CompletionPct); c != 0 {
		return c
	}
	return strings.Compare(a.URL, b.URL)
}

func compareOptional[T cmp.Ordered](a, b Optional[T]) int {
	av, aok := a.Get()
	bv, bok := b.Get()
	switch {
	case aok && bok:
		return cmp.Compare(av, bv)
	case aok:
		return -1
	case bok:
		return 1
	default:
		return 0
	}
}

// Rank returns a new slice holding records in ranked order. The sort is
// stable, so records with identical keys keep their input order.
func Rank(records []Record) []Record {
	ranked := make([]Record, len(records))
	copy(ranked, records)
	sort.SliceStable(ranked, func(i, j int) bool {
		return Compare(ranked[i], ranked[j]) < 0
	})
	return ranked
}
