// Package rating computes the business rating projection from review scores.
package rating

const (
	Min = 1
	Max = 5
)

type Aggregate struct {
	Average float64
	Total   int
}

// Compute averages ratings rounded half up to one decimal. It works in
// integer tenths so 4.25 becomes 4.3 without float drift. ok is false when
// there are no ratings, in which case the stored aggregate is left alone.
func Compute(ratings []int) (agg Aggregate, ok bool) {
	n := len(ratings)
	if n == 0 {
		return Aggregate{}, false
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	tenths := (20*sum + n) / (2 * n)
	return Aggregate{Average: float64(tenths) / 10, Total: n}, true
}

func Valid(r int) bool {
	return r >= Min && r <= Max
}
