package filter

// Combinator is a logical key of a where expression.
type Combinator string

const (
	And Combinator = "AND"
	Or  Combinator = "OR"
	Not Combinator = "NOT"
)

// combinators reduces child results. Initialised once, never mutated.
// AND and OR use their identity elements for an empty input.
var combinators = map[Combinator]func([]bool) bool{
	And: func(results []bool) bool {
		for _, r := range results {
			if !r {
				return false
			}
		}
		return true
	},
	Or: func(results []bool) bool {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	},
	// NOT has exactly one child.
	Not: func(results []bool) bool {
		return len(results) == 1 && !results[0]
	},
}

// IsCombinator reports whether key is AND, OR or NOT.
func IsCombinator(key string) bool {
	_, ok := combinators[Combinator(key)]
	return ok
}

// Reduce combines results with the given combinator.
func Reduce(c Combinator, results []bool) bool {
	fn, ok := combinators[c]
	if !ok {
		return false
	}
	return fn(results)
}
