package filter

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/neo4j/graphql-sub030/internal/types"
)

func TestMatchProperties(t *testing.T) {
	m := fixtureModel(t)
	movie := fixtureEntity(t, m, "Movie")
	bag := types.Properties{
		"id":       json.Number("9007199254740993"),
		"title":    "The Matrix",
		"rating":   json.Number("8.7"),
		"released": json.Number("1999"),
		"genres":   []any{"action", "sci-fi"},
		"budget":   nil,
	}

	tests := []struct {
		name  string
		where string
		want  bool
	}{
		{"empty where", `{}`, true},
		{"equality", `{"title": "The Matrix"}`, true},
		{"implicit AND all true", `{"title": "The Matrix", "released": 1999}`, true},
		{"implicit AND one false", `{"title": "The Matrix", "released": 2000}`, false},
		{"OR any", `{"OR": [{"title": "Heat"}, {"released_LT": 2000}]}`, true},
		{"OR none", `{"OR": [{"title": "Heat"}, {"released_GT": 2000}]}`, false},
		{"AND nested", `{"AND": [{"rating_GTE": 8.5}, {"genres_INCLUDES": "sci-fi"}]}`, true},
		{"NOT", `{"NOT": {"title_CONTAINS": "Matrix"}}`, false},
		{"NOT of false", `{"NOT": {"title": "Heat"}}`, true},
		{"empty AND", `{"AND": []}`, true},
		{"empty OR", `{"OR": []}`, false},
		{"combinator beside field", `{"title_STARTS_WITH": "The", "OR": []}`, false},
		{"id above float range", `{"id": 9007199254740993}`, true},
		{"id neighbour", `{"id": 9007199254740992}`, false},
		{"id IN", `{"id_IN": ["9007199254740993", "1"]}`, true},
		{"missing field", `{"director": "Wachowski"}`, false},
		{"missing field NOT", `{"director_NOT": "Wachowski"}`, false},
		{"null field", `{"budget_NOT": 1}`, false},
		{"NOT_CONTAINS incomparable", `{"released_NOT_CONTAINS": "9"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MatchProperties(mustWhere(t, tt.where), bag, movie.Attributes)
			if err != nil {
				t.Fatalf("MatchProperties() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("MatchProperties(%s) = %v, want %v", tt.where, got, tt.want)
			}
		})
	}
}

func TestMatchProperties_UpdateReadsOldState(t *testing.T) {
	m := fixtureModel(t)
	movie := fixtureEntity(t, m, "Movie")
	ev := &types.ChangeEvent{
		Kind:     types.EventUpdate,
		Typename: "Movie",
		Properties: types.StateProperties{
			Old: types.Properties{"title": "A"},
			New: types.Properties{"title": "B"},
		},
	}

	tests := []struct {
		where types.Where
		want  bool
	}{
		{types.Where{"title": "B"}, false},
		{types.Where{"title": "A"}, true},
	}
	for _, tt := range tests {
		got, err := MatchProperties(tt.where, ev.ReceivedState(), movie.Attributes)
		if err != nil {
			t.Fatalf("MatchProperties() error = %v", err)
		}
		if got != tt.want {
			t.Errorf("MatchProperties(%v) = %v, want %v", tt.where, got, tt.want)
		}
	}
}

func TestEvaluate_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		where types.Where
	}{
		{"AND with object", types.Where{"AND": map[string]any{"title": "A"}}},
		{"OR with scalar", types.Where{"OR": "title"}},
		{"OR with scalar element", types.Where{"OR": []any{"title"}}},
		{"NOT with list", types.Where{"NOT": []any{map[string]any{"title": "A"}}}},
		{"NOT with null", types.Where{"NOT": nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MatchProperties(tt.where, types.Properties{"title": "A"}, nil)
			if !errors.Is(err, types.ErrMalformedWhere) {
				t.Errorf("MatchProperties() error = %v, want ErrMalformedWhere", err)
			}
		})
	}
}

func TestEvaluate_TooDeep(t *testing.T) {
	where := types.Where{"title": "A"}
	for i := 0; i <= types.MaxWhereDepth; i++ {
		where = types.Where{"NOT": where}
	}
	_, err := MatchProperties(where, types.Properties{"title": "A"}, nil)
	if !errors.Is(err, types.ErrWhereTooDeep) {
		t.Errorf("MatchProperties() error = %v, want ErrWhereTooDeep", err)
	}
}

func TestEvaluate_MatcherError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Evaluate(types.Where{"OR": []any{map[string]any{"x": 1}}}, MatcherFunc(func(string, any) (bool, error) {
		return false, boom
	}))
	if !errors.Is(err, boom) {
		t.Errorf("Evaluate() error = %v, want %v", err, boom)
	}
}

// leafWheres are the building blocks for the combinator properties.
var leafWheres = []types.Where{
	{"title": "A"},
	{"title_NOT": "B"},
	{"title_IN": []any{"A", "C"}},
	{"released_GT": 2000},
	{"released_LTE": 1995},
	{"rating_LT": 5.5},
	{"genres_INCLUDES": "drama"},
	{"genres_NOT_INCLUDES": "crime"},
	{"title_CONTAINS": "x"},
	{"director": "nobody"},
	{"AND": []any{}},
	{"OR": []any{}},
}

var (
	titles = []string{"A", "B", "C", "xyz"}
	genres = [][]any{{}, {"drama"}, {"crime"}, {"drama", "crime"}}
)

func propertyBag(title, released, genre int, rating float64) types.Properties {
	return types.Properties{
		"title":    titles[title],
		"released": released,
		"rating":   rating,
		"genres":   genres[genre],
	}
}

func evalOrFail(t *testing.T, w types.Where, p types.Properties) bool {
	got, err := MatchProperties(w, p, nil)
	if err != nil {
		t.Fatalf("MatchProperties(%v) error = %v", w, err)
	}
	return got
}

// Property-based test: combinators obey boolean algebra over leaf results
func TestEvaluate_PropertyCombinatorLaws(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	leaf := gen.IntRange(0, len(leafWheres)-1)
	bagArgs := []gopter.Gen{
		gen.IntRange(0, len(titles)-1),
		gen.IntRange(1990, 2010),
		gen.IntRange(0, len(genres)-1),
		gen.Float64Range(0, 10),
	}

	properties.Property("AND is conjunction", prop.ForAll(
		func(i, j, title, released, genre int, rating float64) bool {
			p := propertyBag(title, released, genre, rating)
			w1, w2 := leafWheres[i], leafWheres[j]
			and := types.Where{"AND": []any{map[string]any(w1), map[string]any(w2)}}
			return evalOrFail(t, and, p) == (evalOrFail(t, w1, p) && evalOrFail(t, w2, p))
		},
		append([]gopter.Gen{leaf, leaf}, bagArgs...)...,
	))

	properties.Property("OR is disjunction", prop.ForAll(
		func(i, j, title, released, genre int, rating float64) bool {
			p := propertyBag(title, released, genre, rating)
			w1, w2 := leafWheres[i], leafWheres[j]
			or := types.Where{"OR": []any{map[string]any(w1), map[string]any(w2)}}
			return evalOrFail(t, or, p) == (evalOrFail(t, w1, p) || evalOrFail(t, w2, p))
		},
		append([]gopter.Gen{leaf, leaf}, bagArgs...)...,
	))

	properties.Property("NOT is negation", prop.ForAll(
		func(i, title, released, genre int, rating float64) bool {
			p := propertyBag(title, released, genre, rating)
			w := leafWheres[i]
			return evalOrFail(t, types.Where{"NOT": map[string]any(w)}, p) == !evalOrFail(t, w, p)
		},
		append([]gopter.Gen{leaf}, bagArgs...)...,
	))

	properties.Property("empty combinators are identities", prop.ForAll(
		func(title, released, genre int, rating float64) bool {
			p := propertyBag(title, released, genre, rating)
			return evalOrFail(t, types.Where{"AND": []any{}}, p) && !evalOrFail(t, types.Where{"OR": []any{}}, p)
		},
		bagArgs...,
	))

	properties.TestingRun(t)
}

// Property-based test: an absent field never satisfies any operator
func TestEvaluate_PropertyMissingNeverMatches(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	ops := append(Operators(), OpEqual)
	operands := []any{"A", 0, 1.5, true, []any{}, []any{"A", 1}, nil}

	properties.Property("missing field is false for every operator", prop.ForAll(
		func(opIdx, operandIdx int) bool {
			key := "absent"
			if op := ops[opIdx]; op != OpEqual {
				key += "_" + string(op)
			}
			w := types.Where{key: operands[operandIdx]}
			return !evalOrFail(t, w, types.Properties{}) &&
				!evalOrFail(t, w, types.Properties{"absent": nil})
		},
		gen.IntRange(0, len(ops)-1),
		gen.IntRange(0, len(operands)-1),
	))

	properties.TestingRun(t)
}
