package filter

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/types"
)

func TestValidateNodeWhere(t *testing.T) {
	m := fixtureModel(t)
	movie := fixtureEntity(t, m, "Movie")

	tests := []struct {
		name    string
		where   string
		wantErr error
	}{
		{"empty", `{}`, nil},
		{"declared fields", `{"title": "A", "released_GT": 2000, "genres_INCLUDES": "drama"}`, nil},
		{"combinators", `{"OR": [{"title": "A"}, {"NOT": {"rating_LT": 5}}], "AND": []}`, nil},
		{"unknown field", `{"director": "A"}`, types.ErrMalformedWhere},
		{"unknown field in OR", `{"OR": [{"director": "A"}]}`, types.ErrMalformedWhere},
		{"IN scalar", `{"title_IN": "A"}`, types.ErrMalformedWhere},
		{"NOT as list", `{"NOT": [{"title": "A"}]}`, types.ErrMalformedWhere},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateNodeWhere(mustWhere(t, tt.where), movie.Attributes, DefaultLimits())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateNodeWhere() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNodeWhere_Limits(t *testing.T) {
	values := make([]string, types.MaxInOperatorValues+1)
	for i := range values {
		values[i] = fmt.Sprintf("%q", fmt.Sprint(i))
	}
	tooMany := fmt.Sprintf(`{"title_IN": [%s]}`, strings.Join(values, ","))
	if _, err := ValidateNodeWhere(mustWhere(t, tooMany), nil, DefaultLimits()); !errors.Is(err, types.ErrTooManyInValues) {
		t.Errorf("ValidateNodeWhere(IN > limit) error = %v, want ErrTooManyInValues", err)
	}

	deep := types.Where{"title": "A"}
	for i := 0; i <= types.MaxWhereDepth; i++ {
		deep = types.Where{"NOT": deep}
	}
	if _, err := ValidateNodeWhere(deep, nil, DefaultLimits()); !errors.Is(err, types.ErrWhereTooDeep) {
		t.Errorf("ValidateNodeWhere(deep) error = %v, want ErrWhereTooDeep", err)
	}

	costly := Limits{MaxDepth: types.MaxWhereDepth, MaxInValues: types.MaxInOperatorValues, MaxCost: 10}
	if _, err := ValidateNodeWhere(types.Where{"title": "A"}, nil, costly); !errors.Is(err, types.ErrWhereTooCostly) {
		t.Errorf("ValidateNodeWhere(cost) error = %v, want ErrWhereTooCostly", err)
	}
}

func TestValidateNodeWhere_Report(t *testing.T) {
	attrs := schema.Attributes{
		"title":    {Name: "title", Type: schema.TypeString},
		"released": {Name: "released", Type: schema.TypeInt},
	}
	where := types.Where{
		"title_STARTS_WITH": "The",
		"OR": []any{
			map[string]any{"released_IN": []any{1999, 2003}},
			map[string]any{"title": "Heat"},
		},
	}
	report, err := ValidateNodeWhere(where, attrs, DefaultLimits())
	if err != nil {
		t.Fatalf("ValidateNodeWhere() error = %v", err)
	}
	want := ConditionCost(OpStartsWith, schema.TypeString, 0) +
		ConditionCost(OpIn, schema.TypeInt, 2) +
		ConditionCost(OpEqual, schema.TypeString, 0)
	if report.Conditions != 3 || report.Cost != want {
		t.Errorf("Report = %+v, want {Conditions:3 Cost:%d}", report, want)
	}
}

func TestValidateRelationshipWhere(t *testing.T) {
	m := fixtureModel(t)

	tests := []struct {
		name    string
		entity  string
		where   string
		wantErr error
	}{
		{"standard", "Movie", `{"movie": {"title": "A"}, "createdRelationship": {"actors": {"edge": {"screenTime_GT": 10}, "node": {"name": "K"}}}}`, nil},
		{"empty field", "Movie", `{"actors": {}}`, nil},
		{"null field", "Movie", `{"actors": null}`, nil},
		{"union members", "Movie", `{"people": {"Actor": {"node": {"name": "Tom"}}, "Director": {}}}`, nil},
		{"interface with _on", "Actor", `{"productions": {"node": {"title": "A", "_on": {"Series": {"episodes_GT": 3}}}}}`, nil},
		{"unknown relationship field", "Movie", `{"directors": {}}`, types.ErrMalformedWhere},
		{"unknown own field", "Movie", `{"movie": {"studio": "A"}}`, types.ErrMalformedWhere},
		{"unknown edge field", "Movie", `{"actors": {"edge": {"salary": 1}}}`, types.ErrMalformedWhere},
		{"unknown sub-tree key", "Movie", `{"actors": {"nodes": {}}}`, types.ErrMalformedWhere},
		{"non-member union key", "Movie", `{"people": {"Writer": {}}}`, types.ErrMalformedWhere},
		{"non-implementation _on", "Actor", `{"productions": {"node": {"_on": {"Actor": {}}}}}`, types.ErrMalformedWhere},
		{"implementation-only field outside _on", "Actor", `{"productions": {"node": {"episodes": 3}}}`, types.ErrMalformedWhere},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entity := fixtureEntity(t, m, tt.entity)
			_, err := ValidateRelationshipWhere(mustWhere(t, tt.where), entity, m, DefaultLimits())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateRelationshipWhere() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
