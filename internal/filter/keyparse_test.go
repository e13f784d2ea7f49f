package filter

import "testing"

func TestParseKey(t *testing.T) {
	tests := []struct {
		key  string
		want Key
	}{
		{"title", Key{Field: "title", Operator: OpEqual}},
		{"title_NOT", Key{Field: "title", Operator: OpNot}},
		{"name_NOT_CONTAINS", Key{Field: "name", Operator: OpNotContains}},
		{"name_CONTAINS", Key{Field: "name", Operator: OpContains}},
		{"name_STARTS_WITH", Key{Field: "name", Operator: OpStartsWith}},
		{"name_NOT_STARTS_WITH", Key{Field: "name", Operator: OpNotStartsWith}},
		{"name_ENDS_WITH", Key{Field: "name", Operator: OpEndsWith}},
		{"name_NOT_ENDS_WITH", Key{Field: "name", Operator: OpNotEndsWith}},
		{"id_IN", Key{Field: "id", Operator: OpIn}},
		{"id_NOT_IN", Key{Field: "id", Operator: OpNotIn}},
		{"genres_INCLUDES", Key{Field: "genres", Operator: OpIncludes}},
		{"genres_NOT_INCLUDES", Key{Field: "genres", Operator: OpNotIncludes}},
		{"released_LT", Key{Field: "released", Operator: OpLt}},
		{"released_LTE", Key{Field: "released", Operator: OpLte}},
		{"released_GT", Key{Field: "released", Operator: OpGt}},
		{"released_GTE", Key{Field: "released", Operator: OpGte}},
		{"first_name_IN", Key{Field: "first_name", Operator: OpIn}},
		{"first_name", Key{Field: "first_name", Operator: OpEqual}},
		{"is_NOT_done", Key{Field: "is_NOT_done", Operator: OpEqual}},
		{"_IN", Key{Field: "_IN", Operator: OpEqual}},
		{"title_", Key{Field: "title_", Operator: OpEqual}},
		{"title_lt", Key{Field: "title_lt", Operator: OpEqual}},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := ParseKey(tt.key); got != tt.want {
				t.Errorf("ParseKey(%q) = %+v, want %+v", tt.key, got, tt.want)
			}
		})
	}
}

func TestOperators_Vocabulary(t *testing.T) {
	ops := Operators()
	if len(ops) != 15 {
		t.Fatalf("len(Operators()) = %d, want 15", len(ops))
	}
	for _, op := range ops {
		if _, ok := predicates[op]; !ok {
			t.Errorf("operator %s has no predicate", op)
		}
		if got := ParseKey("field_" + string(op)); got.Operator != op || got.Field != "field" {
			t.Errorf("ParseKey(field_%s) = %+v", op, got)
		}
	}
}
