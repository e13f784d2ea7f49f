package authz

import (
	"errors"
	"testing"

	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/types"
)

func movieEvent(kind types.EventKind, oldOwner, newOwner string) *types.ChangeEvent {
	ev := &types.ChangeEvent{Kind: kind, Typename: "Movie"}
	if oldOwner != "" {
		ev.Properties.Old = types.Properties{"ownerId": oldOwner, "title": "Old"}
	}
	if newOwner != "" {
		ev.Properties.New = types.Properties{"ownerId": newOwner, "title": "New"}
	}
	return ev
}

func TestGate_MovieRules(t *testing.T) {
	m := fixtureModel(t)
	movie := fixtureEntity(t, m, "Movie")

	tests := []struct {
		name                string
		event               *types.ChangeEvent
		auth                *Context
		wantAllowed         bool
		wantCandidates      int
		wantUnauthenticated bool
	}{
		{"create by owner", movieEvent(types.EventCreate, "", "u1"), authed(map[string]any{"sub": "u1"}), true, 1, false},
		{"create by other", movieEvent(types.EventCreate, "", "u1"), authed(map[string]any{"sub": "u2"}), false, 1, false},
		{"create unauthenticated", movieEvent(types.EventCreate, "", "u1"), nil, false, 1, true},
		{"update reads old owner", movieEvent(types.EventUpdate, "u1", "u2"), authed(map[string]any{"sub": "u1"}), true, 1, false},
		{"update new owner denied", movieEvent(types.EventUpdate, "u1", "u2"), authed(map[string]any{"sub": "u2"}), false, 1, false},
		{"delete without authentication", movieEvent(types.EventDelete, "u1", ""), nil, true, 1, false},
		{"no rule for kind", &types.ChangeEvent{Kind: types.EventDeleteRelationship, RelationshipName: "ACTED_IN"}, nil, true, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Gate(movie.AuthorizationRules, Input{Model: m, Entity: movie, Event: tt.event, Auth: tt.auth})
			if err != nil {
				t.Fatalf("Gate() error = %v", err)
			}
			if res.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v", res.Allowed, tt.wantAllowed)
			}
			if res.Candidates != tt.wantCandidates {
				t.Errorf("Candidates = %d, want %d", res.Candidates, tt.wantCandidates)
			}
			if res.Unauthenticated != tt.wantUnauthenticated {
				t.Errorf("Unauthenticated = %v, want %v", res.Unauthenticated, tt.wantUnauthenticated)
			}
		})
	}
}

func TestGate_RelationshipRule(t *testing.T) {
	m := fixtureModel(t)
	movie := fixtureEntity(t, m, "Movie")
	ev := &types.ChangeEvent{
		Kind:             types.EventCreateRelationship,
		RelationshipName: "ACTED_IN",
		FromTypename:     "Actor",
		ToTypename:       "Movie",
		Relationship: types.RelationshipProperties{
			From:         types.Properties{"name": "Keanu"},
			To:           types.Properties{"title": "The Matrix"},
			Relationship: types.Properties{"role": "Lead"},
		},
	}

	tests := []struct {
		name   string
		claims map[string]any
		role   string
		want   bool
	}{
		{"admin and lead", map[string]any{"roles": []any{"admin"}}, "Lead", true},
		{"not admin", map[string]any{"roles": []any{"viewer"}}, "Lead", false},
		{"edge mismatch", map[string]any{"roles": []any{"admin"}}, "Extra", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := *ev
			e.Relationship.Relationship = types.Properties{"role": tt.role}
			res, err := Gate(movie.AuthorizationRules, Input{Model: m, Entity: movie, Event: &e, Auth: authed(tt.claims)})
			if err != nil {
				t.Fatalf("Gate() error = %v", err)
			}
			if res.Allowed != tt.want {
				t.Errorf("Allowed = %v, want %v", res.Allowed, tt.want)
			}
		})
	}
}

func TestGate_ORComposition(t *testing.T) {
	m := fixtureModel(t)
	movie := fixtureEntity(t, m, "Movie")
	kinds, _ := types.NewEventKinds("CREATED")
	rules := []schema.AuthorizationRule{
		{Events: kinds, Where: types.Where{"node": map[string]any{"OR": []any{}}}},
		{Events: kinds, Where: types.Where{}},
	}
	in := Input{Model: m, Entity: movie, Event: movieEvent(types.EventCreate, "", "u1")}

	res, err := Gate(rules, in)
	if err != nil {
		t.Fatalf("Gate() error = %v", err)
	}
	if !res.Allowed || res.Candidates != 2 {
		t.Errorf("Gate() = %+v, want allowed with 2 candidates", res)
	}

	res, err = Gate(rules[:1], in)
	if err != nil {
		t.Fatalf("Gate() error = %v", err)
	}
	if res.Allowed {
		t.Error("Gate(unsatisfiable only) allowed, want denied")
	}
}

func TestEvaluateRule_JWTWithoutIdentity(t *testing.T) {
	m := fixtureModel(t)
	movie := fixtureEntity(t, m, "Movie")
	rule := schema.AuthorizationRule{
		Events: nil,
		Where:  types.Where{"jwt": map[string]any{"roles_INCLUDES": "admin"}},
	}

	_, err := EvaluateRule(rule, Input{Model: m, Entity: movie, Event: movieEvent(types.EventCreate, "", "u1")})
	if !errors.Is(err, types.ErrNoJWT) || !errors.Is(err, types.ErrMisconfiguration) {
		t.Errorf("EvaluateRule() error = %v, want ErrNoJWT", err)
	}

	rule.RequireAuthentication = true
	ok, err := EvaluateRule(rule, Input{Model: m, Entity: movie, Event: movieEvent(types.EventCreate, "", "u1")})
	if err != nil || ok {
		t.Errorf("EvaluateRule(requireAuthentication) = %v, %v, want false, nil", ok, err)
	}
}

func TestEvaluateRule_Keys(t *testing.T) {
	m := fixtureModel(t)
	movie := fixtureEntity(t, m, "Movie")
	in := Input{Model: m, Entity: movie, Event: movieEvent(types.EventCreate, "", "u1"), Auth: authed(map[string]any{"level": 3})}

	tests := []struct {
		name    string
		where   types.Where
		want    bool
		wantErr error
	}{
		{"unknown key ignored", types.Where{"other": map[string]any{"x": 1}}, true, nil},
		{"jwt typed claim", types.Where{"jwt": map[string]any{"level_GTE": 2}}, true, nil},
		{"jwt missing claim", types.Where{"jwt": map[string]any{"roles_INCLUDES": "admin"}}, false, nil},
		{"edge on node event", types.Where{"edge": map[string]any{"role": "Lead"}}, false, nil},
		{"NOT around node", types.Where{"NOT": map[string]any{"node": map[string]any{"title": "New"}}}, false, nil},
		{"malformed node", types.Where{"node": "title"}, false, types.ErrMalformedWhere},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateRule(schema.AuthorizationRule{Where: tt.where}, in)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("EvaluateRule() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("EvaluateRule() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGate_MisconfiguredRelationship(t *testing.T) {
	m := fixtureModel(t)
	movie := fixtureEntity(t, m, "Movie")
	rules := []schema.AuthorizationRule{{Where: types.Where{"node": map[string]any{}}}}
	ev := &types.ChangeEvent{Kind: types.EventCreateRelationship, RelationshipName: "DIRECTED"}

	_, err := Gate(rules, Input{Model: m, Entity: movie, Event: ev})
	if !errors.Is(err, types.ErrRelationshipNotFound) {
		t.Errorf("Gate() error = %v, want ErrRelationshipNotFound", err)
	}
}
