package subscription

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neo4j/graphql-sub030/internal/authz"
	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/types"
)

const fixtureSchema = `
jwt:
  roles: "[String]"
relationshipProperties:
  ActedIn:
    role: String
entities:
  Movie:
    fields:
      title: String
      ownerId: ID
      rating: Float
      secret:
        type: String
        authentication:
          operations: [READ]
    relationships:
      actors: {type: ACTED_IN, direction: IN, target: Actor, properties: ActedIn}
    subscriptionsAuthorization:
      - events: [UPDATED]
        where:
          node:
            ownerId: "$jwt.sub"
  Actor:
    fields:
      name: String
    relationships:
      movies: {type: ACTED_IN, direction: OUT, target: Movie, properties: ActedIn}
  Review:
    fields:
      text: String
    authentication:
      operations: [SUBSCRIBE]
`

func fixtureModel(t *testing.T) *schema.Model {
	t.Helper()
	m, err := schema.Parse([]byte(fixtureSchema))
	require.NoError(t, err)
	return m
}

func fixtureEntity(t *testing.T, m *schema.Model, name string) *schema.Entity {
	t.Helper()
	e, err := m.Entity(name)
	require.NoError(t, err)
	return e
}

func authed(sub string) *authz.Context {
	return &authz.Context{JWT: map[string]any{"sub": sub}}
}

func movieUpdate(oldOwner, newOwner string) *types.ChangeEvent {
	return &types.ChangeEvent{
		ID:       types.NewEventID(),
		Kind:     types.EventUpdate,
		Typename: "Movie",
		Properties: types.StateProperties{
			Old: types.Properties{"title": "Heat", "ownerId": oldOwner, "rating": 7.5},
			New: types.Properties{"title": "Heat", "ownerId": newOwner, "rating": 8.0},
		},
	}
}

func actedIn(kind types.EventKind, actor, movie, role string) *types.ChangeEvent {
	return &types.ChangeEvent{
		ID:               types.NewEventID(),
		Kind:             kind,
		RelationshipName: "ACTED_IN",
		FromTypename:     "Actor",
		ToTypename:       "Movie",
		Relationship: types.RelationshipProperties{
			From:         types.Properties{"name": actor},
			To:           types.Properties{"title": movie},
			Relationship: types.Properties{"role": role},
		},
	}
}
