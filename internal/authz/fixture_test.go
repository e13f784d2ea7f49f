package authz

import (
	"testing"

	"github.com/neo4j/graphql-sub030/internal/schema"
)

const fixtureSchema = `
jwt:
  roles: "[String]"
  level: Int
relationshipProperties:
  ActedIn:
    role: String
unions:
  Credit: [Actor, Director]
interfaces:
  Person:
    fields:
      name: String
    implementations: [Actor, Director]
entities:
  Movie:
    fields:
      title: String
      ownerId: ID
      budget:
        type: BigInt
        authentication:
          operations: [READ]
    relationships:
      actors: {type: ACTED_IN, direction: IN, target: Actor, properties: ActedIn}
      credits: {type: CREDITED, direction: IN, target: Credit}
      cast: {type: CAST, direction: IN, target: Person}
    subscriptionsAuthorization:
      - events: [CREATED, UPDATED]
        where:
          node:
            ownerId: "$jwt.sub"
      - events: [deleted]
        requireAuthentication: false
        where:
          node:
            title_NOT: Secret
      - events: [RELATIONSHIP_CREATED]
        where:
          node:
            title: The Matrix
          edge:
            role: Lead
          jwt:
            roles_INCLUDES: admin
  Actor:
    fields:
      name: String
      salary:
        type: Int
        authentication: {}
  Director:
    fields:
      name: String
    authentication:
      operations: [READ]
      jwt:
        roles_INCLUDES: director
  Review:
    fields:
      text: String
    authentication:
      operations: [SUBSCRIBE]
`

func fixtureModel(t *testing.T) *schema.Model {
	t.Helper()
	m, err := schema.Parse([]byte(fixtureSchema))
	if err != nil {
		t.Fatalf("schema.Parse() error = %v", err)
	}
	return m
}

func fixtureEntity(t *testing.T, m *schema.Model, name string) *schema.Entity {
	t.Helper()
	e, err := m.Entity(name)
	if err != nil {
		t.Fatalf("Entity(%q) error = %v", name, err)
	}
	return e
}

func authed(claims map[string]any) *Context {
	return &Context{JWT: claims}
}
