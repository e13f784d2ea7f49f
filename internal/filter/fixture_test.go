package filter

import (
	"testing"

	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/types"
)

const fixtureSchema = `
relationshipProperties:
  ActedIn:
    screenTime: Int
    role: String
interfaces:
  Production:
    fields:
      title: String
      budget: BigInt
    implementations: [Movie, Series]
unions:
  Person: [Actor, Director]
entities:
  Movie:
    fields:
      id: ID
      title: String
      rating: Float
      released: Int
      budget: BigInt
      genres: "[String]"
    relationships:
      actors: {type: ACTED_IN, direction: IN, target: Actor, properties: ActedIn}
      people: {type: WORKED_ON, direction: IN, target: Person}
  Series:
    fields:
      title: String
      episodes: Int
      budget: BigInt
  Actor:
    fields:
      id: ID
      name: String
    relationships:
      productions: {type: ACTED_IN, direction: OUT, target: Production, properties: ActedIn}
  Director:
    fields:
      name: String
  Writer:
    fields:
      name: String
  Studio:
    fields:
      name: String
    relationships:
      movies: {type: OWNS, direction: OUT, target: Movie}
      archive: {type: OWNS, direction: OUT, target: Movie}
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

func mustWhere(t *testing.T, raw string) types.Where {
	t.Helper()
	w, err := types.ParseWhere([]byte(raw))
	if err != nil {
		t.Fatalf("ParseWhere(%s) error = %v", raw, err)
	}
	return w
}
