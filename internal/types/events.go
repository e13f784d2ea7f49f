package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

/*
 * Change events produced by the graph database's change capture.
 *
 * One ChangeEvent per committed mutation. Node events carry old/new property
 * bags; relationship events additionally carry the relationship type name,
 * the endpoint bags (from/to), the edge bag and the endpoint type names.
 *
 * Events are immutable once decoded and are read concurrently by every
 * subscriber evaluation.
 */

// EventKind tags a ChangeEvent.
type EventKind string

const (
	EventCreate             EventKind = "create"
	EventUpdate             EventKind = "update"
	EventDelete             EventKind = "delete"
	EventCreateRelationship EventKind = "create_relationship"
	EventDeleteRelationship EventKind = "delete_relationship"
)

// kindAliases maps annotation spellings onto event kinds.
var kindAliases = map[string]EventKind{
	"create":               EventCreate,
	"created":              EventCreate,
	"update":               EventUpdate,
	"updated":              EventUpdate,
	"delete":               EventDelete,
	"deleted":              EventDelete,
	"create_relationship":  EventCreateRelationship,
	"relationship_created": EventCreateRelationship,
	"delete_relationship":  EventDeleteRelationship,
	"relationship_deleted": EventDeleteRelationship,
}

// ParseEventKind matches s case-insensitively against event kind names and
// the past-tense aliases used in authorization annotations.
func ParseEventKind(s string) (EventKind, error) {
	k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventKind, s)
	}
	return k, nil
}

// IsRelationship reports whether k is a relationship event kind.
func (k EventKind) IsRelationship() bool {
	return k == EventCreateRelationship || k == EventDeleteRelationship
}

// EventKinds is a set of event kinds.
type EventKinds map[EventKind]struct{}

// NewEventKinds parses names into a set.
func NewEventKinds(names ...string) (EventKinds, error) {
	set := make(EventKinds, len(names))
	for _, n := range names {
		k, err := ParseEventKind(n)
		if err != nil {
			return nil, err
		}
		set[k] = struct{}{}
	}
	return set, nil
}

// Has reports membership. A nil set contains every kind.
func (s EventKinds) Has(k EventKind) bool {
	if s == nil {
		return true
	}
	_, ok := s[k]
	return ok
}

// StateProperties holds the before and after state of a node.
type StateProperties struct {
	Old Properties `json:"old,omitempty"`
	New Properties `json:"new,omitempty"`
}

// RelationshipProperties holds endpoint and edge bags of a relationship event.
type RelationshipProperties struct {
	From         Properties `json:"from,omitempty"`
	To           Properties `json:"to,omitempty"`
	Relationship Properties `json:"relationship,omitempty"`
}

// ChangeEvent is a single committed change.
type ChangeEvent struct {
	ID        EventID   `json:"id"`
	Kind      EventKind `json:"event"`
	Timestamp Timestamp `json:"timestamp"`
	Typename  string    `json:"typename,omitempty"`

	// Node events.
	Properties StateProperties `json:"properties"`

	// Relationship events.
	RelationshipName string                 `json:"relationshipName,omitempty"`
	FromTypename     string                 `json:"fromTypename,omitempty"`
	ToTypename       string                 `json:"toTypename,omitempty"`
	Relationship     RelationshipProperties `json:"relationshipProperties"`
}

// ReceivedState returns the bag a subscriber's where is evaluated against:
// new for create, old for update and delete.
func (e *ChangeEvent) ReceivedState() Properties {
	switch e.Kind {
	case EventCreate:
		return e.Properties.New
	case EventUpdate, EventDelete:
		return e.Properties.Old
	default:
		return nil
	}
}

// IsNoopUpdate reports whether an update left every property unchanged.
func (e *ChangeEvent) IsNoopUpdate() bool {
	if e.Kind != EventUpdate {
		return false
	}
	return reflect.DeepEqual(normalize(e.Properties.Old), normalize(e.Properties.New))
}

func normalize(p Properties) Properties {
	if len(p) == 0 {
		return Properties{}
	}
	return p
}

// Validate checks the fields required by the event kind.
func (e *ChangeEvent) Validate() error {
	switch e.Kind {
	case EventCreate, EventUpdate, EventDelete:
		if e.Typename == "" {
			return fmt.Errorf("%w: typename required for %s", ErrInvalidEvent, e.Kind)
		}
	case EventCreateRelationship, EventDeleteRelationship:
		if e.RelationshipName == "" || e.FromTypename == "" || e.ToTypename == "" {
			return fmt.Errorf("%w: relationshipName, fromTypename and toTypename required for %s", ErrInvalidEvent, e.Kind)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, e.Kind)
	}
	return nil
}

// DecodeChangeEvent decodes a JSON change event preserving integer precision.
func DecodeChangeEvent(data []byte) (*ChangeEvent, error) {
	var ev ChangeEvent
	if err := decodeJSON(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.Kind != "" {
		k, err := ParseEventKind(string(ev.Kind))
		if err != nil {
			return nil, err
		}
		ev.Kind = k
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp.Time = EventIDTime(ev.ID).UTC()
	}
	return &ev, nil
}

func decodeJSON(data []byte, dest any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dest)
}

// Timestamp is a commit time. JSON accepts epoch milliseconds or RFC 3339.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return err
		}
		t.Time = parsed.UTC()
		return nil
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	t.Time = time.UnixMilli(ms).UTC()
	return nil
}

// MarshalJSON encodes the timestamp as epoch milliseconds.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UnixMilli())
}
