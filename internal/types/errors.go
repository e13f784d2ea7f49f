package types

import (
	"errors"
	"fmt"
)

// Sentinel errors for subscription evaluation.
//
// Three outcomes exist: an event that does not match is not an error at all;
// ErrForbidden (and ErrUnauthenticated, which wraps it) means the subscriber
// is not allowed to receive it; ErrMisconfiguration means the schema model or
// a rule is inconsistent and evaluation cannot continue.
var (
	// ErrForbidden indicates the caller is not allowed to receive the event.
	ErrForbidden = errors.New("forbidden")

	// ErrUnauthenticated indicates an authenticated identity is required but absent.
	ErrUnauthenticated = fmt.Errorf("%w: unauthenticated", ErrForbidden)

	// ErrMisconfiguration indicates an inconsistent schema model or rule.
	ErrMisconfiguration = errors.New("misconfiguration")

	// ErrRelationshipNotFound indicates no relationship declaration matches an event.
	ErrRelationshipNotFound = fmt.Errorf("%w: relationship not declared", ErrMisconfiguration)

	// ErrAmbiguousRelationship indicates several declarations share a relationship type.
	ErrAmbiguousRelationship = fmt.Errorf("%w: relationship type declared more than once", ErrMisconfiguration)

	// ErrNoJWT indicates a jwt filter was reached without a verified identity.
	ErrNoJWT = fmt.Errorf("%w: jwt filter reached without a jwt", ErrMisconfiguration)

	// ErrUnknownEntity indicates a type name that the schema model does not declare.
	ErrUnknownEntity = fmt.Errorf("%w: unknown entity", ErrMisconfiguration)

	// ErrMalformedWhere indicates a where expression with an invalid shape.
	ErrMalformedWhere = errors.New("malformed where expression")

	// ErrWhereTooDeep indicates a where expression nested beyond MaxWhereDepth.
	ErrWhereTooDeep = errors.New("where expression exceeds maximum depth")

	// ErrWhereTooCostly indicates a where expression whose estimated cost exceeds the limit.
	ErrWhereTooCostly = errors.New("where expression exceeds maximum cost")

	// ErrTooManyInValues indicates an IN operand list beyond MaxInOperatorValues.
	ErrTooManyInValues = errors.New("IN operator has too many values")

	// ErrUnknownEventKind indicates an unrecognised event kind name.
	ErrUnknownEventKind = errors.New("unknown event kind")

	// ErrInvalidEvent indicates a change event missing required fields.
	ErrInvalidEvent = errors.New("invalid change event")
)
