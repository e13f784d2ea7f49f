package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/neo4j/graphql-sub030/internal/types"
)

// Error mapping for subscription errors.
// Token errors are mapped in the auth package interceptor.
// Identity missing maps to UNAUTHENTICATED, identity rejected to PERMISSION_DENIED.
// Invalid where or event names map to INVALID_ARGUMENT.
// Unknown entities map to NOT_FOUND.
// Schema misconfiguration maps to FAILED_PRECONDITION.
// Database errors map to UNAVAILABLE.
// Context timeouts map to DEADLINE_EXCEEDED.
func statusFor(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch {
	case errors.Is(err, types.ErrUnauthenticated):
		code = codes.Unauthenticated
	case errors.Is(err, types.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, types.ErrMalformedWhere),
		errors.Is(err, types.ErrWhereTooDeep),
		errors.Is(err, types.ErrWhereTooCostly),
		errors.Is(err, types.ErrTooManyInValues),
		errors.Is(err, types.ErrUnknownEventKind):
		code = codes.InvalidArgument
	case errors.Is(err, types.ErrUnknownEntity):
		code = codes.NotFound
	case errors.Is(err, types.ErrMisconfiguration):
		code = codes.FailedPrecondition
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
