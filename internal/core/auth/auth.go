// Package auth verifies bearer JWTs on gRPC requests and attaches the
// resulting authorization context.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/neo4j/graphql-sub030/internal/authz"
)

// contextKey is a typed key for context values to avoid collisions.
type contextKey string

// authKey is the context key for storing the authorization context.
const authKey = contextKey("authz")

// Metadata keys read from incoming requests.
const (
	AuthorizationHeader = "authorization"
	ContextHeaderPrefix = "x-context-"
)

// Verifier validates HS256 tokens against a set of signing secrets keyed by
// the token's "kid" header.
type Verifier struct {
	secrets map[string][]byte
	issuer  string
	claims  map[string]string
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithIssuer requires the "iss" claim to equal issuer.
func WithIssuer(issuer string) Option {
	return func(v *Verifier) { v.issuer = issuer }
}

// WithClaimsRemap sets the schema-claim to token-path table copied into
// every authorization context.
func WithClaimsRemap(claims map[string]string) Option {
	return func(v *Verifier) { v.claims = claims }
}

// NewVerifier creates a verifier over secrets (key_id -> secret).
func NewVerifier(secrets map[string][]byte, opts ...Option) *Verifier {
	v := &Verifier{secrets: secrets}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks the token signature and registered claims and returns the
// decoded claims. Numeric claims are json.Number.
func (v *Verifier) Verify(raw string) (map[string]any, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithJSONNumber(),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(raw, v.key, parserOpts...)
	if err != nil {
		if errors.Is(err, ErrUnknownKey) {
			return nil, ErrUnknownKey
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return map[string]any(claims), nil
}

// key selects the secret named by the token's kid. Without a kid the only
// configured secret is used.
func (v *Verifier) key(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		if len(v.secrets) == 1 {
			for _, s := range v.secrets {
				return s, nil
			}
		}
		return nil, ErrUnknownKey
	}
	secret, ok := v.secrets[kid]
	if !ok {
		return nil, ErrUnknownKey
	}
	return secret, nil
}

// Authenticate builds the authorization context of an incoming request.
// A request without an authorization header is anonymous.
func (v *Verifier) Authenticate(ctx context.Context) (*authz.Context, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	ac := &authz.Context{Claims: v.claims, Values: contextValues(md)}

	headers := md.Get(AuthorizationHeader)
	if len(headers) == 0 || headers[0] == "" {
		return ac, nil
	}
	scheme, raw, ok := strings.Cut(headers[0], " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(raw) == "" {
		return nil, ErrMalformedHeader
	}
	claims, err := v.Verify(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	ac.JWT = claims
	return ac, nil
}

// contextValues collects x-context-* metadata into request values.
func contextValues(md metadata.MD) map[string]any {
	values := make(map[string]any)
	for k, vs := range md {
		name, ok := strings.CutPrefix(k, ContextHeaderPrefix)
		if !ok || name == "" || len(vs) == 0 {
			continue
		}
		values[name] = vs[0]
	}
	return values
}

// UnaryInterceptor returns gRPC interceptor that authenticates requests.
func (v *Verifier) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ac, err := v.Authenticate(ctx)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(NewContext(ctx, ac), req)
	}
}

// StreamInterceptor returns gRPC interceptor that authenticates streams.
func (v *Verifier) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ac, err := v.Authenticate(ss.Context())
		if err != nil {
			return status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: NewContext(ss.Context(), ac)})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context {
	return s.ctx
}

// NewContext returns ctx carrying ac.
func NewContext(ctx context.Context, ac *authz.Context) context.Context {
	return context.WithValue(ctx, authKey, ac)
}

// FromContext extracts the authorization context.
// Returns nil if not found.
func FromContext(ctx context.Context) *authz.Context {
	if ac, ok := ctx.Value(authKey).(*authz.Context); ok {
		return ac
	}
	return nil
}
