package api

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/neo4j/graphql-sub030/internal/core/auth"
	"github.com/neo4j/graphql-sub030/internal/core/logging"
	"github.com/neo4j/graphql-sub030/internal/schema"
	"github.com/neo4j/graphql-sub030/internal/subscription"
	"github.com/neo4j/graphql-sub030/internal/types"
)

const testSchema = `
entities:
  Movie:
    fields:
      title: String
      ownerId: ID
    subscriptionsAuthorization:
      - events: [UPDATED]
        where:
          node:
            ownerId: "$jwt.sub"
  Review:
    fields:
      text: String
    authentication:
      operations: [SUBSCRIBE]
`

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type harness struct {
	registry   *subscription.Registry
	dispatcher *subscription.Dispatcher
	client     *Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	model, err := schema.Parse([]byte(testSchema))
	require.NoError(t, err)

	logger := logging.Discard()
	registry := subscription.NewRegistry(model, subscription.WithLogger(logger))
	dispatcher := subscription.NewDispatcher(registry, subscription.WithDispatchLogger(logger))
	service, err := NewService(registry, nil, 8, logger)
	require.NoError(t, err)

	verifier := auth.NewVerifier(map[string][]byte{"k1": testSecret})
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(verifier.UnaryInterceptor()),
		grpc.ChainStreamInterceptor(verifier.StreamInterceptor()),
	)
	RegisterSubscriptionAPIServer(srv, service)

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &harness{registry: registry, dispatcher: dispatcher, client: NewClient(conn)}
}

func bearer(t *testing.T, ctx context.Context, sub string) context.Context {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": sub})
	tok.Header["kid"] = "k1"
	s, err := tok.SignedString(testSecret)
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+s)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func waitForSubscribers(t *testing.T, r *subscription.Registry, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.Len() == n }, time.Second, 5*time.Millisecond)
}

func TestSubscribe_DeliversAuthorizedUpdates(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := h.client.Subscribe(bearer(t, ctx, "u1"), mustStruct(t, map[string]any{
		"entity": "Movie",
		"events": []any{"update"},
		"where":  `{"title_STARTS_WITH": "He"}`,
	}))
	require.NoError(t, err)

	header, err := stream.Header()
	require.NoError(t, err)
	require.Len(t, header.Get(SubscriberIDHeader), 1)
	waitForSubscribers(t, h.registry, 1)

	denied := &types.ChangeEvent{ID: "e1", Kind: types.EventUpdate, Typename: "Movie", Properties: types.StateProperties{
		Old: types.Properties{"title": "Heat", "ownerId": "u2"},
		New: types.Properties{"title": "Heat 2", "ownerId": "u1"},
	}}
	allowed := &types.ChangeEvent{ID: "e2", Kind: types.EventUpdate, Typename: "Movie", Properties: types.StateProperties{
		Old: types.Properties{"title": "Heat", "ownerId": "u1"},
		New: types.Properties{"title": "Heat 2", "ownerId": "u2"},
	}}
	require.NoError(t, h.dispatcher.Dispatch(ctx, denied))
	require.NoError(t, h.dispatcher.Dispatch(ctx, allowed))

	got, err := stream.Recv()
	require.NoError(t, err)
	fields := got.AsMap()
	assert.Equal(t, "e2", fields["id"])
	assert.Equal(t, "update", fields["event"])
	assert.Equal(t, "Movie", fields["typename"])

	cancel()
	waitForSubscribers(t, h.registry, 0)
}

func TestSubscribe_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		ctx  context.Context
		req  map[string]any
		want codes.Code
	}{
		{"missing entity", ctx, map[string]any{}, codes.InvalidArgument},
		{"unknown event kind", ctx, map[string]any{"entity": "Movie", "events": []any{"moved"}}, codes.InvalidArgument},
		{"unknown entity", ctx, map[string]any{"entity": "Book"}, codes.NotFound},
		{"malformed where", ctx, map[string]any{"entity": "Movie", "where": map[string]any{"rating": 1.0}}, codes.InvalidArgument},
		{"subscribe annotation", ctx, map[string]any{"entity": "Review"}, codes.Unauthenticated},
		{"bad token", metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer nope"), map[string]any{"entity": "Movie"}, codes.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream, err := h.client.Subscribe(tt.ctx, mustStruct(t, tt.req))
			if err == nil {
				_, err = stream.Recv()
			}
			assert.Equal(t, tt.want, status.Code(err), "err = %v", err)
		})
	}
}

func TestSubscribe_EndedByEvaluationError(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Anonymous subscriber; the UPDATED rule requires authentication.
	stream, err := h.client.Subscribe(ctx, mustStruct(t, map[string]any{"entity": "Movie"}))
	require.NoError(t, err)
	_, err = stream.Header()
	require.NoError(t, err)
	waitForSubscribers(t, h.registry, 1)

	require.NoError(t, h.dispatcher.Dispatch(ctx, &types.ChangeEvent{ID: "e1", Kind: types.EventUpdate, Typename: "Movie", Properties: types.StateProperties{
		Old: types.Properties{"title": "Heat"},
		New: types.Properties{"title": "Ronin"},
	}}))

	_, err = stream.Recv()
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestEventStruct_KeepsIntegerPrecision(t *testing.T) {
	ev := &types.ChangeEvent{ID: "e1", Kind: types.EventCreate, Typename: "Movie", Properties: types.StateProperties{
		New: types.Properties{
			"id":     json.Number("9007199254740993"),
			"views":  json.Number("42"),
			"rating": json.Number("7.5"),
			"tags":   []any{json.Number("-9007199254740993"), json.Number("1")},
		},
	}}

	payload, err := eventStruct(ev)
	require.NoError(t, err)
	props := payload.GetFields()["properties"].GetStructValue().GetFields()["new"].GetStructValue().GetFields()
	assert.Equal(t, "9007199254740993", props["id"].GetStringValue())
	assert.Equal(t, float64(42), props["views"].GetNumberValue())
	assert.Equal(t, 7.5, props["rating"].GetNumberValue())
	tags := props["tags"].GetListValue().GetValues()
	require.Len(t, tags, 2)
	assert.Equal(t, "-9007199254740993", tags[0].GetStringValue())
	assert.Equal(t, float64(1), tags[1].GetNumberValue())
}

func TestListSubscriptions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.ListSubscriptions(ctx, mustStruct(t, nil))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = h.registry.Register(ctx, subscription.Registration{Entity: "Movie"})
	require.NoError(t, err)

	resp, err := h.client.ListSubscriptions(bearer(t, ctx, "admin"), mustStruct(t, nil))
	require.NoError(t, err)
	list := resp.GetFields()["subscriptions"].GetListValue().GetValues()
	require.Len(t, list, 1)
	assert.Equal(t, "Movie", list[0].GetStructValue().GetFields()["entity"].GetStringValue())
	first := resp.GetFields()["etag"].GetStringValue()
	assert.NotEmpty(t, first)

	again, err := h.client.ListSubscriptions(bearer(t, ctx, "admin"), mustStruct(t, nil))
	require.NoError(t, err)
	assert.Equal(t, first, again.GetFields()["etag"].GetStringValue())

	filtered, err := h.client.ListSubscriptions(bearer(t, ctx, "admin"), mustStruct(t, map[string]any{"entity": "Review"}))
	require.NoError(t, err)
	assert.Empty(t, filtered.GetFields()["subscriptions"].GetListValue().GetValues())

	_, err = h.client.ListSubscriptions(bearer(t, ctx, "admin"), mustStruct(t, map[string]any{"source": "history"}))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{types.ErrUnauthenticated, codes.Unauthenticated},
		{types.ErrForbidden, codes.PermissionDenied},
		{types.ErrWhereTooDeep, codes.InvalidArgument},
		{types.ErrAmbiguousRelationship, codes.FailedPrecondition},
		{types.ErrUnknownEntity, codes.NotFound},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{status.Error(codes.Aborted, "x"), codes.Aborted},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, status.Code(statusFor(tt.err)), "%v", tt.err)
	}
	assert.NoError(t, statusFor(nil))
}
