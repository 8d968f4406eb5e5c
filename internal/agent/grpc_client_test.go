package agent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

// startRemoteAgent serves the Invoke method through an unknown-service
// handler that answers with respond(prompt).
func startRemoteAgent(t *testing.T, respond func(prompt string) (*structpb.Value, error)) *GrpcClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ any, stream grpc.ServerStream) error {
		method, _ := grpc.MethodFromServerStream(stream)
		if method != invokeMethod {
			return status.Errorf(codes.Unimplemented, "unknown method %s", method)
		}
		req := &structpb.Struct{}
		if err := stream.RecvMsg(req); err != nil {
			return err
		}
		resp, err := respond(req.GetFields()["prompt"].GetStringValue())
		if err != nil {
			return err
		}
		return stream.SendMsg(resp)
	}))
	hs := health.NewServer()
	hs.SetServingStatus(AgentServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewGrpcClient(context.Background(), GrpcClientConfig{
		Address:        "passthrough:///bufnet",
		ConnectTimeout: 2 * time.Second,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestGrpcClientStructuredAnswer(t *testing.T) {
	client := startRemoteAgent(t, func(prompt string) (*structpb.Value, error) {
		s, err := structpb.NewStruct(map[string]any{"input": prompt, "output": "Total spend is ₹12,000."})
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(s), nil
	})

	require.NoError(t, client.Health(context.Background()))

	res, err := client.Invoke(context.Background(), "How much did I spend?")
	require.NoError(t, err)
	assert.True(t, res.Structured())
	assert.Equal(t, "How much did I spend?", res.Fields()["input"])
	reply, err := res.Reply()
	require.NoError(t, err)
	assert.Equal(t, "Total spend is ₹12,000.", reply)
}

func TestGrpcClientTextAnswer(t *testing.T) {
	client := startRemoteAgent(t, func(prompt string) (*structpb.Value, error) {
		return structpb.NewStringValue("echo: " + prompt), nil
	})

	res, err := client.Invoke(context.Background(), "hi")
	require.NoError(t, err)
	assert.False(t, res.Structured())
	reply, err := res.Reply()
	require.NoError(t, err)
	assert.Equal(t, "echo: hi", reply)
}

func TestGrpcClientErrorMapping(t *testing.T) {
	cases := []struct {
		code      codes.Code
		kind      Kind
		retryable bool
	}{
		{codes.Unavailable, KindInvocation, true},
		{codes.DeadlineExceeded, KindTimeout, true},
		{codes.InvalidArgument, KindInvocation, false},
	}
	for _, tc := range cases {
		t.Run(tc.code.String(), func(t *testing.T) {
			client := startRemoteAgent(t, func(string) (*structpb.Value, error) {
				return nil, status.Error(tc.code, "remote failure")
			})
			_, err := client.Invoke(context.Background(), "q")
			require.Error(t, err)
			assert.Equal(t, tc.kind, KindOf(err))
			assert.Equal(t, tc.retryable, IsRetryable(err))
		})
	}
}

func TestGrpcClientUnexpectedPayload(t *testing.T) {
	client := startRemoteAgent(t, func(string) (*structpb.Value, error) {
		return structpb.NewNumberValue(7), nil
	})

	_, err := client.Invoke(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, KindMalformedOutput, KindOf(err))
}
