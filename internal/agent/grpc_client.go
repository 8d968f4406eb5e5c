package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// AgentServiceName is the fully-qualified remote agent service.
	AgentServiceName = "finchat.agent.v1.AgentService"
	invokeMethod     = "/" + AgentServiceName + "/Invoke"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errUnexpectedPayload        = errors.New("remote agent returned neither text nor a struct")
)

// GrpcClient invokes an agent hosted in another process. Requests and
// responses use the well-known Struct/Value messages so no generated stubs
// are needed: the request is {"prompt": ...} and the response is either a
// string or a struct carrying "output".
type GrpcClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialOptions      []grpc.DialOption
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient connects to the remote agent and waits until the connection
// is ready so bad endpoints fail fast.
func NewGrpcClient(ctx context.Context, cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = defaults.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)
	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to remote agent at %s: %w", cfg.Address, err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("remote agent at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to remote agent", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close gRPC connection: %w", err)
	}
	return nil
}

// Health checks whether the remote agent service reports SERVING.
func (c *GrpcClient) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: AgentServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("remote agent status %s", resp.GetStatus())
	}
	return nil
}

// Invoke sends the prompt to the remote agent.
func (c *GrpcClient) Invoke(ctx context.Context, prompt string) (Result, error) {
	req, err := structpb.NewStruct(map[string]any{"prompt": prompt})
	if err != nil {
		return Result{}, InvocationError(fmt.Errorf("encode request: %w", err), false)
	}

	resp := &structpb.Value{}
	if err := c.conn.Invoke(ctx, invokeMethod, req, resp); err != nil {
		c.logger.Warn("Remote agent invocation failed", "address", c.addr, "error", err)
		return Result{}, grpcFailure(err)
	}
	return resultFromValue(resp)
}

func resultFromValue(v *structpb.Value) (Result, error) {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return TextResult(kind.StringValue), nil
	case *structpb.Value_StructValue:
		return StructuredResult(kind.StructValue.AsMap()), nil
	default:
		return Result{}, &Error{Kind: KindMalformedOutput, Op: "invoke agent", Err: errUnexpectedPayload}
	}
}

// grpcFailure classifies a gRPC status into the agent error taxonomy.
func grpcFailure(err error) *Error {
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return TimeoutError(err)
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		return InvocationError(err, true)
	default:
		return InvocationError(err, false)
	}
}
