// Package service exposes the producer over gRPC. Wire messages are msgpack
// structs served through a hand-registered codec; the admin HTTP surface is
// multiplexed onto the same listener.
package service

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/soheilhy/cmux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/stream"
	"github.com/naanagon/yugabyte-db/telemetry"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "yb.cdc.CDCService"

// GetChangesRequest is the wire request.
type GetChangesRequest struct {
	StreamID string `msgpack:"stream_id"`
	TabletID string `msgpack:"tablet_id"`
	// Checkpoint is the opaque cursor from the previous response, empty on
	// the first call.
	Checkpoint []byte `msgpack:"checkpoint,omitempty"`
	// LastReadableOpIndex bounds log reads. Zero means unbounded.
	LastReadableOpIndex int64 `msgpack:"last_readable_op_index,omitempty"`
}

// GetChangesResponse is the wire response.
type GetChangesResponse struct {
	Records         []cdc.Record `msgpack:"records"`
	Checkpoint      []byte       `msgpack:"checkpoint"`
	StreamedOpID    cdc.OpID     `msgpack:"streamed_op_id"`
	CommitTimestamp uint64       `msgpack:"commit_timestamp,omitempty"`
	TerminalStatus  string       `msgpack:"terminal_status"`
}

// ProducerProvider resolves the producer serving a tablet.
type ProducerProvider interface {
	ProducerFor(tabletID string) (*cdc.Producer, bool)
}

// Server hosts the CDC service plus the admin HTTP surface on one port.
type Server struct {
	address   string
	port      int
	producers ProducerProvider
	streams   *stream.Registry
	admin     http.Handler

	server   *grpc.Server
	listener net.Listener
	mux      cmux.CMux
}

// ServerConfig wires a Server.
type ServerConfig struct {
	Address   string
	Port      int
	Producers ProducerProvider
	Streams   *stream.Registry
	Admin     http.Handler
}

// NewServer builds the server.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		address:   cfg.Address,
		port:      cfg.Port,
		producers: cfg.Producers,
		streams:   cfg.Streams,
		admin:     cfg.Admin,
	}
}

// Start begins serving. Non-blocking; errors from the serving goroutines are
// logged.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.address, s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(100*1024*1024),
		grpc.MaxSendMsgSize(100*1024*1024),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    60 * time.Second,
			Timeout: 10 * time.Second,
		}),
	)
	s.server.RegisterService(&serviceDesc, s)

	s.mux = cmux.New(listener)
	grpcListener := s.mux.Match(cmux.HTTP2HeaderField("content-type", "application/grpc"))
	httpListener := s.mux.Match(cmux.Any())

	go func() {
		if err := s.server.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC serving stopped")
		}
	}()
	if s.admin != nil {
		go func() {
			if err := http.Serve(httpListener, s.admin); err != nil {
				log.Error().Err(err).Msg("Admin HTTP serving stopped")
			}
		}()
	}
	go func() {
		if err := s.mux.Serve(); err != nil {
			log.Debug().Err(err).Msg("Connection mux stopped")
		}
	}()

	log.Info().Str("address", addr).Msg("CDC service started")
	return nil
}

// Addr returns the bound listener address, useful when port 0 was
// requested.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.server != nil {
		s.server.GracefulStop()
	}
	if s.listener != nil {
		s.listener.Close()
	}
}

// GetChanges serves one producer request.
func (s *Server) GetChanges(ctx context.Context, req *GetChangesRequest) (*GetChangesResponse, error) {
	meta, ok := s.streams.Get(req.StreamID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "stream %q is not registered", req.StreamID)
	}
	producer, ok := s.producers.ProducerFor(req.TabletID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "tablet %q is not hosted here", req.TabletID)
	}

	var checkpoint cdc.Checkpoint
	if len(req.Checkpoint) > 0 {
		var err error
		if checkpoint, err = cdc.DecodeCheckpoint(req.Checkpoint); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "bad checkpoint: %v", err)
		}
	}

	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}

	resp, err := producer.GetChanges(ctx, &cdc.Request{
		StreamID:            req.StreamID,
		TabletID:            req.TabletID,
		Checkpoint:          checkpoint,
		Deadline:            deadline,
		LastReadableOpIndex: req.LastReadableOpIndex,
	})
	if err != nil && resp == nil {
		return nil, status.Errorf(codes.Internal, "get changes: %v", err)
	}

	meta.TabletState(req.TabletID).RecordPoll(resp.StreamedOpID, hlc.FromUint64(resp.CommitTimestamp))
	if req.LastReadableOpIndex > 0 && resp.StreamedOpID.Valid() {
		telemetry.CDCReplicationLagIndex.With(req.StreamID).
			Set(float64(req.LastReadableOpIndex - resp.StreamedOpID.Index))
	}

	encoded, encodeErr := cdc.EncodeCheckpoint(resp.Checkpoint)
	if encodeErr != nil {
		return nil, status.Errorf(codes.Internal, "encode checkpoint: %v", encodeErr)
	}

	// Terminal failures still return a response: the status rides in the
	// payload so the consumer can distinguish stream-fatal conditions from
	// transport errors.
	return &GetChangesResponse{
		Records:         resp.Records,
		Checkpoint:      encoded,
		StreamedOpID:    resp.StreamedOpID,
		CommitTimestamp: resp.CommitTimestamp,
		TerminalStatus:  string(resp.TerminalStatus),
	}, nil
}

func getChangesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetChangesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).GetChanges(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + ServiceName + "/GetChanges",
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).GetChanges(ctx, req.(*GetChangesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetChanges", Handler: getChangesHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cdc_service",
}
