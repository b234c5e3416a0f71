package supervisor

import (
	"context"
	"io"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// watchNotifyGRPC is the optional gRPC-transport variant of the notify
// protocol, for supervised processes that prefer a typed RPC over writing
// raw key=value datagrams at a unix socket. It carries the same message
// vocabulary as watchNotifySocket (ready/watchdog/extend-timeout), over
// google.golang.org/grpc with otelgrpc stats handlers so notify traffic
// shows up alongside this process's other spans.
//
// There is no .proto file here: the service is described by hand using
// google.golang.org/protobuf's pre-built structpb.Struct as the wire
// message, rather than through protoc-generated bindings, since generating
// those requires invoking the protoc toolchain.
func (s *Supervisor) watchNotifyGRPC(ctx context.Context, addr string) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("notify grpc listen failed", "addr", addr, "err", err)
		return
	}
	defer lis.Close()

	server := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	grpc.RegisterService(server, &notifyServiceDesc, &notifyServer{sup: s})

	go func() {
		<-ctx.Done()
		server.Stop()
	}()
	go func() {
		<-s.stop
		server.Stop()
	}()

	if err := server.Serve(lis); err != nil {
		s.log.Debug("notify grpc server stopped", "err", err)
	}
}

// notifyServiceDesc hand-describes a single bidirectional-streaming RPC,
// Notify(stream Struct) returns (stream Struct), carrying the same
// key/value vocabulary parseNotifyDatagram understands over a unix
// datagram.
var notifyServiceDesc = grpc.ServiceDesc{
	ServiceName: "devenv.supervisor.Notify",
	HandlerType: (*notifyServerIface)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Notify",
			Handler:       notifyStreamHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "devenv/supervisor/notify",
}

type notifyServerIface interface {
	Notify(grpc.ServerStream) error
}

type notifyServer struct {
	sup *Supervisor
}

func (n *notifyServer) Notify(stream grpc.ServerStream) error {
	for {
		msg := &structpb.Struct{}
		if err := stream.RecvMsg(msg); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		for key, val := range msg.GetFields() {
			n.sup.emit(eventFromNotifyField(key, val))
		}
	}
}

func notifyStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(notifyServerIface).Notify(stream)
}

func eventFromNotifyField(key string, val *structpb.Value) Event {
	switch key {
	case "ready":
		return Event{Kind: EventReady}
	case "watchdog_trigger":
		return Event{Kind: EventWatchdogTrigger}
	case "watchdog":
		return Event{Kind: EventWatchdogPing}
	case "extend_timeout_usec":
		return Event{Kind: EventExtendTimeout, ExtendTimeout: time.Duration(val.GetNumberValue()) * time.Microsecond}
	default:
		return Event{Kind: EventWatchdogPing}
	}
}
