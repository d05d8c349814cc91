package visualiser

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "scanmesh.visualiser.v1.MeshStream"

const streamFramesMethod = "/" + ServiceName + "/StreamFrames"

// meshStreamServer is the server side of the service. Requests and frames
// travel as google.protobuf.Struct so no generated code is needed.
type meshStreamServer interface {
	StreamFrames(req *structpb.Struct, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*meshStreamServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "StreamFrames",
		Handler:       streamFramesHandler,
		ServerStreams: true,
	}},
	Metadata: "scanmesh/visualiser.proto",
}

func streamFramesHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(meshStreamServer).StreamFrames(req, stream)
}

var _ meshStreamServer = (*server)(nil)

type server struct {
	publisher *Publisher
}

// StreamFrames sends a snapshot and then every published frame until the
// client goes away or the publisher stops.
func (s *server) StreamFrames(req *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	sessionID := int(req.GetFields()["session_id"].GetNumberValue())

	client, err := s.publisher.addClient(sessionID)
	if err != nil {
		return status.Error(codes.ResourceExhausted, err.Error())
	}
	defer s.publisher.removeClient(client.id)

	snap, err := s.publisher.snapshotFrame(ctx)
	if err != nil {
		return status.Errorf(codes.Unavailable, "snapshot: %v", err)
	}
	if err := stream.SendMsg(frameToStruct(snap.forSession(sessionID))); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.publisher.stopCh:
			return nil
		case f := <-client.frameCh:
			if err := stream.SendMsg(frameToStruct(f)); err != nil {
				logf("send to %s failed: %v", client.id, err)
				return err
			}
		}
	}
}

// StreamRequest selects what a client receives.
type StreamRequest struct {
	// SessionID limits the stream to one session; zero means all.
	SessionID int
}

func (r StreamRequest) toStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"session_id": structpb.NewNumberValue(float64(r.SessionID)),
	}}
}

// FrameStream is the client side of StreamFrames.
type FrameStream struct {
	cs grpc.ClientStream
}

// StreamFrames opens a stream on cc.
func StreamFrames(ctx context.Context, cc grpc.ClientConnInterface, req StreamRequest) (*FrameStream, error) {
	cs, err := cc.NewStream(ctx, &serviceDesc.Streams[0], streamFramesMethod)
	if err != nil {
		return nil, err
	}
	if err := cs.SendMsg(req.toStruct()); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return &FrameStream{cs: cs}, nil
}

// Recv blocks for the next frame.
func (s *FrameStream) Recv() (*Frame, error) {
	msg := new(structpb.Struct)
	if err := s.cs.RecvMsg(msg); err != nil {
		return nil, err
	}
	return FrameFromStruct(msg)
}

// IsTooManyClients reports whether err is the server refusing a stream
// because Config.MaxClients is reached.
func IsTooManyClients(err error) bool {
	if errors.Is(err, ErrTooManyClients) {
		return true
	}
	return status.Code(err) == codes.ResourceExhausted
}
