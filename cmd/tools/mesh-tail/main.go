// Command mesh-tail connects to a mesh stream and logs every frame.
//
// Usage:
//
//	go run ./cmd/tools/mesh-tail [-addr localhost:50051] [-session 0]
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/banshee-data/scanmesh/internal/visualiser"
)

func main() {
	addr := flag.String("addr", "localhost:50051", "Mesh stream address")
	sessionID := flag.Int("session", 0, "Only show this session id (0 for all)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	defer conn.Close()

	stream, err := visualiser.StreamFrames(ctx, conn, visualiser.StreamRequest{SessionID: *sessionID})
	if err != nil {
		log.Fatalf("Failed to open stream: %v", err)
	}

	for {
		f, err := stream.Recv()
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), status.Code(err) == codes.Canceled:
			log.Printf("Stream closed")
			return
		case visualiser.IsTooManyClients(err):
			log.Fatalf("Server is full: %v", err)
		default:
			log.Fatalf("Stream error: %v", err)
		}
		logFrame(f)
	}
}

func logFrame(f *visualiser.Frame) {
	switch f.Kind {
	case visualiser.FramePatch:
		p := f.Patch
		log.Printf("#%d patch session=%d vertex=%d -> (%.3f, %.3f, %.3f)",
			f.Seq, f.SessionID, p.Index, p.Position.X, p.Position.Y, p.Position.Z)
	case visualiser.FrameSnapshot, visualiser.FrameMesh:
		log.Printf("#%d %s session=%d meshes=%d points=%d", f.Seq, f.Kind, f.SessionID, len(f.Meshes), f.PointCount())
	default:
		log.Printf("#%d %s session=%d index=%d", f.Seq, f.Kind, f.SessionID, f.Index)
	}
}
