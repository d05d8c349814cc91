package visualiser

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"

	"github.com/banshee-data/scanmesh/internal/monitoring"
	"github.com/banshee-data/scanmesh/internal/scan/session"
	"github.com/banshee-data/scanmesh/internal/timeutil"
)

var logf = monitoring.Component("Visualiser")

var (
	// ErrAlreadyRunning is returned by Start and Serve on a running publisher.
	ErrAlreadyRunning = errors.New("publisher already running")
	// ErrTooManyClients is returned to a stream beyond Config.MaxClients.
	ErrTooManyClients = errors.New("too many visualiser clients")
)

const frameQueueSize = 100

// Config controls the mesh stream server.
type Config struct {
	// ListenAddr is the address Start listens on.
	ListenAddr string
	// MaxClients caps concurrent streams.
	MaxClients int
	// ClientBuffer is the per-client frame queue; a full queue drops frames
	// for that client only.
	ClientBuffer int
	// Clock stamps frames; nil uses the system clock.
	Clock timeutil.Clock
}

// DefaultConfig serves five local clients on port 50051.
func DefaultConfig() Config {
	return Config{
		ListenAddr:   "localhost:50051",
		MaxClients:   5,
		ClientBuffer: 32,
	}
}

// SnapshotFunc returns a detached copy of every session. It is called once
// per connecting client.
type SnapshotFunc func(ctx context.Context) ([]session.SessionMesh, error)

// Publisher fans frames out to connected streams.
type Publisher struct {
	config   Config
	snapshot SnapshotFunc
	server   *grpc.Server
	listener net.Listener

	frameChan chan *Frame
	clients   map[string]*clientStream
	clientsMu sync.RWMutex
	nextID    atomic.Uint64

	seq           atomic.Uint64
	frameCount    atomic.Uint64
	droppedFrames atomic.Uint64
	clientCount   atomic.Int32

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type clientStream struct {
	id        string
	sessionID int
	frameCh   chan *Frame
}

// NewPublisher creates a publisher. snapshot may be nil, in which case new
// clients start with an empty snapshot.
func NewPublisher(cfg Config, snapshot SnapshotFunc) *Publisher {
	def := DefaultConfig()
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = def.MaxClients
	}
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = def.ClientBuffer
	}
	if snapshot == nil {
		snapshot = func(context.Context) ([]session.SessionMesh, error) { return nil, nil }
	}
	cfg.Clock = timeutil.OrReal(cfg.Clock)
	return &Publisher{
		config:    cfg,
		snapshot:  snapshot,
		frameChan: make(chan *Frame, frameQueueSize),
		clients:   make(map[string]*clientStream),
		stopCh:    make(chan struct{}),
	}
}

// Start listens on Config.ListenAddr and serves in the background.
func (p *Publisher) Start() error {
	if p.running.Load() {
		return ErrAlreadyRunning
	}
	lis, err := net.Listen("tcp", p.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return p.Serve(lis)
}

// Serve registers the stream service and serves lis in the background.
func (p *Publisher) Serve(lis net.Listener) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	p.listener = lis
	const maxMsgSize = 16 * 1024 * 1024
	p.server = grpc.NewServer(grpc.MaxSendMsgSize(maxMsgSize))
	p.server.RegisterService(&serviceDesc, &server{publisher: p})

	p.wg.Add(2)
	go p.broadcastLoop()
	go func() {
		defer p.wg.Done()
		logf("gRPC server listening on %s", lis.Addr())
		if err := p.server.Serve(lis); err != nil && p.running.Load() {
			logf("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Stop ends every stream and waits for the server to exit.
func (p *Publisher) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.server.Stop()
	p.wg.Wait()
	logf("gRPC server stopped")
}

// OnEvent is a session.Listener. It never blocks the registry owner.
func (p *Publisher) OnEvent(ev session.Event) {
	if f := FrameFromEvent(ev); f != nil {
		p.Publish(f)
	}
}

// Publish queues f for every client, dropping it when the queue is full.
// A zero Timestamp is stamped from Config.Clock.
func (p *Publisher) Publish(f *Frame) {
	if !p.running.Load() || f == nil {
		return
	}
	f.Seq = p.seq.Add(1)
	if f.Timestamp.IsZero() {
		f.Timestamp = p.config.Clock.Now()
	}
	select {
	case p.frameChan <- f:
		p.frameCount.Add(1)
	default:
		dropped := p.droppedFrames.Add(1)
		if dropped == 1 || dropped%100 == 0 {
			logf("dropped frame %d (total dropped: %d), queue full", f.Seq, dropped)
		}
	}
}

func (p *Publisher) broadcastLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case f := <-p.frameChan:
			p.clientsMu.RLock()
			for _, c := range p.clients {
				out := f.forSession(c.sessionID)
				if out == nil {
					continue
				}
				select {
				case c.frameCh <- out:
				default:
					p.droppedFrames.Add(1)
				}
			}
			p.clientsMu.RUnlock()
		}
	}
}

func (p *Publisher) addClient(sessionID int) (*clientStream, error) {
	p.clientsMu.Lock()
	defer p.clientsMu.Unlock()
	if len(p.clients) >= p.config.MaxClients {
		return nil, ErrTooManyClients
	}
	c := &clientStream{
		id:        fmt.Sprintf("client-%d", p.nextID.Add(1)),
		sessionID: sessionID,
		frameCh:   make(chan *Frame, p.config.ClientBuffer),
	}
	p.clients[c.id] = c
	n := p.clientCount.Add(1)
	logf("client connected: %s (total: %d)", c.id, n)
	return c, nil
}

func (p *Publisher) removeClient(id string) {
	p.clientsMu.Lock()
	_, ok := p.clients[id]
	delete(p.clients, id)
	p.clientsMu.Unlock()
	if ok {
		n := p.clientCount.Add(-1)
		logf("client disconnected: %s (remaining: %d)", id, n)
	}
}

// snapshotFrame builds the frame a client receives on connect.
func (p *Publisher) snapshotFrame(ctx context.Context) (*Frame, error) {
	views, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Seq:       p.seq.Load(),
		Kind:      FrameSnapshot,
		Timestamp: p.config.Clock.Now(),
		Meshes:    views,
	}, nil
}

// PublisherStats counts stream clients and frames.
type PublisherStats struct {
	FrameCount    uint64 `json:"frame_count"`
	DroppedFrames uint64 `json:"dropped_frames"`
	ClientCount   int32  `json:"client_count"`
	Running       bool   `json:"running"`
}

// Stats is safe to call while frames are being published.
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		FrameCount:    p.frameCount.Load(),
		DroppedFrames: p.droppedFrames.Load(),
		ClientCount:   p.clientCount.Load(),
		Running:       p.running.Load(),
	}
}
