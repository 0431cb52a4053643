package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"peoplewatch/internal/pipeline"
)

// MJPEGServer publishes annotated frames to HTTP clients as a
// multipart/x-mixed-replace stream. Slow clients miss frames.
type MJPEGServer struct {
	annotator *Annotator
	logger    *slog.Logger

	clients   map[chan []byte]bool
	clientsMu sync.RWMutex

	latest   *pipeline.FrameResult
	latestMu sync.RWMutex

	served  atomic.Uint64
	skipped atomic.Uint64
	closed  bool
}

// NewMJPEGServer creates a server that annotates with annotator
func NewMJPEGServer(annotator *Annotator, logger *slog.Logger) *MJPEGServer {
	if annotator == nil {
		annotator = NewAnnotator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MJPEGServer{
		annotator: annotator,
		logger:    logger.With("component", "mjpeg"),
		clients:   make(map[chan []byte]bool),
	}
}

// OnFrameResult implements pipeline.ResultHandler. Frames are only
// encoded while at least one client is connected.
func (s *MJPEGServer) OnFrameResult(result *pipeline.FrameResult) {
	if result == nil || result.Frame == nil {
		return
	}

	s.latestMu.Lock()
	s.latest = result
	s.latestMu.Unlock()

	if s.ClientCount() == 0 {
		return
	}

	frame, err := s.annotator.Encode(result)
	if err != nil || frame == nil {
		s.logger.Warn("failed to encode frame", "frame", result.FrameCount, "error", err)
		return
	}

	s.clientsMu.RLock()
	for ch := range s.clients {
		select {
		case ch <- frame:
			s.served.Add(1)
		default:
			s.skipped.Add(1)
		}
	}
	s.clientsMu.RUnlock()
}

// Snapshot returns the latest frame, annotated
func (s *MJPEGServer) Snapshot() ([]byte, error) {
	s.latestMu.RLock()
	latest := s.latest
	s.latestMu.RUnlock()

	if latest == nil {
		return nil, nil
	}
	return s.annotator.Encode(latest)
}

// ClientCount returns the number of connected stream clients
func (s *MJPEGServer) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// Stats returns frames delivered and frames skipped for slow clients
func (s *MJPEGServer) Stats() (served, skipped uint64) {
	return s.served.Load(), s.skipped.Load()
}

// Close disconnects every client
func (s *MJPEGServer) Close() {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.closed = true
	for ch := range s.clients {
		close(ch)
		delete(s.clients, ch)
	}
}

func (s *MJPEGServer) subscribe() (chan []byte, bool) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.closed {
		return nil, false
	}
	ch := make(chan []byte, 5)
	s.clients[ch] = true
	return ch, true
}

func (s *MJPEGServer) unsubscribe(ch chan []byte) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if s.clients[ch] {
		delete(s.clients, ch)
		close(ch)
	}
}

// ServeHTTP streams frames until the client goes away or the server closes
func (s *MJPEGServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	clientCh, ok := s.subscribe()
	if !ok {
		http.Error(w, "Stream closed", http.StatusServiceUnavailable)
		return
	}
	defer s.unsubscribe(clientCh)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Info("client connected", "remote", r.RemoteAddr)
	defer s.logger.Info("client disconnected", "remote", r.RemoteAddr)

	for {
		select {
		case <-r.Context().Done():
			return
		case frame, ok := <-clientCh:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
				return
			}
			if _, err := w.Write(frame); err != nil {
				return
			}
			fmt.Fprint(w, "\r\n")
			flusher.Flush()
		}
	}
}

// SnapshotHandler serves the latest annotated frame as a single JPEG
type SnapshotHandler struct {
	server *MJPEGServer
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(server *MJPEGServer) *SnapshotHandler {
	return &SnapshotHandler{server: server}
}

func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	frame, err := h.server.Snapshot()
	if err != nil {
		http.Error(w, "Failed to encode frame", http.StatusInternalServerError)
		return
	}
	if frame == nil {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame)))
	w.Write(frame)
}

var _ pipeline.ResultHandler = (*MJPEGServer)(nil)
