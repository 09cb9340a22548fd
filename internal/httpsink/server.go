//////////////////////////////////////////////////////////////////////////////
//
// HTTP fan-out of decoded frames
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

// Package httpsink streams buffers to HTTP clients, either as one chunked
// response per client or as binary websocket messages.
package httpsink

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	errors "golang.org/x/xerrors"

	"github.com/lanikai/alohadec/internal/decoder"
	"github.com/lanikai/alohadec/internal/media"
)

// Default number of buffers queued per client before the oldest is dropped.
const DefaultBacklog = 4

type Server struct {
	// Content type of the streamed buffers.
	ContentType string

	// Buffers queued per client.
	Backlog int

	mu      sync.Mutex
	clients map[chan []byte]string
	state   *decoder.OutputState
	dropped uint64

	upgrader websocket.Upgrader
}

func NewServer(contentType string) *Server {
	return &Server{
		ContentType: contentType,
		Backlog:     DefaultBacklog,
		clients:     make(map[chan []byte]string),
	}
}

// Register the stream handlers on a mux:
//	/stream   chunked HTTP response, one buffer after another
//	/ws       websocket, one binary message per buffer
func (s *Server) Register(router *http.ServeMux) {
	router.HandleFunc("/stream", s.handleStream)
	router.HandleFunc("/ws", s.handleWebsocket)
}

// Publish sends p to every connected client. Clients that fall behind lose
// their oldest buffers.
func (s *Server) Publish(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for c, addr := range s.clients {
		select {
		case c <- p:
		default:
			select {
			case <-c:
			default:
			}
			c <- p
			s.dropped++
			log.Trace(2, "Client %s missed a buffer", addr)
		}
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Dropped returns the number of buffers lost by slow clients.
func (s *Server) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// SetOutputState records the frame format, announced to clients in response
// headers.
func (s *Server) SetOutputState(state *decoder.OutputState) error {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	return nil
}

func (s *Server) PushFrame(frame *decoder.DecodedFrame) error {
	s.Publish(frame.Data)
	return nil
}

// Attach publishes every frame of a flow until the flow is closed or ctx is
// done.
func (s *Server) Attach(ctx context.Context, flow *media.Flow) {
	frames := flow.Subscribe(s.backlog())
	go func() {
		defer flow.Unsubscribe(frames)
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-frames:
				if !ok {
					return
				}
				if st := flow.OutputState(); st != nil {
					s.SetOutputState(st)
				}
				s.Publish(f.Data)
			}
		}
	}()
}

func (s *Server) backlog() int {
	if s.Backlog <= 0 {
		return DefaultBacklog
	}
	return s.Backlog
}

func (s *Server) subscribe(addr string) chan []byte {
	c := make(chan []byte, s.backlog())
	s.mu.Lock()
	s.clients[c] = addr
	s.mu.Unlock()
	log.Info("Client %s connected", addr)
	return c
}

func (s *Server) unsubscribe(c chan []byte) {
	s.mu.Lock()
	addr := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	log.Info("Client %s disconnected", addr)
}

func (s *Server) setHeaders(h http.Header) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if s.ContentType != "" {
		h.Set("Content-Type", s.ContentType)
	}
	h.Set("Cache-Control", "no-cache")
	if state != nil {
		h.Set("X-Video-Format", state.PixelFormat.String())
		h.Set("X-Video-Width", strconv.Itoa(state.Width))
		h.Set("X-Video-Height", strconv.Itoa(state.Height))
		h.Set("X-Video-Framerate", state.FrameRate.String())
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	c := s.subscribe(r.RemoteAddr)
	defer s.unsubscribe(c)

	s.setHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case p := <-c:
			if _, err := w.Write(p); err != nil {
				log.Debug("Write to %s: %v", r.RemoteAddr, err)
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	header := http.Header{}
	s.setHeaders(header)
	header.Del("Content-Type")
	header.Del("Cache-Control")

	// Upgrade websocket connection
	ws, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		log.Warn("upgrade: %v", err)
		return
	}
	defer ws.Close()

	c := s.subscribe(r.RemoteAddr)
	defer s.unsubscribe(c)

	// Incoming messages are ignored, but reading detects a closed connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case p := <-c:
			if err := ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
				log.Debug("Write to %s: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}

// ListenAndServe runs an HTTP server on addr until ctx is done.
func ListenAndServe(ctx context.Context, addr string, router http.Handler) error {
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}
	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()

	log.Info("Listening on %s", addr)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return errors.Errorf("http server: %w", err)
}
