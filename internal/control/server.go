// Package control implements the Control Plane: a second Unix domain
// socket exposing a JSON command/event protocol for external tooling —
// status queries, AFK toggling, queue management, and a "subscribe"
// command that holds the connection open for a streamed event tail.
package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
)

// Handler implements the daemon-side effect of each command. It is
// implemented by internal/afk.Manager.
type Handler interface {
	Status() StatusResponse
	ToggleAFK() error
	Deactivate() error
	Skip() error
	Flush() (int, error)
	Shutdown()
}

// Server listens on a Unix domain socket and serves the control-plane
// protocol, fanning "subscribe" events out through hub.
type Server struct {
	path     string
	listener net.Listener
	handler  Handler
	hub      *EventHub
}

// NewServer binds a Unix domain socket at path, owner-only (0600).
func NewServer(path string, handler Handler, hub *EventHub) (*Server, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("control: remove stale socket: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("control: create socket dir: %w", err)
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("control: listen: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		l.Close()
		return nil, fmt.Errorf("control: chmod socket: %w", err)
	}
	return &Server{path: path, listener: l, handler: handler, hub: hub}, nil
}

// Serve accepts connections until the listener is closed by Close.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("control: accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	r := bufio.NewReader(conn)
	line, err := r.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		conn.Close()
		return
	}

	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		log.Printf("afkd: control: malformed command: %v", err)
		conn.Close()
		return
	}

	resp := s.dispatch(cmd)

	enc := json.NewEncoder(conn)
	if err := enc.Encode(resp); err != nil {
		log.Printf("afkd: control: write response: %v", err)
		conn.Close()
		return
	}

	if cmd.Cmd != "subscribe" {
		conn.Close()
		return
	}

	// subscribe: hold the connection open and stream events until the
	// client disconnects.
	ch, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()
	defer conn.Close()

	for payload := range ch {
		if _, err := conn.Write(append(payload, '\n')); err != nil {
			return
		}
	}
}

func (s *Server) dispatch(cmd Command) any {
	switch cmd.Cmd {
	case "status":
		return s.handler.Status()
	case "toggle_afk":
		if err := s.handler.ToggleAFK(); err != nil {
			return ErrorResponse{Error: err.Error()}
		}
		return OKResponse{OK: true}
	case "deactivate":
		if err := s.handler.Deactivate(); err != nil {
			return ErrorResponse{Error: err.Error()}
		}
		return OKResponse{OK: true}
	case "skip":
		if err := s.handler.Skip(); err != nil {
			return ErrorResponse{Error: err.Error()}
		}
		return OKResponse{OK: true}
	case "flush":
		n, err := s.handler.Flush()
		if err != nil {
			return ErrorResponse{Error: err.Error()}
		}
		return struct {
			OK      bool `json:"ok"`
			Flushed int  `json:"flushed"`
		}{true, n}
	case "stop":
		go s.handler.Shutdown()
		return OKResponse{OK: true}
	case "subscribe":
		return SubscribedResponse{Subscribed: true}
	default:
		return ErrorResponse{Error: fmt.Sprintf("unknown command: %s", cmd.Cmd)}
	}
}

// Close shuts down the listener and removes the socket file.
func (s *Server) Close() error {
	err := s.listener.Close()
	os.Remove(s.path)
	return err
}
