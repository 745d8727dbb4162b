package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pmboard/internal/board"
	"pmboard/internal/broadcast"
)

const (
	transportSSE       = "sse"
	transportWebSocket = "websocket"
)

// heartbeatFrame is pushed when a tick finds no new snapshot.
type heartbeatFrame struct {
	TS        string    `json:"ts"`
	FetchedAt time.Time `json:"fetchedAt"`
}

func newHeartbeat(msg broadcast.Message) heartbeatFrame {
	hb := heartbeatFrame{TS: msg.At.UTC().Format("2006-01-02T15:04:05Z")}
	if msg.Snapshot != nil {
		hb.FetchedAt = msg.Snapshot.FetchedAt.UTC()
	}
	return hb
}

// sseSubscriber writes server-sent events to one HTTP response.
type sseSubscriber struct {
	id   string
	view board.View
	ttl  time.Duration
	w    http.ResponseWriter
	rc   *http.ResponseController
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func newSSESubscriber(w http.ResponseWriter, view board.View, ttl time.Duration) *sseSubscriber {
	return &sseSubscriber{
		id:   uuid.NewString(),
		view: view,
		ttl:  ttl,
		w:    w,
		rc:   http.NewResponseController(w),
		done: make(chan struct{}),
	}
}

func (s *sseSubscriber) ID() string        { return s.id }
func (s *sseSubscriber) Transport() string { return transportSSE }

func (s *sseSubscriber) Send(ctx context.Context, msg broadcast.Message) error {
	frame, err := s.encode(msg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return broadcast.ErrSubscriberClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := s.rc.SetWriteDeadline(deadline); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		defer s.rc.SetWriteDeadline(time.Time{})
	}

	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// encode renders one SSE frame. Snapshots go out as unnamed events so plain
// EventSource onmessage handlers receive them; heartbeats are named.
func (s *sseSubscriber) encode(msg broadcast.Message) ([]byte, error) {
	var buf bytes.Buffer
	switch msg.Kind {
	case broadcast.KindHeartbeat:
		data, err := json.Marshal(newHeartbeat(msg))
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "event: heartbeat\ndata: %s\n\n", data)
	default:
		data, err := json.Marshal(board.NewPayload(msg.Snapshot, s.view, s.ttl, msg.At))
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&buf, "id: %d\ndata: %s\n\n", msg.Snapshot.FetchedAt.Unix(), data)
	}
	return buf.Bytes(), nil
}

// Close waits for any in-flight Send, then marks the subscriber done.
func (s *sseSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// wsFrame is the WebSocket message envelope.
type wsFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// wsSubscriber pushes JSON frames over a gorilla connection.
type wsSubscriber struct {
	id   string
	view board.View
	ttl  time.Duration
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func newWSSubscriber(conn *websocket.Conn, view board.View, ttl time.Duration) *wsSubscriber {
	return &wsSubscriber{id: uuid.NewString(), view: view, ttl: ttl, conn: conn}
}

func (s *wsSubscriber) ID() string        { return s.id }
func (s *wsSubscriber) Transport() string { return transportWebSocket }

func (s *wsSubscriber) Send(ctx context.Context, msg broadcast.Message) error {
	frame := wsFrame{Type: string(msg.Kind)}
	if msg.Kind == broadcast.KindHeartbeat {
		frame.Data = newHeartbeat(msg)
	} else {
		frame.Data = board.NewPayload(msg.Snapshot, s.view, s.ttl, msg.At)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return broadcast.ErrSubscriberClosed
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.conn.WriteJSON(frame)
}

func (s *wsSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}
