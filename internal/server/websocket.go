package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/michaelbrown/kata/internal/archive"
	"github.com/michaelbrown/kata/internal/exercise"
	"github.com/michaelbrown/kata/internal/grading"
	"github.com/michaelbrown/kata/internal/protocol"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsIncoming is a message from the widget.
type wsIncoming struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// wsOutgoing is a message to the widget.
type wsOutgoing struct {
	Type       string                    `json:"type"`
	Content    string                    `json:"content,omitempty"`
	State      string                    `json:"state,omitempty"`
	From       string                    `json:"from,omitempty"`
	Entries    []exercise.OutputEntry    `json:"entries,omitempty"`
	Results    []protocol.TestCaseResult `json:"results,omitempty"`
	Submission *grading.Result           `json:"submission,omitempty"`
	Exercise   *archive.Exercise         `json:"exercise,omitempty"`
	Snapshot   *exercise.Snapshot        `json:"snapshot,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeStoreError(w, "session", err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	as, err := s.sessions.GetOrCreate(r.Context(), sess)
	if err != nil {
		s.wsWriteJSON(conn, wsOutgoing{Type: "error", Content: err.Error()})
		return
	}

	// Subscribing on the session loop means every later callback reaches the
	// client and nothing in the snapshot is sent twice.
	var ch chan wsOutgoing
	snap := as.Session.SnapshotThen(func() { ch = as.subscribe() })
	if ch == nil {
		ch = as.subscribe()
	}
	defer as.unsubscribe(ch)

	s.wsWriteJSON(conn, wsOutgoing{Type: "exercise", Exercise: as.Exercise, Content: as.Editor.Value()})
	s.wsWriteJSON(conn, wsOutgoing{Type: "state", State: snap.State.String(), Snapshot: &snap})

	// Single writer; the read loop below never writes directly.
	go func() {
		for msg := range ch {
			if err := s.wsWriteJSON(conn, msg); err != nil {
				conn.Close()
				return
			}
		}
		// Unsubscribed by the session: drop the client.
		conn.Close()
	}()

	for {
		var msg wsIncoming
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read", zap.String("session", sess.ID), zap.Error(err))
			}
			return
		}
		if !dispatch(as, msg) {
			as.broadcast(wsOutgoing{Type: "error", Content: "unknown message type " + msg.Type})
		}
	}
}

// dispatch forwards a widget action to the session.
func dispatch(as *ActiveSession, msg wsIncoming) bool {
	es := as.Session
	switch msg.Type {
	case "ready":
		as.Editor.SetReady(true)
		es.EditorReady()
	case "edit":
		as.Editor.SetValue(msg.Content)
	case "run":
		es.Run()
	case "test":
		es.Test()
	case "input":
		es.SendInput(msg.Content)
	case "stop":
		es.Stop()
	case "submit":
		es.Submit()
	case "paste":
		es.Paste()
	case "help":
		es.Help()
	case "dismiss":
		es.Dismiss()
	default:
		return false
	}
	return true
}

func (s *Server) wsWriteJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("websocket marshal", zap.Error(err))
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Debug("websocket write", zap.Error(err))
		return err
	}
	return nil
}
