package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/hlog"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamSession pushes a snapshot on connect and after every change, and closes the socket
// once the session is terminal or ends
func (s *Server) StreamSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	updates, unsubscribe, err := s.Runner.Subscribe(id)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	log := hlog.FromRequest(r).With().Str("session", id).Logger()

	// reads only to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		snap, err := s.Runner.GetSnapshot(id)
		if err != nil {
			closeWith(conn, websocket.CloseGoingAway, "session ended")
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(snap); err != nil {
			log.Debug().Err(err).Msg("client write failed")
			return
		}
		if snap.Status.Terminal() {
			closeWith(conn, websocket.CloseNormalClosure, string(snap.Status))
			return
		}
		select {
		case _, ok := <-updates:
			if !ok {
				closeWith(conn, websocket.CloseGoingAway, "session ended")
				return
			}
		case <-gone:
			return
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}
