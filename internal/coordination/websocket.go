package coordination

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"cogmem/internal/wire"
)

// upgrader allows all origins, matching the teacher's proof-of-concept
// posture; spec.md §1 leaves auth/TLS to the deployment environment.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a *websocket.Conn to the Conn interface. Writes are
// serialized with a mutex since the actor may call Send from its own
// goroutine while the read loop runs concurrently on another.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsConn) Send(env wire.Envelope) error {
	data, err := wire.Encode(env)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}

func (w *wsConn) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

// ServeWS upgrades r to a websocket, registers it with s, and runs its
// read loop until the peer disconnects. Intended to be wired as an
// http.HandlerFunc by cmd/cogmemd.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("coordination: websocket upgrade failed")
		return
	}
	c := &wsConn{conn: raw}
	connID := s.Accept(c)

	defer s.Disconnected(connID)
	for {
		_, data, err := raw.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("coordination: websocket read error")
			}
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			log.Debug().Err(err).Msg("coordination: dropping malformed envelope")
			continue
		}
		s.Dispatch(connID, env)
	}
}
