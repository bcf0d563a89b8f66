package relay

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/parcelview/realtime-go/pkg/wire"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Dev relay: all origins accepted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS serves the websocket transport endpoint.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newClient(uuid.NewString())
	s.log.Debug("websocket client connected", "conn_id", c.id, "remote", r.RemoteAddr)

	go s.wsWritePump(c, conn)
	s.wsReadLoop(c, conn)
}

// wsReadLoop feeds inbound frames to the protocol core until the socket
// drops, then tears the client down.
func (s *Server) wsReadLoop(c *client, conn *websocket.Conn) {
	defer func() {
		s.dropClient(c)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Debug("websocket client gone", "conn_id", c.id, "err", err)
			return
		}
		env, err := wire.Decode(data)
		if err != nil {
			s.log.Debug("undecodable frame", "conn_id", c.id, "err", err)
			continue
		}
		s.handleEnvelope(c, env)
	}
}

func (s *Server) wsWritePump(c *client, conn *websocket.Conn) {
	for {
		select {
		case <-c.done:
			deadline := time.Now().Add(wsWriteTimeout)
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, deadline)
			return
		case data := <-c.out:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
