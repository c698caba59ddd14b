package wsproto

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// upgrader permits cross-origin connections; the node sits behind a
// gateway/reverse proxy that owns origin policy (spec §6.2 non-goals this
// component out of CORS enforcement).
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsSender adapts *websocket.Conn to Sender, serializing writes since
// gorilla/websocket forbids concurrent writers on one connection.
type wsSender struct {
	mu   chan struct{}
	conn *websocket.Conn
}

func newWsSender(conn *websocket.Conn) *wsSender {
	s := &wsSender{mu: make(chan struct{}, 1), conn: conn}
	s.mu <- struct{}{}
	return s
}

func (s *wsSender) Send(v interface{}) error {
	<-s.mu
	defer func() { s.mu <- struct{}{} }()
	return s.conn.WriteJSON(v)
}

// ServeHTTP upgrades the connection and runs the session's read loop until
// the client disconnects or a handler returns an error. A `close` message
// settles and removes the session but leaves the connection open. Grounded
// in the teacher's
// core/connection_pool.go: one goroutine owns one connection end to end.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.WithError(err).Warn("wsproto: upgrade failed")
		return
	}
	defer conn.Close()

	sender := newWsSender(conn)
	ctx := req.Context()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		handlerCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		err = r.Handle(handlerCtx, sender, raw)
		cancel()
		if err != nil {
			log.WithError(err).Warn("wsproto: unrecoverable session error, closing connection")
			return
		}
	}
}
