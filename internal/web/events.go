package web

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/phantompen/pen/internal/errors"
	"github.com/phantompen/pen/internal/logging"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts requests without an Origin header (non-browser
// clients) and browser requests whose origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}

// HandleEvents handles GET /api/events, streaming the caller's events over a
// websocket until either side disconnects.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	subject := caller(r)
	if subject == "" {
		renderError(w, errors.NewNotAuthenticated())
		return
	}
	if h.hub == nil {
		renderError(w, errors.NewInternal(nil))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		return
	}
	defer conn.Close()

	log := h.log.WithFields(logrus.Fields{
		logging.FieldUserID:    subject,
		logging.FieldRequestID: RequestID(r.Context()),
	})
	stream, cancel := h.hub.Subscribe(subject)
	defer cancel()
	log.Debug("event stream opened")

	// The read loop only services control frames; it ends when the client goes away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.WithError(err).Debug("event stream read error")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-stream:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			log.Debug("event stream closed")
			return
		case <-r.Context().Done():
			return
		}
	}
}
