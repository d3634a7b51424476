package transporthttp

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"example.com/guestlist/internal/notify"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Watch is public and read-only; it carries only the public guest view.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWatch streams a list's events over a websocket. The first frame is
// a snapshot of the counts so a reconnecting client can resync; events
// missed while disconnected are not replayed.
func (d *ServerDeps) HandleWatch(w http.ResponseWriter, r *http.Request) {
	listID := r.PathValue("id")
	if _, err := d.Service.GetList(r.Context(), listID); err != nil {
		writeError(w, r, err, http.StatusGone)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer conn.Close()
	log := zerolog.Ctx(r.Context()).With().Str("list_id", listID).Logger()

	sub := d.Hub.Subscribe(listID)
	defer sub.Close()
	log.Debug().Int("watchers", d.Hub.Subscribers(listID)).Msg("watch opened")

	// Snapshot after subscribing so no change falls between the two.
	stats, err := d.Service.Stats(r.Context(), listID)
	if err != nil {
		log.Warn().Err(err).Msg("watch snapshot failed")
		return
	}
	counts := stats.Counts
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(notify.Event{Type: notify.EventSnapshot, ListID: listID, At: d.Now().UTC(), Counts: &counts}); err != nil {
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("watch write failed")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
