package server

import (
	"encoding/json"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// handleEvents streams a client's events as server-sent events. The stream
// stays open until the client disconnects; reconnecting under the same id
// replaces the previous stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "missing client parameter")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	c := s.hub.Register(clientID)
	defer s.hub.RemoveClient(c)
	for {
		select {
		case <-c.Done():
			// Replaced by a reconnect under the same id.
			return
		case ev := <-c.Events():
			body, err := json.Marshal(ev)
			if err != nil {
				log.WithError(err).Warn("event marshal failed")
				continue
			}
			if _, err := io.WriteString(w, "data: "+string(body)+"\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

const maxControlMessage = 64 * 1024

// handleMessage accepts one inbound control message (download_request or
// cancel) and hands it to the hub's dispatcher.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	clientID := r.URL.Query().Get("client")
	if clientID == "" {
		writeError(w, http.StatusBadRequest, "missing client parameter")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxControlMessage))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	s.hub.Dispatch(clientID, raw)
	w.WriteHeader(http.StatusAccepted)
}
