// Package server exposes the read-only query surface: metadata lookups,
// tool versions, download history, and the finished files themselves.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/gogf/greuse"
	log "github.com/sirupsen/logrus"

	"github.com/fumino17/Media_Grab/config"
	"github.com/fumino17/Media_Grab/events"
	"github.com/fumino17/Media_Grab/history"
	"github.com/fumino17/Media_Grab/mcache"
	"github.com/fumino17/Media_Grab/toolver"
)

type MetadataSource interface {
	Metadata(ctx context.Context, mediaRef string) (*mcache.Entry, error)
}

type HistorySource interface {
	Recent(n int) []history.Record
}

type VersionSource interface {
	All(ctx context.Context) []toolver.Info
	Latest(ctx context.Context) (string, error)
	Update(ctx context.Context) (toolver.UpdateResult, error)
}

type Server struct {
	cfg  *config.MainConfig
	hub  *events.Hub
	meta MetadataSource
	hist HistorySource
	ver  VersionSource
	mux  *http.ServeMux
}

func New(cfg *config.MainConfig, hub *events.Hub, meta MetadataSource, hist HistorySource, ver VersionSource) *Server {
	s := &Server{cfg: cfg, hub: hub, meta: meta, hist: hist, ver: ver, mux: http.NewServeMux()}
	s.mux.HandleFunc("/api/events", s.handleEvents)
	s.mux.HandleFunc("/api/message", s.handleMessage)
	s.mux.HandleFunc("/api/info", s.handleInfo)
	s.mux.HandleFunc("/api/versions", s.handleVersions)
	s.mux.HandleFunc("/api/update", s.handleUpdate)
	s.mux.HandleFunc("/api/history", s.handleHistory)
	s.mux.Handle("/downloads/", http.StripPrefix("/downloads/",
		http.FileServer(http.Dir(cfg.DownloadDir))))
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Start listens on the configured port and serves until the listener dies.
// The reuse listener lets a restarted daemon rebind without TIME_WAIT pain.
func (s *Server) Start() error {
	ln, err := greuse.Listen("tcp", ":"+s.cfg.HTTPPort)
	if err != nil {
		return err
	}
	log.WithField("addr", ln.Addr().String()).Info("query surface listening")
	return http.Serve(ln, s.mux)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		writeError(w, http.StatusBadRequest, "missing url parameter")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	entry, err := s.meta.Metadata(ctx, rawURL)
	if err != nil {
		log.WithError(err).WithField("url", rawURL).Warn("info lookup failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	js := simplejson.New()
	js.Set("title", entry.Title)
	js.Set("thumbnail", entry.Thumbnail)
	js.Set("qualities", entry.Qualities)
	writeJSON(w, http.StatusOK, js)
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	js := simplejson.New()
	js.Set("tools", s.ver.All(ctx))
	// Latest is advisory; a flaky feed must not break the endpoint.
	if tag, err := s.ver.Latest(ctx); err == nil {
		js.Set("latest", tag)
	} else {
		log.WithError(err).Debug("release feed unavailable")
	}
	writeJSON(w, http.StatusOK, js)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	res, err := s.ver.Update(ctx)
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	js := simplejson.New()
	js.Set("updated", res.Updated)
	js.Set("oldVersion", res.OldVersion)
	js.Set("newVersion", res.NewVersion)
	js.Set("output", res.Output)
	writeJSON(w, http.StatusOK, js)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	js := simplejson.New()
	js.Set("items", s.hist.Recent(limit))
	writeJSON(w, http.StatusOK, js)
}

func writeJSON(w http.ResponseWriter, status int, js *simplejson.Json) {
	body, err := js.MarshalJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	js := simplejson.New()
	js.Set("error", msg)
	writeJSON(w, status, js)
}
