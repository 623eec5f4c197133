// Package server exposes editor sessions over HTTP. Each browser gets its
// own session, identified by a cookie.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/debemdeboas/the-calendar/internal/cache"
	"github.com/debemdeboas/the-calendar/internal/config"
	"github.com/debemdeboas/the-calendar/internal/export"
	"github.com/debemdeboas/the-calendar/internal/repository"
	"github.com/debemdeboas/the-calendar/internal/sse"
	"github.com/debemdeboas/the-calendar/internal/util"
	"github.com/rs/zerolog"
)

var serverLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	serverLogger = l
}

//go:embed static/* templates/*
var content embed.FS

const (
	templatesDir = "templates"
	staticDir    = "static"

	templateLayout = "layout.html"
	templateEditor = "editor.html"
)

// Route paths.
const (
	PathIndex         = "/{$}"
	PathSlot          = "/slot"
	PathSave          = "/save"
	PathDelete        = "/delete"
	PathReload        = "/reload"
	PathPreview       = "/preview"
	PathExportCurrent = "/export/current"
	PathExportAll     = "/export/all"
	PathSyntaxCSS     = "/syntax.css"
	PathEvents        = "/events"
	PathHealth        = "/healthz"
	PathStatic        = "/static/"
)

type Server struct {
	cfg  *config.Config
	repo repository.TextRepository
	sink export.Sink

	sessions *cache.Cache[string, *browserSession]
	clients  *sse.SSEClients

	tmpl   *template.Template
	static fs.FS

	now func() time.Time
}

func New(cfg *config.Config, repo repository.TextRepository, sink export.Sink) (*Server, error) {
	static, err := fs.Sub(content, staticDir)
	if err != nil {
		return nil, fmt.Errorf("error opening static files: %w", err)
	}
	if err := hashStatic(static); err != nil {
		return nil, err
	}

	tmpl, err := template.New(templateLayout).
		Funcs(template.FuncMap{"static": staticURL}).
		ParseFS(content, templatesDir+"/"+templateLayout, templatesDir+"/"+templateEditor)
	if err != nil {
		return nil, fmt.Errorf("error parsing templates: %w", err)
	}

	return &Server{
		cfg:      cfg,
		repo:     repo,
		sink:     sink,
		sessions: cache.NewCache[string, *browserSession](),
		clients:  sse.NewSSEClients(),
		tmpl:     tmpl,
		static:   static,
		now:      time.Now,
	}, nil
}

func hashStatic(static fs.FS) error {
	return fs.WalkDir(static, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := fs.ReadFile(static, path)
		if err != nil {
			return fmt.Errorf("error reading static file %s: %w", path, err)
		}
		cache.SetStaticHash(path, util.ContentHash(data))
		return nil
	})
}

func staticURL(name string) string {
	hash, _ := cache.GetStaticHash(name)
	if len(hash) > 12 {
		hash = hash[:12]
	}
	return PathStatic + name + "?v=" + hash
}

// Handler returns the routes wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+PathIndex, s.serveIndex)
	mux.HandleFunc("POST "+PathSlot, s.limited(s.serveSelectSlot))
	mux.HandleFunc("POST "+PathSave, s.limited(s.serveSave))
	mux.HandleFunc("POST "+PathDelete, s.limited(s.serveDelete))
	mux.HandleFunc("POST "+PathReload, s.limited(s.serveReload))
	mux.HandleFunc("POST "+PathPreview, s.limited(s.servePreview))
	mux.HandleFunc("GET "+PathExportCurrent, s.serveExportCurrent)
	mux.HandleFunc("GET "+PathExportAll, s.serveExportList)
	mux.HandleFunc("POST "+PathExportAll, s.limited(s.serveExportWrite))
	mux.HandleFunc("GET "+PathSyntaxCSS, s.serveSyntaxCSS)
	mux.HandleFunc("GET "+PathEvents, s.serveEvents)
	mux.HandleFunc("GET "+PathHealth, s.serveHealth)
	mux.Handle("GET "+PathStatic, http.StripPrefix(PathStatic, s.staticHandler()))

	return withRequestLogger(mux)
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.sweepSessions(ctx)

	errs := make(chan error, 1)
	go func() {
		serverLogger.Info().Str("addr", addr).Msg("Listening")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	serverLogger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// withRequestLogger attaches a request scoped logger to the context and
// logs every completed request.
func withRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := serverLogger.With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(l.WithContext(r.Context())))

		l.Debug().
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request served")
	})
}

func (s *Server) staticHandler() http.Handler {
	files := http.FileServer(http.FS(s.static))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hash, ok := cache.GetStaticHash(r.URL.Path); ok {
			w.Header().Set(config.HETag, `"`+hash+`"`)
			w.Header().Set(config.HCacheControl, "public, max-age=86400")
		}
		files.ServeHTTP(w, r)
	})
}
