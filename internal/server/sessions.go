package server

import (
	"cmp"
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/debemdeboas/the-calendar/internal/config"
	"github.com/debemdeboas/the-calendar/internal/model"
	"github.com/debemdeboas/the-calendar/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// browserSession is the server side state of one browser.
type browserSession struct {
	id      string
	editor  *session.EditorSession
	limiter *rate.Limiter
	loaded  atomic.Bool

	// Unix nanoseconds of the last request.
	lastSeen atomic.Int64

	mu    sync.Mutex
	flash []string
}

func (b *browserSession) addFlash(msg string) {
	b.mu.Lock()
	b.flash = append(b.flash, msg)
	b.mu.Unlock()
}

// takeFlash returns the pending notices and clears them.
func (b *browserSession) takeFlash() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.flash
	b.flash = nil
	return msgs
}

func (b *browserSession) touch(now time.Time) {
	b.lastSeen.Store(now.UnixNano())
}

func (s *Server) newBrowserSession(id string) *browserSession {
	log := serverLogger.With().Str("session", id).Logger()
	bs := &browserSession{
		id: id,
		editor: session.New(s.repo,
			session.WithSaveStrategy(s.cfg.Editor.SaveStrategy),
			session.WithLogger(log),
			session.WithChangeNotifier(func(slot model.Slot) {
				go s.clients.Broadcast(id, slot)
			}),
		),
		limiter: rate.NewLimiter(rate.Limit(s.cfg.Server.RateLimit), s.cfg.Server.RateBurst),
	}
	bs.touch(s.now())
	return bs
}

// sessionFor returns the session named by the request cookie, creating a
// session and cookie when there is none.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) *browserSession {
	id := ""
	if cookie, err := r.Cookie(config.CookieSession); err == nil {
		if _, err := uuid.Parse(cookie.Value); err == nil {
			id = cookie.Value
		}
	}
	if id == "" {
		id = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     config.CookieSession,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}

	bs, existed := s.sessions.GetOrCreate(id, func() *browserSession {
		return s.newBrowserSession(id)
	})
	if existed {
		bs.touch(s.now())
	} else {
		zerolog.Ctx(r.Context()).Info().Str("session", id).Msg("Session started")
		s.evictOldest(id)
	}
	return bs
}

// expireSessions drops sessions idle for longer than the configured limit
// and returns how many were dropped.
func (s *Server) expireSessions(now time.Time) int {
	cutoff := now.Add(-s.cfg.Server.SessionIdle()).UnixNano()
	n := s.sessions.DeleteFunc(func(_ string, bs *browserSession) bool {
		return bs.lastSeen.Load() < cutoff
	})
	if n > 0 {
		serverLogger.Info().Int("expired", n).Int("sessions", s.sessions.Len()).Msg("Idle sessions expired")
	}
	return n
}

// evictOldest trims the session table to the configured maximum by
// dropping the least recently seen sessions. keep is never dropped.
func (s *Server) evictOldest(keep string) {
	excess := s.sessions.Len() - s.cfg.Server.MaxSessions
	if excess <= 0 {
		return
	}

	type seen struct {
		id string
		at int64
	}
	var candidates []seen
	s.sessions.Range(func(id string, bs *browserSession) bool {
		if id != keep {
			candidates = append(candidates, seen{id: id, at: bs.lastSeen.Load()})
		}
		return true
	})
	slices.SortFunc(candidates, func(a, b seen) int {
		return cmp.Compare(a.at, b.at)
	})

	for _, c := range candidates[:min(excess, len(candidates))] {
		s.sessions.Delete(c.id)
	}
	serverLogger.Warn().Int("evicted", excess).Int("max", s.cfg.Server.MaxSessions).Msg("Session limit reached")
}

// sweepSessions expires idle sessions once a minute until ctx is done.
func (s *Server) sweepSessions(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireSessions(s.now())
		}
	}
}

// limited rejects mutating requests beyond the session's rate.
func (s *Server) limited(next func(http.ResponseWriter, *http.Request, *browserSession)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bs := s.sessionFor(w, r)
		if !bs.limiter.Allow() {
			zerolog.Ctx(r.Context()).Warn().Str("session", bs.id).Msg("Rate limit exceeded")
			http.Error(w, config.HTTPErrTooManyRequests, http.StatusTooManyRequests)
			return
		}
		next(w, r, bs)
	}
}
