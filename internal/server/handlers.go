package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/http"

	"github.com/debemdeboas/the-calendar/internal/config"
	"github.com/debemdeboas/the-calendar/internal/export"
	"github.com/debemdeboas/the-calendar/internal/model"
	"github.com/debemdeboas/the-calendar/internal/render"
	"github.com/debemdeboas/the-calendar/internal/session"
	"github.com/debemdeboas/the-calendar/internal/sse"
	"github.com/debemdeboas/the-calendar/internal/util"
	"github.com/rs/zerolog"
)

const (
	maxFormBytes = 1 << 20

	lastSavedLayout = "15:04:05"
)

type slotView struct {
	Slot     model.Slot
	Title    string
	Filled   bool
	Selected bool
}

type pageData struct {
	Slots     []slotView
	Selected  model.Slot
	Title     string
	Content   string
	Preview   template.HTML
	LastSaved string
	Flash     []string
	Busy      bool
	Count     int
}

func (s *Server) newPageData(bs *browserSession) pageData {
	snap := bs.editor.Snapshot()

	filled := make(map[model.Slot]model.TextRecord, len(snap.Records))
	for _, rec := range snap.Records {
		filled[rec.Slot] = rec
	}

	slots := make([]slotView, 0, model.MaxSlot)
	for _, slot := range model.Slots() {
		rec, ok := filled[slot]
		title := model.DefaultTitle(slot)
		if ok && rec.Title != "" {
			title = rec.Title
		}
		slots = append(slots, slotView{
			Slot:     slot,
			Title:    title,
			Filled:   ok,
			Selected: slot == snap.Selected,
		})
	}

	preview, _ := render.Cached([]byte(snap.Content), s.cfg.Render.Renderer, s.cfg.Render.SyntaxTheme)

	data := pageData{
		Slots:    slots,
		Selected: snap.Selected,
		Title:    snap.Title,
		Content:  snap.Content,
		Preview:  template.HTML(preview),
		Flash:    bs.takeFlash(),
		Busy:     snap.Status != session.StatusIdle,
		Count:    len(snap.Records),
	}
	if snap.LastSavedAt != nil {
		data.LastSaved = snap.LastSavedAt.Local().Format(lastSavedLayout)
	}
	return data
}

func redirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// fail answers a failed editor action. Busy sessions and bad input get an
// HTTP error; everything else becomes a notice on the next page view.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, bs *browserSession, action string, err error) {
	switch {
	case errors.Is(err, session.ErrBusy):
		http.Error(w, config.HTTPErrBusy, http.StatusConflict)
		return
	case errors.Is(err, session.ErrInvalidSlot):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	zerolog.Ctx(r.Context()).Error().Err(err).Str("session", bs.id).Str("action", action).Msg("Editor action failed")
	bs.addFlash(flashMessage(action, err))
	redirectHome(w, r)
}

func flashMessage(action string, err error) string {
	var reloadErr *session.ReloadError
	switch {
	case errors.Is(err, session.ErrNotConfirmed):
		return "Deletion was not confirmed."
	case errors.As(err, &reloadErr):
		return fmt.Sprintf("Text %d was saved, but the texts could not be reloaded.", reloadErr.Slot)
	default:
		return fmt.Sprintf("Error while %s: %v", action, err)
	}
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	bs := s.sessionFor(w, r)

	if !bs.loaded.Load() {
		if err := bs.editor.LoadAll(r.Context()); err != nil {
			zerolog.Ctx(r.Context()).Error().Err(err).Str("session", bs.id).Msg("Initial load failed")
			bs.addFlash(flashMessage("loading the texts", err))
		} else {
			bs.loaded.Store(true)
		}
	}

	w.Header().Set(config.HCType, config.CTypeHTML)
	w.Header().Set(config.HCacheControl, "no-store")
	if err := s.tmpl.ExecuteTemplate(w, templateLayout, s.newPageData(bs)); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Error rendering page")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) serveSelectSlot(w http.ResponseWriter, r *http.Request, bs *browserSession) {
	slot, err := model.ParseSlot(r.FormValue("slot"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := bs.editor.SelectSlot(slot); err != nil {
		s.fail(w, r, bs, "selecting the text", err)
		return
	}
	redirectHome(w, r)
}

func (s *Server) serveSave(w http.ResponseWriter, r *http.Request, bs *browserSession) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := bs.editor.SaveDraft(r.Context(), r.PostFormValue("title"), r.PostFormValue("content")); err != nil {
		s.fail(w, r, bs, "saving", err)
		return
	}
	redirectHome(w, r)
}

func (s *Server) serveDelete(w http.ResponseWriter, r *http.Request, bs *browserSession) {
	confirm := session.ConfirmFunc(func(string) bool {
		return r.PostFormValue("confirm") == "yes"
	})
	if err := bs.editor.Delete(r.Context(), confirm); err != nil {
		s.fail(w, r, bs, "deleting", err)
		return
	}
	redirectHome(w, r)
}

func (s *Server) serveReload(w http.ResponseWriter, r *http.Request, bs *browserSession) {
	if err := bs.editor.LoadAll(r.Context()); err != nil {
		s.fail(w, r, bs, "loading the texts", err)
		return
	}
	bs.loaded.Store(true)
	redirectHome(w, r)
}

// servePreview renders a draft body. Drafts change on every keystroke, so
// the result is not cached.
func (s *Server) servePreview(w http.ResponseWriter, r *http.Request, _ *browserSession) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	html, _ := render.Markdown([]byte(r.PostFormValue("content")), s.cfg.Render.Renderer, s.cfg.Render.SyntaxTheme)
	w.Header().Set(config.HCType, config.CTypeHTML)
	w.Write(html)
}

// serveExportCurrent downloads the draft. Title and content given in the
// query are exported instead, so unsaved edits download as shown without
// touching the session.
func (s *Server) serveExportCurrent(w http.ResponseWriter, r *http.Request) {
	bs := s.sessionFor(w, r)

	q := r.URL.Query()
	f := bs.editor.ExportCurrent()
	if q.Has("title") || q.Has("content") {
		f = export.FromDraft(q.Get("title"), q.Get("content"))
	}

	w.Header().Set(config.HCType, config.CTypeMarkdown)
	w.Header().Set(config.HContentDisposition, mime.FormatMediaType("attachment", map[string]string{"filename": f.Filename}))
	w.Write(f.Content)
}

type exportedFile struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func (s *Server) serveExportList(w http.ResponseWriter, r *http.Request) {
	bs := s.sessionFor(w, r)

	files := bs.editor.ExportAll()
	out := make([]exportedFile, 0, len(files))
	for _, f := range files {
		out = append(out, exportedFile{Filename: f.Filename, Content: string(f.Content)})
	}

	w.Header().Set(config.HCType, config.CTypeJSON)
	if err := json.NewEncoder(w).Encode(out); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Error encoding export list")
	}
}

func (s *Server) serveExportWrite(w http.ResponseWriter, r *http.Request, bs *browserSession) {
	files := bs.editor.ExportAll()
	if err := export.WriteAll(r.Context(), s.sink, files); err != nil {
		s.fail(w, r, bs, "exporting", err)
		return
	}
	bs.addFlash(fmt.Sprintf("Exported %d texts.", len(files)))
	redirectHome(w, r)
}

func (s *Server) serveSyntaxCSS(w http.ResponseWriter, r *http.Request) {
	theme := r.URL.Query().Get("theme")
	if theme == "" {
		theme = s.cfg.Render.SyntaxTheme
	}

	css := []byte(render.SyntaxCSS(theme))
	w.Header().Set(config.HCType, config.CTypeCSS)
	w.Header().Set(config.HETag, `"`+util.ContentHash(css)+`"`)
	w.Write(css)
}

func (s *Server) serveEvents(w http.ResponseWriter, r *http.Request) {
	l := zerolog.Ctx(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	bs := s.sessionFor(w, r)

	w.Header().Set(config.HCType, "text/event-stream")
	w.Header().Set(config.HCacheControl, "no-cache")
	w.Header().Set("Connection", "keep-alive")

	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", bs.id)
	flusher.Flush()

	client := sse.NewClient(bs.id)
	s.clients.Add(client)
	l.Debug().Str("session", bs.id).Msg("Event stream opened")

	defer func() {
		s.clients.Delete(client)
		l.Debug().Str("session", bs.id).Msg("Event stream closed")
	}()

	done := r.Context().Done()
	for {
		select {
		case msg, ok := <-client.Msg:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: changed\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-done:
			return
		}
	}
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set(config.HCType, config.CTypeJSON)
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"backend":  s.cfg.Backend.Type,
		"sessions": s.sessions.Len(),
		"streams":  s.clients.Len(),
	})
}
