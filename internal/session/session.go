// Package session holds the editor state of one user: the loaded records,
// the selected slot and the unsaved draft, and drives the repository.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/debemdeboas/the-calendar/internal/config"
	"github.com/debemdeboas/the-calendar/internal/export"
	"github.com/debemdeboas/the-calendar/internal/model"
	"github.com/debemdeboas/the-calendar/internal/repository"
	"github.com/rs/zerolog"
)

var sessionLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	sessionLogger = l
}

var (
	ErrBusy         = errors.New("another operation is in progress")
	ErrInvalidSlot  = errors.New("invalid slot")
	ErrNotConfirmed = errors.New("deletion not confirmed")
)

// ReloadError reports a save that reached the backend but whose follow-up
// reload failed. The local records are stale until the next LoadAll.
type ReloadError struct {
	Slot model.Slot
	Err  error
}

func (e *ReloadError) Error() string {
	return fmt.Sprintf("text %d saved but reload failed: %v", e.Slot, e.Err)
}

func (e *ReloadError) Unwrap() error {
	return e.Err
}

type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSaving
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSaving:
		return "saving"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Confirmer answers the question asked before a record is deleted.
type Confirmer interface {
	Confirm(prompt string) bool
}

type ConfirmFunc func(prompt string) bool

func (f ConfirmFunc) Confirm(prompt string) bool {
	return f(prompt)
}

type Option func(*EditorSession)

// WithSaveStrategy picks how Save writes: config.SaveStrategyUpsert uses a
// single atomic call when the repository supports it, and
// config.SaveStrategyFallback always tries insert and then update.
func WithSaveStrategy(strategy string) Option {
	return func(s *EditorSession) {
		s.strategy = strategy
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *EditorSession) {
		s.now = now
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *EditorSession) {
		s.log = l
	}
}

// WithChangeNotifier registers a callback run after a slot was written or
// deleted.
func WithChangeNotifier(notify func(model.Slot)) Option {
	return func(s *EditorSession) {
		s.notify = notify
	}
}

type EditorSession struct {
	repo     repository.TextRepository
	strategy string
	now      func() time.Time
	log      zerolog.Logger
	notify   func(model.Slot)

	mu           sync.Mutex
	status       Status
	records      map[model.Slot]model.TextRecord
	selected     model.Slot
	draftTitle   string
	draftContent string
	lastSavedAt  *time.Time
}

func New(repo repository.TextRepository, opts ...Option) *EditorSession {
	s := &EditorSession{
		repo:     repo,
		strategy: config.SaveStrategyUpsert,
		now:      time.Now,
		log:      sessionLogger,
		records:  make(map[model.Slot]model.TextRecord),
		selected: model.MinSlot,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.deriveDraft()
	return s
}

// begin claims the session for one repository operation.
func (s *EditorSession) begin(st Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusIdle {
		return ErrBusy
	}
	s.status = st
	return nil
}

func (s *EditorSession) end() {
	s.mu.Lock()
	s.status = StatusIdle
	s.mu.Unlock()
}

// deriveDraft resets the draft from the selected record. Callers hold mu.
func (s *EditorSession) deriveDraft() {
	rec, ok := s.records[s.selected]
	if !ok {
		s.draftTitle = model.DefaultTitle(s.selected)
		s.draftContent = ""
		return
	}
	s.draftTitle = rec.Title
	if s.draftTitle == "" {
		s.draftTitle = model.DefaultTitle(s.selected)
	}
	s.draftContent = rec.Content
}

// SelectSlot opens a slot for editing. Unsaved changes to the previous
// slot are dropped.
func (s *EditorSession) SelectSlot(slot model.Slot) error {
	if !slot.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, slot)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = slot
	s.deriveDraft()
	return nil
}

func (s *EditorSession) SetDraft(title, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draftTitle = title
	s.draftContent = content
}

// LoadAll replaces the records with what the repository holds. On failure
// the records are left untouched.
func (s *EditorSession) LoadAll(ctx context.Context) error {
	if err := s.begin(StatusLoading); err != nil {
		return err
	}
	defer s.end()

	return s.reload(ctx)
}

func (s *EditorSession) reload(ctx context.Context) error {
	list, err := s.repo.ListAll(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("Error loading texts")
		return fmt.Errorf("error loading texts: %w", err)
	}

	records := make(map[model.Slot]model.TextRecord, len(list))
	for _, rec := range list {
		if !rec.Slot.Valid() {
			s.log.Warn().Int("slot", int(rec.Slot)).Msg("Ignoring text outside the slot range")
			continue
		}
		records[rec.Slot] = rec
	}

	s.mu.Lock()
	s.records = records
	s.deriveDraft()
	s.mu.Unlock()

	s.log.Debug().Int("count", len(records)).Msg("Texts loaded")
	return nil
}

// Save writes the draft to the selected slot and reloads all records. A
// draft with a blank title and a blank body is not saved.
func (s *EditorSession) Save(ctx context.Context) error {
	s.mu.Lock()
	rec := s.draftRecord()
	s.mu.Unlock()

	if blank(rec) {
		return nil
	}

	if err := s.begin(StatusSaving); err != nil {
		return err
	}
	defer s.end()

	return s.save(ctx, rec)
}

// SaveDraft replaces the draft and saves it as one operation. When the
// session is busy it returns ErrBusy and the draft is left as it was, so an
// edit is never overwritten by a reload it raced with.
func (s *EditorSession) SaveDraft(ctx context.Context, title, content string) error {
	if err := s.begin(StatusSaving); err != nil {
		return err
	}
	defer s.end()

	s.mu.Lock()
	s.draftTitle = title
	s.draftContent = content
	rec := s.draftRecord()
	s.mu.Unlock()

	if blank(rec) {
		return nil
	}
	return s.save(ctx, rec)
}

// draftRecord builds the record to write from the draft. Callers hold mu.
func (s *EditorSession) draftRecord() model.TextRecord {
	return model.TextRecord{
		Slot:    s.selected,
		Title:   s.draftTitle,
		Content: s.draftContent,
	}
}

func blank(rec model.TextRecord) bool {
	return strings.TrimSpace(rec.Title) == "" && strings.TrimSpace(rec.Content) == ""
}

// save runs with the session claimed.
func (s *EditorSession) save(ctx context.Context, rec model.TextRecord) error {
	now := s.now().UTC()
	rec.UpdatedAt = now

	if err := s.write(ctx, rec); err != nil {
		s.log.Error().Err(err).Int("slot", int(rec.Slot)).Msg("Error saving text")
		return err
	}

	s.mu.Lock()
	s.lastSavedAt = &now
	s.mu.Unlock()
	s.changed(rec.Slot)

	s.log.Info().Int("slot", int(rec.Slot)).Str("strategy", s.strategy).Msg("Text saved")

	if err := s.reload(ctx); err != nil {
		return &ReloadError{Slot: rec.Slot, Err: err}
	}
	return nil
}

func (s *EditorSession) write(ctx context.Context, rec model.TextRecord) error {
	if s.strategy == config.SaveStrategyUpsert {
		if u, ok := s.repo.(repository.Upserter); ok {
			if err := u.Upsert(ctx, rec); err != nil {
				return fmt.Errorf("error saving text %d: %w", rec.Slot, err)
			}
			return nil
		}
	}

	// The table starts empty, so insert is tried first. Any insert failure
	// is read as "the slot is taken".
	insertErr := s.repo.Insert(ctx, rec)
	if insertErr == nil {
		return nil
	}
	s.log.Debug().Err(insertErr).Int("slot", int(rec.Slot)).Msg("Insert rejected, updating")

	if err := s.repo.Update(ctx, rec.Slot, rec.Patch()); err != nil {
		return fmt.Errorf("error saving text %d: insert: %w; update: %w", rec.Slot, insertErr, err)
	}
	return nil
}

// Delete removes the selected slot's record once confirm agrees. Deleting
// a slot without a record succeeds.
func (s *EditorSession) Delete(ctx context.Context, confirm Confirmer) error {
	s.mu.Lock()
	slot := s.selected
	s.mu.Unlock()

	if confirm == nil || !confirm.Confirm(fmt.Sprintf("Delete text %d?", slot)) {
		return ErrNotConfirmed
	}

	if err := s.begin(StatusSaving); err != nil {
		return err
	}
	defer s.end()

	if err := s.repo.Delete(ctx, slot); err != nil {
		s.log.Error().Err(err).Int("slot", int(slot)).Msg("Error deleting text")
		return fmt.Errorf("error deleting text %d: %w", slot, err)
	}

	now := s.now().UTC()
	s.mu.Lock()
	delete(s.records, slot)
	if s.selected == slot {
		s.deriveDraft()
	}
	s.lastSavedAt = &now
	s.mu.Unlock()
	s.changed(slot)

	s.log.Info().Int("slot", int(slot)).Msg("Text deleted")
	return nil
}

func (s *EditorSession) changed(slot model.Slot) {
	if s.notify != nil {
		s.notify(slot)
	}
}

// ExportCurrent renders the draft as it stands.
func (s *EditorSession) ExportCurrent() export.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return export.FromDraft(s.draftTitle, s.draftContent)
}

// ExportAll renders every loaded record, in slot order.
func (s *EditorSession) ExportAll() []export.File {
	records := s.Records()
	files := make([]export.File, 0, len(records))
	for _, rec := range records {
		files = append(files, export.FromRecord(rec))
	}
	return files
}

func (s *EditorSession) Selected() model.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

func (s *EditorSession) Draft() (title, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draftTitle, s.draftContent
}

// Records returns a copy of the loaded records sorted by slot.
func (s *EditorSession) Records() []model.TextRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedRecords()
}

func (s *EditorSession) sortedRecords() []model.TextRecord {
	records := make([]model.TextRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	slices.SortFunc(records, func(a, b model.TextRecord) int {
		return int(a.Slot) - int(b.Slot)
	})
	return records
}

func (s *EditorSession) Record(slot model.Slot) (model.TextRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[slot]
	return rec, ok
}

func (s *EditorSession) LastSavedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastSavedAt == nil {
		return nil
	}
	t := *s.lastSavedAt
	return &t
}

func (s *EditorSession) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	Selected    model.Slot
	Title       string
	Content     string
	Records     []model.TextRecord
	LastSavedAt *time.Time
	Status      Status
}

func (s *EditorSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Selected: s.selected,
		Title:    s.draftTitle,
		Content:  s.draftContent,
		Records:  s.sortedRecords(),
		Status:   s.status,
	}
	if s.lastSavedAt != nil {
		t := *s.lastSavedAt
		snap.LastSavedAt = &t
	}
	return snap
}
