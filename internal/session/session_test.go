package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/debemdeboas/the-calendar/internal/config"
	"github.com/debemdeboas/the-calendar/internal/export"
	"github.com/debemdeboas/the-calendar/internal/model"
	"github.com/debemdeboas/the-calendar/internal/repository"
)

// countingRepo wraps the in-memory repository without exposing Upsert, so
// sessions on it always take the insert then update path.
type countingRepo struct {
	inner *repository.MemoryTextRepository

	mu        sync.Mutex
	calls     []string
	listErr   error
	updateErr error
	deleteErr error
	block     chan struct{}
}

func newCountingRepo() *countingRepo {
	return &countingRepo{inner: repository.NewMemoryTextRepository()}
}

func (r *countingRepo) record(call string) {
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
}

func (r *countingRepo) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *countingRepo) ListAll(ctx context.Context) ([]model.TextRecord, error) {
	r.record("list")
	if r.block != nil {
		<-r.block
	}
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.inner.ListAll(ctx)
}

func (r *countingRepo) Insert(ctx context.Context, rec model.TextRecord) error {
	r.record("insert")
	return r.inner.Insert(ctx, rec)
}

func (r *countingRepo) Update(ctx context.Context, slot model.Slot, patch model.TextPatch) error {
	r.record("update")
	if r.updateErr != nil {
		return r.updateErr
	}
	return r.inner.Update(ctx, slot, patch)
}

func (r *countingRepo) Delete(ctx context.Context, slot model.Slot) error {
	r.record("delete")
	if r.deleteErr != nil {
		return r.deleteErr
	}
	return r.inner.Delete(ctx, slot)
}

type upsertingRepo struct {
	*countingRepo
}

func (r upsertingRepo) Upsert(ctx context.Context, rec model.TextRecord) error {
	r.record("upsert")
	return r.inner.Upsert(ctx, rec)
}

var fixedNow = time.Date(2025, 12, 5, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

var yes = ConfirmFunc(func(string) bool { return true })

func seed(t *testing.T, repo *countingRepo, recs ...model.TextRecord) {
	t.Helper()
	for _, rec := range recs {
		if err := repo.inner.Insert(context.Background(), rec); err != nil {
			t.Fatalf("Failed to seed slot %d: %v", rec.Slot, err)
		}
	}
}

func TestNew(t *testing.T) {
	s := New(newCountingRepo())

	if s.Selected() != 1 {
		t.Errorf("Expected slot 1 selected, got %d", s.Selected())
	}
	title, content := s.Draft()
	if title != "Text 1" || content != "" {
		t.Errorf("Expected blank draft, got %q %q", title, content)
	}
	if s.Status() != StatusIdle {
		t.Errorf("Expected idle, got %s", s.Status())
	}
	if s.LastSavedAt() != nil {
		t.Error("Expected no save time")
	}
}

func TestSelectSlot(t *testing.T) {
	repo := newCountingRepo()
	seed(t, repo,
		model.TextRecord{Slot: 2, Title: "Two", Content: "second"},
		model.TextRecord{Slot: 4, Title: "", Content: "untitled"},
	)
	s := New(repo)
	if err := s.LoadAll(context.Background()); err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	before := s.Records()
	callsBefore := len(repo.Calls())

	for n := model.MinSlot; n <= model.MaxSlot; n++ {
		if err := s.SelectSlot(n); err != nil {
			t.Fatalf("SelectSlot(%d) failed: %v", n, err)
		}
		title, content := s.Draft()
		switch n {
		case 2:
			if title != "Two" || content != "second" {
				t.Errorf("Slot 2 draft = %q %q", title, content)
			}
		case 4:
			if title != "Text 4" || content != "untitled" {
				t.Errorf("Slot 4 should fall back to the default title, got %q %q", title, content)
			}
		default:
			if title != model.DefaultTitle(n) || content != "" {
				t.Errorf("Slot %d draft = %q %q", n, title, content)
			}
		}
	}

	if len(repo.Calls()) != callsBefore {
		t.Errorf("SelectSlot must not reach the repository, calls %v", repo.Calls())
	}
	if len(s.Records()) != len(before) {
		t.Errorf("Records changed by selection")
	}

	t.Run("Unsaved edits are dropped", func(t *testing.T) {
		_ = s.SelectSlot(2)
		s.SetDraft("Edited", "changed")
		_ = s.SelectSlot(3)
		_ = s.SelectSlot(2)
		title, content := s.Draft()
		if title != "Two" || content != "second" {
			t.Errorf("Expected stored record, got %q %q", title, content)
		}
	})

	t.Run("Out of range", func(t *testing.T) {
		for _, n := range []model.Slot{0, 25, -1} {
			if err := s.SelectSlot(n); !errors.Is(err, ErrInvalidSlot) {
				t.Errorf("SelectSlot(%d) = %v, want ErrInvalidSlot", n, err)
			}
		}
		if s.Selected() != 2 {
			t.Errorf("Selection should be unchanged, got %d", s.Selected())
		}
	})
}

func TestLoadAll(t *testing.T) {
	t.Run("Keyed by slot not position", func(t *testing.T) {
		backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"text_number":3,"title":"Three","content":"c3","updated_at":"2025-12-03T00:00:00Z"},{"text_number":1,"title":"One","content":"c1","updated_at":"2025-12-01T00:00:00Z"}]`))
		}))
		defer backend.Close()

		s := New(repository.NewRESTTextRepository(backend.URL, "k", "adventcalendar", time.Second))
		if err := s.LoadAll(context.Background()); err != nil {
			t.Fatalf("LoadAll failed: %v", err)
		}

		if rec, ok := s.Record(3); !ok || rec.Title != "Three" {
			t.Errorf("Slot 3 = %+v, %v", rec, ok)
		}
		if rec, ok := s.Record(1); !ok || rec.Title != "One" {
			t.Errorf("Slot 1 = %+v, %v", rec, ok)
		}
		if _, ok := s.Record(2); ok {
			t.Error("Slot 2 should be empty")
		}
		title, content := s.Draft()
		if title != "One" || content != "c1" {
			t.Errorf("Draft should follow the selected slot, got %q %q", title, content)
		}
	})

	t.Run("Failure keeps records", func(t *testing.T) {
		repo := newCountingRepo()
		seed(t, repo, model.TextRecord{Slot: 1, Title: "One"})
		s := New(repo)
		_ = s.LoadAll(context.Background())

		repo.listErr = &repository.TransportError{Op: "list", StatusCode: http.StatusServiceUnavailable}
		err := s.LoadAll(context.Background())
		var te *repository.TransportError
		if !errors.As(err, &te) {
			t.Fatalf("Expected TransportError, got %v", err)
		}
		if _, ok := s.Record(1); !ok {
			t.Error("Records should be left untouched")
		}
		if s.Status() != StatusIdle {
			t.Errorf("Expected idle after failure, got %s", s.Status())
		}
	})
}

func TestSave(t *testing.T) {
	ctx := context.Background()

	t.Run("Blank draft is a no-op", func(t *testing.T) {
		repo := newCountingRepo()
		s := New(repo)
		s.SetDraft("  ", "\n\t")

		if err := s.Save(ctx); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if calls := repo.Calls(); len(calls) != 0 {
			t.Errorf("Expected no repository calls, got %v", calls)
		}
		if s.LastSavedAt() != nil {
			t.Error("Save time should not be set")
		}
	})

	t.Run("Empty slot is inserted", func(t *testing.T) {
		repo := newCountingRepo()
		s := New(repo, WithSaveStrategy(config.SaveStrategyFallback), WithClock(fixedClock))
		_ = s.SelectSlot(5)
		s.SetDraft("Day 5", "Hello **world**")

		if err := s.Save(ctx); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}

		if got := strings.Join(repo.Calls(), ","); got != "insert,list" {
			t.Errorf("Expected insert then reload, got %s", got)
		}
		rec, ok := s.Record(5)
		if !ok {
			t.Fatal("Slot 5 should be populated")
		}
		if rec.Title != "Day 5" || rec.Content != "Hello **world**" || !rec.UpdatedAt.Equal(fixedNow) {
			t.Errorf("Unexpected record %+v", rec)
		}
		if last := s.LastSavedAt(); last == nil || !last.Equal(fixedNow) {
			t.Errorf("Unexpected save time %v", last)
		}
	})

	t.Run("Occupied slot falls back to update", func(t *testing.T) {
		repo := newCountingRepo()
		seed(t, repo, model.TextRecord{Slot: 2, Title: "Old", Content: "old"})
		s := New(repo, WithSaveStrategy(config.SaveStrategyFallback))
		_ = s.LoadAll(ctx)
		_ = s.SelectSlot(2)
		s.SetDraft("New", "new")

		if err := s.Save(ctx); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got := strings.Join(repo.Calls(), ","); got != "list,insert,update,list" {
			t.Errorf("Unexpected call sequence %s", got)
		}

		persisted, _ := repo.inner.ListAll(ctx)
		if len(persisted) != 1 || persisted[0].Title != "New" || persisted[0].Content != "new" {
			t.Errorf("Expected the new content persisted, got %+v", persisted)
		}
	})

	t.Run("Update failure keeps the draft", func(t *testing.T) {
		repo := newCountingRepo()
		seed(t, repo, model.TextRecord{Slot: 1, Title: "Old"})
		repo.updateErr = &repository.TransportError{Op: "update", StatusCode: http.StatusInternalServerError}
		s := New(repo, WithSaveStrategy(config.SaveStrategyFallback))
		s.SetDraft("Retry me", "body")

		err := s.Save(ctx)
		if err == nil {
			t.Fatal("Expected error")
		}
		var te *repository.TransportError
		if !errors.As(err, &te) {
			t.Errorf("Expected TransportError in chain, got %v", err)
		}
		title, content := s.Draft()
		if title != "Retry me" || content != "body" {
			t.Errorf("Draft should be kept, got %q %q", title, content)
		}
		if s.LastSavedAt() != nil {
			t.Error("Save time should not be set")
		}
	})

	t.Run("Upsert strategy uses a single call", func(t *testing.T) {
		repo := upsertingRepo{newCountingRepo()}
		seed(t, repo.countingRepo, model.TextRecord{Slot: 1, Title: "Old"})
		s := New(repo)
		s.SetDraft("Replaced", "x")

		if err := s.Save(ctx); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got := strings.Join(repo.Calls(), ","); got != "upsert,list" {
			t.Errorf("Expected upsert then reload, got %s", got)
		}
		if rec, _ := s.Record(1); rec.Title != "Replaced" {
			t.Errorf("Unexpected record %+v", rec)
		}
	})

	t.Run("Upsert strategy without upserter falls back", func(t *testing.T) {
		repo := newCountingRepo()
		s := New(repo)
		s.SetDraft("t", "c")

		if err := s.Save(ctx); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if got := strings.Join(repo.Calls(), ","); got != "insert,list" {
			t.Errorf("Unexpected call sequence %s", got)
		}
	})

	t.Run("Reload failure after save", func(t *testing.T) {
		repo := newCountingRepo()
		repo.listErr = errors.New("connection reset")
		s := New(repo, WithClock(fixedClock))
		s.SetDraft("t", "c")

		err := s.Save(ctx)
		var re *ReloadError
		if !errors.As(err, &re) {
			t.Fatalf("Expected ReloadError, got %v", err)
		}
		if re.Slot != 1 {
			t.Errorf("Expected slot 1, got %d", re.Slot)
		}
		if _, ok := s.Record(1); ok {
			t.Error("Records should not be merged without a reload")
		}
		if s.LastSavedAt() == nil {
			t.Error("Save time should be set once the write succeeded")
		}
		if persisted, _ := repo.inner.ListAll(ctx); len(persisted) != 1 {
			t.Errorf("Expected the write to persist, got %d records", len(persisted))
		}
	})

	t.Run("Change notifier", func(t *testing.T) {
		var notified []model.Slot
		s := New(newCountingRepo(), WithChangeNotifier(func(slot model.Slot) {
			notified = append(notified, slot)
		}))
		_ = s.SelectSlot(9)
		s.SetDraft("t", "")
		_ = s.Save(ctx)
		_ = s.Delete(ctx, yes)

		if len(notified) != 2 || notified[0] != 9 || notified[1] != 9 {
			t.Errorf("Unexpected notifications %v", notified)
		}
	})
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("Declined confirmation", func(t *testing.T) {
		repo := newCountingRepo()
		s := New(repo)
		var prompt string
		no := ConfirmFunc(func(p string) bool { prompt = p; return false })

		if err := s.Delete(ctx, no); !errors.Is(err, ErrNotConfirmed) {
			t.Errorf("Expected ErrNotConfirmed, got %v", err)
		}
		if !strings.Contains(prompt, "1") {
			t.Errorf("Prompt should name the slot, got %q", prompt)
		}
		if err := s.Delete(ctx, nil); !errors.Is(err, ErrNotConfirmed) {
			t.Errorf("Expected ErrNotConfirmed for nil confirmer, got %v", err)
		}
		if calls := repo.Calls(); len(calls) != 0 {
			t.Errorf("Expected no repository calls, got %v", calls)
		}
	})

	t.Run("Existing record", func(t *testing.T) {
		repo := newCountingRepo()
		seed(t, repo, model.TextRecord{Slot: 3, Title: "Three", Content: "c"})
		s := New(repo, WithClock(fixedClock))
		_ = s.LoadAll(ctx)
		_ = s.SelectSlot(3)

		if err := s.Delete(ctx, yes); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if _, ok := s.Record(3); ok {
			t.Error("Slot 3 should be gone")
		}
		title, content := s.Draft()
		if title != "Text 3" || content != "" {
			t.Errorf("Draft should be blank, got %q %q", title, content)
		}
		if last := s.LastSavedAt(); last == nil || !last.Equal(fixedNow) {
			t.Errorf("Unexpected save time %v", last)
		}
	})

	t.Run("Missing record", func(t *testing.T) {
		s := New(newCountingRepo())
		_ = s.SelectSlot(17)

		if err := s.Delete(ctx, yes); err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
		if _, ok := s.Record(17); ok {
			t.Error("Slot 17 should be absent")
		}
	})

	t.Run("Failure keeps state", func(t *testing.T) {
		repo := newCountingRepo()
		seed(t, repo, model.TextRecord{Slot: 1, Title: "One"})
		repo.deleteErr = errors.New("timeout")
		s := New(repo)
		_ = s.LoadAll(ctx)

		if err := s.Delete(ctx, yes); err == nil {
			t.Fatal("Expected error")
		}
		if _, ok := s.Record(1); !ok {
			t.Error("Record should remain after a failed delete")
		}
	})
}

func TestBusy(t *testing.T) {
	repo := newCountingRepo()
	repo.block = make(chan struct{})
	s := New(repo)

	done := make(chan error)
	go func() {
		done <- s.LoadAll(context.Background())
	}()

	deadline := time.Now().Add(2 * time.Second)
	for s.Status() != StatusLoading {
		if time.Now().After(deadline) {
			t.Fatal("LoadAll never started")
		}
		time.Sleep(time.Millisecond)
	}

	s.SetDraft("t", "c")
	if err := s.Save(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("Save = %v, want ErrBusy", err)
	}
	if err := s.Delete(context.Background(), yes); !errors.Is(err, ErrBusy) {
		t.Errorf("Delete = %v, want ErrBusy", err)
	}
	if err := s.LoadAll(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("LoadAll = %v, want ErrBusy", err)
	}

	before, beforeContent := s.Draft()
	if err := s.SaveDraft(context.Background(), "My title", "my unsaved work"); !errors.Is(err, ErrBusy) {
		t.Errorf("SaveDraft = %v, want ErrBusy", err)
	}
	if title, content := s.Draft(); title != before || content != beforeContent {
		t.Errorf("Rejected SaveDraft changed the draft to %q %q", title, content)
	}

	close(repo.block)
	if err := <-done; err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if s.Status() != StatusIdle {
		t.Errorf("Expected idle, got %s", s.Status())
	}
	if got := strings.Join(repo.Calls(), ","); got != "list" {
		t.Errorf("Busy calls must not reach the repository, got %s", got)
	}
}

func TestSaveDraft(t *testing.T) {
	ctx := context.Background()

	t.Run("Sets and saves the draft", func(t *testing.T) {
		repo := newCountingRepo()
		s := New(repo, WithSaveStrategy(config.SaveStrategyFallback))

		if err := s.SaveDraft(ctx, "My title", "my work"); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		rec, ok := s.Record(1)
		if !ok || rec.Title != "My title" || rec.Content != "my work" {
			t.Errorf("Expected saved record, got %+v", rec)
		}
		if title, content := s.Draft(); title != "My title" || content != "my work" {
			t.Errorf("Unexpected draft %q %q", title, content)
		}
		if got := strings.Join(repo.Calls(), ","); got != "insert,list" {
			t.Errorf("Unexpected calls %s", got)
		}
	})

	t.Run("Blank draft is kept but not saved", func(t *testing.T) {
		repo := newCountingRepo()
		s := New(repo)

		if err := s.SaveDraft(ctx, " ", "\n"); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if title, content := s.Draft(); title != " " || content != "\n" {
			t.Errorf("Unexpected draft %q %q", title, content)
		}
		if len(repo.Calls()) != 0 {
			t.Errorf("Blank draft must not reach the repository, got %v", repo.Calls())
		}
		if s.Status() != StatusIdle {
			t.Errorf("Expected idle, got %s", s.Status())
		}
	})
}

func TestExport(t *testing.T) {
	t.Run("Current draft round trip", func(t *testing.T) {
		s := New(newCountingRepo())
		s.SetDraft("Day 5", "Hello **world**\n\n## Sub\n")

		f := s.ExportCurrent()
		if f.Filename != "day_5.md" {
			t.Errorf("Unexpected filename %q", f.Filename)
		}
		doc, err := export.Parse(f.Content)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if doc.Title != "Day 5" || doc.Content != "Hello **world**\n\n## Sub\n" {
			t.Errorf("Round trip gave %q %q", doc.Title, doc.Content)
		}
	})

	t.Run("All records in slot order", func(t *testing.T) {
		repo := newCountingRepo()
		seed(t, repo,
			model.TextRecord{Slot: 12, Title: "Twelve"},
			model.TextRecord{Slot: 3, Title: "Three"},
		)
		s := New(repo)
		_ = s.LoadAll(context.Background())

		files := s.ExportAll()
		if len(files) != 2 {
			t.Fatalf("Expected 2 files, got %d", len(files))
		}
		if files[0].Filename != "text_3_three.md" || files[1].Filename != "text_12_twelve.md" {
			t.Errorf("Unexpected files %s, %s", files[0].Filename, files[1].Filename)
		}
	})

	t.Run("Nothing loaded", func(t *testing.T) {
		if files := New(newCountingRepo()).ExportAll(); len(files) != 0 {
			t.Errorf("Expected no files, got %d", len(files))
		}
	})
}

func TestSnapshot(t *testing.T) {
	repo := newCountingRepo()
	seed(t, repo, model.TextRecord{Slot: 1, Title: "One", Content: "c"})
	s := New(repo)
	_ = s.LoadAll(context.Background())

	snap := s.Snapshot()
	if snap.Selected != 1 || snap.Title != "One" || len(snap.Records) != 1 {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
	snap.Records[0].Title = "mutated"
	if rec, _ := s.Record(1); rec.Title != "One" {
		t.Error("Snapshot must not alias session state")
	}
}
