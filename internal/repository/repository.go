// Package repository stores text records in the backing table.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/debemdeboas/the-calendar/internal/config"
	"github.com/debemdeboas/the-calendar/internal/db"
	"github.com/debemdeboas/the-calendar/internal/model"
	"github.com/debemdeboas/the-calendar/internal/util/compression"
	"github.com/rs/zerolog"
)

var repoLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	repoLogger = l
}

// TextRepository is the record store behind an editor session. Update and
// Delete are filtered by slot and succeed when no row matches.
type TextRepository interface {
	ListAll(ctx context.Context) ([]model.TextRecord, error)
	Insert(ctx context.Context, rec model.TextRecord) error
	Update(ctx context.Context, slot model.Slot, patch model.TextPatch) error
	Delete(ctx context.Context, slot model.Slot) error
}

// Upserter is implemented by backends with an atomic insert-or-update keyed
// on the slot.
type Upserter interface {
	Upsert(ctx context.Context, rec model.TextRecord) error
}

// TransportError is the single failure kind of a repository call. It carries
// the HTTP status and raw body when the backend answered, or the underlying
// error when it did not.
type TransportError struct {
	Op         string
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	var s strings.Builder
	s.WriteString(e.Op)
	if e.Method != "" {
		fmt.Fprintf(&s, " %s %s", e.Method, e.URL)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&s, ": status %d", e.StatusCode)
		if e.Body != "" {
			fmt.Fprintf(&s, ": %s", e.Body)
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&s, ": %v", e.Err)
	}
	return s.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// New builds the repository selected by the backend configuration. The
// returned close function releases any local resources.
func New(cfg config.BackendConfig) (TextRepository, func() error, error) {
	nop := func() error { return nil }

	switch cfg.Type {
	case config.BackendREST:
		return NewRESTTextRepository(cfg.URL, cfg.Key, cfg.Table, cfg.Timeout()), nop, nil
	case config.BackendSQLite:
		compressor, err := compression.New(cfg.Compression)
		if err != nil {
			return nil, nil, err
		}
		sqlite := db.NewSQLite(cfg.SQLitePath)
		if err := sqlite.InitDB(); err != nil {
			return nil, nil, fmt.Errorf("error initializing database: %w", err)
		}
		return NewDBTextRepository(sqlite, compressor), sqlite.Close, nil
	case config.BackendMemory:
		return NewMemoryTextRepository(), nop, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend type %q", cfg.Type)
	}
}
