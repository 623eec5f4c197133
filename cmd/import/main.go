// Command import saves markdown files into the texts table through an
// editor session, so imports follow the same insert and update rules as
// the web editor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/debemdeboas/the-calendar/internal/config"
	"github.com/debemdeboas/the-calendar/internal/db"
	"github.com/debemdeboas/the-calendar/internal/export"
	"github.com/debemdeboas/the-calendar/internal/logger"
	"github.com/debemdeboas/the-calendar/internal/model"
	"github.com/debemdeboas/the-calendar/internal/repository"
	"github.com/debemdeboas/the-calendar/internal/session"
	"github.com/joho/godotenv"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
)

var errNoSlot = errors.New("no slot in front matter or file name, use --slot")

func main() {
	path := flag.String("path", "", "Markdown file or directory of .md files")
	slot := flag.Int("slot", 0, "Slot for a single file without a text_<n>_ prefix")
	configPath := flag.String("config", "config.yaml", "Configuration file")
	dryRun := flag.Bool("dry-run", false, "Parse files and print the plan without saving")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, failStyle.Render("--path is required"))
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New("")
		bootLog.Fatal().Err(err).Str("path", *configPath).Msg("Error loading configuration")
	}

	log := logger.New(cfg.Logging.Level)
	config.SetLogger(log)
	db.SetLogger(log)
	repository.SetLogger(log)
	session.SetLogger(log)
	export.SetLogger(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	files, err := markdownFiles(*path)
	if err != nil {
		log.Fatal().Err(err).Str("path", *path).Msg("Error reading path")
	}
	if *slot != 0 && len(files) != 1 {
		log.Fatal().Int("files", len(files)).Msg("--slot needs exactly one file")
	}

	repo, closeRepo, err := repository.New(cfg.Backend)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing repository")
	}
	defer closeRepo()

	ed := session.New(repo, session.WithSaveStrategy(cfg.Editor.SaveStrategy))
	failed := run(context.Background(), ed, files, model.Slot(*slot), *dryRun)

	fmt.Println(dimStyle.Render(fmt.Sprintf("%d of %d files imported", len(files)-failed, len(files))))
	if failed > 0 {
		os.Exit(1)
	}
}

// markdownFiles lists path itself or the .md files directly inside it.
func markdownFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), export.Extension) {
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	return files, nil
}

// run imports each file and returns the number of failures.
func run(ctx context.Context, ed *session.EditorSession, files []string, override model.Slot, dryRun bool) int {
	failed := 0
	for _, file := range files {
		name := filepath.Base(file)
		slot, err := importFile(ctx, ed, file, override, dryRun)
		if err != nil {
			failed++
			fmt.Printf("%s %s: %v\n", failStyle.Render("FAIL"), name, err)
			continue
		}
		fmt.Printf("%s %s %s\n", okStyle.Render("OK"), name, dimStyle.Render("→ text "+slot.String()))
	}
	return failed
}

func importFile(ctx context.Context, ed *session.EditorSession, file string, override model.Slot, dryRun bool) (model.Slot, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return 0, err
	}

	doc, err := export.Parse(data)
	if err != nil {
		return 0, err
	}

	slot := resolveSlot(override, doc.Slot, filepath.Base(file))
	if slot == 0 {
		return 0, errNoSlot
	}
	if dryRun {
		return slot, nil
	}

	if err := ed.SelectSlot(slot); err != nil {
		return 0, err
	}
	title := doc.Title
	if title == "" {
		title = model.DefaultTitle(slot)
	}
	if err := ed.SaveDraft(ctx, title, doc.Content); err != nil {
		return 0, err
	}
	return slot, nil
}

// resolveSlot prefers the flag, then front matter, then the file name.
func resolveSlot(override, fromFrontMatter model.Slot, name string) model.Slot {
	if override != 0 {
		return override
	}
	if fromFrontMatter != 0 {
		return fromFrontMatter
	}
	if slot, ok := export.SlotFromFilename(name); ok {
		return slot
	}
	return 0
}
