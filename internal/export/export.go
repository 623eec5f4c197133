// Package export turns text records into markdown files and back.
package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/debemdeboas/the-calendar/internal/model"
	"github.com/debemdeboas/the-calendar/internal/util"
	"github.com/rs/zerolog"
)

var exportLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	exportLogger = l
}

const (
	Extension = ".md"

	headingPrefix   = "# "
	bulkPrefix      = "text_"
	frontMatterMark = "%%%"
)

// File is a rendered markdown document ready to be written somewhere.
type File struct {
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

// Document renders a title and body as "# title", a blank line, then the
// body verbatim.
func Document(title, content string) []byte {
	var buf bytes.Buffer
	buf.Grow(len(headingPrefix) + len(title) + 2 + len(content))
	buf.WriteString(headingPrefix)
	buf.WriteString(title)
	buf.WriteString("\n\n")
	buf.WriteString(content)
	return buf.Bytes()
}

// Filename maps every character outside [A-Za-z0-9] to an underscore and
// lower-cases the result. Characters outside the basic multilingual plane
// take two underscores so names match the ones browsers produced.
func Filename(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r > 0xFFFF:
			b.WriteString("__")
		default:
			b.WriteByte('_')
		}
	}
	b.WriteString(Extension)
	return b.String()
}

// BulkFilename is the name used when every record is exported at once.
func BulkFilename(slot model.Slot, title string) string {
	return fmt.Sprintf("%s%d_%s", bulkPrefix, slot, Filename(title))
}

// SlotFromFilename reads the slot out of a name built by BulkFilename.
func SlotFromFilename(name string) (model.Slot, bool) {
	rest, ok := strings.CutPrefix(name, bulkPrefix)
	if !ok {
		return 0, false
	}
	n, _, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, false
	}
	slot, err := model.ParseSlot(n)
	if err != nil {
		return 0, false
	}
	return slot, true
}

// FromDraft builds the single file download of a title and body.
func FromDraft(title, content string) File {
	return File{
		Filename: Filename(title),
		Content:  Document(title, content),
	}
}

// FromRecord builds the bulk export file of a record.
func FromRecord(rec model.TextRecord) File {
	return File{
		Filename: BulkFilename(rec.Slot, rec.Title),
		Content:  Document(rec.Title, rec.Content),
	}
}

// Parsed is a document read back from disk. Slot is zero unless the front
// matter names one.
type Parsed struct {
	Slot    model.Slot
	Title   string
	Content string
}

// Parse is the inverse of Document. A leading %%% TOML block is accepted;
// its title wins over the heading line when set. Only the heading and front
// matter lines are read with CRLF tolerance, the body is returned byte for
// byte.
func Parse(data []byte) (Parsed, error) {
	var p Parsed

	if bytes.HasPrefix(bytes.TrimLeft(data, "\n \t\r"), []byte(frontMatterMark)) {
		fm, err := util.GetFrontMatter(data)
		if err != nil {
			return p, fmt.Errorf("error reading front matter: %w", err)
		}
		data = bytes.TrimLeft(data[fm.Consumed:], "\r\n")
		p.Title = fm.Title
		if fm.Slot != 0 {
			slot := model.Slot(fm.Slot)
			if !slot.Valid() {
				return p, fmt.Errorf("front matter slot %d out of range %d-%d", fm.Slot, model.MinSlot, model.MaxSlot)
			}
			p.Slot = slot
		}
	}

	text := string(data)
	if heading, ok := strings.CutPrefix(text, headingPrefix); ok {
		line, body, _ := strings.Cut(heading, "\n")
		lineBreak := "\n"
		if trimmed, crlf := strings.CutSuffix(line, "\r"); crlf && strings.HasPrefix(body, "\r\n") {
			line, lineBreak = trimmed, "\r\n"
		}
		if p.Title == "" {
			p.Title = line
		}
		// Document puts exactly one blank line between heading and body.
		text = strings.TrimPrefix(body, lineBreak)
	}
	p.Content = text

	exportLogger.Debug().Str("title", p.Title).Int("slot", int(p.Slot)).Msg("Parsed document")
	return p, nil
}
