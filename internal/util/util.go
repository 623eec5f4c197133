// Package util provides content hashing and front matter parsing for
// imported markdown files.
package util

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/gomarkdown/markdown"

	"github.com/mmarkdown/mmark/v2/mast"
)

// FrontMatter is the mmark TOML block at the head of a document. Slot is an
// optional extension naming the slot the document belongs to.
type FrontMatter struct {
	*mast.TitleData
	Slot int `toml:"slot"`

	// Consumed is the number of input bytes taken by the block, including
	// the line break after the closing delimiter.
	Consumed int
}

func ContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

func ContentHashString(content string) string {
	return ContentHash([]byte(content))
}

var errFrontMatterFormat = errors.New("invalid front matter format")

// GetFrontMatter reads the %%% block that opens md. Line endings of the
// input are left alone; Consumed indexes md as given.
func GetFrontMatter(md []byte) (*FrontMatter, error) {
	trimmed := bytes.TrimLeft(md, "\n \t\r")
	delimiter := []byte("%%%")

	if !bytes.HasPrefix(trimmed, delimiter) {
		return nil, errFrontMatterFormat
	}
	second := bytes.Index(trimmed[len(delimiter):], delimiter)
	if second == -1 {
		return nil, errFrontMatterFormat
	}

	// The closing delimiter must end its line.
	end := 2*len(delimiter) + second
	switch {
	case bytes.HasPrefix(trimmed[end:], []byte("\r\n")):
		end += 2
	case end < len(trimmed) && (trimmed[end] == '\n' || trimmed[end] == '\r'):
		end++
	default:
		return nil, errFrontMatterFormat
	}

	frontMatter := markdown.NormalizeNewlines(trimmed[len(delimiter) : len(delimiter)+second])
	info := &FrontMatter{
		TitleData: &mast.TitleData{},
	}

	if _, err := toml.Decode(string(frontMatter), info); err != nil {
		return nil, fmt.Errorf("failed to decode front matter: %w", err)
	}

	if info.Language == "" {
		info.Language = "en"
	}
	info.Consumed = len(md) - len(trimmed) + end

	return info, nil
}
