// Package render turns markdown bodies into HTML previews with highlighted
// code blocks.
package render

import (
	"fmt"
	"html"
	"html/template"
	"io"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/debemdeboas/the-calendar/internal/cache"
	"github.com/debemdeboas/the-calendar/internal/config"
	"github.com/debemdeboas/the-calendar/internal/util"
	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	md_html "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/rs/zerolog"

	"github.com/mmarkdown/mmark/v2/lang"
	"github.com/mmarkdown/mmark/v2/mast"
	"github.com/mmarkdown/mmark/v2/mparser"
	"github.com/mmarkdown/mmark/v2/render/mhtml"
)

var renderLogger zerolog.Logger

func SetLogger(l zerolog.Logger) {
	renderLogger = l
}

func formatter() *chromahtml.Formatter {
	return chromahtml.New(
		chromahtml.WithClasses(true),
		chromahtml.TabWidth(4),
		chromahtml.WithLineNumbers(true),
		chromahtml.WrapLongLines(true),
	)
}

func style(theme string) *chroma.Style {
	if s := styles.Get(theme); s != nil {
		return s
	}
	return styles.Fallback
}

func HighlightCode(code, language, highlightTheme string) string {
	lexer := lexers.Get(language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return html.EscapeString(code)
	}

	var buf strings.Builder
	if err := formatter().Format(&buf, style(highlightTheme), iterator); err != nil {
		return html.EscapeString(code)
	}
	return buf.String()
}

// SyntaxCSS returns the stylesheet for the highlighted code of a theme.
func SyntaxCSS(theme string) string {
	if css, ok := cache.GetSyntaxCSS(theme); ok {
		return string(css)
	}

	var buf strings.Builder
	s := style(theme)

	bg := s.Get(chroma.Background)
	if !bg.Colour.IsSet() {
		// Themes without a text colour get a dark one on light backgrounds.
		luminance := (0.299*float64(bg.Background.Red()) +
			0.587*float64(bg.Background.Green()) +
			0.114*float64(bg.Background.Blue())) / 255
		if luminance > 0.5 {
			buf.WriteString(".chroma { color: #181818; }\n")
		}
	}

	if err := formatter().WriteCSS(&buf, s); err != nil {
		renderLogger.Error().Err(err).Str("theme", theme).Msg("Error writing syntax CSS")
		return ""
	}
	cache.SetSyntaxCSS(theme, template.CSS(buf.String()))
	return buf.String()
}

// Markdown renders md with the named renderer. The returned title comes
// from mmark front matter and is empty otherwise.
func Markdown(md []byte, renderer, highlightTheme string) ([]byte, string) {
	switch renderer {
	case config.RendererClassic:
		return Classic(md, highlightTheme), ""
	default:
		out, info := Mmark(md, highlightTheme)
		if info == nil {
			return out, ""
		}
		return out, info.Title
	}
}

// Serializes the check-render-set sequence of Cached.
var renderCacheMutex sync.Mutex

// Cached is Markdown memoised by the content hash of md.
func Cached(md []byte, renderer, highlightTheme string) ([]byte, string) {
	key := cache.RenderKey{
		ContentHash: util.ContentHash(md),
		Renderer:    renderer,
		SyntaxTheme: highlightTheme,
	}

	if cached, found := cache.GetRenderedMarkdown(key); found {
		renderLogger.Debug().Str("contentHash", key.ContentHash).Msg("Cache hit for rendered markdown")
		return cached.HTML, cached.Title
	}

	renderCacheMutex.Lock()
	defer renderCacheMutex.Unlock()

	if cached, found := cache.GetRenderedMarkdown(key); found {
		return cached.HTML, cached.Title
	}

	renderLogger.Debug().Str("contentHash", key.ContentHash).Msg("Cache miss for rendered markdown")
	out, title := Markdown(md, renderer, highlightTheme)
	cache.SetRenderedMarkdown(key, out, title)
	return out, title
}

func codeBlockHook(highlightTheme string) func(io.Writer, ast.Node, bool) (ast.WalkStatus, bool) {
	return func(w io.Writer, node ast.Node, entering bool) (ast.WalkStatus, bool) {
		code, ok := node.(*ast.CodeBlock)
		if !ok || !entering {
			return ast.GoToNext, false
		}
		var language string
		if info := code.Info; info != nil {
			language = string(info)
		}
		fmt.Fprintf(w, "<div class=\"highlight\">%s</div>", HighlightCode(string(code.Literal), language, highlightTheme))
		return ast.GoToNext, true
	}
}

// Classic renders with the plain gomarkdown parser. Raw HTML in the input
// is dropped.
func Classic(md []byte, highlightTheme string) []byte {
	highlight := codeBlockHook(highlightTheme)
	opts := md_html.RendererOptions{
		Flags: md_html.CommonFlags | md_html.SkipHTML | md_html.Safelink | md_html.HrefTargetBlank | md_html.FootnoteReturnLinks,
		RenderNodeHook: func(w io.Writer, node ast.Node, entering bool) (ast.WalkStatus, bool) {
			if status, handled := highlight(w, node, entering); handled {
				return status, true
			}
			if callout, ok := node.(*ast.Callout); ok && entering {
				fmt.Fprintf(w, "<span class=\"callout\">%s</span>", callout.ID)
				return ast.GoToNext, true
			}
			return ast.GoToNext, false
		},
	}

	doc := parser.NewWithExtensions(
		parser.Tables | parser.FencedCode | parser.Autolink | parser.Strikethrough | parser.SpaceHeadings |
			parser.HeadingIDs | parser.BackslashLineBreak | parser.SuperSubscript | parser.DefinitionLists |
			parser.AutoHeadingIDs | parser.Footnotes | parser.OrderedListStart | parser.Attributes |
			parser.NonBlockingSpace,
	).Parse(markdown.NormalizeNewlines(md))

	return markdown.Render(doc, newRenderer(opts))
}

// Mmark renders with the mmark extensions and returns the title block, if
// any. Include directives are not followed.
func Mmark(md []byte, highlightTheme string) ([]byte, *mast.TitleData) {
	md = markdown.NormalizeNewlines(md)

	p := parser.NewWithExtensions(mparser.Extensions | parser.NoIntraEmphasis)

	var info *mast.TitleData
	p.Opts = parser.Options{
		ParserHook: func(data []byte) (ast.Node, []byte, int) {
			node, data, consumed := mparser.Hook(data)
			if t, ok := node.(*mast.Title); ok {
				info = t.TitleData
			}
			return node, data, consumed
		},
		ReadIncludeFn: func(from, path string, address []byte) []byte {
			renderLogger.Warn().Str("path", path).Msg("Ignoring include directive")
			return nil
		},
		Flags: parser.FlagsNone,
	}

	doc := markdown.Parse(md, p)
	mparser.AddIndex(doc)

	language := "en"
	if info != nil && info.Language != "" {
		language = info.Language
	}
	mhtmlOpts := mhtml.RendererOptions{
		Language: lang.New(language),
	}

	highlight := codeBlockHook(highlightTheme)
	opts := md_html.RendererOptions{
		RenderNodeHook: func(w io.Writer, node ast.Node, entering bool) (ast.WalkStatus, bool) {
			if status, handled := highlight(w, node, entering); handled {
				return status, true
			}
			return mhtmlOpts.RenderHook(w, node, entering)
		},
		Flags: md_html.CommonFlags | md_html.SkipHTML | md_html.Safelink | md_html.FootnoteNoHRTag | md_html.FootnoteReturnLinks,
	}

	return markdown.Render(doc, newRenderer(opts)), info
}

func newRenderer(opts md_html.RendererOptions) *md_html.Renderer {
	r := md_html.NewRenderer(opts)
	r.IsSafeURLOverride = safeURL
	return r
}

// safeURL accepts relative links and the http, https, mailto and ftp
// schemes. Unsafe links are rendered as plain text. The destination is
// checked the way a browser reads it: entities decoded, whitespace and
// control characters dropped.
func safeURL(dest []byte) bool {
	u := strings.Map(func(r rune) rune {
		if r <= ' ' {
			return -1
		}
		return r
	}, html.UnescapeString(string(dest)))

	scheme, _, found := strings.Cut(u, ":")
	if !found || strings.ContainsAny(scheme, "/?#") {
		return true
	}
	switch strings.ToLower(scheme) {
	case "http", "https", "mailto", "ftp":
		return true
	}
	return false
}
