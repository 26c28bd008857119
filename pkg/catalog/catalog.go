// Package catalog describes the HTML pages of a mirror: title, excerpt, byline and
// language, written as catalog.yaml next to the mirrored files.
package catalog

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/pemistahl/lingua-go"
	"gopkg.in/yaml.v3"

	"github.com/dtnitsch/site-harvest/pkg/analytics"
	"github.com/dtnitsch/site-harvest/pkg/mapreduce"
	"github.com/dtnitsch/site-harvest/pkg/pathmap"
	"github.com/dtnitsch/site-harvest/pkg/state"
)

// FileName is the catalog's name in the output root. FallbackName is used when a mirrored
// file already owns FileName.
const (
	FileName     = "catalog.yaml"
	FallbackName = ".site-harvest-catalog.yaml"
)

// minDetectLength is the shortest text handed to language detection.
const minDetectLength = 40

// Keyword counts per page and for the whole site.
const (
	PageKeywords = 8
	SiteKeywords = 25
)

// Languages are the candidates for detection. A short list keeps the models small.
var Languages = []lingua.Language{
	lingua.English, lingua.French, lingua.German, lingua.Spanish, lingua.Italian,
	lingua.Portuguese, lingua.Dutch, lingua.Swedish, lingua.Polish, lingua.Russian,
}

// Store reads mirrored files and writes the catalog.
type Store interface {
	ReadFile(rel string) ([]byte, error)
	SaveFile(rel string, content []byte) error
}

// Page describes one mirrored HTML page.
type Page struct {
	Path             string   `yaml:"path"`
	URL              string   `yaml:"url"`
	Title            string   `yaml:"title,omitempty"`
	Excerpt          string   `yaml:"excerpt,omitempty"`
	Byline           string   `yaml:"byline,omitempty"`
	SiteName         string   `yaml:"site_name,omitempty"`
	Language         string   `yaml:"language,omitempty"`
	DeclaredLanguage string   `yaml:"declared_language,omitempty"`
	Words            int      `yaml:"words"`
	Links            int      `yaml:"links"`
	Images           int      `yaml:"images"`
	Keywords         []string `yaml:"keywords,omitempty"`

	frequencies map[string]int
}

// Catalog is the document written to catalog.yaml.
type Catalog struct {
	Domain      string `yaml:"domain"`
	GeneratedAt string `yaml:"generated_at"`
	// Keywords are the most frequent content words across all pages, as "word:count".
	Keywords []string `yaml:"keywords,omitempty"`
	Pages    []Page   `yaml:"pages"`
}

// Builder extracts page descriptions. The language detector is built on first use.
type Builder struct {
	detector  lingua.LanguageDetector
	analytics analytics.Analytics
	logger    *slog.Logger
}

// NewBuilder creates a Builder. logger may be nil.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Builder{logger: logger}
}

// Build describes every stored HTML page of st in path order. Pages that cannot be read
// are logged and skipped.
func (b *Builder) Build(domain string, st *state.State, store Store, now time.Time) *Catalog {
	c := &Catalog{Domain: domain, GeneratedAt: now.UTC().Format(time.RFC3339), Pages: []Page{}}
	var frequencies []map[string]int
	for _, a := range st.Assignments() {
		if !st.IsStored(a.Identity) || st.KindOf(a.Identity) != pathmap.KindHTML {
			continue
		}
		content, err := store.ReadFile(a.Path)
		if err != nil {
			b.logger.Warn("failed to read page for catalog", "path", a.Path, "error", err)
			continue
		}
		page, err := b.Page(a.Path, st.BaseURL(a.Identity), content)
		if err != nil {
			b.logger.Debug("skipping page in catalog", "path", a.Path, "error", err)
			continue
		}
		c.Pages = append(c.Pages, page)
		frequencies = append(frequencies, page.frequencies)
	}
	c.Keywords = mapreduce.TopKeys(mapreduce.Reduce(frequencies), SiteKeywords)
	b.logger.Info("catalog built", "pages", len(c.Pages), "keywords", len(c.Keywords))
	return c
}

// Page describes one HTML document fetched from pageURL.
func (b *Builder) Page(path, pageURL string, content []byte) (Page, error) {
	p := Page{Path: path, URL: pageURL}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return p, fmt.Errorf("failed to parse HTML: %w", err)
	}
	p.Title = normalizeText(doc.Find("title").First().Text())
	p.DeclaredLanguage = strings.TrimSpace(doc.Find("html").AttrOr("lang", ""))
	p.Links = doc.Find("a[href]").Length()
	p.Images = doc.Find("img").Length()
	text := normalizeText(doc.Find("body").Text())

	if parsedURL, err := url.Parse(pageURL); err == nil {
		parser := readability.NewParser()
		article, err := parser.Parse(bytes.NewReader(content), parsedURL)
		if err == nil {
			if t := normalizeText(article.Title); t != "" {
				p.Title = t
			}
			p.Excerpt = normalizeText(article.Excerpt)
			p.Byline = normalizeText(article.Byline)
			p.SiteName = normalizeText(article.SiteName)
			if t := normalizeText(article.TextContent); t != "" {
				text = t
			}
		} else {
			b.logger.Debug("readability failed, using body text", "path", path, "error", err)
		}
	}

	p.Words = len(strings.Fields(text))
	p.Language = b.detect(text)
	p.frequencies = b.analytics.WordFrequency(text)
	for _, kw := range mapreduce.TopN(p.frequencies, PageKeywords) {
		p.Keywords = append(p.Keywords, kw.Key)
	}
	return p, nil
}

func (b *Builder) detect(text string) string {
	if len(text) < minDetectLength {
		return ""
	}
	if b.detector == nil {
		b.detector = lingua.NewLanguageDetectorBuilder().FromLanguages(Languages...).Build()
	}
	lang, ok := b.detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return strings.ToLower(lang.IsoCode639_1().String())
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Name returns the file name the catalog is written under for st.
func Name(st *state.State) string {
	if _, owned := st.OwnerOf(FileName); owned {
		return FallbackName
	}
	return FileName
}

// Write saves c as YAML under name.
func Write(store Store, name string, c *Catalog) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("error marshalling catalog: %w", err)
	}
	if err := store.SaveFile(name, data); err != nil {
		return fmt.Errorf("error saving catalog: %w", err)
	}
	return nil
}
