// Package extract turns raw file bytes into plain text for chunking.
package extract

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const (
	MimePlain    = "text/plain"
	MimeMarkdown = "text/markdown"
	MimeJSON     = "application/json"
	MimeCSV      = "text/csv"
)

var aliases = map[string]string{
	"text/x-markdown": MimeMarkdown,
	"text/md":         MimeMarkdown,
	"text/json":       MimeJSON,
	"application/csv": MimeCSV,
}

var blankRun = regexp.MustCompile(`\n{3,}`)

// Extractor dispatches on mime type.
type Extractor struct {
	md goldmark.Markdown
}

func New() *Extractor {
	return &Extractor{md: goldmark.New()}
}

// SupportedMimeTypes lists the canonical types Extract accepts.
func SupportedMimeTypes() []string {
	return []string{MimePlain, MimeMarkdown, MimeJSON, MimeCSV}
}

// Supported reports whether mimeType can be extracted.
func Supported(mimeType string) bool {
	switch normalize(mimeType) {
	case MimePlain, MimeMarkdown, MimeJSON, MimeCSV:
		return true
	}
	return false
}

// Extract returns the text content of data. Unsupported types and content
// that does not decode are reported as extraction errors. An empty mime type
// is read as plain text.
func (e *Extractor) Extract(mimeType string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", domain.NewExtractionError(errors.New("content is not valid UTF-8"))
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	switch mt := normalize(mimeType); mt {
	case MimePlain:
		return string(data), nil
	case MimeMarkdown:
		return e.markdown(data), nil
	case MimeJSON:
		return extractJSON(data)
	case MimeCSV:
		return extractCSV(data)
	default:
		return "", domain.NewExtractionError(fmt.Errorf("unsupported mime type %q", mimeType))
	}
}

func normalize(mimeType string) string {
	if strings.TrimSpace(mimeType) == "" {
		return MimePlain
	}
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	if alias, ok := aliases[mt]; ok {
		return alias
	}
	return mt
}

// markdown keeps the readable text of a document: block boundaries become
// blank lines, markup and raw HTML are dropped.
func (e *Extractor) markdown(src []byte) string {
	doc := e.md.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(src))
				switch {
				case node.HardLineBreak():
					b.WriteByte('\n')
				case node.SoftLineBreak():
					b.WriteByte(' ')
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(src))
				}
				b.WriteString("\n\n")
				return ast.WalkSkipChildren, nil
			}
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph, *ast.Heading:
			if !entering {
				b.WriteString("\n\n")
			}
		case *ast.TextBlock:
			if !entering {
				b.WriteByte('\n')
			}
		case *ast.List:
			if !entering {
				b.WriteByte('\n')
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(blankRun.ReplaceAllString(b.String(), "\n\n"))
}

// extractJSON flattens a document into "path: value" lines in key order.
func extractJSON(data []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", domain.NewExtractionError(fmt.Errorf("invalid json: %w", err))
	}

	var lines []string
	flattenJSON("", v, &lines)
	return strings.Join(lines, "\n"), nil
}

func flattenJSON(path string, v any, lines *[]string) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flattenJSON(joinPath(path, k), val[k], lines)
		}
	case []any:
		for i, item := range val {
			flattenJSON(fmt.Sprintf("%s[%d]", path, i), item, lines)
		}
	case nil:
	default:
		s := fmt.Sprint(val)
		if path == "" {
			*lines = append(*lines, s)
			return
		}
		*lines = append(*lines, path+": "+s)
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// extractCSV renders each record as a line, labelling values with the header
// row when one is present.
func extractCSV(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return "", nil
	}
	if err != nil {
		return "", domain.NewExtractionError(fmt.Errorf("invalid csv: %w", err))
	}

	var lines []string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", domain.NewExtractionError(fmt.Errorf("invalid csv: %w", err))
		}
		parts := make([]string, 0, len(record))
		for i, field := range record {
			if field == "" {
				continue
			}
			if i < len(header) && header[i] != "" {
				parts = append(parts, header[i]+": "+field)
			} else {
				parts = append(parts, field)
			}
		}
		if len(parts) > 0 {
			lines = append(lines, strings.Join(parts, ", "))
		}
	}
	if len(lines) == 0 {
		return strings.Join(header, ", "), nil
	}
	return strings.Join(lines, "\n"), nil
}
