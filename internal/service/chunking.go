package service

import (
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/cloo-solutions/briefly/internal/domain"
)

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// Chunker splits extracted text into ordered, bounded chunks. All sizes are
// counted in runes so a boundary never falls inside a multi-byte character.
type Chunker struct {
	strategy domain.ChunkStrategy
	params   domain.ChunkParams
}

// NewChunker returns a Chunker whose defaults apply when Chunk is called with
// a zero strategy or zero params.
func NewChunker(strategy domain.ChunkStrategy, params domain.ChunkParams) *Chunker {
	if strategy == "" {
		strategy = domain.ChunkStrategyParagraph
	}
	if params.MaxChunkSize == 0 {
		params = domain.DefaultChunkParams()
	}
	return &Chunker{strategy: strategy, params: params}
}

// Chunk splits text with strategy and params. Empty input is a terminal
// chunking error.
func (c *Chunker) Chunk(text string, strategy domain.ChunkStrategy, params domain.ChunkParams) ([]domain.TextChunk, error) {
	if strategy == "" {
		strategy = c.strategy
	}
	if params.MaxChunkSize == 0 {
		params = c.params
	}
	if _, err := domain.ParseChunkStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	clean := normalizeText(text, params.PreserveStructure)
	if clean == "" {
		return nil, domain.NewChunkingError("extracted text is empty")
	}

	var pieces []string
	switch strategy {
	case domain.ChunkStrategyParagraph:
		pieces = newSegmenter(clean, params).chunk(paragraphLevel)
	case domain.ChunkStrategySentence:
		pieces = newSegmenter(clean, params).chunk(sentenceLevel)
	case domain.ChunkStrategyFixed:
		if params.RespectBoundaries {
			pieces = newSegmenter(clean, params).chunk(wordLevel)
		} else {
			pieces = cutRunes(clean, params.MaxChunkSize, params.MinChunkSize)
		}
	case domain.ChunkStrategySlidingWindow:
		pieces = chunkSlidingWindow(clean, params.MaxChunkSize, params.Overlap)
	}

	if len(pieces) == 0 {
		return nil, domain.NewChunkingError("text produced no chunks")
	}

	chunks := make([]domain.TextChunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = domain.TextChunk{
			Index:      i,
			Content:    p,
			TokenCount: EstimateTokens(p),
		}
	}
	return chunks, nil
}

// EstimateTokens approximates the provider token count as one token per four
// characters.
func EstimateTokens(s string) int {
	n := len([]rune(s))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

func normalizeText(text string, preserveStructure bool) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if !preserveStructure {
		return strings.Join(strings.Fields(text), " ")
	}
	return strings.TrimSpace(text)
}

func runeLen(s string) int {
	return len([]rune(s))
}

// Boundary levels between adjacent words. A unit at level L runs between
// boundaries of level L or higher.
const (
	wordLevel = 1 + iota
	sentenceLevel
	paragraphLevel
)

// segmenter holds text as words and the separators between them. Chunks are
// built from whole units of one level; a unit that does not fit is split at
// the next level down, so shrinking maxSize only ever adds cuts.
type segmenter struct {
	words  []string
	seps   []string // seps[i] joins words[i] and words[i+1]
	levels []int    // levels[i] is the boundary level of seps[i]
	starts []int    // rune offset of each word in the joined text
	ends   []int

	maxSize int
	minSize int
}

type span struct {
	start, end int // word indices, end exclusive
}

func newSegmenter(text string, p domain.ChunkParams) *segmenter {
	s := &segmenter{maxSize: p.MaxChunkSize, minSize: p.MinChunkSize}
	wordStart, prevEnd := -1, 0
	for i, r := range text {
		if !unicode.IsSpace(r) {
			if wordStart < 0 {
				wordStart = i
			}
			continue
		}
		if wordStart >= 0 {
			s.add(text[wordStart:i], text[prevEnd:wordStart])
			prevEnd, wordStart = i, -1
		}
	}
	if wordStart >= 0 {
		s.add(text[wordStart:], text[prevEnd:wordStart])
	}
	return s
}

func (s *segmenter) add(word, gap string) {
	offset := 0
	if n := len(s.words); n > 0 {
		level, sep := wordLevel, " "
		switch {
		case paragraphBreak.MatchString(gap):
			level, sep = paragraphLevel, "\n\n"
		case endsSentence(s.words[n-1]):
			level = sentenceLevel
		}
		if level != paragraphLevel && strings.Contains(gap, "\n") {
			sep = "\n"
		}
		s.seps = append(s.seps, sep)
		s.levels = append(s.levels, level)
		offset = s.ends[n-1] + runeLen(sep)
	}
	s.words = append(s.words, word)
	s.starts = append(s.starts, offset)
	s.ends = append(s.ends, offset+runeLen(word))
}

// endsSentence reports whether word closes with terminal punctuation,
// optionally followed by closing quotes or brackets.
func endsSentence(word string) bool {
	body := strings.TrimRightFunc(word, func(r rune) bool {
		return isTerminal(r) || r == '"' || r == '\'' || r == ')'
	})
	return strings.ContainsFunc(word[len(body):], isTerminal)
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func (s *segmenter) length(sp span) int {
	return s.ends[sp.end-1] - s.starts[sp.start]
}

func (s *segmenter) text(sp span) string {
	var b strings.Builder
	for k := sp.start; k < sp.end; k++ {
		if k > sp.start {
			b.WriteString(s.seps[k-1])
		}
		b.WriteString(s.words[k])
	}
	return b.String()
}

func (s *segmenter) chunk(level int) []string {
	if len(s.words) == 0 {
		return nil
	}
	return s.pack(span{0, len(s.words)}, level)
}

// units splits sp at every boundary of at least level.
func (s *segmenter) units(sp span, level int) []span {
	var out []span
	start := sp.start
	for k := sp.start + 1; k < sp.end; k++ {
		if s.levels[k-1] >= level {
			out = append(out, span{start, k})
			start = k
		}
	}
	return append(out, span{start, sp.end})
}

// groups joins units shorter than minSize onto the unit before them, working
// back from the end, until every group reaches minSize. A short leading run
// joins the first group.
func (s *segmenter) groups(sp span, level int) []span {
	units := s.units(sp, level)
	if s.minSize <= 0 {
		return units
	}
	var out []span
	end := -1
	for i := len(units) - 1; i >= 0; i-- {
		if end < 0 {
			end = units[i].end
		}
		if g := (span{units[i].start, end}); s.length(g) >= s.minSize {
			out = append(out, g)
			end = -1
		}
	}
	switch {
	case end < 0:
	case len(out) > 0:
		out[len(out)-1].start = sp.start
	default:
		out = append(out, span{sp.start, end})
	}
	slices.Reverse(out)
	return out
}

// pack greedily joins groups while the result stays within maxSize. A group
// that is too long on its own closes the current chunk and is split.
func (s *segmenter) pack(sp span, level int) []string {
	var out []string
	var cur span
	open := false
	flush := func() {
		if open {
			out = append(out, s.text(cur))
			open = false
		}
	}

	for _, g := range s.groups(sp, level) {
		if s.length(g) > s.maxSize {
			flush()
			out = append(out, s.split(g, level)...)
			continue
		}
		if open && s.length(span{cur.start, g.end}) <= s.maxSize {
			cur.end = g.end
			continue
		}
		flush()
		cur, open = g, true
	}
	flush()
	return out
}

// split breaks an oversized group at the next level down. At word level the
// group is only cut mid-word when one of its words exceeds maxSize on its own;
// otherwise it is kept whole.
func (s *segmenter) split(g span, level int) []string {
	if level > wordLevel {
		return s.pack(g, level-1)
	}
	for k := g.start; k < g.end; k++ {
		if runeLen(s.words[k]) > s.maxSize {
			return cutRunes(s.text(g), s.maxSize, s.minSize)
		}
	}
	return []string{s.text(g)}
}

// cutRunes cuts text every maxSize runes. A tail shorter than minSize joins
// the piece before it.
func cutRunes(text string, maxSize, minSize int) []string {
	runes := []rune(text)
	var out []string
	for start := 0; start < len(runes); start += maxSize {
		end := min(start+maxSize, len(runes))
		out = append(out, string(runes[start:end]))
	}
	if n := len(out); n > 1 && runeLen(out[n-1]) < minSize {
		out[n-2] += out[n-1]
		out = out[:n-1]
	}
	return out
}

// chunkSlidingWindow emits windows of size runes advanced by size-overlap.
// The final window ends at the end of the text.
func chunkSlidingWindow(text string, size, overlap int) []string {
	runes := []rune(text)
	step := size - overlap
	var out []string
	for start := 0; ; start += step {
		end := start + size
		if end >= len(runes) {
			out = append(out, string(runes[start:]))
			break
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
