package service

import (
	"math"
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloo-solutions/briefly/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func params(max, min, overlap int) domain.ChunkParams {
	return domain.ChunkParams{
		MaxChunkSize:      max,
		MinChunkSize:      min,
		Overlap:           overlap,
		PreserveStructure: true,
		RespectBoundaries: true,
	}
}

func contents(chunks []domain.TextChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Content
	}
	return out
}

func stripSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func sampleDocument() string {
	sentences := []string{
		"The quarterly report covers revenue and churn.",
		"Revenue grew in every region except the north.",
		"Churn dropped after the onboarding changes shipped.",
		"Support tickets fell by a third.",
		"The board asked for a forecast by March.",
	}
	var paras []string
	for i := 0; i < 12; i++ {
		a := sentences[i%len(sentences)]
		b := sentences[(i+2)%len(sentences)]
		paras = append(paras, a+" "+b)
	}
	return strings.Join(paras, "\n\n")
}

func TestChunker_EmptyInput(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})

	for _, text := range []string{"", "   ", "\n\n\t"} {
		chunks, err := c.Chunk(text, "", domain.ChunkParams{})

		assert.Nil(t, chunks)
		require.Error(t, err)
		assert.Equal(t, domain.KindChunking, domain.KindOf(err))
		assert.False(t, domain.IsRetryable(err))
	}
}

func TestChunker_InvalidInput(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})

	_, err := c.Chunk("text", "semantic", domain.ChunkParams{})
	assert.ErrorIs(t, err, domain.ErrInvalidChunkStrategy)

	_, err = c.Chunk("text", domain.ChunkStrategyFixed, params(100, 100, 0))
	assert.ErrorIs(t, err, domain.ErrInvalidChunkParams)
}

func TestChunker_ParagraphPacking(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	text := "First paragraph here.\n\nSecond paragraph here.\n\nThird one is a bit longer than others."

	chunks, err := c.Chunk(text, domain.ChunkStrategyParagraph, params(60, 0, 0))

	require.NoError(t, err)
	assert.Equal(t, []string{
		"First paragraph here.\n\nSecond paragraph here.",
		"Third one is a bit longer than others.",
	}, contents(chunks))
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 1, chunks[1].Index)
}

func TestChunker_ParagraphLongSplitsBySentence(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	para := "One sentence that is long enough to matter here. Another sentence follows it closely. A third closes the paragraph."

	chunks, err := c.Chunk(para, domain.ChunkStrategyParagraph, params(60, 0, 0))

	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), 60)
	}
	assert.Equal(t, "One sentence that is long enough to matter here.", chunks[0].Content)
}

func TestChunker_ParagraphReconstructsText(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	text := sampleDocument()

	for _, max := range []int{80, 150, 400, 2000} {
		chunks, err := c.Chunk(text, domain.ChunkStrategyParagraph, params(max, 20, 0))
		require.NoError(t, err)

		var joined strings.Builder
		for _, ch := range chunks {
			joined.WriteString(ch.Content)
		}
		assert.Equal(t, stripSpace(text), stripSpace(joined.String()), "max=%d", max)
	}
}

// generatedDocument builds a deterministic document with paragraphs of
// varying length and the occasional word far longer than its neighbours.
func generatedDocument(seed int64) string {
	r := rand.New(rand.NewSource(seed))
	word := func() string {
		n := 1 + r.Intn(8)
		if r.Intn(20) == 0 {
			n = 20 + r.Intn(100)
		}
		b := make([]rune, n)
		for i := range b {
			b[i] = []rune("abcdeé")[r.Intn(6)]
		}
		return string(b)
	}

	paras := make([]string, 1+r.Intn(6))
	for p := range paras {
		sentences := make([]string, 1+r.Intn(5))
		for s := range sentences {
			words := make([]string, 1+r.Intn(12))
			for w := range words {
				words[w] = word()
			}
			sentences[s] = strings.Join(words, " ") + []string{".", "?", "!", `."`}[r.Intn(4)]
		}
		paras[p] = strings.Join(sentences, " ")
	}
	return strings.Join(paras, "\n\n")
}

func TestChunker_SmallerMaxNeverFewerChunks(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	texts := []string{sampleDocument()}
	for seed := int64(1); seed <= 12; seed++ {
		texts = append(texts, generatedDocument(seed))
	}

	tests := []struct {
		strategy domain.ChunkStrategy
		respect  bool
	}{
		{domain.ChunkStrategyParagraph, true},
		{domain.ChunkStrategySentence, true},
		{domain.ChunkStrategyFixed, true},
		{domain.ChunkStrategyFixed, false},
	}

	for i, text := range texts {
		for _, tt := range tests {
			for _, min := range []int{0, 10, 30} {
				prev := 0
				for max := 300; max > min; max-- {
					p := params(max, min, 0)
					p.RespectBoundaries = tt.respect
					chunks, err := c.Chunk(text, tt.strategy, p)
					require.NoError(t, err)

					require.GreaterOrEqual(t, len(chunks), prev,
						"text=%d strategy=%s respect=%t min=%d max=%d", i, tt.strategy, tt.respect, min, max)
					prev = len(chunks)
					if len(chunks) > 1 {
						for _, ch := range chunks {
							assert.GreaterOrEqual(t, utf8.RuneCountInString(ch.Content), min)
						}
					}
				}
			}
		}
	}
}

func TestChunker_OversizedParagraphAddsChunks(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	p1 := strings.Repeat("a", 29) + "."
	p2 := strings.Repeat("b", 34) + ". " + strings.Repeat("c", 34) + "."
	p3 := strings.Repeat("d", 19) + "."
	text := p1 + "\n\n" + p2 + "\n\n" + p3

	fits, err := c.Chunk(text, domain.ChunkStrategyParagraph, params(71, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{p1, p2, p3}, contents(fits))

	split, err := c.Chunk(text, domain.ChunkStrategyParagraph, params(70, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{
		p1,
		strings.Repeat("b", 34) + ".",
		strings.Repeat("c", 34) + ".",
		p3,
	}, contents(split))
}

func TestChunker_SentenceAccumulates(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	text := "This is a fairly long first sentence here. Tiny. Another reasonably long sentence ends."

	chunks, err := c.Chunk(text, domain.ChunkStrategySentence, params(50, 0, 0))

	require.NoError(t, err)
	assert.Equal(t, []string{
		"This is a fairly long first sentence here. Tiny.",
		"Another reasonably long sentence ends.",
	}, contents(chunks))
}

func TestSegmenter_SentenceUnits(t *testing.T) {
	s := newSegmenter("Is it done?! Yes... mostly. Version 1.2 shipped \"today.\" (see notes) trailing words", params(100, 0, 0))

	var got []string
	for _, u := range s.units(span{0, len(s.words)}, sentenceLevel) {
		got = append(got, s.text(u))
	}

	assert.Equal(t, []string{
		"Is it done?!",
		"Yes...",
		"mostly.",
		"Version 1.2 shipped \"today.\"",
		"(see notes) trailing words",
	}, got)
}

func TestChunker_SentenceKeepsParagraphBreaks(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})

	chunks, err := c.Chunk("First line.\nsame paragraph.\n\nNext one.", domain.ChunkStrategySentence, params(100, 0, 0))

	require.NoError(t, err)
	assert.Equal(t, []string{"First line.\nsame paragraph.\n\nNext one."}, contents(chunks))
}

func TestChunker_FixedRespectsWords(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	text := strings.TrimSpace(strings.Repeat("lorem ipsum ", 20))

	chunks, err := c.Chunk(text, domain.ChunkStrategyFixed, params(50, 0, 0))

	require.NoError(t, err)
	for _, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), 50)
		for _, w := range strings.Fields(ch.Content) {
			assert.Contains(t, []string{"lorem", "ipsum"}, w)
		}
	}
}

func TestChunker_FixedExactOffsets(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	text := strings.TrimSpace(strings.Repeat("lorem ipsum ", 20))
	p := params(50, 0, 0)
	p.RespectBoundaries = false

	chunks, err := c.Chunk(text, domain.ChunkStrategyFixed, p)

	require.NoError(t, err)
	require.Len(t, chunks, 5)
	for _, ch := range chunks[:4] {
		assert.Equal(t, 50, utf8.RuneCountInString(ch.Content))
	}
}

func TestChunker_FixedCutsOnlyOversizedWords(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	text := "ab " + strings.Repeat("x", 25) + " cd"

	chunks, err := c.Chunk(text, domain.ChunkStrategyFixed, params(10, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", strings.Repeat("x", 10), strings.Repeat("x", 10), strings.Repeat("x", 5), "cd"}, contents(chunks))

	chunks, err = c.Chunk(text, domain.ChunkStrategyFixed, params(10, 4, 0))
	require.NoError(t, err)
	assert.Equal(t, []string{"ab " + strings.Repeat("x", 7), strings.Repeat("x", 10), strings.Repeat("x", 8) + " cd"}, contents(chunks))
}

func TestChunker_MultiByteSafe(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	text := strings.Repeat("日本語のテキスト", 40)
	p := params(50, 0, 10)
	p.RespectBoundaries = false

	for _, strategy := range []domain.ChunkStrategy{domain.ChunkStrategyFixed, domain.ChunkStrategySlidingWindow} {
		chunks, err := c.Chunk(text, strategy, p)
		require.NoError(t, err)
		for _, ch := range chunks {
			assert.True(t, utf8.ValidString(ch.Content))
			assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), 50)
		}
	}
}

func TestChunker_SlidingWindowCount(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	text := strings.Repeat("abcdefghij", 100)

	tests := []struct {
		window  int
		overlap int
	}{
		{300, 50},
		{100, 0},
		{250, 100},
		{1000, 200},
		{2000, 100},
	}

	for _, tt := range tests {
		chunks, err := c.Chunk(text, domain.ChunkStrategySlidingWindow, params(tt.window, 0, tt.overlap))
		require.NoError(t, err)

		l := float64(len(text))
		expected := int(math.Ceil((l - float64(tt.overlap)) / float64(tt.window-tt.overlap)))
		if len(text) <= tt.window {
			expected = 1
		}
		assert.Equal(t, expected, len(chunks), "window=%d overlap=%d", tt.window, tt.overlap)
	}
}

func TestChunker_SlidingWindowOverlaps(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	text := strings.Repeat("abcdefghij", 100)

	chunks, err := c.Chunk(text, domain.ChunkStrategySlidingWindow, params(300, 50, 50))

	require.NoError(t, err)
	require.Len(t, chunks, 4)
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Content
		assert.True(t, strings.HasPrefix(chunks[i].Content, prev[len(prev)-50:]))
	}
	assert.True(t, strings.HasSuffix(chunks[3].Content, text[len(text)-10:]))
}

func TestChunker_MergesSmallChunks(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	p1 := strings.Repeat("a", 44) + "."
	p3 := strings.Repeat("b", 44) + "."

	chunks, err := c.Chunk(p1+"\n\nShort.\n\n"+p3, domain.ChunkStrategyParagraph, params(50, 20, 0))

	require.NoError(t, err)
	assert.Equal(t, []string{p1 + "\n\nShort.", p3}, contents(chunks))
}

func TestChunker_LeadingSmallChunkMergesForward(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	p := strings.Repeat("c", 47) + "."

	chunks, err := c.Chunk("Hi.\n\n"+p, domain.ChunkStrategyParagraph, params(50, 20, 0))

	require.NoError(t, err)
	assert.Equal(t, []string{"Hi.\n\n" + p}, contents(chunks))
}

func TestChunker_ShortSentenceJoinsPrevious(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	text := "The first sentence is long enough to stand. Ok. The third sentence is long enough too."

	chunks, err := c.Chunk(text, domain.ChunkStrategySentence, params(50, 10, 0))

	require.NoError(t, err)
	assert.Equal(t, []string{
		"The first sentence is long enough to stand. Ok.",
		"The third sentence is long enough too.",
	}, contents(chunks))
}

func TestChunker_OnlyChunkKeptWhenSmall(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})

	chunks, err := c.Chunk("Hi.", domain.ChunkStrategyParagraph, params(50, 20, 0))

	require.NoError(t, err)
	assert.Equal(t, []string{"Hi."}, contents(chunks))
}

func TestChunker_FlattenWithoutStructure(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})
	p := params(100, 0, 0)
	p.PreserveStructure = false

	chunks, err := c.Chunk("Line one.\n\nLine   two.", domain.ChunkStrategyParagraph, p)

	require.NoError(t, err)
	assert.Equal(t, []string{"Line one. Line two."}, contents(chunks))
}

func TestChunker_Defaults(t *testing.T) {
	c := NewChunker("", domain.ChunkParams{})

	chunks, err := c.Chunk(sampleDocument(), "", domain.ChunkParams{})

	require.NoError(t, err)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, EstimateTokens(ch.Content), ch.TokenCount)
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), domain.DefaultMaxChunkSize+domain.DefaultMinChunkSize)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 1, EstimateTokens("日本"))
}
