package books

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/akumar23/tts-webapp/logger"
)

const (
	// defaultMinChapterWords is the minimum word count for a detected
	// heading to count as a real chapter.
	defaultMinChapterWords = 100

	// defaultMaxChunkWords is the chunk size for the word-count fallback
	// split and for splitting long chapters.
	defaultMaxChunkWords = 5000

	// maxTitleLength truncates runaway heading lines.
	maxTitleLength = 100
)

// chapterHeadingPatterns match the heading conventions found in Gutenberg
// texts: CHAPTER/BOOK/PART followed by roman, arabic, or spelled-out
// numerals, plus bare "I." / "1." lines.
var chapterHeadingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(CHAPTER\s+[IVXLCDM]+\.?)\s*$`),
	regexp.MustCompile(`(?i)^(CHAPTER\s+\d+\.?)\s*$`),
	regexp.MustCompile(`(?i)^(CHAPTER\s+(?:ONE|TWO|THREE|FOUR|FIVE|SIX|SEVEN|EIGHT|NINE|TEN|ELEVEN|TWELVE|THIRTEEN|FOURTEEN|FIFTEEN|SIXTEEN|SEVENTEEN|EIGHTEEN|NINETEEN|TWENTY)[A-Za-z\-]*\.?)\s*$`),
	regexp.MustCompile(`^([IVXLCDM]+\.)\s*$`),
	regexp.MustCompile(`^(\d+\.)\s*$`),
	regexp.MustCompile(`(?i)^(BOOK\s+[IVXLCDM]+\.?)\s*$`),
	regexp.MustCompile(`(?i)^(BOOK\s+\d+\.?)\s*$`),
	regexp.MustCompile(`(?i)^(PART\s+[IVXLCDM]+\.?)\s*$`),
	regexp.MustCompile(`(?i)^(PART\s+\d+\.?)\s*$`),
}

// Parser splits book text into chapters.
type Parser struct {
	minChapterWords int
	maxChunkWords   int
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithMinChapterWords sets the minimum word count for a detected chapter.
func WithMinChapterWords(n int) ParserOption {
	return func(p *Parser) { p.minChapterWords = n }
}

// WithMaxChunkWords sets the chunk size for word-count splitting.
func WithMaxChunkWords(n int) ParserOption {
	return func(p *Parser) { p.maxChunkWords = n }
}

// NewParser creates a Parser with the default thresholds.
func NewParser(opts ...ParserOption) *Parser {
	p := &Parser{
		minChapterWords: defaultMinChapterWords,
		maxChunkWords:   defaultMaxChunkWords,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse splits text into chapters. Heading detection runs first; when no
// headings are found the text is split into fixed-size word chunks, and an
// empty result still yields one chapter holding the whole text.
func (p *Parser) Parse(text string) []Chapter {
	chapters := p.detectChapters(text)

	if len(chapters) == 0 {
		chapters = p.splitByWords(text, "Part")
	}
	if len(chapters) == 0 {
		chapters = []Chapter{newChapter(1, "Full Text", text)}
	}

	// Detected chapters can still be arbitrarily long; narration needs
	// each one under the chunk limit.
	var split []Chapter
	for i := range chapters {
		split = append(split, p.SplitLongChapter(chapters[i])...)
	}
	for i := range split {
		split[i].Number = i + 1
	}
	chapters = split

	total := 0
	for i := range chapters {
		total += chapters[i].WordCount
	}
	logger.Info("parsed chapters", "count", len(chapters), "total_words", total)
	return chapters
}

// SplitLongChapter splits a chapter exceeding the chunk size into parts
// titled "(Part i/n)". Chapters within the limit are returned unchanged.
func (p *Parser) SplitLongChapter(chapter Chapter) []Chapter {
	if chapter.WordCount <= p.maxChunkWords {
		return []Chapter{chapter}
	}

	parts := p.splitByWords(chapter.Text, chapter.Title)
	for i := range parts {
		parts[i].Title = fmt.Sprintf("%s (Part %d/%d)", chapter.Title, i+1, len(parts))
		parts[i].Number = chapter.Number
	}
	return parts
}

func (p *Parser) detectChapters(text string) []Chapter {
	lines := strings.Split(text, "\n")

	type marker struct {
		line  int
		title string
	}
	var starts []marker

	for i, line := range lines {
		stripped := strings.TrimSpace(line)
		if stripped == "" {
			continue
		}
		for _, pattern := range chapterHeadingPatterns {
			if !pattern.MatchString(stripped) {
				continue
			}
			title := stripped
			// A short capitalized line right after the heading is the
			// chapter's name ("CHAPTER I" / "Down the Rabbit-Hole").
			if i+1 < len(lines) {
				next := strings.TrimSpace(lines[i+1])
				if next != "" && len(next) < maxTitleLength && startsUpper(next) {
					title = stripped + ": " + next
				}
			}
			starts = append(starts, marker{line: i, title: title})
			break
		}
	}

	if len(starts) == 0 {
		return nil
	}

	var chapters []Chapter
	for idx, start := range starts {
		end := len(lines)
		if idx+1 < len(starts) {
			end = starts[idx+1].line
		}

		chapterText := strings.TrimSpace(strings.Join(lines[start.line:end], "\n"))
		if countWords(chapterText) < p.minChapterWords {
			continue
		}
		chapters = append(chapters, newChapter(len(chapters)+1, start.title, chapterText))
	}
	return chapters
}

func (p *Parser) splitByWords(text, titleBase string) []Chapter {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var chapters []Chapter
	for i := 0; i < len(words); i += p.maxChunkWords {
		end := min(i+p.maxChunkWords, len(words))
		number := len(chapters) + 1
		chapters = append(chapters, newChapter(number, fmt.Sprintf("%s %d", titleBase, number), strings.Join(words[i:end], " ")))
	}
	return chapters
}

var titleWhitespace = regexp.MustCompile(`\s+`)

func newChapter(number int, title, text string) Chapter {
	title = strings.TrimSpace(titleWhitespace.ReplaceAllString(title, " "))
	if len(title) > maxTitleLength {
		title = title[:maxTitleLength-3] + "..."
	}
	return Chapter{
		ID:          uuid.NewString()[:8],
		Number:      number,
		Title:       title,
		Text:        text,
		WordCount:   countWords(text),
		AudioStatus: StatusPending,
	}
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

func startsUpper(s string) bool {
	return s[0] >= 'A' && s[0] <= 'Z'
}

var (
	emphasisMarkers  = regexp.MustCompile(`_([^_]+)_`)
	whitespaceRuns   = regexp.MustCompile(`\s+`)
	trailingHyphenNL = regexp.MustCompile(`-\n\s*`)
)

// NormalizeForSpeech prepares chapter text for narration: hyphenated line
// breaks are rejoined, underscore emphasis markers are dropped, and all
// whitespace runs collapse to single spaces so hard-wrapped source lines
// read as continuous prose.
func NormalizeForSpeech(text string) string {
	text = trailingHyphenNL.ReplaceAllString(text, "")
	text = emphasisMarkers.ReplaceAllString(text, "$1")
	text = whitespaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
