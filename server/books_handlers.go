package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/akumar23/tts-webapp/books"
	"github.com/akumar23/tts-webapp/logger"
	"github.com/akumar23/tts-webapp/tts"
)

// bookSummary is the list/detail view of a book, without chapter text.
type bookSummary struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Author       string       `json:"author"`
	Source       books.Source `json:"source"`
	Language     string       `json:"language"`
	ChapterCount int          `json:"chapter_count"`
	TotalWords   int          `json:"total_words"`
}

func summarize(b *books.Book) bookSummary {
	return bookSummary{
		ID:           b.ID,
		Title:        b.Title,
		Author:       b.Author,
		Source:       b.Source,
		Language:     b.Language,
		ChapterCount: len(b.Chapters),
		TotalWords:   b.TotalWords,
	}
}

// chapterSummary is the chapter list view, without the text body.
type chapterSummary struct {
	ID          string       `json:"id"`
	Number      int          `json:"number"`
	Title       string       `json:"title"`
	WordCount   int          `json:"word_count"`
	AudioStatus books.Status `json:"audio_status"`
	AudioURL    string       `json:"audio_url,omitempty"`
}

// uploadBookRequest is the body of POST /v1/books/upload.
type uploadBookRequest struct {
	Title    string `json:"title"`
	Author   string `json:"author,omitempty"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// synthesizeChapterRequest is the body of chapter synthesis.
type synthesizeChapterRequest struct {
	Voice string  `json:"voice,omitempty"`
	Speed float64 `json:"speed,omitempty"`
}

// chapterAudioResponse reports finished narration with its word timings.
type chapterAudioResponse struct {
	ChapterID  string             `json:"chapter_id"`
	AudioURL   string             `json:"audio_url"`
	DurationMS float64            `json:"duration_ms"`
	WordCount  int                `json:"word_count"`
	Timings    []tts.WordBoundary `json:"timings"`
}

func (s *Server) handleBookSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeErrorMessage(w, http.StatusBadRequest, errTypeInvalidRequest, "query parameter q is required")
		return
	}
	language := r.URL.Query().Get("language")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	results, err := s.gutenberg.Search(r.Context(), query, language, page)
	if err != nil {
		writeErrorMessage(w, http.StatusBadGateway, errTypeUpstream, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleBookImport(w http.ResponseWriter, r *http.Request) {
	gutenbergID := r.PathValue("gutenbergID")

	meta, text, err := s.gutenberg.FetchBookText(r.Context(), gutenbergID)
	if err != nil {
		notFound(w, err.Error())
		return
	}

	chapters := s.parser.Parse(text)
	book := s.store.AddBook(&books.Book{
		Title:      meta.Title,
		Author:     meta.Author,
		Source:     books.SourceGutenberg,
		SourceID:   gutenbergID,
		Language:   meta.Language,
		Chapters:   chapters,
		TotalWords: totalWords(chapters),
	})

	logger.Info("imported book", "book_id", book.ID, "title", book.Title, "chapters", len(book.Chapters))
	writeJSON(w, http.StatusOK, summarize(book))
}

func (s *Server) handleBookUpload(w http.ResponseWriter, r *http.Request) {
	var req uploadBookRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, errTypeInvalidRequest, err.Error())
		return
	}
	if req.Title == "" || req.Text == "" {
		writeErrorMessage(w, http.StatusBadRequest, errTypeInvalidRequest, "title and text are required")
		return
	}
	if req.Language == "" {
		req.Language = "en"
	}

	chapters := s.parser.Parse(req.Text)
	book := s.store.AddBook(&books.Book{
		Title:      req.Title,
		Author:     req.Author,
		Source:     books.SourceUpload,
		Language:   req.Language,
		Chapters:   chapters,
		TotalWords: totalWords(chapters),
	})

	writeJSON(w, http.StatusOK, summarize(book))
}

func (s *Server) handleBookList(w http.ResponseWriter, _ *http.Request) {
	stored := s.store.ListBooks()
	summaries := make([]bookSummary, 0, len(stored))
	for _, b := range stored {
		summaries = append(summaries, summarize(b))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleBookGet(w http.ResponseWriter, r *http.Request) {
	book, ok := s.store.GetBook(r.PathValue("bookID"))
	if !ok {
		notFound(w, "Book not found")
		return
	}
	writeJSON(w, http.StatusOK, summarize(book))
}

func (s *Server) handleBookDelete(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("bookID")
	if !s.store.DeleteBook(bookID) {
		notFound(w, "Book not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "deleted",
		"book_id": bookID,
	})
}

func (s *Server) handleChapterList(w http.ResponseWriter, r *http.Request) {
	book, ok := s.store.GetBook(r.PathValue("bookID"))
	if !ok {
		notFound(w, "Book not found")
		return
	}

	summaries := make([]chapterSummary, 0, len(book.Chapters))
	for i := range book.Chapters {
		c := &book.Chapters[i]
		summaries = append(summaries, chapterSummary{
			ID:          c.ID,
			Number:      c.Number,
			Title:       c.Title,
			WordCount:   c.WordCount,
			AudioStatus: c.AudioStatus,
			AudioURL:    c.AudioURL,
		})
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleChapterGet(w http.ResponseWriter, r *http.Request) {
	chapter, ok := s.store.GetChapter(r.PathValue("bookID"), r.PathValue("chapterID"))
	if !ok {
		notFound(w, "Chapter not found")
		return
	}
	writeJSON(w, http.StatusOK, chapter)
}

func (s *Server) handleChapterSynthesize(w http.ResponseWriter, r *http.Request) {
	bookID := r.PathValue("bookID")
	chapterID := r.PathValue("chapterID")

	chapter, ok := s.store.GetChapter(bookID, chapterID)
	if !ok {
		notFound(w, "Chapter not found")
		return
	}
	if s.narrator == nil {
		writeErrorMessage(w, http.StatusServiceUnavailable, errTypeUnavailable, "narration is not configured")
		return
	}

	// An empty body narrates with the defaults.
	var req synthesizeChapterRequest
	if err := s.decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeErrorMessage(w, http.StatusBadRequest, errTypeInvalidRequest, err.Error())
		return
	}
	if err := checkSpeed(req.Speed, gatewayMinSpeed, gatewayMaxSpeed); err != nil {
		writeError(w, err)
		return
	}
	voice := req.Voice
	if voice == "" {
		voice = s.settings.DefaultVoice
	}

	s.store.UpdateChapterStatus(bookID, chapterID, books.StatusProcessing, "")

	text := books.NormalizeForSpeech(chapter.Text)
	result, err := s.narrator.SynthesizeWithTiming(r.Context(), text, tts.SynthesisConfig{
		Voice: voice,
		Speed: req.Speed,
	})
	if err != nil {
		s.store.UpdateChapterStatus(bookID, chapterID, books.StatusFailed, "")
		writeError(w, err)
		return
	}

	s.store.StoreAudio(chapterID, result.AudioData, result.DurationMS, result.WordTimings)

	audioURL := fmt.Sprintf("/v1/books/%s/chapters/%s/audio", bookID, chapterID)
	s.store.UpdateChapterStatus(bookID, chapterID, books.StatusCompleted, audioURL)

	logger.Info("chapter narrated",
		"book_id", bookID, "chapter_id", chapterID,
		"words", len(result.WordTimings), "duration_ms", result.DurationMS)

	writeJSON(w, http.StatusOK, chapterAudioResponse{
		ChapterID:  chapterID,
		AudioURL:   audioURL,
		DurationMS: result.DurationMS,
		WordCount:  len(result.WordTimings),
		Timings:    result.WordTimings,
	})
}

func (s *Server) handleChapterAudio(w http.ResponseWriter, r *http.Request) {
	chapter, audio, ok := s.completedChapterAudio(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="chapter_%d.mp3"`, chapter.Number))
	_, _ = w.Write(audio.Audio)
}

func (s *Server) handleChapterPlayback(w http.ResponseWriter, r *http.Request) {
	chapter, audio, ok := s.completedChapterAudio(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, chapterAudioResponse{
		ChapterID:  chapter.ID,
		AudioURL:   fmt.Sprintf("/v1/books/%s/chapters/%s/audio", r.PathValue("bookID"), chapter.ID),
		DurationMS: audio.DurationMS,
		WordCount:  len(audio.Timings),
		Timings:    audio.Timings,
	})
}

// completedChapterAudio loads a chapter and its stored narration, writing
// the 404 responses itself when either is missing or not yet completed.
func (s *Server) completedChapterAudio(w http.ResponseWriter, r *http.Request) (*books.Chapter, *books.ChapterAudio, bool) {
	chapter, ok := s.store.GetChapter(r.PathValue("bookID"), r.PathValue("chapterID"))
	if !ok {
		notFound(w, "Chapter not found")
		return nil, nil, false
	}
	if chapter.AudioStatus != books.StatusCompleted {
		notFound(w, fmt.Sprintf("Audio not ready. Status: %s", chapter.AudioStatus))
		return nil, nil, false
	}
	audio, ok := s.store.GetAudio(chapter.ID)
	if !ok {
		notFound(w, "Audio data not found")
		return nil, nil, false
	}
	return chapter, audio, true
}

func totalWords(chapters []books.Chapter) int {
	total := 0
	for i := range chapters {
		total += chapters[i].WordCount
	}
	return total
}
