package books

import (
	"sync"

	"github.com/google/uuid"

	"github.com/akumar23/tts-webapp/tts"
)

// Source identifies where a book's text came from.
type Source string

const (
	SourceGutenberg Source = "gutenberg"
	SourceUpload    Source = "upload"
)

// Status is the audio lifecycle state of a chapter.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Chapter is one parsed chapter of a book.
type Chapter struct {
	ID          string `json:"id"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Text        string `json:"text"`
	WordCount   int    `json:"word_count"`
	AudioStatus Status `json:"audio_status"`
	AudioURL    string `json:"audio_url,omitempty"`
}

// Book is an imported book with its parsed chapters.
type Book struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	Source     Source    `json:"source"`
	SourceID   string    `json:"source_id,omitempty"`
	Language   string    `json:"language"`
	Chapters   []Chapter `json:"chapters"`
	TotalWords int       `json:"total_words"`
}

// ChapterAudio is stored narration audio with its word timings.
type ChapterAudio struct {
	Audio      []byte
	DurationMS float64
	Timings    []tts.WordBoundary
}

// Store is an in-memory book and chapter-audio store. All methods are safe
// for concurrent use.
type Store struct {
	mu    sync.RWMutex
	books map[string]*Book
	audio map[string]*ChapterAudio // keyed by chapter ID
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		books: make(map[string]*Book),
		audio: make(map[string]*ChapterAudio),
	}
}

// AddBook stores a book, assigning a short ID when none is set, and returns
// a snapshot of the stored book. The store takes ownership of book; callers
// must not mutate it afterwards.
func (s *Store) AddBook(book *Book) *Book {
	s.mu.Lock()
	defer s.mu.Unlock()

	if book.ID == "" {
		book.ID = uuid.NewString()[:8]
	}
	s.books[book.ID] = book
	return snapshotBook(book)
}

// GetBook returns a snapshot of the book with the given ID, or false.
// Mutations go through UpdateChapterStatus, never through the snapshot.
func (s *Store) GetBook(bookID string) (*Book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.books[bookID]
	if !ok {
		return nil, false
	}
	return snapshotBook(book), true
}

// ListBooks returns snapshots of all stored books.
func (s *Store) ListBooks() []*Book {
	s.mu.RLock()
	defer s.mu.RUnlock()

	books := make([]*Book, 0, len(s.books))
	for _, book := range s.books {
		books = append(books, snapshotBook(book))
	}
	return books
}

// DeleteBook removes a book and any stored chapter audio. It reports whether
// the book existed.
func (s *Store) DeleteBook(bookID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	book, ok := s.books[bookID]
	if !ok {
		return false
	}
	for i := range book.Chapters {
		delete(s.audio, book.Chapters[i].ID)
	}
	delete(s.books, bookID)
	return true
}

// GetChapter returns a snapshot of one chapter of a book, or false.
func (s *Store) GetChapter(bookID, chapterID string) (*Chapter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chapter, ok := s.findChapter(bookID, chapterID)
	if !ok {
		return nil, false
	}
	c := *chapter
	return &c, true
}

// UpdateChapterStatus sets a chapter's audio status and, when audioURL is
// non-empty, its audio URL. It reports whether the chapter was found.
func (s *Store) UpdateChapterStatus(bookID, chapterID string, status Status, audioURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	chapter, ok := s.findChapter(bookID, chapterID)
	if !ok {
		return false
	}
	chapter.AudioStatus = status
	if audioURL != "" {
		chapter.AudioURL = audioURL
	}
	return true
}

// StoreAudio saves narration audio and timings for a chapter.
func (s *Store) StoreAudio(chapterID string, audio []byte, durationMS float64, timings []tts.WordBoundary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audio[chapterID] = &ChapterAudio{
		Audio:      audio,
		DurationMS: durationMS,
		Timings:    timings,
	}
}

// GetAudio returns stored narration audio for a chapter, or false.
func (s *Store) GetAudio(chapterID string) (*ChapterAudio, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	audio, ok := s.audio[chapterID]
	return audio, ok
}

// snapshotBook copies a book, detaching its chapter slice from the store's
// locked state. Must be called with the lock held.
func snapshotBook(book *Book) *Book {
	out := *book
	out.Chapters = append([]Chapter(nil), book.Chapters...)
	return &out
}

// findChapter must be called with the lock held.
func (s *Store) findChapter(bookID, chapterID string) (*Chapter, bool) {
	book, ok := s.books[bookID]
	if !ok {
		return nil, false
	}
	for i := range book.Chapters {
		if book.Chapters[i].ID == chapterID {
			return &book.Chapters[i], true
		}
	}
	return nil, false
}
