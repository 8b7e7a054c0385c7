package ot

import (
	"sync"
	"unicode/utf8"
)

// Document holds the current text of one collaborative document.
// It is the critical section for that text and is safe for concurrent use.
type Document struct {
	mu      sync.RWMutex
	content string
}

// NewDocument creates a new document with the given initial content.
func NewDocument(initial string) *Document {
	return &Document{content: initial}
}

// Apply executes an operation on the document. The content is replaced
// only if the operation applies cleanly.
func (d *Document) Apply(op Operation) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next, err := Apply(d.content, op)
	if err != nil {
		return err
	}

	d.content = next

	return nil
}

// Content returns the current document content as a string.
func (d *Document) Content() string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.content
}

// Len returns the number of characters in the document.
func (d *Document) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return utf8.RuneCountInString(d.content)
}
