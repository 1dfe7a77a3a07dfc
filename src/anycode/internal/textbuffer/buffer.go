// Package textbuffer provides the character-addressed text storage of a document.
//
// A Buffer is a balanced rope: leaves hold UTF-8 chunks and every node caches
// the number of characters, bytes and line feeds below it, so splicing and
// line lookup cost O(log n) regardless of document size. All offsets are
// character (rune) indices. Lines are separated by '\n'; a "\r\n" terminator
// is excluded from the reported line length.
package textbuffer

import (
	"strings"

	"github.com/anycode/anycode-backend/src/anycode/internal/errors"
)

// Buffer is a mutable character sequence. The zero value is an empty buffer.
// A Buffer is not safe for concurrent use.
type Buffer struct {
	root *node
}

// New creates a buffer holding text.
func New(text string) *Buffer {
	return &Buffer{root: build(sanitize(text))}
}

// Len returns the number of characters in the buffer.
func (b *Buffer) Len() int { return chars(b.root) }

// Bytes returns the UTF-8 encoded size of the buffer.
func (b *Buffer) Bytes() int {
	if b.root == nil {
		return 0
	}
	return b.root.bytes
}

// LineCount returns the number of lines. An empty buffer has one line.
func (b *Buffer) LineCount() int {
	if b.root == nil {
		return 1
	}
	return b.root.lines + 1
}

// InsertAt splices text in before the character at offset.
func (b *Buffer) InsertAt(offset int, text string) error {
	if err := b.check(offset); err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	l, r := split(b.root, offset)
	b.root = join(join(l, build(sanitize(text))), r)
	return nil
}

// RemoveRange deletes the characters in [from, to).
func (b *Buffer) RemoveRange(from, to int) error {
	if err := b.checkRange(from, to); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	l, rest := split(b.root, from)
	_, r := split(rest, to-from)
	b.root = join(l, r)
	return nil
}

// Slice returns the characters in [from, to).
func (b *Buffer) Slice(from, to int) (string, error) {
	if err := b.checkRange(from, to); err != nil {
		return "", err
	}
	_, rest := split(b.root, from)
	mid, _ := split(rest, to-from)
	var sb strings.Builder
	walk(mid, func(s string) bool {
		sb.WriteString(s)
		return true
	})
	return sb.String(), nil
}

// LineStartOffset returns the character offset of the first character of line.
func (b *Buffer) LineStartOffset(line int) (int, error) {
	if line < 0 || line >= b.LineCount() {
		return 0, &errors.OffsetOutOfRangeError{Offset: line, Limit: b.LineCount() - 1}
	}
	if line == 0 {
		return 0, nil
	}
	return afterNewline(b.root, line), nil
}

// LineLength returns the number of characters on line, excluding its terminator.
func (b *Buffer) LineLength(line int) (int, error) {
	start, err := b.LineStartOffset(line)
	if err != nil {
		return 0, err
	}
	if line == b.LineCount()-1 {
		return b.Len() - start, nil
	}
	end := afterNewline(b.root, line+1) - 1
	if end > start && runeAt(b.root, end-1) == '\r' {
		end--
	}
	return end - start, nil
}

// LineOf returns the line holding the character at offset. Offset Len() is
// on the last line.
func (b *Buffer) LineOf(offset int) (int, error) {
	if err := b.check(offset); err != nil {
		return 0, err
	}
	return newlinesBefore(b.root, offset), nil
}

// Chunks calls fn with consecutive pieces of the content until fn returns false.
func (b *Buffer) Chunks(fn func(string) bool) {
	walk(b.root, fn)
}

// String returns the whole content.
func (b *Buffer) String() string {
	var sb strings.Builder
	sb.Grow(b.Bytes())
	b.Chunks(func(s string) bool {
		sb.WriteString(s)
		return true
	})
	return sb.String()
}

// ReplaceAll discards the content and replaces it with text.
func (b *Buffer) ReplaceAll(text string) {
	b.root = build(sanitize(text))
}

func (b *Buffer) check(offset int) error {
	if offset < 0 || offset > b.Len() {
		return &errors.OffsetOutOfRangeError{Offset: offset, Limit: b.Len()}
	}
	return nil
}

func (b *Buffer) checkRange(from, to int) error {
	if err := b.check(from); err != nil {
		return err
	}
	if err := b.check(to); err != nil {
		return err
	}
	if to < from {
		return &errors.OffsetOutOfRangeError{Offset: from, Limit: to}
	}
	return nil
}

// sanitize replaces invalid UTF-8 so that character counts stay stable when
// chunks are split and rejoined.
func sanitize(s string) string {
	return strings.ToValidUTF8(s, "�")
}
