// Package protocol converts between the character offsets used to address a
// text buffer and the UTF-16 code unit coordinates spoken by analysis services.
package protocol

import (
	"unicode/utf8"

	"github.com/anycode/anycode-backend/src/anycode/internal/errors"
	"go.lsp.dev/protocol"
)

// UTF16Offset is a flat offset into a text measured in UTF-16 code units.
// It is a distinct type so it is never mistaken for a character offset.
type UTF16Offset int

// TextReader is the read-only view of a text buffer needed for position mapping.
type TextReader interface {
	Len() int
	LineOf(offset int) (int, error)
	LineStartOffset(line int) (int, error)
	LineLength(line int) (int, error)
	Slice(from, to int) (string, error)
	Chunks(fn func(string) bool)
}

// PositionMapper converts positions over the current content of a TextReader.
// It holds no state of its own and reflects every mutation of the reader.
type PositionMapper struct {
	text TextReader
}

// NewPositionMapper creates a mapper over text.
func NewPositionMapper(text TextReader) PositionMapper {
	return PositionMapper{text: text}
}

// ToLineColumn returns the line holding offset and the character column within it.
func (m PositionMapper) ToLineColumn(offset int) (line int, col int, err error) {
	line, err = m.text.LineOf(offset)
	if err != nil {
		return 0, 0, err
	}
	start, err := m.text.LineStartOffset(line)
	if err != nil {
		return 0, 0, err
	}
	return line, offset - start, nil
}

// ToUTF16Position returns the line holding offset and the number of UTF-16
// code units preceding offset on that line.
func (m PositionMapper) ToUTF16Position(offset int) (protocol.Position, error) {
	line, err := m.text.LineOf(offset)
	if err != nil {
		return protocol.Position{}, err
	}
	start, err := m.text.LineStartOffset(line)
	if err != nil {
		return protocol.Position{}, err
	}
	prefix, err := m.text.Slice(start, offset)
	if err != nil {
		return protocol.Position{}, err
	}
	return protocol.Position{Line: uint32(line), Character: uint32(UTF16Len(prefix))}, nil
}

// UTF16OffsetToCharOffset converts a flat UTF-16 offset into a character offset.
// An offset that falls between the two halves of a surrogate pair maps to the
// character following the pair.
func (m PositionMapper) UTF16OffsetToCharOffset(offset UTF16Offset) (int, error) {
	target := int(offset)
	if target < 0 {
		return 0, &errors.OffsetOutOfRangeError{Offset: target, Limit: 0}
	}
	chars, units := 0, 0
	m.text.Chunks(func(s string) bool {
		for _, r := range s {
			if units >= target {
				return false
			}
			units += runeUnits(r)
			chars++
		}
		return true
	})
	if units < target {
		return 0, &errors.OffsetOutOfRangeError{Offset: target, Limit: units}
	}
	return chars, nil
}

// CharOffset converts a line and character column into a character offset.
// The column may address the end of the line but never its terminator.
func (m PositionMapper) CharOffset(line, col int) (int, error) {
	start, err := m.text.LineStartOffset(line)
	if err != nil {
		return 0, err
	}
	length, err := m.text.LineLength(line)
	if err != nil {
		return 0, err
	}
	if col < 0 || col > length {
		return 0, &errors.OffsetOutOfRangeError{Offset: col, Limit: length}
	}
	return start + col, nil
}

// UTF16Len returns the number of codes in the UTF-16 transcoding of s.
func UTF16Len(s string) int {
	var n int
	for len(s) > 0 {
		// Fast path for ASCII.
		if s[0] < utf8.RuneSelf {
			n++
			s = s[1:]
			continue
		}

		r, size := utf8.DecodeRuneInString(s)
		n += runeUnits(r)
		s = s[size:]
	}
	return n
}

func runeUnits(r rune) int {
	if r >= 0x10000 {
		return 2 // surrogate pair
	}
	return 1
}
