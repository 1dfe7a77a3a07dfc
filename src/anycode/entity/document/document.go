// Package document holds the in-memory state of one file: its text buffer,
// edit history and persistence metadata.
package document

import (
	stderr "errors"
	"io/fs"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/sergi/go-diff/diffmatchpatch"
	"go.lsp.dev/protocol"

	"github.com/anycode/anycode-backend/src/anycode/internal/errors"
	anycodefs "github.com/anycode/anycode-backend/src/anycode/internal/fs"
	docprotocol "github.com/anycode/anycode-backend/src/anycode/internal/protocol"
	"github.com/anycode/anycode-backend/src/anycode/internal/textbuffer"
)

// Edit describes the effect of one document operation.
type Edit struct {
	// Entries are the primitive entries applied, in application order.
	Entries []ChangeEntry
	// Changes are the same steps as incremental protocol changes. Each range is
	// expressed in the coordinates of the text left by the previous change.
	Changes []protocol.TextDocumentContentChangeEvent
}

func (e *Edit) append(other Edit) {
	e.Entries = append(e.Entries, other.Entries...)
	e.Changes = append(e.Changes, other.Changes...)
}

// Document is the authoritative in-memory copy of one file.
// A Document is not safe for concurrent use; callers serialize access.
type Document struct {
	path     string
	language string
	buf      *textbuffer.Buffer
	log      ChangeLog
	dirty    bool
	// persisted is the hash of the content last read from or written to disk.
	persisted uint64
	fs        anycodefs.FileSystem
}

// New creates a clean document for the canonical path holding text, which is
// taken to be the content on disk.
func New(fsys anycodefs.FileSystem, path, language, text string) *Document {
	return &Document{
		path:      path,
		language:  language,
		buf:       textbuffer.New(text),
		persisted: xxhash.Sum64String(text),
		fs:        fsys,
	}
}

// Path returns the canonical path of the document.
func (d *Document) Path() string { return d.path }

// Language returns the inferred language id of the document.
func (d *Document) Language() string { return d.language }

// Text returns the whole content.
func (d *Document) Text() string { return d.buf.String() }

// Len returns the number of characters in the document.
func (d *Document) Len() int { return d.buf.Len() }

// Bytes returns the UTF-8 encoded size of the document.
func (d *Document) Bytes() int { return d.buf.Bytes() }

// Dirty reports whether the document has changes that are not on disk.
func (d *Document) Dirty() bool { return d.dirty }

// Mapper returns a position mapper over the current content.
func (d *Document) Mapper() docprotocol.PositionMapper {
	return docprotocol.NewPositionMapper(d.buf)
}

// InsertText inserts text at a character offset.
func (d *Document) InsertText(text string, offset int) (Edit, error) {
	edit, err := d.insert(text, offset)
	if err != nil {
		return Edit{}, err
	}
	d.log.Record(edit.Entries[0])
	d.dirty = true
	return edit, nil
}

// InsertAt inserts text at a line and character column.
func (d *Document) InsertAt(text string, line, col int) (Edit, error) {
	offset, err := d.Mapper().CharOffset(line, col)
	if err != nil {
		return Edit{}, err
	}
	return d.InsertText(text, offset)
}

// RemoveText removes the characters in [from, to).
func (d *Document) RemoveText(from, to int) (Edit, error) {
	edit, err := d.remove(from, to)
	if err != nil {
		return Edit{}, err
	}
	d.log.Record(edit.Entries[0])
	d.dirty = true
	return edit, nil
}

// RemoveRange removes the characters between two line and column pairs.
func (d *Document) RemoveRange(line, col, endLine, endCol int) (Edit, error) {
	from, to, err := d.span(line, col, endLine, endCol)
	if err != nil {
		return Edit{}, err
	}
	return d.RemoveText(from, to)
}

// ReplaceText replaces the characters in [from, to) with text. The removal and
// the insertion are recorded as one group and undo together.
func (d *Document) ReplaceText(from, to int, text string) (Edit, error) {
	if err := d.checkSpan(from, to); err != nil {
		return Edit{}, err
	}
	var edit Edit
	d.log.BeginGroup()
	removed, err := d.RemoveText(from, to)
	if err != nil {
		d.log.EndGroup()
		return Edit{}, err
	}
	edit.append(removed)
	inserted, err := d.InsertText(text, from)
	d.log.EndGroup()
	if err != nil {
		return edit, err
	}
	edit.append(inserted)
	return edit, nil
}

// ReplaceRange replaces the characters between two line and column pairs.
func (d *Document) ReplaceRange(line, col, endLine, endCol int, text string) (Edit, error) {
	from, to, err := d.span(line, col, endLine, endCol)
	if err != nil {
		return Edit{}, err
	}
	return d.ReplaceText(from, to, text)
}

// SetText replaces the whole content. Only the differing middle of the text is
// rewritten, as one undoable group. The document is left dirty even when the
// text did not change, so the next Save writes it to disk.
func (d *Document) SetText(text string) (Edit, error) {
	edit, err := d.replaceChanged(text)
	if err != nil {
		return edit, err
	}
	d.dirty = true
	return edit, nil
}

// Undo reverts the most recent edit or group. It returns ErrNothingToUndo when
// the history is empty.
func (d *Document) Undo() (Edit, error) {
	var edit Edit
	_, err := d.log.Undo(func(e ChangeEntry) error {
		var step Edit
		var err error
		switch e.Kind {
		case KindInsert:
			step, err = d.remove(e.Offset, e.Offset+utf8.RuneCountInString(e.Text))
		case KindRemove:
			step, err = d.insert(e.Text, e.Offset)
		}
		edit.append(step)
		return err
	})
	if len(edit.Entries) > 0 {
		d.dirty = true
	}
	return edit, err
}

// Redo reapplies the most recently undone edit or group. It returns
// ErrNothingToRedo when there is nothing to reapply.
func (d *Document) Redo() (Edit, error) {
	var edit Edit
	_, err := d.log.Redo(func(e ChangeEntry) error {
		var step Edit
		var err error
		switch e.Kind {
		case KindInsert:
			step, err = d.insert(e.Text, e.Offset)
		case KindRemove:
			step, err = d.remove(e.Offset, e.Offset+utf8.RuneCountInString(e.Text))
		}
		edit.append(step)
		return err
	})
	if len(edit.Entries) > 0 {
		d.dirty = true
	}
	return edit, err
}

// Save writes the content to disk. It reports whether a write happened; a
// clean document is not written. The dirty flag is only cleared once the
// write succeeded.
func (d *Document) Save() (bool, error) {
	if !d.dirty {
		return false, nil
	}
	text := d.buf.String()
	if err := d.fs.WriteFile(d.path, text); err != nil {
		return false, &errors.FileAccessError{Op: "write", Path: d.path, Err: err}
	}
	d.persisted = xxhash.Sum64String(text)
	d.dirty = false
	return true, nil
}

// Reload replaces the content with what is on disk. It reports false when the
// disk holds the content last read or written by this document. After a
// reload the document is clean.
func (d *Document) Reload() (Edit, bool, error) {
	data, err := d.fs.ReadFile(d.path)
	if err != nil {
		return Edit{}, false, &errors.FileAccessError{Op: "read", Path: d.path, Err: err}
	}
	sum := xxhash.Sum64(data)
	if sum == d.persisted {
		return Edit{}, false, nil
	}
	edit, err := d.replaceChanged(string(data))
	if err != nil {
		return edit, false, err
	}
	d.persisted = sum
	d.dirty = false
	return edit, len(edit.Entries) > 0, nil
}

// EnsureExists creates the file and its parent directories if the file is
// missing. A file created concurrently by another caller is not an error.
func (d *Document) EnsureExists() error {
	exists, err := d.fs.FileExists(d.path)
	if err != nil {
		return &errors.FileAccessError{Op: "stat", Path: d.path, Err: err}
	}
	if exists {
		return nil
	}
	if err := d.fs.MkdirAll(filepath.Dir(d.path)); err != nil {
		return &errors.FileAccessError{Op: "mkdir", Path: filepath.Dir(d.path), Err: err}
	}
	if err := d.fs.CreateExclusive(d.path); err != nil && !stderr.Is(err, fs.ErrExist) {
		return &errors.FileAccessError{Op: "create", Path: d.path, Err: err}
	}
	return nil
}

// replaceChanged rewrites the content to text, limiting the replaced span to
// the characters between the common prefix and suffix of both versions.
func (d *Document) replaceChanged(text string) (Edit, error) {
	current := d.buf.String()
	if current == text {
		return Edit{}, nil
	}
	dmp := diffmatchpatch.New()
	prefix := dmp.DiffCommonPrefix(current, text)
	oldRunes, newRunes := []rune(current), []rune(text)
	suffix := dmp.DiffCommonSuffix(string(oldRunes[prefix:]), string(newRunes[prefix:]))
	return d.ReplaceText(prefix, len(oldRunes)-suffix, string(newRunes[prefix:len(newRunes)-suffix]))
}

// insert splices text into the buffer without touching the history.
func (d *Document) insert(text string, offset int) (Edit, error) {
	text = strings.ToValidUTF8(text, "\uFFFD")
	pos, err := d.Mapper().ToUTF16Position(offset)
	if err != nil {
		return Edit{}, err
	}
	if err := d.buf.InsertAt(offset, text); err != nil {
		return Edit{}, err
	}
	edit := Edit{Entries: []ChangeEntry{{Offset: offset, Kind: KindInsert, Text: text}}}
	if text != "" {
		edit.Changes = []protocol.TextDocumentContentChangeEvent{{
			Range: &protocol.Range{Start: pos, End: pos},
			Text:  text,
		}}
	}
	return edit, nil
}

// remove deletes [from, to) from the buffer without touching the history.
func (d *Document) remove(from, to int) (Edit, error) {
	if err := d.checkSpan(from, to); err != nil {
		return Edit{}, err
	}
	removed, err := d.buf.Slice(from, to)
	if err != nil {
		return Edit{}, err
	}
	mapper := d.Mapper()
	start, err := mapper.ToUTF16Position(from)
	if err != nil {
		return Edit{}, err
	}
	end, err := mapper.ToUTF16Position(to)
	if err != nil {
		return Edit{}, err
	}
	if err := d.buf.RemoveRange(from, to); err != nil {
		return Edit{}, err
	}
	edit := Edit{Entries: []ChangeEntry{{Offset: from, Kind: KindRemove, Text: removed}}}
	if removed != "" {
		edit.Changes = []protocol.TextDocumentContentChangeEvent{{
			Range: &protocol.Range{Start: start, End: end},
		}}
	}
	return edit, nil
}

func (d *Document) span(line, col, endLine, endCol int) (int, int, error) {
	mapper := d.Mapper()
	from, err := mapper.CharOffset(line, col)
	if err != nil {
		return 0, 0, err
	}
	to, err := mapper.CharOffset(endLine, endCol)
	if err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

func (d *Document) checkSpan(from, to int) error {
	n := d.buf.Len()
	switch {
	case from < 0 || from > n:
		return &errors.OffsetOutOfRangeError{Offset: from, Limit: n}
	case to < from || to > n:
		return &errors.OffsetOutOfRangeError{Offset: to, Limit: n}
	}
	return nil
}
