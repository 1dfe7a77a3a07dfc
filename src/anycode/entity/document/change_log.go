package document

import "github.com/anycode/anycode-backend/src/anycode/internal/errors"

var (
	// ErrNothingToUndo is returned by Undo when the undo history is empty.
	ErrNothingToUndo = errors.New("nothing to undo")
	// ErrNothingToRedo is returned by Redo when the redo history is empty.
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Kind identifies the type of a ChangeEntry.
type Kind int

const (
	// KindInsert records that Text was inserted at Offset.
	KindInsert Kind = iota
	// KindRemove records that Text was removed from Offset.
	KindRemove
	// KindGroupStart opens a composite edit.
	KindGroupStart
	// KindGroupEnd closes a composite edit.
	KindGroupEnd
)

func (k Kind) String() string {
	switch k {
	case KindInsert:
		return "insert"
	case KindRemove:
		return "remove"
	case KindGroupStart:
		return "group_start"
	case KindGroupEnd:
		return "group_end"
	default:
		return "unknown"
	}
}

// ChangeEntry is one step of the edit history. Offsets are character offsets.
type ChangeEntry struct {
	Offset int
	Kind   Kind
	Text   string
}

// ChangeLog holds the undo and redo stacks of a document.
//
// Composite edits are bracketed by KindGroupStart and KindGroupEnd. Replaying
// a group moves its sentinels to the opposite stack along with its entries, so
// a group undoes and redoes as one unit.
type ChangeLog struct {
	undo []ChangeEntry
	redo []ChangeEntry
}

// Record pushes a new entry onto the undo stack and discards the redo stack.
func (l *ChangeLog) Record(entry ChangeEntry) {
	l.undo = append(l.undo, entry)
	l.redo = l.redo[:0]
}

// BeginGroup opens a composite edit.
func (l *ChangeLog) BeginGroup() { l.Record(ChangeEntry{Kind: KindGroupStart}) }

// EndGroup closes a composite edit.
func (l *ChangeLog) EndGroup() { l.Record(ChangeEntry{Kind: KindGroupEnd}) }

// Undo pops the most recent edit, or the most recent group of edits, and calls
// revert for each primitive entry in pop order. The reverted entries are moved
// onto the redo stack and returned.
func (l *ChangeLog) Undo(revert func(ChangeEntry) error) ([]ChangeEntry, error) {
	applied, err := replay(&l.undo, &l.redo, KindGroupEnd, KindGroupStart, revert)
	if err == nil && len(applied) == 0 {
		return nil, ErrNothingToUndo
	}
	return applied, err
}

// Redo pops the most recently undone edit or group and calls apply for each
// primitive entry in its original order. The entries move back onto the undo
// stack.
func (l *ChangeLog) Redo(apply func(ChangeEntry) error) ([]ChangeEntry, error) {
	applied, err := replay(&l.redo, &l.undo, KindGroupStart, KindGroupEnd, apply)
	if err == nil && len(applied) == 0 {
		return nil, ErrNothingToRedo
	}
	return applied, err
}

// replay moves one unit from the top of from onto to. A unit is either a single
// primitive entry or everything between an opening sentinel and its matching
// closing sentinel. A closing sentinel with no open group is discarded. When
// from runs out inside a group the group is closed implicitly, so the entries
// already applied stay consistent with both stacks. A group holding no
// primitive entries is discarded.
func replay(from, to *[]ChangeEntry, opener, closer Kind, apply func(ChangeEntry) error) ([]ChangeEntry, error) {
	var (
		applied  []ChangeEntry
		applyErr error
	)
	mark := len(*to)
	depth := 0
loop:
	for len(*from) > 0 {
		last := len(*from) - 1
		entry := (*from)[last]
		*from = (*from)[:last]

		switch entry.Kind {
		case opener:
			depth++
			*to = append(*to, entry)
			continue
		case closer:
			if depth == 0 {
				continue
			}
			depth--
			*to = append(*to, entry)
		default:
			if err := apply(entry); err != nil {
				*from = append(*from, entry)
				applyErr = err
				break loop
			}
			applied = append(applied, entry)
			*to = append(*to, entry)
		}
		if depth == 0 {
			break
		}
	}
	for ; depth > 0; depth-- {
		*to = append(*to, ChangeEntry{Kind: closer})
	}
	if len(applied) == 0 {
		*to = (*to)[:mark]
	}
	return applied, applyErr
}
