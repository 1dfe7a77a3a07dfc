// Package docsync keeps the one canonical in-memory copy of every file edited through the service.
package docsync

import (
	"context"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/uuid"
	"github.com/uber-go/tally"
	"go.lsp.dev/protocol"
	"go.uber.org/config"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/anycode/anycode-backend/src/anycode/entity"
	"github.com/anycode/anycode-backend/src/anycode/entity/document"
	"github.com/anycode/anycode-backend/src/anycode/gateway/analysis"
	"github.com/anycode/anycode-backend/src/anycode/gateway/broadcast"
	"github.com/anycode/anycode-backend/src/anycode/internal/errors"
	"github.com/anycode/anycode-backend/src/anycode/internal/fs"
	docprotocol "github.com/anycode/anycode-backend/src/anycode/internal/protocol"
	"github.com/anycode/anycode-backend/src/anycode/mapper"
)

const (
	_nameKey             = "doc-sync"
	_maxFileSizeKey      = "docSync.maxFileSizeBytes"
	_watchDebounceKey    = "docSync.watchDebounceMillis"
	_ignoreKey           = "docSync.ignore"
	_defaultDebounceMsec = 50
)

// Controller defines the interface for the document registry.
// Every operation runs as one ordered unit for the addressed document: the edit is applied, the
// analysis service is notified and the peers are relayed to before the next operation on the same
// document starts.
type Controller interface {
	// Open loads the document if needed and marks it open for the calling session.
	Open(ctx context.Context, path string) (*entity.FileOpenResult, error)
	// ApplyEdit applies one edit addressed in UTF-16 code units.
	ApplyEdit(ctx context.Context, path string, op entity.EditOp) error
	// ApplyChange applies a batch of edits in order as one unit.
	ApplyChange(ctx context.Context, path string, ops []entity.EditOp) error
	// Save writes a dirty document to disk and returns its canonical path.
	Save(ctx context.Context, path string) (string, error)
	// SetText replaces the whole content of a file, creating it if needed, and persists it.
	SetText(ctx context.Context, path, text string) (string, error)
	// Create creates an empty file or a directory.
	Create(ctx context.Context, req entity.CreateRequest) (*entity.CreateResult, error)
	// Close marks the document closed for the calling session.
	Close(ctx context.Context, path string) error
	// CloseSession closes every document the session still has open.
	CloseSession(ctx context.Context, id uuid.UUID) error
	// Undo reverts the most recent edit or group of the document.
	Undo(ctx context.Context, path string) (*entity.FileOpenResult, error)
	// Redo reapplies the most recently undone edit or group of the document.
	Redo(ctx context.Context, path string) (*entity.FileOpenResult, error)
	// Reload replaces a loaded document with its content on disk.
	Reload(ctx context.Context, path string) error
	// ListDir lists the files and directories below path, leaving out ignored entries.
	// An empty path lists the working directory.
	ListDir(ctx context.Context, path string) (*entity.DirListResult, error)
}

// Params are inbound parameters to initialize a new controller.
type Params struct {
	fx.In

	Analysis  analysis.Gateway
	Broadcast broadcast.Gateway
	Logger    *zap.SugaredLogger
	Stats     tally.Scope
	Config    config.Provider
	FS        fs.FileSystem
	Lifecycle fx.Lifecycle
}

// documentStoreEntry owns one document. Its mutex serializes every operation on the document.
type documentStoreEntry struct {
	mu       sync.Mutex
	doc      *document.Document
	sessions map[uuid.UUID]struct{}
	bytes    atomic.Int64
}

func (e *documentStoreEntry) isOpen() bool {
	return len(e.sessions) > 0
}

type controller struct {
	analysis         analysis.Gateway
	broadcast        broadcast.Gateway
	logger           *zap.SugaredLogger
	stats            tally.Scope
	fs               fs.FileSystem
	languages        []entity.LanguageConfig
	maxFileSizeBytes int64
	ignore           fs.IgnoreRules
	watcher          *watcher

	documents   map[string]*documentStoreEntry
	documentsMu sync.Mutex
}

// New creates a new document registry.
func New(p Params) (Controller, error) {
	var maxFileSizeBytes int64
	if err := p.Config.Get(_maxFileSizeKey).Populate(&maxFileSizeBytes); err != nil || maxFileSizeBytes == 0 {
		panic(fmt.Errorf("unable to get maximum file size from config: %w", err))
	}

	var languages []entity.LanguageConfig
	if err := p.Config.Get(entity.LanguagesConfigKey).Populate(&languages); err != nil {
		panic(fmt.Sprintf("getting configuration for %q: %v", entity.LanguagesConfigKey, err))
	}

	debounce := _defaultDebounceMsec
	if err := p.Config.Get(_watchDebounceKey).Populate(&debounce); err != nil {
		panic(fmt.Sprintf("getting configuration for %q: %v", _watchDebounceKey, err))
	}

	ignore := fs.DefaultIgnoreRules()
	if err := p.Config.Get(_ignoreKey).Populate(&ignore); err != nil {
		panic(fmt.Sprintf("getting configuration for %q: %v", _ignoreKey, err))
	}

	c := newController(p.Analysis, p.Broadcast, p.Logger, p.Stats, p.FS, languages, maxFileSizeBytes)
	c.ignore = ignore

	w, err := newWatcher(c.logger, msec(debounce), func(path string) {
		if err := c.Reload(context.Background(), path); err != nil {
			c.logger.Warnw("reloading externally modified document", "path", path, zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fs watcher for doc-sync: %w", err)
	}
	c.watcher = w
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			w.start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return w.close()
		},
	})
	return c, nil
}

func newController(a analysis.Gateway, b broadcast.Gateway, logger *zap.SugaredLogger, stats tally.Scope, fsys fs.FileSystem, languages []entity.LanguageConfig, maxFileSizeBytes int64) *controller {
	c := &controller{
		analysis:         a,
		broadcast:        b,
		logger:           logger.With("plugin", _nameKey),
		stats:            stats.SubScope("doc_sync"),
		fs:               fsys,
		languages:        languages,
		maxFileSizeBytes: maxFileSizeBytes,
		ignore:           fs.DefaultIgnoreRules(),
		documents:        make(map[string]*documentStoreEntry),
	}
	c.updateMetrics()
	return c
}

func (c *controller) Open(ctx context.Context, path string) (*entity.FileOpenResult, error) {
	canonical, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	e, err := c.lookup(canonical, false)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	text := e.doc.Text()
	if id, err := mapper.ContextToSessionUUID(ctx); err == nil {
		wasOpen := e.isOpen()
		e.sessions[id] = struct{}{}
		if !wasOpen {
			c.notify(c.analysis.DidOpen(ctx, e.doc.Language(), canonical, text), "didOpen", canonical)
		}
	}
	return &entity.FileOpenResult{Content: text, Path: canonical, Success: true}, nil
}

func (c *controller) ApplyEdit(ctx context.Context, path string, op entity.EditOp) error {
	canonical, err := c.resolve(path)
	if err != nil {
		return err
	}
	e, err := c.lookup(canonical, false)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	changes, applied, err := c.apply(e, op)
	c.changed(ctx, e, changes)
	if err != nil {
		return err
	}
	if applied {
		c.notify(c.broadcast.RelayToPeers(ctx, entity.EventFileEdit, entity.FileEditRequest{File: path, EditOp: op}), "relay", canonical)
	}
	return nil
}

func (c *controller) ApplyChange(ctx context.Context, path string, ops []entity.EditOp) error {
	canonical, err := c.resolve(path)
	if err != nil {
		return err
	}
	e, err := c.lookup(canonical, false)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	var changes []protocol.TextDocumentContentChangeEvent
	relayed := make([]entity.EditOp, 0, len(ops))
	for _, op := range ops {
		opChanges, applied, opErr := c.apply(e, op)
		changes = append(changes, opChanges...)
		if opErr != nil {
			err = opErr
			break
		}
		if applied {
			relayed = append(relayed, op)
		}
	}
	c.changed(ctx, e, changes)
	if len(relayed) > 0 {
		c.notify(c.broadcast.RelayToPeers(ctx, entity.EventFileChange, entity.FileChangeRequest{File: path, Edits: relayed}), "relay", canonical)
	}
	return err
}

func (c *controller) Save(ctx context.Context, path string) (string, error) {
	canonical, err := c.resolve(path)
	if err != nil {
		return "", err
	}
	e, err := c.lookup(canonical, false)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := c.save(ctx, e, nil); err != nil {
		return "", err
	}
	return canonical, nil
}

func (c *controller) SetText(ctx context.Context, path, text string) (string, error) {
	if size := int64(len(text)); size > c.maxFileSizeBytes {
		return "", &errors.DocumentSizeLimitError{Size: size}
	}
	canonical, err := c.resolveTarget(path)
	if err != nil {
		return "", err
	}
	e, err := c.lookup(canonical, true)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.doc.EnsureExists(); err != nil {
		return "", err
	}
	edit, err := e.doc.SetText(text)
	c.changed(ctx, e, edit.Changes)
	if err != nil {
		return "", err
	}
	if err := c.save(ctx, e, &text); err != nil {
		return "", err
	}
	c.notify(c.broadcast.RelayToPeers(ctx, entity.EventFileChanged, []string{canonical, text}), "relay", canonical)
	return canonical, nil
}

func (c *controller) Create(ctx context.Context, req entity.CreateRequest) (*entity.CreateResult, error) {
	canonical, err := c.resolveTarget(filepath.Join(req.ParentPath, req.Name))
	if err != nil {
		return nil, err
	}

	if !req.IsFile {
		if err := c.fs.MkdirAll(canonical); err != nil {
			return nil, &errors.FileAccessError{Op: "mkdir", Path: canonical, Err: err}
		}
		c.notify(c.broadcast.RelayToPeers(ctx, entity.EventDirCreated, canonical), "relay", canonical)
		return &entity.CreateResult{Success: true, Dir: canonical, IsFile: false}, nil
	}

	e, err := c.lookup(canonical, true)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.doc.EnsureExists(); err != nil {
		return nil, err
	}
	c.notify(c.broadcast.RelayToPeers(ctx, entity.EventFileCreated, canonical), "relay", canonical)
	return &entity.CreateResult{Success: true, File: canonical, IsFile: true}, nil
}

func (c *controller) Close(ctx context.Context, path string) error {
	id, err := mapper.ContextToSessionUUID(ctx)
	if err != nil {
		return err
	}
	canonical, err := c.resolve(path)
	if err != nil {
		return err
	}

	c.documentsMu.Lock()
	e, ok := c.documents[canonical]
	c.documentsMu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	c.closeFor(ctx, e, id)
	return nil
}

func (c *controller) CloseSession(ctx context.Context, id uuid.UUID) error {
	c.documentsMu.Lock()
	entries := make([]*documentStoreEntry, 0, len(c.documents))
	for _, e := range c.documents {
		entries = append(entries, e)
	}
	c.documentsMu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		c.closeFor(ctx, e, id)
		e.mu.Unlock()
	}
	return nil
}

func (c *controller) Undo(ctx context.Context, path string) (*entity.FileOpenResult, error) {
	return c.history(ctx, path, (*document.Document).Undo)
}

func (c *controller) Redo(ctx context.Context, path string) (*entity.FileOpenResult, error) {
	return c.history(ctx, path, (*document.Document).Redo)
}

func (c *controller) Reload(ctx context.Context, path string) error {
	canonical, err := c.resolve(path)
	if err != nil {
		return err
	}
	c.documentsMu.Lock()
	e, ok := c.documents[canonical]
	c.documentsMu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	edit, changed, err := e.doc.Reload()
	c.changed(ctx, e, edit.Changes)
	if err != nil || !changed {
		return err
	}
	c.stats.Counter("reloads").Inc(1)
	c.logger.Infow("reloaded externally modified document", "path", canonical)
	c.notify(c.broadcast.RelayToPeers(ctx, entity.EventFileChanged, []string{canonical, e.doc.Text()}), "relay", canonical)
	return nil
}

func (c *controller) ListDir(ctx context.Context, path string) (*entity.DirListResult, error) {
	root, err := c.resolve(".")
	if err != nil {
		return nil, err
	}
	dir := root
	switch strings.TrimSpace(path) {
	case "", ".", "./":
	default:
		if dir, err = c.resolve(path); err != nil {
			return nil, err
		}
	}

	isDir, err := c.fs.DirExists(dir)
	if err != nil {
		return nil, &errors.FileAccessError{Op: "stat", Path: dir, Err: err}
	}
	if !isDir {
		return nil, &errors.FileAccessError{Op: "list", Path: dir, Err: errors.NotADirectoryError}
	}
	entries, err := c.fs.ReadDir(dir)
	if err != nil {
		return nil, &errors.FileAccessError{Op: "list", Path: dir, Err: err}
	}

	result := &entity.DirListResult{
		Files:        make([]string, 0, len(entries)),
		Dirs:         make([]string, 0),
		Name:         filepath.Base(dir),
		Fullpath:     dir,
		RelativePath: dir,
	}
	if rel, err := filepath.Rel(root, dir); err == nil {
		result.RelativePath = rel
	}
	for _, entry := range entries {
		name := entry.Name()
		entryIsDir := entry.IsDir()
		if entry.Type()&iofs.ModeSymlink != 0 {
			// A link counts as what it points to. A dangling link is listed as a file.
			entryIsDir, _ = c.fs.DirExists(filepath.Join(dir, name))
		}
		if c.ignore.Ignored(name, entryIsDir) {
			continue
		}
		if entryIsDir {
			result.Dirs = append(result.Dirs, name)
		} else {
			result.Files = append(result.Files, name)
		}
	}
	sort.Strings(result.Dirs)
	sort.Strings(result.Files)
	return result, nil
}

func (c *controller) history(ctx context.Context, path string, step func(*document.Document) (document.Edit, error)) (*entity.FileOpenResult, error) {
	canonical, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	e, err := c.lookup(canonical, false)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	edit, err := step(e.doc)
	c.changed(ctx, e, edit.Changes)
	if err != nil {
		return nil, err
	}
	text := e.doc.Text()
	c.notify(c.broadcast.RelayToPeers(ctx, entity.EventFileChanged, []string{canonical, text}), "relay", canonical)
	return &entity.FileOpenResult{Content: text, Path: canonical, Success: true}, nil
}

// apply performs one inbound edit. It reports false for an unknown operation, which is ignored.
func (c *controller) apply(e *documentStoreEntry, op entity.EditOp) ([]protocol.TextDocumentContentChangeEvent, bool, error) {
	positions := e.doc.Mapper()
	start, err := positions.UTF16OffsetToCharOffset(docprotocol.UTF16Offset(op.Start))
	if err != nil {
		return nil, false, err
	}

	var edit document.Edit
	switch op.Operation {
	case entity.OperationInsert:
		if size := int64(e.doc.Bytes() + len(op.Text)); size > c.maxFileSizeBytes {
			return nil, false, &errors.DocumentSizeLimitError{Size: size}
		}
		edit, err = e.doc.InsertText(op.Text, start)
	case entity.OperationRemove:
		var end int
		end, err = positions.UTF16OffsetToCharOffset(docprotocol.UTF16Offset(op.Start + docprotocol.UTF16Len(op.Text)))
		if err != nil {
			return nil, false, err
		}
		edit, err = e.doc.RemoveText(start, end)
	default:
		c.stats.Counter("unknown_operations").Inc(1)
		c.logger.Warnw("ignoring edit", "path", e.doc.Path(), zap.Error(&errors.UnknownOperationError{Operation: string(op.Operation)}))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	c.stats.Counter("edits").Inc(1)
	return edit.Changes, true, nil
}

// changed forwards applied changes to the analysis service while the document is open.
func (c *controller) changed(ctx context.Context, e *documentStoreEntry, changes []protocol.TextDocumentContentChangeEvent) {
	if len(changes) == 0 {
		return
	}
	e.bytes.Store(int64(e.doc.Bytes()))
	c.updateMetrics()
	if !e.isOpen() {
		return
	}
	c.notify(c.analysis.DidChange(ctx, e.doc.Language(), e.doc.Path(), e.doc.Text(), changes), "didChange", e.doc.Path())
}

func (c *controller) save(ctx context.Context, e *documentStoreEntry, text *string) error {
	wrote, err := e.doc.Save()
	if err != nil {
		c.stats.Counter("save_errors").Inc(1)
		return err
	}
	if wrote {
		c.stats.Counter("saves").Inc(1)
	}
	if e.isOpen() {
		c.notify(c.analysis.DidSave(ctx, e.doc.Language(), e.doc.Path(), text), "didSave", e.doc.Path())
	}
	return nil
}

func (c *controller) closeFor(ctx context.Context, e *documentStoreEntry, id uuid.UUID) {
	if _, ok := e.sessions[id]; !ok {
		return
	}
	delete(e.sessions, id)
	if !e.isOpen() {
		c.notify(c.analysis.DidClose(ctx, e.doc.Language(), e.doc.Path()), "didClose", e.doc.Path())
	}
}

// lookup returns the entry for a canonical path, loading the document from disk on first use.
// With create set, a file that does not exist yet gets an empty document.
// Nothing is stored when loading fails.
func (c *controller) lookup(canonical string, create bool) (*documentStoreEntry, error) {
	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()

	if e, ok := c.documents[canonical]; ok {
		return e, nil
	}

	doc, err := c.load(canonical, create)
	if err != nil {
		return nil, err
	}
	e := &documentStoreEntry{
		doc:      doc,
		sessions: make(map[uuid.UUID]struct{}),
	}
	e.bytes.Store(int64(doc.Bytes()))
	c.documents[canonical] = e
	defer c.updateMetricsLocked()

	if c.watcher != nil {
		if err := c.watcher.track(canonical); err != nil {
			c.logger.Warnw("watching document", "path", canonical, zap.Error(err))
		}
	}
	return e, nil
}

func (c *controller) load(canonical string, create bool) (*document.Document, error) {
	language := c.language(canonical)
	if create {
		exists, err := c.fs.FileExists(canonical)
		if err != nil {
			return nil, &errors.FileAccessError{Op: "stat", Path: canonical, Err: err}
		}
		if !exists {
			return document.New(c.fs, canonical, language, ""), nil
		}
	}

	data, err := c.fs.ReadFile(canonical)
	if err != nil {
		return nil, &errors.FileAccessError{Op: "read", Path: canonical, Err: err}
	}
	if size := int64(len(data)); size > c.maxFileSizeBytes {
		return nil, &errors.DocumentSizeLimitError{Size: size}
	}
	return document.New(c.fs, canonical, language, string(data)), nil
}

// resolve canonicalizes a path that must exist.
func (c *controller) resolve(path string) (string, error) {
	canonical, err := c.fs.Canonical(path)
	if err != nil {
		return "", &errors.PathResolutionError{Path: path, Err: err}
	}
	return canonical, nil
}

// resolveTarget canonicalizes a path that may not exist yet.
func (c *controller) resolveTarget(path string) (string, error) {
	canonical, err := c.fs.CanonicalTarget(path)
	if err != nil {
		return "", &errors.PathResolutionError{Path: path, Err: err}
	}
	return canonical, nil
}

// notify logs a failed call to a collaborator. Such failures never undo a local change.
func (c *controller) notify(err error, call, path string) {
	if err == nil {
		return
	}
	c.logger.Warnw(call+" failed", "path", path, zap.Error(err))
}

func (c *controller) updateMetrics() {
	c.documentsMu.Lock()
	defer c.documentsMu.Unlock()
	c.updateMetricsLocked()
}

func (c *controller) updateMetricsLocked() {
	var total int64
	for _, e := range c.documents {
		total += e.bytes.Load()
	}
	c.stats.Gauge("open_docs").Update(float64(len(c.documents)))
	c.stats.Gauge("open_bytes").Update(float64(total))
}
