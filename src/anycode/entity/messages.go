package entity

// Methods understood by the editor session endpoint.
const (
	MethodFileOpen   = "file:open"
	MethodFileEdit   = "file:edit"
	MethodFileChange = "file:change"
	MethodFileSave   = "file:save"
	MethodFileSet    = "file:set"
	MethodFileCreate = "file:create"
	MethodFileClose  = "file:close"
	MethodFileUndo   = "file:undo"
	MethodFileRedo   = "file:redo"
	MethodDirList    = "dir:list"
)

// Events relayed to sessions.
const (
	EventFileEdit       = "file:edit"
	EventFileChange     = "file:change"
	EventFileChanged    = "file:changed"
	EventFileCreated    = "file:created"
	EventDirCreated     = "dir:created"
	EventLSPDiagnostics = "lsp:diagnostics"
)

// Operation is the kind of a single inbound edit.
type Operation string

const (
	// OperationInsert inserts Text at Start.
	OperationInsert Operation = "insert"
	// OperationRemove removes Text, which must be the literal content, from Start.
	OperationRemove Operation = "remove"
)

// FileRequest addresses a file or, for dir:list, a directory by path.
type FileRequest struct {
	Path string `json:"path"`
}

// FileOpenResult is the reply to file:open, file:undo and file:redo.
// Content is always present, an empty file included.
type FileOpenResult struct {
	Content string `json:"content"`
	Path    string `json:"path"`
	Success bool   `json:"success"`
}

// FileErrorResult is the reply to file:open, file:undo, file:redo and dir:list when the request failed.
type FileErrorResult struct {
	Path    string `json:"path"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// EditOp is one edit addressed in UTF-16 code units from the start of the file.
type EditOp struct {
	Operation Operation `json:"operation"`
	Start     int       `json:"start"`
	Text      string    `json:"text"`
}

// FileEditRequest is a single edit to a file.
type FileEditRequest struct {
	File string `json:"file"`
	EditOp
}

// FileChangeRequest is a batch of edits to one file, applied in order.
type FileChangeRequest struct {
	File  string   `json:"file"`
	Edits []EditOp `json:"edits"`
}

// FileSetRequest overwrites the whole content of a file.
type FileSetRequest struct {
	File string `json:"file"`
	Text string `json:"text"`
}

// FileCloseRequest closes a file for the calling session.
type FileCloseRequest struct {
	File string `json:"file"`
}

// FileSaveResult is the reply to file:save and file:set.
type FileSaveResult struct {
	Success bool   `json:"success"`
	File    string `json:"file,omitempty"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CreateRequest creates a file or a directory below ParentPath.
type CreateRequest struct {
	ParentPath string `json:"parent_path"`
	Name       string `json:"name"`
	IsFile     bool   `json:"is_file"`
}

// CreateResult is the reply to file:create.
type CreateResult struct {
	Success bool   `json:"success"`
	File    string `json:"file,omitempty"`
	Dir     string `json:"dir,omitempty"`
	IsFile  bool   `json:"is_file"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DirListResult is the reply to dir:list. Files and Dirs hold base names in lexical order.
type DirListResult struct {
	Files        []string `json:"files"`
	Dirs         []string `json:"dirs"`
	Name         string   `json:"name"`
	Fullpath     string   `json:"fullpath"`
	RelativePath string   `json:"relative_path"`
}
