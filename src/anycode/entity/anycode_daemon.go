// Package entity contains the domain types of the anycode-daemon service.
package entity

import (
	"github.com/gofrs/uuid"
	"go.lsp.dev/jsonrpc2"
)

type keyType string

// SessionContextKey indicates the key to be used to identify the session UUID in the context.
const SessionContextKey keyType = "SessionUUID"

// LanguagesConfigKey is the key that contains the configured language table.
const LanguagesConfigKey = "languages"

// DefaultLanguage is the language id of files no lexer or configured extension matches.
const DefaultLanguage = "text"

// Session entity representing a single connected editor session.
type Session struct {
	UUID uuid.UUID      `json:"uuid" zap:"uuid"`
	Conn *jsonrpc2.Conn `json:"-" zap:"-"`
}

// LanguageConfig is one entry of the configured language table.
type LanguageConfig struct {
	Name    string       `yaml:"name"`
	Types   []string     `yaml:"types"`
	Comment string       `yaml:"comment"`
	Indent  IndentConfig `yaml:"indent"`
}

// IndentConfig describes the indentation preferences of a language.
type IndentConfig struct {
	Width int    `yaml:"width"`
	Unit  string `yaml:"unit"`
}
