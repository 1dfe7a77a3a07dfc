package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIgnored(t *testing.T) {
	rules := DefaultIgnoreRules()

	tests := []struct {
		name  string
		isDir bool
		want  bool
	}{
		{name: ".git", isDir: true, want: true},
		{name: "node_modules", isDir: true, want: true},
		{name: "src", isDir: true, want: false},
		{name: "main.go", want: false},
		{name: "server.log", want: true},
		{name: "notes.txt~", want: true},
		{name: ".DS_Store", want: true},
		// Directory rules do not apply to files and the other way round.
		{name: "build", want: false},
		{name: "debug.log", isDir: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.Ignored(tt.name, tt.isDir))
		})
	}
}

func TestIgnoredMalformedPattern(t *testing.T) {
	rules := IgnoreRules{Files: []string{"[", "*.md"}}
	assert.True(t, rules.Ignored("README.md", false))
	assert.False(t, rules.Ignored("[", false))
}
