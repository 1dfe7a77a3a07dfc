package errors

import (
	stderr "errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCustomErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "path resolution",
			err:  &PathResolutionError{Path: "a/b", Err: fs.ErrNotExist},
			want: `unable to resolve path "a/b": file does not exist`,
		},
		{
			name: "file access",
			err:  &FileAccessError{Op: "write", Path: "/tmp/x", Err: fs.ErrPermission},
			want: `write "/tmp/x": permission denied`,
		},
		{
			name: "offset out of range",
			err:  &OffsetOutOfRangeError{Offset: 12, Limit: 5},
			want: "offset 12 out of range [0, 5]",
		},
		{
			name: "unknown operation",
			err:  &UnknownOperationError{Operation: "rotate"},
			want: `unknown edit operation "rotate"`,
		},
		{
			name: "document size limit",
			err:  &DocumentSizeLimitError{Size: 10},
			want: "size of 10 bytes exceeds permitted limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.err)
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := fmt.Errorf("save: %w", &FileAccessError{Op: "write", Path: "/tmp/x", Err: fs.ErrPermission})
	assert.True(t, stderr.Is(err, fs.ErrPermission))

	err = &PathResolutionError{Path: "missing", Err: fs.ErrNotExist}
	assert.True(t, stderr.Is(err, fs.ErrNotExist))
	assert.True(t, IsPathResolution(fmt.Errorf("open: %w", err)))
	assert.False(t, IsPathResolution(fs.ErrNotExist))
}

func TestIsOutOfRange(t *testing.T) {
	assert.True(t, IsOutOfRange(fmt.Errorf("insert: %w", &OffsetOutOfRangeError{Offset: 3, Limit: 2})))
	assert.False(t, IsOutOfRange(New("other")))
}
