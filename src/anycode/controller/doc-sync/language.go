package docsync

import (
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"

	"github.com/anycode/anycode-backend/src/anycode/entity"
)

// _lexerAliases maps lexer names whose lowercase form is not the language id analysis services expect.
var _lexerAliases = map[string]string{
	"plaintext": entity.DefaultLanguage,
	"c++":       "cpp",
	"c#":        "csharp",
	"bash":      "shellscript",
}

// language infers the language id of a file from its name, then from the configured
// extension table, falling back to the generic text language.
func (c *controller) language(path string) string {
	if lexer := lexers.Match(filepath.Base(path)); lexer != nil {
		name := strings.ToLower(lexer.Config().Name)
		if alias, ok := _lexerAliases[name]; ok {
			return alias
		}
		return name
	}

	for _, l := range c.languages {
		for _, t := range l.Types {
			if strings.HasSuffix(path, t) {
				return l.Name
			}
		}
	}
	return entity.DefaultLanguage
}
