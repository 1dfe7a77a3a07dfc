package fs

import "path/filepath"

// IgnoreRules names the directory entries a listing leaves out. Every rule is
// a filepath.Match pattern tested against the base name of an entry.
type IgnoreRules struct {
	Dirs  []string `yaml:"dirs"`
	Files []string `yaml:"files"`
}

// DefaultIgnoreRules returns the rules used when none are configured.
func DefaultIgnoreRules() IgnoreRules {
	return IgnoreRules{
		Dirs: []string{
			".git", ".hg", ".svn", ".idea", ".vscode", ".vs",
			"node_modules", "dist", "target", "build", "out", "obj",
			"__pycache__", ".pytest_cache", ".mypy_cache", ".tox", ".venv", "venv",
			".next", ".nuxt", "coverage", ".gradle", ".cache", ".terraform",
		},
		Files: []string{
			".DS_Store", "Thumbs.db", "desktop.ini",
			"*.tmp", "*.swp", "*.swo", "*.bak", "*.orig", "*~",
			"*.log", "*.pyc", "*.o", "*.so", "*.class",
		},
	}
}

// Ignored reports whether an entry named name is left out of a listing.
func (r IgnoreRules) Ignored(name string, isDir bool) bool {
	patterns := r.Files
	if isDir {
		patterns = r.Dirs
	}
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
