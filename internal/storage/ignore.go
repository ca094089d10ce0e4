package storage

import (
	"errors"
	"os"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

var defaultIgnoreLines = []string{
	"*.tmp",
	"*.conflict-*",
	"node_modules/",
}

// IgnoreList decides which untracked files are never offered for upload.
type IgnoreList struct {
	ignore *gitignore.GitIgnore
	rules  int
}

// LoadIgnoreList compiles the default rules plus those in the named file at
// the store root. A missing file only yields the defaults.
func LoadIgnoreList(store FileStore, name string) (*IgnoreList, error) {
	lines := append([]string(nil), defaultIgnoreLines...)
	rules := 0

	if name != "" {
		data, err := store.Read(name)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			lines = append(lines, line)
			rules++
		}
	}

	return &IgnoreList{ignore: gitignore.CompileIgnoreLines(lines...), rules: rules}, nil
}

// Rules returns the number of rules read from the ignore file.
func (l *IgnoreList) Rules() int {
	return l.rules
}

// ShouldIgnore reports whether the slash path matches a rule.
func (l *IgnoreList) ShouldIgnore(path string) bool {
	if l == nil || l.ignore == nil {
		return false
	}
	return l.ignore.MatchesPath(path)
}
