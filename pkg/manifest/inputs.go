package manifest

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// maxLineBytes bounds one input line.
const maxLineBytes = 1 << 20

// Files returns the files under the base directory matched by the include
// patterns and not by an exclude pattern, as slash-separated paths relative
// to the base directory, sorted.
func (in InputConfig) Files() ([]string, error) {
	return in.files(os.DirFS(in.baseDir()))
}

func (in InputConfig) baseDir() string {
	if in.BaseDir == "" {
		return "."
	}
	return in.BaseDir
}

func (in InputConfig) files(fsys fs.FS) ([]string, error) {
	seen := make(map[string]struct{})
	for _, pattern := range in.Includes {
		matches, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !in.IncludeHidden && hidden(m) {
				continue
			}
			if in.excluded(m) {
				continue
			}
			seen[m] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out, nil
}

func (in InputConfig) excluded(name string) bool {
	for _, p := range in.Excludes {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func hidden(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") && part != "." && part != ".." {
			return true
		}
	}
	return false
}

// Texts returns the inline texts followed by every non-empty line of every
// matched file, and the list of files read.
func (in InputConfig) Texts(ctx context.Context) ([]string, []string, error) {
	return in.texts(ctx, os.DirFS(in.baseDir()))
}

func (in InputConfig) texts(ctx context.Context, fsys fs.FS) ([]string, []string, error) {
	var texts []string
	for _, t := range in.Texts {
		if strings.TrimSpace(t) != "" {
			texts = append(texts, t)
		}
	}

	files, err := in.files(fsys)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		lines, err := readLines(fsys, name)
		if err != nil {
			return nil, nil, err
		}
		texts = append(texts, lines...)
	}
	return texts, files, nil
}

func readLines(fsys fs.FS, name string) ([]string, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path.Clean(name), err)
	}
	defer func() { _ = f.Close() }()

	var out []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return out, nil
}
