package pages

import (
	"io/fs"
	"path"
	"strings"

	"github.com/keithlinneman/pagesite/internal/pathutil"
)

// SidecarExt marks metadata files. They describe content and are never
// served as pages.
const SidecarExt = ".toml"

type TargetKind int

const (
	KindFile TargetKind = iota + 1
	KindDirectory
)

func (k TargetKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	}
	return "unknown"
}

// Target is what a logical path resolved to. Path is relative to the
// content root.
type Target struct {
	Kind     TargetKind
	Path     string
	Markdown bool
}

func stem(name string) string { return strings.TrimSuffix(name, path.Ext(name)) }

// FindPage maps a logical path such as "projects/evolve-3d" to a directory
// or file in fsys. Entries of the parent are tried in enumeration order: a
// directory with a matching stem wins, then any non-sidecar file with a
// matching stem. Extensionless files never match. The content root itself
// is not resolved here.
func FindPage(fsys fs.FS, logical string) (Target, error) {
	const op = "find"

	name, ok := pathutil.CleanLogical(logical)
	if !ok || name == "" {
		return Target{}, newError(NotFound, op, logical, nil)
	}

	parent := path.Dir(name)
	searching := stem(path.Base(name))

	entries, err := fs.ReadDir(fsys, parent)
	if err != nil {
		return Target{}, newError(NotFound, op, logical, err)
	}

	for _, e := range entries {
		entName := e.Name()
		if e.IsDir() {
			if stem(entName) == searching {
				return Target{Kind: KindDirectory, Path: path.Join(parent, entName)}, nil
			}
			continue
		}
		ext := path.Ext(entName)
		if ext == "" || ext == SidecarExt {
			continue
		}
		if stem(entName) == searching {
			return Target{
				Kind:     KindFile,
				Path:     path.Join(parent, entName),
				Markdown: ext == ".md",
			}, nil
		}
	}
	return Target{}, newError(NotFound, op, logical, nil)
}
