package content

import (
	"io/fs"

	"github.com/keithlinneman/pagesite/internal/xerrors"
)

// IndexFile must exist in every tree, it backs the home page.
const IndexFile = "index.md"

type ValidationOptions struct {
	// MinFiles rejects trees with fewer files, 0 disables the check
	MinFiles int

	// RequireSigned rejects bundles whose signature was not checked
	RequireSigned bool
}

// ValidateSnapshot is run on every new snapshot before it is swapped in.
func ValidateSnapshot(snap *Snapshot, opts ValidationOptions) error {
	if snap == nil {
		return xerrors.New("validate: snapshot is nil")
	}
	if snap.FS == nil {
		return xerrors.New("validate: snapshot has no filesystem")
	}

	fi, err := fs.Stat(snap.FS, IndexFile)
	if err != nil {
		return xerrors.Wrapf(err, "validate: %s", IndexFile)
	}
	if fi.IsDir() || fi.Size() == 0 {
		return xerrors.Newf("validate: %s is empty", IndexFile)
	}

	if opts.MinFiles > 0 {
		n, err := countFiles(snap.FS)
		if err != nil {
			return xerrors.Wrap(err, "validate: counting files")
		}
		if n < opts.MinFiles {
			return xerrors.Newf("validate: %d files, want at least %d", n, opts.MinFiles)
		}
	}

	if opts.RequireSigned && !snap.Meta.Signed {
		return xerrors.New("validate: bundle signature was not verified")
	}
	return nil
}

func countFiles(fsys fs.FS) (int, error) {
	n := 0
	err := fs.WalkDir(fsys, ".", func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			n++
		}
		return nil
	})
	return n, err
}
