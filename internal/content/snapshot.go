package content

import (
	"io/fs"
	"os"
	"time"

	"github.com/keithlinneman/pagesite/internal/xerrors"
)

type Source string

const (
	SourceUnknown Source = "unknown"
	SourceDisk    Source = "disk"
	SourceS3      Source = "s3"
)

type Meta struct {
	// Version is what X-Content-Version reports: the short bundle hash, or
	// "live" for disk content
	Version    string
	Hash       string
	Signed     bool
	Source     Source
	VerifiedAt time.Time
}

type Snapshot struct {
	FS       fs.FS
	Meta     Meta
	LoadedAt time.Time

	generation uint64
}

// DiskSnapshot serves dir as-is. Edits show up on the next request. Lookups
// are confined to dir, symlinks that leave it fail to open.
func DiskSnapshot(dir string) (*Snapshot, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, xerrors.Wrapf(err, "content dir %s", dir)
	}
	if !fi.IsDir() {
		return nil, xerrors.Newf("content dir %s is not a directory", dir)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open content root %s", dir)
	}
	return &Snapshot{
		FS:       root.FS(),
		Meta:     Meta{Version: "live", Source: SourceDisk},
		LoadedAt: time.Now().UTC(),
	}, nil
}
