package content

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"testing/fstest"

	"github.com/keithlinneman/pagesite/internal/pathutil"
)

// Limits bound what a bundle may expand to.
type Limits struct {
	Bundle int64 // compressed archive
	File   int64 // any single file
	Total  int64 // all files together
}

func DefaultLimits() Limits {
	return Limits{
		Bundle: 50 << 20,
		File:   10 << 20,
		Total:  100 << 20,
	}
}

var ErrTooLarge = errors.New("content: size limit exceeded")

// readWithHash reads r up to max bytes and returns the data with its hex
// SHA-256.
func readWithHash(r io.Reader, max int64) ([]byte, string, error) {
	h := sha256.New()
	data, err := io.ReadAll(io.TeeReader(io.LimitReader(r, max+1), h))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > max {
		return nil, "", fmt.Errorf("%w: bundle is over %d bytes", ErrTooLarge, max)
	}
	return data, hex.EncodeToString(h.Sum(nil)), nil
}

// extractTarGz unpacks a gzip'd tar into memory. Only regular files and
// directories are accepted and every name must stay inside the root.
func extractTarGz(data []byte, lim Limits) (fs.FS, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gr.Close()

	mfs := fstest.MapFS{}
	tr := tar.NewReader(gr)
	var total int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tar header: %w", err)
		}

		if path.IsAbs(hdr.Name) {
			return nil, fmt.Errorf("absolute path in archive: %q", hdr.Name)
		}
		// archives made with "tar -C dir ." prefix every name with ./
		raw := hdr.Name
		for strings.HasPrefix(raw, "./") {
			raw = raw[2:]
		}
		if raw == "." {
			continue
		}
		name, ok := pathutil.CleanLogical(raw)
		if !ok {
			return nil, fmt.Errorf("unsafe path in archive: %q", hdr.Name)
		}
		if name == "" {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			mfs[name] = &fstest.MapFile{Mode: fs.ModeDir | 0o755, ModTime: hdr.ModTime}
		case tar.TypeReg:
			if hdr.Size > lim.File {
				return nil, fmt.Errorf("%w: %s is %d bytes, max %d", ErrTooLarge, name, hdr.Size, lim.File)
			}
			b, err := io.ReadAll(io.LimitReader(tr, lim.File+1))
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", name, err)
			}
			if int64(len(b)) > lim.File {
				return nil, fmt.Errorf("%w: %s", ErrTooLarge, name)
			}
			total += int64(len(b))
			if total > lim.Total {
				return nil, fmt.Errorf("%w: extracted %d bytes, max %d", ErrTooLarge, total, lim.Total)
			}
			mfs[name] = &fstest.MapFile{
				Data:    b,
				Mode:    hdr.FileInfo().Mode().Perm(),
				ModTime: hdr.ModTime,
			}
		default:
			return nil, fmt.Errorf("unsupported entry %s in archive (type %q)", name, hdr.Typeflag)
		}
	}
	return mfs, nil
}
