package pages

import (
	"bufio"
	"io"
	"io/fs"
	"mime"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// OpenedFile is an open content file with what a response needs to describe
// it. The caller must Close File.
type OpenedFile struct {
	File        fs.File
	ContentType string
	Name        string
}

func (of *OpenedFile) Close() error {
	if of == nil || of.File == nil {
		return nil
	}
	return of.File.Close()
}

func init() {
	// not in every system mime table
	_ = mime.AddExtensionType(".md", "text/markdown; charset=utf-8")
	_ = mime.AddExtensionType(SidecarExt, "application/toml")
}

// sniffLen is what mimetype inspects by default
const sniffLen = 3072

// Open opens name in fsys and infers its content type, extension first then
// by sniffing the head of the file.
func Open(fsys fs.FS, name string) (*OpenedFile, error) {
	const op = "open"

	base := path.Base(name)
	if name == "" || strings.HasSuffix(name, "/") || base == "." || base == "/" {
		return nil, newError(InvalidName, op, name, nil)
	}

	f, err := fsys.Open(name)
	if err != nil {
		return nil, newError(NotFound, op, name, err)
	}

	if ct := mime.TypeByExtension(path.Ext(base)); ct != "" {
		return &OpenedFile{File: f, ContentType: ct, Name: base}, nil
	}

	// sniff without consuming: the peeked bytes stay in the reader
	br := bufio.NewReaderSize(f, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		_ = f.Close()
		return nil, newError(ReadFailure, op, name, err)
	}
	mt := mimetype.Detect(head)
	if mt == nil || mt.Is("application/octet-stream") {
		_ = f.Close()
		return nil, newError(UnknownContentType, op, name, nil)
	}
	return &OpenedFile{File: sniffedFile{File: f, r: br}, ContentType: mt.String(), Name: base}, nil
}

// sniffedFile reads through the buffer that was used to sniff the type
type sniffedFile struct {
	fs.File
	r io.Reader
}

func (s sniffedFile) Read(p []byte) (int, error) { return s.r.Read(p) }

// ReadAllText reads the rest of of as text.
func ReadAllText(of *OpenedFile) (string, error) {
	b, err := io.ReadAll(of.File)
	if err != nil {
		return "", newError(ReadFailure, "read", of.Name, err)
	}
	return string(b), nil
}
