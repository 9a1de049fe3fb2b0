package plugin

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/xerrors"
)

const (
	// MaxPackageSize is the default limit on an uploaded package
	MaxPackageSize int64 = 50 * 1024 * 1024 // 50MB

	// maxSingleFile is the maximum decompressed size of one archive member
	maxSingleFile int64 = 10 * 1024 * 1024 // 10MB

	// maxTotalExtract is the maximum decompressed bytes read from one archive
	maxTotalExtract int64 = 100 * 1024 * 1024 // 100MB

	// maxManifestSize bounds metadata.json
	maxManifestSize int64 = 1024 * 1024 // 1MB
)

var errTooLarge = errors.New("archive member exceeds size limit")

// Archive is a read-only view of a zip package. The central directory is
// indexed once on open.
type Archive struct {
	files     map[string]*zip.File
	remaining int64
}

// OpenArchive parses the archive index. Failure is CorruptArchive.
func OpenArchive(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &Error{Kind: KindCorruptArchive, Reason: "File is not a valid zip archive", Err: err}
	}
	a := &Archive{
		files:     make(map[string]*zip.File, len(zr.File)),
		remaining: maxTotalExtract,
	}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		// first occurrence wins for duplicate names
		if _, dup := a.files[f.Name]; !dup {
			a.files[f.Name] = f
		}
	}
	return a, nil
}

// ReadFile returns the decompressed content of name. A missing member
// yields an error matching fs.ErrNotExist.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	return a.readLimited(name, maxSingleFile)
}

func (a *Archive) readLimited(name string, limit int64) ([]byte, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if limit > a.remaining {
		limit = a.remaining
	}
	if f.UncompressedSize64 > uint64(limit) {
		return nil, xerrors.Wrapf(errTooLarge, "%s (%d bytes, limit %d)", name, f.UncompressedSize64, limit)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, xerrors.Wrapf(err, "open %s", name)
	}
	defer rc.Close()

	lr := io.LimitReader(rc, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", name)
	}
	if int64(len(data)) > limit {
		return nil, xerrors.Wrapf(errTooLarge, "%s (limit %d)", name, limit)
	}
	a.remaining -= int64(len(data))
	return data, nil
}

// ReadManifest reads and checks metadata.json from the archive root.
func ReadManifest(a *Archive, types *TypeTable) (Manifest, error) {
	raw, err := a.readLimited(ManifestFile, maxManifestSize)
	if errors.Is(err, fs.ErrNotExist) {
		return Manifest{}, &Error{
			Kind:   KindMissingManifest,
			Reason: fmt.Sprintf("Zip must contain a %s at its root", ManifestFile),
			Err:    err,
		}
	}
	if err != nil {
		return Manifest{}, &Error{
			Kind:   KindInvalidManifestEncoding,
			Reason: fmt.Sprintf("Failed to read %s", ManifestFile),
			Err:    err,
		}
	}
	return ParseManifest(raw, types)
}
