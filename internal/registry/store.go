package registry

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/xerrors"
)

// ArchiveStore holds package archives by storage key. Get on a missing key
// returns an error matching fs.ErrNotExist; Delete of a missing key is not
// an error.
type ArchiveStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// DiskStore keeps archives as files in one directory.
type DiskStore struct {
	dir string
}

// NewDiskStore returns a store rooted at dir. The directory is created on
// first write.
func NewDiskStore(dir string) *DiskStore {
	return &DiskStore{dir: dir}
}

// Dir returns the store's directory.
func (s *DiskStore) Dir() string { return s.dir }

func (s *DiskStore) path(key string) (string, error) {
	if !pathutil.IsSafeRelative(key) || filepath.Base(key) != key {
		return "", xerrors.Newf("invalid storage key %q", key)
	}
	return filepath.Join(s.dir, key), nil
}

func (s *DiskStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return xerrors.Wrapf(err, "create %s", s.dir)
	}
	return writeFileStaged(p, data, 0o644)
}

func (s *DiskStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read archive %s", key)
	}
	return b, nil
}

func (s *DiskStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return xerrors.Wrapf(err, "remove archive %s", key)
	}
	return nil
}
