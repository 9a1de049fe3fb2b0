package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/keithlinneman/linnemanlabs-plugins/internal/plugin"
	"github.com/keithlinneman/linnemanlabs-plugins/internal/xerrors"
)

const pluginsMember = "plugins"

// Record is one installed plugin as persisted in the document.
type Record struct {
	plugin.Info

	// Archive is the storage key of the stored package.
	Archive     string    `json:"archive"`
	SHA256      string    `json:"sha256,omitempty"`
	InstalledAt time.Time `json:"installed_at,omitzero"`
}

// Document is the registry document. Only the plugins member is
// interpreted; every other member round-trips unchanged.
type Document struct {
	Plugins []Record

	extra map[string]json.RawMessage
}

var (
	errNotObject     = errors.New("root must be an object")
	errPluginsNotArr = errors.New(`"plugins" must be an array`)
)

func (d *Document) UnmarshalJSON(b []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj == nil {
		return errNotObject
	}
	d.Plugins = nil
	if raw, ok := obj[pluginsMember]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || trimmed[0] != '[' {
			return errPluginsNotArr
		}
		if err := json.Unmarshal(raw, &d.Plugins); err != nil {
			return xerrors.Wrap(err, "decode plugins")
		}
	}
	delete(obj, pluginsMember)
	d.extra = obj
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.extra)+1)
	for k, v := range d.extra {
		out[k] = v
	}
	plugins := d.Plugins
	if plugins == nil {
		plugins = []Record{}
	}
	raw, err := json.Marshal(plugins)
	if err != nil {
		return nil, err
	}
	out[pluginsMember] = raw
	return json.Marshal(out)
}

// loadDocument reads path. A missing or blank file is an empty document;
// anything unparsable is CorruptRegistry.
func loadDocument(path string) (*Document, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Document{}, nil
	}
	if err != nil {
		return nil, &plugin.Error{Kind: plugin.KindCorruptRegistry, Reason: "registry document is unreadable", Err: xerrors.Wrapf(err, "read %s", path)}
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return &Document{}, nil
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, &plugin.Error{Kind: plugin.KindCorruptRegistry, Reason: "registry document is not valid: " + err.Error(), Err: err}
	}
	return &doc, nil
}

// saveDocument writes doc to path through a staged temp file.
func saveDocument(path string, doc *Document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return xerrors.Wrap(err, "encode registry document")
	}
	b = append(b, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	return writeFileStaged(path, b, 0o644)
}

// writeFileStaged writes data to a temp file next to path, syncs it and
// renames it over path, so readers see the old or the new file, never a
// partial one.
func writeFileStaged(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return xerrors.Wrap(err, "create temp file")
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return xerrors.Wrapf(err, "write %s", tmpPath)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		cleanup()
		return xerrors.Wrapf(err, "chmod %s", tmpPath)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return xerrors.Wrapf(err, "sync %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return xerrors.Wrapf(err, "close %s", tmpPath)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return xerrors.Wrapf(err, "rename to %s", path)
	}
	return nil
}
