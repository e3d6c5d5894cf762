package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"dieseq/debug"
)

// LoadError reports a document that could not be read or decoded
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string { return fmt.Sprintf("load %s: %v", e.Path, e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// SaveError reports a document that could not be written. The previous file,
// if any, is left intact.
type SaveError struct {
	Path string
	Err  error
}

func (e *SaveError) Error() string { return fmt.Sprintf("save %s: %v", e.Path, e.Err) }
func (e *SaveError) Unwrap() error { return e.Err }

// Load reads the document at path. A missing file is not an error: a new
// empty document is returned so the editor can save to path later.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			debug.Log("project", "%s does not exist, starting empty", path)
			return NewDocument(), nil
		}
		return nil, &LoadError{Path: path, Err: err}
	}

	doc, err := Deserialize(data, FormatFor(path))
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	debug.Log("project", "loaded %s: %d notes", path, doc.Timeline.Len())
	return doc, nil
}

// Save writes doc to path through a temp file and rename, so a failed write
// never truncates an existing document
func Save(path string, doc *Document) error {
	data, err := Serialize(doc, FormatFor(path))
	if err != nil {
		return &SaveError{Path: path, Err: err}
	}
	if err := writeAtomic(path, data); err != nil {
		return &SaveError{Path: path, Err: err}
	}
	debug.Log("project", "saved %s: %d notes", path, doc.Timeline.Len())
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	// no-op once renamed
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
