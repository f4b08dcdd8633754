package snapshot

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// FormatVersion is written into every JSON snapshot.
const FormatVersion = 1

type jsonDocument struct {
	Version int      `json:"version"`
	Entries []Record `json:"entries"`
}

// JSONCodec stores records as one indented JSON document.
type JSONCodec struct{}

// Write encodes records to a temporary file next to path and renames it
// into place, so readers never observe a half-written snapshot.
func (JSONCodec) Write(path string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(jsonDocument{Version: FormatVersion, Entries: records}, "", "    ")
	if err != nil {
		return errors.Wrap(ErrFormat, err.Error())
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return ioErr("create", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ioErr("write", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ioErr("sync", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ioErr("close", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return ioErr("rename", path, err)
	}
	return nil
}

// Read decodes the document at path.
func (JSONCodec) Read(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioErr("read", path, err)
	}

	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(ErrFormat, "%s: %v", path, err)
	}
	if doc.Version != FormatVersion {
		return nil, errors.Wrapf(ErrFormat, "%s: unsupported version %d", path, doc.Version)
	}
	return doc.Entries, nil
}
