package dispatcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/xid"
)

const maxNameAttempts = 3

// writeRecord writes the JSON document built for stem to dir/stem.json.
// The document is written to a hidden temp file and hard-linked into place,
// so readers never see a partial file and an existing record is never
// replaced. When the name is taken, an xid suffix is appended to the stem
// and the document is rebuilt for the new stem.
func writeRecord(dir, stem string, build func(stem string) any) (string, error) {
	name := stem
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		if attempt > 0 {
			name = stem + "_" + xid.New().String()
		}

		tmp, err := writeTemp(dir, build(name))
		if err != nil {
			return "", err
		}

		final := filepath.Join(dir, name+".json")
		err = publish(tmp, final)
		os.Remove(tmp)
		if err == nil {
			return final, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free record name for %s after %d attempts", stem, maxNameAttempts)
}

func writeTemp(dir string, v any) (string, error) {
	f, err := os.CreateTemp(dir, ".intake-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("encoding record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(f.Name(), 0644); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("setting record mode: %w", err)
	}
	return f.Name(), nil
}

// publish links tmp to final, failing with fs.ErrExist if final is present.
// Filesystems without hard links fall back to a checked rename.
func publish(tmp, final string) error {
	err := os.Link(tmp, final)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return err
	}
	if _, statErr := os.Lstat(final); statErr == nil {
		return fs.ErrExist
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publishing %s: %w", final, err)
	}
	return nil
}
