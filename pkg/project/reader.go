package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultManifest is the manifest file looked up in a project directory.
const DefaultManifest = "project.yaml"

// DefaultEntry is the mapping entry used when package.json does not name one.
const DefaultEntry = "./dist"

// Reader gives access to the files of a project package.
type Reader interface {
	// Root is the location the reader resolves relative paths against.
	Root() string
	// GetFile returns the contents of a file relative to Root.
	GetFile(name string) ([]byte, error)
}

// LocalReader reads a project from a directory on disk.
type LocalReader struct {
	root string
}

// NewLocalReader returns a reader rooted at dir.
func NewLocalReader(dir string) *LocalReader {
	return &LocalReader{root: dir}
}

func (r *LocalReader) Root() string {
	return r.root
}

func (r *LocalReader) GetFile(name string) ([]byte, error) {
	clean := path.Clean("/" + filepath.ToSlash(name))
	return os.ReadFile(filepath.Join(r.root, filepath.FromSlash(clean)))
}

// NewReader selects the reader for a project location once, at load time.
// A file location is treated as the manifest inside its directory.
func NewReader(location string) (Reader, string, error) {
	if strings.Contains(location, "://") {
		return nil, "", fmt.Errorf("unsupported project location %q: only local directories are supported", location)
	}

	info, err := os.Stat(location)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open project %s: %w", location, err)
	}

	if info.IsDir() {
		return NewLocalReader(location), DefaultManifest, nil
	}

	return NewLocalReader(filepath.Dir(location)), filepath.Base(location), nil
}

// ProjectEntry returns the mapping entry declared by package.json "main", or DefaultEntry.
func ProjectEntry(r Reader) (string, error) {
	raw, err := r.GetFile("package.json")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultEntry, nil
		}
		return "", fmt.Errorf("failed to read package.json within %s: %w", r.Root(), err)
	}

	var pkg struct {
		Main string `json:"main"`
	}
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return "", fmt.Errorf("failed to parse package.json within %s: %w", r.Root(), err)
	}

	if pkg.Main == "" {
		return DefaultEntry, nil
	}
	if !strings.HasPrefix(pkg.Main, "./") {
		return "./" + pkg.Main, nil
	}
	return pkg.Main, nil
}
