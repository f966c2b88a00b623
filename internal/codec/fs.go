package codec

import (
	"fmt"
	"io"
	"path"

	"github.com/go-git/go-billy/v6"
	"github.com/google/uuid"

	"github.com/lewtec/rotulador-bbox/internal/domain"
)

// WriteFileAtomic writes through a uuid-named temporary file in the same
// folder and renames it over filename once complete.
func WriteFileAtomic(fs billy.Filesystem, filename string, write func(w io.Writer) error) error {
	dir := path.Dir(filename)
	if dir != "." && dir != "/" {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("while creating folder %s: %w: %w", dir, domain.ErrPersistenceIO, err)
		}
	}
	tempFile := path.Join(dir, fmt.Sprintf(".%s.tmp", uuid.New()))
	f, err := fs.Create(tempFile)
	if err != nil {
		return fmt.Errorf("while creating %s: %w: %w", tempFile, domain.ErrPersistenceIO, err)
	}
	err = write(f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("while closing %s: %w: %w", tempFile, domain.ErrPersistenceIO, closeErr)
	}
	if err != nil {
		fs.Remove(tempFile)
		return err
	}
	if err := fs.Rename(tempFile, filename); err != nil {
		fs.Remove(tempFile)
		return fmt.Errorf("while renaming %s to %s: %w: %w", tempFile, filename, domain.ErrPersistenceIO, err)
	}
	return nil
}

// SaveJSON writes a document to filename atomically
func SaveJSON(fs billy.Filesystem, filename string, doc *Document) error {
	return WriteFileAtomic(fs, filename, func(w io.Writer) error {
		return Encode(w, doc)
	})
}

// LoadJSON reads and validates a document
func LoadJSON(fs billy.Filesystem, filename string) (*Document, error) {
	f, err := fs.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("while opening %s: %w: %w", filename, domain.ErrPersistenceIO, err)
	}
	defer f.Close()
	return Decode(f)
}

// LoadVOC reads every labelImg file in the list
func LoadVOC(fs billy.Filesystem, filenames []string) ([]*VOCAnnotation, error) {
	ret := make([]*VOCAnnotation, 0, len(filenames))
	for _, filename := range filenames {
		f, err := fs.Open(filename)
		if err != nil {
			return nil, fmt.Errorf("while opening %s: %w: %w", filename, domain.ErrPersistenceIO, err)
		}
		ann, err := ParseVOC(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("while reading %s: %w", filename, err)
		}
		ret = append(ret, ann)
	}
	return ret, nil
}

// LoadJSONLines reads training or prediction records from a file
func LoadJSONLines(fs billy.Filesystem, filename string) ([]TrainingRecord, error) {
	f, err := fs.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("while opening %s: %w: %w", filename, domain.ErrPersistenceIO, err)
	}
	defer f.Close()
	return ReadJSONLines(f)
}
