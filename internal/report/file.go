package report

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"scopetrace/internal/trace"
)

// DefaultFilePattern names report files; %d is the report number.
const DefaultFilePattern = "chrome_tracing_%03d.json"

const maxFileNumber = 100000

// ErrNoFreeName is returned when every numbered file name is taken.
var ErrNoFreeName = errors.New("no free report file name")

// WriteFile writes snap to the first numbered file in dir that does not
// exist yet and returns its path.
func WriteFile(dir, pattern string, snap trace.Snapshot, opts Options) (string, error) {
	if pattern == "" {
		pattern = DefaultFilePattern
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	for i := 1; i < maxFileNumber; i++ {
		path := filepath.Join(dir, fmt.Sprintf(pattern, i))
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create report: %w", err)
		}

		if err := Write(f, snap, opts); err != nil {
			_ = f.Close()
			return "", fmt.Errorf("%s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("%s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("%s: %w", filepath.Join(dir, pattern), ErrNoFreeName)
}
