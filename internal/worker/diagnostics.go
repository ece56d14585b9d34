package worker

import (
	"os"
	"path/filepath"
)

// readTail returns up to the last n bytes of path's content.
func readTail(path string, n int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	offset := int64(0)
	if info.Size() > n {
		offset = info.Size() - n
	}
	if _, err := f.Seek(offset, 0); err != nil {
		return "", err
	}
	buf := make([]byte, info.Size()-offset)
	if _, err := f.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// writeDiagnostic writes diagnostic content to path, creating parent dirs.
func writeDiagnostic(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}
