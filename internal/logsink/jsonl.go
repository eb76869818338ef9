package logsink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/minivault/minivault/internal/domain"
)

// JSONLAppender appends one JSON document per line to a log file. The file
// handle is opened lazily and dropped on write failure so the next retry
// reopens it, which lets the sink ride out a temporarily unwritable
// destination.
type JSONLAppender struct {
	path string
	file *os.File
}

func NewJSONLAppender(path string) *JSONLAppender {
	return &JSONLAppender{path: path}
}

func (a *JSONLAppender) Append(rec domain.LogRecord) error {
	if a.file == nil {
		if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.file = f
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	if _, err := a.file.Write(append(data, '\n')); err != nil {
		a.file.Close()
		a.file = nil
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (a *JSONLAppender) Close() error {
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
