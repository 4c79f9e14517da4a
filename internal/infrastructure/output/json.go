package output

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/bimakw/log-harvester/internal/domain/entities"
)

// JSONWriter emits records either as newline-delimited JSON or as a single
// JSON array. Array mode tracks whether anything has been written yet so
// commas land between elements, not after them.
type JSONWriter struct {
	out          io.Writer
	buf          *bufio.Writer
	closer       io.Closer
	array        bool
	firstWritten bool
	finalized    bool
	logger       *zap.Logger
}

// NewJSONWriter opens a JSON writer. An empty path writes to stdout.
func NewJSONWriter(path string, array bool, logger *zap.Logger) (*JSONWriter, error) {
	out, closer, err := openDestination(path)
	if err != nil {
		return nil, err
	}

	w := &JSONWriter{
		out:    out,
		buf:    bufio.NewWriter(out),
		closer: closer,
		array:  array,
		logger: logger,
	}
	if array {
		if _, err := w.buf.WriteString("[\n"); err != nil {
			return nil, fmt.Errorf("failed to start json array: %w", err)
		}
	}
	return w, nil
}

func (w *JSONWriter) WriteLogs(records []entities.LogRecord) error {
	if w.finalized {
		return fmt.Errorf("write after finalize")
	}

	for _, rec := range records {
		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to encode log record: %w", err)
		}

		if w.array {
			if w.firstWritten {
				if _, err := w.buf.WriteString(",\n"); err != nil {
					return fmt.Errorf("failed to write separator: %w", err)
				}
			}
			if _, err := w.buf.WriteString("  "); err != nil {
				return fmt.Errorf("failed to write indent: %w", err)
			}
		}

		if _, err := w.buf.Write(encoded); err != nil {
			return fmt.Errorf("failed to write log record: %w", err)
		}
		if !w.array {
			if err := w.buf.WriteByte('\n'); err != nil {
				return fmt.Errorf("failed to write newline: %w", err)
			}
		}
		w.firstWritten = true
	}

	return nil
}

func (w *JSONWriter) Finalize() error {
	if w.finalized {
		return nil
	}
	w.finalized = true

	if w.array {
		if _, err := w.buf.WriteString("\n]\n"); err != nil {
			return fmt.Errorf("failed to close json array: %w", err)
		}
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			return fmt.Errorf("failed to close output file: %w", err)
		}
	}
	return nil
}

// openDestination resolves a path to a writer, with empty meaning stdout
func openDestination(path string) (io.Writer, io.Closer, error) {
	if path == "" {
		return os.Stdout, nil, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, f, nil
}
