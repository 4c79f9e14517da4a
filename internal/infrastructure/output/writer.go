package output

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bimakw/log-harvester/internal/domain/entities"
)

// Format identifies an output encoding
type Format string

const (
	FormatNDJSON    Format = "ndjson"
	FormatJSONArray Format = "json"
	FormatCSV       Format = "csv"
	FormatSQLite    Format = "sqlite"
)

// ParseFormat validates a format name from configuration
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatNDJSON:
		return FormatNDJSON, nil
	case FormatJSONArray:
		return FormatJSONArray, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatSQLite:
		return FormatSQLite, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Writer receives batches of records in ascending block order and flushes
// them to a destination. WriteLogs may be called many times; Finalize is
// called exactly once, after the last batch.
type Writer interface {
	WriteLogs(records []entities.LogRecord) error
	Finalize() error
}

// New opens a writer for the given format and destination path. An empty
// path means stdout for the text formats; SQLite requires a file path.
func New(format Format, path string, logger *zap.Logger) (Writer, error) {
	switch format {
	case FormatNDJSON:
		return NewJSONWriter(path, false, logger)
	case FormatJSONArray:
		return NewJSONWriter(path, true, logger)
	case FormatCSV:
		return NewCSVWriter(path, logger)
	case FormatSQLite:
		if path == "" {
			return nil, fmt.Errorf("sqlite output requires a file path")
		}
		return NewSQLiteWriter(path, logger)
	default:
		return nil, fmt.Errorf("unknown output format %q", format)
	}
}
