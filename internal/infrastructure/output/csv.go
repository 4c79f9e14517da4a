package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bimakw/log-harvester/internal/domain/entities"
)

var csvHeader = []string{
	"block_number",
	"tx_hash",
	"log_index",
	"address",
	"topics",
	"data",
	"removed",
	"event_name",
	"params",
}

// CSVWriter flattens records into CSV rows. Topics join with ";", decoded
// params serialize as a JSON object in their column.
type CSVWriter struct {
	csv       *csv.Writer
	closer    io.Closer
	finalized bool
	logger    *zap.Logger
}

// NewCSVWriter opens a CSV writer and emits the header row. An empty path
// writes to stdout.
func NewCSVWriter(path string, logger *zap.Logger) (*CSVWriter, error) {
	out, closer, err := openDestination(path)
	if err != nil {
		return nil, err
	}

	w := &CSVWriter{
		csv:    csv.NewWriter(out),
		closer: closer,
		logger: logger,
	}
	if err := w.csv.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	return w, nil
}

func (w *CSVWriter) WriteLogs(records []entities.LogRecord) error {
	if w.finalized {
		return fmt.Errorf("write after finalize")
	}

	for _, rec := range records {
		params := ""
		if len(rec.Params) > 0 {
			encoded, err := json.Marshal(rec.Params)
			if err != nil {
				return fmt.Errorf("failed to encode params: %w", err)
			}
			params = string(encoded)
		}

		row := []string{
			strconv.FormatUint(rec.BlockNumber, 10),
			rec.TxHash,
			strconv.FormatUint(uint64(rec.LogIndex), 10),
			rec.Address,
			strings.Join(rec.Topics, ";"),
			rec.Data,
			strconv.FormatBool(rec.Removed),
			rec.EventName,
			params,
		}
		if err := w.csv.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	return nil
}

func (w *CSVWriter) Finalize() error {
	if w.finalized {
		return nil
	}
	w.finalized = true

	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("failed to flush csv output: %w", err)
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil {
			return fmt.Errorf("failed to close output file: %w", err)
		}
	}
	return nil
}
