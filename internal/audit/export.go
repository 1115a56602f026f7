package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"
)

// parquetRow is the flattened, Parquet-tagged shape of BlockEvent; a
// separate type keeps the sqlx `db` tags and the parquet.Writer's
// reflection-driven schema from fighting over the same struct tags.
type parquetRow struct {
	ID          int64  `parquet:"id"`
	OccurredAt  int64  `parquet:"occurred_at"` // unix nanos
	IPAddress   string `parquet:"ip_address"`
	Path        string `parquet:"path"`
	UserAgent   string `parquet:"user_agent"`
	WasScreened bool   `parquet:"was_screened"`
}

// Exporter drains the Postgres audit trail into rotated Parquet files, one
// file per invocation of Run, batching reads through Store.FetchBatch.
type Exporter struct {
	store     *Store
	outputDir string
	batchSize int
	logger    *zap.Logger
}

// NewExporter constructs an Exporter writing into outputDir.
func NewExporter(store *Store, outputDir string, batchSize int, logger *zap.Logger) *Exporter {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &Exporter{store: store, outputDir: outputDir, batchSize: batchSize, logger: logger}
}

// Run exports every block event with id > afterID into a single Parquet
// file under outputDir, returning the last id written (to be passed as
// afterID on the next invocation) and the row count.
func (e *Exporter) Run(ctx context.Context, afterID int64) (lastID int64, rows int, err error) {
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return afterID, 0, fmt.Errorf("audit: failed to create export dir: %w", err)
	}

	outputPath := filepath.Join(e.outputDir, fmt.Sprintf("block-events-%d.parquet", time.Now().UnixNano()))
	file, err := os.Create(outputPath)
	if err != nil {
		return afterID, 0, fmt.Errorf("audit: failed to create export file: %w", err)
	}
	defer file.Close()

	writer := parquet.NewWriter(file)
	lastID = afterID

	for {
		batch, fetchErr := e.store.FetchBatch(ctx, lastID, e.batchSize)
		if fetchErr != nil {
			writer.Close()
			return lastID, rows, fetchErr
		}
		if len(batch) == 0 {
			break
		}

		for _, event := range batch {
			row := parquetRow{
				ID:          event.ID,
				OccurredAt:  event.OccurredAt.UnixNano(),
				IPAddress:   event.IPAddress,
				Path:        event.Path,
				UserAgent:   event.UserAgent,
				WasScreened: event.WasScreened,
			}
			if writeErr := writer.Write(&row); writeErr != nil {
				writer.Close()
				return lastID, rows, fmt.Errorf("audit: failed to write parquet row: %w", writeErr)
			}
			lastID = event.ID
			rows++
		}

		if len(batch) < e.batchSize {
			break
		}
	}

	if closeErr := writer.Close(); closeErr != nil {
		return lastID, rows, fmt.Errorf("audit: failed to finalize parquet file: %w", closeErr)
	}

	if rows == 0 {
		os.Remove(outputPath) // nothing exported; don't leave an empty file behind
		e.logger.Debug("audit export produced no rows", zap.Int64("after_id", afterID))
		return lastID, 0, nil
	}

	e.logger.Info("audit export completed",
		zap.String("output", outputPath),
		zap.Int("rows", rows),
		zap.Int64("last_id", lastID))

	return lastID, rows, nil
}
