package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/alanyoungcy/basketbot/internal/domain"
)

// archiveBatchSize bounds how many reports one drain iteration pulls from
// the store.
const archiveBatchSize = 500

// BlobUploader is the upload surface the archiver needs. *Writer satisfies
// it; large batches go through the multipart path.
type BlobUploader interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ReportArchiver implements domain.Archiver: it drains old pass reports
// from the primary store into JSONL objects in cold storage, deleting each
// batch only after its upload succeeded.
type ReportArchiver struct {
	uploader BlobUploader
	reports  domain.PassReportStore
	logger   *slog.Logger
}

// NewReportArchiver creates a ReportArchiver.
func NewReportArchiver(uploader BlobUploader, reports domain.PassReportStore, logger *slog.Logger) *ReportArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportArchiver{
		uploader: uploader,
		reports:  reports,
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

var _ domain.Archiver = (*ReportArchiver)(nil)

// ArchiveReports moves all pass reports completed before the cutoff into
// object storage, batch by batch, and returns how many rows were archived.
// A failed upload aborts the drain without deleting anything from the
// current batch.
func (a *ReportArchiver) ArchiveReports(ctx context.Context, before time.Time) (int64, error) {
	var total int64

	for {
		batch, err := a.reports.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list reports before %s: %w", before.Format(time.RFC3339), err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		path := archivePath(batch[0].CompletedAt, batch[len(batch)-1].ID)
		if err := a.upload(ctx, path, batch); err != nil {
			return total, err
		}

		ids := make([]string, 0, len(batch))
		for _, report := range batch {
			ids = append(ids, report.ID)
		}
		deleted, err := a.reports.DeleteByIDs(ctx, ids)
		if err != nil {
			// The batch is already safe in cold storage; the next run will
			// re-upload and retry the delete.
			return total, fmt.Errorf("s3blob: delete archived reports: %w", err)
		}
		total += deleted

		a.logger.InfoContext(ctx, "archived report batch",
			slog.String("path", path),
			slog.Int("reports", len(batch)),
			slog.Int64("deleted", deleted))

		if len(batch) < archiveBatchSize {
			return total, nil
		}
	}
}

// upload serializes the batch to JSONL and writes it, switching to the
// multipart path when the payload exceeds a single part.
func (a *ReportArchiver) upload(ctx context.Context, path string, batch []domain.PassReport) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, report := range batch {
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("s3blob: encode report %s: %w", report.ID, err)
		}
	}

	if int64(buf.Len()) > minPartSize {
		if err := a.uploader.PutMultipart(ctx, path, &buf, minPartSize); err != nil {
			return err
		}
		return nil
	}
	return a.uploader.Put(ctx, path, &buf, "application/x-ndjson")
}

// archivePath keys batches by the completion date of their oldest report,
// with the last report id as a uniqueness suffix.
func archivePath(oldest time.Time, lastID string) string {
	return fmt.Sprintf("reports/%s/batch-%s.jsonl", oldest.UTC().Format("2006/01/02"), lastID)
}
