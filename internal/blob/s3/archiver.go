package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/crossclob/arbot/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// executionLister is the slice of the execution store the archiver needs.
type executionLister interface {
	ListBetween(ctx context.Context, from, to time.Time) ([]domain.ExecutionRecord, error)
}

// Archiver uploads daily execution history as JSONL objects. Objects are keyed
// by UTC day, so re-running an archival overwrites with identical content.
type Archiver struct {
	client     *Client
	executions executionLister
	prefix     string
	logger     *slog.Logger
	now        func() time.Time
}

// NewArchiver creates an Archiver writing under the given key prefix.
func NewArchiver(client *Client, executions executionLister, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		client:     client,
		executions: executions,
		prefix:     prefix,
		logger:     logger.With(slog.String("component", "archiver")),
		now:        time.Now,
	}
}

// ArchiveDay uploads all execution records started on the given UTC day.
// Days with no records are skipped without writing an empty object.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) error {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)

	records, err := a.executions.ListBetween(ctx, from, to)
	if err != nil {
		return fmt.Errorf("s3blob: list executions for %s: %w", from.Format(time.DateOnly), err)
	}
	if len(records) == 0 {
		a.logger.Debug("no executions to archive", slog.String("day", from.Format(time.DateOnly)))
		return nil
	}

	payload, err := marshalJSONL(records)
	if err != nil {
		return fmt.Errorf("s3blob: encode executions for %s: %w", from.Format(time.DateOnly), err)
	}

	key := archiveKey(a.prefix, from)
	if err := a.client.Put(ctx, key, bytes.NewReader(payload), jsonlContentType); err != nil {
		return err
	}

	a.logger.Info("archived executions",
		slog.String("key", key),
		slog.Int("records", len(records)),
	)
	return nil
}

// Run archives the previous UTC day shortly after midnight, then daily. The
// first archival also runs immediately on startup to cover restarts that
// straddled midnight.
func (a *Archiver) Run(ctx context.Context) error {
	for {
		yesterday := a.now().UTC().AddDate(0, 0, -1)
		if err := a.ArchiveDay(ctx, yesterday); err != nil {
			a.logger.Error("archival failed", slog.String("error", err.Error()))
		}

		next := a.now().UTC().Truncate(24 * time.Hour).Add(24*time.Hour + 5*time.Minute)
		timer := time.NewTimer(next.Sub(a.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// archiveKey builds the object key for one UTC day.
func archiveKey(prefix string, day time.Time) string {
	return fmt.Sprintf("%s/%s.jsonl", prefix, day.UTC().Format(time.DateOnly))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL(records []domain.ExecutionRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
