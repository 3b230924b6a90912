package ratelimit

import (
	"fmt"

	"github.com/groundline/groundline/internal/errdefs"
)

// ValidateIngest enforces the per-request ingest limits: total payload size
// and file count.
func (l *Limiter) ValidateIngest(totalBytes int64, fileCount int) error {
	if fileCount <= 0 {
		return errdefs.InvalidInput("no files in request")
	}
	if l.config.MaxFilesPerRequest > 0 && fileCount > l.config.MaxFilesPerRequest {
		return errdefs.RequestTooLarge(fmt.Sprintf(
			"file count %d exceeds limit %d", fileCount, l.config.MaxFilesPerRequest))
	}
	if l.config.MaxRequestBytes > 0 && totalBytes > l.config.MaxRequestBytes {
		return errdefs.RequestTooLarge(fmt.Sprintf(
			"request size %d exceeds limit %d bytes", totalBytes, l.config.MaxRequestBytes))
	}
	return nil
}
