package store

import (
	"fmt"
	"strings"

	"github.com/groundline/groundline/internal/errdefs"
	"github.com/groundline/groundline/pkg/models"
)

func validateChunk(i int, c *models.Chunk) error {
	if c == nil {
		return errdefs.InvalidInput(fmt.Sprintf("invalid chunk %d: nil", i))
	}
	if c.ID == "" {
		return errdefs.InvalidInput(fmt.Sprintf("invalid chunk %d: missing id", i))
	}
	if c.DocumentID == "" {
		return errdefs.InvalidInput(fmt.Sprintf("invalid chunk %d: missing document id", i))
	}
	if strings.TrimSpace(c.Text) == "" {
		return errdefs.InvalidInput(fmt.Sprintf("invalid chunk %d: empty text", i))
	}
	if c.Ordinal < 0 {
		return errdefs.InvalidInput(fmt.Sprintf("invalid chunk %d: negative ordinal", i))
	}
	return nil
}
