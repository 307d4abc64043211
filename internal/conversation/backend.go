// Package conversation keeps the per-phone-number conversation context.
//
// Contexts live in a Backend. The Store service layers the lifecycle rules on
// top of it: fetch-or-create with a last-seen refresh, shallow partial updates,
// resets, the age-based sweep and the compare-and-swap commit used by the
// dialogue engine at the end of every turn.
package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/models"
)

// AnyVersion disables the version check on Save.
const AnyVersion int64 = -1

// ErrVersionConflict is returned by Save when the stored version differs from the expected one.
var ErrVersionConflict = errors.New("conversation context was modified concurrently")

// Backend persists conversation contexts keyed by phone number.
type Backend interface {
	// Load returns the stored context and whether it exists.
	Load(ctx context.Context, phone string) (models.ConversationContext, bool, error)

	// Save stores c if the stored version equals expectedVersion (0 when absent),
	// or unconditionally with AnyVersion. The returned context carries the new version.
	Save(ctx context.Context, c models.ConversationContext, expectedVersion int64) (models.ConversationContext, error)

	// Delete removes the context. Deleting a missing key is not an error.
	Delete(ctx context.Context, phone string) error

	// ScanExpired lists phone numbers whose LastMessageAt is strictly before cutoff.
	ScanExpired(ctx context.Context, cutoff time.Time) ([]string, error)
}
