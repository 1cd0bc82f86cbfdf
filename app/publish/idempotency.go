package publish

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/retailxai/draft-publisher/app/database"
)

// Revision fingerprints the publishable content of a draft.
func Revision(draft *database.Draft) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{draft.Title, draft.Summary, draft.BodyMD, draft.BodyHTML}, "|")))
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey identifies one logical publish of a draft to a destination.
// A caller nonce takes precedence over the content revision.
func IdempotencyKey(draft *database.Draft, destination, nonce string) string {
	discriminator := "rev:" + Revision(draft)
	if nonce != "" {
		discriminator = "nonce:" + nonce
	}
	sum := sha256.Sum256([]byte(draft.ID + "|" + destination + "|" + discriminator))
	return hex.EncodeToString(sum[:])
}
