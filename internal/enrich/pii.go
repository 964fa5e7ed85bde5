package enrich

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/yasinyaman/sentrel/internal/event"
)

// emailHashLen is the number of hex characters kept from the digest.
const emailHashLen = 16

// PIIStage replaces a plaintext user email with a one-way hash. This is the
// only stage allowed to remove a user-supplied field: keeping the plaintext
// would be the bug.
type PIIStage struct{}

func (s *PIIStage) Name() string { return "pii" }

func (s *PIIStage) Apply(doc event.Document, md Metadata) (event.Document, error) {
	user := doc.SubMap("user")
	if user == nil {
		return doc, nil
	}

	email, ok := user["email"].(string)
	if !ok || email == "" {
		return doc, nil
	}

	user["email_hash"] = HashEmail(email)
	delete(user, "email")

	return doc, nil
}

// HashEmail computes the stable, case-insensitive email hash.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(email)))
	return hex.EncodeToString(sum[:])[:emailHashLen]
}
