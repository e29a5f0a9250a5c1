package stacking

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// stampAuditHash hashes the RFC 8785 canonical form of the result body.
// Canonicalization makes the hash independent of map iteration order and
// encoder quirks, so equal calculations always produce equal hashes.
func stampAuditHash(r *Result) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("stacking: marshal result: %w", err)
	}
	canonical, err := jcs.Transform(body)
	if err != nil {
		return fmt.Errorf("stacking: canonicalize result: %w", err)
	}
	sum := sha256.Sum256(canonical)
	r.AuditHash = hex.EncodeToString(sum[:])
	return nil
}
