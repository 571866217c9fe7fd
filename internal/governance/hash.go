package governance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

const hashPrefix = "sha256:"

// ContentHash returns the "sha256:<hex>" digest of raw content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// CanonicalHash hashes the RFC 8785 canonical JSON form of v, so map key
// order and whitespace never change the result.
func CanonicalHash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash: marshal: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonical hash: canonicalize: %w", err)
	}
	return ContentHash(canon), nil
}
