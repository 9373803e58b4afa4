// Package identifier mints and validates the 128-bit identifiers used for
// data hubs and documents: a multibase-base58 encoding of an 18-byte buffer
// with a fixed 2-byte "identity, 16 bytes" multicodec-style prefix.
package identifier

import (
	"crypto/rand"
	"fmt"

	"github.com/multiformats/go-multibase"

	"github.com/vaultmesh/datahub/internal/apperr"
)

// identityTag and lengthByte form the fixed 2-byte prefix: the multicodec
// "identity" tag (no hashing) followed by a 16-byte length marker.
const (
	identityTag = 0x00
	lengthByte  = 0x10
	payloadLen  = 16
	totalLen    = 2 + payloadLen
)

// Generate mints a new identifier: 16 cryptographically random bytes,
// prefixed and multibase-base58-encoded.
func Generate() (string, error) {
	buf := make([]byte, totalLen)
	buf[0] = identityTag
	buf[1] = lengthByte
	if _, err := rand.Read(buf[2:]); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	s, err := multibase.Encode(multibase.Base58BTC, buf)
	if err != nil {
		return "", fmt.Errorf("encoding identifier: %w", err)
	}
	return s, nil
}

// Validate reports whether s is a structurally valid identifier: a
// multibase-base58 string ('z' prefix) decoding to exactly 18 bytes whose
// first two bytes are the identity-tag/length prefix.
func Validate(s string) error {
	if s == "" {
		return apperr.Syntax("identifier is empty")
	}
	if s[0] != 'z' {
		return apperr.Syntax("identifier %q does not use multibase base58btc encoding", s)
	}

	enc, data, err := multibase.Decode(s)
	if err != nil {
		return apperr.Syntax("identifier %q is not valid multibase: %v", s, err)
	}
	if enc != multibase.Base58BTC {
		return apperr.Syntax("identifier %q does not use base58btc encoding", s)
	}
	if len(data) != totalLen {
		return apperr.Syntax("identifier %q decodes to %d bytes, want %d", s, len(data), totalLen)
	}
	if data[0] != identityTag {
		return apperr.Syntax("identifier %q has wrong tag byte 0x%02x", s, data[0])
	}
	if data[1] != lengthByte {
		return apperr.Syntax("identifier %q has wrong length byte 0x%02x", s, data[1])
	}
	return nil
}
