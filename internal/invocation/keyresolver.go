package invocation

import (
	"crypto/ed25519"
	"strings"

	"github.com/multiformats/go-multibase"

	"github.com/vaultmesh/datahub/internal/apperr"
)

// ed25519MulticodecPrefix is the two-byte varint prefix for the
// "ed25519-pub" multicodec (0xed01), prepended to the raw 32-byte public
// key in a did:key identifier.
var ed25519MulticodecPrefix = []byte{0xed, 0x01}

// ResolvedKey is the outcome of resolving a keyId to a verification method.
type ResolvedKey struct {
	// Controller is the DID that controls this key, if the keyId names a
	// fragment (did:key:z.../#key). Falls back to the key id itself.
	Controller string
	PublicKey  ed25519.PublicKey
}

// ResolveKeyID resolves a keyId via a document loader that natively
// understands did:key (§4.5 step 3). Any other URL scheme is refused.
func ResolveKeyID(keyID string) (ResolvedKey, error) {
	if !strings.HasPrefix(keyID, "did:key:") {
		return ResolvedKey{}, apperr.NotAllowed("unsupported key id scheme")
	}

	methodSpecificID := strings.TrimPrefix(keyID, "did:key:")
	did := methodSpecificID
	if i := strings.IndexByte(methodSpecificID, '#'); i >= 0 {
		did = methodSpecificID[:i]
	}

	enc, data, err := multibase.Decode(did)
	if err != nil {
		return ResolvedKey{}, apperr.NotAllowed("key id is not valid multibase")
	}
	if enc != multibase.Base58BTC {
		return ResolvedKey{}, apperr.NotAllowed("key id does not use base58btc encoding")
	}
	if len(data) != len(ed25519MulticodecPrefix)+ed25519.PublicKeySize {
		return ResolvedKey{}, apperr.NotAllowed("key id decodes to unexpected length")
	}
	if data[0] != ed25519MulticodecPrefix[0] || data[1] != ed25519MulticodecPrefix[1] {
		return ResolvedKey{}, apperr.NotAllowed("key id is not an ed25519 verification key")
	}

	pub := ed25519.PublicKey(data[len(ed25519MulticodecPrefix):])
	return ResolvedKey{Controller: "did:key:" + did, PublicKey: pub}, nil
}
