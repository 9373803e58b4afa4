package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// hash is the stable one-way digest applied to every caller-supplied
// identifier before it is used as (or embedded in) an index key. This
// bounds key length and prevents a hostile identifier from skewing the
// backend's index distribution.
func hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Hash exposes the same digest to other packages (the query planner) that
// need to compute it against identifiers store already blinds internally.
func Hash(s string) string {
	return hash(s)
}

// uniqueAttributeToken builds the token whose uniqueness is enforced across
// a hub for attributes marked unique=true (§4.2 unique-attribute projection).
func uniqueAttributeToken(hmacID, name, value string) string {
	return hash(hmacID) + ":" + name + ":" + value
}
