package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const listingKeyPrefix = "iap:listing:"

// hashKey creates a SHA256 hash of the joined parts, giving fixed-length keys
// whatever the slug contains.
func hashKey(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

// listingKey is the Redis key of a cached locale listing.
func listingKey(productID, locale, slug string) string {
	return fmt.Sprintf("%s%s:%s", listingKeyPrefix, strings.ToLower(locale), hashKey(productID, strings.ToLower(locale), slug))
}
