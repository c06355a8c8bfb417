package ledger

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// Topic is a 32-byte log topic.
type Topic [32]byte

func (t Topic) Hex() string {
	return "0x" + hex.EncodeToString(t[:])
}

// TopicOf hashes an event signature such as "FarmerRegistered(string)" with Keccak-256.
func TopicOf(signature string) Topic {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	var t Topic
	copy(t[:], h.Sum(nil))
	return t
}

// TopicFor returns the topic of kind's event. A non-empty override signature wins.
func TopicFor(kind EntityKind, override string) Topic {
	if override != "" {
		return TopicOf(override)
	}
	spec, _ := kind.Spec()
	return TopicOf(spec.EventSignature())
}
