package model

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

type domainKey [32]byte

func newDomainKey(name string) domainKey {
	var k domainKey
	copy(k[:], name)
	return k
}

var (
	eventDomain   = newDomainKey("pulse.event.id.v1")
	contextDomain = newDomainKey("pulse.context.id.v1")
)

// Digest returns the hex BLAKE3 keyed hash of data.
func Digest(key domainKey, data []byte) string {
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		// only returned for a key that is not 32 bytes
		panic("model: blake3 keyed hash: " + err.Error())
	}
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContextID hashes a serialized context snapshot.
func ContextID(snapshot []byte) string {
	return Digest(contextDomain, snapshot)[:32]
}
