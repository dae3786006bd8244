package router

import "crypto/rand"

// newTransactionID generates a fresh STUN transaction ID for
// server-initiated messages (Data indications), which don't echo a
// client's request.
func newTransactionID() [12]byte {
	var id [12]byte
	if _, err := rand.Read(id[:]); err != nil {
		panic(err)
	}
	return id
}
