package taskgraph

import (
	"crypto/rand"
)

const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newTaskID generates a random tx-<6-12 lowercase alphanumeric> id. The
// caller retries on a uniqueness-constraint collision.
func newTaskID() (string, error) {
	const n = 8
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return "tx-" + string(out), nil
}
