package mqtt

import (
	"math/rand/v2"
	"strconv"
)

// maxClientIDSuffix is the largest random suffix appended to the prefix.
const maxClientIDSuffix = 999_999

// IDSource produces the client identifier for each connection attempt.
type IDSource interface {
	NewClientID() string
}

// IDSourceFunc adapts a plain function to IDSource.
type IDSourceFunc func() string

// NewClientID calls f.
func (f IDSourceFunc) NewClientID() string { return f() }

// RandomIDSource appends a random decimal in [0, 999999] to Prefix.
// The suffix only avoids collisions between concurrent clients; it is not
// a secret.
type RandomIDSource struct {
	Prefix string
}

// NewClientID returns Prefix followed by a fresh random suffix.
func (r RandomIDSource) NewClientID() string {
	return r.Prefix + strconv.Itoa(rand.IntN(maxClientIDSuffix+1))
}
