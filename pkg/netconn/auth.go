package netconn

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/arcbound/cqlpool/pkg/cqlpool"
)

// HandshakeTimeout bounds how long the HMAC challenge-response exchange may
// take before the connection is abandoned.
const HandshakeTimeout = 5 * time.Second

// HMACAuthenticator performs the client side of a challenge-response
// handshake against a cluster node that requires authentication.
type HMACAuthenticator struct {
	secret []byte
}

// NewHMACAuthenticator builds an authenticator using secret as the shared
// HMAC key.
func NewHMACAuthenticator(secret []byte) *HMACAuthenticator {
	return &HMACAuthenticator{secret: secret}
}

// GenerateSecret returns a fresh random 32-byte secret, for callers
// bootstrapping a new cluster credential.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("netconn: generate secret: %w", err)
	}
	return secret, nil
}

// Authenticate runs the client side of the handshake: read the server's
// challenge, answer with HMAC-SHA256 over it, and read back a one-byte
// verdict. A verdict of 0 maps to cqlpool.ErrAuthentication so that
// HostConnectionPool's conviction logic can distinguish "this node
// rejected our credentials" (not host-wide, per spec) from a transport
// failure (host-wide, convicting).
func (a *HMACAuthenticator) Authenticate(conn net.Conn) error {
	if err := conn.SetDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		return fmt.Errorf("netconn: set handshake deadline: %w", err)
	}
	defer conn.SetDeadline(time.Time{})

	challenge := make([]byte, 32)
	if _, err := io.ReadFull(conn, challenge); err != nil {
		return fmt.Errorf("netconn: read challenge: %w", err)
	}

	mac := hmac.New(sha256.New, a.secret)
	mac.Write(challenge)
	response := mac.Sum(nil)

	if _, err := conn.Write(response); err != nil {
		return fmt.Errorf("netconn: send response: %w", err)
	}

	verdict := make([]byte, 1)
	if _, err := io.ReadFull(conn, verdict); err != nil {
		return fmt.Errorf("netconn: read auth verdict: %w", err)
	}
	if verdict[0] != 1 {
		return fmt.Errorf("%w: node rejected credentials", cqlpool.ErrAuthentication)
	}
	return nil
}

// SecretFromString derives a deterministic secret from a passphrase, for
// configurations that store credentials as plain strings rather than raw
// key bytes.
func SecretFromString(s string) []byte {
	h := sha256.Sum256([]byte(s))
	return h[:]
}
