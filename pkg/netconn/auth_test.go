package netconn

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/arcbound/cqlpool/pkg/cqlpool"
)

// serveHandshake plays the server side of the HMAC handshake against conn,
// accepting if response matches an HMAC over the fixed challenge under
// secret, rejecting otherwise.
func serveHandshake(conn net.Conn, secret []byte, accept bool) {
	challenge := make([]byte, 32)
	for i := range challenge {
		challenge[i] = byte(i)
	}
	conn.Write(challenge)

	response := make([]byte, 32)
	io.ReadFull(conn, response)

	if !accept {
		conn.Write([]byte{0})
		return
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(challenge)
	expected := mac.Sum(nil)

	if hmac.Equal(response, expected) {
		conn.Write([]byte{1})
	} else {
		conn.Write([]byte{0})
	}
}

func TestHMACAuthenticator_Succeeds(t *testing.T) {
	secret := []byte("shared-secret")
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go serveHandshake(serverConn, secret, true)

	auth := NewHMACAuthenticator(secret)
	if err := auth.Authenticate(clientConn); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
}

func TestHMACAuthenticator_WrongSecretReturnsErrAuthentication(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go serveHandshake(serverConn, []byte("server-secret"), true)

	auth := NewHMACAuthenticator([]byte("wrong-secret"))
	err := auth.Authenticate(clientConn)
	if !errors.Is(err, cqlpool.ErrAuthentication) {
		t.Fatalf("err = %v, want wrapping cqlpool.ErrAuthentication", err)
	}
}

func TestHMACAuthenticator_ServerRejectsReturnsErrAuthentication(t *testing.T) {
	secret := []byte("shared-secret")
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	go serveHandshake(serverConn, secret, false)

	auth := NewHMACAuthenticator(secret)
	err := auth.Authenticate(clientConn)
	if !errors.Is(err, cqlpool.ErrAuthentication) {
		t.Fatalf("err = %v, want wrapping cqlpool.ErrAuthentication", err)
	}
}

func TestGenerateSecret_ProducesDistinctSecrets(t *testing.T) {
	a, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	b, err := GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("len(secret) = %d, want 32", len(a))
	}
	if string(a) == string(b) {
		t.Fatal("two independently generated secrets should not collide")
	}
}
