package proxy

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/go-mtproxy/mtproxy/internal/config"
	mtcrypto "github.com/go-mtproxy/mtproxy/internal/crypto"
)

func testUser(t *testing.T, name string, secretByte byte) config.User {
	t.Helper()
	var u config.User
	u.Name = name
	for i := range u.Secret {
		u.Secret[i] = secretByte
	}
	return u
}

// buildClientHandshake mirrors tryUser's decryption in reverse: it
// produces the 64-byte wire form a real client would send for the given
// user secret and dc index.
func buildClientHandshake(t *testing.T, user config.User, dcIndex int16) [handshakeLen]byte {
	t.Helper()
	var rnd [handshakeLen]byte
	for i := range rnd {
		rnd[i] = byte(i + 1)
	}
	copy(rnd[magicValuePos:magicValuePos+4], magicValue[:])
	binary.LittleEndian.PutUint16(rnd[60:62], uint16(dcIndex))

	decPrekeyAndIV := rnd[skipLen : skipLen+prekeyLen+ivLen]
	decPrekey, decIV := decPrekeyAndIV[:prekeyLen], decPrekeyAndIV[prekeyLen:]
	decKeyArr := mtcrypto.SHA256(append(append([]byte{}, decPrekey...), user.Secret[:]...))

	decStream, err := mtcrypto.NewCTRStream(decKeyArr, ivArr16(decIV))
	if err != nil {
		t.Fatalf("new ctr stream: %v", err)
	}

	var wire [handshakeLen]byte
	decStream.XORKeyStream(wire[:], rnd[:])
	copy(wire[:skipLen+prekeyLen+ivLen], rnd[:skipLen+prekeyLen+ivLen])
	return wire
}

func TestClientHandshakeMatchesRegisteredUser(t *testing.T) {
	alice := testUser(t, "alice", 0xaa)
	bob := testUser(t, "bob", 0xbb)
	wire := buildClientHandshake(t, bob, 2)

	session, err := ClientHandshake(bytes.NewReader(wire[:]), []config.User{alice, bob})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if session.User.Name != "bob" {
		t.Fatalf("expected bob to match, got %q", session.User.Name)
	}
	if session.DCIndex != 1 {
		t.Fatalf("expected dc index 1 from raw dc 2, got %d", session.DCIndex)
	}
}

func TestClientHandshakeNegativeDCIndexIsAbsolute(t *testing.T) {
	bob := testUser(t, "bob", 0xbb)
	wire := buildClientHandshake(t, bob, -3)

	session, err := ClientHandshake(bytes.NewReader(wire[:]), []config.User{bob})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if session.DCIndex != 2 {
		t.Fatalf("expected dc index 2 from signed -3, got %d", session.DCIndex)
	}
}

func TestClientHandshakeRejectsReservedDCIndex(t *testing.T) {
	bob := testUser(t, "bob", 0xbb)
	wire := buildClientHandshake(t, bob, 1)

	if _, err := ClientHandshake(bytes.NewReader(wire[:]), []config.User{bob}); err != ErrMalformedHandshake {
		t.Fatalf("expected ErrMalformedHandshake for the reserved raw dc index 1, got %v", err)
	}

	wireNeg := buildClientHandshake(t, bob, -1)
	if _, err := ClientHandshake(bytes.NewReader(wireNeg[:]), []config.User{bob}); err != ErrMalformedHandshake {
		t.Fatalf("expected ErrMalformedHandshake for the reserved raw dc index -1, got %v", err)
	}
}

func TestClientHandshakeRejectsUnregisteredSecret(t *testing.T) {
	alice := testUser(t, "alice", 0xaa)
	bob := testUser(t, "bob", 0xbb)
	wire := buildClientHandshake(t, bob, 2)

	if _, err := ClientHandshake(bytes.NewReader(wire[:]), []config.User{alice}); err != ErrMalformedHandshake {
		t.Fatalf("expected ErrMalformedHandshake for an unregistered secret, got %v", err)
	}
}

func TestClientHandshakeFastReuseKeyIVPopulated(t *testing.T) {
	bob := testUser(t, "bob", 0xbb)
	wire := buildClientHandshake(t, bob, 2)

	session, err := ClientHandshake(bytes.NewReader(wire[:]), []config.User{bob})
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	var zero [prekeyLen + ivLen]byte
	if session.FastReuseKeyIV == zero {
		t.Fatalf("expected FastReuseKeyIV to be populated")
	}
}
