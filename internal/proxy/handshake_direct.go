package proxy

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"net"

	mtcrypto "github.com/go-mtproxy/mtproxy/internal/crypto"
	"github.com/go-mtproxy/mtproxy/internal/dc"
)

const directHandshakeMaxAttempts = 1024

var (
	reservedNonceFirstByte = byte(0xef)
	reservedNonceBeginnings = [][4]byte{
		{'H', 'E', 'A', 'D'},
		{'P', 'O', 'S', 'T'},
		{'G', 'E', 'T', ' '},
		{0xee, 0xee, 0xee, 0xee},
	}
	reservedNonceContinuation = [4]byte{0x00, 0x00, 0x00, 0x00}
)

// DirectSession is an open, handshaken connection to a real Telegram
// datacenter.
type DirectSession struct {
	Conn    net.Conn
	Decrypt cipher.Stream // decrypts bytes arriving from the datacenter
	Encrypt cipher.Stream // encrypts bytes destined for the datacenter
}

// DirectHandshake dials the datacenter for dcIndex and performs the
// direct obfuscated handshake. When reuseKeyIV is non-nil (fast mode),
// the datacenter is tricked into encrypting its replies with the same
// keystream the client already expects to decrypt with, so the relay
// can skip one crypto layer entirely on that leg.
func DirectHandshake(dialer *net.Dialer, dcIndex int, preferIPv6 bool, reuseKeyIV *[prekeyLen + ivLen]byte) (*DirectSession, error) {
	addr, ok := dc.Resolve(dcIndex, preferIPv6)
	if !ok {
		return nil, fmt.Errorf("proxy: no datacenter for index %d", dcIndex)
	}

	conn, err := dialer.Dial("tcp", net.JoinHostPort(addr, fmt.Sprint(dc.Port)))
	if err != nil {
		return nil, fmt.Errorf("proxy: dial datacenter %s: %w", addr, err)
	}

	rnd, err := generateDirectNonce()
	if err != nil {
		conn.Close()
		return nil, err
	}
	copy(rnd[magicValuePos:magicValuePos+4], magicValue[:])

	if reuseKeyIV != nil {
		copy(rnd[skipLen:skipLen+prekeyLen+ivLen], reversed(reuseKeyIV[:]))
	}

	decKeyAndIV := reversed(rnd[skipLen : skipLen+prekeyLen+ivLen])
	decStream, err := mtcrypto.NewCTRStream(arr32(decKeyAndIV[:prekeyLen]), ivArr16(decKeyAndIV[prekeyLen:]))
	if err != nil {
		conn.Close()
		return nil, err
	}

	encKeyAndIV := rnd[skipLen : skipLen+prekeyLen+ivLen]
	encStream, err := mtcrypto.NewCTRStream(arr32(encKeyAndIV[:prekeyLen]), ivArr16(encKeyAndIV[prekeyLen:]))
	if err != nil {
		conn.Close()
		return nil, err
	}

	ciphertext := make([]byte, handshakeLen)
	encStream.XORKeyStream(ciphertext, rnd)

	out := make([]byte, 0, handshakeLen)
	out = append(out, rnd[:magicValuePos]...)
	out = append(out, ciphertext[magicValuePos:handshakeLen]...)

	if _, err := conn.Write(out); err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: send datacenter handshake: %w", err)
	}

	return &DirectSession{Conn: conn, Decrypt: decStream, Encrypt: encStream}, nil
}

func generateDirectNonce() ([]byte, error) {
	rnd := make([]byte, handshakeLen)
	for attempt := 0; attempt < directHandshakeMaxAttempts; attempt++ {
		if _, err := rand.Read(rnd); err != nil {
			return nil, err
		}
		if rnd[0] == reservedNonceFirstByte {
			continue
		}
		if matchesReservedBeginning(rnd) {
			continue
		}
		if bytes.Equal(rnd[4:8], reservedNonceContinuation[:]) {
			continue
		}
		return rnd, nil
	}
	return nil, fmt.Errorf("proxy: could not generate a non-reserved handshake nonce after %d attempts", directHandshakeMaxAttempts)
}

func matchesReservedBeginning(rnd []byte) bool {
	for _, prefix := range reservedNonceBeginnings {
		if bytes.Equal(rnd[:4], prefix[:]) {
			return true
		}
	}
	return false
}

func arr32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}
