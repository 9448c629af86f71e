package proxy

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"github.com/go-mtproxy/mtproxy/internal/config"
	mtcrypto "github.com/go-mtproxy/mtproxy/internal/crypto"
)

const (
	handshakeLen  = 64
	skipLen       = 8
	prekeyLen     = 32
	ivLen         = 16
	magicValuePos = 56
)

var magicValue = [4]byte{0xef, 0xef, 0xef, 0xef}

// ErrMalformedHandshake is returned when no registered user's secret
// decrypts the client's handshake to a valid header.
var ErrMalformedHandshake = errors.New("proxy: malformed client handshake")

// ClientSession is the outcome of a successful client handshake: the
// matched user, the resolved datacenter index, and the directional CTR
// streams continuing from the byte offset the handshake left them at.
type ClientSession struct {
	User    config.User
	DCIndex int

	Decrypt cipher.Stream // decrypts further bytes arriving from the client
	Encrypt cipher.Stream // encrypts bytes destined for the client

	// FastReuseKeyIV is this session's outbound (proxy->client) key and
	// IV, reusable as the direct-datacenter decryption key in fast mode.
	FastReuseKeyIV [prekeyLen + ivLen]byte
}

// ClientHandshake reads the 64-byte obfuscated handshake header from r
// and tries every registered user's secret until one decrypts to a
// header carrying the expected magic value.
func ClientHandshake(r io.Reader, users []config.User) (*ClientSession, error) {
	var handshake [handshakeLen]byte
	if _, err := io.ReadFull(r, handshake[:]); err != nil {
		return nil, fmt.Errorf("proxy: read client handshake: %w", err)
	}

	for _, user := range users {
		session, ok, err := tryUser(handshake, user)
		if err != nil {
			return nil, err
		}
		if ok {
			return session, nil
		}
	}

	return nil, ErrMalformedHandshake
}

func tryUser(handshake [handshakeLen]byte, user config.User) (*ClientSession, bool, error) {
	decPrekeyAndIV := handshake[skipLen : skipLen+prekeyLen+ivLen]
	decPrekey, decIV := decPrekeyAndIV[:prekeyLen], decPrekeyAndIV[prekeyLen:]
	decKeyArr := mtcrypto.SHA256(append(append([]byte{}, decPrekey...), user.Secret[:]...))

	decStream, err := mtcrypto.NewCTRStream(decKeyArr, ivArr16(decIV))
	if err != nil {
		return nil, false, err
	}

	encPrekeyAndIV := reversed(decPrekeyAndIV)
	encPrekey, encIV := encPrekeyAndIV[:prekeyLen], encPrekeyAndIV[prekeyLen:]
	encKeyArr := mtcrypto.SHA256(append(append([]byte{}, encPrekey...), user.Secret[:]...))

	encStream, err := mtcrypto.NewCTRStream(encKeyArr, ivArr16(encIV))
	if err != nil {
		return nil, false, err
	}

	decrypted := make([]byte, handshakeLen)
	decStream.XORKeyStream(decrypted, handshake[:])

	var gotMagic [4]byte
	copy(gotMagic[:], decrypted[magicValuePos:magicValuePos+4])
	if gotMagic != magicValue {
		return nil, false, nil
	}

	rawDC := int16(uint16(decrypted[60]) | uint16(decrypted[61])<<8)
	dcIndex := absInt(int(rawDC)) - 1
	if dcIndex == 0 {
		return nil, false, nil
	}

	session := &ClientSession{
		User:    user,
		DCIndex: dcIndex,
		Decrypt: decStream,
		Encrypt: encStream,
	}
	copy(session.FastReuseKeyIV[:], encKeyArr[:])
	copy(session.FastReuseKeyIV[prekeyLen:], encIV)
	return session, true, nil
}

func reversed(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

func ivArr16(b []byte) [16]byte {
	var out [16]byte
	copy(out[:], b)
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
