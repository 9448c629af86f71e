package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// AESKeyData holds a directional pair of AES-CTR keys/IVs, one for each
// side of a connection.
type AESKeyData struct {
	ReadKey  [32]byte
	ReadIV   [16]byte
	WriteKey [32]byte
	WriteIV  [16]byte
}

type CipherSuite interface {
	EncryptCBC(key [32]byte, iv [16]byte, plaintext []byte) ([]byte, error)
	DecryptCBC(key [32]byte, iv [16]byte, ciphertext []byte) ([]byte, error)
	ApplyCTR(key [32]byte, iv [16]byte, data []byte) ([]byte, error)
}

type StandardCipherSuite struct{}

func (StandardCipherSuite) EncryptCBC(key [32]byte, iv [16]byte, plaintext []byte) ([]byte, error) {
	return EncryptCBC(key, iv, plaintext)
}

func (StandardCipherSuite) DecryptCBC(key [32]byte, iv [16]byte, ciphertext []byte) ([]byte, error) {
	return DecryptCBC(key, iv, ciphertext)
}

func (StandardCipherSuite) ApplyCTR(key [32]byte, iv [16]byte, data []byte) ([]byte, error) {
	return ApplyCTR(key, iv, data)
}

var DefaultCipherSuite CipherSuite = StandardCipherSuite{}

func EncryptCBC(key [32]byte, iv [16]byte, plaintext []byte) ([]byte, error) {
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cbc plaintext length must be multiple of %d", aes.BlockSize)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(plaintext))
	cbc := cipher.NewCBCEncrypter(block, iv[:])
	cbc.CryptBlocks(out, plaintext)
	return out, nil
}

func DecryptCBC(key [32]byte, iv [16]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("cbc ciphertext length must be multiple of %d", aes.BlockSize)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv[:])
	cbc.CryptBlocks(out, ciphertext)
	return out, nil
}

func ApplyCTR(key [32]byte, iv [16]byte, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	stream := cipher.NewCTR(block, iv[:])
	stream.XORKeyStream(out, data)
	return out, nil
}

// NewCTRStream builds a standalone AES-CTR keystream generator. The
// client handshake and the direct-datacenter handshake each need two
// independent streams (one per direction) that keep advancing as bytes
// flow, rather than a one-shot ApplyCTR call per message.
func NewCTRStream(key [32]byte, iv [16]byte) (cipher.Stream, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(block, iv[:]), nil
}

// NewCBCEncrypter/NewCBCDecrypter return a chaining BlockMode whose IV
// state carries across repeated CryptBlocks calls, the construction the
// middle-proxy handshake derives once per direction and reuses for
// every intermediate-framed message of the session.
func NewCBCEncrypter(key [32]byte, iv [16]byte) (cipher.BlockMode, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewCBCEncrypter(block, iv[:]), nil
}

func NewCBCDecrypter(key [32]byte, iv [16]byte) (cipher.BlockMode, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewCBCDecrypter(block, iv[:]), nil
}

// MiddleProxyKeyIV implements the proxy<->middle-proxy key-mixing
// formula: nonces, timestamp, addresses, a 6-byte purpose marker
// ("CLIENT" or "SERVER") and the 128-byte proxy secret are concatenated
// in a fixed order, then hashed into a 32-byte key and 16-byte IV.
// Called once per direction with purpose flipped between the two calls.
func MiddleProxyKeyIV(
	purpose string,
	nonceServer [16]byte,
	nonceClient [16]byte,
	cryptoTSClient uint32,
	serverIPBEReversed [4]byte,
	clientPortLE uint16,
	clientIPBEReversed [4]byte,
	serverPortLE uint16,
	proxySecret []byte,
	clientIPv6 *[16]byte,
	serverIPv6 *[16]byte,
) (key [32]byte, iv [16]byte) {
	if len(purpose) != 6 {
		panic(fmt.Sprintf("crypto: purpose must be 6 bytes, got %d", len(purpose)))
	}

	s := make([]byte, 0, 16+16+4+4+2+6+4+2+len(proxySecret)+16+32+16)
	s = append(s, nonceServer[:]...)
	s = append(s, nonceClient[:]...)

	var b4 [4]byte
	binary.LittleEndian.PutUint32(b4[:], cryptoTSClient)
	s = append(s, b4[:]...)
	s = append(s, serverIPBEReversed[:]...)

	var b2 [2]byte
	binary.LittleEndian.PutUint16(b2[:], clientPortLE)
	s = append(s, b2[:]...)
	s = append(s, []byte(purpose)...)
	s = append(s, clientIPBEReversed[:]...)
	binary.LittleEndian.PutUint16(b2[:], serverPortLE)
	s = append(s, b2[:]...)

	s = append(s, proxySecret...)
	s = append(s, nonceServer[:]...)
	if clientIPv6 != nil && serverIPv6 != nil {
		s = append(s, clientIPv6[:]...)
		s = append(s, serverIPv6[:]...)
	}
	s = append(s, nonceClient[:]...)

	md51 := MD5(s[1:])
	sha1Full := SHA1(s)
	copy(key[:12], md51[:12])
	copy(key[12:], sha1Full[:])

	md52 := MD5(s[2:])
	copy(iv[:], md52[:])
	return key, iv
}
