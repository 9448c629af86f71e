package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/go-mtproxy/mtproxy/internal/config"
	"github.com/go-mtproxy/mtproxy/internal/proxy"
)

// runTestSecret reads a captured 64-byte client handshake from stdin
// and reports whether the given hex secret decrypts it, the quick
// sanity check for a newly generated secret before adding it to the
// configuration file.
func runTestSecret(secretHex string) error {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return fmt.Errorf("secret is not valid hex: %w", err)
	}
	if len(secret) != 16 {
		return fmt.Errorf("secret must be 16 bytes, got %d", len(secret))
	}

	handshake, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read handshake from stdin: %w", err)
	}
	if len(handshake) != 64 {
		return fmt.Errorf("expected exactly 64 bytes of handshake on stdin, got %d", len(handshake))
	}

	var user config.User
	copy(user.Secret[:], secret)

	session, err := proxy.ClientHandshake(&singleReader{data: handshake}, []config.User{user})
	if err != nil {
		return fmt.Errorf("handshake did not decrypt with this secret: %w", err)
	}

	fmt.Printf("secret matches: resolved datacenter index %d\n", session.DCIndex)
	return nil
}

type singleReader struct {
	data []byte
	pos  int
}

func (r *singleReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
