package proxy

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/go-mtproxy/mtproxy/internal/mtframe"
)

// identityStream is a cipher.Stream that passes bytes through unchanged,
// standing in for a real AES-CTR stream in tests that only care about
// relay plumbing, not encryption itself.
type identityStream struct{}

func (identityStream) XORKeyStream(dst, src []byte) { copy(dst, src) }

// xorByteStream flips every bit of a fixed byte, distinguishing "bytes
// passed through a crypto transform" from "bytes copied raw" in a way
// identityStream cannot.
type xorByteStream struct{ key byte }

func (x xorByteStream) XORKeyStream(dst, src []byte) {
	for i, b := range src {
		dst[i] = b ^ x.key
	}
}

func TestRelayDirectFastModeBypassesCryptoOnDCToClientLeg(t *testing.T) {
	clientA, clientB := net.Pipe()
	dcA, dcB := net.Pipe()

	client := &ClientSession{Decrypt: identityStream{}, Encrypt: xorByteStream{key: 0x42}}
	direct := &DirectSession{Conn: dcA, Decrypt: xorByteStream{key: 0x99}, Encrypt: identityStream{}}
	account := NewStats().ForUser("carol")

	done := make(chan error, 1)
	go func() {
		done <- RelayDirect(context.Background(), clientA, client, direct, ModeDirectFast, account, 4096)
	}()

	dcMsg := []byte("ciphertext as the dc would send it")
	go dcB.Write(dcMsg)
	got := make([]byte, len(dcMsg))
	if err := readFull(clientB, got); err != nil {
		t.Fatalf("client did not receive dc bytes: %v", err)
	}
	// Fast mode must skip direct.Decrypt/client.Encrypt entirely on this
	// leg, so the client sees the dc's bytes completely unmodified, not
	// merely identical after two cancelling XORs.
	if !bytes.Equal(got, dcMsg) {
		t.Fatalf("expected dc bytes forwarded raw, got %q want %q", got, dcMsg)
	}

	clientB.Close()
	dcB.Close()
	<-done
}

func TestRelayDirectFastModeCopiesDCToClientRaw(t *testing.T) {
	clientA, clientB := net.Pipe()
	dcA, dcB := net.Pipe()

	client := &ClientSession{Decrypt: identityStream{}, Encrypt: identityStream{}}
	direct := &DirectSession{Conn: dcA, Decrypt: identityStream{}, Encrypt: identityStream{}}
	account := NewStats().ForUser("alice")

	done := make(chan error, 1)
	go func() {
		done <- RelayDirect(context.Background(), clientA, client, direct, ModeDirectFast, account, 4096)
	}()

	dcMsg := []byte("hello from the datacenter")
	go dcB.Write(dcMsg)
	got := make([]byte, len(dcMsg))
	if err := readFull(clientB, got); err != nil {
		t.Fatalf("client did not receive dc bytes: %v", err)
	}
	if !bytes.Equal(got, dcMsg) {
		t.Fatalf("expected raw copy, got %q want %q", got, dcMsg)
	}

	clientMsg := []byte("hello from the client")
	go clientB.Write(clientMsg)
	got2 := make([]byte, len(clientMsg))
	if err := readFull(dcB, got2); err != nil {
		t.Fatalf("dc did not receive client bytes: %v", err)
	}
	if !bytes.Equal(got2, clientMsg) {
		t.Fatalf("expected identity-decrypted copy, got %q want %q", got2, clientMsg)
	}

	clientB.Close()
	dcB.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RelayDirect returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RelayDirect did not return after both sides closed")
	}
}

func TestRelayMiddleProxyTranslatesFrames(t *testing.T) {
	clientA, clientB := net.Pipe()
	middleA, middleB := net.Pipe()

	client := &ClientSession{Decrypt: identityStream{}, Encrypt: identityStream{}}
	middle := &MiddleSession{
		Conn:   middleA,
		Writer: mtframe.NewProxyReqWriter(mtframe.NewIntermediateWriter(middleA, 0), []byte{}),
		Reader: mtframe.NewIntermediateReader(middleA, 0),
	}
	account := NewStats().ForUser("bob")

	done := make(chan error, 1)
	go func() {
		done <- RelayMiddleProxy(context.Background(), clientA, client, middle, account)
	}()

	clientPayload := []byte{1, 2, 3, 4}
	go mtframe.NewAbridgedWriter(clientB).WriteMessage(clientPayload)

	harnessReader := mtframe.NewIntermediateReader(middleB, 0)
	envelope, err := harnessReader.ReadMessage()
	if err != nil {
		t.Fatalf("read proxy-req envelope: %v", err)
	}
	if !bytes.HasSuffix(envelope, clientPayload) {
		t.Fatalf("expected envelope to carry the client payload, got %x", envelope)
	}
	if !bytes.Equal(envelope[:4], []byte{0xee, 0xf1, 0xce, 0x36}) {
		t.Fatalf("expected RPC_PROXY_REQ tag, got % x", envelope[:4])
	}

	ansPayload := []byte{9, 8, 7, 6}
	ansFrame := append(append([]byte{0x0d, 0xda, 0x03, 0x44}, make([]byte, 12)...), ansPayload...)
	harnessWriter := mtframe.NewIntermediateWriter(middleB, 0)
	if err := harnessWriter.WriteMessage(ansFrame); err != nil {
		t.Fatalf("write ans frame: %v", err)
	}

	got, err := mtframe.NewAbridgedReader(clientB).ReadMessage()
	if err != nil {
		t.Fatalf("read relayed message at client: %v", err)
	}
	if !bytes.Equal(got, ansPayload) {
		t.Fatalf("got %x want %x", got, ansPayload)
	}

	closeFrame := append([]byte{0xa2, 0x34, 0xb6, 0x5e}, make([]byte, 12)...)
	if err := harnessWriter.WriteMessage(closeFrame); err != nil {
		t.Fatalf("write close frame: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RelayMiddleProxy returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("RelayMiddleProxy did not return after RPC_CLOSE_EXT")
	}
}

func readFull(r net.Conn, buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return err
		}
	}
	return nil
}

func TestPumpHonorsConfiguredBufferSize(t *testing.T) {
	src := bytes.NewBufferString("some bytes to copy through pump")
	var dst bytes.Buffer

	n, err := pump(&dst, src, 4)
	if err != nil {
		t.Fatalf("pump: %v", err)
	}
	if n != int64(dst.Len()) {
		t.Fatalf("reported %d bytes, buffer holds %d", n, dst.Len())
	}
	if dst.String() != "some bytes to copy through pump" {
		t.Fatalf("unexpected copied content: %q", dst.String())
	}
}

func TestPumpZeroBufSizeFallsBackToIOCopy(t *testing.T) {
	src := bytes.NewBufferString("fallback path")
	var dst bytes.Buffer

	n, err := pump(&dst, src, 0)
	if err != nil {
		t.Fatalf("pump: %v", err)
	}
	if n != int64(len("fallback path")) || dst.String() != "fallback path" {
		t.Fatalf("unexpected result: n=%d content=%q", n, dst.String())
	}
}
