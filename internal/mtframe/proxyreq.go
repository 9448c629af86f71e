package mtframe

import (
	"crypto/rand"
	"fmt"
)

var (
	rpcProxyReq  = [4]byte{0xee, 0xf1, 0xce, 0x36}
	rpcProxyAns  = [4]byte{0x0d, 0xda, 0x03, 0x44}
	rpcCloseExt  = [4]byte{0xa2, 0x34, 0xb6, 0x5e}
	rpcFlags     = [4]byte{0x08, 0x10, 0x02, 0x40}
	rpcExtraSize = [4]byte{0x18, 0x00, 0x00, 0x00}
	rpcProxyTag  = [4]byte{0xae, 0x26, 0x1e, 0xdb}
)

// remoteIPPortPlaceholder and ourIPPortPlaceholder fill the 20-byte
// address fields the middle proxy's RPC_PROXY_REQ envelope expects; the
// middle proxy does not validate them against the real addresses (see
// DESIGN.md open question on this field).
var (
	remoteIPPortPlaceholder = bytesOf('A', 20)
	ourIPPortPlaceholder    = bytesOf('B', 20)
)

func bytesOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

// MessageWriter is satisfied by IntermediateWriter: the proxy-req
// envelope is itself framed as a single intermediate message.
type MessageWriter interface {
	WriteMessage([]byte) error
}

// ProxyReqWriter wraps each outbound message in the RPC_PROXY_REQ
// envelope a middle proxy expects, tagging it with the configured
// ad_tag so Telegram can credit the proxy's advertising slot.
type ProxyReqWriter struct {
	inner MessageWriter
	adTag []byte
}

func NewProxyReqWriter(inner MessageWriter, adTag []byte) *ProxyReqWriter {
	return &ProxyReqWriter{inner: inner, adTag: adTag}
}

func (p *ProxyReqWriter) WriteMessage(msg []byte) error {
	if len(msg)%4 != 0 {
		return fmt.Errorf("mtframe: proxy-req message length %d not a multiple of 4", len(msg))
	}

	connID := make([]byte, 8)
	if _, err := rand.Read(connID); err != nil {
		return err
	}

	full := make([]byte, 0, 4+4+8+20+20+4+4+1+len(p.adTag)+3+len(msg))
	full = append(full, rpcProxyReq[:]...)
	full = append(full, rpcFlags[:]...)
	full = append(full, connID...)
	full = append(full, remoteIPPortPlaceholder...)
	full = append(full, ourIPPortPlaceholder...)
	full = append(full, rpcExtraSize[:]...)
	full = append(full, rpcProxyTag[:]...)
	full = append(full, byte(len(p.adTag)))
	full = append(full, p.adTag...)
	full = append(full, 0x00, 0x00, 0x00)
	full = append(full, msg...)

	return p.inner.WriteMessage(full)
}

// ErrRelayClosed signals the middle proxy sent RPC_CLOSE_EXT: the
// relayed connection is over, not a transport error.
var ErrRelayClosed = fmt.Errorf("mtframe: middle proxy sent RPC_CLOSE_EXT")

// UnwrapProxyAns strips the RPC_PROXY_ANS envelope off a frame already
// read and length-delimited by an IntermediateReader.
func UnwrapProxyAns(frame []byte) ([]byte, error) {
	if len(frame) < 16 {
		return nil, fmt.Errorf("mtframe: proxy-req answer too short: %d bytes", len(frame))
	}

	var ansType [4]byte
	copy(ansType[:], frame[:4])

	if ansType == rpcCloseExt {
		return nil, ErrRelayClosed
	}
	if ansType != rpcProxyAns {
		return nil, fmt.Errorf("mtframe: unexpected RPC answer type % x", ansType)
	}

	return frame[16:], nil
}
