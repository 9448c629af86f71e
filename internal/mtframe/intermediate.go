package mtframe

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-mtproxy/mtproxy/internal/crypto"
)

const (
	minMsgLen      = 12
	maxMsgLen      = 1 << 24
	cbcPaddingUnit = 16
)

var paddingFillerBytes = [4]byte{0x04, 0x00, 0x00, 0x00}

// IntermediateReader decodes the length+seq+payload+CRC32 framing used
// between the proxy and a middle proxy, skipping the bare 4-byte
// keepalive frames (msg_len == 4) a middle proxy may interleave.
type IntermediateReader struct {
	r     io.Reader
	seqNo int32
}

func NewIntermediateReader(r io.Reader, startSeqNo int32) *IntermediateReader {
	return &IntermediateReader{r: r, seqNo: startSeqNo}
}

// SeqNo returns the next sequence number this reader expects, letting a
// caller hand off to a fresh reader over a re-wrapped stream (e.g. once
// a handshake upgrades the connection to AES-CBC) without losing the
// running sequence count.
func (f *IntermediateReader) SeqNo() int32 {
	return f.seqNo
}

func (f *IntermediateReader) ReadMessage() ([]byte, error) {
	var lenBytes [4]byte
	for {
		if _, err := io.ReadFull(f.r, lenBytes[:]); err != nil {
			return nil, err
		}
		msgLen := binary.LittleEndian.Uint32(lenBytes[:])
		if msgLen != 4 {
			if msgLen < minMsgLen || msgLen > maxMsgLen || msgLen%4 != 0 {
				return nil, fmt.Errorf("mtframe: bad intermediate frame length %d", msgLen)
			}

			var seqBytes [4]byte
			if _, err := io.ReadFull(f.r, seqBytes[:]); err != nil {
				return nil, err
			}
			seq := int32(binary.LittleEndian.Uint32(seqBytes[:]))
			if seq != f.seqNo {
				return nil, fmt.Errorf("mtframe: unexpected seq_no %d, want %d", seq, f.seqNo)
			}
			f.seqNo++

			data := make([]byte, msgLen-4-4-4)
			if _, err := io.ReadFull(f.r, data); err != nil {
				return nil, err
			}

			var sumBytes [4]byte
			if _, err := io.ReadFull(f.r, sumBytes[:]); err != nil {
				return nil, err
			}
			want := binary.LittleEndian.Uint32(sumBytes[:])

			checkBuf := make([]byte, 0, 8+len(data))
			checkBuf = append(checkBuf, lenBytes[:]...)
			checkBuf = append(checkBuf, seqBytes[:]...)
			checkBuf = append(checkBuf, data...)
			if crypto.ComputeCRC32(checkBuf) != want {
				return nil, fmt.Errorf("mtframe: intermediate frame checksum mismatch")
			}
			return data, nil
		}
		// msg_len == 4: keepalive padding frame, loop for the next one.
	}
}

// IntermediateWriter encodes outbound messages with the same framing,
// padding the whole message to a 16-byte boundary with the filler
// pattern so AES-CBC on top of it never needs its own padding scheme.
type IntermediateWriter struct {
	w     io.Writer
	seqNo int32
}

func NewIntermediateWriter(w io.Writer, startSeqNo int32) *IntermediateWriter {
	return &IntermediateWriter{w: w, seqNo: startSeqNo}
}

// SeqNo returns the next sequence number this writer will stamp.
func (f *IntermediateWriter) SeqNo() int32 {
	return f.seqNo
}

func (f *IntermediateWriter) WriteMessage(msg []byte) error {
	var lenBytes, seqBytes [4]byte
	binary.LittleEndian.PutUint32(lenBytes[:], uint32(len(msg)+4+4+4))
	binary.LittleEndian.PutUint32(seqBytes[:], uint32(f.seqNo))
	f.seqNo++

	full := make([]byte, 0, len(lenBytes)+len(seqBytes)+len(msg)+4)
	full = append(full, lenBytes[:]...)
	full = append(full, seqBytes[:]...)
	full = append(full, msg...)

	sum := crypto.ComputeCRC32(full)
	var sumBytes [4]byte
	binary.LittleEndian.PutUint32(sumBytes[:], sum)
	full = append(full, sumBytes[:]...)

	padLen := (-len(full)) % cbcPaddingUnit
	if padLen < 0 {
		padLen += cbcPaddingUnit
	}
	for i := 0; i < padLen; i += len(paddingFillerBytes) {
		full = append(full, paddingFillerBytes[:]...)
	}

	_, err := f.w.Write(full)
	return err
}
