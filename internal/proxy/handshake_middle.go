package proxy

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	mtcrypto "github.com/go-mtproxy/mtproxy/internal/crypto"
	"github.com/go-mtproxy/mtproxy/internal/dc"
	"github.com/go-mtproxy/mtproxy/internal/mtframe"
)

const (
	middleStartSeqNo    = -2
	middleNonceLen      = 16
	middleNonceAnsLen   = 32
	middleHandshakeLen  = 32
	middleCBCBlock      = 16
)

var (
	rpcNonce     = [4]byte{0xaa, 0x87, 0xcb, 0x7a}
	rpcHandshake = [4]byte{0xf5, 0xee, 0x82, 0x76}
	cryptoAES    = [4]byte{0x01, 0x00, 0x00, 0x00}
	senderPID    = [12]byte{'I', 'P', 'I', 'P', 'P', 'R', 'P', 'D', 'T', 'I', 'M', 'E'}
)

// MiddleSession is an open, handshaken connection to a middle proxy,
// ready to carry RPC_PROXY_REQ-wrapped frames.
type MiddleSession struct {
	Conn   net.Conn
	Writer *mtframe.ProxyReqWriter
	Reader *mtframe.IntermediateReader
}

// MiddleProxyHandshake performs the RPC_NONCE/RPC_HANDSHAKE exchange
// and returns a session ready to relay proxy-req-framed
// messages. myIP is this process's own discovered public address,
// mixed into the key derivation the same way the datacenter's and our
// own observed socket addresses are.
func MiddleProxyHandshake(dialer *net.Dialer, dcIndex int, myIP net.IP, adTag []byte) (*MiddleSession, error) {
	target, ok := dc.ResolveMiddleProxy(dcIndex)
	if !ok {
		return nil, fmt.Errorf("proxy: no middle proxy for index %d", dcIndex)
	}

	conn, err := dialer.Dial("tcp", net.JoinHostPort(target.Host, fmt.Sprint(target.Port)))
	if err != nil {
		return nil, fmt.Errorf("proxy: dial middle proxy %s: %w", target.Host, err)
	}

	plainWriter := mtframe.NewIntermediateWriter(conn, middleStartSeqNo)
	plainReader := mtframe.NewIntermediateReader(conn, middleStartSeqNo)

	keySelector := dc.ProxySecret[:4]
	cryptoTS := uint32(time.Now().Unix() % (1 << 32))

	nonce := make([]byte, middleNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		conn.Close()
		return nil, err
	}

	var cryptoTSBytes [4]byte
	binary.LittleEndian.PutUint32(cryptoTSBytes[:], cryptoTS)

	nonceMsg := make([]byte, 0, 32)
	nonceMsg = append(nonceMsg, rpcNonce[:]...)
	nonceMsg = append(nonceMsg, keySelector...)
	nonceMsg = append(nonceMsg, cryptoAES[:]...)
	nonceMsg = append(nonceMsg, cryptoTSBytes[:]...)
	nonceMsg = append(nonceMsg, nonce...)

	if err := plainWriter.WriteMessage(nonceMsg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: send RPC_NONCE: %w", err)
	}

	ans, err := plainReader.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: read RPC_NONCE answer: %w", err)
	}
	if len(ans) != middleNonceAnsLen {
		conn.Close()
		return nil, fmt.Errorf("proxy: RPC_NONCE answer has length %d, want %d", len(ans), middleNonceAnsLen)
	}

	ansType, ansKeySelector, ansSchema := ans[0:4], ans[4:8], ans[8:12]
	serverNonce := ans[16:32]
	if !bytes.Equal(ansType, rpcNonce[:]) || !bytes.Equal(ansKeySelector, keySelector) || !bytes.Equal(ansSchema, cryptoAES[:]) {
		conn.Close()
		return nil, fmt.Errorf("proxy: unexpected RPC_NONCE answer fields")
	}

	tgAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("proxy: middle proxy remote address is not TCP")
	}
	myAddr, ok := conn.LocalAddr().(*net.TCPAddr)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("proxy: middle proxy local address is not TCP")
	}

	tgIPBytes := reversed(tgAddr.IP.To4())
	myIPBytes := reversed(myIP.To4())

	var tgPortBytes, myPortBytes [2]byte
	binary.LittleEndian.PutUint16(tgPortBytes[:], uint16(tgAddr.Port))
	binary.LittleEndian.PutUint16(myPortBytes[:], uint16(myAddr.Port))

	encKey, encIV := mtcrypto.MiddleProxyKeyIV(
		"CLIENT", arr16(serverNonce), arr16(nonce), cryptoTS,
		arr4(tgIPBytes), binary.LittleEndian.Uint16(myPortBytes[:]),
		arr4(myIPBytes), binary.LittleEndian.Uint16(tgPortBytes[:]),
		dc.ProxySecret, nil, nil,
	)
	decKey, decIV := mtcrypto.MiddleProxyKeyIV(
		"SERVER", arr16(serverNonce), arr16(nonce), cryptoTS,
		arr4(tgIPBytes), binary.LittleEndian.Uint16(myPortBytes[:]),
		arr4(myIPBytes), binary.LittleEndian.Uint16(tgPortBytes[:]),
		dc.ProxySecret, nil, nil,
	)

	cbcEnc, err := mtcrypto.NewCBCEncrypter(encKey, encIV)
	if err != nil {
		conn.Close()
		return nil, err
	}
	cbcDec, err := mtcrypto.NewCBCDecrypter(decKey, decIV)
	if err != nil {
		conn.Close()
		return nil, err
	}

	block := mtcrypto.NewBlockStream(conn, middleCBCBlock, cipherModeXform(cbcDec), cipherModeXform(cbcEnc))

	cbcWriter := mtframe.NewIntermediateWriter(block, plainWriter.SeqNo())
	cbcReader := mtframe.NewIntermediateReader(block, plainReader.SeqNo())

	handshakeMsg := make([]byte, 0, middleHandshakeLen)
	handshakeMsg = append(handshakeMsg, rpcHandshake[:]...)
	handshakeMsg = append(handshakeMsg, 0x00, 0x00, 0x00, 0x00)
	handshakeMsg = append(handshakeMsg, senderPID[:]...)
	handshakeMsg = append(handshakeMsg, senderPID[:]...)

	if err := cbcWriter.WriteMessage(handshakeMsg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: send RPC_HANDSHAKE: %w", err)
	}

	handshakeAns, err := cbcReader.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("proxy: read RPC_HANDSHAKE answer: %w", err)
	}
	if len(handshakeAns) != middleHandshakeLen {
		conn.Close()
		return nil, fmt.Errorf("proxy: RPC_HANDSHAKE answer has length %d, want %d", len(handshakeAns), middleHandshakeLen)
	}
	ansHandshakeType, ansPeerPID := handshakeAns[0:4], handshakeAns[20:32]
	if !bytes.Equal(ansHandshakeType, rpcHandshake[:]) || !bytes.Equal(ansPeerPID, senderPID[:]) {
		conn.Close()
		return nil, fmt.Errorf("proxy: unexpected RPC_HANDSHAKE answer fields")
	}

	return &MiddleSession{
		Conn:   conn,
		Writer: mtframe.NewProxyReqWriter(cbcWriter, adTag),
		Reader: cbcReader,
	}, nil
}

func cipherModeXform(mode cipher.BlockMode) mtcrypto.Transformer {
	return mode.CryptBlocks
}

func arr16(b []byte) [16]byte {
	var out [16]byte
	copy(out[:], b)
	return out
}

func arr4(b []byte) [4]byte {
	var out [4]byte
	copy(out[:], b)
	return out
}
