package proxy

import (
	"context"
	"errors"
	"io"
	"net"

	"golang.org/x/sync/errgroup"

	mtcrypto "github.com/go-mtproxy/mtproxy/internal/crypto"
	"github.com/go-mtproxy/mtproxy/internal/mtframe"
)

// Mode identifies which of the three relay shapes a session uses.
type Mode int

const (
	ModeDirectFast Mode = iota
	ModeDirectReencrypt
	ModeMiddleProxy
)

// RelayDirect pumps bytes between the client and a direct datacenter
// connection. In ModeDirectFast the datacenter->client leg is copied
// raw (see DirectHandshake's key-reuse trick); every other leg/mode
// re-encrypts through the matching CTR stream. bufSize sizes the
// copy buffer for both legs; callers pass the configured read buffer
// size.
func RelayDirect(ctx context.Context, clientConn net.Conn, client *ClientSession, direct *DirectSession, mode Mode, account *UserAccounting, bufSize int) error {
	clientBlock := mtcrypto.NewBlockStream(clientConn, 1, client.Decrypt.XORKeyStream, client.Encrypt.XORKeyStream)
	dcBlock := mtcrypto.NewBlockStream(direct.Conn, 1, direct.Decrypt.XORKeyStream, direct.Encrypt.XORKeyStream)

	account.ConnectionOpened()
	defer account.ConnectionClosed()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer clientConn.Close()
		var n int64
		var err error
		if mode == ModeDirectFast {
			n, err = pump(clientConn, direct.Conn, bufSize)
		} else {
			n, err = pump(clientBlock, dcBlock, bufSize)
		}
		account.BytesForwarded(n)
		return ignoreRelayClose(err)
	})
	g.Go(func() error {
		defer direct.Conn.Close()
		n, err := pump(dcBlock, clientBlock, bufSize)
		account.BytesForwarded(n)
		return ignoreRelayClose(err)
	})
	return g.Wait()
}

// RelayMiddleProxy pumps frames between the client (abridged framing)
// and a middle proxy (proxy-req-wrapped intermediate framing).
func RelayMiddleProxy(ctx context.Context, clientConn net.Conn, client *ClientSession, middle *MiddleSession, account *UserAccounting) error {
	clientBlock := mtcrypto.NewBlockStream(clientConn, 1, client.Decrypt.XORKeyStream, client.Encrypt.XORKeyStream)
	clientReader := mtframe.NewAbridgedReader(clientBlock)
	clientWriter := mtframe.NewAbridgedWriter(clientBlock)

	account.ConnectionOpened()
	defer account.ConnectionClosed()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer middle.Conn.Close()
		for {
			msg, err := clientReader.ReadMessage()
			if err != nil {
				return err
			}
			account.BytesForwarded(int64(len(msg)))
			if err := middle.Writer.WriteMessage(msg); err != nil {
				return err
			}
		}
	})
	g.Go(func() error {
		defer clientConn.Close()
		for {
			frame, err := middle.Reader.ReadMessage()
			if err != nil {
				return err
			}
			msg, err := mtframe.UnwrapProxyAns(frame)
			if err != nil {
				return err
			}
			account.BytesForwarded(int64(len(msg)))
			if err := clientWriter.WriteMessage(msg); err != nil {
				return err
			}
		}
	})
	return ignoreRelayClose(g.Wait())
}

// pump copies from src to dst until EOF or error, the same
// read-loop-then-write-loop shape the reference relay uses, and returns
// the byte count and error io.Copy/io.CopyBuffer report, with a plain
// io.EOF mapped to nil so callers only see errors that are not plain
// EOF (connection reset, broken pipe). bufSize, when positive, sizes
// the copy buffer instead of io.Copy's default 32 KiB.
func pump(dst io.Writer, src io.Reader, bufSize int) (int64, error) {
	var n int64
	var err error
	if bufSize > 0 {
		n, err = io.CopyBuffer(dst, src, make([]byte, bufSize))
	} else {
		n, err = io.Copy(dst, src)
	}
	if errors.Is(err, io.EOF) {
		err = nil
	}
	return n, err
}

// ignoreRelayClose treats the middle proxy's RPC_CLOSE_EXT and a plain
// EOF as an ordinary end of session rather than a failure worth
// surfacing to the caller; everything else (reset, broken pipe) is
// still returned so the listener can log it at debug.
func ignoreRelayClose(err error) error {
	if errors.Is(err, mtframe.ErrRelayClosed) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
