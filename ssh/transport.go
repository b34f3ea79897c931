// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// packetConn is the interface shared by the plain and key-exchanging
// transports: a sequenced, framed packet stream.
type packetConn interface {
	// writePacket frames, optionally compresses, encrypts and MACs one
	// payload.
	writePacket(packet []byte) error

	// readPacket returns the payload of the next inbound packet.
	readPacket() ([]byte, error)

	Close() error
}

// transport implements the SSH packet pipeline (RFC 4253 section 6) over a
// byte stream. It owns one sequence number, cipher state and compressor per
// direction.
type transport struct {
	reader connectionState
	writer connectionState

	bufReader *bufio.Reader
	bufWriter *bufio.Writer
	rand      io.Reader
	isClient  bool
	io.Closer

	// wmu serialises writers; the reader side is owned by a single
	// goroutine and needs no lock.
	wmu sync.Mutex
}

// connectionState is the per-direction pipeline state: cipher, sequence
// number, traffic counters and compressor.
type connectionState struct {
	cipher  packetCipher
	seqNum  uint32
	packets uint64
	bytes   uint64

	compressor        Compressor
	pendingCompressor Compressor // delayed compression, enabled after userauth
}

func newTransport(rwc io.ReadWriteCloser, rand io.Reader, isClient bool) *transport {
	none := &streamPacketCipher{cipher: noneCipher{}, blockSize: minPacketSizeMultiple}
	return &transport{
		reader:    connectionState{cipher: none},
		writer:    connectionState{cipher: &streamPacketCipher{cipher: noneCipher{}, blockSize: minPacketSizeMultiple}},
		bufReader: bufio.NewReader(rwc),
		bufWriter: bufio.NewWriter(rwc),
		rand:      rand,
		isClient:  isClient,
		Closer:    rwc,
	}
}

// readPacket decrypts and returns the payload of one packet. The returned
// slice is owned by the caller.
func (t *transport) readPacket() ([]byte, error) {
	r := &t.reader
	packet, err := r.cipher.readPacket(r.seqNum, t.bufReader)
	r.seqNum++
	r.packets++
	r.bytes += uint64(len(packet))
	if err != nil {
		return nil, err
	}
	if r.compressor != nil {
		if packet, err = r.compressor.Decompress(packet); err != nil {
			return nil, err
		}
	}
	if len(packet) == 0 {
		return nil, errors.New("ssh: zero length packet")
	}
	fresh := make([]byte, len(packet))
	copy(fresh, packet)
	return fresh, nil
}

func (t *transport) writePacket(packet []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	w := &t.writer
	if w.compressor != nil {
		var err error
		if packet, err = w.compressor.Compress(packet); err != nil {
			return err
		}
	}
	if err := w.cipher.writePacket(w.seqNum, t.bufWriter, t.rand, packet); err != nil {
		return err
	}
	w.seqNum++
	w.packets++
	w.bytes += uint64(len(packet))
	return t.bufWriter.Flush()
}

// exceeded reports whether either traffic counter has crossed the rekey
// threshold.
func (c *connectionState) exceeded(rekeyBytes, rekeyPackets uint64) bool {
	return c.bytes >= rekeyBytes || c.packets >= rekeyPackets
}

// direction names the derivation letters for one direction of the
// connection. RFC 4253 section 7.2.
type direction struct {
	ivTag     byte
	keyTag    byte
	macKeyTag byte
}

var (
	clientKeys = direction{'A', 'C', 'E'}
	serverKeys = direction{'B', 'D', 'F'}
)

// setupKeys derives the cipher, MAC and compressor state for one direction
// from a completed key exchange and installs it. Counters restart from the
// new keys; sequence numbers are not reset.
func (c *connectionState) setupKeys(d direction, algs directionAlgorithms, kex *kexResult, encrypt bool) error {
	mode, ok := lookupCipher(algs.Cipher)
	if !ok {
		return errors.New("ssh: unsupported cipher " + algs.Cipher)
	}
	mac, ok := lookupMAC(algs.MAC)
	if !ok {
		return errors.New("ssh: unsupported MAC " + algs.MAC)
	}
	compress, ok := lookupCompression(algs.Compression)
	if !ok {
		return errors.New("ssh: unsupported compression " + algs.Compression)
	}

	iv := make([]byte, mode.IvSize())
	key := make([]byte, mode.KeySize())
	macKey := make([]byte, mac.keySize)

	generateKeyMaterial(iv, d.ivTag, kex)
	generateKeyMaterial(key, d.keyTag, kex)
	generateKeyMaterial(macKey, d.macKeyTag, kex)

	cipher, err := mode.createPacketCipher(encrypt, mac, key, iv, macKey)
	if err != nil {
		return err
	}
	c.cipher = cipher
	c.packets = 0
	c.bytes = 0

	switch algs.Compression {
	case compressionNone:
		c.compressor = nil
		c.pendingCompressor = nil
	case compressionDelayed:
		if c.compressor == nil {
			c.pendingCompressor = compress()
		}
	default:
		c.compressor = compress()
	}
	return nil
}

// enableDelayedCompression activates zlib@openssh.com streams. Called once
// user authentication has completed.
func (t *transport) enableDelayedCompression() {
	t.wmu.Lock()
	if c := t.writer.pendingCompressor; c != nil {
		t.writer.compressor = c
		t.writer.pendingCompressor = nil
	}
	t.wmu.Unlock()
	if c := t.reader.pendingCompressor; c != nil {
		t.reader.compressor = c
		t.reader.pendingCompressor = nil
	}
}

// generateKeyMaterial fills out with key material generated from kex
// result. See RFC 4253, section 7.2.
func generateKeyMaterial(out []byte, tag byte, r *kexResult) {
	var digestsSoFar []byte

	h := r.Hash.New()
	for len(out) > 0 {
		h.Reset()
		h.Write(r.K)
		h.Write(r.H)

		if len(digestsSoFar) == 0 {
			h.Write([]byte{tag})
			h.Write(r.SessionID)
		} else {
			h.Write(digestsSoFar)
		}

		digest := h.Sum(nil)
		n := copy(out, digest)
		out = out[n:]
		if len(out) > 0 {
			digestsSoFar = append(digestsSoFar, digest...)
		}
	}
}

// maxVersionStringBytes is the maximum number of bytes allowed for the
// identification line, including the trailing CRLF. RFC 4253 section 4.2
// limits it to 255.
const maxVersionStringBytes = 255

// readVersion reads a version string from the wire: a line terminated by
// LF, with an optional preceding CR, at most 255 bytes long. The returned
// string excludes the line terminator.
func readVersion(r io.Reader) ([]byte, error) {
	versionString := make([]byte, 0, 64)
	var ok bool
	var buf [1]byte

	for len(versionString) < maxVersionStringBytes {
		_, err := io.ReadFull(r, buf[:])
		if err != nil {
			return nil, err
		}
		// The RFC says that the version should be terminated with \r\n but
		// several SSH servers actually only send a \n.
		if buf[0] == '\n' {
			ok = true
			break
		}
		versionString = append(versionString, buf[0])
	}

	if !ok {
		return nil, errors.New("ssh: overflow reading version string")
	}

	// There might be a '\r' on the end which we should remove.
	if len(versionString) > 0 && versionString[len(versionString)-1] == '\r' {
		versionString = versionString[:len(versionString)-1]
	}
	return versionString, nil
}

// exchangeVersions writes our identification line and reads the peer's.
// Clients skip any banner lines the server emits before its identification
// line. RFC 4253 section 4.2.
func exchangeVersions(rw io.ReadWriter, versionLine []byte, isClient bool) (them []byte, err error) {
	if len(versionLine)+2 > maxVersionStringBytes {
		return nil, errors.New("ssh: identification line too long")
	}
	for _, c := range versionLine {
		// RFC 4253 disallows non US-ASCII and null characters in the
		// version line.
		if c < 32 || c > 126 {
			return nil, errors.New("ssh: junk character in version line")
		}
	}
	if _, err = rw.Write(append(append([]byte{}, versionLine...), '\r', '\n')); err != nil {
		return
	}

	for {
		them, err = readVersion(rw)
		if err != nil {
			return nil, err
		}
		if len(them) >= 4 && string(them[:4]) == "SSH-" {
			return them, nil
		}
		// Servers may send banner lines before their identification
		// line; only clients should tolerate them.
		if !isClient {
			return nil, errors.New("ssh: no identification line received")
		}
	}
}
