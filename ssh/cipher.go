// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/des"
	"crypto/rc4"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"hash"
	"io"
)

const (
	// minPacketLength is the smallest legal packet: one byte of padding
	// length and four of content. RFC 4253 section 6.
	minPacketLength = 5

	// maxPacketLength caps the total packet size, minus MAC.
	// Implementations must accept packets of 35000 bytes; we reject
	// anything larger.
	maxPacketLength = 35000

	// maxPayload is the largest payload a single packet may carry.
	maxPayload = 32768

	// minPaddingLength is the minimum number of random padding bytes in a
	// packet. RFC 4253 section 6.
	minPaddingLength = 4

	// minPacketSizeMultiple is the smallest block multiple a packet must
	// pad to, regardless of the cipher block size.
	minPacketSizeMultiple = 8
)

var (
	errPacketTooLarge = errors.New("ssh: packet length exceeds limit")
	errPacketTooSmall = errors.New("ssh: packet length below minimum")
	errBadPacketAlign = errors.New("ssh: packet length not a block multiple")
	errBadPadding     = errors.New("ssh: invalid packet padding length")
	errMACFailure     = errors.New("ssh: MAC failure")
)

// A packetCipher seals outbound packets and opens inbound ones for one
// direction of the connection.
type packetCipher interface {
	// writePacket encrypts the packet and writes it to w. The caller must
	// not modify the packet afterwards; the encryption happens in place.
	writePacket(seqNum uint32, w io.Writer, rand io.Reader, packet []byte) error

	// readPacket reads and decrypts a packet from r. The returned slice is
	// valid until the next call.
	readPacket(seqNum uint32, r io.Reader) ([]byte, error)
}

// CipherMode describes a stream cipher for registration with
// RegisterCipher.
type CipherMode struct {
	// KeySize and IVSize are the number of key and IV bytes the cipher
	// consumes.
	KeySize int
	IVSize  int
	// BlockSize is the padding multiple; 8 for pure stream ciphers.
	BlockSize int
	// NewStream builds the keystream. The same function serves both
	// directions.
	NewStream func(key, iv []byte) (cipher.Stream, error)
}

type cipherMode interface {
	createPacketCipher(encrypt bool, mac *macMode, key, iv, macKey []byte) (packetCipher, error)
	KeySize() int
	IvSize() int
}

// noneCipher implements cipher.Stream and provides no encryption. It is
// used by the transport before the first key exchange.
type noneCipher struct{}

func (c noneCipher) XORKeyStream(dst, src []byte) {
	copy(dst, src)
}

func newAESCTR(key, iv []byte) (cipher.Stream, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCTR(c, iv), nil
}

func newAESCBC(key, iv []byte, encrypt bool) (cipher.BlockMode, error) {
	c, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if encrypt {
		return cipher.NewCBCEncrypter(c, iv), nil
	}
	return cipher.NewCBCDecrypter(c, iv), nil
}

func new3DESCBC(key, iv []byte, encrypt bool) (cipher.BlockMode, error) {
	c, err := des.NewTripleDESCipher(key)
	if err != nil {
		return nil, err
	}
	if encrypt {
		return cipher.NewCBCEncrypter(c, iv), nil
	}
	return cipher.NewCBCDecrypter(c, iv), nil
}

func newRC4(key, iv []byte) (cipher.Stream, error) {
	return rc4.NewCipher(key)
}

type streamCipherMode struct {
	keySize    int
	ivSize     int
	blockSize  int
	skip       int
	createFunc func(key, iv []byte) (cipher.Stream, error)
}

func (c *streamCipherMode) KeySize() int { return c.keySize }
func (c *streamCipherMode) IvSize() int  { return c.ivSize }

func (c *streamCipherMode) createStream(key, iv []byte) (cipher.Stream, error) {
	if len(key) < c.keySize {
		panic("ssh: key length too small for cipher")
	}
	if len(iv) < c.ivSize {
		panic("ssh: iv too small for cipher")
	}

	stream, err := c.createFunc(key[:c.keySize], iv[:c.ivSize])
	if err != nil {
		return nil, err
	}

	var streamDump []byte
	if c.skip > 0 {
		streamDump = make([]byte, 512)
	}

	for remainingToDump := c.skip; remainingToDump > 0; {
		dumpThisTime := remainingToDump
		if dumpThisTime > len(streamDump) {
			dumpThisTime = len(streamDump)
		}
		stream.XORKeyStream(streamDump[:dumpThisTime], streamDump[:dumpThisTime])
		remainingToDump -= dumpThisTime
	}

	return stream, nil
}

func (c *streamCipherMode) createPacketCipher(encrypt bool, mac *macMode, key, iv, macKey []byte) (packetCipher, error) {
	stream, err := c.createStream(key, iv)
	if err != nil {
		return nil, err
	}
	pc := &streamPacketCipher{
		cipher:    stream,
		blockSize: maxInt(minPacketSizeMultiple, c.blockSize),
	}
	if mac != nil {
		pc.mac = mac.new(macKey)
		pc.macResult = make([]byte, pc.mac.Size())
	}
	return pc, nil
}

type blockCipherMode struct {
	keySize    int
	ivSize     int
	createFunc func(key, iv []byte, encrypt bool) (cipher.BlockMode, error)
}

func (c *blockCipherMode) KeySize() int { return c.keySize }
func (c *blockCipherMode) IvSize() int  { return c.ivSize }

func (c *blockCipherMode) createPacketCipher(encrypt bool, mac *macMode, key, iv, macKey []byte) (packetCipher, error) {
	if len(key) < c.keySize {
		panic("ssh: key length too small for cipher")
	}
	if len(iv) < c.ivSize {
		panic("ssh: iv too small for cipher")
	}
	block, err := c.createFunc(key[:c.keySize], iv[:c.ivSize], encrypt)
	if err != nil {
		return nil, err
	}
	pc := &blockPacketCipher{cipher: block}
	if mac != nil {
		pc.mac = mac.new(macKey)
		pc.macResult = make([]byte, pc.mac.Size())
	}
	return pc, nil
}

// cipherModes documents properties of supported ciphers. Ciphers not
// included are not supported and will not be negotiated, even if explicitly
// requested. Additional ciphers may be added at runtime with RegisterCipher.
var cipherModes = map[string]interface{}{
	// Ciphers from RFC4344, which introduced many CTR-based ciphers.
	// Algorithms are defined in the order specified in the RFC.
	"aes128-ctr": &streamCipherMode{16, aes.BlockSize, aes.BlockSize, 0, newAESCTR},
	"aes192-ctr": &streamCipherMode{24, aes.BlockSize, aes.BlockSize, 0, newAESCTR},
	"aes256-ctr": &streamCipherMode{32, aes.BlockSize, aes.BlockSize, 0, newAESCTR},

	// Ciphers from RFC4345, which introduces security-improved arcfour
	// ciphers. They are defined in the order specified in the RFC.
	"arcfour128": &streamCipherMode{16, 0, minPacketSizeMultiple, 1536, newRC4},
	"arcfour256": &streamCipherMode{32, 0, minPacketSizeMultiple, 1536, newRC4},

	// CBC mode ciphers from RFC 4253.
	"aes128-cbc": &blockCipherMode{16, aes.BlockSize, newAESCBC},
	"aes192-cbc": &blockCipherMode{24, aes.BlockSize, newAESCBC},
	"aes256-cbc": &blockCipherMode{32, aes.BlockSize, newAESCBC},
	"3des-cbc":   &blockCipherMode{24, des.BlockSize, new3DESCBC},
}

var cipherRegistry = newAlgorithmRegistry("cipher", cipherModes)

func lookupCipher(name string) (cipherMode, bool) {
	impl, ok := cipherRegistry.get(name)
	if !ok {
		return nil, false
	}
	return impl.(cipherMode), true
}

// prefixLen is the length of the packet prefix that contains the packet
// length and number of padding bytes.
const prefixLen = 5

// streamPacketCipher is a packetCipher using a stream cipher.
type streamPacketCipher struct {
	mac       hash.Hash
	cipher    cipher.Stream
	blockSize int

	// The following members are to avoid per-packet allocations.
	prefix      [prefixLen]byte
	seqNumBytes [4]byte
	padding     [2 * 64]byte
	packetData  []byte
	macResult   []byte
}

// readPacket reads and decrypts a single packet from the reader argument.
func (s *streamPacketCipher) readPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	if _, err := io.ReadFull(r, s.prefix[:]); err != nil {
		return nil, err
	}

	s.cipher.XORKeyStream(s.prefix[:], s.prefix[:])
	length := binary.BigEndian.Uint32(s.prefix[0:4])
	paddingLength := uint32(s.prefix[4])

	if err := checkPacketLength(length, paddingLength, s.blockSize); err != nil {
		return nil, err
	}

	var macSize uint32
	if s.mac != nil {
		s.mac.Reset()
		binary.BigEndian.PutUint32(s.seqNumBytes[:], seqNum)
		s.mac.Write(s.seqNumBytes[:])
		s.mac.Write(s.prefix[:])
		macSize = uint32(s.mac.Size())
	}

	if uint32(cap(s.packetData)) < length-1+macSize {
		s.packetData = make([]byte, length-1+macSize)
	} else {
		s.packetData = s.packetData[:length-1+macSize]
	}

	if _, err := io.ReadFull(r, s.packetData); err != nil {
		return nil, err
	}
	mac := s.packetData[length-1:]
	data := s.packetData[:length-1]
	s.cipher.XORKeyStream(data, data)

	if s.mac != nil {
		s.mac.Write(data)
		s.macResult = s.mac.Sum(s.macResult[:0])
		if subtle.ConstantTimeCompare(s.macResult, mac) != 1 {
			return nil, errMACFailure
		}
	}

	return s.packetData[:length-paddingLength-1], nil
}

// writePacket encrypts and sends a packet of data to the writer argument
func (s *streamPacketCipher) writePacket(seqNum uint32, w io.Writer, rand io.Reader, packet []byte) error {
	if len(packet) > maxPayload {
		return errPacketTooLarge
	}

	paddingLength := s.blockSize - (prefixLen+len(packet))%s.blockSize
	if paddingLength < minPaddingLength {
		paddingLength += s.blockSize
	}

	length := len(packet) + 1 + paddingLength
	binary.BigEndian.PutUint32(s.prefix[:], uint32(length))
	s.prefix[4] = byte(paddingLength)
	padding := s.padding[:paddingLength]
	if _, err := io.ReadFull(rand, padding); err != nil {
		return err
	}

	if s.mac != nil {
		s.mac.Reset()
		binary.BigEndian.PutUint32(s.seqNumBytes[:], seqNum)
		s.mac.Write(s.seqNumBytes[:])
		s.mac.Write(s.prefix[:])
		s.mac.Write(packet)
		s.mac.Write(padding)
	}

	s.cipher.XORKeyStream(s.prefix[:], s.prefix[:])
	s.cipher.XORKeyStream(packet, packet)
	s.cipher.XORKeyStream(padding, padding)

	if _, err := w.Write(s.prefix[:]); err != nil {
		return err
	}
	if _, err := w.Write(packet); err != nil {
		return err
	}
	if _, err := w.Write(padding); err != nil {
		return err
	}

	if s.mac != nil {
		s.macResult = s.mac.Sum(s.macResult[:0])
		if _, err := w.Write(s.macResult); err != nil {
			return err
		}
	}

	return nil
}

type blockPacketCipher struct {
	mac    hash.Hash
	cipher cipher.BlockMode

	// The following members are to avoid per-packet allocations.
	seqNumBytes [4]byte
	macResult   []byte
}

// blockedLength calculates the number of bytes required to hold length
// bytes of data, within the given block size multiple.
func blockedLength(length, blockSize int) int {
	numBlocks := length / blockSize
	if length%blockSize > 0 {
		numBlocks++
	}
	return numBlocks * blockSize
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// checkPacketLength validates the decrypted length fields against RFC 4253
// section 6 and the 35000 byte ceiling.
func checkPacketLength(length, paddingLength uint32, blockSize int) error {
	if length > maxPacketLength {
		return errPacketTooLarge
	}
	if length < minPacketLength {
		return errPacketTooSmall
	}
	if paddingLength < minPaddingLength || length <= paddingLength+1 {
		return errBadPadding
	}
	if (length+4)%uint32(maxInt(minPacketSizeMultiple, blockSize)) != 0 {
		return errBadPacketAlign
	}
	return nil
}

func (s *blockPacketCipher) readPacket(seqNum uint32, r io.Reader) ([]byte, error) {
	blockSize := s.cipher.BlockSize()

	// Read the header, which will include some of the subsequent data in
	// the case of block ciphers - this is copied back to the payload later.
	firstBlockLength := blockedLength(prefixLen, blockSize)
	overreadLength := firstBlockLength - prefixLen
	firstBlock := make([]byte, firstBlockLength)
	if _, err := io.ReadFull(r, firstBlock); err != nil {
		return nil, err
	}

	s.cipher.CryptBlocks(firstBlock, firstBlock)

	length := binary.BigEndian.Uint32(firstBlock[:4])
	paddingLength := uint32(firstBlock[4])

	if err := checkPacketLength(length, paddingLength, blockSize); err != nil {
		return nil, err
	}

	var macSize uint32
	if s.mac != nil {
		macSize = uint32(s.mac.Size())
	}

	// Various positions/lengths within the payload/padding buffer:
	cryptedStart := uint32(overreadLength)
	paddingStart := length - paddingLength - 1
	macStart := paddingStart + paddingLength
	bufferLength := macStart + macSize

	packet := make([]byte, bufferLength)
	if _, err := io.ReadFull(r, packet[cryptedStart:]); err != nil {
		return nil, err
	}
	mac := packet[macStart:]

	// Copy the previously decrypted bytes in at the start.
	copy(packet[:cryptedStart], firstBlock[prefixLen:])

	// Decrypt the remainder of the packet.
	remainingCrypted := packet[cryptedStart:macStart]
	s.cipher.CryptBlocks(remainingCrypted, remainingCrypted)

	if s.mac != nil {
		s.mac.Reset()
		binary.BigEndian.PutUint32(s.seqNumBytes[:], seqNum)
		s.mac.Write(s.seqNumBytes[:])
		s.mac.Write(firstBlock[:prefixLen])
		s.mac.Write(packet[:macStart])
		s.macResult = s.mac.Sum(s.macResult[:0])
		if subtle.ConstantTimeCompare(s.macResult, mac) != 1 {
			return nil, errMACFailure
		}
	}

	return packet[:paddingStart], nil
}

func (s *blockPacketCipher) writePacket(seqNum uint32, w io.Writer, rand io.Reader, packet []byte) error {
	if len(packet) > maxPayload {
		return errPacketTooLarge
	}

	effectiveBlockSize := maxInt(minPacketSizeMultiple, s.cipher.BlockSize())

	// Enforce minimum padding and block size.
	encLength := blockedLength(prefixLen+len(packet)+minPaddingLength, effectiveBlockSize)

	length := encLength - 4
	paddingLength := length - (1 + len(packet))

	// Overall buffer contains: header, payload, padding.
	buffer := make([]byte, prefixLen+len(packet)+paddingLength)
	binary.BigEndian.PutUint32(buffer[:4], uint32(length))
	buffer[4] = byte(paddingLength)

	dataEnd := len(buffer) - paddingLength
	copy(buffer[prefixLen:dataEnd], packet)

	if _, err := io.ReadFull(rand, buffer[dataEnd:]); err != nil {
		return err
	}

	if s.mac != nil {
		s.mac.Reset()
		binary.BigEndian.PutUint32(s.seqNumBytes[:], seqNum)
		s.mac.Write(s.seqNumBytes[:])
		s.mac.Write(buffer)
	}

	s.cipher.CryptBlocks(buffer, buffer)

	if _, err := w.Write(buffer); err != nil {
		return err
	}

	if s.mac != nil {
		s.macResult = s.mac.Sum(s.macResult[:0])
		if _, err := w.Write(s.macResult); err != nil {
			return err
		}
	}

	return nil
}
