// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"crypto/rand"
	"errors"
	"io"
	"strconv"
	"sync"
)

// These are string constants in the SSH protocol.
const (
	compressionNone    = "none"
	compressionZlib    = "zlib"
	compressionDelayed = "zlib@openssh.com"
	serviceUserAuth    = "ssh-userauth"
	serviceSSH         = "ssh-connection"
)

// supportedKexAlgos lists the default key-exchange preference order.
var supportedKexAlgos = []string{
	kexAlgoECDH256, kexAlgoECDH384, kexAlgoECDH521,
	kexAlgoCurve25519SHA256,
	kexAlgoDHGexSHA256, kexAlgoDH14SHA1, kexAlgoDH1SHA1,
}

var supportedHostKeyAlgos = []string{
	KeyAlgoECDSA256, KeyAlgoECDSA384, KeyAlgoECDSA521,
	KeyAlgoRSA, KeyAlgoDSA,
	CertAlgoECDSA256v01, CertAlgoECDSA384v01, CertAlgoECDSA521v01,
	CertAlgoRSAv01, CertAlgoDSAv01,
}

// DefaultCipherOrder specifies the preference order of ciphers offered
// during algorithm negotiation when the config does not name its own.
var DefaultCipherOrder = []string{
	"aes128-ctr", "aes192-ctr", "aes256-ctr",
	"aes128-cbc", "aes192-cbc", "aes256-cbc",
}

// DefaultMACOrder specifies the preference order of MAC algorithms.
var DefaultMACOrder = []string{
	"hmac-sha2-256", "hmac-sha2-512",
	"hmac-sha1", "hmac-sha1-96",
	"hmac-md5", "hmac-md5-96",
}

var supportedCompressions = []string{compressionNone}

// UnexpectedMessageError results when the SSH message that we received didn't
// match what we wanted.
type UnexpectedMessageError struct {
	expected, got uint8
}

func (u UnexpectedMessageError) Error() string {
	return "ssh: unexpected message type " + itoa(int(u.got)) + " (expected " + itoa(int(u.expected)) + ")"
}

// ParseError results from a malformed SSH message.
type ParseError struct {
	msgType uint8
}

func (p ParseError) Error() string {
	return "ssh: parse error in message type " + itoa(int(p.msgType))
}

func itoa(n int) string { return strconv.Itoa(n) }

// directionAlgorithms names the negotiated algorithms for one direction of
// the connection.
type directionAlgorithms struct {
	Cipher      string
	MAC         string
	Compression string
}

// algorithms is the outcome of negotiation over a pair of KEXINIT messages.
type algorithms struct {
	kex     string
	hostKey string
	cs      directionAlgorithms // client to server
	sc      directionAlgorithms // server to client
}

func findCommonAlgorithm(clientAlgos []string, serverAlgos []string) (commonAlgo string, ok bool) {
	for _, clientAlgo := range clientAlgos {
		for _, serverAlgo := range serverAlgos {
			if clientAlgo == serverAlgo {
				return clientAlgo, true
			}
		}
	}

	return
}

var errNoCommonAlgorithm = errors.New("ssh: no common algorithm")

// findAgreedAlgorithms picks, for every negotiated slot, the first
// client-preferred entry that the server also lists. RFC 4253 section 7.1.
func findAgreedAlgorithms(clientKexInit, serverKexInit *kexInitMsg) (*algorithms, error) {
	var a algorithms
	var ok bool

	if a.kex, ok = findCommonAlgorithm(clientKexInit.KexAlgos, serverKexInit.KexAlgos); !ok {
		return nil, errNoCommonAlgorithm
	}
	if a.hostKey, ok = findCommonAlgorithm(clientKexInit.ServerHostKeyAlgos, serverKexInit.ServerHostKeyAlgos); !ok {
		return nil, errNoCommonAlgorithm
	}
	if a.cs.Cipher, ok = findCommonAlgorithm(clientKexInit.CiphersClientServer, serverKexInit.CiphersClientServer); !ok {
		return nil, errNoCommonAlgorithm
	}
	if a.sc.Cipher, ok = findCommonAlgorithm(clientKexInit.CiphersServerClient, serverKexInit.CiphersServerClient); !ok {
		return nil, errNoCommonAlgorithm
	}
	if a.cs.MAC, ok = findCommonAlgorithm(clientKexInit.MACsClientServer, serverKexInit.MACsClientServer); !ok {
		return nil, errNoCommonAlgorithm
	}
	if a.sc.MAC, ok = findCommonAlgorithm(clientKexInit.MACsServerClient, serverKexInit.MACsServerClient); !ok {
		return nil, errNoCommonAlgorithm
	}
	if a.cs.Compression, ok = findCommonAlgorithm(clientKexInit.CompressionClientServer, serverKexInit.CompressionClientServer); !ok {
		return nil, errNoCommonAlgorithm
	}
	if a.sc.Compression, ok = findCommonAlgorithm(clientKexInit.CompressionServerClient, serverKexInit.CompressionServerClient); !ok {
		return nil, errNoCommonAlgorithm
	}
	return &a, nil
}

// Cryptographic configuration common to both ServerConfig and ClientConfig.
type CryptoConfig struct {
	// The allowed key exchanges. If unspecified then a default set is used.
	KeyExchanges []string

	// The allowed cipher algorithms. If unspecified then DefaultCipherOrder
	// is used.
	Ciphers []string

	// The allowed MAC algorithms. If unspecified then DefaultMACOrder is
	// used.
	MACs []string

	// The preferred host key algorithms, for clients. If unspecified a
	// default set is offered. Servers derive theirs from the configured
	// host keys.
	HostKeys []string

	// The allowed compression algorithms. If unspecified only "none" is
	// offered.
	Compressions []string
}

func (c *CryptoConfig) kexes() []string {
	if c.KeyExchanges == nil {
		return supportedKexAlgos
	}
	return c.KeyExchanges
}

func (c *CryptoConfig) ciphers() []string {
	if c.Ciphers == nil {
		return DefaultCipherOrder
	}
	return c.Ciphers
}

func (c *CryptoConfig) hostKeys() []string {
	if c.HostKeys == nil {
		return supportedHostKeyAlgos
	}
	return c.HostKeys
}

func (c *CryptoConfig) macs() []string {
	if c.MACs == nil {
		return DefaultMACOrder
	}
	return c.MACs
}

func (c *CryptoConfig) compressions() []string {
	if c.Compressions == nil {
		return supportedCompressions
	}
	return c.Compressions
}

// TransportConfig carries the tunables shared by client and server
// transports. The zero value selects the defaults.
type TransportConfig struct {
	// Rand provides the source of entropy for key exchange and padding. If
	// nil, crypto/rand.Reader is used.
	Rand io.Reader

	// Cryptographic-related configuration.
	Crypto CryptoConfig

	// WindowSize is the initial window advertised for each channel.
	// Defaults to 2 MiB.
	WindowSize uint32

	// MaxPacket is the maximum channel packet size advertised to the peer.
	// Defaults to 32 KiB.
	MaxPacket uint32

	// RekeyBytes is the number of bytes after which a key exchange is
	// initiated. Defaults to 1 GiB.
	RekeyBytes uint64

	// RekeyPackets is the number of packets after which a key exchange is
	// initiated. Defaults to 2^32 - 1024.
	RekeyPackets uint64
}

const (
	channelWindowSize   = 2 * 1024 * 1024 // RFC 4254 5.2
	channelMaxPacket    = 32 * 1024
	defaultRekeyBytes   = 1 << 30
	defaultRekeyPackets = uint64(1)<<32 - 1024
)

func (c *TransportConfig) rand() io.Reader {
	if c.Rand == nil {
		return rand.Reader
	}
	return c.Rand
}

func (c *TransportConfig) windowSize() uint32 {
	if c.WindowSize == 0 {
		return channelWindowSize
	}
	return c.WindowSize
}

func (c *TransportConfig) maxPacket() uint32 {
	if c.MaxPacket == 0 {
		return channelMaxPacket
	}
	return c.MaxPacket
}

func (c *TransportConfig) rekeyBytes() uint64 {
	if c.RekeyBytes == 0 {
		return defaultRekeyBytes
	}
	return c.RekeyBytes
}

func (c *TransportConfig) rekeyPackets() uint64 {
	if c.RekeyPackets == 0 {
		return defaultRekeyPackets
	}
	return c.RekeyPackets
}

// A service is a named SSH service (RFC 4253 section 10) together with the
// message numbers it claims. Claims may not overlap.
type service struct {
	name   string
	lo, hi uint8
	handle func(packet []byte) error
}

// serviceRegistry routes payload messages to the service that claimed their
// number. Overlapping claims are a programming error and detected at
// registration.
type serviceRegistry struct {
	mu       sync.Mutex
	services []*service
}

func (r *serviceRegistry) register(name string, lo, hi uint8, handle func(packet []byte) error) {
	if lo > hi {
		panic("ssh: invalid message range for service " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.services {
		if lo <= s.hi && s.lo <= hi {
			panic("ssh: service " + name + " overlaps message range of " + s.name)
		}
	}
	r.services = append(r.services, &service{name: name, lo: lo, hi: hi, handle: handle})
}

func (r *serviceRegistry) unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.services {
		if s.name == name {
			r.services = append(r.services[:i], r.services[i+1:]...)
			return
		}
	}
}

// lookup returns the service claiming the message number, if any.
func (r *serviceRegistry) lookup(msgType uint8) (*service, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.services {
		if s.lo <= msgType && msgType <= s.hi {
			return s, true
		}
	}
	return nil, false
}

// serialize a signed slice according to RFC 4254 6.6.
func serializeSignature(algoname string, sig []byte) []byte {
	switch algoname {
	// The corresponding private key to a public certificate is always a
	// normal private key. For signature serialization purposes, ensure we
	// use the proper base algo name in case the public cert algo name is
	// passed.
	case CertAlgoRSAv01:
		algoname = KeyAlgoRSA
	case CertAlgoDSAv01:
		algoname = KeyAlgoDSA
	case CertAlgoECDSA256v01:
		algoname = KeyAlgoECDSA256
	case CertAlgoECDSA384v01:
		algoname = KeyAlgoECDSA384
	case CertAlgoECDSA521v01:
		algoname = KeyAlgoECDSA521
	}
	length := stringLength(len(algoname))
	length += stringLength(len(sig))

	ret := make([]byte, length)
	r := marshalString(ret, []byte(algoname))
	r = marshalString(r, sig)

	return ret
}

// buildDataSignedForAuth returns the data that is signed in order to prove
// posession of a private key. See RFC 4252, section 7.
func buildDataSignedForAuth(sessionId []byte, req userAuthRequestMsg, algo, pubKey []byte) []byte {
	user := []byte(req.User)
	service := []byte(req.Service)
	method := []byte(req.Method)

	length := stringLength(len(sessionId))
	length += 1
	length += stringLength(len(user))
	length += stringLength(len(service))
	length += stringLength(len(method))
	length += 1
	length += stringLength(len(algo))
	length += stringLength(len(pubKey))

	ret := make([]byte, length)
	r := marshalString(ret, sessionId)
	r[0] = msgUserAuthRequest
	r = r[1:]
	r = marshalString(r, user)
	r = marshalString(r, service)
	r = marshalString(r, method)
	r[0] = 1
	r = r[1:]
	r = marshalString(r, algo)
	r = marshalString(r, pubKey)
	return ret
}

// safeString sanitises s according to RFC 4251, section 9.2.
// All control characters except tab, carriage return and newline are
// replaced by 0x20.
func safeString(s string) string {
	out := []byte(s)
	for i, c := range out {
		if c < 0x20 && c != 0xd && c != 0xa && c != 0x9 {
			out[i] = 0x20
		}
	}
	return string(out)
}

func appendU16(buf []byte, n uint16) []byte {
	return append(buf, byte(n>>8), byte(n))
}

func appendU32(buf []byte, n uint32) []byte {
	return append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendU64(buf []byte, n uint64) []byte {
	return append(buf,
		byte(n>>56), byte(n>>48), byte(n>>40), byte(n>>32),
		byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendInt(buf []byte, n int) []byte {
	return appendU32(buf, uint32(n))
}

func appendString(buf []byte, s string) []byte {
	buf = appendU32(buf, uint32(len(s)))
	buf = append(buf, s...)
	return buf
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// newCond is a helper to hide the fact that there is no usable zero
// value for sync.Cond.
func newCond() *sync.Cond { return sync.NewCond(new(sync.Mutex)) }

// window represents the buffer available to clients
// wishing to write to a channel.
type window struct {
	*sync.Cond
	win    uint32 // RFC 4254 5.2 says the window size can grow to 2^32-1
	closed bool
}

// add adds win to the amount of window available
// for consumers.
func (w *window) add(win uint32) bool {
	// a zero sized window adjust is a noop.
	if win == 0 {
		return true
	}
	w.L.Lock()
	if w.win+win < win {
		w.L.Unlock()
		return false
	}
	w.win += win
	// It is unusual that multiple goroutines would be attempting to reserve
	// window space, but not guaranteed. Use broadcast to notify all waiters
	// that additional window is available.
	w.Broadcast()
	w.L.Unlock()
	return true
}

// close marks the window as closed, unblocking any waiting reservations.
func (w *window) close() {
	w.L.Lock()
	w.closed = true
	w.Broadcast()
	w.L.Unlock()
}

// reserve reserves win from the available window capacity.
// If no capacity remains, reserve will block. reserve may
// return less than requested.
func (w *window) reserve(win uint32) (uint32, error) {
	w.L.Lock()
	defer w.L.Unlock()
	for w.win == 0 && !w.closed {
		w.Wait()
	}
	if w.closed {
		return 0, io.EOF
	}
	if w.win < win {
		win = w.win
	}
	w.win -= win
	return win, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
