// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"io"
	"sync"
)

// transportState tracks the key-exchange life cycle of a connection. User
// data may only flow in stateRunning; writers block anywhere between
// stateKexInit and stateNewKeys.
type transportState int

const (
	statePreamble transportState = iota
	stateKexInit
	stateKexRun
	stateNewKeys
	stateRunning
	stateRekeyRequested
	stateRekeyRunning
	stateClosed
)

// handshakeTransport implements packetConn on top of a raw transport. It
// runs the initial key exchange, transparently re-keys when either traffic
// counter crosses its threshold or the peer requests it, and handles the
// transport-level messages (1 through 4) in any state.
//
// The reader side must be driven by a single goroutine. Any number of
// goroutines may call writePacket.
type handshakeTransport struct {
	conn   *transport
	config *TransportConfig

	serviceRegistry *serviceRegistry

	clientVersion, serverVersion []byte

	// hostKeys is non-empty on the server side.
	hostKeys []Signer

	// verifyHostKey is set on the client side; it receives the host key
	// advertised during key exchange, already signature-checked against H.
	verifyHostKey func(algo string, key PublicKey, keyBytes []byte) error

	// hostKeyAlgorithms restricts the host key algorithms offered by a
	// client. Servers derive theirs from hostKeys.
	hostKeyAlgorithms []string

	mu    sync.Mutex
	cond  *sync.Cond
	state transportState
	err   error

	// sentInitMsg and sentInitPacket are the KEXINIT we sent for the
	// exchange currently in flight, if any.
	sentInitMsg    *kexInitMsg
	sentInitPacket []byte

	sessionID []byte

	// kexCount is incremented every time a key exchange completes.
	kexCount int
}

func newHandshakeTransport(conn *transport, config *TransportConfig, clientVersion, serverVersion []byte) *handshakeTransport {
	t := &handshakeTransport{
		conn:            conn,
		config:          config,
		serviceRegistry: &serviceRegistry{},
		clientVersion:   clientVersion,
		serverVersion:   serverVersion,
		state:           statePreamble,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *handshakeTransport) isClient() bool { return t.conn.isClient }

// SessionID returns the session hash of the first key exchange. It does not
// change when the connection is re-keyed.
func (t *handshakeTransport) SessionID() []byte {
	return t.sessionID
}

// handshake runs the initial key exchange. The identification lines must
// already have been exchanged.
func (t *handshakeTransport) handshake() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.sendKexInitLocked(); err != nil {
		return err
	}
	packet, err := t.readSkippingTrivia()
	if err != nil {
		return err
	}
	if packet[0] != msgKexInit {
		return t.fatal(disconnectProtocolError, UnexpectedMessageError{msgKexInit, packet[0]})
	}
	if err := t.enterKeyExchangeLocked(packet); err != nil {
		return t.fatal(disconnectKeyExchangeFailed, err)
	}
	return nil
}

// readSkippingTrivia reads from the raw transport, consuming IGNORE, DEBUG
// and UNIMPLEMENTED messages and surfacing DISCONNECT as an error.
func (t *handshakeTransport) readSkippingTrivia() ([]byte, error) {
	for {
		packet, err := t.conn.readPacket()
		if err != nil {
			return nil, err
		}
		switch packet[0] {
		case msgIgnore, msgDebug, msgUnimplemented:
			continue
		case msgDisconnect:
			var disc disconnectMsg
			if err := unmarshal(&disc, packet, msgDisconnect); err != nil {
				return nil, err
			}
			return nil, &disc
		}
		return packet, nil
	}
}

// readPacket returns the next packet destined for a layer above the
// transport. Key exchange, once triggered by either side, completes within
// this call.
func (t *handshakeTransport) readPacket() ([]byte, error) {
	for {
		packet, err := t.readSkippingTrivia()
		if err != nil {
			t.close(err)
			return nil, err
		}

		if packet[0] == msgKexInit {
			t.mu.Lock()
			err := t.enterKeyExchangeLocked(packet)
			t.mu.Unlock()
			if err != nil {
				t.writeDisconnect(disconnectKeyExchangeFailed, err.Error())
				t.close(err)
				return nil, err
			}
			continue
		}

		// Between 20 and 49 only kex traffic is legal, and the active
		// exchange consumes that directly; anything else seen here is a
		// protocol violation.
		if packet[0] >= 20 && packet[0] <= 49 {
			err := UnexpectedMessageError{msgKexInit, packet[0]}
			t.writeDisconnect(disconnectProtocolError, err.Error())
			t.close(err)
			return nil, err
		}

		// Service negotiation is handled by the layer above, in any
		// state.
		if packet[0] == msgServiceRequest || packet[0] == msgServiceAccept {
			return packet, nil
		}

		if _, claimed := t.serviceRegistry.lookup(packet[0]); !claimed {
			// Unknown message number: answer with UNIMPLEMENTED and carry
			// on. RFC 4253 section 11.4. Transport messages may be sent in
			// any state, so this skips the key-exchange write gate.
			seq := t.conn.reader.seqNum - 1
			if err := t.conn.writePacket(marshal(msgUnimplemented, unimplementedMsg{Sequence: seq})); err != nil {
				t.close(err)
				return nil, err
			}
			continue
		}

		if t.readerShouldRekey() {
			if err := t.requestKeyChange(); err != nil {
				t.close(err)
				return nil, err
			}
		}
		return packet, nil
	}
}

func (t *handshakeTransport) readerShouldRekey() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == stateRunning &&
		t.conn.reader.exceeded(t.config.rekeyBytes(), t.config.rekeyPackets())
}

// requestKeyChange sends our KEXINIT to start a re-key. The exchange
// completes when the peer's KEXINIT arrives on the read side.
func (t *handshakeTransport) requestKeyChange() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != stateRunning {
		return nil
	}
	if err := t.sendKexInitLocked(); err != nil {
		return err
	}
	t.state = stateRekeyRequested
	return nil
}

func (t *handshakeTransport) writePacket(packet []byte) error {
	t.mu.Lock()
	for {
		if t.state == stateClosed {
			err := t.err
			t.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return err
		}
		if t.state == stateRunning {
			if !t.conn.writer.exceeded(t.config.rekeyBytes(), t.config.rekeyPackets()) {
				break
			}
			// Crossing a traffic threshold starts a re-key. Our KEXINIT
			// goes out now; the exchange completes on the read side when
			// the peer's KEXINIT arrives.
			if err := t.sendKexInitLocked(); err != nil {
				t.mu.Unlock()
				return err
			}
			t.state = stateRekeyRequested
		}
		// No user data between KEXINIT and NEWKEYS.
		t.cond.Wait()
	}

	err := t.conn.writePacket(packet)
	t.mu.Unlock()
	return err
}

// sendKexInitLocked emits our KEXINIT unless one is already in flight.
// Called with t.mu held.
func (t *handshakeTransport) sendKexInitLocked() error {
	if t.sentInitPacket != nil {
		return nil
	}
	msg := &kexInitMsg{
		KexAlgos:                t.config.Crypto.kexes(),
		CiphersClientServer:     t.config.Crypto.ciphers(),
		CiphersServerClient:     t.config.Crypto.ciphers(),
		MACsClientServer:        t.config.Crypto.macs(),
		MACsServerClient:        t.config.Crypto.macs(),
		CompressionClientServer: t.config.Crypto.compressions(),
		CompressionServerClient: t.config.Crypto.compressions(),
	}
	if _, err := io.ReadFull(t.config.rand(), msg.Cookie[:]); err != nil {
		return err
	}

	if len(t.hostKeys) > 0 {
		for _, k := range t.hostKeys {
			msg.ServerHostKeyAlgos = append(msg.ServerHostKeyAlgos, k.PublicKey().PublicKeyAlgo())
		}
	} else if t.hostKeyAlgorithms != nil {
		msg.ServerHostKeyAlgos = t.hostKeyAlgorithms
	} else {
		msg.ServerHostKeyAlgos = supportedHostKeyAlgos
	}

	packet := marshal(msgKexInit, *msg)
	if err := t.conn.writePacket(packet); err != nil {
		return err
	}
	t.sentInitMsg = msg
	t.sentInitPacket = packet
	if t.state == statePreamble || t.state == stateRunning {
		t.state = stateKexInit
	}
	return nil
}

// enterKeyExchangeLocked runs a key exchange triggered by the peer's
// KEXINIT packet. Called with t.mu held; writers stay blocked until the
// exchange finishes.
func (t *handshakeTransport) enterKeyExchangeLocked(otherInitPacket []byte) error {
	if err := t.sendKexInitLocked(); err != nil {
		return err
	}
	t.state = stateKexRun

	otherInit := new(kexInitMsg)
	if err := unmarshal(otherInit, otherInitPacket, msgKexInit); err != nil {
		return err
	}

	magics := handshakeMagics{
		clientVersion: t.clientVersion,
		serverVersion: t.serverVersion,
	}
	var clientInit, serverInit *kexInitMsg
	if t.isClient() {
		magics.clientKexInit = t.sentInitPacket
		magics.serverKexInit = otherInitPacket
		clientInit, serverInit = t.sentInitMsg, otherInit
	} else {
		magics.clientKexInit = otherInitPacket
		magics.serverKexInit = t.sentInitPacket
		clientInit, serverInit = otherInit, t.sentInitMsg
	}

	algs, err := findAgreedAlgorithms(clientInit, serverInit)
	if err != nil {
		return err
	}

	// If the other side sent a speculative first kex packet for the wrong
	// algorithm, it must be ignored. RFC 4253 section 7.
	if otherInit.FirstKexFollows && algs.kex != otherInit.KexAlgos[0] {
		if _, err := t.conn.readPacket(); err != nil {
			return err
		}
	}

	kex, ok := lookupKex(algs.kex)
	if !ok {
		return errors.New("ssh: unexpected key exchange algorithm " + algs.kex)
	}

	var result *kexResult
	if t.isClient() {
		result, err = kex.Client(t.conn, t.config.rand(), &magics)
		if err == nil {
			err = t.clientVerifyHostKey(algs.hostKey, result)
		}
	} else {
		var signer Signer
		for _, k := range t.hostKeys {
			if k.PublicKey().PublicKeyAlgo() == algs.hostKey {
				signer = k
				break
			}
		}
		if signer == nil {
			return errors.New("ssh: no host key for negotiated algorithm " + algs.hostKey)
		}
		result, err = kex.Server(t.conn, t.config.rand(), &magics, signer)
	}
	if err != nil {
		return err
	}

	// The session id is the hash of the first key exchange and never
	// changes afterwards.
	if t.sessionID == nil {
		t.sessionID = result.H
	}
	result.SessionID = t.sessionID

	t.state = stateNewKeys
	if err := t.conn.writePacket([]byte{msgNewKeys}); err != nil {
		return err
	}
	// From this instant every outbound packet uses the new keys.
	ourDir, theirDir := clientKeys, serverKeys
	ourAlgs, theirAlgs := algs.cs, algs.sc
	if !t.isClient() {
		ourDir, theirDir = serverKeys, clientKeys
		ourAlgs, theirAlgs = algs.sc, algs.cs
	}
	if err := t.conn.writer.setupKeys(ourDir, ourAlgs, result, true); err != nil {
		return err
	}

	packet, err := t.readSkippingTrivia()
	if err != nil {
		return err
	}
	if packet[0] != msgNewKeys {
		return UnexpectedMessageError{msgNewKeys, packet[0]}
	}
	if err := t.conn.reader.setupKeys(theirDir, theirAlgs, result, false); err != nil {
		return err
	}

	t.sentInitMsg = nil
	t.sentInitPacket = nil
	t.kexCount++
	t.state = stateRunning
	t.cond.Broadcast()
	return nil
}

// clientVerifyHostKey checks the server's signature over the exchange hash
// and then consults the caller-supplied verifier.
func (t *handshakeTransport) clientVerifyHostKey(algo string, result *kexResult) error {
	key, _, ok := parsePubKey(result.HostKey)
	if !ok {
		return errors.New("ssh: cannot parse server host key")
	}
	if cert, isCert := key.(*OpenSSHCertV01); isCert {
		if !validateOpenSSHCertV01Signature(cert) {
			return errors.New("ssh: host certificate signature does not verify")
		}
	}
	sig, _, ok := parseSignatureBody(result.Signature)
	if !ok {
		return errors.New("ssh: malformed host key signature")
	}
	if sig.Format != pubAlgoToPrivAlgo(algo) {
		return errors.New("ssh: host key signature algorithm mismatch")
	}
	if !key.Verify(result.H, sig.Blob) {
		return errors.New("ssh: host key signature did not verify")
	}
	if t.verifyHostKey != nil {
		return t.verifyHostKey(algo, key, result.HostKey)
	}
	return nil
}

// fatal records err, emits a best-effort DISCONNECT and closes the
// connection. Called with t.mu held.
func (t *handshakeTransport) fatal(reason uint32, err error) error {
	t.mu.Unlock()
	t.writeDisconnect(reason, err.Error())
	t.mu.Lock()
	t.closeLocked(err)
	return err
}

// writeDisconnect emits a DISCONNECT without going through the state gate,
// so it works even while a key exchange is stuck.
func (t *handshakeTransport) writeDisconnect(reason uint32, message string) {
	t.conn.writePacket(marshal(msgDisconnect, disconnectMsg{
		Reason:   reason,
		Message:  message,
		Language: "en",
	}))
}

func (t *handshakeTransport) close(err error) {
	t.mu.Lock()
	t.closeLocked(err)
	t.mu.Unlock()
}

func (t *handshakeTransport) closeLocked(err error) {
	if t.state == stateClosed {
		return
	}
	t.state = stateClosed
	t.err = err
	t.cond.Broadcast()
	t.conn.Close()
}

func (t *handshakeTransport) Close() error {
	t.close(io.EOF)
	return nil
}
