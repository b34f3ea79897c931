// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
)

// ServerConfig configures a ServerConn. After one has been passed to an SSH
// function it must not be modified.
type ServerConfig struct {
	TransportConfig

	hostKeys []Signer

	// NoClientAuth is true if clients are allowed to connect without
	// authenticating.
	NoClientAuth bool

	// MaxAuthTries is the number of authentication attempts permitted per
	// connection. If set to a negative number, the number of attempts is
	// unlimited. If unset, a sensible default is used.
	MaxAuthTries int

	// RequiredAuthMethods, if non-empty, lists methods that must all
	// succeed before the connection is authenticated. Methods completed
	// early are answered with a partial-success failure naming the
	// remainder. RFC 4252 section 5.1.
	RequiredAuthMethods []string

	// PasswordCallback, if non-nil, is called when a user attempts to
	// authenticate using a password. It may be called concurrently from
	// several goroutines.
	PasswordCallback func(conn *ServerConn, user, password string) bool

	// PublicKeyCallback, if non-nil, is called when a client attempts
	// public key authentication. It must return true iff the given public
	// key is valid for the given user.
	PublicKeyCallback func(conn *ServerConn, user, algo string, pubkey []byte) bool

	// KeyboardInteractiveCallback, if non-nil, is called when
	// keyboard-interactive authentication is selected (RFC 4256). The
	// client object's Challenge function should be used to query the
	// user. The callback may offer multiple Challenge rounds. To avoid
	// information leaks, the client should be presented a challenge even
	// if the user is unknown.
	KeyboardInteractiveCallback func(conn *ServerConn, user string, client ClientKeyboardInteractive) bool

	// BannerMessage, if non-empty, is sent to the client after the first
	// authentication request.
	BannerMessage string

	// ServerVersion overrides the identification string announced to
	// clients. It must start with "SSH-2.0-".
	ServerVersion string
}

const defaultMaxAuthTries = 6

func (c *ServerConfig) maxAuthTries() int {
	if c.MaxAuthTries == 0 {
		return defaultMaxAuthTries
	}
	return c.MaxAuthTries
}

func (c *ServerConfig) version() string {
	if c.ServerVersion != "" {
		return c.ServerVersion
	}
	return packageVersion
}

// AddHostKey adds a private key as a host key. If an existing host key
// exists with the same algorithm, it is overwritten.
func (c *ServerConfig) AddHostKey(key Signer) {
	for i, k := range c.hostKeys {
		if k.PublicKey().PublicKeyAlgo() == key.PublicKey().PublicKeyAlgo() {
			c.hostKeys[i] = key
			return
		}
	}
	c.hostKeys = append(c.hostKeys, key)
}

// SetRSAPrivateKey sets the private key for a Server. A Server must have a
// private key configured in order to accept connections. The private key
// must be in the form of a PEM encoded, PKCS#1, RSA private key. The file
// "id_rsa" typically contains such a key.
func (c *ServerConfig) SetRSAPrivateKey(pemBytes []byte) error {
	signer, err := ParsePrivateKey(pemBytes)
	if err != nil {
		return err
	}
	c.AddHostKey(signer)
	return nil
}

// cachedPubKey contains the results of querying whether a public key is
// acceptable for a user. The cache only applies to a single ServerConn.
type cachedPubKey struct {
	user, algo string
	pubKey     []byte
	result     bool
}

const maxCachedPubKeys = 16

// A ServerConn represents an incoming connection.
type ServerConn struct {
	*handshakeTransport
	rwc    net.Conn
	config *ServerConfig

	channels   map[uint32]*serverChan
	nextChanId uint32

	// lock protects err and channels.
	lock sync.Mutex
	err  error

	// cachedPubKeys contains the cache results of tests for public keys.
	// Since SSH clients will query whether a public key is acceptable
	// before attempting to authenticate with it, we end up with duplicate
	// queries for public key validity.
	cachedPubKeys []cachedPubKey

	// User holds the user name of the latest password,
	// keyboard-interactive or signed publickey request; it is set before
	// that request's callback runs. After a successful Handshake it is the
	// authenticated user name. It is empty if no authentication is used.
	User string

	// ClientVersion is the client's version, populated after
	// Handshake is called. It should not be modified.
	ClientVersion []byte
}

// Server returns a new SSH server connection
// using c as the underlying transport.
func Server(c net.Conn, config *ServerConfig) *ServerConn {
	return &ServerConn{
		rwc:      c,
		channels: make(map[uint32]*serverChan),
		config:   config,
	}
}

// Handshake performs an SSH transport and client authentication on the
// given ServerConn.
func (s *ServerConn) Handshake() error {
	if len(s.config.hostKeys) == 0 {
		return errors.New("ssh: server has no host keys")
	}

	serverVersion := []byte(s.config.version())
	clientVersion, err := exchangeVersions(s.rwc, serverVersion, false)
	if err != nil {
		return err
	}
	s.ClientVersion = clientVersion

	t := newHandshakeTransport(newTransport(s.rwc, s.config.rand(), false), &s.config.TransportConfig, clientVersion, serverVersion)
	t.hostKeys = s.config.hostKeys
	s.handshakeTransport = t

	if err := t.handshake(); err != nil {
		return err
	}

	var packet []byte
	if packet, err = s.readPacket(); err != nil {
		return err
	}
	var serviceRequest serviceRequestMsg
	if err = unmarshal(&serviceRequest, packet, msgServiceRequest); err != nil {
		return err
	}
	if serviceRequest.Service != serviceUserAuth {
		return errors.New("ssh: requested service '" + serviceRequest.Service + "' before authenticating")
	}
	serviceAccept := serviceAcceptMsg{
		Service: serviceUserAuth,
	}
	if err = s.writePacket(marshal(msgServiceAccept, serviceAccept)); err != nil {
		return err
	}

	s.serviceRegistry.register(serviceUserAuth, 50, 79, nil)
	err = s.authenticate()
	s.serviceRegistry.unregister(serviceUserAuth)
	if err != nil {
		return err
	}
	s.serviceRegistry.register(serviceSSH, 80, 127, nil)
	s.handshakeTransport.conn.enableDelayedCompression()
	return nil
}

func isAcceptableAlgo(algo string) bool {
	switch algo {
	case KeyAlgoRSA, KeyAlgoDSA, KeyAlgoECDSA256, KeyAlgoECDSA384, KeyAlgoECDSA521,
		CertAlgoRSAv01, CertAlgoDSAv01, CertAlgoECDSA256v01, CertAlgoECDSA384v01, CertAlgoECDSA521v01:
		return true
	}
	return false
}

// testPubKey returns true if the given public key is acceptable for the
// user.
func (s *ServerConn) testPubKey(user, algo string, pubKey []byte) bool {
	if s.config.PublicKeyCallback == nil || !isAcceptableAlgo(algo) {
		return false
	}

	for _, c := range s.cachedPubKeys {
		if c.user == user && c.algo == algo && bytes.Equal(c.pubKey, pubKey) {
			return c.result
		}
	}

	result := s.config.PublicKeyCallback(s, user, algo, pubKey)
	if len(s.cachedPubKeys) < maxCachedPubKeys {
		c := cachedPubKey{
			user:   user,
			algo:   algo,
			pubKey: make([]byte, len(pubKey)),
			result: result,
		}
		copy(c.pubKey, pubKey)
		s.cachedPubKeys = append(s.cachedPubKeys, c)
	}

	return result
}

// availableAuthMethods lists the methods a client may continue with, given
// the set it has already satisfied.
func (s *ServerConn) availableAuthMethods(satisfied map[string]bool) []string {
	var methods []string
	add := func(m string) {
		if satisfied[m] {
			return
		}
		if len(s.config.RequiredAuthMethods) > 0 {
			required := false
			for _, r := range s.config.RequiredAuthMethods {
				if r == m {
					required = true
					break
				}
			}
			if !required {
				return
			}
		}
		methods = append(methods, m)
	}
	if s.config.PasswordCallback != nil {
		add("password")
	}
	if s.config.PublicKeyCallback != nil {
		add("publickey")
	}
	if s.config.KeyboardInteractiveCallback != nil {
		add("keyboard-interactive")
	}
	return methods
}

// authComplete reports whether the satisfied methods fulfil the configured
// policy.
func (s *ServerConn) authComplete(satisfied map[string]bool) bool {
	if len(s.config.RequiredAuthMethods) == 0 {
		return len(satisfied) > 0
	}
	for _, m := range s.config.RequiredAuthMethods {
		if !satisfied[m] {
			return false
		}
	}
	return true
}

func (s *ServerConn) authenticate() error {
	var userAuthReq userAuthRequestMsg
	var err error
	var packet []byte

	satisfied := make(map[string]bool)
	attempts := 0
	bannerSent := false

userAuthLoop:
	for {
		if packet, err = s.readPacket(); err != nil {
			println("DEBUG readPacket err", err.Error())
			return err
		}
		println("DEBUG got packet type", int(packet[0]))
		if err = unmarshal(&userAuthReq, packet, msgUserAuthRequest); err != nil {
			println("DEBUG unmarshal err", err.Error())
			return err
		}
		println("DEBUG method", userAuthReq.Method)

		if userAuthReq.Service != serviceSSH {
			return errors.New("ssh: client attempted to negotiate for unknown service: " + userAuthReq.Service)
		}

		if s.config.BannerMessage != "" && !bannerSent {
			bannerSent = true
			banner := userAuthBannerMsg{
				Message: s.config.BannerMessage,
			}
			if err := s.writePacket(marshal(msgUserAuthBanner, banner)); err != nil {
				return err
			}
		}

		if userAuthReq.Method != "none" {
			attempts++
			if max := s.config.maxAuthTries(); max > 0 && attempts > max {
				err := errors.New("ssh: too many authentication failures")
				s.writeDisconnect(disconnectNoMoreAuthMethodsAvailable, err.Error())
				s.Close()
				return err
			}
		}

		methodOk := false
		switch userAuthReq.Method {
		case "none":
			if s.config.NoClientAuth {
				break userAuthLoop
			}
		case "password":
			println("DEBUG password case, payload len", len(userAuthReq.Payload))
			if s.config.PasswordCallback == nil {
				break
			}
			payload := userAuthReq.Payload
			if len(payload) < 1 || payload[0] != 0 {
				return ParseError{msgUserAuthRequest}
			}
			payload = payload[1:]
			password, payload, ok := parseString(payload)
			println("DEBUG parsed password ok", ok, "remaining", len(payload))
			if !ok || len(payload) > 0 {
				return ParseError{msgUserAuthRequest}
			}

			s.User = userAuthReq.User
			methodOk = s.config.PasswordCallback(s, userAuthReq.User, string(password))
			println("DEBUG methodOk", methodOk)
		case "keyboard-interactive":
			if s.config.KeyboardInteractiveCallback == nil {
				break
			}

			s.User = userAuthReq.User
			methodOk = s.config.KeyboardInteractiveCallback(s, s.User, &sshClientKeyboardInteractive{s})
		case "publickey":
			if s.config.PublicKeyCallback == nil {
				break
			}
			payload := userAuthReq.Payload
			if len(payload) < 1 {
				return ParseError{msgUserAuthRequest}
			}
			isQuery := payload[0] == 0
			payload = payload[1:]
			algoBytes, payload, ok := parseString(payload)
			if !ok {
				return ParseError{msgUserAuthRequest}
			}
			algo := string(algoBytes)

			pubKey, payload, ok := parseString(payload)
			if !ok {
				return ParseError{msgUserAuthRequest}
			}
			if isQuery {
				// The client can query if the given public key would be
				// ok.
				if len(payload) > 0 {
					return ParseError{msgUserAuthRequest}
				}
				if s.testPubKey(userAuthReq.User, algo, pubKey) {
					okMsg := userAuthPubKeyOkMsg{
						Algo:   algo,
						PubKey: string(pubKey),
					}
					if err = s.writePacket(marshal(msgUserAuthPubKeyOk, okMsg)); err != nil {
						return err
					}
					continue userAuthLoop
				}
			} else {
				sig, payload, ok := parseSignature(payload)
				if !ok || len(payload) > 0 {
					return ParseError{msgUserAuthRequest}
				}
				// Ensure the public key algo and signature algo are
				// supported. Compare the private key algorithm name that
				// corresponds to algo with sig.Format. This is usually
				// the same, but for certs, the names differ.
				if !isAcceptableAlgo(algo) || !isAcceptableAlgo(sig.Format) || pubAlgoToPrivAlgo(algo) != sig.Format {
					break
				}
				signedData := buildDataSignedForAuth(s.SessionID(), userAuthReq, algoBytes, pubKey)
				key, _, ok := parsePubKey(pubKey)
				if !ok {
					return ParseError{msgUserAuthRequest}
				}

				if !key.Verify(signedData, sig.Blob) {
					return ParseError{msgUserAuthRequest}
				}
				s.User = userAuthReq.User
				methodOk = s.testPubKey(userAuthReq.User, algo, pubKey)
			}
		}

		if methodOk {
			satisfied[userAuthReq.Method] = true
			if s.authComplete(satisfied) {
				break userAuthLoop
			}
			// More methods required: signal partial success with the
			// remaining continuation set.
			partial := userAuthFailureMsg{
				Methods:        s.availableAuthMethods(satisfied),
				PartialSuccess: true,
			}
			if err = s.writePacket(marshal(msgUserAuthFailure, partial)); err != nil {
				return err
			}
			continue userAuthLoop
		}

		failureMsg := userAuthFailureMsg{
			Methods: s.availableAuthMethods(satisfied),
		}
		if len(failureMsg.Methods) == 0 {
			return errors.New("ssh: no authentication methods configured but NoClientAuth is also false")
		}

		if err = s.writePacket(marshal(msgUserAuthFailure, failureMsg)); err != nil {
			return err
		}
	}

	packet = []byte{msgUserAuthSuccess}
	if err = s.writePacket(packet); err != nil {
		return err
	}

	return nil
}

// sshClientKeyboardInteractive implements a ClientKeyboardInteractive by
// asking the client on the other side of a ServerConn.
type sshClientKeyboardInteractive struct {
	*ServerConn
}

func (c *sshClientKeyboardInteractive) Challenge(user, instruction string, questions []string, echos []bool) (answers []string, err error) {
	if len(questions) != len(echos) {
		return nil, errors.New("ssh: echos and questions must have equal length")
	}

	var prompts []byte
	for i := range questions {
		prompts = appendString(prompts, questions[i])
		prompts = appendBool(prompts, echos[i])
	}

	if err := c.writePacket(marshal(msgUserAuthInfoRequest, userAuthInfoRequestMsg{
		Instruction: instruction,
		NumPrompts:  uint32(len(questions)),
		Prompts:     prompts,
	})); err != nil {
		return nil, err
	}

	packet, err := c.readPacket()
	if err != nil {
		return nil, err
	}
	if packet[0] != msgUserAuthInfoResponse {
		return nil, UnexpectedMessageError{msgUserAuthInfoResponse, packet[0]}
	}
	packet = packet[1:]

	n, packet, ok := parseUint32(packet)
	if !ok || int(n) != len(questions) {
		return nil, ParseError{msgUserAuthInfoResponse}
	}

	for i := uint32(0); i < n; i++ {
		ans, rest, ok := parseString(packet)
		if !ok {
			return nil, ParseError{msgUserAuthInfoResponse}
		}

		answers = append(answers, string(ans))
		packet = rest
	}
	if len(packet) != 0 {
		return nil, errors.New("ssh: junk at end of message")
	}

	return answers, nil
}

// Accept reads and processes messages on a ServerConn. It must be called
// in order to demultiplex messages to any resulting Channels.
func (s *ServerConn) Accept() (Channel, error) {
	s.lock.Lock()
	if s.err != nil {
		err := s.err
		s.lock.Unlock()
		return nil, err
	}
	s.lock.Unlock()

	for {
		packet, err := s.readPacket()
		if err != nil {
			s.lock.Lock()
			s.err = err
			for _, c := range s.channels {
				c.setDead()
			}
			s.lock.Unlock()
			return nil, err
		}

		switch packet[0] {
		case msgChannelData:
			if len(packet) < 9 {
				return nil, s.protocolError(ParseError{msgChannelData})
			}
			remoteId := binary.BigEndian.Uint32(packet[1:5])
			length := binary.BigEndian.Uint32(packet[5:9])
			packet = packet[9:]
			if length != uint32(len(packet)) {
				return nil, s.protocolError(ParseError{msgChannelData})
			}
			s.lock.Lock()
			c, ok := s.channels[remoteId]
			s.lock.Unlock()
			if !ok {
				continue
			}
			if length > 0 {
				if err := c.handleData(packet[:length]); err != nil {
					return nil, s.protocolError(err)
				}
			}
		default:
			decoded, err := decode(packet)
			if err != nil {
				return nil, s.protocolError(err)
			}
			switch msg := decoded.(type) {
			case *channelOpenMsg:
				if msg.MaxPacketSize < minPacketLength || msg.MaxPacketSize > 1<<31 {
					return nil, s.protocolError(errors.New("ssh: invalid MaxPacketSize from peer"))
				}
				c := &serverChan{
					channel: channel{
						conn:      s.handshakeTransport,
						remoteId:  msg.PeersId,
						remoteWin: window{Cond: newCond()},
						maxPacket: msg.MaxPacketSize,
					},
					chanType:    msg.ChanType,
					extraData:   msg.TypeSpecificData,
					myWindow:    s.config.windowSize(),
					serverConn:  s,
					cond:        newCond(),
					pendingData: make([]byte, s.config.windowSize()),
				}
				c.remoteWin.add(msg.PeersWindow)
				s.lock.Lock()
				c.localId = s.nextChanId
				s.nextChanId++
				s.channels[c.localId] = c
				s.lock.Unlock()
				return c, nil

			case *channelRequestMsg:
				if err := s.routeToChan(msg.PeersId, msg); err != nil {
					return nil, err
				}

			case *windowAdjustMsg:
				if err := s.routeToChan(msg.PeersId, msg); err != nil {
					return nil, err
				}

			case *channelEOFMsg:
				if err := s.routeToChan(msg.PeersId, msg); err != nil {
					return nil, err
				}

			case *channelCloseMsg:
				s.lock.Lock()
				c, ok := s.channels[msg.PeersId]
				if ok {
					if err := c.handlePacket(msg); err != nil {
						s.lock.Unlock()
						return nil, s.protocolError(err)
					}
					// A channel id is reusable only after close has been
					// both sent and received.
					if c.weClosed && c.theyClosed {
						delete(s.channels, msg.PeersId)
					}
				}
				s.lock.Unlock()

			case *globalRequestMsg:
				if msg.WantReply {
					if err := s.writePacket(marshal(msgRequestFailure, globalRequestFailureMsg{})); err != nil {
						return nil, err
					}
				}

			case *disconnectMsg:
				return nil, io.EOF
			default:
				return nil, s.protocolError(fmt.Errorf("ssh: unexpected message %T", msg))
			}
		}
	}
}

func (s *ServerConn) routeToChan(id uint32, msg interface{}) error {
	s.lock.Lock()
	c, ok := s.channels[id]
	s.lock.Unlock()
	if !ok {
		return nil
	}
	if err := c.handlePacket(msg); err != nil {
		return s.protocolError(err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *ServerConn) Close() error {
	if s.handshakeTransport != nil {
		return s.handshakeTransport.Close()
	}
	return s.rwc.Close()
}

// protocolError tears the session down after a peer violation and returns
// the error for the caller.
func (s *ServerConn) protocolError(err error) error {
	s.writeDisconnect(disconnectProtocolError, err.Error())
	s.Close()
	return err
}

// A Listener implements a network listener (net.Listener) for SSH
// connections.
type Listener struct {
	listener net.Listener
	config   *ServerConfig
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Close closes the listener.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Accept waits for and returns the next incoming SSH connection.
// The receiver should call Handshake() in another goroutine
// to avoid blocking the accepter.
func (l *Listener) Accept() (*ServerConn, error) {
	c, err := l.listener.Accept()
	if err != nil {
		return nil, err
	}
	return Server(c, l.config), nil
}

// Listen creates an SSH listener accepting connections on
// the given network address using net.Listen.
func Listen(network, addr string, config *ServerConfig) (*Listener, error) {
	l, err := net.Listen(network, addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		l,
		config,
	}, nil
}
