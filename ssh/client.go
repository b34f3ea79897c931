// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// packageVersion is the identification string advertised on the wire.
const packageVersion = "SSH-2.0-Go"

// A HostKeyVerifier decides whether a host key offered during key exchange
// is acceptable. hostname is the dial address; remote is the network
// address of the peer. Returning a non-nil error aborts the handshake.
type HostKeyVerifier func(hostname string, remote net.Addr, key PublicKey) error

// InsecureIgnoreHostKey returns a HostKeyVerifier that accepts any host
// key. It should not be used outside tests.
func InsecureIgnoreHostKey() HostKeyVerifier {
	return func(hostname string, remote net.Addr, key PublicKey) error {
		return nil
	}
}

// FixedHostKey returns a HostKeyVerifier that accepts only the given key.
func FixedHostKey(key PublicKey) HostKeyVerifier {
	expected := MarshalPublicKey(key)
	return func(hostname string, remote net.Addr, actual PublicKey) error {
		if !bytesEqual(MarshalPublicKey(actual), expected) {
			return errors.New("ssh: host key mismatch")
		}
		return nil
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// A ClientConfig structure is used to configure a ClientConn. After one has
// been passed to an SSH function it must not be modified.
type ClientConfig struct {
	TransportConfig

	// The username to authenticate.
	User string

	// A slice of ClientAuth methods. Only the first instance
	// of a particular RFC 4252 method will be used during authentication.
	Auth []ClientAuth

	// HostKeyVerifier is called during the handshake to validate the
	// server's host key. The handshake fails if it is nil; use
	// InsecureIgnoreHostKey to disable checking explicitly.
	HostKeyVerifier HostKeyVerifier

	// BannerCallback receives the userauth banner, if the server sends
	// one. If nil the banner is discarded.
	BannerCallback func(message string) error

	// ClientVersion overrides the identification string announced to the
	// server. It must start with "SSH-2.0-".
	ClientVersion string

	// HeartbeatInterval, if non-zero, is the period between keep-alive
	// IGNORE probes. A probe that cannot be written tears the session
	// down.
	HeartbeatInterval time.Duration
}

func (c *ClientConfig) version() string {
	if c.ClientVersion != "" {
		return c.ClientVersion
	}
	return packageVersion
}

// ClientConn represents the client side of an SSH connection.
type ClientConn struct {
	*handshakeTransport
	config      *ClientConfig
	chanlist    // channels associated with this connection
	forwardList // forwarded tcpip connections from the remote side
	globalRequest

	// mu protects heartbeat shutdown.
	mu            sync.Mutex
	heartbeatStop chan struct{}
}

type globalRequest struct {
	sync.Mutex
	response chan interface{}
}

// Client returns a new SSH client connection using c as the underlying
// transport. Ownership of c passes to the connection: it is closed on
// teardown.
func Client(c net.Conn, addr string, config *ClientConfig) (*ClientConn, error) {
	clientVersion := []byte(config.version())
	serverVersion, err := exchangeVersions(c, clientVersion, true)
	if err != nil {
		c.Close()
		return nil, err
	}

	t := newHandshakeTransport(newTransport(c, config.rand(), true), &config.TransportConfig, clientVersion, serverVersion)
	hostname, _, splitErr := net.SplitHostPort(addr)
	if splitErr != nil {
		hostname = addr
	}
	t.verifyHostKey = func(algo string, key PublicKey, keyBytes []byte) error {
		if config.HostKeyVerifier == nil {
			return errors.New("ssh: must specify HostKeyVerifier")
		}
		return config.HostKeyVerifier(hostname, c.RemoteAddr(), key)
	}

	t.hostKeyAlgorithms = config.Crypto.hostKeys()

	conn := &ClientConn{
		handshakeTransport: t,
		config:             config,
		globalRequest:      globalRequest{response: make(chan interface{}, 1)},
	}
	if err := t.handshake(); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.authenticate(); err != nil {
		conn.Close()
		return nil, err
	}
	t.conn.enableDelayedCompression()

	// Claim the connection service message numbers for dispatch by
	// mainLoop.
	t.serviceRegistry.register(serviceSSH, 80, 127, nil)

	if config.HeartbeatInterval > 0 {
		conn.heartbeatStop = make(chan struct{})
		go conn.heartbeatLoop(config.HeartbeatInterval, conn.heartbeatStop)
	}
	go conn.mainLoop()
	return conn, nil
}

// Dial connects to the given network address using net.Dial and then
// initiates a SSH handshake, returning the resulting client connection.
func Dial(network, addr string, config *ClientConfig) (*ClientConn, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return Client(conn, addr, config)
}

// heartbeatLoop sends transport liveness probes. The payload is ignored by
// the peer. RFC 4253 section 11.2.
func (c *ClientConn) heartbeatLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if err := c.writePacket(marshal(msgIgnore, ignoreMsg{})); err != nil {
			// A failed probe means the transport is gone.
			c.Close()
			return
		}
	}
}

// Close closes the connection and all channels multiplexed on it.
func (c *ClientConn) Close() error {
	c.mu.Lock()
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	c.mu.Unlock()
	return c.handshakeTransport.Close()
}

// mainLoop reads incoming messages and routes channel messages
// to their respective clientChans.
func (c *ClientConn) mainLoop() {
	defer func() {
		c.Close()
		c.chanlist.closeAll()
		c.forwardList.closeAll()
	}()

	for {
		packet, err := c.readPacket()
		if err != nil {
			return
		}
		if err := c.handlePacket(packet); err != nil {
			c.writeDisconnect(disconnectProtocolError, err.Error())
			return
		}
	}
}

// handlePacket dispatches one connection-service packet. A returned error
// is fatal for the session.
func (c *ClientConn) handlePacket(packet []byte) error {
	switch packet[0] {
	case msgChannelData:
		if len(packet) < 9 {
			return ParseError{msgChannelData}
		}
		peersId := binary.BigEndian.Uint32(packet[1:5])
		length := binary.BigEndian.Uint32(packet[5:9])
		packet = packet[9:]
		if length != uint32(len(packet)) {
			return ParseError{msgChannelData}
		}
		ch := c.getChan(peersId)
		if ch == nil {
			return errors.New("ssh: data for nonexistent channel " + itoa(int(peersId)))
		}
		if !ch.consumeWindow(length) {
			return errors.New("ssh: remote side wrote too much")
		}
		ch.stdout.write(packet)
	case msgChannelExtendedData:
		if len(packet) < 13 {
			return ParseError{msgChannelExtendedData}
		}
		peersId := binary.BigEndian.Uint32(packet[1:5])
		datatype := binary.BigEndian.Uint32(packet[5:9])
		length := binary.BigEndian.Uint32(packet[9:13])
		packet = packet[13:]
		if length != uint32(len(packet)) {
			return ParseError{msgChannelExtendedData}
		}
		ch := c.getChan(peersId)
		if ch == nil {
			return errors.New("ssh: data for nonexistent channel " + itoa(int(peersId)))
		}
		if !ch.consumeWindow(length) {
			return errors.New("ssh: remote side wrote too much")
		}
		// RFC 4254 5.2 defines data_type_code 1 to be data destined
		// for stderr on interactive sessions. Other data types are
		// silently discarded.
		if extendedDataTypeCode(datatype) == extendedDataStderr {
			ch.stderr.write(packet)
		} else if err := ch.returnWindow(length); err != nil {
			return err
		}
	default:
		decoded, err := decode(packet)
		if err != nil {
			return err
		}
		switch msg := decoded.(type) {
		case *channelOpenMsg:
			c.handleChanOpen(msg)
		case *channelOpenConfirmMsg:
			c.deliver(msg.PeersId, msg)
		case *channelOpenFailureMsg:
			c.deliver(msg.PeersId, msg)
		case *channelCloseMsg:
			ch := c.getChan(msg.PeersId)
			if ch == nil {
				return errors.New("ssh: close for nonexistent channel")
			}
			ch.theyClosed = true
			ch.stdout.eof()
			ch.stderr.eof()
			ch.remoteWin.close()
			close(ch.msg)
			if !ch.weClosed {
				ch.weClosed = true
				ch.sendClose()
			}
			c.chanlist.remove(msg.PeersId)
		case *channelEOFMsg:
			if ch := c.getChan(msg.PeersId); ch != nil {
				ch.stdout.eof()
				// RFC 4254 is mute on how EOF affects dataExt messages
				// but it is logical to signal EOF at the same time.
				ch.stderr.eof()
			}
		case *channelRequestSuccessMsg:
			c.deliver(msg.PeersId, msg)
		case *channelRequestFailureMsg:
			c.deliver(msg.PeersId, msg)
		case *channelRequestMsg:
			c.deliver(msg.PeersId, msg)
		case *windowAdjustMsg:
			ch := c.getChan(msg.PeersId)
			if ch == nil {
				return errors.New("ssh: window adjust for nonexistent channel")
			}
			if !ch.remoteWin.add(msg.AdditionalBytes) {
				return errors.New("ssh: invalid window update")
			}
		case *globalRequestMsg:
			// This package does not use global requests sent by servers,
			// but must still answer the want-reply bit.
			if msg.WantReply {
				return c.writePacket(marshal(msgRequestFailure, globalRequestFailureMsg{}))
			}
		case *globalRequestSuccessMsg:
			c.globalRequest.response <- msg
		case *globalRequestFailureMsg:
			c.globalRequest.response <- msg
		default:
			return fmt.Errorf("ssh: unexpected message %T", msg)
		}
	}
	return nil
}

// deliver routes a control message to its channel.
func (c *ClientConn) deliver(peersId uint32, msg interface{}) {
	if ch := c.getChan(peersId); ch != nil {
		ch.msg <- msg
	}
}

// openChan opens a new channel of the given type, passing extra as the
// type-specific open payload.
func (c *ClientConn) openChan(chanType string, extra []byte) (*clientChan, error) {
	ch := c.newChan(c.handshakeTransport, c.config.windowSize())
	open := channelOpenMsg{
		ChanType:         chanType,
		PeersId:          ch.localId,
		PeersWindow:      c.config.windowSize(),
		MaxPacketSize:    c.config.maxPacket(),
		TypeSpecificData: extra,
	}
	if err := c.writePacket(marshal(msgChannelOpen, open)); err != nil {
		c.chanlist.remove(ch.localId)
		return nil, err
	}
	if err := ch.waitForChannelOpenResponse(); err != nil {
		c.chanlist.remove(ch.localId)
		return nil, err
	}
	return ch, nil
}

// handleChanOpen services a channel open request from the remote side.
func (c *ClientConn) handleChanOpen(msg *channelOpenMsg) {
	switch msg.ChanType {
	case "forwarded-tcpip":
		laddr, rest, ok := parseTCPAddr(msg.TypeSpecificData)
		if !ok {
			c.sendConnectionFailed(msg.PeersId)
			return
		}
		l, ok := c.forwardList.lookup(laddr)
		if !ok {
			// Section 7.2, implementations MUST reject spurious incoming
			// connections.
			c.sendConnectionFailed(msg.PeersId)
			return
		}
		raddr, _, ok := parseTCPAddr(rest)
		if !ok {
			c.sendConnectionFailed(msg.PeersId)
			return
		}
		ch := c.newChan(c.handshakeTransport, c.config.windowSize())
		ch.remoteId = msg.PeersId
		ch.maxPacket = msg.MaxPacketSize
		ch.remoteWin.add(msg.PeersWindow)

		m := channelOpenConfirmMsg{
			PeersId:       ch.remoteId,
			MyId:          ch.localId,
			MyWindow:      c.config.windowSize(),
			MaxPacketSize: c.config.maxPacket(),
		}
		c.writePacket(marshal(msgChannelOpenConfirm, m))
		l <- forward{ch, raddr}
	default:
		// unknown channel type
		m := channelOpenFailureMsg{
			PeersId:  msg.PeersId,
			Reason:   UnknownChannelType,
			Message:  "unknown channel type: " + msg.ChanType,
			Language: "en_US.UTF-8",
		}
		c.writePacket(marshal(msgChannelOpenFailure, m))
	}
}

// sendGlobalRequest sends a global request message as specified
// in RFC 4254 section 4. To correctly synchronise messages, a lock
// is held internally until a response is returned.
func (c *ClientConn) sendGlobalRequest(m interface{}) (*globalRequestSuccessMsg, error) {
	c.globalRequest.Lock()
	defer c.globalRequest.Unlock()
	if err := c.writePacket(marshal(msgGlobalRequest, m)); err != nil {
		return nil, err
	}
	r := <-c.globalRequest.response
	if r, ok := r.(*globalRequestSuccessMsg); ok {
		return r, nil
	}
	return nil, errors.New("ssh: global request failed")
}

// sendConnectionFailed rejects an incoming channel identified
// by remoteId.
func (c *ClientConn) sendConnectionFailed(remoteId uint32) error {
	m := channelOpenFailureMsg{
		PeersId:  remoteId,
		Reason:   ConnectionFailed,
		Message:  "invalid request",
		Language: "en_US.UTF-8",
	}
	return c.writePacket(marshal(msgChannelOpenFailure, m))
}

// parseTCPAddr parses the originating address from the remote into a
// *net.TCPAddr. RFC 4254 section 7.2 is mute on what to do if parsing
// fails but the forwardlist requires a valid *net.TCPAddr to operate, so
// we enforce that restriction here.
func parseTCPAddr(b []byte) (*net.TCPAddr, []byte, bool) {
	addr, b, ok := parseString(b)
	if !ok {
		return nil, b, false
	}
	port, b, ok := parseUint32(b)
	if !ok {
		return nil, b, false
	}
	ip := net.ParseIP(string(addr))
	if ip == nil {
		return nil, b, false
	}
	return &net.TCPAddr{IP: ip, Port: int(port)}, b, true
}
