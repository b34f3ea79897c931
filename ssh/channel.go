// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"io"
	"sync"
)

// extendedDataTypeCode identifies an OpenSSL extended data type. See RFC
// 4254, section 5.2.
type extendedDataTypeCode uint32

// extendedDataStderr is the extended data type that is used for stderr.
const extendedDataStderr extendedDataTypeCode = 1

// A Channel is an ordered, reliable, duplex stream that is multiplexed over
// an SSH connection. Channel.Read can return a ChannelRequest as an error.
type Channel interface {
	// Accept accepts the channel creation request.
	Accept() error
	// Reject rejects the channel creation request. After calling this, no
	// other methods on the Channel may be called. If they are then the
	// peer is likely to signal a protocol error and drop the connection.
	Reject(reason RejectionReason, message string) error

	// Read may return a ChannelRequest as an error.
	Read(data []byte) (int, error)
	Write(data []byte) (int, error)
	Close() error

	// Stderr returns an io.Writer that writes to this channel with the
	// extended data type set to stderr.
	Stderr() io.Writer

	// AckRequest either sends an ack or nack to the channel request.
	AckRequest(ok bool) error

	// ChannelType returns the type of the channel, as supplied by the
	// client.
	ChannelType() string
	// ExtraData returns the arbitary payload for this channel, as supplied
	// by the client. This data is specific to the channel type.
	ExtraData() []byte
}

// ChannelRequest represents a request sent on a channel, outside of the
// normal stream of bytes. It may result from calling Read on a Channel.
type ChannelRequest struct {
	Request   string
	WantReply bool
	Payload   []byte
}

func (c ChannelRequest) Error() string {
	return "ssh: channel request received"
}

// RejectionReason is an enumeration used when rejecting channel creation
// requests. See RFC 4254, section 5.1.
type RejectionReason uint32

const (
	Prohibited RejectionReason = iota + 1
	ConnectionFailed
	UnknownChannelType
	ResourceShortage
)

// channel is the state shared by the client and server sides of a channel.
type channel struct {
	conn              packetConn // the underlying transport
	localId, remoteId uint32
	remoteWin         window
	maxPacket         uint32 // the largest payload the peer accepts

	theyClosed  bool // indicates the close msg has been received from the remote side
	weClosed    bool // indicates the close msg has been sent from our side
	theySentEOF bool
	dead        bool
}

func (c *channel) sendWindowAdj(n int) error {
	msg := windowAdjustMsg{
		PeersId:         c.remoteId,
		AdditionalBytes: uint32(n),
	}
	return c.conn.writePacket(marshal(msgChannelWindowAdjust, msg))
}

// sendClose signals the intent to close the channel.
func (c *channel) sendClose() error {
	return c.conn.writePacket(marshal(msgChannelClose, channelCloseMsg{
		PeersId: c.remoteId,
	}))
}

// sendEOF sends EOF to the peer. RFC 4254 Section 5.3
func (c *channel) sendEOF() error {
	return c.conn.writePacket(marshal(msgChannelEOF, channelEOFMsg{
		PeersId: c.remoteId,
	}))
}

func (c *channel) sendChannelOpenFailure(reason RejectionReason, message string) error {
	reject := channelOpenFailureMsg{
		PeersId:  c.remoteId,
		Reason:   reason,
		Message:  message,
		Language: "en",
	}
	return c.conn.writePacket(marshal(msgChannelOpenFailure, reject))
}

// writeData sends data over the channel, splitting it to honour both the
// remote window and the remote maximum packet size.
func (c *channel) writeData(extended uint32, data []byte) (written int, err error) {
	for len(data) > 0 {
		// never send more data than maxPacket even if there is sufficient
		// window. The chunk plus its channel header must also fit in one
		// transport payload.
		n := min(maxPayload-16, len(data))
		if c.maxPacket > 0 {
			n = min(int(c.maxPacket), n)
		}
		var space uint32
		if space, err = c.remoteWin.reserve(uint32(n)); err != nil {
			return
		}
		todo := data[:space]

		var packet []byte
		if extended > 0 {
			packet = make([]byte, 0, 13+len(todo))
			packet = append(packet, msgChannelExtendedData)
			packet = appendU32(packet, c.remoteId)
			packet = appendU32(packet, extended)
		} else {
			packet = make([]byte, 0, 9+len(todo))
			packet = append(packet, msgChannelData)
			packet = appendU32(packet, c.remoteId)
		}
		packet = appendU32(packet, uint32(len(todo)))
		packet = append(packet, todo...)

		if err = c.conn.writePacket(packet); err != nil {
			return
		}

		written += len(todo)
		data = data[len(todo):]
	}
	return
}

// A serverChan is a channel opened by the remote side towards a ServerConn.
type serverChan struct {
	channel
	// immutable once created
	chanType  string
	extraData []byte

	serverConn *ServerConn
	myWindow   uint32
	err        error

	pendingRequests []ChannelRequest
	pendingData     []byte
	head, length    int

	// This lock is inferior to serverConn.lock
	cond *sync.Cond
}

func (c *serverChan) Accept() error {
	c.serverConn.lock.Lock()
	defer c.serverConn.lock.Unlock()

	if c.serverConn.err != nil {
		return c.serverConn.err
	}

	confirm := channelOpenConfirmMsg{
		PeersId:       c.remoteId,
		MyId:          c.localId,
		MyWindow:      c.myWindow,
		MaxPacketSize: c.serverConn.config.maxPacket(),
	}
	return c.conn.writePacket(marshal(msgChannelOpenConfirm, confirm))
}

func (c *serverChan) Reject(reason RejectionReason, message string) error {
	c.serverConn.lock.Lock()
	defer c.serverConn.lock.Unlock()

	if c.serverConn.err != nil {
		return c.serverConn.err
	}

	return c.sendChannelOpenFailure(reason, message)
}

func (c *serverChan) handlePacket(packet interface{}) error {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()

	switch packet := packet.(type) {
	case *channelRequestMsg:
		req := ChannelRequest{
			Request:   packet.Request,
			WantReply: packet.WantReply,
			Payload:   packet.RequestSpecificData,
		}

		c.pendingRequests = append(c.pendingRequests, req)
		c.cond.Signal()
	case *channelCloseMsg:
		c.theyClosed = true
		c.cond.Signal()
	case *channelEOFMsg:
		c.theySentEOF = true
		c.cond.Signal()
	case *windowAdjustMsg:
		if !c.remoteWin.add(packet.AdditionalBytes) {
			return errors.New("ssh: illegal window update")
		}
	default:
		return errors.New("ssh: unexpected packet type for channel")
	}
	return nil
}

func (c *serverChan) handleData(data []byte) error {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()

	// The other side may never send us more than our window.
	if len(data)+c.length > len(c.pendingData) {
		return errors.New("ssh: remote side wrote too much")
	}

	c.myWindow -= uint32(len(data))
	for i := 0; i < 2; i++ {
		tail := c.head + c.length
		if tail >= len(c.pendingData) {
			tail -= len(c.pendingData)
		}
		n := copy(c.pendingData[tail:], data)
		data = data[n:]
		c.length += n
	}

	c.cond.Signal()
	return nil
}

func (c *serverChan) setDead() {
	c.cond.L.Lock()
	c.dead = true
	c.remoteWin.close()
	c.cond.Signal()
	c.cond.L.Unlock()
}

func (c *serverChan) Stderr() io.Writer {
	return extendedDataChannel{c: c, t: extendedDataStderr}
}

// extendedDataChannel is an io.Writer that writes any data to c as extended
// data of the given type.
type extendedDataChannel struct {
	t extendedDataTypeCode
	c *serverChan
}

func (edc extendedDataChannel) Write(data []byte) (n int, err error) {
	if err := edc.c.writable(); err != nil {
		return 0, err
	}
	return edc.c.writeData(uint32(edc.t), data)
}

func (c *serverChan) Read(data []byte) (n int, err error) {
	n, err, windowAdjustment := c.read(data)

	if windowAdjustment > 0 {
		packet := marshal(msgChannelWindowAdjust, windowAdjustMsg{
			PeersId:         c.remoteId,
			AdditionalBytes: windowAdjustment,
		})
		err = c.conn.writePacket(packet)
	}

	return
}

func (c *serverChan) read(data []byte) (n int, err error, windowAdjustment uint32) {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()

	if c.err != nil {
		return 0, c.err, 0
	}

	for {
		if len(c.pendingRequests) > 0 {
			req := c.pendingRequests[0]
			if len(c.pendingRequests) == 1 {
				c.pendingRequests = nil
			} else {
				oldPendingRequests := c.pendingRequests
				c.pendingRequests = make([]ChannelRequest, len(oldPendingRequests)-1)
				copy(c.pendingRequests, oldPendingRequests[1:])
			}

			return 0, req, 0
		}

		if c.length > 0 {
			tail := min(c.head+c.length, len(c.pendingData))
			n = copy(data, c.pendingData[c.head:tail])
			c.head += n
			c.length -= n
			if c.head == len(c.pendingData) {
				c.head = 0
			}

			windowAdjustment = uint32(len(c.pendingData)-c.length) - c.myWindow
			if windowAdjustment < uint32(len(c.pendingData)/2) {
				windowAdjustment = 0
			}
			c.myWindow += windowAdjustment

			return
		}

		if c.theySentEOF || c.theyClosed || c.dead {
			return 0, io.EOF, 0
		}

		c.cond.Wait()
	}
}

// writable returns an error once the channel can no longer carry outbound
// data.
func (c *serverChan) writable() error {
	c.cond.L.Lock()
	defer c.cond.L.Unlock()
	if c.dead || c.weClosed {
		return io.EOF
	}
	return nil
}

func (c *serverChan) Write(data []byte) (n int, err error) {
	if err := c.writable(); err != nil {
		return 0, err
	}
	return c.writeData(0, data)
}

func (c *serverChan) Close() error {
	c.serverConn.lock.Lock()
	defer c.serverConn.lock.Unlock()

	if c.serverConn.err != nil {
		return c.serverConn.err
	}

	if c.weClosed {
		return errors.New("ssh: channel already closed")
	}
	c.weClosed = true

	return c.sendClose()
}

func (c *serverChan) AckRequest(ok bool) error {
	c.serverConn.lock.Lock()
	defer c.serverConn.lock.Unlock()

	if c.serverConn.err != nil {
		return c.serverConn.err
	}

	if !ok {
		ack := channelRequestFailureMsg{
			PeersId: c.remoteId,
		}
		return c.conn.writePacket(marshal(msgChannelFailure, ack))
	}

	ack := channelRequestSuccessMsg{
		PeersId: c.remoteId,
	}
	return c.conn.writePacket(marshal(msgChannelSuccess, ack))
}

func (c *serverChan) ChannelType() string {
	return c.chanType
}

func (c *serverChan) ExtraData() []byte {
	return c.extraData
}

// A clientChan represents a single RFC 4254 channel multiplexed
// over a SSH connection.
type clientChan struct {
	channel
	stdin  *chanWriter
	stdout *chanReader
	stderr *chanReader
	msg    chan interface{}

	// myWindow is the amount of window credit currently advertised to the
	// peer; data beyond it is a protocol violation.
	windowMu sync.Mutex
	myWindow uint32
}

// newClientChan returns a partially constructed *clientChan
// using the local id provided. To be usable clientChan.remoteId
// needs to be assigned once known.
func newClientChan(cc packetConn, id, initialWindow uint32) *clientChan {
	c := &clientChan{
		channel: channel{
			conn:      cc,
			localId:   id,
			remoteWin: window{Cond: newCond()},
		},
		msg:      make(chan interface{}, 16),
		myWindow: initialWindow,
	}
	c.stdin = &chanWriter{
		channel: &c.channel,
	}
	c.stdout = &chanReader{
		channel: &c.channel,
		buffer:  newBuffer(),
		cc:      c,
	}
	c.stderr = &chanReader{
		channel: &c.channel,
		buffer:  newBuffer(),
		cc:      c,
	}
	return c
}

// waitForChannelOpenResponse, if successful, fills out
// the remoteId and records any initial window advertisement.
func (c *clientChan) waitForChannelOpenResponse() error {
	switch msg := (<-c.msg).(type) {
	case *channelOpenConfirmMsg:
		// fixup remoteId field
		c.remoteId = msg.MyId
		c.maxPacket = msg.MaxPacketSize
		c.remoteWin.add(msg.MyWindow)
		return nil
	case *channelOpenFailureMsg:
		return &OpenChannelError{msg.Reason, safeString(msg.Message)}
	}
	return errors.New("ssh: unexpected packet")
}

// OpenChannelError is returned if the other side rejects a channel open
// request.
type OpenChannelError struct {
	Reason  RejectionReason
	Message string
}

func (e *OpenChannelError) Error() string {
	return "ssh: rejected: reason " + itoa(int(e.Reason)) + " (" + e.Message + ")"
}

// consumeWindow accounts for n inbound payload bytes; it reports false if
// the peer overran the window we advertised.
func (c *clientChan) consumeWindow(n uint32) bool {
	c.windowMu.Lock()
	defer c.windowMu.Unlock()
	if n > c.myWindow {
		return false
	}
	c.myWindow -= n
	return true
}

func (c *clientChan) returnWindow(n uint32) error {
	c.windowMu.Lock()
	c.myWindow += n
	c.windowMu.Unlock()
	return c.sendWindowAdj(int(n))
}

// Close closes the channel. This does not close the underlying connection.
func (c *clientChan) Close() error {
	if !c.weClosed {
		c.weClosed = true
		return c.sendClose()
	}
	return nil
}

// A chanWriter represents the stdin of a remote process.
type chanWriter struct {
	*channel
}

// Write writes data to the remote process's standard input.
func (w *chanWriter) Write(data []byte) (written int, err error) {
	return w.writeData(0, data)
}

func (w *chanWriter) Close() error {
	return w.sendEOF()
}

// A chanReader represents stdout or stderr of a remote process.
type chanReader struct {
	*channel // the channel backing this reader
	*buffer
	cc *clientChan
}

// Read reads data from the remote process's stdout or stderr.
func (r *chanReader) Read(buf []byte) (int, error) {
	n, err := r.buffer.Read(buf)
	if err != nil {
		if err == io.EOF {
			return n, err
		}
		return 0, err
	}
	return n, r.cc.returnWindow(uint32(n))
}

// Thread safe channel list.
type chanlist struct {
	// protects concurrent access to chans
	sync.Mutex
	// chans are indexed by the local id of the channel, clientChan.localId.
	// The PeersId value of messages received by ClientConn.mainLoop is
	// used to locate the right local clientChan in this slice.
	chans []*clientChan
}

// newChan allocates a new clientChan with the next available local id.
func (c *chanlist) newChan(p packetConn, initialWindow uint32) *clientChan {
	c.Lock()
	defer c.Unlock()
	for i := range c.chans {
		if c.chans[i] == nil {
			ch := newClientChan(p, uint32(i), initialWindow)
			c.chans[i] = ch
			return ch
		}
	}
	i := len(c.chans)
	ch := newClientChan(p, uint32(i), initialWindow)
	c.chans = append(c.chans, ch)
	return ch
}

func (c *chanlist) getChan(id uint32) *clientChan {
	c.Lock()
	defer c.Unlock()
	if id >= uint32(len(c.chans)) {
		return nil
	}
	return c.chans[int(id)]
}

func (c *chanlist) remove(id uint32) {
	c.Lock()
	defer c.Unlock()
	c.chans[int(id)] = nil
}

func (c *chanlist) closeAll() {
	c.Lock()
	defer c.Unlock()

	for _, ch := range c.chans {
		if ch == nil {
			continue
		}

		ch.theyClosed = true
		ch.stdout.eof()
		ch.stderr.eof()
		ch.remoteWin.close()
		close(ch.msg)
	}
}
