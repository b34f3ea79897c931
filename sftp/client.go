package sftp

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/huaweig1/mina-sshd/ssh"
)

// A ClientOption configures a Client at construction time.
type ClientOption func(*Client) error

// ReadChunk sets the payload size of READ requests issued by file
// readers. The default is 32 KiB.
func ReadChunk(size int) ClientOption {
	return func(c *Client) error {
		if size <= 0 {
			return ErrInvalidArgument
		}
		c.readChunk = size
		return nil
	}
}

// WriteChunk sets the payload size of WRITE requests issued by file
// writers. The default is 32 KiB.
func WriteChunk(size int) ClientOption {
	return func(c *Client) error {
		if size <= 0 {
			return ErrInvalidArgument
		}
		c.writeChunk = size
		return nil
	}
}

// RequestTimeout bounds the wait for each individual response. An expired
// request fails with ErrTimeout; the session stays usable and the late
// response, if any, is discarded on arrival.
func RequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

const defaultChunk = 32 * 1024

// Client implements an SFTP client over a single full-duplex byte stream,
// normally an ssh "sftp" subsystem channel. Methods may be called
// concurrently from multiple goroutines; responses are matched to requests
// by id.
type Client struct {
	w io.WriteCloser
	r io.Reader

	// session is non-nil when the client opened the subsystem channel
	// itself; borrowed pipes are left open on Close.
	session *ssh.Session

	version uint32
	exts    map[string]string

	readChunk  int
	writeChunk int
	timeout    time.Duration

	// wmu serialises writes to w.
	wmu sync.Mutex

	// mu guards the request id counter and the pending map. It is held
	// only for insert and remove.
	mu      sync.Mutex
	nextID  uint32
	pending map[uint32]chan<- result
	closed  bool
	brokenErr error
}

// result is one response delivered to a waiting request.
type result struct {
	typ  uint8
	data []byte
	err  error
}

// NewClient opens an sftp subsystem on conn and returns a Client. The
// session is owned by the client and closed with it.
func NewClient(conn *ssh.ClientConn, opts ...ClientOption) (*Client, error) {
	s, err := conn.NewSession()
	if err != nil {
		return nil, err
	}
	// The pipes must be claimed before the subsystem request starts the
	// session.
	pw, err := s.StdinPipe()
	if err != nil {
		s.Close()
		return nil, err
	}
	pr, err := s.StdoutPipe()
	if err != nil {
		s.Close()
		return nil, err
	}
	if err := s.RequestSubsystem("sftp"); err != nil {
		s.Close()
		return nil, err
	}

	client, err := NewClientPipe(pr, pw, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}
	client.session = s
	return client, nil
}

// NewClientPipe creates a client over the given reader/writer pair, which
// must carry a raw SFTP byte stream. The pipes are borrowed: Close sends
// no more requests but leaves them open.
func NewClientPipe(rd io.Reader, wr io.WriteCloser, opts ...ClientOption) (*Client, error) {
	c := &Client{
		w:          wr,
		r:          rd,
		readChunk:  defaultChunk,
		writeChunk: defaultChunk,
		pending:    make(map[uint32]chan<- result),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := c.sendInit(); err != nil {
		return nil, err
	}
	if err := c.recvVersion(); err != nil {
		return nil, err
	}
	go c.recvLoop()
	return c, nil
}

// Close stops the client. All pending requests fail with
// ErrConnectionLost. If the client owns its session it is closed;
// borrowed pipes are left open.
func (c *Client) Close() error {
	c.broken(ErrConnectionLost)
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

// Version returns the negotiated protocol version.
func (c *Client) Version() uint32 { return c.version }

// HasExtension reports whether the server advertised the named extension
// and returns its data.
func (c *Client) HasExtension(name string) (string, bool) {
	data, ok := c.exts[name]
	return data, ok
}

func (c *Client) sendInit() error {
	pkt := fxpInitPkt{Version: ProtocolVersion}
	b, err := pkt.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = c.w.Write(b)
	return errors.Wrap(err, "init")
}

// recvPacket reads one length-prefixed packet, returning its type and
// payload.
func (c *Client) recvPacket() (uint8, []byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length < 1 {
		return 0, nil, errShortPacket
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return 0, nil, err
	}
	return buf[0], buf[1:], nil
}

func (c *Client) recvVersion() error {
	typ, data, err := c.recvPacket()
	if err != nil {
		return errors.Wrap(err, "version handshake")
	}
	if typ != fxpVersion {
		return &unexpectedPacketErr{fxpVersion, typ}
	}
	var version fxpVersionPkt
	if err := version.UnmarshalBinary(data); err != nil {
		return err
	}
	if version.Version > ProtocolVersion {
		return &unexpectedVersionErr{ProtocolVersion, version.Version}
	}
	c.version = version.Version
	c.exts = make(map[string]string, len(version.Extensions))
	for _, ext := range version.Extensions {
		c.exts[ext.Name] = ext.Data
	}
	return nil
}

// recvLoop matches inbound responses to pending requests by id. Responses
// whose id is no longer pending, such as those for timed out or cancelled
// requests, are discarded.
func (c *Client) recvLoop() {
	for {
		typ, data, err := c.recvPacket()
		if err != nil {
			c.broken(err)
			return
		}
		if len(data) < 4 {
			c.broken(errShortPacket)
			return
		}
		id := binary.BigEndian.Uint32(data[:4])

		c.mu.Lock()
		ch, ok := c.pending[id]
		delete(c.pending, id)
		c.mu.Unlock()
		if ok {
			ch <- result{typ: typ, data: data}
		}
	}
}

// broken fails every pending request and refuses new ones.
func (c *Client) broken(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if err == io.EOF {
		err = ErrConnectionLost
	}
	c.brokenErr = err
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- result{err: err}
	}
}

// register draws a fresh id from the monotonically increasing counter
// and records ch as its pending sink. Ids wrap at 2^32; for any realistic window of in-flight
// requests a collision is impossible, but a colliding id is skipped
// anyway during registration.
func (c *Client) register(ch chan<- result) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, c.brokenErr
	}
	for {
		id := c.nextID
		c.nextID++
		if _, inFlight := c.pending[id]; inFlight {
			continue
		}
		c.pending[id] = ch
		return id, nil
	}
}

func (c *Client) discard(id uint32) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) send(p requestPacket) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.w.Write(b)
	return err
}

// idSetter is a request packet whose id is assigned by the dispatcher.
type idSetter interface {
	requestPacket
	setID(uint32)
}

// sendRequest transmits one request and blocks until its response
// arrives, the configured timeout expires, or the connection breaks.
func (c *Client) sendRequest(p idSetter) (uint8, []byte, error) {
	ch := make(chan result, 1)
	id, err := c.register(ch)
	if err != nil {
		return 0, nil, err
	}
	p.setID(id)

	if err := c.send(p); err != nil {
		c.discard(id)
		return 0, nil, err
	}

	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		select {
		case res := <-ch:
			return res.typ, res.data, res.err
		case <-timer.C:
			// The response, should it still arrive, is dropped by
			// recvLoop.
			c.discard(id)
			return 0, nil, ErrTimeout
		}
	}
	res := <-ch
	return res.typ, res.data, res.err
}

// expectStatus finishes requests whose only success response is an OK
// status.
func (c *Client) expectStatus(typ uint8, data []byte, err error) error {
	if err != nil {
		return err
	}
	if typ != fxpStatus {
		return &unexpectedPacketErr{fxpStatus, typ}
	}
	return statusToError(data, true)
}

// statusToError converts an SSH_FXP_STATUS payload into an error, nil for
// SSH_FX_OK and io.EOF for SSH_FX_EOF.
func statusToError(data []byte, okExpected bool) error {
	var status fxpStatusPkt
	if err := status.UnmarshalBinary(data); err != nil {
		return err
	}
	switch status.Code {
	case fxOK:
		return nil
	case fxEOF:
		return io.EOF
	}
	return &StatusError{Code: status.Code, msg: status.msg, lang: status.lang}
}

// OpenFlag is the set of modes for opening remote files. The values map
// to the SSH_FXP_OPEN pflags bits.
type OpenFlag uint32

const (
	OpenRead      OpenFlag = OpenFlag(pflagRead)
	OpenWrite     OpenFlag = OpenFlag(pflagWrite)
	OpenAppend    OpenFlag = OpenFlag(pflagAppend)
	OpenCreate    OpenFlag = OpenFlag(pflagCreate)
	OpenTruncate  OpenFlag = OpenFlag(pflagTrunc)
	OpenExclusive OpenFlag = OpenFlag(pflagExcl)
)

// Open opens the named file for reading.
func (c *Client) Open(path string) (*File, error) {
	return c.OpenFile(path, OpenRead)
}

// Create opens the named file for writing, creating it if necessary and
// truncating it otherwise.
func (c *Client) Create(path string) (*File, error) {
	return c.OpenFile(path, OpenWrite|OpenCreate|OpenTruncate)
}

// OpenFile opens the named file with the given flags. OpenExclusive
// without OpenCreate is rejected locally.
func (c *Client) OpenFile(path string, flags OpenFlag) (*File, error) {
	if flags&OpenExclusive != 0 && flags&OpenCreate == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "exclusive requires create")
	}
	typ, data, err := c.sendRequest(&fxpOpenPkt{Path: path, PFlags: pflag(flags)})
	if err != nil {
		return nil, errors.Wrap(err, "open "+path)
	}
	handle, err := c.expectHandle(typ, data)
	if err != nil {
		return nil, errors.Wrap(err, "open "+path)
	}
	return &File{c: c, path: path, handle: handle}, nil
}

func (c *Client) expectHandle(typ uint8, data []byte) (string, error) {
	switch typ {
	case fxpHandle:
		var pkt fxpHandlePkt
		if err := pkt.UnmarshalBinary(data); err != nil {
			return "", err
		}
		return pkt.Handle, nil
	case fxpStatus:
		return "", statusToError(data, false)
	}
	return "", &unexpectedPacketErr{fxpHandle, typ}
}

func (c *Client) expectAttr(typ uint8, data []byte) (*FileAttr, error) {
	switch typ {
	case fxpAttrs:
		var pkt fxpAttrPkt
		if err := pkt.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return pkt.Attr, nil
	case fxpStatus:
		return nil, statusToError(data, false)
	}
	return nil, &unexpectedPacketErr{fxpAttrs, typ}
}

func (c *Client) expectName(typ uint8, data []byte) ([]DirEntry, error) {
	switch typ {
	case fxpName:
		var pkt fxpNamePkt
		if err := pkt.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return pkt.Items, nil
	case fxpStatus:
		return nil, statusToError(data, false)
	}
	return nil, &unexpectedPacketErr{fxpName, typ}
}

// close releases a server handle.
func (c *Client) close(handle string) error {
	return errors.Wrap(
		c.expectStatus(c.sendRequest(&fxpClosePkt{Handle: handle})),
		"close")
}

// readAt issues one READ. A short count is legal; io.EOF signals
// end-of-file.
func (c *Client) readAt(handle string, offset uint64, length uint32, buf []byte) (int, error) {
	typ, data, err := c.sendRequest(&fxpReadPkt{Handle: handle, Offset: offset, Len: length})
	if err != nil {
		return 0, err
	}
	switch typ {
	case fxpData:
		var pkt fxpDataPkt
		if err := pkt.UnmarshalBinary(data); err != nil {
			return 0, err
		}
		return copy(buf, pkt.Data), nil
	case fxpStatus:
		if err := statusToError(data, false); err != nil {
			return 0, err
		}
		return 0, &unexpectedPacketErr{fxpData, typ}
	}
	return 0, &unexpectedPacketErr{fxpData, typ}
}

// writeAt issues one WRITE covering buf at offset.
func (c *Client) writeAt(handle string, offset uint64, buf []byte) error {
	return c.expectStatus(c.sendRequest(&fxpWritePkt{Handle: handle, Offset: offset, Data: buf}))
}

// Remove removes the named file.
func (c *Client) Remove(path string) error {
	return errors.Wrap(
		c.expectStatus(c.sendRequest(&fxpRemovePkt{Path: path})),
		"remove "+path)
}

// Mkdir creates the named directory.
func (c *Client) Mkdir(path string) error {
	return errors.Wrap(
		c.expectStatus(c.sendRequest(&fxpMkdirPkt{Path: path})),
		"mkdir "+path)
}

// RemoveDirectory removes the named, empty directory.
func (c *Client) RemoveDirectory(path string) error {
	return errors.Wrap(
		c.expectStatus(c.sendRequest(&fxpRmdirPkt{Path: path})),
		"rmdir "+path)
}

// RenameMode selects the semantics of a rename.
type RenameMode int

const (
	// RenamePlain fails when the target exists.
	RenamePlain RenameMode = iota
	// RenameOverwrite replaces an existing target.
	RenameOverwrite
	// RenameAtomic replaces an existing target atomically.
	RenameAtomic
)

// Rename renames oldpath to newpath, failing if newpath exists.
func (c *Client) Rename(oldpath, newpath string) error {
	return c.RenameWithMode(oldpath, newpath, RenamePlain)
}

// PosixRename renames oldpath to newpath atomically, replacing any
// existing target. It requires the posix-rename@openssh.com extension.
func (c *Client) PosixRename(oldpath, newpath string) error {
	return c.RenameWithMode(oldpath, newpath, RenameAtomic)
}

// RenameWithMode renames with the requested semantics. Overwriting and
// atomic renames need the posix-rename@openssh.com extension; if the
// server does not advertise it the call fails with ErrUnsupported.
func (c *Client) RenameWithMode(oldpath, newpath string, mode RenameMode) error {
	switch mode {
	case RenamePlain:
		return errors.Wrap(
			c.expectStatus(c.sendRequest(&fxpRenamePkt{OldPath: oldpath, NewPath: newpath})),
			"rename "+oldpath)
	case RenameOverwrite, RenameAtomic:
		if _, ok := c.exts[extPosixRename]; !ok {
			return errors.Wrap(ErrUnsupported, extPosixRename)
		}
		return errors.Wrap(
			c.expectStatus(c.sendRequest(&fxpPosixRenamePkt{OldPath: oldpath, NewPath: newpath})),
			"posix-rename "+oldpath)
	}
	return ErrInvalidArgument
}

// Symlink creates linkpath as a symbolic link to targetpath.
func (c *Client) Symlink(targetpath, linkpath string) error {
	return errors.Wrap(
		c.expectStatus(c.sendRequest(&fxpSymlinkPkt{LinkPath: linkpath, TargetPath: targetpath})),
		"symlink "+linkpath)
}

// Link creates newpath as a hard link to oldpath. It requires the
// hardlink@openssh.com extension.
func (c *Client) Link(oldpath, newpath string) error {
	if _, ok := c.exts[extHardlink]; !ok {
		return errors.Wrap(ErrUnsupported, extHardlink)
	}
	return errors.Wrap(
		c.expectStatus(c.sendRequest(&fxpHardlinkPkt{OldPath: oldpath, NewPath: newpath})),
		"hardlink "+newpath)
}

// ReadLink returns the target of the named symbolic link.
func (c *Client) ReadLink(path string) (string, error) {
	typ, data, err := c.sendRequest(&fxpReadlinkPkt{Path: path})
	if err != nil {
		return "", errors.Wrap(err, "readlink "+path)
	}
	names, err := c.expectName(typ, data)
	if err != nil {
		return "", errors.Wrap(err, "readlink "+path)
	}
	if len(names) != 1 {
		return "", unexpectedCount(1, uint32(len(names)))
	}
	return names[0].Filename, nil
}

// RealPath canonicalises the given path on the server.
func (c *Client) RealPath(path string) (string, error) {
	typ, data, err := c.sendRequest(&fxpRealpathPkt{Path: path})
	if err != nil {
		return "", errors.Wrap(err, "realpath "+path)
	}
	names, err := c.expectName(typ, data)
	if err != nil {
		return "", errors.Wrap(err, "realpath "+path)
	}
	if len(names) != 1 {
		return "", unexpectedCount(1, uint32(len(names)))
	}
	return names[0].Filename, nil
}

func unexpectedCount(want, got uint32) error {
	return errors.Errorf("sftp: unexpected count: want %v, got %v", want, got)
}

// Stat returns the attributes of the named file, following symlinks.
func (c *Client) Stat(path string) (*FileAttr, error) {
	typ, data, err := c.sendRequest(&fxpStatPkt{Path: path})
	if err != nil {
		return nil, errors.Wrap(err, "stat "+path)
	}
	attr, err := c.expectAttr(typ, data)
	return attr, errors.Wrap(err, "stat "+path)
}

// Lstat returns the attributes of the named file without following
// symlinks.
func (c *Client) Lstat(path string) (*FileAttr, error) {
	typ, data, err := c.sendRequest(&fxpLstatPkt{Path: path})
	if err != nil {
		return nil, errors.Wrap(err, "lstat "+path)
	}
	attr, err := c.expectAttr(typ, data)
	return attr, errors.Wrap(err, "lstat "+path)
}

// Setstat applies the given attributes to the named file.
func (c *Client) Setstat(path string, attr *FileAttr) error {
	return errors.Wrap(
		c.expectStatus(c.sendRequest(&fxpSetstatPkt{Path: path, Attr: attr})),
		"setstat "+path)
}

// Chmod changes the permissions of the named file.
func (c *Client) Chmod(path string, perms uint32) error {
	return c.Setstat(path, new(FileAttr).SetPerms(perms))
}

// Truncate changes the size of the named file.
func (c *Client) Truncate(path string, size uint64) error {
	return c.Setstat(path, new(FileAttr).SetSize(size))
}

// StatVFS reports file system statistics for the volume holding path. It
// requires the statvfs@openssh.com extension.
func (c *Client) StatVFS(path string) (*StatVFS, error) {
	if _, ok := c.exts[extStatvfs]; !ok {
		return nil, errors.Wrap(ErrUnsupported, extStatvfs)
	}
	typ, data, err := c.sendRequest(&fxpStatvfsPkt{Path: path})
	if err != nil {
		return nil, errors.Wrap(err, "statvfs "+path)
	}
	switch typ {
	case fxpExtendedReply:
		var pkt fxpExtendedReplyPkt
		if err := pkt.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		st := new(StatVFS)
		if err := st.unmarshal(pkt.Data); err != nil {
			return nil, err
		}
		return st, nil
	case fxpStatus:
		return nil, statusToError(data, false)
	}
	return nil, &unexpectedPacketErr{fxpExtendedReply, typ}
}

// A Dir iterates over a remote directory. It is lazy: one READDIR batch
// is buffered at a time. The iterator is finite and not restartable; the
// handle is closed automatically when the listing is exhausted.
type Dir struct {
	c      *Client
	handle string
	buf    []DirEntry
	err    error
	closed bool
}

// OpenDir opens the named directory for iteration.
func (c *Client) OpenDir(path string) (*Dir, error) {
	typ, data, err := c.sendRequest(&fxpOpendirPkt{Path: path})
	if err != nil {
		return nil, errors.Wrap(err, "opendir "+path)
	}
	handle, err := c.expectHandle(typ, data)
	if err != nil {
		return nil, errors.Wrap(err, "opendir "+path)
	}
	return &Dir{c: c, handle: handle}, nil
}

// Next returns the next directory entry. It returns io.EOF when the
// listing is exhausted, at which point the handle has been closed.
func (d *Dir) Next() (DirEntry, error) {
	for len(d.buf) == 0 {
		if d.err != nil {
			return DirEntry{}, d.err
		}
		typ, data, err := d.c.sendRequest(&fxpReaddirPkt{Handle: d.handle})
		if err != nil {
			d.err = err
			return DirEntry{}, err
		}
		entries, err := d.c.expectName(typ, data)
		if err != nil {
			d.err = err
			if err == io.EOF {
				d.closeHandle()
			}
			return DirEntry{}, d.err
		}
		d.buf = entries
	}
	entry := d.buf[0]
	d.buf = d.buf[1:]
	return entry, nil
}

func (d *Dir) closeHandle() {
	if d.closed {
		return
	}
	d.closed = true
	d.c.close(d.handle)
}

// Close releases the directory handle early. It is a no-op after the
// iterator has terminated.
func (d *Dir) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.c.close(d.handle)
}

// ReadDir lists the named directory completely. Every entry present at
// open time is returned exactly once.
func (c *Client) ReadDir(path string) ([]DirEntry, error) {
	d, err := c.OpenDir(path)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	var entries []DirEntry
	for {
		entry, err := d.Next()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, errors.Wrap(err, "readdir "+path)
		}
		entries = append(entries, entry)
	}
}
