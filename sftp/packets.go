package sftp

// Here lies the definition of packets along with their
// encoding.BinaryMarshaler/Unmarshaler implementations. Manually writing
// the marshalling logic is tedious but MUCH more efficient than using
// reflection. All packets encode their own uint32 length prefix
// (https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02#section-3);
// this saves a copy when sending packets.

import (
	"encoding"
	"encoding/binary"
)

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendU64(b []byte, v uint64) []byte {
	return append(b,
		byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
		byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func appendStr(b []byte, s string) []byte {
	b = appendU32(b, uint32(len(s)))
	return append(b, s...)
}

func takeU32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, errShortPacket
	}
	return binary.BigEndian.Uint32(b), b[4:], nil
}

func takeU64(b []byte) (uint64, []byte, error) {
	if len(b) < 8 {
		return 0, nil, errShortPacket
	}
	return binary.BigEndian.Uint64(b), b[8:], nil
}

func takeStr(b []byte) (string, []byte, error) {
	n, b, err := takeU32(b)
	if err != nil {
		return "", nil, err
	}
	if uint32(len(b)) < n {
		return "", nil, errShortPacket
	}
	return string(b[:n]), b[n:], nil
}

// allocPkt allocates a buffer for a packet with dataLen bytes of payload
// beyond the type byte, and writes the length prefix and type.
func allocPkt(pktType fxp, dataLen int) []byte {
	b := make([]byte, 0, 4+1+dataLen)
	b = appendU32(b, uint32(dataLen)+1)
	return append(b, byte(pktType))
}

func marshalIDString(pktType fxp, id uint32, str string) ([]byte, error) {
	b := allocPkt(pktType, 4+(4+len(str)))
	b = appendU32(b, id)
	return appendStr(b, str), nil
}

func unmarshalIDString(b []byte, id *uint32, str *string) (err error) {
	if *id, b, err = takeU32(b); err != nil {
		return
	}
	*str, _, err = takeStr(b)
	return
}

func marshalIDStringAttr(pktType fxp, id uint32, str string, attr *FileAttr) ([]byte, error) {
	b := allocPkt(pktType, 4+(4+len(str))+attr.encodedSize())
	b = appendU32(b, id)
	b = appendStr(b, str)
	return appendAttr(b, attr), nil
}

type ider interface {
	id() uint32
}

// requestPacket is any client-to-server packet carrying a request id.
type requestPacket interface {
	encoding.BinaryMarshaler
	ider
}

// pflag is the SSH_FXP_OPEN flag bitset.
type pflag uint32

const (
	pflagRead   pflag = 0x00000001
	pflagWrite  pflag = 0x00000002
	pflagAppend pflag = 0x00000004
	pflagCreate pflag = 0x00000008
	pflagTrunc  pflag = 0x00000010
	pflagExcl   pflag = 0x00000020
)

// CLIENT -> SERVER PACKETS

type fxpInitPkt struct {
	Version    uint32
	Extensions []ExtensionPair
}

func (p *fxpInitPkt) MarshalBinary() ([]byte, error) {
	dataLen := 4 // uint32 version
	for _, ext := range p.Extensions {
		dataLen += (4 + len(ext.Name)) + (4 + len(ext.Data))
	}
	b := allocPkt(fxpInit, dataLen)
	b = appendU32(b, p.Version)
	for _, ext := range p.Extensions {
		b = appendStr(b, ext.Name)
		b = appendStr(b, ext.Data)
	}
	return b, nil
}

// fxpVersionPkt is ALMOST identical to fxpInitPkt--type byte is different!
type fxpVersionPkt struct {
	Version    uint32
	Extensions []ExtensionPair
}

func (p *fxpVersionPkt) UnmarshalBinary(b []byte) (err error) {
	if p.Version, b, err = takeU32(b); err != nil {
		return
	}
	for len(b) > 0 {
		var ext ExtensionPair
		if ext.Name, b, err = takeStr(b); err != nil {
			return
		}
		if ext.Data, b, err = takeStr(b); err != nil {
			return
		}
		p.Extensions = append(p.Extensions, ext)
	}
	return
}

type fxpOpenPkt struct {
	ID     uint32
	Path   string
	PFlags pflag
	Attr   *FileAttr
}

func (p *fxpOpenPkt) id() uint32 { return p.ID }

func (p *fxpOpenPkt) MarshalBinary() ([]byte, error) {
	b := allocPkt(fxpOpen, 4+(4+len(p.Path))+4+p.Attr.encodedSize())
	b = appendU32(b, p.ID)
	b = appendStr(b, p.Path)
	b = appendU32(b, uint32(p.PFlags))
	return appendAttr(b, p.Attr), nil
}

type fxpClosePkt struct {
	ID     uint32
	Handle string
}

func (p *fxpClosePkt) id() uint32 { return p.ID }

func (p *fxpClosePkt) MarshalBinary() ([]byte, error) {
	return marshalIDString(fxpClose, p.ID, p.Handle)
}

type fxpReadPkt struct {
	ID     uint32
	Handle string
	Offset uint64
	Len    uint32
}

func (p *fxpReadPkt) id() uint32 { return p.ID }

func (p *fxpReadPkt) MarshalBinary() ([]byte, error) {
	b := allocPkt(fxpRead, 4+(4+len(p.Handle))+8+4)
	b = appendU32(b, p.ID)
	b = appendStr(b, p.Handle)
	b = appendU64(b, p.Offset)
	b = appendU32(b, p.Len)
	return b, nil
}

type fxpWritePkt struct {
	ID     uint32
	Handle string
	Offset uint64
	Data   []byte
}

func (p *fxpWritePkt) id() uint32 { return p.ID }

func (p *fxpWritePkt) MarshalBinary() ([]byte, error) {
	b := allocPkt(fxpWrite, 4+(4+len(p.Handle))+8+(4+len(p.Data)))
	b = appendU32(b, p.ID)
	b = appendStr(b, p.Handle)
	b = appendU64(b, p.Offset)
	b = appendU32(b, uint32(len(p.Data)))
	return append(b, p.Data...), nil
}

type fxpRemovePkt struct {
	ID   uint32
	Path string
}

func (p *fxpRemovePkt) id() uint32 { return p.ID }

func (p *fxpRemovePkt) MarshalBinary() ([]byte, error) {
	return marshalIDString(fxpRemove, p.ID, p.Path)
}

type fxpRenamePkt struct {
	ID      uint32
	OldPath string
	NewPath string
}

func (p *fxpRenamePkt) id() uint32 { return p.ID }

func (p *fxpRenamePkt) MarshalBinary() ([]byte, error) {
	b := allocPkt(fxpRename, 4+(4+len(p.OldPath))+(4+len(p.NewPath)))
	b = appendU32(b, p.ID)
	b = appendStr(b, p.OldPath)
	return appendStr(b, p.NewPath), nil
}

type fxpMkdirPkt struct {
	ID   uint32
	Path string
	Attr *FileAttr
}

func (p *fxpMkdirPkt) id() uint32 { return p.ID }

func (p *fxpMkdirPkt) MarshalBinary() ([]byte, error) {
	return marshalIDStringAttr(fxpMkdir, p.ID, p.Path, p.Attr)
}

type fxpRmdirPkt struct {
	ID   uint32
	Path string
}

func (p *fxpRmdirPkt) id() uint32 { return p.ID }

func (p *fxpRmdirPkt) MarshalBinary() ([]byte, error) {
	return marshalIDString(fxpRmdir, p.ID, p.Path)
}

type fxpOpendirPkt struct {
	ID   uint32
	Path string
}

func (p *fxpOpendirPkt) id() uint32 { return p.ID }

func (p *fxpOpendirPkt) MarshalBinary() ([]byte, error) {
	return marshalIDString(fxpOpendir, p.ID, p.Path)
}

type fxpReaddirPkt struct {
	ID     uint32
	Handle string
}

func (p *fxpReaddirPkt) id() uint32 { return p.ID }

func (p *fxpReaddirPkt) MarshalBinary() ([]byte, error) {
	return marshalIDString(fxpReaddir, p.ID, p.Handle)
}

// fxpStatPkt requests a path's attributes, following symlinks.
type fxpStatPkt struct {
	ID   uint32
	Path string
}

func (p *fxpStatPkt) id() uint32 { return p.ID }

func (p *fxpStatPkt) MarshalBinary() ([]byte, error) {
	return marshalIDString(fxpStat, p.ID, p.Path)
}

// fxpLstatPkt requests a path's attributes without following symlinks.
type fxpLstatPkt struct {
	ID   uint32
	Path string
}

func (p *fxpLstatPkt) id() uint32 { return p.ID }

func (p *fxpLstatPkt) MarshalBinary() ([]byte, error) {
	return marshalIDString(fxpLstat, p.ID, p.Path)
}

// fxpFstatPkt requests an OPEN file's attributes by handle.
type fxpFstatPkt struct {
	ID     uint32
	Handle string
}

func (p *fxpFstatPkt) id() uint32 { return p.ID }

func (p *fxpFstatPkt) MarshalBinary() ([]byte, error) {
	return marshalIDString(fxpFstat, p.ID, p.Handle)
}

type fxpSetstatPkt struct {
	ID   uint32
	Path string
	Attr *FileAttr
}

func (p *fxpSetstatPkt) id() uint32 { return p.ID }

func (p *fxpSetstatPkt) MarshalBinary() ([]byte, error) {
	return marshalIDStringAttr(fxpSetstat, p.ID, p.Path, p.Attr)
}

type fxpFsetstatPkt struct {
	ID     uint32
	Handle string
	Attr   *FileAttr
}

func (p *fxpFsetstatPkt) id() uint32 { return p.ID }

func (p *fxpFsetstatPkt) MarshalBinary() ([]byte, error) {
	return marshalIDStringAttr(fxpFsetstat, p.ID, p.Handle, p.Attr)
}

type fxpReadlinkPkt struct {
	ID   uint32
	Path string
}

func (p *fxpReadlinkPkt) id() uint32 { return p.ID }

func (p *fxpReadlinkPkt) MarshalBinary() ([]byte, error) {
	return marshalIDString(fxpReadlink, p.ID, p.Path)
}

// fxpSymlinkPkt is a request to create a symlink.
//
// The OpenSSH creators screwed up when implementing SSH_FXP_SYMLINK and
// reversed the 'LinkPath' and 'TargetPath' fields, and the widespread
// influence of the implementation forced many clients and servers to
// follow suit. This client speaks to OpenSSH-compatible servers, so the
// target is sent first.
type fxpSymlinkPkt struct {
	ID         uint32
	LinkPath   string
	TargetPath string
}

func (p *fxpSymlinkPkt) id() uint32 { return p.ID }

func (p *fxpSymlinkPkt) MarshalBinary() ([]byte, error) {
	b := allocPkt(fxpSymlink, 4+(4+len(p.TargetPath))+(4+len(p.LinkPath)))
	b = appendU32(b, p.ID)
	b = appendStr(b, p.TargetPath)
	return appendStr(b, p.LinkPath), nil
}

type fxpRealpathPkt struct {
	ID   uint32
	Path string
}

func (p *fxpRealpathPkt) id() uint32 { return p.ID }

func (p *fxpRealpathPkt) MarshalBinary() ([]byte, error) {
	return marshalIDString(fxpRealpath, p.ID, p.Path)
}

// fxpPosixRenamePkt is the posix-rename@openssh.com extended request. It
// renames atomically, replacing the target if it exists.
type fxpPosixRenamePkt struct {
	ID      uint32
	OldPath string
	NewPath string
}

const extPosixRename = "posix-rename@openssh.com"

func (p *fxpPosixRenamePkt) id() uint32 { return p.ID }

func (p *fxpPosixRenamePkt) MarshalBinary() ([]byte, error) {
	b := allocPkt(fxpExtended, 4+(4+len(extPosixRename))+(4+len(p.OldPath))+(4+len(p.NewPath)))
	b = appendU32(b, p.ID)
	b = appendStr(b, extPosixRename)
	b = appendStr(b, p.OldPath)
	return appendStr(b, p.NewPath), nil
}

// fxpHardlinkPkt is the hardlink@openssh.com extended request.
type fxpHardlinkPkt struct {
	ID      uint32
	OldPath string
	NewPath string
}

const extHardlink = "hardlink@openssh.com"

func (p *fxpHardlinkPkt) id() uint32 { return p.ID }

func (p *fxpHardlinkPkt) MarshalBinary() ([]byte, error) {
	b := allocPkt(fxpExtended, 4+(4+len(extHardlink))+(4+len(p.OldPath))+(4+len(p.NewPath)))
	b = appendU32(b, p.ID)
	b = appendStr(b, extHardlink)
	b = appendStr(b, p.OldPath)
	return appendStr(b, p.NewPath), nil
}

// fxpStatvfsPkt is the statvfs@openssh.com extended request.
type fxpStatvfsPkt struct {
	ID   uint32
	Path string
}

const extStatvfs = "statvfs@openssh.com"

func (p *fxpStatvfsPkt) id() uint32 { return p.ID }

func (p *fxpStatvfsPkt) MarshalBinary() ([]byte, error) {
	b := allocPkt(fxpExtended, 4+(4+len(extStatvfs))+(4+len(p.Path)))
	b = appendU32(b, p.ID)
	b = appendStr(b, extStatvfs)
	return appendStr(b, p.Path), nil
}

// SERVER -> CLIENT PACKETS

type fxpStatusPkt struct {
	ID uint32
	StatusError
}

func (p *fxpStatusPkt) UnmarshalBinary(b []byte) (err error) {
	if p.ID, b, err = takeU32(b); err != nil {
		return
	}
	if p.Code, b, err = takeU32(b); err != nil {
		return
	}
	// Some servers omit the message and language fields on success.
	if len(b) > 0 {
		if p.msg, b, err = takeStr(b); err != nil {
			return
		}
	}
	if len(b) > 0 {
		if p.lang, _, err = takeStr(b); err != nil {
			return
		}
	}
	return nil
}

type fxpHandlePkt struct {
	ID     uint32
	Handle string // must not exceed 256 bytes, per the protocol draft
}

func (p *fxpHandlePkt) UnmarshalBinary(b []byte) (err error) {
	if p.ID, b, err = takeU32(b); err != nil {
		return
	}
	p.Handle, _, err = takeStr(b)
	return
}

type fxpDataPkt struct {
	ID   uint32
	Data []byte
}

func (p *fxpDataPkt) UnmarshalBinary(b []byte) (err error) {
	if p.ID, b, err = takeU32(b); err != nil {
		return
	}
	var dataLen uint32
	if dataLen, b, err = takeU32(b); err != nil {
		return
	}
	if uint32(len(b)) < dataLen {
		return errShortPacket
	}
	p.Data = b[:dataLen]
	return
}

type fxpNamePkt struct {
	ID    uint32
	Items []DirEntry
}

func (p *fxpNamePkt) UnmarshalBinary(b []byte) (err error) {
	if p.ID, b, err = takeU32(b); err != nil {
		return
	}
	var count uint32
	if count, b, err = takeU32(b); err != nil {
		return
	}
	p.Items = make([]DirEntry, count)
	for i := uint32(0); i < count; i++ {
		if p.Items[i].Filename, b, err = takeStr(b); err != nil {
			return
		}
		if p.Items[i].Longname, b, err = takeStr(b); err != nil {
			return
		}
		if p.Items[i].Attr, b, err = takeAttr(b); err != nil {
			return
		}
	}
	return
}

type fxpAttrPkt struct {
	ID   uint32
	Attr *FileAttr
}

func (p *fxpAttrPkt) UnmarshalBinary(b []byte) (err error) {
	if p.ID, b, err = takeU32(b); err != nil {
		return
	}
	p.Attr, _, err = takeAttr(b)
	return
}

type fxpExtendedReplyPkt struct {
	ID   uint32
	Data []byte
}

func (p *fxpExtendedReplyPkt) UnmarshalBinary(b []byte) (err error) {
	if p.ID, b, err = takeU32(b); err != nil {
		return
	}
	p.Data = b
	return
}

// A StatVFS is the reply to a statvfs@openssh.com request.
type StatVFS struct {
	BlockSize       uint64 // file system block size
	FragmentSize    uint64 // fundamental fs block size
	Blocks          uint64 // number of blocks (unit FragmentSize)
	BlocksFree      uint64 // free blocks in file system
	BlocksAvail     uint64 // free blocks for non-root
	Files           uint64 // total file inodes
	FilesFree       uint64 // free file inodes
	FilesAvail      uint64 // free file inodes for non-root
	FilesystemID    uint64 // file system id
	MountFlags      uint64 // bit mask of mount flag values
	MaxNameLength   uint64 // maximum filename length
}

func (s *StatVFS) unmarshal(b []byte) (err error) {
	for _, field := range []*uint64{
		&s.BlockSize, &s.FragmentSize, &s.Blocks, &s.BlocksFree,
		&s.BlocksAvail, &s.Files, &s.FilesFree, &s.FilesAvail,
		&s.FilesystemID, &s.MountFlags, &s.MaxNameLength,
	} {
		if *field, b, err = takeU64(b); err != nil {
			return
		}
	}
	return nil
}

// setID assigns the request id drawn by the dispatcher immediately before
// marshalling.
func (p *fxpOpenPkt) setID(id uint32)        { p.ID = id }
func (p *fxpClosePkt) setID(id uint32)       { p.ID = id }
func (p *fxpReadPkt) setID(id uint32)        { p.ID = id }
func (p *fxpWritePkt) setID(id uint32)       { p.ID = id }
func (p *fxpRemovePkt) setID(id uint32)      { p.ID = id }
func (p *fxpRenamePkt) setID(id uint32)      { p.ID = id }
func (p *fxpMkdirPkt) setID(id uint32)       { p.ID = id }
func (p *fxpRmdirPkt) setID(id uint32)       { p.ID = id }
func (p *fxpOpendirPkt) setID(id uint32)     { p.ID = id }
func (p *fxpReaddirPkt) setID(id uint32)     { p.ID = id }
func (p *fxpStatPkt) setID(id uint32)        { p.ID = id }
func (p *fxpLstatPkt) setID(id uint32)       { p.ID = id }
func (p *fxpFstatPkt) setID(id uint32)       { p.ID = id }
func (p *fxpSetstatPkt) setID(id uint32)     { p.ID = id }
func (p *fxpFsetstatPkt) setID(id uint32)    { p.ID = id }
func (p *fxpReadlinkPkt) setID(id uint32)    { p.ID = id }
func (p *fxpSymlinkPkt) setID(id uint32)     { p.ID = id }
func (p *fxpRealpathPkt) setID(id uint32)    { p.ID = id }
func (p *fxpPosixRenamePkt) setID(id uint32) { p.ID = id }
func (p *fxpHardlinkPkt) setID(id uint32)    { p.ID = id }
func (p *fxpStatvfsPkt) setID(id uint32)     { p.ID = id }
