package sftp

// File attribute encoding, draft-ietf-secsh-filexfer-02 section 5. The
// attribute block is a flag bitset followed by the fields whose bits are
// set, in ascending flag order, with extended pairs at the end.

import (
	"io/fs"
	"os"
	"time"
)

// Attribute flag bits.
const (
	attrFlagSize        = 0x00000001
	attrFlagUIDGID      = 0x00000002
	attrFlagPermissions = 0x00000004
	attrFlagAcModTime   = 0x00000008
	attrFlagExtended    = 0x80000000

	attrKnownFlags = attrFlagSize | attrFlagUIDGID | attrFlagPermissions |
		attrFlagAcModTime | attrFlagExtended
)

// ExtensionPair is a name/data tuple carried in extended attributes and in
// the version handshake.
type ExtensionPair struct {
	Name string
	Data string
}

// FileAttr carries the sparse attribute set of a remote file. Only fields
// whose flag bit is set are meaningful; the rest hold zero values. Flag
// bits unknown to this implementation are preserved together with their
// undecodable payload so a decode/re-encode round trip is the identity.
type FileAttr struct {
	Flags    uint32
	Size     uint64
	UID, GID uint32
	Perms    uint32
	AcTime   uint32
	ModTime  uint32
	Extended []ExtensionPair

	// unknown holds the raw bytes following the known fields when Flags
	// carries bits this implementation cannot decode.
	unknown []byte
}

// encodedSize returns the number of bytes appendAttr will emit. A nil attr
// encodes as a zero flag word.
func (a *FileAttr) encodedSize() int {
	size := 4 // uint32 flags
	if a == nil {
		return size
	}
	if a.Flags&attrFlagSize != 0 {
		size += 8
	}
	if a.Flags&attrFlagUIDGID != 0 {
		size += 8
	}
	if a.Flags&attrFlagPermissions != 0 {
		size += 4
	}
	if a.Flags&attrFlagAcModTime != 0 {
		size += 8
	}
	if a.Flags&attrFlagExtended != 0 {
		size += 4
		for _, ext := range a.Extended {
			size += 4 + len(ext.Name) + 4 + len(ext.Data)
		}
	}
	return size + len(a.unknown)
}

func appendAttr(b []byte, a *FileAttr) []byte {
	if a == nil {
		return appendU32(b, 0)
	}
	b = appendU32(b, a.Flags)
	if a.Flags&attrFlagSize != 0 {
		b = appendU64(b, a.Size)
	}
	if a.Flags&attrFlagUIDGID != 0 {
		b = appendU32(b, a.UID)
		b = appendU32(b, a.GID)
	}
	if a.Flags&attrFlagPermissions != 0 {
		b = appendU32(b, a.Perms)
	}
	if a.Flags&attrFlagAcModTime != 0 {
		b = appendU32(b, a.AcTime)
		b = appendU32(b, a.ModTime)
	}
	if a.Flags&attrFlagExtended != 0 {
		b = appendU32(b, uint32(len(a.Extended)))
		for _, ext := range a.Extended {
			b = appendStr(b, ext.Name)
			b = appendStr(b, ext.Data)
		}
	}
	return append(b, a.unknown...)
}

// takeAttr decodes an attribute block. If the flag word carries unknown
// bits, the remaining undecodable bytes are captured verbatim; this is
// only well defined when the attribute block ends the packet, which is
// where every v3 response places it.
func takeAttr(b []byte) (*FileAttr, []byte, error) {
	a := new(FileAttr)
	var err error
	if a.Flags, b, err = takeU32(b); err != nil {
		return nil, nil, err
	}
	if a.Flags&attrFlagSize != 0 {
		if a.Size, b, err = takeU64(b); err != nil {
			return nil, nil, err
		}
	}
	if a.Flags&attrFlagUIDGID != 0 {
		if a.UID, b, err = takeU32(b); err != nil {
			return nil, nil, err
		}
		if a.GID, b, err = takeU32(b); err != nil {
			return nil, nil, err
		}
	}
	if a.Flags&attrFlagPermissions != 0 {
		if a.Perms, b, err = takeU32(b); err != nil {
			return nil, nil, err
		}
	}
	if a.Flags&attrFlagAcModTime != 0 {
		if a.AcTime, b, err = takeU32(b); err != nil {
			return nil, nil, err
		}
		if a.ModTime, b, err = takeU32(b); err != nil {
			return nil, nil, err
		}
	}
	if a.Flags&attrFlagExtended != 0 {
		var count uint32
		if count, b, err = takeU32(b); err != nil {
			return nil, nil, err
		}
		a.Extended = make([]ExtensionPair, count)
		for i := uint32(0); i < count; i++ {
			if a.Extended[i].Name, b, err = takeStr(b); err != nil {
				return nil, nil, err
			}
			if a.Extended[i].Data, b, err = takeStr(b); err != nil {
				return nil, nil, err
			}
		}
	}
	if a.Flags&^attrKnownFlags != 0 && len(b) > 0 {
		a.unknown = b
		b = nil
	}
	return a, b, nil
}

// SizeValid reports whether the size field was transmitted.
func (a *FileAttr) SizeValid() bool { return a.Flags&attrFlagSize != 0 }

// PermsValid reports whether the permissions field was transmitted.
func (a *FileAttr) PermsValid() bool { return a.Flags&attrFlagPermissions != 0 }

// SetSize records a size to transmit.
func (a *FileAttr) SetSize(size uint64) *FileAttr {
	a.Flags |= attrFlagSize
	a.Size = size
	return a
}

// SetPerms records permissions to transmit.
func (a *FileAttr) SetPerms(perms uint32) *FileAttr {
	a.Flags |= attrFlagPermissions
	a.Perms = perms
	return a
}

// SetOwner records a numeric owner to transmit.
func (a *FileAttr) SetOwner(uid, gid uint32) *FileAttr {
	a.Flags |= attrFlagUIDGID
	a.UID = uid
	a.GID = gid
	return a
}

// SetTimes records access and modification times to transmit. Each value
// is computed from its own argument.
func (a *FileAttr) SetTimes(atime, mtime time.Time) *FileAttr {
	a.Flags |= attrFlagAcModTime
	a.AcTime = uint32(atime.Unix())
	a.ModTime = uint32(mtime.Unix())
	return a
}

// FileMode translates the POSIX permission bits into an os.FileMode.
func (a *FileAttr) FileMode() os.FileMode {
	return toFileMode(a.Perms)
}

// POSIX file type bits within the permissions word.
const (
	s_IFMT   = 0xF000
	s_IFSOCK = 0xC000
	s_IFLNK  = 0xA000
	s_IFREG  = 0x8000
	s_IFBLK  = 0x6000
	s_IFDIR  = 0x4000
	s_IFCHR  = 0x2000
	s_IFIFO  = 0x1000
)

func toFileMode(perms uint32) os.FileMode {
	mode := os.FileMode(perms & 0777)
	switch perms & s_IFMT {
	case s_IFSOCK:
		mode |= fs.ModeSocket
	case s_IFLNK:
		mode |= fs.ModeSymlink
	case s_IFBLK:
		mode |= fs.ModeDevice
	case s_IFDIR:
		mode |= fs.ModeDir
	case s_IFCHR:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case s_IFIFO:
		mode |= fs.ModeNamedPipe
	}
	if perms&0o4000 != 0 {
		mode |= fs.ModeSetuid
	}
	if perms&0o2000 != 0 {
		mode |= fs.ModeSetgid
	}
	if perms&0o1000 != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

// A DirEntry is one name returned by a directory listing. Longname is the
// server's ls -l style presentation and must not be parsed.
type DirEntry struct {
	Filename string
	Longname string
	Attr     *FileAttr
}

// fileInfo adapts FileAttr to os.FileInfo for convenience APIs.
type fileInfo struct {
	name string
	attr *FileAttr
}

func (fi *fileInfo) Name() string       { return fi.name }
func (fi *fileInfo) Size() int64        { return int64(fi.attr.Size) }
func (fi *fileInfo) Mode() os.FileMode  { return fi.attr.FileMode() }
func (fi *fileInfo) ModTime() time.Time { return time.Unix(int64(fi.attr.ModTime), 0) }
func (fi *fileInfo) IsDir() bool        { return fi.Mode().IsDir() }
func (fi *fileInfo) Sys() interface{}   { return fi.attr }
