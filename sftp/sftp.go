// Package sftp implements the client side of the SSH File Transfer
// Protocol as described in
// https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02
package sftp

import (
	"fmt"

	"github.com/pkg/errors"
)

// ProtocolVersion is the SFTP version implemented by this library. See the
// [spec](http://tools.ietf.org/html/draft-ietf-secsh-filexfer-02) and the
// [OpenSSH extensions](https://github.com/openssh/openssh-portable/blob/master/PROTOCOL)
// for reference.
const ProtocolVersion = 3

const (
	fxpInit          = 1
	fxpVersion       = 2
	fxpOpen          = 3
	fxpClose         = 4
	fxpRead          = 5
	fxpWrite         = 6
	fxpLstat         = 7
	fxpFstat         = 8
	fxpSetstat       = 9
	fxpFsetstat      = 10
	fxpOpendir       = 11
	fxpReaddir       = 12
	fxpRemove        = 13
	fxpMkdir         = 14
	fxpRmdir         = 15
	fxpRealpath      = 16
	fxpStat          = 17
	fxpRename        = 18
	fxpReadlink      = 19
	fxpSymlink       = 20
	fxpStatus        = 101
	fxpHandle        = 102
	fxpData          = 103
	fxpName          = 104
	fxpAttrs         = 105
	fxpExtended      = 200
	fxpExtendedReply = 201
)

// Status codes, draft-ietf-secsh-filexfer-02 section 7.
const (
	fxOK               = 0
	fxEOF              = 1
	fxNoSuchFile       = 2
	fxPermissionDenied = 3
	fxFailure          = 4
	fxBadMessage       = 5
	fxNoConnection     = 6
	fxConnectionLost   = 7
	fxOpUnsupported    = 8
)

// fxp is a packet type.
type fxp uint8

func (f fxp) String() string {
	switch f {
	case fxpInit:
		return "SSH_FXP_INIT"
	case fxpVersion:
		return "SSH_FXP_VERSION"
	case fxpOpen:
		return "SSH_FXP_OPEN"
	case fxpClose:
		return "SSH_FXP_CLOSE"
	case fxpRead:
		return "SSH_FXP_READ"
	case fxpWrite:
		return "SSH_FXP_WRITE"
	case fxpLstat:
		return "SSH_FXP_LSTAT"
	case fxpFstat:
		return "SSH_FXP_FSTAT"
	case fxpSetstat:
		return "SSH_FXP_SETSTAT"
	case fxpFsetstat:
		return "SSH_FXP_FSETSTAT"
	case fxpOpendir:
		return "SSH_FXP_OPENDIR"
	case fxpReaddir:
		return "SSH_FXP_READDIR"
	case fxpRemove:
		return "SSH_FXP_REMOVE"
	case fxpMkdir:
		return "SSH_FXP_MKDIR"
	case fxpRmdir:
		return "SSH_FXP_RMDIR"
	case fxpRealpath:
		return "SSH_FXP_REALPATH"
	case fxpStat:
		return "SSH_FXP_STAT"
	case fxpRename:
		return "SSH_FXP_RENAME"
	case fxpReadlink:
		return "SSH_FXP_READLINK"
	case fxpSymlink:
		return "SSH_FXP_SYMLINK"
	case fxpStatus:
		return "SSH_FXP_STATUS"
	case fxpHandle:
		return "SSH_FXP_HANDLE"
	case fxpData:
		return "SSH_FXP_DATA"
	case fxpName:
		return "SSH_FXP_NAME"
	case fxpAttrs:
		return "SSH_FXP_ATTRS"
	case fxpExtended:
		return "SSH_FXP_EXTENDED"
	case fxpExtendedReply:
		return "SSH_FXP_EXTENDED_REPLY"
	default:
		return "unknown"
	}
}

// A StatusError is returned when an operation fails with an SSH_FXP_STATUS
// response.
type StatusError struct {
	Code      uint32
	msg, lang string
}

func (s *StatusError) Error() string {
	return fmt.Sprintf("sftp: %q (%s)", s.msg, statusString(s.Code))
}

func statusString(code uint32) string {
	switch code {
	case fxOK:
		return "SSH_FX_OK"
	case fxEOF:
		return "SSH_FX_EOF"
	case fxNoSuchFile:
		return "SSH_FX_NO_SUCH_FILE"
	case fxPermissionDenied:
		return "SSH_FX_PERMISSION_DENIED"
	case fxFailure:
		return "SSH_FX_FAILURE"
	case fxBadMessage:
		return "SSH_FX_BAD_MESSAGE"
	case fxNoConnection:
		return "SSH_FX_NO_CONNECTION"
	case fxConnectionLost:
		return "SSH_FX_CONNECTION_LOST"
	case fxOpUnsupported:
		return "SSH_FX_OP_UNSUPPORTED"
	}
	return fmt.Sprintf("SSH_FX_%d", code)
}

// IsNotExist reports whether err signals a missing remote path.
func IsNotExist(err error) bool {
	se, ok := errors.Cause(err).(*StatusError)
	return ok && se.Code == fxNoSuchFile
}

// IsPermission reports whether err signals a remote permission failure.
func IsPermission(err error) bool {
	se, ok := errors.Cause(err).(*StatusError)
	return ok && se.Code == fxPermissionDenied
}

var (
	// ErrConnectionLost is delivered to every pending request when the
	// underlying channel closes.
	ErrConnectionLost = errors.New("sftp: connection lost")

	// ErrTimeout fails an individual request whose deadline expired; the
	// session stays alive.
	ErrTimeout = errors.New("sftp: request timed out")

	// ErrUnsupported is returned when the server does not advertise an
	// extension required for the requested operation.
	ErrUnsupported = errors.New("sftp: operation unsupported by server")

	// ErrInvalidArgument is returned for locally rejected arguments, such
	// as OpenExclusive without OpenCreate.
	ErrInvalidArgument = errors.New("sftp: invalid argument")

	errShortPacket = errors.New("sftp: packet too short")
)

type unexpectedPacketErr struct {
	want, got uint8
}

func (u *unexpectedPacketErr) Error() string {
	return fmt.Sprintf("sftp: unexpected packet: want %v, got %v", fxp(u.want), fxp(u.got))
}

type unexpectedIDErr struct{ want, got uint32 }

func (u *unexpectedIDErr) Error() string {
	return fmt.Sprintf("sftp: unexpected id: want %v, got %v", u.want, u.got)
}

type unexpectedVersionErr struct{ want, got uint32 }

func (u *unexpectedVersionErr) Error() string {
	return fmt.Sprintf("sftp: unexpected server version: want %v, got %v", u.want, u.got)
}

func unimplementedSeekWhence(whence int) error {
	return errors.Errorf("sftp: unimplemented seek whence %v", whence)
}
