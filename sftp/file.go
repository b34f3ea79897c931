package sftp

import (
	"io"
	"sync"

	"github.com/pkg/errors"
)

// File is a remote file open on the server, identified by a server-issued
// handle. It implements io.Reader, io.Writer, io.Seeker, io.ReaderAt,
// io.WriterAt and io.Closer. The sequential Read/Write methods share one
// offset and serialise themselves; ReadAt/WriteAt may be used
// concurrently.
type File struct {
	c      *Client
	path   string
	handle string

	mu     sync.Mutex
	offset uint64
	closed bool
}

// Name returns the path used to open the file.
func (f *File) Name() string { return f.path }

// Close releases the server handle. The handle is invalid afterwards.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.c.close(f.handle)
}

// Read reads up to len(b) bytes at the current offset. Short server
// responses are retried at the advanced offset, so a short count is only
// returned together with io.EOF.
func (f *File) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.readAt(b, f.offset)
	f.offset += uint64(n)
	return n, err
}

// ReadAt reads up to len(b) bytes starting at offset off. It does not
// affect the sequential offset.
func (f *File) ReadAt(b []byte, off int64) (int, error) {
	return f.readAt(b, uint64(off))
}

func (f *File) readAt(b []byte, off uint64) (n int, err error) {
	for n < len(b) {
		chunk := len(b) - n
		if chunk > f.c.readChunk {
			chunk = f.c.readChunk
		}
		var m int
		m, err = f.c.readAt(f.handle, off+uint64(n), uint32(chunk), b[n:n+chunk])
		n += m
		if err != nil {
			if err == io.EOF && n > 0 && n < len(b) {
				// partial fill then end of file
				return n, io.EOF
			}
			return n, err
		}
		if m == 0 {
			return n, io.EOF
		}
	}
	return n, nil
}

// Write writes len(b) bytes at the current offset. Data is cut into
// chunks of the configured write size; a failed chunk is reported with
// the count already applied at the advanced offset.
func (f *File) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.writeAt(b, f.offset)
	f.offset += uint64(n)
	return n, err
}

// WriteAt writes len(b) bytes starting at offset off. It does not affect
// the sequential offset.
func (f *File) WriteAt(b []byte, off int64) (int, error) {
	return f.writeAt(b, uint64(off))
}

func (f *File) writeAt(b []byte, off uint64) (n int, err error) {
	for n < len(b) {
		chunk := len(b) - n
		if chunk > f.c.writeChunk {
			chunk = f.c.writeChunk
		}
		if err = f.c.writeAt(f.handle, off+uint64(n), b[n:n+chunk]); err != nil {
			return n, errors.Wrap(err, "write "+f.path)
		}
		n += chunk
	}
	return n, nil
}

// Seek sets the offset for the next Read or Write. Seeking relative to
// the end issues an FSTAT to learn the size.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case io.SeekStart:
		f.offset = uint64(offset)
	case io.SeekCurrent:
		f.offset = uint64(int64(f.offset) + offset)
	case io.SeekEnd:
		attr, err := f.stat()
		if err != nil {
			return int64(f.offset), err
		}
		f.offset = uint64(int64(attr.Size) + offset)
	default:
		return int64(f.offset), unimplementedSeekWhence(whence)
	}
	return int64(f.offset), nil
}

// Stat returns the file's attributes via its handle.
func (f *File) Stat() (*FileAttr, error) {
	return f.stat()
}

func (f *File) stat() (*FileAttr, error) {
	typ, data, err := f.c.sendRequest(&fxpFstatPkt{Handle: f.handle})
	if err != nil {
		return nil, errors.Wrap(err, "fstat "+f.path)
	}
	attr, err := f.c.expectAttr(typ, data)
	return attr, errors.Wrap(err, "fstat "+f.path)
}

// Setstat applies attributes to the open file via its handle.
func (f *File) Setstat(attr *FileAttr) error {
	return errors.Wrap(
		f.c.expectStatus(f.c.sendRequest(&fxpFsetstatPkt{Handle: f.handle, Attr: attr})),
		"fsetstat "+f.path)
}

// Truncate changes the size of the open file.
func (f *File) Truncate(size uint64) error {
	return f.Setstat(new(FileAttr).SetSize(size))
}

// Chmod changes the permissions of the open file.
func (f *File) Chmod(perms uint32) error {
	return f.Setstat(new(FileAttr).SetPerms(perms))
}

// WriteTo copies the remainder of the file into w, reading in configured
// chunks. It implements io.WriterTo.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	var total int64
	buf := make([]byte, f.c.readChunk)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			total += int64(m)
			if werr != nil {
				return total, werr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// ReadFrom copies data from r into the file at the current offset. It
// implements io.ReaderFrom.
func (f *File) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	buf := make([]byte, f.c.writeChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			m, werr := f.Write(buf[:n])
			total += int64(m)
			if werr != nil {
				return total, werr
			}
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}
