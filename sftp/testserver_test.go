package sftp

// An in-process SFTP v3 server backed by a map, used to exercise the
// client against real wire traffic.

import (
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
)

type memFile struct {
	data    []byte
	mode    uint32
	isDir   bool
	linkTgt string
}

type testServer struct {
	mu      sync.Mutex
	files   map[string]*memFile
	handles map[string]*serverHandle
	nextFd  int

	// extensions advertised during the version handshake.
	extensions []ExtensionPair

	// stallPaths are paths whose requests are never answered.
	stallPaths map[string]bool

	// readdirBatch bounds entries per READDIR response.
	readdirBatch int
}

type serverHandle struct {
	path    string
	isDir   bool
	pending []DirEntry // remaining directory entries
	served  bool
}

func newTestServer() *testServer {
	return &testServer{
		files: map[string]*memFile{
			"/": {isDir: true, mode: 0o755 | s_IFDIR},
		},
		handles:      make(map[string]*serverHandle),
		stallPaths:   make(map[string]bool),
		readdirBatch: 100,
		extensions: []ExtensionPair{
			{Name: extPosixRename, Data: "1"},
			{Name: extHardlink, Data: "1"},
			{Name: extStatvfs, Data: "2"},
		},
	}
}

// serve speaks the protocol over r/w until r fails.
func (s *testServer) serve(r io.Reader, w io.Writer) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return
	}
	if buf[0] != fxpInit {
		return
	}
	version := allocPkt(fxpVersion, 4+extsLen(s.extensions))
	version = appendU32(version, ProtocolVersion)
	for _, ext := range s.extensions {
		version = appendStr(version, ext.Name)
		version = appendStr(version, ext.Data)
	}
	if _, err := w.Write(version); err != nil {
		return
	}

	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		resp := s.handle(buf[0], buf[1:])
		if resp == nil {
			continue // stalled on purpose
		}
		if _, err := w.Write(resp); err != nil {
			return
		}
	}
}

func extsLen(exts []ExtensionPair) int {
	n := 0
	for _, e := range exts {
		n += 4 + len(e.Name) + 4 + len(e.Data)
	}
	return n
}

func statusPkt(id, code uint32, msg string) []byte {
	b := allocPkt(fxpStatus, 4+4+(4+len(msg))+4)
	b = appendU32(b, id)
	b = appendU32(b, code)
	b = appendStr(b, msg)
	return appendStr(b, "en")
}

func handlePkt(id uint32, handle string) []byte {
	b := allocPkt(fxpHandle, 4+4+len(handle))
	b = appendU32(b, id)
	return appendStr(b, handle)
}

func attrPkt(id uint32, attr *FileAttr) []byte {
	b := allocPkt(fxpAttrs, 4+attr.encodedSize())
	b = appendU32(b, id)
	return appendAttr(b, attr)
}

func namePkt(id uint32, entries []DirEntry) []byte {
	dataLen := 4 + 4
	for _, e := range entries {
		dataLen += 4 + len(e.Filename) + 4 + len(e.Longname) + e.Attr.encodedSize()
	}
	b := allocPkt(fxpName, dataLen)
	b = appendU32(b, id)
	b = appendU32(b, uint32(len(entries)))
	for _, e := range entries {
		b = appendStr(b, e.Filename)
		b = appendStr(b, e.Longname)
		b = appendAttr(b, e.Attr)
	}
	return b
}

func (f *memFile) attr() *FileAttr {
	a := new(FileAttr)
	a.SetSize(uint64(len(f.data)))
	mode := f.mode
	if mode == 0 {
		mode = 0o644 | s_IFREG
	}
	a.SetPerms(mode)
	return a
}

func (s *testServer) handle(typ uint8, payload []byte) []byte {
	id, rest, err := takeU32(payload)
	if err != nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fail := func(code uint32, msg string) []byte { return statusPkt(id, code, msg) }
	ok := func() []byte { return statusPkt(id, fxOK, "") }

	switch typ {
	case fxpOpen:
		p, rest, _ := takeStr(rest)
		if s.stallPaths[p] {
			return nil
		}
		pflags, _, _ := takeU32(rest)
		f, exists := s.files[p]
		if exists && f.isDir {
			return fail(fxFailure, "is a directory")
		}
		if !exists {
			if pflags&uint32(pflagCreate) == 0 {
				return fail(fxNoSuchFile, "no such file")
			}
			f = &memFile{}
			s.files[p] = f
		} else if pflags&uint32(pflagExcl) != 0 {
			return fail(fxFailure, "file exists")
		}
		if pflags&uint32(pflagTrunc) != 0 {
			f.data = nil
		}
		return handlePkt(id, s.newHandle(p, false, nil))
	case fxpClose:
		h, _, _ := takeStr(rest)
		if _, found := s.handles[h]; !found {
			return fail(fxFailure, "invalid handle")
		}
		delete(s.handles, h)
		return ok()
	case fxpRead:
		h, rest, _ := takeStr(rest)
		offset, rest, _ := takeU64(rest)
		count, _, _ := takeU32(rest)
		sh, found := s.handles[h]
		if !found || sh.isDir {
			return fail(fxFailure, "invalid handle")
		}
		if s.stallPaths[sh.path] {
			return nil
		}
		f := s.files[sh.path]
		if offset >= uint64(len(f.data)) {
			return fail(fxEOF, "eof")
		}
		end := offset + uint64(count)
		if end > uint64(len(f.data)) {
			end = uint64(len(f.data))
		}
		data := f.data[offset:end]
		b := allocPkt(fxpData, 4+4+len(data))
		b = appendU32(b, id)
		b = appendU32(b, uint32(len(data)))
		return append(b, data...)
	case fxpWrite:
		h, rest, _ := takeStr(rest)
		offset, rest, _ := takeU64(rest)
		n, rest, _ := takeU32(rest)
		if uint32(len(rest)) < n {
			return fail(fxBadMessage, "short write payload")
		}
		sh, found := s.handles[h]
		if !found || sh.isDir {
			return fail(fxFailure, "invalid handle")
		}
		f := s.files[sh.path]
		need := offset + uint64(n)
		if uint64(len(f.data)) < need {
			grown := make([]byte, need)
			copy(grown, f.data)
			f.data = grown
		}
		copy(f.data[offset:], rest[:n])
		return ok()
	case fxpRemove:
		p, _, _ := takeStr(rest)
		f, found := s.files[p]
		if !found {
			return fail(fxNoSuchFile, "no such file")
		}
		if f.isDir {
			return fail(fxFailure, "is a directory")
		}
		delete(s.files, p)
		return ok()
	case fxpMkdir:
		p, _, _ := takeStr(rest)
		if _, found := s.files[p]; found {
			return fail(fxFailure, "exists")
		}
		s.files[p] = &memFile{isDir: true, mode: 0o755 | s_IFDIR}
		return ok()
	case fxpRmdir:
		p, _, _ := takeStr(rest)
		f, found := s.files[p]
		if !found {
			return fail(fxNoSuchFile, "no such file")
		}
		if !f.isDir {
			return fail(fxFailure, "not a directory")
		}
		delete(s.files, p)
		return ok()
	case fxpRename:
		oldp, rest, _ := takeStr(rest)
		newp, _, _ := takeStr(rest)
		f, found := s.files[oldp]
		if !found {
			return fail(fxNoSuchFile, "no such file")
		}
		if _, found := s.files[newp]; found {
			return fail(fxFailure, "target exists")
		}
		delete(s.files, oldp)
		s.files[newp] = f
		return ok()
	case fxpStat, fxpLstat:
		p, _, _ := takeStr(rest)
		f, found := s.files[p]
		if !found {
			return fail(fxNoSuchFile, "no such file")
		}
		if typ == fxpStat && f.linkTgt != "" {
			tgt, found := s.files[f.linkTgt]
			if !found {
				return fail(fxNoSuchFile, "dangling link")
			}
			f = tgt
		}
		return attrPkt(id, f.attr())
	case fxpFstat:
		h, _, _ := takeStr(rest)
		sh, found := s.handles[h]
		if !found {
			return fail(fxFailure, "invalid handle")
		}
		return attrPkt(id, s.files[sh.path].attr())
	case fxpSetstat, fxpFsetstat:
		target, rest, _ := takeStr(rest)
		var f *memFile
		if typ == fxpSetstat {
			f = s.files[target]
		} else if sh, found := s.handles[target]; found {
			f = s.files[sh.path]
		}
		if f == nil {
			return fail(fxNoSuchFile, "no such file")
		}
		attr, _, err := takeAttr(rest)
		if err != nil {
			return fail(fxBadMessage, "bad attrs")
		}
		if attr.SizeValid() {
			if uint64(len(f.data)) > attr.Size {
				f.data = f.data[:attr.Size]
			}
		}
		if attr.PermsValid() {
			f.mode = attr.Perms
		}
		return ok()
	case fxpOpendir:
		p, _, _ := takeStr(rest)
		f, found := s.files[p]
		if !found || !f.isDir {
			return fail(fxNoSuchFile, "no such directory")
		}
		var names []string
		prefix := strings.TrimSuffix(p, "/") + "/"
		for name := range s.files {
			if name != p && strings.HasPrefix(name, prefix) && !strings.Contains(name[len(prefix):], "/") {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		entries := make([]DirEntry, 0, len(names))
		for _, name := range names {
			entries = append(entries, DirEntry{
				Filename: path.Base(name),
				Longname: "-rw-r--r--   1 smx  smx  0 Jan  1 00:00 " + path.Base(name),
				Attr:     s.files[name].attr(),
			})
		}
		return handlePkt(id, s.newHandle(p, true, entries))
	case fxpReaddir:
		h, _, _ := takeStr(rest)
		sh, found := s.handles[h]
		if !found || !sh.isDir {
			return fail(fxFailure, "invalid handle")
		}
		if len(sh.pending) == 0 {
			return fail(fxEOF, "eof")
		}
		n := s.readdirBatch
		if n > len(sh.pending) {
			n = len(sh.pending)
		}
		batch := sh.pending[:n]
		sh.pending = sh.pending[n:]
		return namePkt(id, batch)
	case fxpRealpath:
		p, _, _ := takeStr(rest)
		clean := path.Clean("/" + p)
		return namePkt(id, []DirEntry{{Filename: clean, Longname: clean, Attr: new(FileAttr)}})
	case fxpReadlink:
		p, _, _ := takeStr(rest)
		f, found := s.files[p]
		if !found || f.linkTgt == "" {
			return fail(fxNoSuchFile, "not a link")
		}
		return namePkt(id, []DirEntry{{Filename: f.linkTgt, Longname: f.linkTgt, Attr: new(FileAttr)}})
	case fxpSymlink:
		// OpenSSH argument order: target first, then link path.
		tgt, rest, _ := takeStr(rest)
		link, _, _ := takeStr(rest)
		if _, found := s.files[link]; found {
			return fail(fxFailure, "exists")
		}
		s.files[link] = &memFile{linkTgt: tgt, mode: 0o777 | s_IFLNK}
		return ok()
	case fxpExtended:
		name, rest, _ := takeStr(rest)
		switch name {
		case extPosixRename:
			oldp, rest, _ := takeStr(rest)
			newp, _, _ := takeStr(rest)
			f, found := s.files[oldp]
			if !found {
				return fail(fxNoSuchFile, "no such file")
			}
			delete(s.files, oldp)
			s.files[newp] = f
			return ok()
		case extHardlink:
			oldp, rest, _ := takeStr(rest)
			newp, _, _ := takeStr(rest)
			f, found := s.files[oldp]
			if !found {
				return fail(fxNoSuchFile, "no such file")
			}
			s.files[newp] = f
			return ok()
		case extStatvfs:
			st := StatVFS{BlockSize: 4096, FragmentSize: 4096, Blocks: 1000, BlocksFree: 500, BlocksAvail: 400, Files: 100, FilesFree: 50, FilesAvail: 40, FilesystemID: 42, MountFlags: 0, MaxNameLength: 255}
			b := allocPkt(fxpExtendedReply, 4+11*8)
			b = appendU32(b, id)
			for _, v := range []uint64{st.BlockSize, st.FragmentSize, st.Blocks, st.BlocksFree, st.BlocksAvail, st.Files, st.FilesFree, st.FilesAvail, st.FilesystemID, st.MountFlags, st.MaxNameLength} {
				b = appendU64(b, v)
			}
			return b
		}
		return fail(fxOpUnsupported, "unsupported extension")
	}
	return fail(fxOpUnsupported, "unsupported request")
}

func (s *testServer) newHandle(p string, isDir bool, entries []DirEntry) string {
	s.nextFd++
	h := fmt.Sprintf("fd-%d", s.nextFd)
	s.handles[h] = &serverHandle{path: p, isDir: isDir, pending: entries}
	return h
}

// openHandleCount reports the live server-side handles, for leak checks.
func (s *testServer) openHandleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}
