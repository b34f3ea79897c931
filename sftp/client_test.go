package sftp

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClient wires a Client to an in-process server over pipes.
func testClient(t *testing.T, opts ...ClientOption) (*Client, *testServer) {
	t.Helper()
	srv := newTestServer()
	return startClient(t, srv, opts...), srv
}

func startClient(t *testing.T, srv *testServer, opts ...ClientOption) *Client {
	t.Helper()
	c2s_r, c2s_w := io.Pipe()
	s2c_r, s2c_w := io.Pipe()
	go func() {
		srv.serve(c2s_r, s2c_w)
		s2c_w.Close()
	}()
	client, err := NewClientPipe(s2c_r, c2s_w, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		c2s_w.Close()
	})
	return client
}

func TestVersionHandshake(t *testing.T) {
	client, _ := testClient(t)
	assert.Equal(t, uint32(ProtocolVersion), client.Version())
	_, ok := client.HasExtension(extPosixRename)
	assert.True(t, ok)
	_, ok = client.HasExtension("nonexistent@example.com")
	assert.False(t, ok)
}

// Writing a 1 MiB file and reading it back must be the identity; Stat
// must report the exact size.
func TestPutGetRoundTrip(t *testing.T) {
	client, _ := testClient(t)

	want := make([]byte, 1<<20)
	rnd := rand.New(rand.NewSource(1))
	rnd.Read(want)

	f, err := client.Create("/blob")
	require.NoError(t, err)
	n, err := f.Write(want)
	require.NoError(t, err)
	require.Equal(t, len(want), n)
	require.NoError(t, f.Close())

	attr, err := client.Stat("/blob")
	require.NoError(t, err)
	assert.True(t, attr.SizeValid())
	assert.Equal(t, uint64(1048576), attr.Size)

	g, err := client.Open("/blob")
	require.NoError(t, err)
	var got bytes.Buffer
	_, err = g.WriteTo(&got)
	require.NoError(t, err)
	require.NoError(t, g.Close())

	assert.True(t, bytes.Equal(want, got.Bytes()), "round trip corrupted data")
}

func TestReadSpansChunks(t *testing.T) {
	client, _ := testClient(t, ReadChunk(128), WriteChunk(128))

	want := make([]byte, 5000)
	rand.New(rand.NewSource(2)).Read(want)

	f, err := client.Create("/chunky")
	require.NoError(t, err)
	_, err = f.Write(want)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	g, err := client.Open("/chunky")
	require.NoError(t, err)
	defer g.Close()

	// A single Read call must loop over the 128 byte wire chunks rather
	// than return short.
	got := make([]byte, len(want))
	n, err := g.Read(got)
	require.NoError(t, err)
	assert.Equal(t, len(want), n)
	assert.Equal(t, want, got)

	// At end of file the adapter reports EOF.
	_, err = g.Read(got)
	assert.Equal(t, io.EOF, err)
}

func TestSeekEnd(t *testing.T) {
	client, _ := testClient(t)

	f, err := client.Create("/seek")
	require.NoError(t, err)
	_, err = f.Write([]byte("0123456789"))
	require.NoError(t, err)

	pos, err := f.Seek(-4, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(6), pos)

	tail := make([]byte, 4)
	_, err = f.Read(tail)
	require.NoError(t, err)
	assert.Equal(t, "6789", string(tail))
	require.NoError(t, f.Close())
}

// A directory of 2500 entries must be returned completely, across
// multiple READDIR batches, with no duplicates or omissions.
func TestReadDirLargeDirectory(t *testing.T) {
	client, srv := testClient(t)

	require.NoError(t, client.Mkdir("/big"))
	srv.mu.Lock()
	for i := 0; i < 2500; i++ {
		srv.files[fmt.Sprintf("/big/file-%04d", i)] = &memFile{}
	}
	srv.mu.Unlock()

	entries, err := client.ReadDir("/big")
	require.NoError(t, err)
	require.Len(t, entries, 2500)

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		assert.False(t, seen[e.Filename], "duplicate entry %s", e.Filename)
		seen[e.Filename] = true
	}
	for i := 0; i < 2500; i++ {
		name := fmt.Sprintf("file-%04d", i)
		assert.True(t, seen[name], "missing entry %s", name)
	}

	// The iterator closed its handle on EOF.
	assert.Equal(t, 0, srv.openHandleCount())
}

func TestDirIteratorLazyAndFinite(t *testing.T) {
	client, srv := testClient(t)
	require.NoError(t, client.Mkdir("/d"))
	srv.mu.Lock()
	srv.files["/d/one"] = &memFile{}
	srv.files["/d/two"] = &memFile{}
	srv.mu.Unlock()

	d, err := client.OpenDir("/d")
	require.NoError(t, err)
	var names []string
	for {
		e, err := d.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, e.Filename)
	}
	assert.Equal(t, []string{"one", "two"}, names)
	// iterator is not restartable
	_, err = d.Next()
	assert.Equal(t, io.EOF, err)
}

func TestOpenFlagsValidation(t *testing.T) {
	client, _ := testClient(t)

	_, err := client.OpenFile("/x", OpenWrite|OpenExclusive)
	require.Error(t, err)
	assert.Equal(t, ErrInvalidArgument, errors.Cause(err))

	// Exclusive with create is forwarded to the server.
	f, err := client.OpenFile("/x", OpenWrite|OpenCreate|OpenExclusive)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = client.OpenFile("/x", OpenWrite|OpenCreate|OpenExclusive)
	require.Error(t, err)
}

func TestStatusErrors(t *testing.T) {
	client, _ := testClient(t)

	_, err := client.Open("/missing")
	require.Error(t, err)
	assert.True(t, IsNotExist(err), "want NO_SUCH_FILE, got %v", err)

	err = client.Remove("/missing")
	require.Error(t, err)
	assert.True(t, IsNotExist(err))
}

func TestRenameModes(t *testing.T) {
	client, _ := testClient(t)

	mk := func(name string) {
		f, err := client.Create(name)
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	mk("/a")
	require.NoError(t, client.Rename("/a", "/b"))

	// plain rename refuses to clobber
	mk("/a")
	require.Error(t, client.Rename("/a", "/b"))

	// posix rename replaces the target
	require.NoError(t, client.RenameWithMode("/a", "/b", RenameOverwrite))
	require.NoError(t, client.PosixRename("/b", "/c"))

	_, err := client.Stat("/c")
	require.NoError(t, err)
}

// A server that does not advertise posix-rename must yield
// ErrUnsupported for the modes that need it.
func TestRenameUnsupported(t *testing.T) {
	srv := newTestServer()
	srv.extensions = nil
	client := startClient(t, srv)

	f, err := client.Create("/a")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	err = client.RenameWithMode("/a", "/b", RenameAtomic)
	require.Error(t, err)
	assert.Equal(t, ErrUnsupported, errors.Cause(err))

	err = client.Link("/a", "/l")
	require.Error(t, err)
	assert.Equal(t, ErrUnsupported, errors.Cause(err))

	_, err = client.StatVFS("/")
	require.Error(t, err)
	assert.Equal(t, ErrUnsupported, errors.Cause(err))
}

func TestSymlinkReadlinkRealpath(t *testing.T) {
	client, _ := testClient(t)

	f, err := client.Create("/target")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, client.Symlink("/target", "/link"))
	tgt, err := client.ReadLink("/link")
	require.NoError(t, err)
	assert.Equal(t, "/target", tgt)

	clean, err := client.RealPath("/d/../target")
	require.NoError(t, err)
	assert.Equal(t, "/target", clean)
}

func TestHardlink(t *testing.T) {
	client, _ := testClient(t)

	f, err := client.Create("/orig")
	require.NoError(t, err)
	_, err = f.Write([]byte("shared"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, client.Link("/orig", "/alias"))
	attr, err := client.Stat("/alias")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), attr.Size)
}

func TestMkdirRmdir(t *testing.T) {
	client, _ := testClient(t)

	require.NoError(t, client.Mkdir("/dir"))
	require.Error(t, client.Mkdir("/dir"))
	require.NoError(t, client.RemoveDirectory("/dir"))
	require.Error(t, client.RemoveDirectory("/dir"))
}

func TestSetstatTruncateChmod(t *testing.T) {
	client, _ := testClient(t)

	f, err := client.Create("/trunc")
	require.NoError(t, err)
	_, err = f.Write(bytes.Repeat([]byte("x"), 100))
	require.NoError(t, err)

	require.NoError(t, f.Truncate(10))
	attr, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), attr.Size)

	require.NoError(t, f.Chmod(0o600|s_IFREG))
	require.NoError(t, f.Close())

	require.NoError(t, client.Chmod("/trunc", 0o640|s_IFREG))
	require.NoError(t, client.Truncate("/trunc", 5))
	attr, err = client.Stat("/trunc")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), attr.Size)
}

func TestStatVFS(t *testing.T) {
	client, _ := testClient(t)

	st, err := client.StatVFS("/")
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), st.BlockSize)
	assert.Equal(t, uint64(255), st.MaxNameLength)
}

// A timed out request fails alone; the session keeps working and the
// late response is discarded.
func TestRequestTimeout(t *testing.T) {
	srv := newTestServer()
	srv.mu.Lock()
	srv.files["/slow"] = &memFile{data: []byte("slow data")}
	srv.stallPaths["/slow"] = true
	srv.mu.Unlock()
	client := startClient(t, srv, RequestTimeout(50*time.Millisecond))

	_, err := client.Open("/slow")
	require.Error(t, err)
	assert.Equal(t, ErrTimeout, errors.Cause(err))

	// The session is still alive.
	require.NoError(t, client.Mkdir("/after-timeout"))
}

// Closing the transport fails pending requests with ErrConnectionLost.
func TestConnectionLostFailsPending(t *testing.T) {
	srv := newTestServer()
	srv.mu.Lock()
	srv.files["/hang"] = &memFile{data: []byte("data")}
	srv.stallPaths["/hang"] = true
	srv.mu.Unlock()

	c2s_r, c2s_w := io.Pipe()
	s2c_r, s2c_w := io.Pipe()
	go func() {
		srv.serve(c2s_r, s2c_w)
	}()
	client, err := NewClientPipe(s2c_r, c2s_w, opts0()...)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := client.Open("/hang")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	s2c_w.CloseWithError(io.EOF)

	err = <-done
	require.Error(t, err)
	assert.Equal(t, ErrConnectionLost, errors.Cause(err))

	// New requests are refused outright.
	_, err = client.Stat("/")
	require.Error(t, err)
}

func opts0() []ClientOption { return nil }

// In-flight request ids must be unique, and ids are reusable after
// completion.
func TestRequestIDUniqueness(t *testing.T) {
	client, _ := testClient(t)

	const n = 64
	ids := make(map[uint32]bool)
	for i := 0; i < n; i++ {
		id, err := client.register(make(chan result, 1))
		require.NoError(t, err)
		require.False(t, ids[id], "id %d reused while in flight", id)
		ids[id] = true
	}
	// Completion releases the id for reuse.
	for id := range ids {
		client.discard(id)
	}
	client.mu.Lock()
	assert.Len(t, client.pending, 0)
	client.mu.Unlock()
}
