package sftp

// End-to-end test of the SFTP client over a real SSH transport: key
// exchange, userauth, a session channel with the "sftp" subsystem, and
// the request/response dispatcher all in one path.

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	mrand "math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huaweig1/mina-sshd/ssh"
)

// sftpSSHServer runs an SSH server that serves the in-process SFTP
// backend on "subsystem sftp" channels.
func sftpSSHServer(t *testing.T, srv *testServer) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	hostKey, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn *ssh.ServerConn, user, pass string) bool {
			return user == "smx" && pass == "smx"
		},
	}
	config.AddHostKey(hostKey)

	l, err := ssh.Listen("tcp", "127.0.0.1:0", config)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.Handshake(); err != nil {
			return
		}
		for {
			ch, err := conn.Accept()
			if err != nil {
				return
			}
			if ch.ChannelType() != "session" {
				ch.Reject(ssh.UnknownChannelType, "unknown channel type")
				continue
			}
			ch.Accept()
			go serveSubsystem(ch, srv)
		}
	}()
	return l.Addr().String()
}

// serveSubsystem waits for the sftp subsystem request and then speaks
// SFTP over the channel.
func serveSubsystem(ch ssh.Channel, srv *testServer) {
	defer ch.Close()
	var buf [256]byte
	for {
		_, err := ch.Read(buf[:])
		if req, ok := err.(ssh.ChannelRequest); ok {
			isSftp := bytes.Contains(req.Payload, []byte("sftp"))
			if req.WantReply {
				ch.AckRequest(isSftp && req.Request == "subsystem")
			}
			if isSftp && req.Request == "subsystem" {
				break
			}
			continue
		}
		if err != nil {
			return
		}
	}
	srv.serve(ch, ch)
}

func TestClientOverSSH(t *testing.T) {
	srv := newTestServer()
	addr := sftpSSHServer(t, srv)

	config := &ssh.ClientConfig{
		User:            "smx",
		Auth:            []ssh.ClientAuth{ssh.ClientAuthPassword(ssh.Password("smx"))},
		HostKeyVerifier: ssh.InsecureIgnoreHostKey(),
	}
	conn, err := ssh.Dial("tcp", addr, config)
	require.NoError(t, err)
	defer conn.Close()

	client, err := NewClient(conn)
	require.NoError(t, err)
	defer client.Close()

	want := make([]byte, 256*1024)
	mrand.New(mrand.NewSource(3)).Read(want)

	f, err := client.Create("/ssh-blob")
	require.NoError(t, err)
	_, err = f.Write(want)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	attr, err := client.Stat("/ssh-blob")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(want)), attr.Size)

	g, err := client.Open("/ssh-blob")
	require.NoError(t, err)
	var got bytes.Buffer
	_, err = g.WriteTo(&got)
	require.NoError(t, err)
	require.NoError(t, g.Close())
	assert.True(t, bytes.Equal(want, got.Bytes()))

	require.NoError(t, client.Mkdir("/over-ssh"))
	entries, err := client.ReadDir("/")
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Filename] = true
	}
	assert.True(t, names["ssh-blob"])
	assert.True(t, names["over-ssh"])
}

// A re-key forced mid-transfer must not disturb the byte stream.
func TestTransferAcrossRekey(t *testing.T) {
	srv := newTestServer()
	addr := sftpSSHServer(t, srv)

	config := &ssh.ClientConfig{
		User:            "smx",
		Auth:            []ssh.ClientAuth{ssh.ClientAuthPassword(ssh.Password("smx"))},
		HostKeyVerifier: ssh.InsecureIgnoreHostKey(),
	}
	config.RekeyBytes = 64 * 1024

	conn, err := ssh.Dial("tcp", addr, config)
	require.NoError(t, err)
	defer conn.Close()

	client, err := NewClient(conn)
	require.NoError(t, err)
	defer client.Close()

	want := make([]byte, 1<<20)
	mrand.New(mrand.NewSource(4)).Read(want)

	f, err := client.Create("/rekeyed")
	require.NoError(t, err)
	_, err = f.Write(want)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	g, err := client.Open("/rekeyed")
	require.NoError(t, err)
	var got bytes.Buffer
	_, err = g.WriteTo(&got)
	require.NoError(t, err)
	require.NoError(t, g.Close())

	assert.True(t, bytes.Equal(want, got.Bytes()), "transfer corrupted across re-key")
}
