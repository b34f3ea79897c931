// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

// Key exchange tests.

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"net"
	"testing"
)

func pipe() (net.Conn, net.Conn, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, err
	}
	conn1, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		return nil, nil, err
	}

	conn2, err := l.Accept()
	if err != nil {
		conn1.Close()
		return nil, nil, err
	}
	l.Close()
	return conn1, conn2, nil
}

// memPacketConn is an in-memory packetConn for driving a kexAlgorithm
// directly.
type memPacketConn struct {
	in  chan []byte
	out chan<- []byte
}

func memPipe() (a, b *memPacketConn) {
	t1 := make(chan []byte, 16)
	t2 := make(chan []byte, 16)
	return &memPacketConn{in: t1, out: t2}, &memPacketConn{in: t2, out: t1}
}

func (c *memPacketConn) readPacket() ([]byte, error) {
	p, ok := <-c.in
	if !ok {
		return nil, fmt.Errorf("closed")
	}
	return p, nil
}

func (c *memPacketConn) writePacket(p []byte) error {
	c.out <- append([]byte{}, p...)
	return nil
}

func (c *memPacketConn) Close() error {
	close(c.out)
	return nil
}

var testKexAlgos = []string{
	kexAlgoDH1SHA1, kexAlgoDH14SHA1,
	kexAlgoDHGexSHA1, kexAlgoDHGexSHA256,
	kexAlgoECDH256, kexAlgoECDH384, kexAlgoECDH521,
	kexAlgoCurve25519SHA256,
}

// Each key exchange must give both sides the same H and K, and the
// client must be able to verify the server's signature over H.
func TestKexAgreement(t *testing.T) {
	magics := handshakeMagics{
		clientVersion: []byte("SSH-2.0-client"),
		serverVersion: []byte("SSH-2.0-server"),
		clientKexInit: []byte("client-kexinit-payload"),
		serverKexInit: []byte("server-kexinit-payload"),
	}

	for _, algo := range testKexAlgos {
		kex, ok := lookupKex(algo)
		if !ok {
			t.Fatalf("missing kex algorithm %q", algo)
		}
		a, b := memPipe()

		type res struct {
			r   *kexResult
			err error
		}
		serverDone := make(chan res, 1)
		go func() {
			r, err := kex.Server(b, rand.Reader, &magics, testSigner("ecdsa"))
			serverDone <- res{r, err}
		}()
		clientRes, clientErr := kex.Client(a, rand.Reader, &magics)
		serverRes := <-serverDone
		if clientErr != nil {
			t.Errorf("%s: client: %v", algo, clientErr)
			continue
		}
		if serverRes.err != nil {
			t.Errorf("%s: server: %v", algo, serverRes.err)
			continue
		}
		if !bytes.Equal(clientRes.H, serverRes.r.H) {
			t.Errorf("%s: H mismatch", algo)
		}
		if !bytes.Equal(clientRes.K, serverRes.r.K) {
			t.Errorf("%s: K mismatch", algo)
		}

		key, _, ok := parsePubKey(clientRes.HostKey)
		if !ok {
			t.Errorf("%s: cannot parse host key", algo)
			continue
		}
		sig, _, ok := parseSignatureBody(clientRes.Signature)
		if !ok {
			t.Errorf("%s: cannot parse signature", algo)
			continue
		}
		if !key.Verify(clientRes.H, sig.Blob) {
			t.Errorf("%s: host key signature does not verify", algo)
		}
	}
}

func testKexAlgorithm(algo string) error {
	crypto := CryptoConfig{
		KeyExchanges: []string{algo},
	}
	serverConfig := ServerConfig{
		PasswordCallback: func(conn *ServerConn, user, password string) bool {
			return password == "password"
		},
	}
	serverConfig.Crypto = crypto
	serverConfig.AddHostKey(testSigner("ecdsa"))

	clientConfig := ClientConfig{
		User:            "user",
		Auth:            []ClientAuth{ClientAuthPassword(Password("password"))},
		HostKeyVerifier: InsecureIgnoreHostKey(),
	}
	clientConfig.Crypto = crypto

	conn1, conn2, err := pipe()
	if err != nil {
		return err
	}

	defer conn1.Close()
	defer conn2.Close()

	server := Server(conn2, &serverConfig)
	serverHS := make(chan error, 1)
	go func() {
		serverHS <- server.Handshake()
	}()

	// Client runs the handshake.
	client, err := Client(conn1, conn1.RemoteAddr().String(), &clientConfig)
	if err != nil {
		return fmt.Errorf("Client: %v", err)
	}
	defer client.Close()

	if err := <-serverHS; err != nil {
		return fmt.Errorf("server.Handshake: %v", err)
	}
	return nil
}

func TestKexAlgorithms(t *testing.T) {
	for _, algo := range testKexAlgos {
		if err := testKexAlgorithm(algo); err != nil {
			t.Errorf("algorithm %s: %v", algo, err)
		}
	}
}

// The host key verifier must be able to fail the handshake.
func TestHostKeyRejected(t *testing.T) {
	serverConfig := ServerConfig{NoClientAuth: true}
	serverConfig.AddHostKey(testSigner("ecdsa"))

	clientConfig := ClientConfig{
		User: "user",
		HostKeyVerifier: func(hostname string, remote net.Addr, key PublicKey) error {
			return fmt.Errorf("host key rejected")
		},
	}

	conn1, conn2, err := pipe()
	if err != nil {
		t.Fatal(err)
	}
	defer conn1.Close()
	defer conn2.Close()

	server := Server(conn2, &serverConfig)
	go server.Handshake()

	if _, err := Client(conn1, conn1.RemoteAddr().String(), &clientConfig); err == nil {
		t.Fatalf("handshake succeeded despite rejecting verifier")
	}
}
