// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func TestReadVersion(t *testing.T) {
	longversion := strings.Repeat("SSH-2.0-bla", 50)[:253]
	cases := map[string]string{
		"SSH-2.0-bla\r\n":    "SSH-2.0-bla",
		"SSH-2.0-bla\n":      "SSH-2.0-bla",
		longversion + "\r\n": longversion,
	}

	for in, want := range cases {
		result, err := readVersion(bytes.NewBufferString(in))
		if err != nil {
			t.Errorf("readVersion(%q): %s", in, err)
		}
		got := string(result)
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestReadVersionError(t *testing.T) {
	longversion := strings.Repeat("SSH-2.0-bla", 50)[:253]
	cases := []string{
		longversion + "too-long\r\n",
		"SSH-2.0-truncated",
	}
	for _, in := range cases {
		if _, err := readVersion(bytes.NewBufferString(in)); err == nil {
			t.Errorf("readVersion(%q) should have failed", in)
		}
	}
}

type rwBuffer struct {
	in  *bytes.Buffer
	out bytes.Buffer
}

func (b *rwBuffer) Read(p []byte) (int, error)  { return b.in.Read(p) }
func (b *rwBuffer) Write(p []byte) (int, error) { return b.out.Write(p) }

// Clients skip banner lines the server emits before its identification
// line.
func TestExchangeVersionsSkipsBanner(t *testing.T) {
	rw := &rwBuffer{in: bytes.NewBufferString("A banner\r\nAnother line\nSSH-2.0-peer\r\n")}
	them, err := exchangeVersions(rw, []byte("SSH-2.0-Go"), true)
	if err != nil {
		t.Fatalf("exchangeVersions: %v", err)
	}
	if string(them) != "SSH-2.0-peer" {
		t.Errorf("got %q", them)
	}
	if got := rw.out.String(); got != "SSH-2.0-Go\r\n" {
		t.Errorf("wrote %q", got)
	}
}

// Servers must not tolerate junk before the client's identification line.
func TestExchangeVersionsServerRejectsBanner(t *testing.T) {
	rw := &rwBuffer{in: bytes.NewBufferString("junk\r\nSSH-2.0-peer\r\n")}
	if _, err := exchangeVersions(rw, []byte("SSH-2.0-Go"), false); err == nil {
		t.Fatalf("server accepted banner line")
	}
}

func TestExchangeVersionsRejectsJunkChars(t *testing.T) {
	rw := &rwBuffer{in: bytes.NewBufferString("SSH-2.0-peer\r\n")}
	if _, err := exchangeVersions(rw, []byte("SSH-2.0-control\x01char"), true); err == nil {
		t.Fatalf("identification line with control character accepted")
	}
}

func TestZlibCompressorRoundTrip(t *testing.T) {
	c := newZlibCompressor()
	d := newZlibCompressor()

	payloads := [][]byte{
		[]byte("hello"),
		bytes.Repeat([]byte("abcd"), 4096),
		make([]byte, 1), // single zero byte
	}
	for _, want := range payloads {
		wire, err := c.Compress(append([]byte{}, want...))
		if err != nil {
			t.Fatalf("Compress: %v", err)
		}
		got, err := d.Decompress(wire)
		if err != nil {
			t.Fatalf("Decompress: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("round trip mismatch: %d bytes in, %d out", len(want), len(got))
		}
	}
}

// The transport applies compression below the cipher, so a compressing
// writer must interoperate with a compressing reader.
func TestTransportCompression(t *testing.T) {
	a, b := pipePair(t)
	a.writer.compressor = newZlibCompressor()
	b.reader.compressor = newZlibCompressor()

	want := bytes.Repeat([]byte("a compressible payload. "), 100)
	done := make(chan error, 1)
	go func() {
		done <- a.writePacket(append([]byte{}, want...))
	}()
	got, err := b.readPacket()
	if err != nil {
		t.Fatalf("readPacket: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("writePacket: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("payload mismatch")
	}
}

// pipePair returns two plaintext transports connected by a socket pair.
func pipePair(t *testing.T) (*transport, *transport) {
	t.Helper()
	c1, c2, err := pipe()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c1.Close(); c2.Close() })
	return newTransport(c1, rand.Reader, true), newTransport(c2, rand.Reader, false)
}
