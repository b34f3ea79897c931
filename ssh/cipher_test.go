// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"testing"

	_ "crypto/sha1"
)

// testCipherPair creates matching seal/open pipelines for the given
// algorithms, as if both directions had completed the same key exchange.
func testCipherPair(t *testing.T, cipherAlgo, macAlgo string) (enc, dec packetCipher) {
	t.Helper()
	kex := &kexResult{
		H:         []byte("testing-exchange-hash--testing-"),
		K:         []byte("\x00\x00\x00\x10shared-secret-K."),
		Hash:      crypto.SHA1,
		SessionID: []byte("testing-session-id---testing---"),
	}

	mode, ok := lookupCipher(cipherAlgo)
	if !ok {
		t.Fatalf("unknown cipher %q", cipherAlgo)
	}
	mac, ok := lookupMAC(macAlgo)
	if !ok {
		t.Fatalf("unknown MAC %q", macAlgo)
	}

	iv := make([]byte, mode.IvSize())
	key := make([]byte, mode.KeySize())
	macKey := make([]byte, mac.keySize)
	generateKeyMaterial(iv, 'A', kex)
	generateKeyMaterial(key, 'C', kex)
	generateKeyMaterial(macKey, 'E', kex)

	enc, err := mode.createPacketCipher(true, mac, key, iv, macKey)
	if err != nil {
		t.Fatalf("createPacketCipher(enc): %v", err)
	}
	dec, err = mode.createPacketCipher(false, mac, key, iv, macKey)
	if err != nil {
		t.Fatalf("createPacketCipher(dec): %v", err)
	}
	return enc, dec
}

var testCipherAlgos = []string{
	"aes128-ctr", "aes192-ctr", "aes256-ctr",
	"aes128-cbc", "aes192-cbc", "aes256-cbc",
	"3des-cbc", "arcfour128", "arcfour256",
}

var testMACAlgos = []string{
	"hmac-sha2-256", "hmac-sha2-512", "hmac-sha1", "hmac-sha1-96",
	"hmac-md5", "hmac-md5-96",
}

func TestPacketCiphersRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{42},
		[]byte("a short payload"),
		bytes.Repeat([]byte{0x5a}, maxPayload),
	}
	for _, cipherAlgo := range testCipherAlgos {
		for _, macAlgo := range testMACAlgos {
			enc, dec := testCipherPair(t, cipherAlgo, macAlgo)
			for seq, want := range payloads {
				var buf bytes.Buffer
				payload := append([]byte{}, want...)
				if err := enc.writePacket(uint32(seq), &buf, rand.Reader, payload); err != nil {
					t.Fatalf("%s/%s: writePacket: %v", cipherAlgo, macAlgo, err)
				}
				got, err := dec.readPacket(uint32(seq), &buf)
				if err != nil {
					t.Fatalf("%s/%s: readPacket: %v", cipherAlgo, macAlgo, err)
				}
				if !bytes.Equal(got, want) {
					t.Errorf("%s/%s: payload mismatch at seq %d", cipherAlgo, macAlgo, seq)
				}
			}
		}
	}
}

// Flipping any single bit on the wire must surface a crypto failure.
func TestPacketCipherBitFlip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	for bit := 0; bit < (5+len(payload)+4+20)*8; bit += 7 {
		enc, dec := testCipherPair(t, "aes128-ctr", "hmac-sha1")
		var buf bytes.Buffer
		if err := enc.writePacket(0, &buf, rand.Reader, append([]byte{}, payload...)); err != nil {
			t.Fatalf("writePacket: %v", err)
		}
		wire := buf.Bytes()
		if bit >= len(wire)*8 {
			break
		}
		wire[bit/8] ^= 1 << (bit % 8)
		if _, err := dec.readPacket(0, bytes.NewReader(wire)); err == nil {
			t.Fatalf("bit flip at %d went undetected", bit)
		}
	}
}

// A packet replayed under the wrong sequence number must fail the MAC.
func TestPacketCipherWrongSequence(t *testing.T) {
	enc, dec := testCipherPair(t, "aes128-ctr", "hmac-sha2-256")
	var buf bytes.Buffer
	if err := enc.writePacket(7, &buf, rand.Reader, []byte("sequenced")); err != nil {
		t.Fatalf("writePacket: %v", err)
	}
	if _, err := dec.readPacket(8, &buf); err == nil {
		t.Fatalf("wrong sequence number went undetected")
	}
}

func TestWritePacketRejectsOversize(t *testing.T) {
	enc, _ := testCipherPair(t, "aes128-ctr", "hmac-sha1")
	var buf bytes.Buffer
	if err := enc.writePacket(0, &buf, rand.Reader, make([]byte, maxPayload+1)); err == nil {
		t.Fatalf("oversized payload accepted")
	}
}

func TestCheckPacketLength(t *testing.T) {
	cases := []struct {
		length, padding uint32
		blockSize       int
		ok              bool
	}{
		{12, 4, 8, true},
		{4, 4, 8, false},          // below minimum
		{maxPacketLength + 1, 4, 8, false},
		{12, 3, 8, false},         // padding below minimum
		{13, 4, 8, false},         // not a block multiple
		{28, 4, 16, true},
		{20, 4, 16, false},        // multiple of 8 but not of the block size
	}
	for _, c := range cases {
		err := checkPacketLength(c.length, c.padding, c.blockSize)
		if (err == nil) != c.ok {
			t.Errorf("checkPacketLength(%d, %d, %d) = %v, want ok=%v",
				c.length, c.padding, c.blockSize, err, c.ok)
		}
	}
}

// The transport must frame, encrypt and sequence packets such that the
// receiving side recovers them in order.
func TestTransportSequence(t *testing.T) {
	enc, dec := testCipherPair(t, "aes256-ctr", "hmac-sha2-256")
	var buf bytes.Buffer
	for i := 0; i < 10; i++ {
		if err := enc.writePacket(uint32(i), &buf, rand.Reader, []byte{byte(i)}); err != nil {
			t.Fatalf("writePacket %d: %v", i, err)
		}
	}
	for i := 0; i < 10; i++ {
		p, err := dec.readPacket(uint32(i), &buf)
		if err != nil {
			t.Fatalf("readPacket %d: %v", i, err)
		}
		if len(p) != 1 || p[0] != byte(i) {
			t.Fatalf("packet %d: got %x", i, p)
		}
	}
}
