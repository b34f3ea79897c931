// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"testing"
)

func TestSafeString(t *testing.T) {
	strings := map[string]string{
		"\x20\x0d\x0a":  "\x20\x0d\x0a",
		"flibble":       "flibble",
		"new\x20line":   "new\x20line",
		"123456\x07789": "123456 789",
		"\t\t\x10\r\n":  "\t\t \r\n",
	}

	for s, expected := range strings {
		actual := safeString(s)
		if expected != actual {
			t.Errorf("expected: %v, actual: %v", []byte(expected), []byte(actual))
		}
	}
}

func kexInitWith(kexes, hostKeys, ciphers, macs, compressions []string) *kexInitMsg {
	return &kexInitMsg{
		KexAlgos:                kexes,
		ServerHostKeyAlgos:      hostKeys,
		CiphersClientServer:     ciphers,
		CiphersServerClient:     ciphers,
		MACsClientServer:        macs,
		MACsServerClient:        macs,
		CompressionClientServer: compressions,
		CompressionServerClient: compressions,
	}
}

// Negotiation picks the first client-preferred entry that the server also
// lists.
func TestFindAgreedAlgorithms(t *testing.T) {
	client := kexInitWith(
		[]string{kexAlgoECDH256, kexAlgoDH14SHA1},
		[]string{KeyAlgoRSA, KeyAlgoECDSA256},
		[]string{"aes256-ctr", "aes128-ctr"},
		[]string{"hmac-sha2-256", "hmac-sha1"},
		[]string{"none"},
	)
	server := kexInitWith(
		[]string{kexAlgoDH14SHA1, kexAlgoECDH256},
		[]string{KeyAlgoECDSA256, KeyAlgoRSA},
		[]string{"aes128-ctr", "aes256-ctr"},
		[]string{"hmac-sha1", "hmac-sha2-256"},
		[]string{"none"},
	)

	algs, err := findAgreedAlgorithms(client, server)
	if err != nil {
		t.Fatalf("findAgreedAlgorithms: %v", err)
	}
	// Client preference wins.
	if algs.kex != kexAlgoECDH256 {
		t.Errorf("kex: got %q", algs.kex)
	}
	if algs.hostKey != KeyAlgoRSA {
		t.Errorf("hostKey: got %q", algs.hostKey)
	}
	if algs.cs.Cipher != "aes256-ctr" || algs.sc.Cipher != "aes256-ctr" {
		t.Errorf("cipher: got %q/%q", algs.cs.Cipher, algs.sc.Cipher)
	}
	if algs.cs.MAC != "hmac-sha2-256" {
		t.Errorf("mac: got %q", algs.cs.MAC)
	}
}

func TestFindAgreedAlgorithmsNoMatch(t *testing.T) {
	client := kexInitWith(
		[]string{kexAlgoECDH256},
		[]string{KeyAlgoRSA},
		[]string{"aes128-ctr"},
		[]string{"hmac-sha1"},
		[]string{"none"},
	)
	server := kexInitWith(
		[]string{kexAlgoDH14SHA1},
		[]string{KeyAlgoRSA},
		[]string{"aes128-ctr"},
		[]string{"hmac-sha1"},
		[]string{"none"},
	)
	if _, err := findAgreedAlgorithms(client, server); err == nil {
		t.Fatalf("negotiation succeeded with empty kex intersection")
	}

	server.KexAlgos = []string{kexAlgoECDH256}
	server.MACsClientServer = []string{"hmac-md5"}
	if _, err := findAgreedAlgorithms(client, server); err == nil {
		t.Fatalf("negotiation succeeded with empty MAC intersection")
	}
}

func TestServiceRegistryOverlapPanics(t *testing.T) {
	r := &serviceRegistry{}
	r.register("ssh-userauth", 50, 79, nil)

	defer func() {
		if recover() == nil {
			t.Fatalf("overlapping claim did not panic")
		}
	}()
	r.register("rogue", 60, 90, nil)
}

func TestServiceRegistryLookup(t *testing.T) {
	r := &serviceRegistry{}
	r.register("ssh-userauth", 50, 79, nil)
	r.register("ssh-connection", 80, 127, nil)

	if _, ok := r.lookup(52); !ok {
		t.Errorf("52 unclaimed")
	}
	if _, ok := r.lookup(90); !ok {
		t.Errorf("90 unclaimed")
	}
	if _, ok := r.lookup(20); ok {
		t.Errorf("20 claimed")
	}
	r.unregister("ssh-userauth")
	if _, ok := r.lookup(52); ok {
		t.Errorf("52 still claimed after unregister")
	}
}

func TestRegistryRejectsCollisions(t *testing.T) {
	if err := RegisterMAC("hmac-sha1", MACMode{}); err == nil {
		t.Fatalf("registration collided with built-in but succeeded")
	}
	if err := RegisterMAC("HMAC-SHA1", MACMode{}); err == nil {
		t.Fatalf("case-insensitive collision with built-in succeeded")
	}
	if err := RegisterMAC("bad name", MACMode{}); err == nil {
		t.Fatalf("invalid name accepted")
	}
	if err := RegisterMAC("with,comma", MACMode{}); err == nil {
		t.Fatalf("comma name accepted")
	}

	mode := MACMode{KeySize: 16, New: macModes["hmac-md5"].(*macMode).new}
	if err := RegisterMAC("hmac-test@example.com", mode); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	defer UnregisterMAC("hmac-test@example.com")

	if err := RegisterMAC("HMAC-Test@example.com", mode); err == nil {
		t.Fatalf("duplicate extension registration succeeded")
	}
	if _, ok := lookupMAC("hmac-test@example.com"); !ok {
		t.Fatalf("registered extension not found")
	}
	if !UnregisterMAC("hmac-test@example.com") {
		t.Fatalf("unregister failed")
	}
	if UnregisterMAC("hmac-test@example.com") {
		t.Fatalf("double unregister succeeded")
	}
}

func TestWindowZeroAdjustIsNoop(t *testing.T) {
	w := window{Cond: newCond()}
	if !w.add(0) {
		t.Fatalf("zero adjust reported failure")
	}
	if !w.add(10) {
		t.Fatalf("adjust failed")
	}
	n, err := w.reserve(4)
	if err != nil || n != 4 {
		t.Fatalf("reserve: %d, %v", n, err)
	}
}

func TestWindowOverflowRejected(t *testing.T) {
	w := window{Cond: newCond()}
	if !w.add(1 << 31) {
		t.Fatalf("adjust failed")
	}
	if w.add(1 << 31) {
		t.Fatalf("overflowing adjust accepted")
	}
}
