// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package knownhosts

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/huaweig1/mina-sshd/ssh"
)

func testKey(t *testing.T) ssh.PublicKey {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatal(err)
	}
	return signer.PublicKey()
}

func TestVerify(t *testing.T) {
	known := testKey(t)
	other := testKey(t)

	db := Line([]string{"server.example.com:22", "[server.example.com]:2022"}, known)
	check, err := New(strings.NewReader(db + "\n# a comment\n"))
	if err != nil {
		t.Fatal(err)
	}

	if err := check("server.example.com:22", nil, known); err != nil {
		t.Errorf("known key rejected: %v", err)
	}
	if err := check("server.example.com:2022", nil, known); err != nil {
		t.Errorf("known key on alternate port rejected: %v", err)
	}
	if err := check("server.example.com:22", nil, other); err == nil {
		t.Errorf("unknown key accepted")
	} else if ke, ok := err.(*KeyError); !ok || len(ke.Want) == 0 {
		t.Errorf("want *KeyError naming the key on file, got %v", err)
	}
	if err := check("unknown.example.com:22", nil, known); err == nil {
		t.Errorf("unknown host accepted")
	} else if ke, ok := err.(*KeyError); !ok || len(ke.Want) != 0 {
		t.Errorf("want empty *KeyError for unknown host, got %v", err)
	}
}

func TestLineFormat(t *testing.T) {
	key := testKey(t)
	line := Line([]string{"host.example.com:22", "10.0.0.1:2022"}, key)
	if !strings.HasPrefix(line, "host.example.com,[10.0.0.1]:2022 ") {
		t.Errorf("unexpected hosts field: %q", line)
	}
	if strings.ContainsRune(line, '\n') {
		t.Errorf("line contains newline")
	}
}
