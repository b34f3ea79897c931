// Copyright 2017 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package knownhosts implements a host key verifier backed by an OpenSSH
// known_hosts file, for use as ssh.ClientConfig.HostKeyVerifier.
package knownhosts

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"github.com/huaweig1/mina-sshd/ssh"
)

// A KeyError is returned when a host key fails verification.
type KeyError struct {
	// Want lists the keys on file for the host; empty when the host is
	// unknown.
	Want []ssh.PublicKey
}

func (e *KeyError) Error() string {
	if len(e.Want) == 0 {
		return "knownhosts: key is unknown"
	}
	return "knownhosts: key mismatch"
}

type hostKeyDB struct {
	// lines maps a host pattern to the keys on file for it.
	lines []knownHostLine
}

type knownHostLine struct {
	patterns []string
	key      ssh.PublicKey
}

// matches reports whether host on port is covered by the line's patterns:
// bare host for port 22, [host]:port otherwise. Negated and hashed patterns are not supported; lines
// carrying them never match.
func (l *knownHostLine) matches(host string, port int) bool {
	for _, p := range l.patterns {
		if strings.HasPrefix(p, "!") || strings.HasPrefix(p, "|") {
			continue
		}
		want := host
		if port != 22 {
			want = fmt.Sprintf("[%s]:%d", host, port)
		}
		if p == want {
			return true
		}
	}
	return false
}

func (db *hostKeyDB) read(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		// Revoked and cert-authority markers are skipped; this verifier
		// handles plain keys only.
		if line[0] == '@' {
			continue
		}
		i := bytes.IndexAny(line, " \t")
		if i < 0 {
			continue
		}
		patterns := strings.Split(string(line[:i]), ",")
		key, _, _, _, ok := ssh.ParseAuthorizedKey(line)
		if !ok {
			continue
		}
		db.lines = append(db.lines, knownHostLine{patterns: patterns, key: key})
	}
	return scanner.Err()
}

func (db *hostKeyDB) check(hostname string, remote net.Addr, key ssh.PublicKey) error {
	host := hostname
	port := 22
	if h, p, err := net.SplitHostPort(hostname); err == nil {
		host = h
		fmt.Sscanf(p, "%d", &port)
	}

	keyBytes := ssh.MarshalPublicKey(key)
	var want []ssh.PublicKey
	for i := range db.lines {
		l := &db.lines[i]
		if !l.matches(host, port) {
			continue
		}
		if bytes.Equal(ssh.MarshalPublicKey(l.key), keyBytes) {
			return nil
		}
		want = append(want, l.key)
	}
	return &KeyError{Want: want}
}

// New creates a host key verifier from the given OpenSSH known_hosts
// streams. The returned verifier is strict: unknown hosts are rejected.
func New(readers ...io.Reader) (ssh.HostKeyVerifier, error) {
	db := new(hostKeyDB)
	for _, r := range readers {
		if err := db.read(r); err != nil {
			return nil, err
		}
	}
	return db.check, nil
}

// FromFiles creates a host key verifier from the given known_hosts files.
func FromFiles(files ...string) (ssh.HostKeyVerifier, error) {
	var readers []io.Reader
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return nil, err
		}
		closers = append(closers, f)
		readers = append(readers, f)
	}
	if len(readers) == 0 {
		return nil, errors.New("knownhosts: no files given")
	}
	return New(readers...)
}

// Line returns a known_hosts line for the given address and key.
func Line(addresses []string, key ssh.PublicKey) string {
	var trimmed []string
	for _, a := range addresses {
		host, port, err := net.SplitHostPort(a)
		if err == nil && port == "22" {
			a = host
		} else if err == nil {
			a = fmt.Sprintf("[%s]:%s", host, port)
		}
		trimmed = append(trimmed, a)
	}

	return strings.Join(trimmed, ",") + " " +
		strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
}
