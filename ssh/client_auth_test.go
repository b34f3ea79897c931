// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"net"
	"strings"
	"testing"
)

// authServer starts a server with the given config and returns its
// address.
func authServer(t *testing.T, serverConfig *ServerConfig) string {
	t.Helper()
	serverConfig.AddHostKey(testSigner("ecdsa"))
	l, err := Listen("tcp", "127.0.0.1:0", serverConfig)
	if err != nil {
		t.Fatalf("unable to listen: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				if err := conn.Handshake(); err != nil {
					return
				}
				for {
					if _, err := conn.Accept(); err != nil {
						return
					}
				}
			}()
		}
	}()
	return l.Addr().String()
}

func TestClientAuthPassword(t *testing.T) {
	addr := authServer(t, &ServerConfig{
		PasswordCallback: func(conn *ServerConn, user, pass string) bool {
			return user == "smx" && pass == "smx"
		},
	})

	config := &ClientConfig{
		User:            "smx",
		Auth:            []ClientAuth{ClientAuthPassword(Password("smx"))},
		HostKeyVerifier: InsecureIgnoreHostKey(),
	}
	conn, err := Dial("tcp", addr, config)
	if err != nil {
		t.Fatalf("unable to dial: %v", err)
	}
	conn.Close()
}

func TestClientAuthWrongPassword(t *testing.T) {
	addr := authServer(t, &ServerConfig{
		PasswordCallback: func(conn *ServerConn, user, pass string) bool {
			return user == "smx" && pass == "smx"
		},
	})

	config := &ClientConfig{
		User:            "smx",
		Auth:            []ClientAuth{ClientAuthPassword(Password("wrong"))},
		HostKeyVerifier: InsecureIgnoreHostKey(),
	}
	if _, err := Dial("tcp", addr, config); err == nil {
		t.Fatalf("authentication succeeded with wrong password")
	} else if !strings.Contains(err.Error(), "unable to authenticate") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientAuthPublickey(t *testing.T) {
	authorized := MarshalPublicKey(testSigner("rsa").PublicKey())
	addr := authServer(t, &ServerConfig{
		PublicKeyCallback: func(conn *ServerConn, user, algo string, pubkey []byte) bool {
			return user == "smx" && bytesEqual(pubkey, authorized)
		},
	})

	config := &ClientConfig{
		User:            "smx",
		Auth:            []ClientAuth{ClientAuthSigners(testSigner("rsa"))},
		HostKeyVerifier: InsecureIgnoreHostKey(),
	}
	conn, err := Dial("tcp", addr, config)
	if err != nil {
		t.Fatalf("unable to dial: %v", err)
	}
	conn.Close()
}

// An unknown key is refused at the probe stage; a subsequent password
// attempt may still succeed when the server allows either method.
func TestClientAuthPublickeyThenPassword(t *testing.T) {
	authorized := MarshalPublicKey(testSigner("rsa").PublicKey())
	addr := authServer(t, &ServerConfig{
		PublicKeyCallback: func(conn *ServerConn, user, algo string, pubkey []byte) bool {
			return bytesEqual(pubkey, authorized)
		},
		PasswordCallback: func(conn *ServerConn, user, pass string) bool {
			return user == "smx" && pass == "smx"
		},
	})

	config := &ClientConfig{
		User: "smx",
		Auth: []ClientAuth{
			ClientAuthSigners(testSigner("ecdsa")), // not authorized
			ClientAuthPassword(Password("smx")),
		},
		HostKeyVerifier: InsecureIgnoreHostKey(),
	}
	conn, err := Dial("tcp", addr, config)
	if err != nil {
		t.Fatalf("unable to dial: %v", err)
	}
	conn.Close()
}

// With RequiredAuthMethods both methods must succeed; the first success
// is answered with a partial-success failure naming the remainder.
func TestClientAuthPartialSuccess(t *testing.T) {
	authorized := MarshalPublicKey(testSigner("rsa").PublicKey())
	addr := authServer(t, &ServerConfig{
		RequiredAuthMethods: []string{"publickey", "password"},
		PublicKeyCallback: func(conn *ServerConn, user, algo string, pubkey []byte) bool {
			return bytesEqual(pubkey, authorized)
		},
		PasswordCallback: func(conn *ServerConn, user, pass string) bool {
			return user == "smx" && pass == "smx"
		},
	})

	config := &ClientConfig{
		User: "smx",
		Auth: []ClientAuth{
			ClientAuthSigners(testSigner("rsa")),
			ClientAuthPassword(Password("smx")),
		},
		HostKeyVerifier: InsecureIgnoreHostKey(),
	}
	conn, err := Dial("tcp", addr, config)
	if err != nil {
		t.Fatalf("unable to dial: %v", err)
	}
	conn.Close()
}

// One satisfied method alone must not authenticate the connection when
// more are required.
func TestClientAuthPartialSuccessDeadEnd(t *testing.T) {
	addr := authServer(t, &ServerConfig{
		RequiredAuthMethods: []string{"publickey", "password"},
		PublicKeyCallback: func(conn *ServerConn, user, algo string, pubkey []byte) bool {
			return false
		},
		PasswordCallback: func(conn *ServerConn, user, pass string) bool {
			return true
		},
	})

	config := &ClientConfig{
		User:            "smx",
		Auth:            []ClientAuth{ClientAuthPassword(Password("anything"))},
		HostKeyVerifier: InsecureIgnoreHostKey(),
	}
	if _, err := Dial("tcp", addr, config); err == nil {
		t.Fatalf("single method authenticated a two-method policy")
	}
}

func TestClientAuthKeyboardInteractive(t *testing.T) {
	answers := keyboardInteractive(map[string]string{
		"question1": "answer1",
		"question2": "answer2",
	})
	addr := authServer(t, &ServerConfig{
		KeyboardInteractiveCallback: func(conn *ServerConn, user string, client ClientKeyboardInteractive) bool {
			resp, err := client.Challenge("user", "instruction",
				[]string{"question1", "question2"}, []bool{true, false})
			if err != nil {
				return false
			}
			return len(resp) == 2 && resp[0] == "answer1" && resp[1] == "answer2"
		},
	})

	config := &ClientConfig{
		User:            "smx",
		Auth:            []ClientAuth{ClientAuthKeyboardInteractive(answers)},
		HostKeyVerifier: InsecureIgnoreHostKey(),
	}
	conn, err := Dial("tcp", addr, config)
	if err != nil {
		t.Fatalf("unable to dial: %v", err)
	}
	conn.Close()
}

// keyboardInteractive answers challenges from a fixed table.
type keyboardInteractive map[string]string

func (cr keyboardInteractive) Challenge(user string, instruction string, questions []string, echos []bool) ([]string, error) {
	var answers []string
	for _, q := range questions {
		answer, ok := cr[q]
		if !ok {
			return nil, errors.New("unknown question " + q)
		}
		answers = append(answers, answer)
	}
	return answers, nil
}

// The server must give up after MaxAuthTries failed attempts.
func TestServerMaxAuthTries(t *testing.T) {
	addr := authServer(t, &ServerConfig{
		MaxAuthTries: 2,
		PasswordCallback: func(conn *ServerConn, user, pass string) bool {
			return false
		},
	})

	config := &ClientConfig{
		User:            "smx",
		HostKeyVerifier: InsecureIgnoreHostKey(),
	}

	conn, err := rawDial(addr, config)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Request the userauth service by hand so we can hammer it.
	if err := conn.writePacket(marshal(msgServiceRequest, serviceRequestMsg{serviceUserAuth})); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.readPacket(); err != nil {
		t.Fatal(err)
	}
	conn.serviceRegistry.register(serviceUserAuth, 50, 79, nil)

	type passwordAuthMsg struct {
		User     string
		Service  string
		Method   string
		Reply    bool
		Password string
	}
	attempt := marshal(msgUserAuthRequest, passwordAuthMsg{
		User:    "smx",
		Service: serviceSSH,
		Method:  "password",
	})

	failures := 0
	for i := 0; i < 10; i++ {
		if err := conn.writePacket(attempt); err != nil {
			break
		}
		packet, err := conn.readPacket()
		if err != nil {
			break
		}
		if packet[0] != msgUserAuthFailure {
			t.Fatalf("unexpected message %d", packet[0])
		}
		failures++
	}
	if failures > 2 {
		t.Fatalf("server allowed %d attempts, cap was 2", failures)
	}
}

// rawDial runs the transport handshake only, leaving the userauth
// conversation to the caller.
func rawDial(addr string, config *ClientConfig) (*handshakeTransport, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	clientVersion := []byte(config.version())
	serverVersion, err := exchangeVersions(c, clientVersion, true)
	if err != nil {
		c.Close()
		return nil, err
	}
	t := newHandshakeTransport(newTransport(c, config.rand(), true), &config.TransportConfig, clientVersion, serverVersion)
	t.verifyHostKey = func(algo string, key PublicKey, keyBytes []byte) error { return nil }
	if err := t.handshake(); err != nil {
		c.Close()
		return nil, err
	}
	return t, nil
}
