// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package ssh implements an SSH client and server.

SSH is a transport security protocol, an authentication protocol and a
family of application protocols. The most typical application level
protocol is a remote shell and this is specifically implemented.  However,
the multiplexed nature of SSH is exposed to users that wish to support
others.

An SSH server is represented by a ServerConfig, which holds certificate
details and handles authentication of ServerConns.

	config := new(ssh.ServerConfig)
	config.PasswordCallback = func(conn *ssh.ServerConn, user, password string) bool {
		return user == "testuser" && password == "tiger"
	}

	hostKey, err := ssh.ParsePrivateKey(privateKeyPEM)
	if err != nil {
		panic("failed to parse host key")
	}
	config.AddHostKey(hostKey)

Once a ServerConfig has been configured, connections can be accepted.

	listener, err := ssh.Listen("tcp", "0.0.0.0:2022", config)
	if err != nil {
		panic("failed to listen for connection")
	}
	sConn, err := listener.Accept()
	if err != nil {
		panic("failed to accept incoming connection")
	}
	if err := sConn.Handshake(); err != nil {
		panic("failed to handshake")
	}

An SSH client is represented with a ClientConn. The "none", "password",
"publickey" and "keyboard-interactive" authentication methods are implemented;
public keys may also be taken from an SSH agent.

	verifier, err := knownhosts.FromFiles("/home/username/.ssh/known_hosts")
	if err != nil {
		panic("failed to load known_hosts")
	}
	config := &ssh.ClientConfig{
		User: "username",
		Auth: []ssh.ClientAuth{
			ssh.ClientAuthPassword(ssh.Password("yourpassword")),
		},
		HostKeyVerifier: verifier,
	}
	client, err := ssh.Dial("tcp", "yourserver.com:22", config)

Each ClientConn can support multiple interactive sessions, represented by a
Session.

	session, err := client.NewSession()

Once a Session is created, you can execute a single command on the remote
side using the Run method.

	if err := session.Run("/usr/bin/whoami"); err != nil {
		panic("Failed to exec: " + err.Error())
	}
*/
package ssh
