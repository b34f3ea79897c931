// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// authenticate authenticates with the remote server. See RFC 4252.
func (c *ClientConn) authenticate() error {
	// The userauth service owns messages 50 through 79 for the duration of
	// the authentication dialogue.
	c.serviceRegistry.register(serviceUserAuth, 50, 79, nil)
	defer c.serviceRegistry.unregister(serviceUserAuth)

	// initiate user auth session
	if err := c.writePacket(marshal(msgServiceRequest, serviceRequestMsg{serviceUserAuth})); err != nil {
		return err
	}
	packet, err := c.readPacket()
	if err != nil {
		return err
	}
	var serviceAccept serviceAcceptMsg
	if err := unmarshal(&serviceAccept, packet, msgServiceAccept); err != nil {
		return err
	}
	if serviceAccept.Service != serviceUserAuth {
		return errors.New("ssh: service " + serviceAccept.Service + " accepted instead of " + serviceUserAuth)
	}

	t := authTransport{c}

	// during the authentication phase the client first attempts the
	// "none" method, then any untried methods suggested by the server.
	tried := make(map[string]bool)
	var lastMethods []string
	for auth := ClientAuth(new(noneAuth)); auth != nil; {
		ok, methods, err := auth.auth(c.SessionID(), c.config.User, t, c.config.rand())
		if err != nil {
			return err
		}
		if ok {
			// success
			return nil
		}
		tried[auth.method()] = true
		if methods == nil {
			methods = lastMethods
		}
		lastMethods = methods

		auth = nil
	findNext:
		for _, a := range c.config.Auth {
			candidateMethod := a.method()
			if tried[candidateMethod] {
				continue
			}
			for _, meth := range methods {
				if meth == candidateMethod {
					auth = a
					break findNext
				}
			}
		}
	}
	return fmt.Errorf("ssh: unable to authenticate, attempted methods %v, no supported methods remain", keys(tried))
}

func keys(m map[string]bool) (s []string) {
	for k := range m {
		s = append(s, k)
	}
	return
}

// authTransport filters userauth banners out of the packet stream during
// the authentication dialogue. RFC 4252 section 5.4.
type authTransport struct {
	*ClientConn
}

func (t authTransport) readPacket() ([]byte, error) {
	for {
		packet, err := t.ClientConn.readPacket()
		if err != nil {
			return nil, err
		}
		if packet[0] != msgUserAuthBanner {
			return packet, nil
		}
		var banner userAuthBannerMsg
		if err := unmarshal(&banner, packet, msgUserAuthBanner); err != nil {
			return nil, err
		}
		if cb := t.config.BannerCallback; cb != nil {
			if err := cb(safeString(banner.Message)); err != nil {
				return nil, err
			}
		}
	}
}

// A ClientAuth represents an instance of an RFC 4252 authentication method.
type ClientAuth interface {
	// auth authenticates user over transport t. Returns true if
	// authentication is successful. If authentication is not successful,
	// a []string of alternative method names is returned.
	auth(session []byte, user string, t packetConn, rand io.Reader) (bool, []string, error)

	// method returns the RFC 4252 method name.
	method() string
}

// "none" authentication, RFC 4252 section 5.2.
type noneAuth int

func (n *noneAuth) auth(session []byte, user string, t packetConn, rand io.Reader) (bool, []string, error) {
	if err := t.writePacket(marshal(msgUserAuthRequest, userAuthRequestMsg{
		User:    user,
		Service: serviceSSH,
		Method:  "none",
	})); err != nil {
		return false, nil, err
	}

	return handleAuthResponse(t)
}

func (n *noneAuth) method() string {
	return "none"
}

// handleAuthResponse reads the success or failure terminating an auth
// attempt. On failure the server's continuation name-list is returned; a
// set partial-success bit means the method completed but more are needed.
func handleAuthResponse(t packetConn) (bool, []string, error) {
	packet, err := t.readPacket()
	if err != nil {
		return false, nil, err
	}

	switch packet[0] {
	case msgUserAuthSuccess:
		return true, nil, nil
	case msgUserAuthFailure:
		var msg userAuthFailureMsg
		if err := unmarshal(&msg, packet, msgUserAuthFailure); err != nil {
			return false, nil, err
		}
		return false, msg.Methods, nil
	}
	return false, nil, UnexpectedMessageError{msgUserAuthSuccess, packet[0]}
}

// "password" authentication, RFC 4252 Section 8.
type passwordAuth struct {
	ClientPassword
}

func (p *passwordAuth) auth(session []byte, user string, t packetConn, rand io.Reader) (bool, []string, error) {
	type passwordAuthMsg struct {
		User     string
		Service  string
		Method   string
		Reply    bool
		Password string
	}

	pw, err := p.Password(user)
	if err != nil {
		return false, nil, err
	}

	if err := t.writePacket(marshal(msgUserAuthRequest, passwordAuthMsg{
		User:     user,
		Service:  serviceSSH,
		Method:   "password",
		Reply:    false,
		Password: pw,
	})); err != nil {
		return false, nil, err
	}

	packet, err := t.readPacket()
	if err != nil {
		return false, nil, err
	}
	switch packet[0] {
	case msgUserAuthSuccess:
		return true, nil, nil
	case msgUserAuthFailure:
		var msg userAuthFailureMsg
		if err := unmarshal(&msg, packet, msgUserAuthFailure); err != nil {
			return false, nil, err
		}
		return false, msg.Methods, nil
	case msgUserAuthPasswdChangeReq:
		var req userAuthPasswdChangeReqMsg
		if err := unmarshal(&req, packet, msgUserAuthPasswdChangeReq); err != nil {
			return false, nil, err
		}
		return false, nil, errors.New("ssh: password change required: " + safeString(req.Prompt))
	}
	return false, nil, UnexpectedMessageError{msgUserAuthSuccess, packet[0]}
}

func (p *passwordAuth) method() string {
	return "password"
}

// A ClientPassword implements access to a client's passwords.
type ClientPassword interface {
	// Password returns the password to use for user.
	Password(user string) (password string, err error)
}

// ClientAuthPassword returns a ClientAuth using password authentication.
func ClientAuthPassword(impl ClientPassword) ClientAuth {
	return &passwordAuth{impl}
}

// Password is a ClientPassword holding a static password.
type Password string

func (p Password) Password(user string) (string, error) { return string(p), nil }

// ClientKeyring implements access to a client key ring.
type ClientKeyring interface {
	// Key returns the i'th rsa, dsa or ecdsa key, or nil if no key exists
	// at i.
	Key(i int) (key PublicKey, err error)

	// Sign returns a signature of the given data using the i'th key.
	Sign(i int, rand io.Reader, data []byte) (sig []byte, err error)
}

// "publickey" authentication, RFC 4252 Section 7.
type publickeyAuth struct {
	ClientKeyring
}

type publickeyAuthMsg struct {
	User    string
	Service string
	Method  string
	// HasSig indicates to the receiver packet that the auth request is
	// signed and should be used for authentication of the request.
	HasSig   bool
	Algoname string
	Pubkey   string
	// Sig is defined as []byte so marshal will exclude it during the
	// query phase.
	Sig []byte `ssh:"rest"`
}

func (p *publickeyAuth) auth(session []byte, user string, t packetConn, rand io.Reader) (bool, []string, error) {
	// Authentication is performed in two stages. The first stage sends an
	// enquiry to test if each key is acceptable to the remote. The second
	// stage attempts to authenticate with the valid keys obtained in the
	// first stage.

	var index int
	// a map of keyring index to each public key the server accepts
	validKeys := make(map[int]PublicKey)
	for {
		key, err := p.Key(index)
		if err != nil {
			return false, nil, err
		}
		if key == nil {
			// no more keys in the keyring
			break
		}

		if ok, err := p.validateKey(key, user, t); ok {
			validKeys[index] = key
		} else if err != nil {
			return false, nil, err
		}
		index++
	}

	// methods that may continue if this auth is not successful.
	var methods []string
	for i, key := range validKeys {
		pubkey := MarshalPublicKey(key)
		algoname := key.PublicKeyAlgo()
		data := buildDataSignedForAuth(session, userAuthRequestMsg{
			User:    user,
			Service: serviceSSH,
			Method:  p.method(),
		}, []byte(algoname), pubkey)
		sigBlob, err := p.Sign(i, rand, data)
		if err != nil {
			return false, nil, err
		}

		// manually wrap the serialized signature in a string
		s := serializeSignature(key.PrivateKeyAlgo(), sigBlob)
		sig := make([]byte, stringLength(len(s)))
		marshalString(sig, s)
		msg := publickeyAuthMsg{
			User:     user,
			Service:  serviceSSH,
			Method:   p.method(),
			HasSig:   true,
			Algoname: algoname,
			Pubkey:   string(pubkey),
			Sig:      sig,
		}
		if err := t.writePacket(marshal(msgUserAuthRequest, msg)); err != nil {
			return false, nil, err
		}
		success, methods, err := handleAuthResponse(t)
		if err != nil {
			return false, nil, err
		}
		if success {
			return success, methods, err
		}
	}
	return false, methods, nil
}

// validateKey validates the key provided it is acceptable to the server.
func (p *publickeyAuth) validateKey(key PublicKey, user string, t packetConn) (bool, error) {
	pubkey := MarshalPublicKey(key)
	algoname := key.PublicKeyAlgo()
	msg := publickeyAuthMsg{
		User:     user,
		Service:  serviceSSH,
		Method:   p.method(),
		HasSig:   false,
		Algoname: algoname,
		Pubkey:   string(pubkey),
	}
	if err := t.writePacket(marshal(msgUserAuthRequest, msg)); err != nil {
		return false, err
	}

	return p.confirmKeyAck(key, t)
}

func (p *publickeyAuth) confirmKeyAck(key PublicKey, t packetConn) (bool, error) {
	pubkey := MarshalPublicKey(key)
	algoname := key.PublicKeyAlgo()

	for {
		packet, err := t.readPacket()
		if err != nil {
			return false, err
		}
		switch packet[0] {
		case msgUserAuthPubKeyOk:
			msg := userAuthPubKeyOkMsg{}
			if err := unmarshal(&msg, packet, msgUserAuthPubKeyOk); err != nil {
				return false, err
			}
			if msg.Algo != algoname || msg.PubKey != string(pubkey) {
				return false, nil
			}
			return true, nil
		case msgUserAuthFailure:
			return false, nil
		default:
			return false, UnexpectedMessageError{msgUserAuthSuccess, packet[0]}
		}
	}
}

func (p *publickeyAuth) method() string {
	return "publickey"
}

// ClientAuthKeyring returns a ClientAuth using public key authentication.
func ClientAuthKeyring(impl ClientKeyring) ClientAuth {
	return &publickeyAuth{impl}
}

// signerKeyring adapts a list of Signers into a ClientKeyring.
type signerKeyring struct {
	signers []Signer
}

func (k *signerKeyring) Key(i int) (PublicKey, error) {
	if i < 0 || i >= len(k.signers) {
		return nil, nil
	}
	return k.signers[i].PublicKey(), nil
}

func (k *signerKeyring) Sign(i int, rand io.Reader, data []byte) ([]byte, error) {
	return k.signers[i].Sign(rand, data)
}

// ClientAuthSigners returns a ClientAuth using public key authentication
// with the given signers.
func ClientAuthSigners(signers ...Signer) ClientAuth {
	return &publickeyAuth{&signerKeyring{signers}}
}

// ClientKeyboardInteractive should prompt the user for the given questions.
type ClientKeyboardInteractive interface {
	// Challenge should print the questions, optionally disabling echoing
	// (eg. for passwords), and return all the answers. Challenge may be
	// called multiple times in a single session. After successful
	// authentication, the server may send a challenge with no questions,
	// for which the user and instruction messages should be printed.
	Challenge(user, instruction string, questions []string, echos []bool) ([]string, error)
}

// "keyboard-interactive" authentication, RFC 4256.
type keyboardInteractiveAuth struct {
	ClientKeyboardInteractive
}

func (k *keyboardInteractiveAuth) method() string {
	return "keyboard-interactive"
}

func (k *keyboardInteractiveAuth) auth(session []byte, user string, t packetConn, rand io.Reader) (bool, []string, error) {
	type initiateMsg struct {
		User       string
		Service    string
		Method     string
		Language   string
		Submethods string
	}

	if err := t.writePacket(marshal(msgUserAuthRequest, initiateMsg{
		User:    user,
		Service: serviceSSH,
		Method:  "keyboard-interactive",
	})); err != nil {
		return false, nil, err
	}

	for {
		packet, err := t.readPacket()
		if err != nil {
			return false, nil, err
		}

		// like handleAuthResponse, but with less options.
		switch packet[0] {
		case msgUserAuthSuccess:
			return true, nil, nil
		case msgUserAuthFailure:
			var msg userAuthFailureMsg
			if err := unmarshal(&msg, packet, msgUserAuthFailure); err != nil {
				return false, nil, err
			}
			return false, msg.Methods, nil
		case msgUserAuthInfoRequest:
			// OK
		default:
			return false, nil, UnexpectedMessageError{msgUserAuthInfoRequest, packet[0]}
		}

		var msg userAuthInfoRequestMsg
		if err := unmarshal(&msg, packet, msgUserAuthInfoRequest); err != nil {
			return false, nil, err
		}

		// Manually unpack the prompt/echo pairs.
		rest := msg.Prompts
		var prompts []string
		var echos []bool
		for i := 0; i < int(msg.NumPrompts); i++ {
			prompt, r, ok := parseString(rest)
			if !ok || len(r) == 0 {
				return false, nil, errors.New("ssh: prompt format error")
			}
			prompts = append(prompts, string(prompt))
			echos = append(echos, r[0] != 0)
			rest = r[1:]
		}

		if len(rest) != 0 {
			return false, nil, fmt.Errorf("ssh: junk following message %q", rest)
		}

		answers, err := k.Challenge(user, msg.Instruction, prompts, echos)
		if err != nil {
			return false, nil, err
		}

		if len(answers) != len(prompts) {
			return false, nil, errors.New("ssh: not enough answers from keyboard-interactive callback")
		}
		responseLength := 1 + 4
		for _, a := range answers {
			responseLength += stringLength(len(a))
		}
		serialized := make([]byte, responseLength)
		p := serialized
		p[0] = msgUserAuthInfoResponse
		p = p[1:]
		p = marshalUint32(p, uint32(len(answers)))
		for _, a := range answers {
			p = marshalString(p, []byte(a))
		}

		if err := t.writePacket(serialized); err != nil {
			return false, nil, err
		}
	}
}

// ClientAuthKeyboardInteractive returns a ClientAuth using a
// prompt/response sequence controlled by the server.
func ClientAuthKeyboardInteractive(impl ClientKeyboardInteractive) ClientAuth {
	return &keyboardInteractiveAuth{impl}
}

// ClientAuthAgent returns a ClientAuth using public key authentication via
// an agent.
func ClientAuthAgent(agent *AgentClient) ClientAuth {
	return ClientAuthKeyring(agent)
}

// TerminalPrompter answers password and keyboard-interactive challenges on
// the controlling terminal. It implements ClientPassword and
// ClientKeyboardInteractive.
type TerminalPrompter struct {
	// Out receives prompts and instructions; os.Stderr if nil.
	Out io.Writer
}

func (t *TerminalPrompter) out() io.Writer {
	if t.Out != nil {
		return t.Out
	}
	return os.Stderr
}

func (t *TerminalPrompter) Password(user string) (string, error) {
	fmt.Fprintf(t.out(), "%s's password: ", user)
	defer fmt.Fprintln(t.out())
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (t *TerminalPrompter) Challenge(user, instruction string, questions []string, echos []bool) ([]string, error) {
	if instruction != "" {
		fmt.Fprintln(t.out(), safeString(instruction))
	}
	var answers []string
	for i, q := range questions {
		fmt.Fprint(t.out(), safeString(q))
		if echos[i] {
			tm := term.NewTerminal(os.Stdin, "")
			line, err := tm.ReadLine()
			if err != nil {
				return nil, err
			}
			answers = append(answers, line)
		} else {
			b, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(t.out())
			if err != nil {
				return nil, err
			}
			answers = append(answers, string(b))
		}
	}
	return answers, nil
}
