// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"time"
)

// These constants from [PROTOCOL.certkeys] represent the algorithm names
// for certificate types supported by this package.
const (
	CertAlgoRSAv01      = "ssh-rsa-cert-v01@openssh.com"
	CertAlgoDSAv01      = "ssh-dss-cert-v01@openssh.com"
	CertAlgoECDSA256v01 = "ecdsa-sha2-nistp256-cert-v01@openssh.com"
	CertAlgoECDSA384v01 = "ecdsa-sha2-nistp384-cert-v01@openssh.com"
	CertAlgoECDSA521v01 = "ecdsa-sha2-nistp521-cert-v01@openssh.com"
)

// Certificate types are used to specify whether a certificate is for
// identification of a user or a host. Current identities are defined in
// [PROTOCOL.certkeys].
const (
	UserCert = 1
	HostCert = 2
)

type tuple struct {
	Name string
	Data string
}

// An OpenSSHCertV01 represents an OpenSSH certificate as defined in
// [PROTOCOL.certkeys]?rev=1.8.
type OpenSSHCertV01 struct {
	Nonce                   []byte
	Key                     PublicKey
	Serial                  uint64
	Type                    uint32
	KeyId                   string
	ValidPrincipals         []string
	ValidAfter, ValidBefore time.Time
	CriticalOptions         []tuple
	Extensions              []tuple
	Reserved                []byte
	SignatureKey            PublicKey
	Signature               *signature
}

// validateOpenSSHCertV01Signature uses the cert's SignatureKey to verify
// that the cert's signature covers the rest of the cert.
func validateOpenSSHCertV01Signature(cert *OpenSSHCertV01) bool {
	// Convert the cert into the format used to compute its signature: the
	// whole certificate minus the signature field.
	blob := cert.marshalBody(false)
	return cert.SignatureKey.Verify(blob, cert.Signature.Blob)
}

func parseOpenSSHCertV01(in []byte, algo string) (out PublicKey, rest []byte, ok bool) {
	cert := new(OpenSSHCertV01)

	if cert.Nonce, in, ok = parseString(in); !ok {
		return
	}

	switch algo {
	case CertAlgoRSAv01:
		if cert.Key, in, ok = parseRSA(in); !ok {
			return
		}
	case CertAlgoDSAv01:
		if cert.Key, in, ok = parseDSA(in); !ok {
			return
		}
	case CertAlgoECDSA256v01, CertAlgoECDSA384v01, CertAlgoECDSA521v01:
		if cert.Key, in, ok = parseECDSA(in); !ok {
			return
		}
	default:
		ok = false
		return
	}

	if cert.Serial, in, ok = parseUint64(in); !ok {
		return
	}

	if cert.Type, in, ok = parseUint32(in); !ok || cert.Type != UserCert && cert.Type != HostCert {
		return
	}

	keyId, in, ok := parseString(in)
	if !ok {
		return
	}
	cert.KeyId = string(keyId)

	if cert.ValidPrincipals, in, ok = parseLengthPrefixedNameList(in); !ok {
		return
	}

	va, in, ok := parseUint64(in)
	if !ok {
		return
	}
	cert.ValidAfter = time.Unix(int64(va), 0)

	vb, in, ok := parseUint64(in)
	if !ok {
		return
	}
	cert.ValidBefore = time.Unix(int64(vb), 0)

	if cert.CriticalOptions, in, ok = parseTupleList(in); !ok {
		return
	}

	if cert.Extensions, in, ok = parseTupleList(in); !ok {
		return
	}

	if cert.Reserved, in, ok = parseString(in); !ok {
		return
	}

	sigKey, in, ok := parseString(in)
	if !ok {
		return
	}
	if cert.SignatureKey, _, ok = parsePubKey(sigKey); !ok {
		return
	}

	var sigBytes []byte
	if sigBytes, in, ok = parseString(in); !ok {
		return
	}
	var sig signature
	var trailing []byte
	if sig, trailing, ok = parseSignatureBody(sigBytes); !ok || len(trailing) > 0 {
		ok = false
		return
	}
	cert.Signature = &sig

	ok = true
	return cert, in, ok
}

// marshalBody serializes the certificate, optionally including the
// signature field. Signatures are computed over the body without it.
func (cert *OpenSSHCertV01) marshalBody(withSignature bool) []byte {
	pubKey := cert.Key.Marshal()
	sigKey := MarshalPublicKey(cert.SignatureKey)

	length := stringLength(len(cert.Nonce))
	length += len(pubKey)
	length += 8 // Length of Serial
	length += 4 // Length of Type
	length += stringLength(len(cert.KeyId))
	length += lengthPrefixedNameListLength(cert.ValidPrincipals)
	length += 8 // Length of ValidAfter
	length += 8 // Length of ValidBefore
	length += tupleListLength(cert.CriticalOptions)
	length += tupleListLength(cert.Extensions)
	length += stringLength(len(cert.Reserved))
	length += stringLength(len(sigKey))
	if withSignature {
		length += signatureLength(cert.Signature)
	}

	ret := make([]byte, length)
	r := marshalString(ret, cert.Nonce)
	copy(r, pubKey)
	r = r[len(pubKey):]
	r = marshalUint64(r, cert.Serial)
	r = marshalUint32(r, cert.Type)
	r = marshalString(r, []byte(cert.KeyId))
	r = marshalLengthPrefixedNameList(r, cert.ValidPrincipals)
	r = marshalUint64(r, uint64(cert.ValidAfter.Unix()))
	r = marshalUint64(r, uint64(cert.ValidBefore.Unix()))
	r = marshalTupleList(r, cert.CriticalOptions)
	r = marshalTupleList(r, cert.Extensions)
	r = marshalString(r, cert.Reserved)
	r = marshalString(r, sigKey)
	if withSignature {
		r = marshalSignature(r, cert.Signature)
	}
	if len(r) > 0 {
		panic("internal error")
	}
	return ret
}

// Marshal serializes the certificate without its algorithm name prefix.
func (cert *OpenSSHCertV01) Marshal() []byte {
	return cert.marshalBody(true)
}

func (cert *OpenSSHCertV01) PublicKeyAlgo() string {
	switch cert.Key.PublicKeyAlgo() {
	case KeyAlgoRSA:
		return CertAlgoRSAv01
	case KeyAlgoDSA:
		return CertAlgoDSAv01
	case KeyAlgoECDSA256:
		return CertAlgoECDSA256v01
	case KeyAlgoECDSA384:
		return CertAlgoECDSA384v01
	case KeyAlgoECDSA521:
		return CertAlgoECDSA521v01
	}
	panic("ssh: unsupported certificate key type")
}

// PrivateKeyAlgo names the algorithm of the certified key; signatures made
// by the certificate holder use it.
func (cert *OpenSSHCertV01) PrivateKeyAlgo() string {
	return cert.Key.PrivateKeyAlgo()
}

// Verify checks a signature made by the certified key.
func (cert *OpenSSHCertV01) Verify(data []byte, sigBlob []byte) bool {
	return cert.Key.Verify(data, sigBlob)
}

func (cert *OpenSSHCertV01) RawKey() interface{} {
	return cert.Key.RawKey()
}

func lengthPrefixedNameListLength(namelist []string) int {
	length := 4 // length prefix for list
	for _, name := range namelist {
		length += 4 // length prefix for name
		length += len(name)
	}
	return length
}

func marshalLengthPrefixedNameList(to []byte, namelist []string) []byte {
	length := uint32(lengthPrefixedNameListLength(namelist) - 4)
	to = marshalUint32(to, length)
	for _, name := range namelist {
		to = marshalString(to, []byte(name))
	}
	return to
}

func parseLengthPrefixedNameList(in []byte) (out []string, rest []byte, ok bool) {
	list, rest, ok := parseString(in)
	if !ok {
		return
	}

	for len(list) > 0 {
		var next []byte
		if next, list, ok = parseString(list); !ok {
			return nil, nil, false
		}
		out = append(out, string(next))
	}
	ok = true
	return
}

func tupleListLength(tupleList []tuple) int {
	length := 4 // length prefix for list
	for _, t := range tupleList {
		length += 4 // length prefix for t.Name
		length += len(t.Name)
		length += 4 // length prefix for t.Data
		length += len(t.Data)
	}
	return length
}

func marshalTupleList(to []byte, tuplelist []tuple) []byte {
	length := uint32(tupleListLength(tuplelist) - 4)
	to = marshalUint32(to, length)
	for _, t := range tuplelist {
		to = marshalString(to, []byte(t.Name))
		to = marshalString(to, []byte(t.Data))
	}
	return to
}

func parseTupleList(in []byte) (out []tuple, rest []byte, ok bool) {
	list, rest, ok := parseString(in)
	if !ok {
		return
	}

	for len(list) > 0 {
		var name, data []byte
		var ok bool
		name, list, ok = parseString(list)
		if !ok {
			return nil, nil, false
		}
		data, list, ok = parseString(list)
		if !ok {
			return nil, nil, false
		}
		out = append(out, tuple{string(name), string(data)})
	}
	ok = true
	return
}

func signatureLength(sig *signature) int {
	length := 4 // length prefix for signature
	length += stringLength(len(sig.Format))
	length += stringLength(len(sig.Blob))
	return length
}

func marshalSignature(to []byte, sig *signature) []byte {
	length := uint32(signatureLength(sig) - 4)
	to = marshalUint32(to, length)
	to = marshalString(to, []byte(sig.Format))
	to = marshalString(to, sig.Blob)
	return to
}
