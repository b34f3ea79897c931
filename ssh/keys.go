// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
)

// These constants represent the algorithm names for key types supported by
// this package.
const (
	KeyAlgoRSA      = "ssh-rsa"
	KeyAlgoDSA      = "ssh-dss"
	KeyAlgoECDSA256 = "ecdsa-sha2-nistp256"
	KeyAlgoECDSA384 = "ecdsa-sha2-nistp384"
	KeyAlgoECDSA521 = "ecdsa-sha2-nistp521"
)

// parsePubKey parses a public key according to RFC 4253, section 6.6.
func parsePubKey(in []byte) (pubKey PublicKey, rest []byte, ok bool) {
	algo, in, ok := parseString(in)
	if !ok {
		return
	}

	switch string(algo) {
	case KeyAlgoRSA:
		return parseRSA(in)
	case KeyAlgoDSA:
		return parseDSA(in)
	case KeyAlgoECDSA256, KeyAlgoECDSA384, KeyAlgoECDSA521:
		return parseECDSA(in)
	case CertAlgoRSAv01, CertAlgoDSAv01, CertAlgoECDSA256v01, CertAlgoECDSA384v01, CertAlgoECDSA521v01:
		return parseOpenSSHCertV01(in, string(algo))
	}
	return nil, nil, false
}

// ParsePublicKey parses an SSH public key formatted for use in
// the SSH wire protocol.
func ParsePublicKey(in []byte) (out PublicKey, rest []byte, ok bool) {
	return parsePubKey(in)
}

// MarshalPublicKey serializes a PublicKey for the SSH wire protocol,
// prefixed by its algorithm name. See RFC 4253, section 6.6.
func MarshalPublicKey(key PublicKey) []byte {
	algoname := key.PublicKeyAlgo()
	blob := key.Marshal()

	length := stringLength(len(algoname))
	length += len(blob)
	ret := make([]byte, length)
	r := marshalString(ret, []byte(algoname))
	copy(r, blob)
	return ret
}

// parseAuthorizedKey parses a public key in OpenSSH authorized_keys format
// (see sshd(8) manual page) once the options and key type fields have been
// removed.
func parseAuthorizedKey(in []byte) (out PublicKey, comment string, ok bool) {
	in = bytes.TrimSpace(in)

	i := bytes.IndexAny(in, " \t")
	if i == -1 {
		i = len(in)
	}
	base64Key := in[:i]

	key := make([]byte, base64.StdEncoding.DecodedLen(len(base64Key)))
	n, err := base64.StdEncoding.Decode(key, base64Key)
	if err != nil {
		return
	}
	key = key[:n]
	out, _, ok = parsePubKey(key)
	if !ok {
		return nil, "", false
	}
	comment = string(bytes.TrimSpace(in[i:]))
	return
}

// ParseAuthorizedKey parses a public key from an authorized_keys
// file used in OpenSSH according to the sshd(8) manual page.
func ParseAuthorizedKey(in []byte) (out PublicKey, comment string, options []string, rest []byte, ok bool) {
	for len(in) > 0 {
		end := bytes.IndexByte(in, '\n')
		if end != -1 {
			rest = in[end+1:]
			in = in[:end]
		} else {
			rest = nil
		}

		end = bytes.IndexByte(in, '\r')
		if end != -1 {
			in = in[:end]
		}

		in = bytes.TrimSpace(in)
		if len(in) == 0 || in[0] == '#' {
			in = rest
			continue
		}

		i := bytes.IndexAny(in, " \t")
		if i == -1 {
			in = rest
			continue
		}

		if out, comment, ok = parseAuthorizedKey(in[i:]); ok {
			return
		}

		// No key type recognised. Maybe there's an options field at
		// the beginning.
		var b byte
		inQuote := false
		var candidateOptions []string
		optionStart := 0
		for i, b = range in {
			isEnd := !inQuote && (b == ' ' || b == '\t')
			if (b == ',' && !inQuote) || isEnd {
				if i-optionStart > 0 {
					candidateOptions = append(candidateOptions, string(in[optionStart:i]))
				}
				optionStart = i + 1
			}
			if isEnd {
				break
			}
			if b == '"' && (i == 0 || (i > 0 && in[i-1] != '\\')) {
				inQuote = !inQuote
			}
		}
		for i < len(in) && (in[i] == ' ' || in[i] == '\t') {
			i++
		}
		if i == len(in) {
			// Invalid line: unmatched quote
			in = rest
			continue
		}

		in = in[i:]
		i = bytes.IndexAny(in, " \t")
		if i == -1 {
			in = rest
			continue
		}

		if out, comment, ok = parseAuthorizedKey(in[i:]); ok {
			options = candidateOptions
			return
		}

		in = rest
		continue
	}

	return
}

// MarshalAuthorizedKey returns a byte stream suitable for inclusion
// in an OpenSSH authorized_keys file following the format specified
// in the sshd(8) manual page.
func MarshalAuthorizedKey(key PublicKey) []byte {
	b := &bytes.Buffer{}
	b.WriteString(key.PublicKeyAlgo())
	b.WriteByte(' ')
	e := base64.NewEncoder(base64.StdEncoding, b)
	e.Write(MarshalPublicKey(key))
	e.Close()
	b.WriteByte('\n')
	return b.Bytes()
}

// PublicKey is an abstraction of different types of public keys.
type PublicKey interface {
	// PrivateKeyAlgo returns the name of the encryption system.
	PrivateKeyAlgo() string

	// PublicKeyAlgo returns the algorithm for the public key,
	// which may be different from PrivateKeyAlgo for certificates.
	PublicKeyAlgo() string

	// Marshal returns the serialized key data in SSH wire format,
	// without the name prefix.  Callers should typically use
	// MarshalPublicKey().
	Marshal() []byte

	// Verify that sig is a signature on the given data using this
	// key. This function will hash the data appropriately first.
	Verify(data []byte, sigBlob []byte) bool

	// RawKey returns the underlying object, eg. *rsa.PublicKey.
	RawKey() interface{}
}

// A Signer is can create signatures that verify against a public key.
type Signer interface {
	// PublicKey returns an associated PublicKey instance.
	PublicKey() PublicKey

	// Sign returns raw signature for the given data. This method will
	// apply the hash specified for the keytype to the data, and encode
	// the result in the SSH wire form of the algorithm.
	Sign(rand io.Reader, data []byte) ([]byte, error)
}

// signAndMarshal signs the data with the appropriate algorithm and
// serializes the result according to RFC 4254 section 6.6.
func signAndMarshal(k Signer, rand io.Reader, data []byte) ([]byte, error) {
	sig, err := k.Sign(rand, data)
	if err != nil {
		return nil, err
	}
	return serializeSignature(k.PublicKey().PrivateKeyAlgo(), sig), nil
}

type rsaPublicKey rsa.PublicKey

func (r *rsaPublicKey) PrivateKeyAlgo() string {
	return KeyAlgoRSA
}

func (r *rsaPublicKey) PublicKeyAlgo() string {
	return KeyAlgoRSA
}

func (r *rsaPublicKey) RawKey() interface{} {
	return (*rsa.PublicKey)(r)
}

// parseRSA parses an RSA key according to RFC 4253, section 6.6.
func parseRSA(in []byte) (out PublicKey, rest []byte, ok bool) {
	key := new(rsa.PublicKey)

	bigE, in, ok := parseInt(in)
	if !ok || bigE.BitLen() > 24 {
		return
	}
	e := bigE.Int64()
	if e < 3 || e&1 == 0 {
		ok = false
		return
	}
	key.E = int(e)

	if key.N, in, ok = parseInt(in); !ok {
		return
	}

	ok = true
	return NewRSAPublicKey(key), in, ok
}

func (r *rsaPublicKey) Marshal() []byte {
	// See RFC 4253, section 6.6.
	e := new(big.Int).SetInt64(int64(r.E))
	length := intLength(e)
	length += intLength(r.N)

	ret := make([]byte, length)
	rest := marshalInt(ret, e)
	marshalInt(rest, r.N)

	return ret
}

func (r *rsaPublicKey) Verify(data []byte, sig []byte) bool {
	h := crypto.SHA1.New()
	h.Write(data)
	digest := h.Sum(nil)
	return rsa.VerifyPKCS1v15((*rsa.PublicKey)(r), crypto.SHA1, digest, sig) == nil
}

// NewRSAPublicKey wraps an *rsa.PublicKey for the wire protocol.
func NewRSAPublicKey(k *rsa.PublicKey) PublicKey {
	return (*rsaPublicKey)(k)
}

type dsaPublicKey dsa.PublicKey

func (r *dsaPublicKey) PrivateKeyAlgo() string {
	return KeyAlgoDSA
}

func (r *dsaPublicKey) PublicKeyAlgo() string {
	return KeyAlgoDSA
}

func (r *dsaPublicKey) RawKey() interface{} {
	return (*dsa.PublicKey)(r)
}

// parseDSA parses an DSA key according to RFC 4253, section 6.6.
func parseDSA(in []byte) (out PublicKey, rest []byte, ok bool) {
	key := new(dsa.PublicKey)

	if key.P, in, ok = parseInt(in); !ok {
		return
	}

	if key.Q, in, ok = parseInt(in); !ok {
		return
	}

	if key.G, in, ok = parseInt(in); !ok {
		return
	}

	if key.Y, in, ok = parseInt(in); !ok {
		return
	}

	ok = true
	return NewDSAPublicKey(key), in, ok
}

func (r *dsaPublicKey) Marshal() []byte {
	// See RFC 4253, section 6.6.
	length := intLength(r.P)
	length += intLength(r.Q)
	length += intLength(r.G)
	length += intLength(r.Y)

	ret := make([]byte, length)
	rest := marshalInt(ret, r.P)
	rest = marshalInt(rest, r.Q)
	rest = marshalInt(rest, r.G)
	marshalInt(rest, r.Y)

	return ret
}

func (k *dsaPublicKey) Verify(data []byte, sigBlob []byte) bool {
	h := crypto.SHA1.New()
	h.Write(data)
	digest := h.Sum(nil)

	// Per RFC 4253, section 6.6,
	// The value for 'dss_signature_blob' is encoded as a string containing
	// r, followed by s (which are 160-bit integers, without lengths or
	// padding, unsigned, and in network byte order).
	// For DSS purposes, sig.Blob should be exactly 40 bytes in length.
	if len(sigBlob) != 40 {
		return false
	}
	r := new(big.Int).SetBytes(sigBlob[:20])
	s := new(big.Int).SetBytes(sigBlob[20:])
	return dsa.Verify((*dsa.PublicKey)(k), digest, r, s)
}

// NewDSAPublicKey wraps a *dsa.PublicKey for the wire protocol.
func NewDSAPublicKey(k *dsa.PublicKey) PublicKey {
	return (*dsaPublicKey)(k)
}

type ecdsaPublicKey ecdsa.PublicKey

// NewECDSAPublicKey wraps an *ecdsa.PublicKey for the wire protocol.
func NewECDSAPublicKey(k *ecdsa.PublicKey) PublicKey {
	return (*ecdsaPublicKey)(k)
}

func (r *ecdsaPublicKey) RawKey() interface{} {
	return (*ecdsa.PublicKey)(r)
}

func (key *ecdsaPublicKey) PrivateKeyAlgo() string {
	return "ecdsa-sha2-" + key.nistID()
}

func (key *ecdsaPublicKey) nistID() string {
	switch key.Params().BitSize {
	case 256:
		return "nistp256"
	case 384:
		return "nistp384"
	case 521:
		return "nistp521"
	}
	panic("ssh: unsupported ecdsa key size")
}

// RFC 5656, section 6.2.1 (for ECDSA).
func (key *ecdsaPublicKey) hash() crypto.Hash {
	switch key.Params().BitSize {
	case 256:
		return crypto.SHA256
	case 384:
		return crypto.SHA384
	case 521:
		return crypto.SHA512
	}
	panic("ssh: unsupported ecdsa key size")
}

func (key *ecdsaPublicKey) PublicKeyAlgo() string {
	switch key.Params().BitSize {
	case 256:
		return KeyAlgoECDSA256
	case 384:
		return KeyAlgoECDSA384
	case 521:
		return KeyAlgoECDSA521
	}
	panic("ssh: unsupported ecdsa key size")
}

// parseECDSA parses an ECDSA key according to RFC 5656, section 3.1.
func parseECDSA(in []byte) (out PublicKey, rest []byte, ok bool) {
	var identifier []byte
	if identifier, in, ok = parseString(in); !ok {
		return
	}

	key := new(ecdsa.PublicKey)

	switch string(identifier) {
	case "nistp256":
		key.Curve = elliptic.P256()
	case "nistp384":
		key.Curve = elliptic.P384()
	case "nistp521":
		key.Curve = elliptic.P521()
	default:
		ok = false
		return
	}

	var keyBytes []byte
	if keyBytes, in, ok = parseString(in); !ok {
		return
	}

	key.X, key.Y = elliptic.Unmarshal(key.Curve, keyBytes)
	if key.X == nil || key.Y == nil {
		ok = false
		return
	}
	return NewECDSAPublicKey(key), in, ok
}

func (key *ecdsaPublicKey) Marshal() []byte {
	// See RFC 5656, section 3.1.
	keyBytes := elliptic.Marshal(key.Curve, key.X, key.Y)

	ID := key.nistID()
	length := stringLength(len(ID))
	length += stringLength(len(keyBytes))

	ret := make([]byte, length)
	r := marshalString(ret, []byte(ID))
	r = marshalString(r, keyBytes)
	return ret
}

func (key *ecdsaPublicKey) Verify(data []byte, sigBlob []byte) bool {
	h := key.hash().New()
	h.Write(data)
	digest := h.Sum(nil)

	der, err := ecdsaDERFromBlob(sigBlob)
	if err != nil {
		return false
	}
	return ecdsa.VerifyASN1((*ecdsa.PublicKey)(key), digest, der)
}

// asn1Signature is the DER SEQUENCE{r, s} form of an ECDSA or DSA
// signature.
type asn1Signature struct {
	R, S *big.Int
}

// ecdsaBlobFromDER converts an ASN.1 DER encoded ECDSA signature into the
// SSH wire form of RFC 5656 section 3.1.2: mpint r followed by mpint s.
func ecdsaBlobFromDER(der []byte) ([]byte, error) {
	var sig asn1Signature
	rest, err := asn1.Unmarshal(der, &sig)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, errors.New("ssh: trailing bytes in ECDSA signature")
	}
	blob := make([]byte, intLength(sig.R)+intLength(sig.S))
	rem := marshalInt(blob, sig.R)
	marshalInt(rem, sig.S)
	return blob, nil
}

// ecdsaDERFromBlob converts the SSH wire form of an ECDSA signature back
// into ASN.1 DER.
func ecdsaDERFromBlob(blob []byte) ([]byte, error) {
	r, blob, ok := parseInt(blob)
	if !ok {
		return nil, errors.New("ssh: malformed ECDSA signature blob")
	}
	s, blob, ok := parseInt(blob)
	if !ok || len(blob) > 0 {
		return nil, errors.New("ssh: malformed ECDSA signature blob")
	}
	return asn1.Marshal(asn1Signature{R: r, S: s})
}

// signature in SSH wire format: algorithm name plus raw blob.
type signature struct {
	Format string
	Blob   []byte
}

// parseSignatureBody parses a signature without the outer length prefix.
func parseSignatureBody(in []byte) (out signature, rest []byte, ok bool) {
	var format []byte
	if format, in, ok = parseString(in); !ok {
		return
	}
	out.Format = string(format)
	if out.Blob, in, ok = parseString(in); !ok {
		return
	}
	return out, in, ok
}

// parseSignature parses a length-prefixed signature as found in userauth
// requests. RFC 4252 section 7.
func parseSignature(in []byte) (out signature, rest []byte, ok bool) {
	var sigBytes []byte
	if sigBytes, rest, ok = parseString(in); !ok {
		return
	}
	var trailing []byte
	if out, trailing, ok = parseSignatureBody(sigBytes); !ok || len(trailing) > 0 {
		ok = false
		return
	}
	return
}

// pubAlgoToPrivAlgo returns the name of the private key algorithm
// corresponding to a public key algorithm name.
func pubAlgoToPrivAlgo(algo string) string {
	switch algo {
	case CertAlgoRSAv01:
		return KeyAlgoRSA
	case CertAlgoDSAv01:
		return KeyAlgoDSA
	case CertAlgoECDSA256v01:
		return KeyAlgoECDSA256
	case CertAlgoECDSA384v01:
		return KeyAlgoECDSA384
	case CertAlgoECDSA521v01:
		return KeyAlgoECDSA521
	}
	return algo
}

type rsaSigner struct {
	key *rsa.PrivateKey
	pub PublicKey
}

func (s *rsaSigner) PublicKey() PublicKey { return s.pub }

func (s *rsaSigner) Sign(rand io.Reader, data []byte) ([]byte, error) {
	h := crypto.SHA1.New()
	h.Write(data)
	return rsa.SignPKCS1v15(rand, s.key, crypto.SHA1, h.Sum(nil))
}

type dsaSigner struct {
	key *dsa.PrivateKey
	pub PublicKey
}

func (s *dsaSigner) PublicKey() PublicKey { return s.pub }

func (s *dsaSigner) Sign(rand io.Reader, data []byte) ([]byte, error) {
	h := crypto.SHA1.New()
	h.Write(data)
	r, ss, err := dsa.Sign(rand, s.key, h.Sum(nil))
	if err != nil {
		return nil, err
	}
	// The blob is two 160-bit integers without lengths or padding.
	sig := make([]byte, 40)
	rb := r.Bytes()
	sb := ss.Bytes()
	copy(sig[20-len(rb):20], rb)
	copy(sig[40-len(sb):], sb)
	return sig, nil
}

type ecdsaSigner struct {
	key *ecdsa.PrivateKey
	pub *ecdsaPublicKey
}

func (s *ecdsaSigner) PublicKey() PublicKey { return s.pub }

func (s *ecdsaSigner) Sign(rand io.Reader, data []byte) ([]byte, error) {
	h := s.pub.hash().New()
	h.Write(data)
	der, err := ecdsa.SignASN1(rand, s.key, h.Sum(nil))
	if err != nil {
		return nil, err
	}
	// crypto/ecdsa works in ASN.1 DER; the wire wants mpint pairs.
	return ecdsaBlobFromDER(der)
}

// NewSignerFromKey takes a *rsa.PrivateKey, *dsa.PrivateKey or
// *ecdsa.PrivateKey and returns a corresponding Signer.
func NewSignerFromKey(key interface{}) (Signer, error) {
	switch key := key.(type) {
	case *rsa.PrivateKey:
		return &rsaSigner{key, NewRSAPublicKey(&key.PublicKey)}, nil
	case *dsa.PrivateKey:
		return &dsaSigner{key, NewDSAPublicKey(&key.PublicKey)}, nil
	case *ecdsa.PrivateKey:
		return &ecdsaSigner{key, (*ecdsaPublicKey)(&key.PublicKey)}, nil
	}
	return nil, errors.New("ssh: unsupported key type")
}

// ParsePrivateKey returns a Signer from a PEM encoded private key. It
// supports PKCS#1 RSA, SEC 1 EC, OpenSSL DSA and PKCS#8 keys.
func ParsePrivateKey(pemBytes []byte) (Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("ssh: no key found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return NewSignerFromKey(key)
	case "EC PRIVATE KEY":
		key, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return NewSignerFromKey(key)
	case "DSA PRIVATE KEY":
		key, err := parseDSAPrivate(block.Bytes)
		if err != nil {
			return nil, err
		}
		return NewSignerFromKey(key)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		return NewSignerFromKey(key)
	}
	return nil, errors.New("ssh: unsupported key type " + block.Type)
}

// parseDSAPrivate parses a DSA key in the OpenSSL ASN.1 format.
func parseDSAPrivate(der []byte) (*dsa.PrivateKey, error) {
	var k struct {
		Version int
		P       *big.Int
		Q       *big.Int
		G       *big.Int
		Pub     *big.Int
		Priv    *big.Int
	}
	rest, err := asn1.Unmarshal(der, &k)
	if err != nil {
		return nil, errors.New("ssh: failed to parse DSA key: " + err.Error())
	}
	if len(rest) > 0 {
		return nil, errors.New("ssh: garbage after DSA key")
	}

	return &dsa.PrivateKey{
		PublicKey: dsa.PublicKey{
			Parameters: dsa.Parameters{
				P: k.P,
				Q: k.Q,
				G: k.G,
			},
			Y: k.Pub,
		},
		X: k.Priv,
	}, nil
}
