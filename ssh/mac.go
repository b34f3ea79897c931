// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

// Message authentication support

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"
)

// MACMode describes a MAC algorithm for registration with RegisterMAC.
type MACMode struct {
	// KeySize is the number of key bytes derived for the algorithm.
	KeySize int
	// New builds the keyed MAC.
	New func(key []byte) hash.Hash
}

type macMode struct {
	keySize int
	new     func(key []byte) hash.Hash
}

// truncatingMAC wraps around a hash.Hash and truncates the output digest to
// a given size.
type truncatingMAC struct {
	length int
	hmac   hash.Hash
}

func (t truncatingMAC) Write(data []byte) (int, error) {
	return t.hmac.Write(data)
}

func (t truncatingMAC) Sum(in []byte) []byte {
	out := t.hmac.Sum(in)
	return out[:len(in)+t.length]
}

func (t truncatingMAC) Reset() {
	t.hmac.Reset()
}

func (t truncatingMAC) Size() int {
	return t.length
}

func (t truncatingMAC) BlockSize() int {
	return t.hmac.BlockSize()
}

// macModes defines the supported MACs. MACs not included are not supported
// and will not be negotiated, even if explicitly configured. Additional
// algorithms may be added at runtime with RegisterMAC.
var macModes = map[string]interface{}{
	"hmac-sha2-256": &macMode{32, func(key []byte) hash.Hash {
		return hmac.New(sha256.New, key)
	}},
	"hmac-sha2-512": &macMode{64, func(key []byte) hash.Hash {
		return hmac.New(sha512.New, key)
	}},
	"hmac-sha1": &macMode{20, func(key []byte) hash.Hash {
		return hmac.New(sha1.New, key)
	}},
	"hmac-sha1-96": &macMode{20, func(key []byte) hash.Hash {
		return truncatingMAC{12, hmac.New(sha1.New, key)}
	}},
	"hmac-md5": &macMode{16, func(key []byte) hash.Hash {
		return hmac.New(md5.New, key)
	}},
	"hmac-md5-96": &macMode{16, func(key []byte) hash.Hash {
		return truncatingMAC{12, hmac.New(md5.New, key)}
	}},
}

var macRegistry = newAlgorithmRegistry("MAC", macModes)

func lookupMAC(name string) (*macMode, bool) {
	impl, ok := macRegistry.get(name)
	if !ok {
		return nil, false
	}
	return impl.(*macMode), true
}
