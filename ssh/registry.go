// Copyright 2012 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"errors"
	"strings"
	"sync"
)

// An algorithmRegistry holds the built-in implementations of one algorithm
// class (key exchanges, ciphers, MACs, compressions) together with a map of
// runtime-registered extensions. Extension names are matched
// case-insensitively. Registration rejects collisions with built-ins and
// with previously registered extensions.
type algorithmRegistry struct {
	class string

	mu         sync.RWMutex
	builtins   map[string]interface{}
	extensions map[string]interface{} // keyed by lower-cased name
}

func newAlgorithmRegistry(class string, builtins map[string]interface{}) *algorithmRegistry {
	return &algorithmRegistry{
		class:      class,
		builtins:   builtins,
		extensions: make(map[string]interface{}),
	}
}

// validAlgorithmName reports whether name is usable inside an SSH name-list:
// non-empty printable US-ASCII without commas. RFC 4251 section 6.
func validAlgorithmName(name string) bool {
	if len(name) == 0 {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c >= 0x7f || c == ',' {
			return false
		}
	}
	return true
}

var errInvalidAlgorithmName = errors.New("ssh: invalid algorithm name")

func (r *algorithmRegistry) register(name string, impl interface{}) error {
	if !validAlgorithmName(name) {
		return errInvalidAlgorithmName
	}
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	for builtin := range r.builtins {
		if strings.ToLower(builtin) == key {
			return errors.New("ssh: " + r.class + " " + name + " collides with a built-in algorithm")
		}
	}
	if _, dup := r.extensions[key]; dup {
		return errors.New("ssh: " + r.class + " " + name + " already registered")
	}
	r.extensions[key] = impl
	return nil
}

// unregister removes a previously registered extension. It reports whether
// the name was present. Built-ins cannot be unregistered.
func (r *algorithmRegistry) unregister(name string) bool {
	key := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.extensions[key]; !ok {
		return false
	}
	delete(r.extensions, key)
	return true
}

// get resolves a negotiated name, consulting built-ins before extensions.
func (r *algorithmRegistry) get(name string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if impl, ok := r.builtins[name]; ok {
		return impl, true
	}
	impl, ok := r.extensions[strings.ToLower(name)]
	return impl, ok
}

// RegisterCipher makes a stream cipher available for negotiation under the
// given name. It returns an error if the name is not a valid algorithm name
// or collides with a built-in or previously registered cipher.
func RegisterCipher(name string, mode CipherMode) error {
	blockSize := mode.BlockSize
	if blockSize < minPacketSizeMultiple {
		blockSize = minPacketSizeMultiple
	}
	if blockSize > 64 {
		return errors.New("ssh: cipher block size too large")
	}
	return cipherRegistry.register(name, &streamCipherMode{
		keySize:    mode.KeySize,
		ivSize:     mode.IVSize,
		blockSize:  blockSize,
		createFunc: mode.NewStream,
	})
}

// UnregisterCipher removes a cipher registered with RegisterCipher.
func UnregisterCipher(name string) bool { return cipherRegistry.unregister(name) }

// RegisterMAC makes a MAC algorithm available for negotiation under the
// given name.
func RegisterMAC(name string, mode MACMode) error {
	return macRegistry.register(name, &macMode{keySize: mode.KeySize, new: mode.New})
}

// UnregisterMAC removes a MAC registered with RegisterMAC.
func UnregisterMAC(name string) bool { return macRegistry.unregister(name) }

func registerKexAlgorithm(name string, kex kexAlgorithm) error {
	return kexRegistry.register(name, kex)
}
