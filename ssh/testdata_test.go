// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

// Shared test keys, generated once per process.

import (
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"sync"
)

var (
	testKeyOnce sync.Once

	testRSAKey   *rsa.PrivateKey
	testECDSAKey *ecdsa.PrivateKey
	testDSAKey   *dsa.PrivateKey

	testSigners map[string]Signer
)

func initTestKeys() {
	testKeyOnce.Do(func() {
		var err error
		testRSAKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic("rsa.GenerateKey: " + err.Error())
		}
		testECDSAKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			panic("ecdsa.GenerateKey: " + err.Error())
		}

		var params dsa.Parameters
		if err := dsa.GenerateParameters(&params, rand.Reader, dsa.L1024N160); err != nil {
			panic("dsa.GenerateParameters: " + err.Error())
		}
		testDSAKey = &dsa.PrivateKey{PublicKey: dsa.PublicKey{Parameters: params}}
		if err := dsa.GenerateKey(testDSAKey, rand.Reader); err != nil {
			panic("dsa.GenerateKey: " + err.Error())
		}

		testSigners = make(map[string]Signer)
		for name, key := range map[string]interface{}{
			"rsa":   testRSAKey,
			"ecdsa": testECDSAKey,
			"dsa":   testDSAKey,
		} {
			signer, err := NewSignerFromKey(key)
			if err != nil {
				panic("NewSignerFromKey: " + err.Error())
			}
			testSigners[name] = signer
		}
	})
}

// testSigner returns a shared test signer of the given kind.
func testSigner(kind string) Signer {
	initTestKeys()
	return testSigners[kind]
}
