// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"compress/zlib"
	"errors"
	"io"
)

// A Compressor transforms packet payloads for one direction of a
// connection. Implementations need not be safe for concurrent use; the
// transport serialises calls.
type Compressor interface {
	// Compress returns the compressed form of payload.
	Compress(payload []byte) ([]byte, error)

	// Decompress returns the decompressed form of payload. The result may
	// not exceed maxPayload bytes.
	Decompress(payload []byte) ([]byte, error)
}

// zlibCompressor implements the "zlib" and "zlib@openssh.com" methods.
// Every packet payload carries a complete zlib stream.
type zlibCompressor struct {
	wbuf bytes.Buffer
	w    *zlib.Writer
}

func newZlibCompressor() Compressor {
	c := new(zlibCompressor)
	c.w = zlib.NewWriter(&c.wbuf)
	return c
}

func (c *zlibCompressor) Compress(payload []byte) ([]byte, error) {
	c.wbuf.Reset()
	c.w.Reset(&c.wbuf)
	if _, err := c.w.Write(payload); err != nil {
		return nil, err
	}
	if err := c.w.Close(); err != nil {
		return nil, err
	}
	out := make([]byte, c.wbuf.Len())
	copy(out, c.wbuf.Bytes())
	return out, nil
}

var errDecompressedTooLarge = errors.New("ssh: decompressed packet exceeds payload limit")

func (c *zlibCompressor) Decompress(payload []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, io.LimitReader(r, maxPayload+1)); err != nil {
		return nil, err
	}
	if out.Len() > maxPayload {
		return nil, errDecompressedTooLarge
	}
	return out.Bytes(), nil
}

// compressionModes maps negotiable compression names to factories. A nil
// factory means the identity transform.
var compressionModes = map[string]interface{}{
	compressionNone:    compressionFactory(nil),
	compressionZlib:    compressionFactory(newZlibCompressor),
	compressionDelayed: compressionFactory(newZlibCompressor),
}

type compressionFactory func() Compressor

var compressionRegistry = newAlgorithmRegistry("compression", compressionModes)

// RegisterCompression makes a compression method available for negotiation
// under the given name.
func RegisterCompression(name string, factory func() Compressor) error {
	return compressionRegistry.register(name, compressionFactory(factory))
}

func lookupCompression(name string) (compressionFactory, bool) {
	impl, ok := compressionRegistry.get(name)
	if !ok {
		return nil, false
	}
	return impl.(compressionFactory), true
}
