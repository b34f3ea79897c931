// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"math/big"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"
)

var intLengthTests = []struct {
	val, length int
}{
	{0, 4 + 0},
	{1, 4 + 1},
	{127, 4 + 1},
	{128, 4 + 2},
	{-1, 4 + 1},
}

func TestIntLength(t *testing.T) {
	for _, test := range intLengthTests {
		v := new(big.Int).SetInt64(int64(test.val))
		length := intLength(v)
		if length != test.length {
			t.Errorf("For %d, got length %d but expected %d", test.val, length, test.length)
		}
	}
}

func TestMarshalInt(t *testing.T) {
	tests := []struct {
		val  int64
		want []byte
	}{
		{0, []byte{0, 0, 0, 0}},
		{1, []byte{0, 0, 0, 1, 1}},
		{127, []byte{0, 0, 0, 1, 127}},
		// 128 would look negative without a leading zero.
		{128, []byte{0, 0, 0, 2, 0, 128}},
		{-1, []byte{0, 0, 0, 1, 0xff}},
		{0x1122334455, []byte{0, 0, 0, 5, 0x11, 0x22, 0x33, 0x44, 0x55}},
	}
	for _, test := range tests {
		v := big.NewInt(test.val)
		buf := make([]byte, intLength(v))
		marshalInt(buf, v)
		if !bytes.Equal(buf, test.want) {
			t.Errorf("marshalInt(%d): got %x, want %x", test.val, buf, test.want)
		}

		back, rest, ok := parseInt(buf)
		if !ok || len(rest) != 0 {
			t.Errorf("parseInt(%x): failed", buf)
			continue
		}
		if back.Cmp(v) != 0 {
			t.Errorf("parseInt(marshalInt(%d)) = %d", test.val, back)
		}
	}
}

func TestIntRoundTripQuick(t *testing.T) {
	f := func(val int64) bool {
		v := big.NewInt(val)
		buf := make([]byte, intLength(v))
		marshalInt(buf, v)
		back, rest, ok := parseInt(buf)
		return ok && len(rest) == 0 && back.Cmp(v) == 0
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func TestParseStringShortBuffer(t *testing.T) {
	// declared length exceeds the remaining bytes
	in := []byte{0, 0, 0, 10, 'a', 'b'}
	if _, _, ok := parseString(in); ok {
		t.Errorf("parseString accepted truncated input")
	}
	if _, _, ok := parseString([]byte{0, 0}); ok {
		t.Errorf("parseString accepted short length prefix")
	}
}

func TestNameListRoundTrip(t *testing.T) {
	lists := [][]string{
		{},
		{"a"},
		{"aes128-ctr", "aes256-ctr", "hmac-sha2-256"},
	}
	for _, list := range lists {
		joined := ""
		for i, s := range list {
			if i > 0 {
				joined += ","
			}
			joined += s
		}
		buf := appendString(nil, joined)
		out, rest, ok := parseNameList(buf)
		if !ok || len(rest) != 0 {
			t.Fatalf("parseNameList(%q) failed", buf)
		}
		if len(out) != len(list) {
			t.Errorf("parseNameList(%q): got %v, want %v", joined, out, list)
			continue
		}
		for i := range list {
			if out[i] != list[i] {
				t.Errorf("element %d: got %q, want %q", i, out[i], list[i])
			}
		}
	}
}

func TestMarshalUnmarshal(t *testing.T) {
	rnd := rand.New(rand.NewSource(0))
	iface := &channelRequestMsg{}
	ty := reflect.ValueOf(iface).Type()

	n := 100
	if testing.Short() {
		n = 5
	}
	for j := 0; j < n; j++ {
		v, ok := quick.Value(ty, rnd)
		if !ok {
			t.Errorf("failed to create value")
			break
		}

		m1 := v.Elem().Interface()
		m2 := iface

		marshaled := marshal(msgChannelRequest, m1)
		if err := unmarshal(m2, marshaled, msgChannelRequest); err != nil {
			t.Errorf("unmarshal(%#v): %s", m1, err)
			break
		}

		if !reflect.DeepEqual(v.Interface(), m2) {
			t.Errorf("got: %#v\nwant:%#v\n%x", m2, m1, marshaled)
			break
		}
	}
}

func TestUnmarshalEmptyPacket(t *testing.T) {
	var b []byte
	var m channelRequestSuccessMsg
	if err := unmarshal(&m, b, msgChannelSuccess); err == nil {
		t.Fatalf("unmarshal of empty packet succeeded")
	}
}

func TestUnmarshalUnexpectedType(t *testing.T) {
	var m windowAdjustMsg
	err := unmarshal(&m, []byte{msgChannelData, 0, 0, 0, 0}, msgChannelWindowAdjust)
	if _, ok := err.(UnexpectedMessageError); !ok {
		t.Fatalf("got %v, want UnexpectedMessageError", err)
	}
}

func TestDecodeTruncatedKexInit(t *testing.T) {
	packet := marshal(msgKexInit, kexInitMsg{
		KexAlgos: []string{"diffie-hellman-group14-sha1"},
	})
	for i := 1; i < len(packet)-1; i++ {
		if _, err := decode(packet[:i]); err == nil {
			t.Errorf("decode of truncation at %d succeeded", i)
		}
	}
}
