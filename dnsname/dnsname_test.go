// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package dnsname

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	goodDomainBytes         = []byte("\x0510-ww\x08steffann\x02nl\x00")
	goodRelativeDomainBytes = []byte("\x0510-ww\x08steffann\x02nl")
	goodDomainName          = "10-ww.steffann.nl"

	longLabel = strings.Repeat("x", 64)
	// Four 62-character labels plus the rest pushes the encoded form
	// past 255 bytes while keeping every single label legal.
	longName = "10ww." + strings.Repeat(strings.Repeat("s", 62)+".", 4) + "nl"
)

func TestParseGood(t *testing.T) {
	n, name, err := Parse(goodDomainBytes)
	require.NoError(t, err)
	assert.Equal(t, len(goodDomainBytes), n)
	assert.Equal(t, goodDomainName, name)
}

func TestParseRelative(t *testing.T) {
	n, name, err := ParseRelative(goodRelativeDomainBytes)
	require.NoError(t, err)
	assert.Equal(t, len(goodRelativeDomainBytes), n)
	assert.Equal(t, goodDomainName, name)
}

func TestEncodeGood(t *testing.T) {
	encoded, err := Encode(goodDomainName)
	require.NoError(t, err)
	assert.Equal(t, goodDomainBytes, encoded)
}

func TestEncodeRelative(t *testing.T) {
	encoded, err := EncodeRelative(goodDomainName)
	require.NoError(t, err)
	assert.Equal(t, goodRelativeDomainBytes, encoded)

	// A trailing dot marks the name as absolute even in relative mode.
	encoded, err = EncodeRelative(goodDomainName + ".")
	require.NoError(t, err)
	assert.Equal(t, goodDomainBytes, encoded)
}

func TestRoundTrip(t *testing.T) {
	encoded, err := Encode(goodDomainName)
	require.NoError(t, err)
	_, name, err := Parse(encoded)
	require.NoError(t, err)
	assert.Equal(t, goodDomainName, name)
}

func TestEncodeOversizedLabel(t *testing.T) {
	_, err := Encode("10ww." + longLabel + ".nl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "labels must be 1 to 63 characters")
}

func TestParseOversizedLabel(t *testing.T) {
	buf := append([]byte{4}, "10ww"...)
	buf = append(buf, 64)
	buf = append(buf, strings.Repeat("s", 64)...)
	buf = append(buf, 0)

	_, _, err := Parse(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "labels must be 1 to 63 characters")
}

func TestEncodeOversizedDomain(t *testing.T) {
	_, err := Encode(longName)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be 255 characters or less")
}

func TestParseOversizedDomain(t *testing.T) {
	var buf []byte
	for _, label := range strings.Split(longName, ".") {
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}

	_, _, err := ParseRelative(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be 255 characters or less")

	buf = append(buf, 0)
	_, _, err = Parse(buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be 255 characters or less")
}

func TestParseBufferOverflow(t *testing.T) {
	_, _, err := Parse([]byte("\x0410ww\x10END"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds available buffer")
}

func TestParseUnending(t *testing.T) {
	_, _, err := Parse([]byte("\x0410ww\x03END"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must end with a 0-length label")
}

func TestDomainList(t *testing.T) {
	goodListBytes := []byte("\x06google\x03com\x00\x0410ww\x08steffann\x02nl\x00")
	goodList := []string{"google.com", "10ww.steffann.nl"}

	encoded, err := EncodeList(goodList)
	require.NoError(t, err)
	assert.Equal(t, goodListBytes, encoded)

	names, err := ParseList(goodListBytes)
	require.NoError(t, err)
	assert.Equal(t, goodList, names)
}
