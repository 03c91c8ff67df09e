// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

// Package dnsname encodes and decodes domain names in the RFC 1035 wire
// format used by several DHCPv6 options: each label prefixed by its
// length, the whole name terminated by a zero-length label. Unlike the
// permissive label codec in the upstream DHCP library this package
// enforces the protocol limits, so it is also usable to validate names
// coming from configuration.
package dnsname

import (
	"fmt"
	"strings"
)

// Wire format limits from RFC 1035.
const (
	maxLabelLength  = 63
	maxDomainLength = 255
)

// Encode returns the wire form of name, including the terminating root
// label.
func Encode(name string) ([]byte, error) {
	return encode(name, false)
}

// EncodeRelative returns the wire form of name without the terminating
// root label, unless the name ends in a dot, which marks it as absolute.
func EncodeRelative(name string) ([]byte, error) {
	return encode(name, true)
}

func encode(name string, allowRelative bool) ([]byte, error) {
	relative := false
	if strings.HasSuffix(name, ".") {
		name = strings.TrimSuffix(name, ".")
	} else if allowRelative {
		relative = true
	}

	buf := make([]byte, 0, len(name)+2)
	if name != "" {
		for _, label := range strings.Split(name, ".") {
			if len(label) < 1 || len(label) > maxLabelLength {
				return nil, fmt.Errorf("domain name labels must be 1 to %d characters long: %q", maxLabelLength, label)
			}
			buf = append(buf, byte(len(label)))
			buf = append(buf, label...)
		}
	}
	if !relative {
		buf = append(buf, 0)
	}

	// The limit applies to the absolute form, so a relative name still
	// has to leave room for the root label.
	length := len(buf)
	if relative {
		length++
	}
	if length > maxDomainLength {
		return nil, fmt.Errorf("domain name must be %d characters or less", maxDomainLength)
	}

	return buf, nil
}

// Parse decodes one domain name from the start of buffer and returns the
// number of bytes consumed along with the name. The name must be
// terminated by a zero-length label.
func Parse(buffer []byte) (int, string, error) {
	return parse(buffer, false)
}

// ParseRelative decodes one domain name like Parse, but also accepts a
// name that ends because the buffer ends, without a terminating root
// label.
func ParseRelative(buffer []byte) (int, string, error) {
	return parse(buffer, true)
}

func parse(buffer []byte, allowRelative bool) (int, string, error) {
	var labels []string
	offset := 0
	terminated := false

	for offset < len(buffer) {
		labelLength := int(buffer[offset])
		offset++

		if labelLength == 0 {
			terminated = true
			break
		}
		if labelLength > maxLabelLength {
			return 0, "", fmt.Errorf("domain name labels must be 1 to %d characters long", maxLabelLength)
		}
		if offset+labelLength > len(buffer) {
			return 0, "", fmt.Errorf("domain name label exceeds available buffer")
		}

		labels = append(labels, string(buffer[offset:offset+labelLength]))
		offset += labelLength
	}

	if !terminated && !allowRelative {
		return 0, "", fmt.Errorf("domain name must end with a 0-length label")
	}

	// Count the terminating root label even when it is left off the wire.
	length := offset
	if !terminated {
		length++
	}
	if length > maxDomainLength {
		return 0, "", fmt.Errorf("domain name must be %d characters or less", maxDomainLength)
	}

	return offset, strings.Join(labels, "."), nil
}

// EncodeList returns the concatenated wire forms of the given names, each
// in absolute form.
func EncodeList(names []string) ([]byte, error) {
	var buf []byte
	for _, name := range names {
		encoded, err := Encode(name)
		if err != nil {
			return nil, err
		}
		buf = append(buf, encoded...)
	}
	return buf, nil
}

// ParseList decodes concatenated absolute domain names until the buffer
// is exhausted.
func ParseList(buffer []byte) ([]string, error) {
	var names []string
	offset := 0
	for offset < len(buffer) {
		consumed, name, err := Parse(buffer[offset:])
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		offset += consumed
	}
	return names, nil
}
