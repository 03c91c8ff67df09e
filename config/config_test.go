// Copyright 2018-present the DHCPKit Authors. All rights reserved
// This source code is licensed under the MIT license found in the
// LICENSE file in the root directory of this source tree.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/insomniacslk/dhcp/dhcpv6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitHostPort(t *testing.T) {
	testcases := []struct {
		hostport string
		ip       string
		zone     string
		port     string
		err      bool // Should return an error (ie true for err != nil)
	}{
		{"[::]:547", "::", "", "547", false},
		{"[fe80::1%eth0]", "fe80::1", "eth0", "", false},
		{"[2001:db8::1]:547", "2001:db8::1", "", "547", false},
		{"2001:db8::1:547", "", "", "547", true}, // [] mandatory for v6
		{"fe80::1%eth0:547", "fe80::1", "eth0", "547", true},
		{":http", "", "", "http", false},
		{"%eth0", "", "eth0", "", false},
		{"fe80::1]:80", "fe80::1", "", "80", true}, // unbalanced ]
		{"", "", "", "", false},                    // trivial case, still valid
	}

	for _, tc := range testcases {
		ip, zone, port, err := splitHostPort(tc.hostport)
		if tc.err != (err != nil) {
			t.Errorf("Mismatched error state for %q (got err: %v)", tc.hostport, err)
			continue
		}
		if err == nil && (ip != tc.ip || zone != tc.zone || port != tc.port) {
			t.Errorf("%s => %q, %q, %q expected %q, %q, %q", tc.hostport, ip, zone, port, tc.ip, tc.zone, tc.port)
		}
	}
}

func TestParseDUID(t *testing.T) {
	duid, err := parseDUID("ll 00:13:72:65:ca:42")
	require.NoError(t, err)
	_, ok := duid.(*dhcpv6.DUIDLL)
	assert.True(t, ok)

	duid, err = parseDUID("llt 488458703 00:13:72:65:ca:42")
	require.NoError(t, err)
	llt, ok := duid.(*dhcpv6.DUIDLLT)
	require.True(t, ok)
	assert.Equal(t, uint32(488458703), llt.Time)

	_, err = parseDUID("ll")
	assert.Error(t, err)
	_, err = parseDUID("nonsense 00:13:72:65:ca:42")
	assert.Error(t, err)
	_, err = parseDUID("hex zz")
	assert.Error(t, err)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server6:
  listen: '[::]:547'
  server-id: ll 00:13:72:65:ca:42
  allow-rapid-commit: true
  rapid-commit-rejections: false
  marks:
    - from-test
  handlers:
    - dns: 2001:db8::53 2001:db8::54
    - searchdomains: example.com
  filters:
    - marked-with: unicast-me
      handlers:
        - unicast: 2001:db8::1
      filters:
        - subnet: 2001:db8:1::/48
          handlers:
            - ignore:
`)

	conf, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, conf.Server6)

	sc := conf.Server6
	require.Len(t, sc.Addresses, 1)
	assert.Equal(t, dhcpv6.DefaultServerPort, sc.Addresses[0].Port)
	assert.True(t, sc.AllowRapidCommit)
	assert.False(t, sc.RapidCommitRejections)
	assert.Equal(t, []string{"from-test"}, sc.Marks)
	require.NotNil(t, sc.ServerID)

	require.Len(t, sc.Handlers, 2)
	assert.Equal(t, "dns", sc.Handlers[0].Name)
	assert.Equal(t, []string{"2001:db8::53", "2001:db8::54"}, sc.Handlers[0].Args)
	assert.Equal(t, "searchdomains", sc.Handlers[1].Name)

	require.Len(t, sc.Filters, 1)
	f := sc.Filters[0]
	assert.Equal(t, "marked-with", f.Condition)
	assert.Equal(t, "unicast-me", f.Value)
	require.Len(t, f.Handlers, 1)
	assert.Equal(t, "unicast", f.Handlers[0].Name)
	require.Len(t, f.Filters, 1)
	assert.Equal(t, "subnet", f.Filters[0].Condition)
	assert.Equal(t, "2001:db8:1::/48", f.Filters[0].Value)
	require.Len(t, f.Filters[0].Handlers, 1)
	assert.Equal(t, "ignore", f.Filters[0].Handlers[0].Name)
}

func TestLoadRejectsFilterWithoutCondition(t *testing.T) {
	path := writeConfig(t, `
server6:
  listen: '[::]:547'
  server-id: ll 00:13:72:65:ca:42
  filters:
    - handlers:
        - ignore:
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsEmptyFilter(t *testing.T) {
	path := writeConfig(t, `
server6:
  listen: '[::]:547'
  server-id: ll 00:13:72:65:ca:42
  filters:
    - marked-with: lonely
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsV4Listen(t *testing.T) {
	path := writeConfig(t, `
server6:
  listen: '192.0.2.1:547'
  server-id: ll 00:13:72:65:ca:42
`)
	_, err := Load(path)
	assert.Error(t, err)
}
