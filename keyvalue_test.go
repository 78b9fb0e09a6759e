// SPDX-License-Identifier: GPL-3.0-or-later

package gensio

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// CheckKeyValue matches the key case-insensitively and requires '='.
func TestCheckKeyValue(t *testing.T) {
	type testCase struct {
		str       string
		wantValue string
		wantFound bool
	}

	cases := []testCase{
		{str: "readbuf=100", wantValue: "100", wantFound: true},
		{str: "READBUF=100", wantValue: "100", wantFound: true},
		{str: "readbuf=", wantValue: "", wantFound: true},
		{str: "readbuf", wantFound: false},
		{str: "readbuffer=100", wantFound: false},
		{str: "mode=client", wantFound: false},
	}

	for _, tc := range cases {
		t.Run(tc.str, func(t *testing.T) {
			value, found := CheckKeyValue(tc.str, "readbuf")
			assert.Equal(t, tc.wantFound, found)
			assert.Equal(t, tc.wantValue, value)
		})
	}
}

// CheckKeyUint and CheckKeyDS accept decimal, hex and octal numbers.
func TestCheckKeyUnsigned(t *testing.T) {
	type testCase struct {
		str       string
		wantFound bool
		wantErr   error
		want      uint64
	}

	cases := []testCase{
		{str: "size=100", wantFound: true, want: 100},
		{str: "size=0x10", wantFound: true, want: 16},
		{str: "size=010", wantFound: true, want: 8},
		{str: "size=", wantFound: true, wantErr: ErrInvalid},
		{str: "size=-1", wantFound: true, wantErr: ErrInvalid},
		{str: "size=12abc", wantFound: true, wantErr: ErrInvalid},
		{str: "size=1_000", wantFound: true, wantErr: ErrInvalid},
		{str: "other=1", wantFound: false},
	}

	for _, tc := range cases {
		t.Run(tc.str, func(t *testing.T) {
			var ds uint64
			found, err := CheckKeyDS(tc.str, "size", &ds)
			assert.Equal(t, tc.wantFound, found)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.want, ds)

			var u uint
			found, err = CheckKeyUint(tc.str, "size", &u)
			assert.Equal(t, tc.wantFound, found)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, uint(tc.want), u)
		})
	}

	var u uint
	found, err := CheckKeyUint("size=4294967296", "size", &u)
	assert.True(t, found)
	require.ErrorIs(t, err, ErrInvalid)
}

// CheckKeyBool accepts the bare key and the four literal values.
func TestCheckKeyBool(t *testing.T) {
	type testCase struct {
		str       string
		wantFound bool
		wantErr   error
		want      bool
	}

	cases := []testCase{
		{str: "nodelay", wantFound: true, want: true},
		{str: "nodelay=true", wantFound: true, want: true},
		{str: "nodelay=1", wantFound: true, want: true},
		{str: "nodelay=false", wantFound: true, want: false},
		{str: "nodelay=0", wantFound: true, want: false},
		{str: "nodelay=yes", wantFound: true, wantErr: ErrInvalid},
		{str: "nodelayed", wantFound: false},
	}

	for _, tc := range cases {
		t.Run(tc.str, func(t *testing.T) {
			value := !tc.want
			if !tc.wantFound || tc.wantErr != nil {
				value = false
			}
			found, err := CheckKeyBool(tc.str, "nodelay", &value)
			assert.Equal(t, tc.wantFound, found)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, tc.want, value)
		})
	}
}

// CheckKeyBoolV maps custom true and false values.
func TestCheckKeyBoolV(t *testing.T) {
	var server bool
	found, err := CheckKeyBoolV("mode=server", "mode", "server", "client", &server)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, server)

	found, err = CheckKeyBoolV("mode=client", "mode", "server", "client", &server)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, server)

	for _, str := range []string{"mode=", "mode=peer"} {
		found, err = CheckKeyBoolV(str, "mode", "server", "client", &server)
		assert.True(t, found)
		require.ErrorIs(t, err, ErrInvalid)
	}

	found, err = CheckKeyBoolV("role=server", "mode", "server", "client", &server)
	require.NoError(t, err)
	assert.False(t, found)
}

// CheckKeyEnum matches symbols case-insensitively.
func TestCheckKeyEnum(t *testing.T) {
	enums := []EnumValue{{Name: "none", Value: 0}, {Name: "odd", Value: 1}, {Name: "even", Value: 2}}

	value := -1
	found, err := CheckKeyEnum("parity=Even", "parity", enums, &value)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 2, value)

	found, err = CheckKeyEnum("parity=mark", "parity", enums, &value)
	assert.True(t, found)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 2, value)
}

// CheckKeyAddrs checks the protocol and the port of the descriptor.
func TestCheckKeyAddrs(t *testing.T) {
	cfg := newTestConfig()

	type testCase struct {
		name        string
		str         string
		requirePort bool
		wantErr     error
		want        []netip.AddrPort
	}

	cases := []testCase{
		{
			name: "tcp with port",
			str:  "laddr=tcp,localhost,1234",
			want: []netip.AddrPort{netip.MustParseAddrPort("127.0.0.1:1234")},
		},
		{
			name:        "port required",
			str:         "laddr=tcp,localhost,0",
			requirePort: true,
			wantErr:     ErrInvalid,
		},
		{
			name:    "wrong protocol",
			str:     "laddr=udp,localhost,1234",
			wantErr: ErrInvalid,
		},
		{
			name:    "empty",
			str:     "laddr=",
			wantErr: ErrInvalid,
		},
		{
			name:    "unresolvable",
			str:     "laddr=nosuchhost,1",
			wantErr: ErrInvalid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var addrs []Addr
			found, err := CheckKeyAddrs(cfg, tc.str, "laddr", ProtocolTCP, false, tc.requirePort, &addrs)
			assert.True(t, found)
			require.ErrorIs(t, err, tc.wantErr)
			var got []netip.AddrPort
			for _, addr := range addrs {
				got = append(got, addr.AddrPort)
			}
			assert.Equal(t, tc.want, got)
		})
	}
}
