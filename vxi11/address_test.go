package vxi11

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		want    Address
	}{
		{
			name:    "host with port and device",
			address: "host:502/dev1",
			want:    Address{Host: "host", Port: 502, Device: "dev1"},
		},
		{
			name:    "bare host",
			address: "host",
			want:    Address{Host: "host"},
		},
		{
			name:    "host with device",
			address: "host/devA",
			want:    Address{Host: "host", Device: "devA"},
		},
		{
			name:    "malformed port keeps original segment as host",
			address: "host:abc",
			want:    Address{Host: "host:abc"},
		},
		{
			name:    "ip with port",
			address: "192.168.1.100:5025",
			want:    Address{Host: "192.168.1.100", Port: 5025},
		},
		{
			name:    "ip with device",
			address: "192.168.1.100/inst0",
			want:    Address{Host: "192.168.1.100", Device: "inst0"},
		},
		{
			name:    "empty string",
			address: "",
			want:    Address{},
		},
		{
			name:    "device with slash keeps the remainder",
			address: "host/inst0/extra",
			want:    Address{Host: "host", Device: "inst0/extra"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAddress(tt.address))
		})
	}
}

func TestAddress_HasPort(t *testing.T) {
	assert.True(t, ParseAddress("host:502").HasPort())
	assert.False(t, ParseAddress("host").HasPort())
	assert.False(t, ParseAddress("host:abc").HasPort())
}
