package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"meshroster/internal/domain"
)

func TestVariants(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want []string
	}{
		{
			name: "colon separated mac",
			addr: "a1:b2:c3:d4:e5:f6",
			want: []string{
				"a1:b2:c3:d4:e5:f6",
				"A1B2C3D4E5F6",
				"a1b2c3d4e5f6",
				"A1:B2:C3:D4:E5:F6",
				"ble:a1:b2:c3:d4:e5:f6",
				"ble:a1b2c3d4e5f6",
			},
		},
		{
			name: "uppercase colonized collapses duplicate",
			addr: "A1:B2:C3:D4:E5:F6",
			want: []string{
				"A1:B2:C3:D4:E5:F6",
				"A1B2C3D4E5F6",
				"a1b2c3d4e5f6",
				"ble:A1:B2:C3:D4:E5:F6",
				"ble:A1B2C3D4E5F6",
			},
		},
		{
			name: "hyphen separated",
			addr: "AA-BB-CC",
			want: []string{
				"AA-BB-CC",
				"AABBCC",
				"aabbcc",
				"AA:BB:CC",
				"ble:AA-BB-CC",
				"ble:AABBCC",
			},
		},
		{
			name: "serial port unchanged",
			addr: "COM5",
			want: []string{"COM5"},
		},
		{
			name: "tty unchanged",
			addr: "/dev/ttyUSB0",
			want: []string{"/dev/ttyUSB0"},
		},
		{
			name: "no separators",
			addr: "meshnode",
			want: []string{"meshnode"},
		},
		{
			name: "ip and port unchanged",
			addr: "192.168.1.5:4403",
			want: []string{"192.168.1.5:4403"},
		},
		{
			name: "hyphenated hostname unchanged",
			addr: "mesh-gw.local",
			want: []string{"mesh-gw.local"},
		},
		{
			name: "ipv6 unchanged",
			addr: "fe80::1",
			want: []string{"fe80::1"},
		},
		{
			name: "non-hex hyphenated name unchanged",
			addr: "mesh-gw",
			want: []string{"mesh-gw"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Variants(tt.addr))
		})
	}
}

func TestVariantsOriginalFirstAndUnique(t *testing.T) {
	inputs := []string{"a:b", "1-2-3", "ab:cd:ef:01", ":", "AB:CD", "x-y:z"}
	for _, in := range inputs {
		got := Variants(in)
		if assert.NotEmpty(t, got, in) {
			assert.Equal(t, in, got[0], in)
		}
		seen := map[string]bool{}
		for _, v := range got {
			assert.False(t, seen[v], "duplicate %q for %q", v, in)
			seen[v] = true
		}
	}
}

func TestIsHardwareAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"A1:B2:C3:D4:E5:F6", true},
		{"a1-b2-c3-d4-e5-f6", true},
		{"ble:A1B2C3D4E5F6", true},
		{"A1B2C3D4E5F6", false},
		{"COM5", false},
		{"/dev/cu.usbserial-0001", false},
		{"192.168.1.5:4403", false},
		{"[fe80::1]:4403", false},
		{"mesh-gw.local", false},
		{"mesh-gw", false},
		{":", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsHardwareAddress(tt.addr), tt.addr)
	}
}

func TestIsSerialPort(t *testing.T) {
	assert.True(t, IsSerialPort("COM3"))
	assert.True(t, IsSerialPort("com12"))
	assert.True(t, IsSerialPort("/dev/ttyACM0"))
	assert.True(t, IsSerialPort("/dev/cu.usbserial-0001"))
	assert.False(t, IsSerialPort("COMX"))
	assert.False(t, IsSerialPort("A1:B2:C3:D4:E5:F6"))
}

func TestCompactMAC(t *testing.T) {
	assert.Equal(t, "A1B2C3D4E5F6", CompactMAC("a1:b2:c3:d4:e5:f6"))
	assert.Equal(t, "A1B2C3D4E5F6", CompactMAC("ble:A1-B2-C3-D4-E5-F6"))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, domain.ConnectionSerial, KindOf("COM5"))
	assert.Equal(t, domain.ConnectionSerial, KindOf("/dev/ttyUSB0"))
	assert.Equal(t, domain.ConnectionNetwork, KindOf("192.168.1.40"))
	assert.Equal(t, domain.ConnectionNetwork, KindOf("meshtastic.local"))
	assert.Equal(t, domain.ConnectionNetwork, KindOf("10.0.0.5:4403"))
	assert.Equal(t, domain.ConnectionRadio, KindOf("A1:B2:C3:D4:E5:F6"))
	assert.Equal(t, domain.ConnectionRadio, KindOf("seed1"))
}
