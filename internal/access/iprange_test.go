package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPackIP(t *testing.T) {
	tests := []struct {
		name   string
		ip     string
		packed uint32
		ok     bool
	}{
		{"zero", "0.0.0.0", 0, true},
		{"loopback", "127.0.0.1", 0x7f000001, true},
		{"max", "255.255.255.255", 0xffffffff, true},
		{"whitespace", " 10.0.0.1 ", 0x0a000001, true},
		{"too few octets", "10.0.1", 0, false},
		{"too many octets", "10.0.0.1.2", 0, false},
		{"octet out of range", "10.0.0.256", 0, false},
		{"negative octet", "10.-1.0.1", 0, false},
		{"not a number", "10.0.0.x", 0, false},
		{"empty", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, ok := packIP(tt.ip)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.packed, packed)
			}
		})
	}
}

func TestCheckUserIPRangeBoundsInclusive(t *testing.T) {
	ranges := []string{"10.0.0.1-10.0.0.10"}

	assert.True(t, CheckUserIP("10.0.0.1", ranges), "lower bound is inside the range")
	assert.True(t, CheckUserIP("10.0.0.10", ranges), "upper bound is inside the range")
	assert.True(t, CheckUserIP("10.0.0.5", ranges))
	assert.False(t, CheckUserIP("10.0.0.0", ranges))
	assert.False(t, CheckUserIP("10.0.0.11", ranges))
}

func TestCheckUserIPSingleAddress(t *testing.T) {
	ranges := []string{"192.168.1.25"}

	assert.True(t, CheckUserIP("192.168.1.25", ranges))
	assert.False(t, CheckUserIP("192.168.1.24", ranges))
	assert.False(t, CheckUserIP("192.168.1.26", ranges))
}

func TestCheckUserIPMalformedEntriesSkipped(t *testing.T) {
	ranges := []string{"not-an-ip", "300.0.0.1-300.0.0.9", "10.0.0.1-bogus", "192.168.1.1-192.168.1.50"}

	assert.True(t, CheckUserIP("192.168.1.25", ranges), "valid entry still matches after malformed ones")
	assert.False(t, CheckUserIP("10.0.0.5", ranges), "entries with a malformed bound never match")
}

func TestCheckUserIPEmpty(t *testing.T) {
	assert.False(t, CheckUserIP("10.0.0.1", nil))
	assert.False(t, CheckUserIP("", []string{"10.0.0.1-10.0.0.10"}))
	assert.False(t, CheckUserIP("garbage", []string{"10.0.0.1-10.0.0.10"}))
}
