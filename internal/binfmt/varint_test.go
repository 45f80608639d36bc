package binfmt

import (
	"fmt"
	"testing"
)

func TestVarintEncoding(t *testing.T) {
	tests := []struct {
		value    uint64
		expected int
	}{
		{0, 1},
		{127, 1},
		{128, 2},
		{16383, 2},
		{16384, 3},
		{1 << 32, 5},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("value_%d", tt.value), func(t *testing.T) {
			buf := make([]byte, MaxVarintLen)
			n := PutUvarint(buf, tt.value)
			if n != tt.expected {
				t.Errorf("PutUvarint(%d) = %d bytes, want %d bytes", tt.value, n, tt.expected)
			}

			decoded, n2 := Uvarint(buf)
			if n2 != n {
				t.Errorf("Uvarint returned %d bytes, want %d bytes", n2, n)
			}
			if decoded != tt.value {
				t.Errorf("Uvarint = %d, want %d", decoded, tt.value)
			}

			if size := VarintSize(tt.value); size != tt.expected {
				t.Errorf("VarintSize(%d) = %d, want %d", tt.value, size, tt.expected)
			}
		})
	}
}

func TestUvarintTruncated(t *testing.T) {
	if _, n := Uvarint([]byte{0x80, 0x80}); n > 0 {
		t.Errorf("expected a non-positive n for a truncated varint, got %d", n)
	}
}
