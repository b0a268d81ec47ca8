package crc

import "testing"

// Golden vectors for CRC8 are computed independently with a reference
// bitwise implementation of the exact poly/seed combination this
// package uses (no reflection, no final XOR) and are licensed by
// spec.md §9 to diverge from the original's byte-by-byte flash loop.
// The CRC32 vectors instead mirror original_source/src/boot.c's
// boot_fw_image_check_crc bit-for-bit (low-byte XOR, 32 shift/xor
// iterations per byte): a conformant implementation MUST reproduce
// these exactly, since an image's image_crc is set by whatever signed
// it, not by this bootloader.
func TestCRC8Vectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint8
	}{
		{"empty", []byte{}, 0xB6},
		{"single zero byte", []byte{0x00}, 0x0B},
		{"ascii digits", []byte("123456789"), 0x59},
		{"sequential bytes", []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, 0x2A},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CRC8(tt.data)
			if got != tt.want {
				t.Fatalf("CRC8(%v) = 0x%02X, want 0x%02X", tt.data, got, tt.want)
			}
		})
	}
}

func TestCRC32Vectors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want uint32
	}{
		{"empty", []byte{}, 0x10101010},
		{"ascii digits", []byte("123456789"), 0x819CA0B8},
		{"sequential bytes", []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, 0x74AA5584},
		{"repeated byte", []byte("AAAAAAAAAAAAAAAAAAAA"), 0xC03759A2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CRC32(tt.data)
			if got != tt.want {
				t.Fatalf("CRC32(%v) = 0x%08X, want 0x%08X", tt.data, got, tt.want)
			}
		})
	}
}

// TestCRC8BuilderIncremental verifies that feeding a buffer to the
// builder in multiple Write calls yields the same result as a single
// Write of the concatenated buffer — the property the frame codec
// relies on to CRC several struct fields without copying them together.
func TestCRC8BuilderIncremental(t *testing.T) {
	whole := []byte("123456789")
	want := CRC8(whole)

	var b CRC8Builder
	b.Write(whole[:4])
	b.Write(whole[4:])
	if got := b.Sum(); got != want {
		t.Fatalf("incremental CRC8 = 0x%02X, want 0x%02X", got, want)
	}

	// Also check a three-way split with zero-length spans interleaved.
	var b2 CRC8Builder
	b2.Write(whole[:1])
	b2.Write(nil)
	b2.Write(whole[1:4])
	b2.Write(whole[4:9])
	if got := b2.Sum(); got != want {
		t.Fatalf("incremental CRC8 (3-way) = 0x%02X, want 0x%02X", got, want)
	}
}

func TestCRC32BuilderIncremental(t *testing.T) {
	whole := []byte("123456789")
	want := CRC32(whole)

	var b CRC32Builder
	b.Write(whole[:3])
	b.Write(whole[3:])
	if got := b.Sum(); got != want {
		t.Fatalf("incremental CRC32 = 0x%08X, want 0x%08X", got, want)
	}
}

// TestCRC8SingleBitMutation exercises the "any single-bit mutation
// changes the CRC" property tests rely on throughout the parser and
// image validator.
func TestCRC8SingleBitMutation(t *testing.T) {
	data := []byte("the quick brown fox")
	want := CRC8(data)
	for i := range data {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), data...)
			mutated[i] ^= 1 << bit
			if got := CRC8(mutated); got == want {
				t.Fatalf("CRC8 unchanged after flipping byte %d bit %d", i, bit)
			}
		}
	}
}
