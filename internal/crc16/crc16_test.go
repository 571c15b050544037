package crc16

import (
	"testing"

	"pgregory.net/rapid"
)

func TestChecksum_EmptyIsInitRegister(t *testing.T) {
	if got := Checksum(nil); got != 0xFFFF {
		t.Fatalf("crc16(\"\") = 0x%04X, want 0xFFFF", got)
	}
}

func TestChecksum_ReferenceVector(t *testing.T) {
	got := Checksum([]byte("123456789"))
	if got != 0x4B37 {
		t.Fatalf("crc16(\"123456789\") = 0x%04X, want 0x4B37", got)
	}
}

func TestChecksum_MatchesBitwise(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 300).Draw(t, "data")
		if fast, slow := Checksum(data), Bitwise(data); fast != slow {
			t.Fatalf("Checksum=0x%04X Bitwise=0x%04X for % x", fast, slow, data)
		}
	})
}

func TestUpdate_IncrementalMatchesWhole(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := rapid.SliceOfN(rapid.Byte(), 0, 150).Draw(t, "a")
		b := rapid.SliceOfN(rapid.Byte(), 0, 150).Draw(t, "b")
		whole := append(append([]byte{}, a...), b...)
		incremental := Update(Update(0xFFFF, a), b)
		if got := Checksum(whole); got != incremental {
			t.Fatalf("incremental CRC mismatch: whole=0x%04X incremental=0x%04X", got, incremental)
		}
	})
}
