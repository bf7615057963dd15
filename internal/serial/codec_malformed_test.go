package serial

import (
	"bytes"
	"testing"

	"github.com/mjaros/go-can-router/internal/can"
)

func TestCodecResyncAfterNoise(t *testing.T) {
	valid := Codec{}.Encode(can.Frame{CANID: 0x321, Len: 2, Data: [8]byte{7, 8}})
	raw := append([]byte{0x00, 0x13, 0x7F, 0xFF}, valid...) // leading junk
	got := decodeAll(t, raw)
	if len(got) != 1 || got[0].CANID != 0x321 {
		t.Fatalf("did not resync past noise: %+v", got)
	}
}

func TestCodecChecksumMismatch(t *testing.T) {
	raw := Codec{}.Encode(can.Frame{CANID: 0x10, Len: 1, Data: [8]byte{0xEE}})
	raw[FrameSize-1] ^= 0xFF // corrupt checksum
	got := decodeAll(t, raw)
	if len(got) != 0 {
		t.Fatalf("corrupted frame decoded: %+v", got)
	}
}

func TestCodecInvalidDLCSkipped(t *testing.T) {
	raw := Codec{}.Encode(can.Frame{CANID: 0x10, Len: 1, Data: [8]byte{0xEE}})
	raw[0] = 0x80 | 0x09 // DLC 9 is invalid
	valid := Codec{}.Encode(can.Frame{CANID: 0x20, Len: 0})
	got := decodeAll(t, append(raw, valid...))
	if len(got) != 1 || got[0].CANID != 0x20 {
		t.Fatalf("decoder did not skip invalid DLC frame: %+v", got)
	}
}

func TestCodecCorruptedStreamEventuallyRealigns(t *testing.T) {
	a := Codec{}.Encode(can.Frame{CANID: 0x100, Len: 4, Data: [8]byte{1, 2, 3, 4}})
	b := Codec{}.Encode(can.Frame{CANID: 0x200, Len: 4, Data: [8]byte{5, 6, 7, 8}})
	// Drop a byte from the middle of the first frame; the second frame must
	// still come out intact.
	raw := append(append([]byte{}, a[:6]...), a[7:]...)
	raw = append(raw, b...)
	got := decodeAll(t, raw)
	found := false
	for _, fr := range got {
		if fr.CANID == 0x200 && bytes.Equal(fr.Data[:4], []byte{5, 6, 7, 8}) {
			found = true
		}
	}
	if !found {
		t.Fatalf("second frame lost after corruption: %+v", got)
	}
}
