package serial

import (
	"bytes"

	"github.com/mjaros/go-can-router/internal/can"
	"github.com/mjaros/go-can-router/internal/metrics"
)

// Codec frames CAN traffic over the serial link. Every frame is a fixed 14
// bytes:
//
//	[0]     header: 0x80 | EXT(0x20) | RTR(0x10) | DLC(0..8)
//	[1:5]   identifier, big endian, flags stripped
//	[5:13]  payload, zero padded to 8 bytes
//	[13]    checksum: sum of bytes [0:13] mod 256
//
// The high header bit doubles as the sync marker: the decoder resynchronizes
// on it after line noise, with the checksum rejecting false alignments.
type Codec struct{}

// FrameSize is the fixed on-wire size of one frame.
const FrameSize = 14

func checksum(p []byte) byte {
	var sum byte
	for _, b := range p {
		sum += b
	}
	return sum
}

// Encode serializes one frame to its wire form.
func (Codec) Encode(f can.Frame) []byte {
	buf := make([]byte, FrameSize)
	dlc := f.Len
	if dlc > 8 {
		dlc = 8
	}
	header := byte(0x80 | dlc)
	if f.CANID&can.CAN_EFF_FLAG != 0 {
		header |= 0x20
	}
	if f.CANID&can.CAN_RTR_FLAG != 0 {
		header |= 0x10
	}
	buf[0] = header
	id := f.ID()
	buf[1] = byte(id >> 24)
	buf[2] = byte(id >> 16)
	buf[3] = byte(id >> 8)
	buf[4] = byte(id)
	copy(buf[5:13], f.Data[:dlc])
	buf[13] = checksum(buf[:13])
	return buf
}

// DecodeStream consumes complete frames from in and emits them via out,
// leaving any trailing partial frame in the buffer. Malformed bytes are
// counted and skipped one at a time until the stream realigns. It never
// returns an error; the signature leaves room for stateful codecs.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		data := in.Bytes()
		if len(data) == 0 {
			return nil
		}

		header := data[0]
		dlc := header & 0x0F
		if header&0x80 == 0 || dlc > 8 {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}
		if len(data) < FrameSize {
			return nil // wait for the rest of the frame
		}
		if checksum(data[:FrameSize-1]) != data[FrameSize-1] {
			metrics.IncMalformed()
			in.Next(1)
			continue
		}

		id := uint32(data[1])<<24 | uint32(data[2])<<16 | uint32(data[3])<<8 | uint32(data[4])
		var f can.Frame
		if header&0x20 != 0 {
			f.CANID = (id & can.CAN_EFF_MASK) | can.CAN_EFF_FLAG
		} else {
			f.CANID = id & can.CAN_SFF_MASK
		}
		if header&0x10 != 0 {
			f.CANID |= can.CAN_RTR_FLAG
		}
		f.Len = dlc
		copy(f.Data[:], data[5:5+dlc])

		out(f)
		metrics.IncBusRx()
		in.Next(FrameSize)
	}
}
