package can

// SocketCAN flag bits for can_id (same values as <linux/can.h>)
const (
	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7FF
	CAN_EFF_MASK = 0x1FFFFFFF
)

// Frame is a single classic CAN frame as seen by the router and its
// peripheral backends. CANID carries EFF/RTR/ERR flags in its upper bits
// like SocketCAN; Len is the payload length (0..8 for classic) and only
// the first Len bytes of Data are valid.
//
// Frames are treated as immutable values once received.
type Frame struct {
	CANID uint32
	Len   uint8
	Data  [8]byte
}

// ID returns the bus identifier with flag bits stripped: 29 bits for an
// extended frame, 11 bits otherwise.
func (f Frame) ID() uint32 {
	if f.CANID&CAN_EFF_FLAG != 0 {
		return f.CANID & CAN_EFF_MASK
	}
	return f.CANID & CAN_SFF_MASK
}

// Extended reports whether the frame uses a 29-bit identifier.
func (f Frame) Extended() bool { return f.CANID&CAN_EFF_FLAG != 0 }

// RTR reports whether the frame is a remote transmission request.
func (f Frame) RTR() bool { return f.CANID&CAN_RTR_FLAG != 0 }

// Payload returns the valid prefix of Data.
func (f Frame) Payload() []byte {
	n := f.Len
	if n > 8 {
		n = 8
	}
	return f.Data[:n]
}
