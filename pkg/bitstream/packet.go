package bitstream

import "fmt"

// SyncWord starts the packet section of a configuration stream.
const SyncWord uint32 = 0xAA995566

// Op is a packet opcode.
type Op uint32

const (
	OpNOP Op = iota
	OpRead
	OpWrite
	OpReserved
)

func (o Op) String() string {
	return [...]string{"NOP", "READ", "WRITE", "RESERVED"}[o&3]
}

// Register is a configuration register address.
type Register uint32

const (
	RegCRC     Register = 0
	RegFAR     Register = 1
	RegFDRI    Register = 2
	RegFDRO    Register = 3
	RegCMD     Register = 4
	RegCTL0    Register = 5
	RegMASK    Register = 6
	RegSTAT    Register = 7
	RegLOUT    Register = 8
	RegCOR0    Register = 9
	RegMFWR    Register = 10
	RegCBC     Register = 11
	RegIDCODE  Register = 12
	RegAXSS    Register = 13
	RegCOR1    Register = 14
	RegWBSTAR  Register = 16
	RegTIMER   Register = 17
	RegBOOTSTS Register = 22
	RegCTL1    Register = 24
	RegBSPI    Register = 31
)

var regNames = map[Register]string{
	RegCRC: "CRC", RegFAR: "FAR", RegFDRI: "FDRI", RegFDRO: "FDRO", RegCMD: "CMD",
	RegCTL0: "CTL0", RegMASK: "MASK", RegSTAT: "STAT", RegLOUT: "LOUT", RegCOR0: "COR0",
	RegMFWR: "MFWR", RegCBC: "CBC", RegIDCODE: "IDCODE", RegAXSS: "AXSS", RegCOR1: "COR1",
	RegWBSTAR: "WBSTAR", RegTIMER: "TIMER", RegBOOTSTS: "BOOTSTS", RegCTL1: "CTL1", RegBSPI: "BSPI",
}

func (r Register) String() string {
	if n, ok := regNames[r]; ok {
		return n
	}
	return fmt.Sprintf("REG%d", uint32(r))
}

// Command values written to the CMD register.
const (
	CmdNULL     uint32 = 0
	CmdWCFG     uint32 = 1
	CmdMFW      uint32 = 2
	CmdLFRM     uint32 = 3
	CmdRCFG     uint32 = 4
	CmdSTART    uint32 = 5
	CmdRCRC     uint32 = 7
	CmdSHUTDOWN uint32 = 11
	CmdDESYNC   uint32 = 13
	CmdIPROG    uint32 = 15
)

// Packet is a decoded packet header. Type 2 packets carry no register; they
// continue the register of the preceding type 1 packet.
type Packet struct {
	Type      int
	Op        Op
	Register  Register
	WordCount int
}

func (p Packet) String() string {
	if p.Type == 2 {
		return fmt.Sprintf("Type2 %s words=%d", p.Op, p.WordCount)
	}
	return fmt.Sprintf("Type1 %s %s words=%d", p.Op, p.Register, p.WordCount)
}

// DecodeHeader decodes a packet header word.
func DecodeHeader(w uint32) (Packet, error) {
	switch w >> 29 {
	case 1:
		return Packet{
			Type:      1,
			Op:        Op((w >> 27) & 3),
			Register:  Register((w >> 13) & 0x3FFF),
			WordCount: int(w & 0x7FF),
		}, nil
	case 2:
		return Packet{
			Type:      2,
			Op:        Op((w >> 27) & 3),
			WordCount: int(w & 0x7FFFFFF),
		}, nil
	}
	return Packet{}, fmt.Errorf("%w: header %08x", ErrUnexpectedPacketType, w)
}

// Type1 encodes a type 1 header. wc must fit 11 bits.
func Type1(op Op, reg Register, wc int) uint32 {
	return 1<<29 | uint32(op&3)<<27 | uint32(reg&0x3FFF)<<13 | uint32(wc)&0x7FF
}

// Type2 encodes a type 2 header.
func Type2(op Op, wc int) uint32 {
	return 2<<29 | uint32(op&3)<<27 | uint32(wc)&0x7FFFFFF
}

// NOOP is a type 1 no-operation packet.
var NOOP = Type1(OpNOP, 0, 0)
