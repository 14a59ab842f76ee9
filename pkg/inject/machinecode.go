package inject

import "encoding/binary"

// MachineCode accumulates a sequence of x86-64 instructions as raw bytes.
// Append calls chain so a code blob reads like its assembly listing.
type MachineCode struct {
	data []byte
}

// AppendBytes appends the given opcode bytes.
func (c *MachineCode) AppendBytes(bytes ...byte) *MachineCode {
	c.data = append(c.data, bytes...)
	return c
}

// AppendImmediate32 appends a 32 bit immediate in little endian byte order.
func (c *MachineCode) AppendImmediate32(imm uint32) *MachineCode {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], imm)
	c.data = append(c.data, buf[:]...)
	return c
}

// AppendImmediate64 appends a 64 bit immediate in little endian byte order.
func (c *MachineCode) AppendImmediate64(imm uint64) *MachineCode {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], imm)
	c.data = append(c.data, buf[:]...)
	return c
}

// Bytes returns the accumulated code.
func (c *MachineCode) Bytes() []byte {
	return c.data
}
