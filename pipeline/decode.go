// Package pipeline turns raw Modbus register reads into quality-tagged,
// rate-annotated Reading records: decode, transform, rate, validate,
// enrich.
package pipeline

// decodeRegisters assembles the raw counter value from a register slice in
// little-endian register order. count=1 yields reg[0]; count>=2 assembles
// 16-bit words low-register-first, generalizing the count=2 32-bit rule to
// wider (future) counters by shifting each subsequent register up another
// 16 bits.
func decodeRegisters(regs []uint16) int64 {
	if len(regs) == 1 {
		return int64(regs[0])
	}

	var raw int64
	for i, reg := range regs {
		raw |= int64(reg) << uint(16*i)
	}
	return raw
}
