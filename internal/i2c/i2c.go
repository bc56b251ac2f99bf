// Package i2c talks to register-mapped devices on a Linux /dev/i2c-N bus.
package i2c

import "fmt"

// RegIO is the register access a sensor driver needs. *Dev implements it;
// tests substitute an in-memory fake.
type RegIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

// BusPath returns the character device for bus number n.
func BusPath(n int) string { return fmt.Sprintf("/dev/i2c-%d", n) }

// UpdateBits rewrites only the bits of reg selected by mask.
func UpdateBits(dev RegIO, reg, mask, value byte) error {
	cur, err := dev.ReadRegU8(reg)
	if err != nil {
		return fmt.Errorf("i2c: read 0x%02X: %w", reg, err)
	}
	next := (cur &^ mask) | (value & mask)
	if next == cur {
		return nil
	}
	if err := dev.WriteReg(reg, next); err != nil {
		return fmt.Errorf("i2c: write 0x%02X: %w", reg, err)
	}
	return nil
}

// RegWrite is one register assignment in a WriteSequence.
type RegWrite struct {
	Reg   byte
	Value byte
}

// WriteSequence applies writes in order and stops at the first failure.
func WriteSequence(dev RegIO, writes ...RegWrite) error {
	for _, w := range writes {
		if err := dev.WriteReg(w.Reg, w.Value); err != nil {
			return fmt.Errorf("i2c: write 0x%02X=0x%02X: %w", w.Reg, w.Value, err)
		}
	}
	return nil
}
