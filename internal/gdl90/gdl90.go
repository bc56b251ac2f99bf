// Package gdl90 encodes the attitude as GDL90 AHRS messages understood by
// electronic flight bag apps (ForeFlight AHRS and the Stratux "LE" report).
package gdl90

import "fmt"

const (
	flagByte   = 0x7E
	escapeByte = 0x7D
	escapeXor  = 0x20
)

// Frame appends the CRC to an unframed message (message ID + payload),
// byte-stuffs it and wraps it in 0x7E flags.
func Frame(message []byte) []byte {
	crc := crc16(message)
	out := make([]byte, 0, 4+len(message)*2)
	out = append(out, flagByte)
	out = appendEscaped(out, message...)
	// CRC goes low byte first.
	out = appendEscaped(out, byte(crc), byte(crc>>8))
	return append(out, flagByte)
}

func appendEscaped(dst []byte, bs ...byte) []byte {
	for _, b := range bs {
		if b == flagByte || b == escapeByte {
			dst = append(dst, escapeByte, b^escapeXor)
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// Unframe reverses Frame. It returns the message without CRC and whether
// the CRC matched; malformed framing is an error.
func Unframe(frame []byte) (msg []byte, crcOK bool, err error) {
	if len(frame) < 4 {
		return nil, false, fmt.Errorf("gdl90: frame too short: %d", len(frame))
	}
	if frame[0] != flagByte || frame[len(frame)-1] != flagByte {
		return nil, false, fmt.Errorf("gdl90: missing start/end flags")
	}

	raw := make([]byte, 0, len(frame))
	for i := 1; i < len(frame)-1; i++ {
		b := frame[i]
		if b == escapeByte {
			i++
			if i >= len(frame)-1 {
				return nil, false, fmt.Errorf("gdl90: truncated escape at end of frame")
			}
			b = frame[i] ^ escapeXor
		}
		raw = append(raw, b)
	}
	if len(raw) < 3 {
		return nil, false, fmt.Errorf("gdl90: payload too short: %d", len(raw))
	}

	msg = raw[:len(raw)-2]
	got := uint16(raw[len(raw)-2]) | uint16(raw[len(raw)-1])<<8
	return msg, got == crc16(msg), nil
}

// crc16 is the CRC-CCITT (polynomial 0x1021, zero init) GDL90 uses.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc16Table[crc>>8] ^ (crc << 8) ^ uint16(b)
	}
	return crc
}

var crc16Table = func() [256]uint16 {
	var table [256]uint16
	for i := range table {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()
