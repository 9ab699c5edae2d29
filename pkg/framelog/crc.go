// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package framelog

// crc16 is a running CRC-16-CCITT value, updated a byte at a time so the
// decoder never has to buffer a body just to check it
type crc16 uint16

func newCRC() crc16 {
	return crcInitial
}

func (c crc16) update(b byte) crc16 {
	c ^= crc16(b) << 8
	for i := 0; i < 8; i++ {
		if c&0x8000 != 0 {
			c = (c << 1) ^ crcPolynomial
		} else {
			c <<= 1
		}
	}
	return c
}

// CalculateCRC computes the record CRC over data
func CalculateCRC(data []byte) uint16 {
	c := newCRC()
	for _, b := range data {
		c = c.update(b)
	}
	return uint16(c)
}
