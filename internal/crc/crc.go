// Package crc implements the CRC-16 variant used to protect frame payloads
// on the wire. The polynomial and initial value are fixed so every node on
// the bus computes the same check.
package crc

// CRC16 is a running CRC-16 register. The zero value is a valid starting
// register (equivalent to CRC16(0)).
type CRC16 uint16

const polynomial = 0x1021

// Single folds one byte into the running CRC.
func (c *CRC16) Single(b byte) {
	crc := uint16(*c)
	crc ^= uint16(b) << 8
	for i := 0; i < 8; i++ {
		if crc&0x8000 != 0 {
			crc = (crc << 1) ^ polynomial
		} else {
			crc = crc << 1
		}
	}
	*c = CRC16(crc)
}

// Block folds an entire byte slice into the running CRC.
func (c *CRC16) Block(data []byte) {
	for _, b := range data {
		c.Single(b)
	}
}

// Of computes the CRC-16 of data from a zero-initialised register.
func Of(data []byte) uint16 {
	var c CRC16
	c.Block(data)
	return uint16(c)
}
