// Package frame encodes and decodes link frames.
package frame

// A frame is exchanged between the companion computer and the flight
// controller over a peer-to-peer byte stream (e.g. serial port). All
// multi-byte fields are little-endian.
//
//	offset size field
//	0      1    SOF (0xAA)
//	1      2    bits 0-9: frame length (header+payload+CRC), bits 10-15: version
//	3      1    bit 7: ack flag, bits 0-4: session
//	4      2    sequence number
//	6      1    command set
//	7      1    command id
//	8      n    payload
//	8+n    4    CRC-32 (IEEE) of bytes [0, 8+n)
//
// Session 0 marks frames expecting no ack (pushes, pipeline data), session 1
// marks requests expecting an ack. An ack echoes the sequence number and
// command of its request with the ack flag set.
