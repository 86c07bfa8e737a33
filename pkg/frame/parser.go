package frame

import "encoding/binary"

// Parser delimits frames from a byte stream.
// A candidate frame failing the checksum is rescanned from the byte after
// its SOF, so a spurious SOF in line noise doesn't swallow a real frame.
type Parser struct {
	state parseState
	buf   []byte
	need  int
}

// TimerAction defines what to do with the inter-byte timer.
type TimerAction int

const (
	// TimerNoChange indicates keep the timer as-is.
	TimerNoChange TimerAction = iota
	// TimerRestart to restart the timer.
	TimerRestart
	// TimerStop to stop/cancel the timer.
	TimerStop
)

// ParseResult indicates the result after one parsing step.
type ParseResult struct {
	// Frames are complete frames with valid checksum.
	Frames [][]byte
	// Discarded counts bytes dropped while searching for SOF.
	Discarded int
	// Receiving is true in the middle of a frame.
	Receiving bool
}

// WhatAboutTimer decides what to do with the inter-byte timer.
func (r ParseResult) WhatAboutTimer() TimerAction {
	if r.Receiving {
		return TimerRestart
	}
	return TimerStop
}

type parseState int

const (
	stateSOF  parseState = iota // waiting for SOF
	stateLen                    // waiting for the 2 length bytes
	stateBody                   // waiting for the rest of the frame
)

// Receiving indicates the parser is in the middle of a frame.
func (p *Parser) Receiving() bool {
	return p.state != stateSOF
}

// Parse consumes one byte.
func (p *Parser) Parse(b byte) (pr ParseResult) {
	p.feed(b, &pr)
	pr.Receiving = p.Receiving()
	return
}

// ParseBytes consumes a chunk of bytes.
func (p *Parser) ParseBytes(bs []byte) (pr ParseResult) {
	for _, b := range bs {
		p.feed(b, &pr)
	}
	pr.Receiving = p.Receiving()
	return
}

// Timeout notifies the inter-byte timer expired, the partial frame is
// rescanned and what's left is dropped.
func (p *Parser) Timeout() (pr ParseResult) {
	if p.state != stateSOF {
		p.reject(&pr)
	}
	if p.state != stateSOF {
		pr.Discarded += len(p.buf)
		p.reset()
	}
	pr.Receiving = p.Receiving()
	return
}

// Reset drops any partial frame.
func (p *Parser) Reset() {
	p.reset()
}

func (p *Parser) reset() {
	p.state, p.buf, p.need = stateSOF, p.buf[:0], 0
}

func (p *Parser) feed(b byte, pr *ParseResult) {
	switch p.state {
	case stateSOF:
		if b != SOF {
			pr.Discarded++
			return
		}
		p.buf = append(p.buf[:0], b)
		p.state = stateLen
	case stateLen:
		p.buf = append(p.buf, b)
		if len(p.buf) < 3 {
			return
		}
		lenField := binary.LittleEndian.Uint16(p.buf[1:3])
		n := int(lenField & lenMask)
		if n < Overhead || byte(lenField>>versionBits) != Version {
			p.reject(pr)
			return
		}
		p.need, p.state = n, stateBody
	case stateBody:
		p.buf = append(p.buf, b)
		if len(p.buf) < p.need {
			return
		}
		if !Verify(p.buf) {
			p.reject(pr)
			return
		}
		pr.Frames = append(pr.Frames, append([]byte(nil), p.buf...))
		p.reset()
	}
}

// reject drops the SOF of the current candidate and rescans the rest.
func (p *Parser) reject(pr *ParseResult) {
	rest := append([]byte(nil), p.buf[1:]...)
	pr.Discarded++
	p.reset()
	for _, b := range rest {
		p.feed(b, pr)
	}
}
