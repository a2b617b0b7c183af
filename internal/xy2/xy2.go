// Package xy2 encodes scanner field coordinates and beam state into the
// XY2-100 wire format: per sample tick, each galvo channel receives a 20-bit
// word (3-bit header, 16 position bits MSB-first, check bit) and the laser
// side channel receives a 16-bit gate/power word.
package xy2

import (
	"fmt"
	"math"
	"math/bits"
)

// Word is one 20-bit XY2-100 channel word, right-aligned in a uint32.
type Word uint32

// PositionHeader is the 3-bit header marking a 16-bit position payload.
const PositionHeader = 0b001

// EncodePosition builds the channel word for one field coordinate: header,
// the 16 data bits MSB-first, and an even-parity check bit over the 19
// preceding bits.
//
// TODO: verify check-bit polarity against the OPAL-30 host link document;
// some heads run odd parity on status replies.
func EncodePosition(v uint16) Word {
	w := uint32(PositionHeader)<<16 | uint32(v)
	w <<= 1
	if bits.OnesCount32(w)%2 == 1 {
		w |= 1
	}
	return Word(w)
}

// DecodePosition validates the header and check bit and returns the
// coordinate. It is the inverse of EncodePosition and exists for sinks and
// tests that audit recorded streams.
func DecodePosition(w Word) (uint16, error) {
	if w>>20 != 0 {
		return 0, fmt.Errorf("xy2: word %#x wider than 20 bits", uint32(w))
	}
	if h := w.Header(); h != PositionHeader {
		return 0, fmt.Errorf("xy2: word %#x has header %03b, want %03b", uint32(w), h, PositionHeader)
	}
	if !w.ParityOK() {
		return 0, fmt.Errorf("xy2: word %#x fails parity", uint32(w))
	}
	return w.Data(), nil
}

// Header returns the word's 3 header bits.
func (w Word) Header() uint8 {
	return uint8(w >> 17 & 0b111)
}

// Data returns the 16 payload bits.
func (w Word) Data() uint16 {
	return uint16(w >> 1)
}

// CheckBit returns the parity bit.
func (w Word) CheckBit() bool {
	return w&1 == 1
}

// ParityOK reports whether the 20 bits carry an even number of ones.
func (w Word) ParityOK() bool {
	return bits.OnesCount32(uint32(w))%2 == 0
}

// LaserWord is the 16-bit laser side-channel word, sample-synchronized with
// the position words: the low byte is the 8-bit power DAC value and bit 8 is
// the beam gate.
type LaserWord uint16

// GateBit is the beam gate flag inside a LaserWord.
const GateBit LaserWord = 1 << 8

// EncodeLaser builds the side-channel word from gate state and power in
// percent. Power is clamped to 0..100 and quantized onto the DAC.
func EncodeLaser(on bool, powerPct float64) LaserWord {
	w := LaserWord(PowerDAC(powerPct))
	if on {
		w |= GateBit
	}
	return w
}

// PowerDAC quantizes a 0..100 percent power level onto the 8-bit DAC range.
func PowerDAC(pct float64) uint8 {
	if pct <= 0 {
		return 0
	}
	if pct >= 100 {
		return 255
	}
	return uint8(math.Round(pct / 100 * 255))
}

// GateOn reports whether the word opens the beam gate.
func (w LaserWord) GateOn() bool {
	return w&GateBit != 0
}

// DAC returns the 8-bit power value.
func (w LaserWord) DAC() uint8 {
	return uint8(w)
}

// PowerPct converts the DAC value back to percent for display.
func (w LaserWord) PowerPct() float64 {
	return float64(w.DAC()) / 255 * 100
}

// FramePair is one sample tick on the scanner link: both channel words, the
// laser side channel, and the tick's sequence number. EStop marks frames
// belonging to an emergency-stop tail so sinks can prioritize them.
type FramePair struct {
	Seq   uint64
	X     Word
	Y     Word
	Laser LaserWord
	EStop bool
}

// EncodeFrame builds a complete frame pair from field coordinates and beam
// state.
func EncodeFrame(seq uint64, x, y uint16, on bool, powerPct float64) FramePair {
	return FramePair{
		Seq:   seq,
		X:     EncodePosition(x),
		Y:     EncodePosition(y),
		Laser: EncodeLaser(on, powerPct),
	}
}
