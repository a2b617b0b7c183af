// Package opal implements the frame sinks behind the streaming stage: the
// OPAL host-link serial sink, a database-backed recording sink for replay
// and audit, an in-memory simulation sink for tests and dry runs, and a tee
// for fan-out. Every sink receives frames in sequence order and must accept
// an emergency-stop tail even after it has reported a failure.
//
// The host link carries fixed 12-byte little-endian records, one per sample
// tick: the X and Y channel words (20 bits each, right-aligned in a uint32),
// the 16-bit laser word, and a flags word.
package opal

import (
	"encoding/binary"
	"fmt"

	"github.com/ogcode-dev/ogcode/internal/xy2"
)

// RecordSize is the wire size of one host-link record in bytes.
const RecordSize = 12

// FlagEStop marks records belonging to an emergency-stop tail.
const FlagEStop uint16 = 1 << 0

// AppendRecord appends the host-link record for one frame to dst.
func AppendRecord(dst []byte, f xy2.FramePair) []byte {
	var flags uint16
	if f.EStop {
		flags |= FlagEStop
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(f.X))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(f.Y))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(f.Laser))
	dst = binary.LittleEndian.AppendUint16(dst, flags)
	return dst
}

// DecodeRecords parses a packed record block back into frames, numbering
// them from firstSeq. Replay and audit tooling reads recorded chunks through
// this.
func DecodeRecords(data []byte, firstSeq uint64) ([]xy2.FramePair, error) {
	if len(data)%RecordSize != 0 {
		return nil, fmt.Errorf("opal: record block of %d bytes is not a multiple of %d", len(data), RecordSize)
	}
	frames := make([]xy2.FramePair, 0, len(data)/RecordSize)
	for i := 0; i < len(data); i += RecordSize {
		rec := data[i : i+RecordSize]
		frames = append(frames, xy2.FramePair{
			Seq:   firstSeq + uint64(i/RecordSize),
			X:     xy2.Word(binary.LittleEndian.Uint32(rec[0:4])),
			Y:     xy2.Word(binary.LittleEndian.Uint32(rec[4:8])),
			Laser: xy2.LaserWord(binary.LittleEndian.Uint16(rec[8:10])),
			EStop: binary.LittleEndian.Uint16(rec[10:12])&FlagEStop != 0,
		})
	}
	return frames, nil
}
