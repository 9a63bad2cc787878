package stream

import (
	"encoding/binary"
	"io"
	"math"
)

// VolumeReader scales interleaved s16le PCM read from R by a fixed factor.
// Odd trailing bytes are held back until the next sample is complete.
type VolumeReader struct {
	r      io.Reader
	volume float64
	carry  []byte
}

func NewVolumeReader(r io.Reader, volume float64) *VolumeReader {
	return &VolumeReader{r: r, volume: max(0, min(volume, 1))}
}

func (v *VolumeReader) Read(p []byte) (int, error) {
	if len(p) < 2 {
		return 0, io.ErrShortBuffer
	}
	n := copy(p, v.carry)
	v.carry = v.carry[:0]

	m, err := v.r.Read(p[n:])
	n += m

	whole := n &^ 1
	if whole < n {
		v.carry = append(v.carry, p[whole:n]...)
		if err == io.EOF {
			// a dangling half sample is dropped
			v.carry = v.carry[:0]
		}
	}
	if v.volume != 1 {
		scale16(p[:whole], v.volume)
	}
	return whole, err
}

func scale16(b []byte, volume float64) {
	for i := 0; i+1 < len(b); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(b[i:]))) * volume
		s = math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(s)))
		binary.LittleEndian.PutUint16(b[i:], uint16(int16(s)))
	}
}
