package audio

import (
	"encoding/binary"
	"fmt"
)

// Float32ToPCM16LE converts normalized samples to raw little-endian 16-bit PCM.
// Values outside [-1, 1] are clipped.
func Float32ToPCM16LE(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(Float32ToInt16(s)))
	}
	return out
}

// PCM16LEToFloat32 converts raw little-endian 16-bit PCM to normalized samples.
func PCM16LEToFloat32(b []byte) ([]float32, error) {
	if len(b)%BytesPerSample != 0 {
		return nil, fmt.Errorf("odd PCM16 payload length %d", len(b))
	}
	out := make([]float32, len(b)/BytesPerSample)
	for i := range out {
		out[i] = Int16ToFloat32(int16(binary.LittleEndian.Uint16(b[i*BytesPerSample:])))
	}
	return out, nil
}

// Int16ToFloat32 maps a PCM16 sample onto [-1, 1).
func Int16ToFloat32(v int16) float32 {
	return float32(v) / 32768
}

// Float32ToInt16 maps a normalized sample onto the int16 range with saturation.
func Float32ToInt16(v float32) int16 {
	return saturateInt16(int32(v * 32767))
}

// saturateInt16 clamps v to the valid int16 range.
func saturateInt16(v int32) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}

// clampUnit clamps v to [-1, 1].
func clampUnit(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
