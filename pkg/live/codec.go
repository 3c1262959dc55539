package live

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// AudioChunk is an outbound media payload: base64 data plus the MIME type the
// remote service expects for raw PCM at a fixed sample rate.
type AudioChunk struct {
	Data     string
	MIMEType string
}

// JPEGMimeType is the MIME type for outbound camera frames.
const JPEGMimeType = "image/jpeg"

// PCMMimeType returns the realtime-input MIME type for raw PCM at the given rate.
func PCMMimeType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// EncodeAudioChunk packs raw 16-bit PCM into a base64 chunk tagged with the
// PCM MIME type for sampleRate.
func EncodeAudioChunk(pcm []byte, sampleRate int) AudioChunk {
	return AudioChunk{
		Data:     base64.StdEncoding.EncodeToString(pcm),
		MIMEType: PCMMimeType(sampleRate),
	}
}

// DecodeAudioChunk recovers the raw bytes of a base64 audio chunk.
func DecodeAudioChunk(chunk AudioChunk) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(chunk.Data)
	if err != nil {
		return nil, fmt.Errorf("decode audio chunk: %w", err)
	}
	return data, nil
}

// PackPCM16 converts normalized float samples to little-endian 16-bit PCM.
// Samples outside [-1, 1] are clamped.
func PackPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// UnpackPCM16 converts little-endian 16-bit PCM to normalized float samples.
// A trailing odd byte is ignored.
func UnpackPCM16(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(v) / 32768.0
	}
	return out
}

// WrapWAV wraps raw 16-bit PCM in a minimal RIFF/WAVE container so a turn's
// audio can be written to disk as a playable file.
func WrapWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}
