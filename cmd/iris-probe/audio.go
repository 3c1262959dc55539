package main

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/irislive/iris/pkg/live"
)

// tonePCM synthesizes ms milliseconds of a 440Hz sine at rate, 16-bit mono.
// A short fade at both ends keeps the bridge's VAD from seeing click edges.
func tonePCM(ms, rate int) []byte {
	n := rate * ms / 1000
	fade := rate / 100 // 10ms
	if fade*2 > n {
		fade = n / 2
	}
	samples := make([]float32, n)
	for i := range samples {
		s := 0.3 * math.Sin(2*math.Pi*440*float64(i)/float64(rate))
		if i < fade {
			s *= float64(i) / float64(fade)
		} else if n-i <= fade {
			s *= float64(n-i) / float64(fade)
		}
		samples[i] = float32(s)
	}
	return live.PackPCM16(samples)
}

// silencePCM returns ms milliseconds of 16-bit silence at rate. Streamed
// after the payload so the far VAD sees the turn end.
func silencePCM(ms, rate int) []byte {
	return make([]byte, rate*ms/1000*2)
}

// readWAVPCM loads a RIFF/WAVE file and returns its raw PCM payload. Only
// 16-bit mono PCM at wantRate is accepted; anything else is an error rather
// than a resample.
func readWAVPCM(path string, wantRate int) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%s: not a RIFF/WAVE file", path)
	}

	var pcm []byte
	sawFmt := false
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return nil, fmt.Errorf("%s: truncated %q chunk", path, id)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("%s: short fmt chunk", path)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			channels := binary.LittleEndian.Uint16(data[body+2 : body+4])
			rate := int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(data[body+14 : body+16])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("%s: need 16-bit PCM, got format=%d bits=%d", path, format, bits)
			}
			if channels != 1 {
				return nil, fmt.Errorf("%s: need mono, got %d channels", path, channels)
			}
			if rate != wantRate {
				return nil, fmt.Errorf("%s: need %d Hz, got %d Hz", path, wantRate, rate)
			}
			sawFmt = true
		case "data":
			pcm = data[body : body+size]
		}
		// Chunks are word aligned.
		off = body + size + size%2
	}
	if !sawFmt || pcm == nil {
		return nil, fmt.Errorf("%s: missing fmt or data chunk", path)
	}
	return pcm, nil
}

// splitFrames chops pcm into frameBytes slices; the final short frame is kept.
func splitFrames(pcm []byte, frameBytes int) [][]byte {
	if frameBytes <= 0 {
		return nil
	}
	frames := make([][]byte, 0, len(pcm)/frameBytes+1)
	for len(pcm) > 0 {
		n := frameBytes
		if n > len(pcm) {
			n = len(pcm)
		}
		frames = append(frames, pcm[:n])
		pcm = pcm[n:]
	}
	return frames
}
