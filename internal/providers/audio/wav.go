// Package audio renders the placeholder PCM tracks used when no speech or
// music provider is configured.
package audio

import (
	"encoding/binary"
	"io"
	"math"
	"time"
)

const DefaultSampleRate = 22050

// Tone is one sine partial of a rendered track.
type Tone struct {
	Frequency float64
	Amplitude float64
}

// Render mixes tones into mono 16-bit samples. A short fade at both ends
// avoids clicks when clips are concatenated.
func Render(duration time.Duration, sampleRate int, tones []Tone) []int16 {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	n := int(duration.Seconds() * float64(sampleRate))
	if n < 0 {
		n = 0
	}
	fade := sampleRate / 20
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		var v float64
		for _, tone := range tones {
			v += tone.Amplitude * math.Sin(2*math.Pi*tone.Frequency*t)
		}
		if i < fade {
			v *= float64(i) / float64(fade)
		}
		if tail := n - 1 - i; tail < fade {
			v *= float64(tail) / float64(fade)
		}
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		samples[i] = int16(v * math.MaxInt16)
	}
	return samples
}

// WriteWAV writes samples as a mono 16-bit PCM RIFF file.
func WriteWAV(w io.Writer, samples []int16, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	dataSize := uint32(len(samples) * 2)
	header := struct {
		ChunkID       [4]byte
		ChunkSize     uint32
		Format        [4]byte
		Subchunk1ID   [4]byte
		Subchunk1Size uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Subchunk2ID   [4]byte
		Subchunk2Size uint32
	}{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   1,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * 2),
		BlockAlign:    2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, samples)
}

// Duration reports the playback length of a WAV produced by WriteWAV.
func Duration(size int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	frames := (size - 44) / 2
	if frames < 0 {
		frames = 0
	}
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
