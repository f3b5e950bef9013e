// Package music renders background music beds.
package music

import (
	"bytes"
	"context"
	"strings"
	"time"

	"vidgen/internal/providers/audio"
)

// chords maps a style keyword to the partials of its drone.
var chords = map[string][]audio.Tone{
	"ambient":    {{Frequency: 110, Amplitude: 0.12}, {Frequency: 165, Amplitude: 0.08}, {Frequency: 220, Amplitude: 0.05}},
	"cinematic":  {{Frequency: 65.41, Amplitude: 0.15}, {Frequency: 98, Amplitude: 0.1}, {Frequency: 130.81, Amplitude: 0.06}},
	"upbeat":     {{Frequency: 261.63, Amplitude: 0.1}, {Frequency: 329.63, Amplitude: 0.08}, {Frequency: 392, Amplitude: 0.06}},
	"corporate":  {{Frequency: 196, Amplitude: 0.1}, {Frequency: 246.94, Amplitude: 0.07}, {Frequency: 293.66, Amplitude: 0.05}},
	"dramatic":   {{Frequency: 73.42, Amplitude: 0.15}, {Frequency: 87.31, Amplitude: 0.1}, {Frequency: 110, Amplitude: 0.07}},
	"electronic": {{Frequency: 55, Amplitude: 0.15}, {Frequency: 220, Amplitude: 0.06}, {Frequency: 440, Amplitude: 0.03}},
}

const defaultStyle = "ambient"

// Bed is a rendered music track.
type Bed struct {
	Style     string
	Extension string
	Data      []byte
}

// Generator renders a drone for the requested style. Styles are matched by
// keyword so "soft ambient piano" resolves to ambient.
type Generator struct {
	SampleRate int
}

func NewGenerator() *Generator {
	return &Generator{SampleRate: audio.DefaultSampleRate}
}

func (g *Generator) Generate(ctx context.Context, style string, duration time.Duration) (Bed, error) {
	if err := ctx.Err(); err != nil {
		return Bed{}, err
	}
	resolved := ResolveStyle(style)
	samples := audio.Render(duration, g.SampleRate, chords[resolved])
	var buf bytes.Buffer
	if err := audio.WriteWAV(&buf, samples, g.SampleRate); err != nil {
		return Bed{}, err
	}
	return Bed{Style: resolved, Extension: "wav", Data: buf.Bytes()}, nil
}

// ResolveStyle maps a free form style onto a known chord set.
func ResolveStyle(style string) string {
	lower := strings.ToLower(style)
	for _, word := range strings.FieldsFunc(lower, func(r rune) bool { return r == ' ' || r == ',' || r == '-' || r == '/' }) {
		if _, ok := chords[word]; ok {
			return word
		}
	}
	return defaultStyle
}
