package genai

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// placeholder renders a deterministic landscape-like still: a vertical
// gradient split by a horizon band with a disc above it. The same request
// always yields the same bytes, so retried jobs produce identical clips.
func placeholder(req ImageRequest) (ImageAsset, error) {
	width, height := frameSize(req.Width, req.Height)
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%dx%d", req.RequestID, req.Prompt, width, height)))

	sky := paletteColor(sum[0:3])
	ground := paletteColor(sum[3:6])
	glow := paletteColor(sum[6:9])
	horizon := height/2 + int(sum[9])%(height/4+1) - height/8
	cx := int(sum[10]) * width / 256
	cy := horizon - height/6
	radius := max(8, min(width, height)/10)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		var row color.RGBA
		if y < horizon {
			row = mix(sky, glow, float64(y)/float64(max(horizon, 1)))
		} else {
			row = mix(glow, ground, float64(y-horizon)/float64(max(height-horizon, 1)))
		}
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, row)
		}
	}
	sun := mix(glow, color.RGBA{R: 255, G: 255, B: 255, A: 255}, 0.6)
	for y := max(0, cy-radius); y < min(height, cy+radius); y++ {
		for x := max(0, cx-radius); x < min(width, cx+radius); x++ {
			if dx, dy := x-cx, y-cy; dx*dx+dy*dy <= radius*radius {
				img.SetRGBA(x, y, sun)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return ImageAsset{}, fmt.Errorf("encode placeholder: %w", err)
	}
	return ImageAsset{Format: "image/png", Width: width, Height: height, Data: buf.Bytes(), Synthetic: true}, nil
}

// paletteColor keeps channels in the mid range so frames never go pure black
// or white.
func paletteColor(b []byte) color.RGBA {
	scale := func(v byte) uint8 { return 40 + uint8(int(v)*170/255) }
	return color.RGBA{R: scale(b[0]), G: scale(b[1]), B: scale(b[2]), A: 255}
}

func mix(a, b color.RGBA, t float64) color.RGBA {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	lerp := func(x, y uint8) uint8 { return uint8(float64(x) + (float64(y)-float64(x))*t) }
	return color.RGBA{R: lerp(a.R, b.R), G: lerp(a.G, b.G), B: lerp(a.B, b.B), A: 255}
}
