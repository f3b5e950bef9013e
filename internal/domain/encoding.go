package domain

import "strings"

// CodecParams are the encoder settings for a quality tier.
type CodecParams struct {
	Codec  string
	CRF    int
	Preset string
}

// Dimensions is an output frame size in pixels.
type Dimensions struct {
	Width  int
	Height int
}

var codecTable = map[Quality]CodecParams{
	QualityStandard: {Codec: "libx264", CRF: 23, Preset: "fast"},
	QualityHD:       {Codec: "libx264", CRF: 20, Preset: "medium"},
	QualityUltra:    {Codec: "libx265", CRF: 18, Preset: "slow"},
}

var dimensionTable = map[Resolution]Dimensions{
	Resolution720p:  {Width: 1280, Height: 720},
	Resolution1080p: {Width: 1920, Height: 1080},
	Resolution4K:    {Width: 3840, Height: 2160},
}

// CodecParamsFor maps a quality tier to encoder settings; unknown tiers use
// the STANDARD settings.
func CodecParamsFor(q Quality) CodecParams {
	if params, ok := codecTable[Quality(strings.ToUpper(strings.TrimSpace(string(q))))]; ok {
		return params
	}
	return codecTable[QualityStandard]
}

// DimensionsFor maps a resolution tier to a frame size; unknown tiers use
// 1920x1080.
func DimensionsFor(r Resolution) Dimensions {
	key := strings.TrimSpace(string(r))
	if strings.EqualFold(key, string(Resolution4K)) {
		key = string(Resolution4K)
	} else {
		key = strings.ToLower(key)
	}
	if dims, ok := dimensionTable[Resolution(key)]; ok {
		return dims
	}
	return dimensionTable[Resolution1080p]
}
