package domain

// ArtifactRef locates a file produced by a phase inside the job workspace.
type ArtifactRef string

// AssetBundle collects the media produced by asset generation. A missing map
// entry means the asset was not required or its task failed.
type AssetBundle struct {
	Backgrounds map[int]ArtifactRef
	Voices      map[int]ArtifactRef
	Music       ArtifactRef
}

// NewAssetBundle returns an empty bundle with initialised maps.
func NewAssetBundle() AssetBundle {
	return AssetBundle{
		Backgrounds: make(map[int]ArtifactRef),
		Voices:      make(map[int]ArtifactRef),
	}
}

// Background returns the background for a scene, if present.
func (b AssetBundle) Background(scene int) (ArtifactRef, bool) {
	ref, ok := b.Backgrounds[scene]
	return ref, ok && ref != ""
}

// Voice returns the voice track for a scene, if present.
func (b AssetBundle) Voice(scene int) (ArtifactRef, bool) {
	ref, ok := b.Voices[scene]
	return ref, ok && ref != ""
}

// HasMusic reports whether a music bed was produced.
func (b AssetBundle) HasMusic() bool {
	return b.Music != ""
}
