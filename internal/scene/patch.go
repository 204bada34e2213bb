package scene

// Patch is a partial scene update. Nil fields are left untouched; an empty
// asset id disables that overlay.
type Patch struct {
	BrandAssetID      *string `json:"brandAssetId,omitempty"`
	CharacterAssetID  *string `json:"characterAssetId,omitempty"`
	BackgroundAssetID *string `json:"backgroundAssetId,omitempty"`
	Trim              *Trim   `json:"trim,omitempty"`
	ClearTrim         bool    `json:"clearTrim,omitempty"`
}

// AssetPatch builds a patch that sets the overlay of the given kind.
func AssetPatch(kind AssetKind, assetID string) Patch {
	id := assetID
	var p Patch
	switch kind {
	case AssetBrand:
		p.BrandAssetID = &id
	case AssetCharacter:
		p.CharacterAssetID = &id
	case AssetBackground:
		p.BackgroundAssetID = &id
	}
	return p
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.BrandAssetID == nil && p.CharacterAssetID == nil && p.BackgroundAssetID == nil && p.Trim == nil && !p.ClearTrim
}

// Apply returns s with the patch applied.
func (p Patch) Apply(s Scene) Scene {
	next := s.Clone()
	if p.BrandAssetID != nil {
		next.BrandAssetID = *p.BrandAssetID
	}
	if p.CharacterAssetID != nil {
		next.CharacterAssetID = *p.CharacterAssetID
	}
	if p.BackgroundAssetID != nil {
		next.BackgroundAssetID = *p.BackgroundAssetID
	}
	if p.ClearTrim {
		next.Trim = nil
	}
	if p.Trim != nil {
		t := *p.Trim
		next.Trim = &t
	}
	return next
}
