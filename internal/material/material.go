package material

import "strings"

// Material identifies a filament type by its canonical uppercase key.
type Material string

const (
	PLA  Material = "PLA"
	PETG Material = "PETG"
	ABS  Material = "ABS"
	TPU  Material = "TPU"
)

// Default is the material every price is quoted in unless the buyer swaps it.
const Default = PLA

// All lists the supported materials, default first.
func All() []Material {
	return []Material{PLA, PETG, ABS, TPU}
}

// Normalize trims and uppercases a raw material key. Empty input yields Default.
// Unknown keys are kept as-is so callers can decide how to fall back.
func Normalize(raw string) Material {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if key == "" {
		return Default
	}
	return Material(key)
}

func (m Material) String() string { return string(m) }
