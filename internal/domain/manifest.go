package domain

// ManifestEntry is one file the content engine must fetch, verify and place.
// The order of entries in a manifest is meaningful and must be preserved.
type ManifestEntry struct {
	URL  string `json:"url"`
	Size int64  `json:"size"`
	Hash string `json:"hash"`
	Path string `json:"path"`
}

// OptionalPrefix marks manifest entries the player may toggle individually.
// MandatoryPrefix is where enabled optional entries are relocated so the
// content engine treats them as required.
const (
	OptionalPrefix  = "modoptionnel/"
	MandatoryPrefix = "mods/"
)
