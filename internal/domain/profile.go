package domain

// LaunchProfile is a named bundle of launch overrides.
type LaunchProfile struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	RAM      float64 `json:"ram"` // GB
	ResW     int     `json:"resW"`
	ResH     int     `json:"resH"`
	JavaPath string  `json:"javaPath,omitempty"`
}

// DefaultProfileID is the profile that always exists and cannot be deleted.
const DefaultProfileID = "default"

// DefaultProfile returns the built-in launch profile.
func DefaultProfile() LaunchProfile {
	return LaunchProfile{
		ID:   DefaultProfileID,
		Name: "Default",
		RAM:  4,
		ResW: 854,
		ResH: 480,
	}
}
