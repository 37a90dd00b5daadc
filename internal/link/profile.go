package link

import (
	"strings"

	"hydropulse/internal/model"
)

// Profile bounds how much telemetry and which alerts cross the uplink.
type Profile struct {
	Name          string
	FPS           int
	ThrottleRatio int              // forward one frame in ThrottleRatio
	Severities    []model.Severity // nil means every severity
	Compress      bool
}

var (
	ProfileNormal = Profile{Name: "NORMAL", FPS: 10, ThrottleRatio: 1}

	ProfileLowBandwidth = Profile{
		Name:          "LOW_BANDWIDTH",
		FPS:           1,
		ThrottleRatio: 10,
		Severities:    []model.Severity{model.SeverityCritical, model.SeverityNeural},
		Compress:      true,
	}
)

func (p Profile) Allows(s model.Severity) bool {
	if p.Severities == nil {
		return true
	}
	for _, allowed := range p.Severities {
		if allowed == s {
			return true
		}
	}
	return false
}

// NetworkHints are what the client reports about its connection.
type NetworkHints struct {
	Mobile        bool   `json:"mobile"`
	EffectiveType string `json:"effective_type"` // slow-2g, 2g, 3g, 4g
	SaveData      bool   `json:"save_data"`
}

// AutoProfile picks LOW_BANDWIDTH for mobile devices, 2G-class links or
// data-saver clients.
func AutoProfile(h NetworkHints) Profile {
	switch strings.ToLower(h.EffectiveType) {
	case "slow-2g", "2g":
		return ProfileLowBandwidth
	}
	if h.Mobile || h.SaveData {
		return ProfileLowBandwidth
	}
	return ProfileNormal
}

// ProfileByName resolves a configured profile name.
func ProfileByName(name string) (Profile, bool) {
	switch strings.ToUpper(name) {
	case ProfileNormal.Name, "":
		return ProfileNormal, true
	case ProfileLowBandwidth.Name:
		return ProfileLowBandwidth, true
	default:
		return Profile{}, false
	}
}
