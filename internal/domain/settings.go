package domain

// FeedSettings feed section
type FeedSettings struct {
	ThresholdPercent      float64 `json:"thresholdPercent"`
	DispenseVolumePercent float64 `json:"dispenseVolumePercent"`
}

// WaterSettings water section
type WaterSettings struct {
	ThresholdPercent    float64 `json:"thresholdPercent"`
	AutoRefillEnabled   bool    `json:"autoRefillEnabled"`
	AutoRefillThreshold float64 `json:"autoRefillThreshold"`
}

// Settings settings/{userId}
type Settings struct {
	Feed      FeedSettings  `json:"feed"`
	Water     WaterSettings `json:"water"`
	UpdatedAt int64         `json:"updatedAt"`
}

// DefaultSettings values a new user starts with
func DefaultSettings() Settings {
	return Settings{
		Feed: FeedSettings{
			ThresholdPercent:      20,
			DispenseVolumePercent: 10,
		},
		Water: WaterSettings{
			ThresholdPercent:    20,
			AutoRefillEnabled:   false,
			AutoRefillThreshold: 80,
		},
	}
}

// FeedPatch nil fields are left untouched
type FeedPatch struct {
	ThresholdPercent      *float64 `json:"thresholdPercent,omitempty"`
	DispenseVolumePercent *float64 `json:"dispenseVolumePercent,omitempty"`
}

// WaterPatch nil fields are left untouched
type WaterPatch struct {
	ThresholdPercent    *float64 `json:"thresholdPercent,omitempty"`
	AutoRefillEnabled   *bool    `json:"autoRefillEnabled,omitempty"`
	AutoRefillThreshold *float64 `json:"autoRefillThreshold,omitempty"`
}

// SettingsPatch partial update; each section merges independently
type SettingsPatch struct {
	Feed  *FeedPatch  `json:"feed,omitempty"`
	Water *WaterPatch `json:"water,omitempty"`
}

// Validate checks every supplied percent
func (p SettingsPatch) Validate() error {
	check := func(field string, v *float64) error {
		if v == nil {
			return nil
		}
		return ValidatePercent(field, *v)
	}
	if p.Feed != nil {
		if err := check("feed.thresholdPercent", p.Feed.ThresholdPercent); err != nil {
			return err
		}
		if err := check("feed.dispenseVolumePercent", p.Feed.DispenseVolumePercent); err != nil {
			return err
		}
	}
	if p.Water != nil {
		if err := check("water.thresholdPercent", p.Water.ThresholdPercent); err != nil {
			return err
		}
		if err := check("water.autoRefillThreshold", p.Water.AutoRefillThreshold); err != nil {
			return err
		}
	}
	return nil
}

// Empty true when nothing would change
func (p SettingsPatch) Empty() bool {
	feedEmpty := p.Feed == nil || (p.Feed.ThresholdPercent == nil && p.Feed.DispenseVolumePercent == nil)
	waterEmpty := p.Water == nil ||
		(p.Water.ThresholdPercent == nil && p.Water.AutoRefillEnabled == nil && p.Water.AutoRefillThreshold == nil)
	return feedEmpty && waterEmpty
}

// Apply returns s with the patch merged in; s is not modified
func (s Settings) Apply(p SettingsPatch) Settings {
	out := s
	if f := p.Feed; f != nil {
		if f.ThresholdPercent != nil {
			out.Feed.ThresholdPercent = *f.ThresholdPercent
		}
		if f.DispenseVolumePercent != nil {
			out.Feed.DispenseVolumePercent = *f.DispenseVolumePercent
		}
	}
	if w := p.Water; w != nil {
		if w.ThresholdPercent != nil {
			out.Water.ThresholdPercent = *w.ThresholdPercent
		}
		if w.AutoRefillEnabled != nil {
			out.Water.AutoRefillEnabled = *w.AutoRefillEnabled
		}
		if w.AutoRefillThreshold != nil {
			out.Water.AutoRefillThreshold = *w.AutoRefillThreshold
		}
	}
	return out
}

// Float64 and Bool build patch fields inline
func Float64(v float64) *float64 { return &v }

func Bool(v bool) *bool { return &v }
