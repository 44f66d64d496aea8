package whisper

import (
	"fmt"
	"strings"
)

// User is the owner record. ID is the auth subject.
type User struct {
	ID                  string       `json:"id"`
	Email               string       `json:"email,omitempty"`
	FirstName           string       `json:"first_name,omitempty"`
	LastName            string       `json:"last_name,omitempty"`
	ProfilePicture      string       `json:"profile_picture,omitempty"`
	OnboardingCompleted bool         `json:"onboarding_completed"`
	MemoirPublic        bool         `json:"memoir_public"`
	Style               StyleProfile `json:"style"`
	CreatedAt           int64        `json:"created_at"`
	UpdatedAt           int64        `json:"updated_at"`
}

// DisplayName returns "First Last", falling back to the email.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name != "" {
		return name
	}
	return u.Email
}

// Style preference values. An empty value means "not chosen".
const (
	VoiceSceneFocused      = "scene-focused"
	VoiceReflectionFocused = "reflection-focused"

	WritingCleanSimple        = "clean-simple"
	WritingMusicalDescriptive = "musical-descriptive"

	CandorFullyCandid     = "fully-candid"
	CandorSoftenedDetails = "softened-details"

	HumorNatural    = "natural-humor"
	HumorBackground = "background-humor"
)

// StyleProfile steers memoir generation.
type StyleProfile struct {
	VoiceStyle    string `json:"voice_style,omitempty"`
	WritingStyle  string `json:"writing_style,omitempty"`
	CandorLevel   string `json:"candor_level,omitempty"`
	HumorStyle    string `json:"humor_style,omitempty"`
	FeelingIntent string `json:"feeling_intent,omitempty"`
	Opener        string `json:"opener,omitempty"`
}

var styleChoices = []struct {
	field   string
	get     func(*StyleProfile) string
	allowed []string
}{
	{"voice_style", func(s *StyleProfile) string { return s.VoiceStyle }, []string{VoiceSceneFocused, VoiceReflectionFocused}},
	{"writing_style", func(s *StyleProfile) string { return s.WritingStyle }, []string{WritingCleanSimple, WritingMusicalDescriptive}},
	{"candor_level", func(s *StyleProfile) string { return s.CandorLevel }, []string{CandorFullyCandid, CandorSoftenedDetails}},
	{"humor_style", func(s *StyleProfile) string { return s.HumorStyle }, []string{HumorNatural, HumorBackground}},
}

// Validate rejects unknown enumerated values. Empty values are allowed.
func (s *StyleProfile) Validate() error {
	for _, c := range styleChoices {
		v := c.get(s)
		if v == "" {
			continue
		}
		ok := false
		for _, a := range c.allowed {
			if v == a {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%s must be one of %s, got %q", c.field, strings.Join(c.allowed, ", "), v)
		}
	}
	return nil
}

// Merge returns s with every non-empty field of patch applied.
func (s StyleProfile) Merge(patch StyleProfile) StyleProfile {
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&s.VoiceStyle, patch.VoiceStyle)
	set(&s.WritingStyle, patch.WritingStyle)
	set(&s.CandorLevel, patch.CandorLevel)
	set(&s.HumorStyle, patch.HumorStyle)
	set(&s.FeelingIntent, patch.FeelingIntent)
	set(&s.Opener, patch.Opener)
	return s
}
