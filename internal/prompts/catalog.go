package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Option is one selectable scenario. Description is the instruction sent to
// the generation backend; ReferenceID optionally steers the style.
type Option struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	PreviewURL  string `json:"previewUrl,omitempty"`
	ReferenceID string `json:"referenceImageId,omitempty"`
}

type Suggester interface {
	SuggestPrompts(ctx context.Context) ([]string, error)
}

var fallback = []Option{
	{
		ID:          "F1",
		Description: "Driving a Formula E car through the neon-lit streets of Tokyo at night, motion blur on the city lights.",
		PreviewURL:  "/prompts/tokyo-night.jpg",
		ReferenceID: "tokyo-night",
	},
	{
		ID:          "F2",
		Description: "Celebrating a win on the podium in Monaco, champagne spraying and confetti in the air.",
		PreviewURL:  "/prompts/monaco-podium.jpg",
		ReferenceID: "monaco-podium",
	},
	{
		ID:          "F3",
		Description: "In the pit lane during a lightning-fast stop, mechanics swapping the front wing around you.",
		PreviewURL:  "/prompts/pit-stop.jpg",
		ReferenceID: "pit-stop",
	},
	{
		ID:          "F4",
		Description: "Racing a Formula E car across the red surface of Mars with Earth rising on the horizon.",
		PreviewURL:  "/prompts/mars.jpg",
		ReferenceID: "mars",
	},
	{
		ID:          "F5",
		Description: "A dynamic anime-style action shot of you drifting a Formula E car through a hairpin.",
		PreviewURL:  "/prompts/anime-drift.jpg",
		ReferenceID: "anime-drift",
	},
	{
		ID:          "F6",
		Description: "Sitting in the cockpit on the starting grid, helmet visor up, the crowd blurred behind you.",
		PreviewURL:  "/prompts/starting-grid.jpg",
		ReferenceID: "starting-grid",
	},
	{
		ID:          "F7",
		Description: "Racing through ancient Roman ruins at sunset with the Colosseum in the background.",
		PreviewURL:  "/prompts/rome.jpg",
		ReferenceID: "rome",
	},
	{
		ID:          "F8",
		Description: "A race engineer in the garage studying telemetry screens beside the car's electric powertrain.",
		PreviewURL:  "/prompts/garage.jpg",
		ReferenceID: "garage",
	},
}

var editSuggestions = []string{
	"make the lighting more dramatic",
	"change the background to a futuristic city",
	"give it a vintage film look",
	"add celebratory confetti",
	"make me look like an anime character",
	"put me in the cockpit of the car",
	"make the image brighter",
}

// Fallback returns a copy of the built-in prompt list.
func Fallback() []Option {
	out := make([]Option, len(fallback))
	copy(out, fallback)
	return out
}

// EditHint rotates through the edit suggestions; callers pass a counter.
func EditHint(i int) string {
	if i < 0 {
		i = -i
	}
	return editSuggestions[i%len(editSuggestions)]
}

// Load asks the suggester once. Any failure, or an empty answer, yields the
// built-in list; the second return reports whether suggestions were used.
func Load(ctx context.Context, s Suggester, logger zerolog.Logger) ([]Option, bool) {
	if s == nil {
		return Fallback(), false
	}

	raw, err := s.SuggestPrompts(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("prompt suggestions unavailable, using fallback")
		return Fallback(), false
	}

	opts := FromSuggestions(raw)
	if len(opts) == 0 {
		logger.Warn().Msg("prompt suggestions empty, using fallback")
		return Fallback(), false
	}
	return opts, true
}

func FromSuggestions(raw []string) []Option {
	seen := make(map[string]bool, len(raw))
	out := make([]Option, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, Option{
			ID:          fmt.Sprintf("P%d", len(out)+1),
			Description: s,
		})
	}
	return out
}

func Find(options []Option, id string) (Option, bool) {
	for _, o := range options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}
