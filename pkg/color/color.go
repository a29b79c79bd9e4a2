// Package color derives stable Feishu tag colors from arbitrary strings.
package color

import "github.com/cespare/xxhash/v2"

// Pair is a tag style: background and foreground color tokens.
type Pair struct {
	Name       string
	Background string
	Foreground string
}

// Palette is the fixed, ordered color table. Reordering it changes every
// derived color, so new entries must only be appended.
var Palette = []Pair{
	{Name: "blue", Background: "blue-50", Foreground: "blue-600"},
	{Name: "turquoise", Background: "turquoise-50", Foreground: "turquoise-600"},
	{Name: "lime", Background: "lime-50", Foreground: "lime-700"},
	{Name: "orange", Background: "orange-50", Foreground: "orange-600"},
	{Name: "violet", Background: "violet-50", Foreground: "violet-600"},
	{Name: "indigo", Background: "indigo-50", Foreground: "indigo-600"},
	{Name: "wathet", Background: "wathet-50", Foreground: "wathet-700"},
	{Name: "green", Background: "green-50", Foreground: "green-600"},
	{Name: "yellow", Background: "yellow-50", Foreground: "yellow-700"},
	{Name: "red", Background: "red-50", Foreground: "red-600"},
	{Name: "purple", Background: "purple-50", Foreground: "purple-600"},
	{Name: "carmine", Background: "carmine-50", Foreground: "carmine-600"},
}

// Fixed pairs used for the project, environment and host tags when
// hash-based coloring is disabled.
var (
	FixedProject     = Palette[0]
	FixedEnvironment = Palette[7]
	FixedHost        = Palette[3]
)

// For maps text to a palette entry. The result depends only on text.
func For(text string) Pair {
	return Palette[xxhash.Sum64String(text)%uint64(len(Palette))]
}

// Named returns the palette entry called name.
func Named(name string) (Pair, bool) {
	for _, p := range Palette {
		if p.Name == name {
			return p, true
		}
	}
	return Pair{}, false
}
