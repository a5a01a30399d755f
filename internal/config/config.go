// Package config holds the installation engine's tunables (spec.md §6).
// Adapted from the teacher's persistent-preferences config package: unlike
// that package, there is no Load/Save here — spec.md §6 is explicit that
// persisted state is none, so this package offers only Default() and
// Validate(), and cmd/echofield binds its fields directly to CLI flags.
package config

import (
	"time"

	"echofield/internal/audio"
)

// Installation holds every tunable of the installation processor.
type Installation struct {
	Spec audio.Spec

	MaxStretchers int
	MaxSnippetDur time.Duration

	AmbientVolumeWindowDur time.Duration
	CurrentVolumeWindowDur time.Duration
	AmpActivationFactor    float32

	WindowSizes []int

	MinStretchFactor float32
	MaxStretchFactor float32
}

// Default returns an Installation config populated with the defaults from
// spec.md §6's configuration table.
func Default() Installation {
	return Installation{
		Spec: audio.Spec{Channels: 2, SampleRate: 44100},

		MaxStretchers: 10,
		MaxSnippetDur: time.Second,

		AmbientVolumeWindowDur: 10 * time.Second,
		CurrentVolumeWindowDur: 300 * time.Millisecond,
		AmpActivationFactor:    1.5,

		WindowSizes: []int{8192},

		MinStretchFactor: 6.0,
		MaxStretchFactor: 12.0,
	}
}

// Validate checks the configuration is safe to start a pipeline with
// (spec.md §7 ParameterOutOfRange: "stretch_factor < 1.0, window_size not a
// power of two" among others — refuse to start rather than run with them).
func (c Installation) Validate() error {
	if err := c.Spec.Validate(); err != nil {
		return err
	}
	if c.MinStretchFactor < 1.0 {
		return audio.ErrParameterOutOfRange
	}
	if c.MaxStretchFactor < c.MinStretchFactor {
		return audio.ErrParameterOutOfRange
	}
	if c.MaxStretchers < 1 {
		return audio.ErrParameterOutOfRange
	}
	if len(c.WindowSizes) == 0 {
		return audio.ErrParameterOutOfRange
	}
	for _, w := range c.WindowSizes {
		if w <= 0 || w&(w-1) != 0 {
			return audio.ErrParameterOutOfRange
		}
	}
	return nil
}
