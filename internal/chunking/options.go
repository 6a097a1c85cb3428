package chunking

import "fmt"

// Options controls chunk sizing. Sizes are measured in characters (runes).
type Options struct {
	// TargetMin is the size at which a chunk may close on a break signal.
	TargetMin int
	// TargetMax is the preferred upper size; crossing it is a break signal.
	TargetMax int
	// HardMax is never exceeded except by a single unbreakable word.
	HardMax int
	// OverlapChars bounds how much of the previous chunk is repeated at the
	// start of the next one. Overlap always starts on a sentence boundary.
	OverlapChars int
	// MinChars is the floor below which a chunk is considered incomplete.
	MinChars int
	// MinQuality is the score below which a chunk is re-chunked once and then
	// flagged as low quality.
	MinQuality float64
	// ParagraphGap is the number of blank lines treated as a topic shift.
	ParagraphGap int
}

// DefaultOptions returns the production chunking parameters.
func DefaultOptions() Options {
	return Options{
		TargetMin:    200,
		TargetMax:    600,
		HardMax:      1000,
		OverlapChars: 100,
		MinChars:     50,
		MinQuality:   0.70,
		ParagraphGap: 2,
	}
}

// Validate checks that the size parameters are ordered and positive.
func (o Options) Validate() error {
	switch {
	case o.TargetMin <= 0:
		return fmt.Errorf("target_min must be positive, got %d", o.TargetMin)
	case o.TargetMax < o.TargetMin:
		return fmt.Errorf("target_max (%d) must be >= target_min (%d)", o.TargetMax, o.TargetMin)
	case o.HardMax < o.TargetMax:
		return fmt.Errorf("hard_max (%d) must be >= target_max (%d)", o.HardMax, o.TargetMax)
	case o.OverlapChars < 0 || o.OverlapChars >= o.HardMax:
		return fmt.Errorf("overlap_chars must be in [0, hard_max), got %d", o.OverlapChars)
	case o.MinChars < 0 || o.MinChars > o.TargetMin:
		return fmt.Errorf("min_chars must be in [0, target_min], got %d", o.MinChars)
	case o.MinQuality < 0 || o.MinQuality > 1:
		return fmt.Errorf("min_quality must be in [0, 1], got %v", o.MinQuality)
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.ParagraphGap <= 0 {
		o.ParagraphGap = 2
	}
	return o
}
