package subtitle

import "math"

// Line is one displayed subtitle.
type Line struct {
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
	Translation string  `json:"translation,omitempty"`
}

// Duration returns the on-screen time of the line in seconds.
func (l Line) Duration() float64 { return l.End - l.Start }

// Word is a recognizer token with its own timing.
type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Segment is a unit of recognizer output. Words may be empty when the
// recognizer does not provide word-level timestamps.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
	Words []Word  `json:"words,omitempty"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
