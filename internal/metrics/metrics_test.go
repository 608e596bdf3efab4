// Ensemble - Outfit Personalization & Diversity Engine
// Copyright 2026 Stylistry
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/stylistry/ensemble

package metrics

import "testing"

func TestScoreBand(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{100, "safe"},
		{90, "safe"},
		{89.9, "adjacent"},
		{70, "adjacent"},
		{69, "stretch"},
		{50, "stretch"},
		{49.9, "other"},
		{0, "other"},
	}

	for _, tt := range tests {
		if got := ScoreBand(tt.score); got != tt.want {
			t.Errorf("ScoreBand(%v) = %q, want %q", tt.score, got, tt.want)
		}
	}
}
