package pipeline

import (
	"math/rand"
	"testing"
)

func TestNumChunks(t *testing.T) {
	tests := []struct {
		name        string
		durationSec float64
		chunkSec    int
		want        int
	}{
		{"partial last chunk", 75, 30, 3},
		{"exact multiple", 120, 60, 2},
		{"shorter than one chunk", 45, 60, 1},
		{"exactly one chunk", 60, 60, 1},
		{"long structured chunks", 700, 600, 2},
		{"zero duration", 0, 60, 0},
		{"negative duration", -1, 60, 0},
		{"zero chunk size", 75, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NumChunks(tt.durationSec, tt.chunkSec); got != tt.want {
				t.Errorf("NumChunks(%g, %d) = %d, want %d", tt.durationSec, tt.chunkSec, got, tt.want)
			}
		})
	}
}

func TestChunkWindow(t *testing.T) {
	// 75s episode, 30s chunks, 2s overlap.
	tests := []struct {
		index     int
		wantStart float64
		wantEnd   float64
	}{
		{0, 0, 32},
		{1, 30, 62},
		{2, 60, 75}, // clamped to episode end
	}
	for _, tt := range tests {
		start, end := chunkWindow(tt.index, 30, 2, 75)
		if start != tt.wantStart || end != tt.wantEnd {
			t.Errorf("chunkWindow(%d) = [%g, %g], want [%g, %g]",
				tt.index, start, end, tt.wantStart, tt.wantEnd)
		}
	}
}

// Randomized plans: the windows tile the episode without gaps and the last
// window ends exactly at the episode duration.
func TestChunkWindowsCoverEpisodeRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for iter := 0; iter < 250; iter++ {
		chunkDur := 10 + rng.Intn(600)
		overlap := rng.Intn(min(chunkDur, 31))
		durationSec := 1 + rng.Float64()*7200

		n := NumChunks(durationSec, chunkDur)
		if n < 1 {
			t.Fatalf("iter %d: NumChunks(%g, %d) = %d", iter, durationSec, chunkDur, n)
		}

		var prevEnd float64
		for i := range n {
			start, end := chunkWindow(i, chunkDur, overlap, durationSec)
			if start != float64(i*chunkDur) {
				t.Fatalf("iter %d: chunk %d starts at %g, want %d", iter, i, start, i*chunkDur)
			}
			if end <= start {
				t.Fatalf("iter %d: chunk %d window [%g, %g] is empty", iter, i, start, end)
			}
			if i > 0 && start > prevEnd {
				t.Fatalf("iter %d: gap between chunks %d and %d (%g > %g)", iter, i-1, i, start, prevEnd)
			}
			prevEnd = end
		}
		if prevEnd != durationSec {
			t.Fatalf("iter %d: last window ends at %g, want %g", iter, prevEnd, durationSec)
		}
	}
}
