package pipeline

import "math"

// ChunkSlot is one planned chunk: its dense index and the object key the
// transcoder uploads it to. Presigned URLs are generated at use time and
// never persisted.
type ChunkSlot struct {
	Index int    `json:"index"`
	Key   string `json:"key"`
}

// NumChunks returns the chunk count for an episode:
// ceil(durationSec / chunkDurationSec), minimum 1 for any positive duration.
func NumChunks(durationSec float64, chunkDurationSec int) int {
	if durationSec <= 0 || chunkDurationSec <= 0 {
		return 0
	}
	return int(math.Ceil(durationSec / float64(chunkDurationSec)))
}

// chunkWindow returns the nominal time range chunk index covers:
// [i*chunkDur, min((i+1)*chunkDur + overlap, durationSec)]. The transcoder
// does the actual trimming; these bounds drive the text-level merge.
func chunkWindow(index, chunkDurationSec, overlapDurationSec int, durationSec float64) (startSec, endSec float64) {
	startSec = float64(index * chunkDurationSec)
	endSec = float64((index+1)*chunkDurationSec + overlapDurationSec)
	if endSec > durationSec {
		endSec = durationSec
	}
	return startSec, endSec
}
