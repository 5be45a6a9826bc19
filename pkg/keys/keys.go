// Package keys defines the object-store key layout for the castpipe
// pipeline. All functions are pure string builders; callers that need a key
// to survive a restart must persist it as part of their step output, because
// the UUID-bearing layouts produce a fresh key on every call.
//
// Two key namespaces exist:
//
//   - Intermediates ("processing/", "chunks/") are owned by the pipeline run
//     and deleted by the cleaner after a successful finalize.
//   - Outputs ("encoded/", "transcripts/", "transcriptions/") are owned by
//     the episode and survive the run.
package keys

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Scheme is the optional URI scheme prefix carried by caller-supplied input
// keys (e.g. "r2://episodes/abc.mp3"). Persisted fields always hold bare
// keys; the prefix is stripped once at pipeline initialization.
const Scheme = "r2://"

// StripScheme removes the object-store scheme prefix from key, if present.
func StripScheme(key string) string {
	return strings.TrimPrefix(key, Scheme)
}

// ProcessingAudio returns the key for the low-bitrate mono copy used for
// chunking and transcription. The extension is fixed to .ogg because the
// processing copy is always Opus in an OGG container.
func ProcessingAudio(episodeID string) string {
	return fmt.Sprintf("processing/%s/%s_24k_mono.ogg", episodeID, uuid.NewString())
}

// Chunk returns the key for a single audio chunk. ext is the chunk codec's
// file extension without the leading dot (e.g. "ogg", "mp3").
func Chunk(episodeID, ext string) string {
	return fmt.Sprintf("chunks/%s/%s.%s", episodeID, uuid.NewString(), ext)
}

// Rendition returns the key for a final encoded rendition. Renditions are
// deterministic per (episode, codec, bitrate) so that a replayed final-encode
// step overwrites rather than orphans.
func Rendition(episodeID, codec string, bitrateKbps int) string {
	return fmt.Sprintf("encoded/%s/%s_%d.%s", episodeID, codec, bitrateKbps, codec)
}

// TranscriptText returns the key for the plain-text transcript object.
func TranscriptText(episodeID string) string {
	return fmt.Sprintf("transcripts/%s/%s.txt", episodeID, uuid.NewString())
}

// TranscriptEnhanced returns the key for the enhanced transcript JSON object.
func TranscriptEnhanced(episodeID string) string {
	return fmt.Sprintf("transcripts/%s/%s-enhanced.json", episodeID, uuid.NewString())
}

// ChunkTranscriptions returns the key for the raw per-chunk transcription
// dump written by the transcribe step. It is workflow-scoped so that two runs
// over the same episode never collide.
func ChunkTranscriptions(episodeID, workflowID string) string {
	return fmt.Sprintf("transcriptions/%s/%s/chunk-transcriptions.json", episodeID, workflowID)
}

// RenditionLabel returns the episode-facing map key for a rendition,
// e.g. "mp3_128kbps".
func RenditionLabel(codec string, bitrateKbps int) string {
	return fmt.Sprintf("%s_%dkbps", codec, bitrateKbps)
}
