package enhance

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// minCorrectionSimilarity is the Jaro-Winkler score a substitution must reach
// to be considered a plausible mis-transcription fix rather than a rewrite.
const minCorrectionSimilarity = 0.75

// verifyCorrections splits candidates into phonetically plausible
// substitutions and rewrites to revert. A correction passes when original and
// replacement are similar enough per Jaro-Winkler, or share a Double
// Metaphone encoding (sound-alike words with different spellings).
func verifyCorrections(candidates []Correction) (verified, reverted []Correction) {
	for _, c := range candidates {
		if c.Original == "" || c.Corrected == "" || c.Original == c.Corrected {
			continue
		}
		if plausible(c.Original, c.Corrected) {
			verified = append(verified, c)
		} else {
			reverted = append(reverted, c)
		}
	}
	return verified, reverted
}

func plausible(original, corrected string) bool {
	a := strings.ToLower(original)
	b := strings.ToLower(corrected)

	if matchr.JaroWinkler(a, b, false) >= minCorrectionSimilarity {
		return true
	}

	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	if ap != "" && (ap == bp || ap == bs) {
		return true
	}
	if as != "" && (as == bp || as == bs) {
		return true
	}
	return false
}

// revertCorrection undoes a rejected substitution in text by replacing the
// corrected word back with the original, word-boundary aware.
func revertCorrection(text string, c Correction) string {
	words := strings.Fields(text)
	for i, w := range words {
		if strings.EqualFold(strings.Trim(w, ".,;:!?\"')"), c.Corrected) {
			words[i] = strings.Replace(w, trimLike(w, c.Corrected), c.Original, 1)
		}
	}
	return strings.Join(words, " ")
}

// trimLike returns the substring of w matching the token target ignoring
// case, so punctuation attached to w survives the replacement.
func trimLike(w, target string) string {
	trimmed := strings.Trim(w, ".,;:!?\"')")
	if strings.EqualFold(trimmed, target) {
		return trimmed
	}
	return target
}
