package nova

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/castpipe/castpipe/pkg/provider/stt"
)

const sampleResponse = `{
  "results": {
    "channels": [
      {
        "detected_language": "en",
        "alternatives": [
          {
            "transcript": "Welcome back to the show.",
            "words": [
              {"word": "welcome", "punctuated_word": "Welcome", "start": 0.08, "end": 0.42, "speaker": 0},
              {"word": "back", "punctuated_word": "back", "start": 0.42, "end": 0.66, "speaker": 0},
              {"word": "to", "punctuated_word": "to", "start": 0.66, "end": 0.74, "speaker": 0},
              {"word": "the", "punctuated_word": "the", "start": 0.74, "end": 0.85, "speaker": 1},
              {"word": "show", "punctuated_word": "show.", "start": 0.85, "end": 1.21, "speaker": 1}
            ],
            "paragraphs": {
              "paragraphs": [
                {
                  "sentences": [{"text": "Welcome back to the show.", "start": 0.08, "end": 1.21}],
                  "speaker": 0,
                  "start": 0.08,
                  "end": 1.21
                }
              ]
            }
          }
        ]
      }
    ],
    "summary": {"short": "A podcast greeting."}
  }
}`

func TestTranscribe_Normalizes(t *testing.T) {
	var gotQuery map[string][]string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(sampleResponse))
	}))
	defer srv.Close()

	e, err := New("dg-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	result, err := e.Transcribe(context.Background(), []byte{1}, stt.Options{ContentType: "audio/ogg"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if result.Text != "Welcome back to the show." {
		t.Errorf("Text = %q", result.Text)
	}
	if len(result.Words) != 5 {
		t.Fatalf("len(Words) = %d, want 5", len(result.Words))
	}
	if result.Words[0].Word != "Welcome" || result.Words[0].Start != 0.08 {
		t.Errorf("Words[0] = %+v", result.Words[0])
	}
	if result.Metadata == nil {
		t.Fatal("Metadata is nil for structured engine")
	}
	if got := result.Metadata.Speakers; len(got) != 2 || got[0] != 0 || got[1] != 1 {
		t.Errorf("Speakers = %v, want [0 1]", got)
	}
	if len(result.Metadata.Paragraphs) != 1 || result.Metadata.Paragraphs[0].Text != "Welcome back to the show." {
		t.Errorf("Paragraphs = %+v", result.Metadata.Paragraphs)
	}
	if result.Metadata.Language != "en" {
		t.Errorf("Language = %q", result.Metadata.Language)
	}
	if result.Metadata.Summary != "A podcast greeting." {
		t.Errorf("Summary = %q", result.Metadata.Summary)
	}

	if gotAuth != "Token dg-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	for _, param := range []string{"diarize", "paragraphs", "punctuate"} {
		if len(gotQuery[param]) == 0 || gotQuery[param][0] != "true" {
			t.Errorf("query %s = %v, want true", param, gotQuery[param])
		}
	}
	// No language configured: detection must be requested.
	if len(gotQuery["detect_language"]) == 0 {
		t.Error("detect_language not requested")
	}
}

func TestTranscribe_UnknownShapeIsDecodeError(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty object", `{}`},
		{"no channels", `{"results":{"channels":[]}}`},
		{"no alternatives", `{"results":{"channels":[{"alternatives":[]}]}}`},
		{"no transcript", `{"results":{"channels":[{"alternatives":[{}]}]}}`},
		{"not json", `<html>oops</html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			e, _ := New("dg-key", WithBaseURL(srv.URL))
			_, err := e.Transcribe(context.Background(), nil, stt.Options{})
			if !errors.Is(err, stt.ErrDecode) {
				t.Fatalf("err = %v, want stt.ErrDecode", err)
			}
		})
	}
}

func TestTranscribe_RateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e, _ := New("dg-key", WithBaseURL(srv.URL))
	_, err := e.Transcribe(context.Background(), nil, stt.Options{})
	var rl *stt.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want *stt.RateLimitError", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", rl.RetryAfter)
	}
}
