package gemini

import (
	"errors"
	"testing"
	"time"
)

func TestParseModelJSON(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"plain", `{"summary": "готово", "count": 2}`},
		{"fenced", "```json\n{\"summary\": \"готово\", \"count\": 2}\n```"},
		{"python literals", `{"summary": "готово", "count": 2, "extra": None}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out struct {
				Summary string `json:"summary"`
				Count   int    `json:"count"`
			}
			if err := parseModelJSON(tt.text, &out); err != nil {
				t.Fatalf("parseModelJSON: %v", err)
			}
			if out.Summary != "готово" || out.Count != 2 {
				t.Errorf("got %+v", out)
			}
		})
	}
}

func TestParseModelJSONInvalid(t *testing.T) {
	var out map[string]any
	if err := parseModelJSON("это не json", &out); err == nil {
		t.Error("expected parse error")
	}
}

func TestRetryPause429(t *testing.T) {
	err := errors.New("googleapi: Error 429: quota exceeded. Please retry in 14.5s.")
	pause, retry := retryPause(err, 0, 5)
	if !retry {
		t.Fatal("429 should retry")
	}
	want := time.Duration(74.5 * float64(time.Second))
	if pause != want {
		t.Errorf("pause = %v, want %v", pause, want)
	}
}

func TestRetryPause503Backoff(t *testing.T) {
	err := errors.New("googleapi: Error 503: service unavailable")

	pause, retry := retryPause(err, 0, 5)
	if !retry || pause != time.Second {
		t.Errorf("attempt 0: pause=%v retry=%v", pause, retry)
	}
	pause, retry = retryPause(err, 2, 5)
	if !retry || pause != 9*time.Second {
		t.Errorf("attempt 2: pause=%v retry=%v", pause, retry)
	}
}

func TestRetryPauseExhausted(t *testing.T) {
	err := errors.New("googleapi: Error 400: bad request")
	if _, retry := retryPause(err, 4, 5); retry {
		t.Error("last attempt with a permanent error should not retry")
	}
}
