package coqui_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parleylabs/parley/pkg/audio"
	"github.com/parleylabs/parley/pkg/provider/tts/coqui"
)

// ---- helpers ----------------------------------------------------------------

// testClip is a small valid WAV at the Coqui server's usual 22.05 kHz rate.
func testClip() []byte {
	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	return audio.EncodeWAV(pcm, audio.Format{SampleRate: 22050, Channels: 1})
}

// ttsServer mimics the standard Coqui /api/tts endpoint and records the last
// query parameters.
func ttsServer(t *testing.T, clip []byte, lastQuery *map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tts" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if lastQuery != nil {
			q := map[string]string{}
			for k := range r.URL.Query() {
				q[k] = r.URL.Query().Get(k)
			}
			*lastQuery = q
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(clip)
	}))
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyBaseURL_ReturnsError(t *testing.T) {
	_, err := coqui.New("")
	if err == nil {
		t.Fatal("expected error for empty baseURL, got nil")
	}
}

// ---- synthesis --------------------------------------------------------------

func TestSynthesize_ReturnsServerWAV(t *testing.T) {
	clip := testClip()
	var query map[string]string
	srv := ttsServer(t, clip, &query)
	defer srv.Close()

	s, err := coqui.New(srv.URL,
		coqui.WithSpeaker("p225"),
		coqui.WithLanguage("en"),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wav, err := s.Synthesize(context.Background(), "Hello there")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(wav) != string(clip) {
		t.Error("clip modified in transit, want passthrough")
	}
	if query["text"] != "Hello there" {
		t.Errorf("text = %q, want request text", query["text"])
	}
	if query["speaker_id"] != "p225" || query["language_id"] != "en" {
		t.Errorf("query = %v, want speaker_id and language_id set", query)
	}
}

func TestSynthesize_OmitsUnsetVoiceParams(t *testing.T) {
	var query map[string]string
	srv := ttsServer(t, testClip(), &query)
	defer srv.Close()

	s, err := coqui.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), "hi"); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if _, ok := query["speaker_id"]; ok {
		t.Error("speaker_id sent despite no WithSpeaker option")
	}
	if _, ok := query["language_id"]; ok {
		t.Error("language_id sent despite no WithLanguage option")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	s, err := coqui.New("http://localhost:5002")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty text, got nil")
	}
}

func TestSynthesize_RejectsNonWAVReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>model loading</html>"))
	}))
	defer srv.Close()

	s, err := coqui.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for non-WAV reply, got nil")
	}
}

func TestSynthesize_ServerErrorSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := coqui.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = s.Synthesize(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error for 503 response, got nil")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error = %v, want status code mentioned", err)
	}
}

func TestSynthesize_ContextCancelled(t *testing.T) {
	srv := ttsServer(t, testClip(), nil)
	defer srv.Close()

	s, err := coqui.New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Synthesize(ctx, "hello"); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}
