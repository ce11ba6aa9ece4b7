package openai_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/transrouter/pkg/audio"
	"github.com/MrWong99/transrouter/pkg/provider/s2s"
	"github.com/MrWong99/transrouter/pkg/provider/s2s/openai"
	"github.com/coder/websocket"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func connect(t *testing.T, srv *httptest.Server, cfg s2s.SessionConfig) s2s.SessionHandle {
	t.Helper()
	h, err := openai.New("test-key", openai.WithBaseURL(wsURL(srv))).Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func nextEvent(t *testing.T, h s2s.SessionHandle) s2s.Event {
	t.Helper()
	select {
	case ev, ok := <-h.Events():
		if !ok {
			t.Fatal("Events channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return s2s.Event{}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestConnect_HeadersAndSessionUpdate(t *testing.T) {
	t.Parallel()

	type update struct {
		Type    string `json:"type"`
		Session struct {
			Modalities    []string        `json:"modalities"`
			Voice         string          `json:"voice"`
			Instructions  string          `json:"instructions"`
			TurnDetection json.RawMessage `json:"turn_detection"`
		} `json:"session"`
	}
	got := make(chan update, 1)
	headers := make(chan http.Header, 1)

	srv := startServer(t, func(conn *websocket.Conn, r *http.Request) {
		headers <- r.Header.Clone()
		var u update
		readJSON(t, conn, &u)
		got <- u
		<-conn.CloseRead(context.Background()).Done()
	})

	connect(t, srv, s2s.SessionConfig{Voice: "alloy", Instructions: "translate"})

	h := <-headers
	if h.Get("Authorization") != "Bearer test-key" {
		t.Errorf("Authorization = %q", h.Get("Authorization"))
	}
	if h.Get("OpenAI-Beta") != "realtime=v1" {
		t.Errorf("OpenAI-Beta = %q", h.Get("OpenAI-Beta"))
	}

	select {
	case u := <-got:
		if u.Type != "session.update" {
			t.Errorf("type = %q; want session.update", u.Type)
		}
		if u.Session.Voice != "alloy" || u.Session.Instructions != "translate" {
			t.Errorf("session = %+v", u.Session)
		}
		if string(u.Session.TurnDetection) != "null" {
			t.Errorf("turn_detection = %s; want null", u.Session.TurnDetection)
		}
		if len(u.Session.Modalities) != 2 {
			t.Errorf("modalities = %v; want text+audio", u.Session.Modalities)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

func TestConnect_TextModalityDropsVoice(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]any, 1)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var u struct {
			Session map[string]any `json:"session"`
		}
		readJSON(t, conn, &u)
		got <- u.Session
		<-conn.CloseRead(context.Background()).Done()
	})

	connect(t, srv, s2s.SessionConfig{Voice: "alloy", ResponseModality: s2s.ModalityText})

	sess := <-got
	if _, ok := sess["voice"]; ok {
		t.Errorf("voice sent for text modality: %v", sess["voice"])
	}
	mods, _ := sess["modalities"].([]any)
	if len(mods) != 1 || mods[0] != "text" {
		t.Errorf("modalities = %v; want [text]", mods)
	}
}

func TestSendAudio_ResamplesCommitsAndRequestsResponse(t *testing.T) {
	t.Parallel()

	in := make([]int16, 1600)
	for i := range in {
		in[i] = int16(i)
	}

	type msg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}
	got := make(chan msg, 4)
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var skip map[string]any
		readJSON(t, conn, &skip)
		for range 3 {
			var m msg
			readJSON(t, conn, &m)
			got <- m
		}
		<-conn.CloseRead(context.Background()).Done()
	})

	h := connect(t, srv, s2s.SessionConfig{InputSampleRate: 16000})
	if err := h.SendAudio(audio.SamplesToBytes(in)); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	wantTypes := []string{"input_audio_buffer.append", "input_audio_buffer.commit", "response.create"}
	for i, want := range wantTypes {
		select {
		case m := <-got:
			if m.Type != want {
				t.Fatalf("message %d type = %q; want %q", i, m.Type, want)
			}
			if i == 0 {
				raw, _ := base64.StdEncoding.DecodeString(m.Audio)
				if n := len(audio.BytesToSamples(raw)); n != 2400 {
					t.Errorf("resampled length = %d; want 2400", n)
				}
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for %s", want)
		}
	}
}

func TestEvents_MapsServerEvents(t *testing.T) {
	t.Parallel()

	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var skip map[string]any
		readJSON(t, conn, &skip)
		writeJSON(t, conn, map[string]any{"type": "session.created"})
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": base64.StdEncoding.EncodeToString(pcm)})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "delta": "Good "})
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{"message": "ignored"}})
		writeJSON(t, conn, map[string]any{"type": "response.text.delta", "delta": "morning"})
		writeJSON(t, conn, map[string]any{"type": "response.done"})
		<-conn.CloseRead(context.Background()).Done()
	})

	h := connect(t, srv, s2s.SessionConfig{})

	ev := nextEvent(t, h)
	if ev.Type != s2s.EventAudio || !bytes.Equal(ev.Audio, pcm) || ev.SampleRate != 24000 {
		t.Errorf("event 0 = %+v", ev)
	}
	if ev := nextEvent(t, h); ev.Type != s2s.EventTranscript || ev.Text != "Good " {
		t.Errorf("event 1 = %+v", ev)
	}
	if ev := nextEvent(t, h); ev.Type != s2s.EventTranscript || ev.Text != "morning" {
		t.Errorf("event 2 = %+v", ev)
	}
	if ev := nextEvent(t, h); ev.Type != s2s.EventTurnComplete {
		t.Errorf("event 3 = %+v", ev)
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		<-conn.CloseRead(context.Background()).Done()
	})

	h := connect(t, srv, s2s.SessionConfig{})
	for i := range 3 {
		if err := h.Close(); err != nil {
			t.Errorf("Close #%d = %v", i+1, err)
		}
	}
	if err := h.SendAudio([]byte{0, 0}); err == nil {
		t.Error("SendAudio after Close should fail")
	}
}

func TestServerDisconnect_SetsErr(t *testing.T) {
	t.Parallel()

	srv := startServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var skip map[string]any
		readJSON(t, conn, &skip)
		conn.Close(websocket.StatusPolicyViolation, "bad key")
	})

	h := connect(t, srv, s2s.SessionConfig{})
	for range h.Events() {
	}
	if h.Err() == nil {
		t.Error("Err() = nil after server disconnect")
	}
}
