package sse

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type plainWriter struct{ http.ResponseWriter }

func TestNewWriter_Headers(t *testing.T) {
	rec := httptest.NewRecorder()
	if _, err := NewWriter(rec); err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type=%q, want text/event-stream", got)
	}
	if !rec.Flushed {
		t.Fatal("headers should be flushed")
	}
}

func TestNewWriter_NoFlusher(t *testing.T) {
	_, err := NewWriter(plainWriter{httptest.NewRecorder()})
	if !errors.Is(err, ErrStreamingUnsupported) {
		t.Fatalf("err=%v, want ErrStreamingUnsupported", err)
	}
}

func TestWriterFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	w, _ := NewWriter(rec)

	_ = w.SendRaw("endpoint", "/messages?sessionId=abc")
	_ = w.SendEvent("message", map[string]int{"id": 1})
	_ = w.SendComment("ping")
	_ = w.SendData("hi")

	want := "event: endpoint\ndata: /messages?sessionId=abc\n\n" +
		"event: message\ndata: {\"id\":1}\n\n" +
		": ping\n\n" +
		"data: \"hi\"\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("body=%q, want %q", got, want)
	}
}

func TestReaderRoundTrip(t *testing.T) {
	stream := "event: endpoint\ndata: /messages?sessionId=abc\n\n" +
		": ping\n\n" +
		"data: line1\ndata: line2\n\n" +
		"event: message\r\ndata: {}\r\n\r\n"
	rd := NewReader(strings.NewReader(stream))

	ev, err := rd.Next()
	if err != nil || ev.Name != "endpoint" || ev.Data != "/messages?sessionId=abc" {
		t.Fatalf("first=%+v err=%v", ev, err)
	}
	ev, err = rd.Next()
	if err != nil || !ev.IsComment() || ev.Comment != "ping" {
		t.Fatalf("second=%+v err=%v", ev, err)
	}
	ev, err = rd.Next()
	if err != nil || ev.Name != "" || ev.Data != "line1\nline2" {
		t.Fatalf("third=%+v err=%v", ev, err)
	}
	ev, err = rd.Next()
	if err != nil || ev.Name != "message" || ev.Data != "{}" {
		t.Fatalf("fourth=%+v err=%v", ev, err)
	}
	if _, err := rd.Next(); err != io.EOF {
		t.Fatalf("err=%v, want io.EOF", err)
	}
}
