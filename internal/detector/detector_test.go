package detector

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/crimson-sun/swatch/internal/model"
)

func TestVisionDetect(t *testing.T) {
	var got annotateRequest
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &got); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Write([]byte(`{"responses":[{"labelAnnotations":[
			{"mid":"/m/1","description":"Red","score":0.93,"topicality":0.93},
			{"mid":"/m/2","description":"Sleeve","score":0.81,"topicality":0.81}]}]}`))
	}))
	defer srv.Close()

	v, err := NewVision(VisionConfig{Endpoint: srv.URL, APIKey: "k1", MaxResults: 7})
	if err != nil {
		t.Fatal(err)
	}
	labels, err := v.Detect(context.Background(), Image{URL: "https://cdn.example.com/p.jpg"})
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}

	want := []model.DetectedLabel{{Description: "Red", Score: 0.93}, {Description: "Sleeve", Score: 0.81}}
	if len(labels) != len(want) {
		t.Fatalf("got %d labels, want %d", len(labels), len(want))
	}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("label[%d] = %+v, want %+v", i, labels[i], want[i])
		}
	}
	if gotKey != "k1" {
		t.Errorf("key = %q, want k1", gotKey)
	}
	if gotPath != "/v1/images:annotate" {
		t.Errorf("path = %q", gotPath)
	}
	req := got.Requests[0]
	if req.Image.Source == nil || req.Image.Source.ImageURI != "https://cdn.example.com/p.jpg" {
		t.Errorf("image source = %+v", req.Image.Source)
	}
	if req.Features[0].Type != "LABEL_DETECTION" || req.Features[0].MaxResults != 7 {
		t.Errorf("features = %+v", req.Features)
	}
}

func TestVisionDetectBytes(t *testing.T) {
	var got annotateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &got)
		w.Write([]byte(`{"responses":[{}]}`))
	}))
	defer srv.Close()

	v, _ := NewVision(VisionConfig{Endpoint: srv.URL, APIKey: "k"})
	labels, err := v.Detect(context.Background(), Image{Data: []byte{0xff, 0xd8}, URL: "ignored"})
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if len(labels) != 0 {
		t.Errorf("got %d labels, want 0", len(labels))
	}
	if got.Requests[0].Image.Content != base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8}) {
		t.Errorf("content = %q", got.Requests[0].Image.Content)
	}
	if got.Requests[0].Image.Source != nil {
		t.Error("source set alongside content")
	}
}

func TestVisionErrors(t *testing.T) {
	if _, err := NewVision(VisionConfig{}); err == nil {
		t.Error("expected error without api key")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"responses":[{"error":{"code":3,"message":"Bad image data."}}]}`))
	}))
	defer srv.Close()

	v, _ := NewVision(VisionConfig{Endpoint: srv.URL, APIKey: "k"})
	if _, err := v.Detect(context.Background(), Image{}); !errors.Is(err, ErrNoImage) {
		t.Errorf("err = %v, want ErrNoImage", err)
	}
	_, err := v.Detect(context.Background(), Image{URL: "u"})
	if err == nil || !strings.Contains(err.Error(), "Bad image data") {
		t.Errorf("err = %v, want per-image error", err)
	}
}

func TestParseLabels(t *testing.T) {
	text := "```json\n[{\"description\":\" denim \",\"score\":1.2},{\"description\":\"\",\"score\":0.5}," +
		"{\"description\":\"blue\",\"score\":-0.1},{\"description\":\"pocket\",\"score\":0.4}]\n```"
	got, err := parseLabels(text, 2)
	if err != nil {
		t.Fatalf("parseLabels() error: %v", err)
	}
	want := []model.DetectedLabel{{Description: "denim", Score: 1}, {Description: "blue", Score: 0}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("label[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	if _, err := parseLabels("not json", 10); err == nil {
		t.Error("expected error for malformed answer")
	}
}

func TestStatic(t *testing.T) {
	labels := []model.DetectedLabel{{Description: "Red", Score: 0.9}}
	s := Static{Labels: labels}
	got, err := s.Detect(context.Background(), Image{})
	if err != nil || len(got) != 1 {
		t.Fatalf("Detect() = %v, %v", got, err)
	}
	got[0].Description = "mutated"
	if labels[0].Description != "Red" {
		t.Error("Static returned its backing slice")
	}
}

// flaky fails while failing is set.
type flaky struct {
	failing atomic.Bool
	calls   atomic.Int32
}

func (f *flaky) Detect(context.Context, Image) ([]model.DetectedLabel, error) {
	f.calls.Add(1)
	if f.failing.Load() {
		return nil, errors.New("upstream 500")
	}
	return []model.DetectedLabel{{Description: "ok", Score: 1}}, nil
}

func (f *flaky) Name() string { return "flaky" }

func TestGuardTripsBreaker(t *testing.T) {
	f := &flaky{}
	f.failing.Store(true)
	g := NewGuard(f, GuardConfig{BreakerFailures: 3, BreakerTimeout: time.Hour})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := g.Detect(ctx, Image{URL: "u"}); err == nil {
			t.Fatal("expected upstream error")
		}
	}
	if g.State() != gobreaker.StateOpen {
		t.Fatalf("state = %v, want open", g.State())
	}

	f.failing.Store(false)
	_, err := g.Detect(ctx, Image{URL: "u"})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want ErrOpenState", err)
	}
	if f.calls.Load() != 3 {
		t.Errorf("inner called %d times, want 3", f.calls.Load())
	}
}

func TestGuardCancelDoesNotTrip(t *testing.T) {
	g := NewGuard(Static{Err: context.Canceled}, GuardConfig{BreakerFailures: 1})
	for i := 0; i < 3; i++ {
		g.Detect(context.Background(), Image{URL: "u"})
	}
	if g.State() != gobreaker.StateClosed {
		t.Errorf("state = %v, want closed", g.State())
	}
}

func TestGuardRateLimit(t *testing.T) {
	g := NewGuard(Static{}, GuardConfig{RatePerSecond: 0.001, Burst: 1})
	ctx := context.Background()

	if _, err := g.Detect(ctx, Image{URL: "u"}); err != nil {
		t.Fatalf("first call: %v", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := g.Detect(ctx, Image{URL: "u"}); err == nil {
		t.Error("expected the second call to be throttled")
	}
}
