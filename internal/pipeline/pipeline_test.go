package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crimson-sun/swatch/internal/connector"
	"github.com/crimson-sun/swatch/internal/detector"
	"github.com/crimson-sun/swatch/internal/engine"
	"github.com/crimson-sun/swatch/internal/engine/embedder"
	"github.com/crimson-sun/swatch/internal/engine/taxonomy"
	"github.com/crimson-sun/swatch/internal/model"
)

// --- mocks ---

// mockConnector is a minimal connector that sends pre-loaded items.
type mockConnector struct {
	items []model.Item
	err   error
}

func (m *mockConnector) Stream(_ context.Context, _ connector.ConnectorConfig) (<-chan model.Item, error) {
	if m.err != nil {
		return nil, m.err
	}
	ch := make(chan model.Item, len(m.items))
	for _, it := range m.items {
		ch <- it
	}
	close(ch)
	return ch, nil
}

func (m *mockConnector) Query(_ context.Context, _ connector.ConnectorConfig, _ connector.QueryParams) ([]model.Item, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.items, nil
}

// openConnector streams nothing and never closes its channel.
type openConnector struct{}

func (openConnector) Stream(_ context.Context, _ connector.ConnectorConfig) (<-chan model.Item, error) {
	return make(chan model.Item), nil
}

func (openConnector) Query(_ context.Context, _ connector.ConnectorConfig, _ connector.QueryParams) ([]model.Item, error) {
	return nil, nil
}

type mockOutput struct {
	mu      sync.Mutex
	records []model.Record
	err     error
}

func (m *mockOutput) Write(_ context.Context, r model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, r)
	return nil
}

func (m *mockOutput) Close() error { return nil }

func (m *mockOutput) Records() []model.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.Record, len(m.records))
	copy(cp, m.records)
	return cp
}

func newTestEngine(t *testing.T, det detector.Detector) *engine.Engine {
	t.Helper()
	tax, err := taxonomy.Default()
	if err != nil {
		t.Fatalf("taxonomy: %v", err)
	}
	return engine.New(tax, embedder.NewHashing(64), det, engine.DefaultConfig())
}

func labelled(id, title string, labels ...string) model.Item {
	it := model.Item{ID: id, Title: title}
	for _, l := range labels {
		it.Labels = append(it.Labels, model.DetectedLabel{Description: l, Score: 0.9})
	}
	return it
}

// --- Process ---

func TestProcessClassifiesLabelledItem(t *testing.T) {
	p := New(nil, newTestEngine(t, nil), &mockOutput{})
	rec := p.Process(context.Background(), labelled("p1", "Leather boots", "Red"))

	if rec.Status != model.StatusClassified {
		t.Fatalf("status = %q, error = %q", rec.Status, rec.Error)
	}
	if got := rec.Attributes["Color"].Chosen; got != "Red" {
		t.Errorf("Color = %q, want Red", got)
	}
	if got := rec.Attributes["Material"].Chosen; got != "Leather" {
		t.Errorf("Material = %q, want Leather", got)
	}
	if rec.BasicDescription != "Red" {
		t.Errorf("BasicDescription = %q, want Red", rec.BasicDescription)
	}
	if len(rec.Flat) != 142 {
		t.Errorf("flat record has %d keys, want 142", len(rec.Flat))
	}
	if rec.Flat["Red"] != rec.Attributes["Color"].Score {
		t.Errorf("flat Red = %v, want %v", rec.Flat["Red"], rec.Attributes["Color"].Score)
	}
}

func TestProcessAssignsID(t *testing.T) {
	p := New(nil, newTestEngine(t, nil), &mockOutput{})
	rec := p.Process(context.Background(), model.Item{Title: "shirt"})
	if rec.Item.ID == "" {
		t.Fatal("expected a generated id")
	}
	other := p.Process(context.Background(), model.Item{Title: "shirt"})
	if other.Item.ID == rec.Item.ID {
		t.Error("generated ids should differ")
	}
}

func TestProcessDetectsWhenUnlabelled(t *testing.T) {
	det := detector.Static{Labels: []model.DetectedLabel{{Description: "Blue", Score: 0.8}, {Description: "Denim", Score: 0.4}}}
	p := New(nil, newTestEngine(t, det), &mockOutput{})

	rec := p.Process(context.Background(), model.Item{ID: "p1", ImageURL: "https://img.example/p1.jpg"})
	if rec.Status != model.StatusClassified {
		t.Fatalf("status = %q, error = %q", rec.Status, rec.Error)
	}
	if len(rec.Item.Labels) != 2 {
		t.Errorf("detected labels not recorded: %v", rec.Item.Labels)
	}
	if rec.BasicDescription != "Blue" {
		t.Errorf("BasicDescription = %q, want Blue", rec.BasicDescription)
	}
	if got := rec.Attributes["Color"].Chosen; got != "Blue" {
		t.Errorf("Color = %q, want Blue", got)
	}
}

func TestProcessDetectorFailure(t *testing.T) {
	det := detector.Static{Err: errors.New("quota exceeded")}
	p := New(nil, newTestEngine(t, det), &mockOutput{})

	rec := p.Process(context.Background(), model.Item{ID: "p1", ImageURL: "https://img.example/p1.jpg"})
	if rec.Status != model.StatusFailed {
		t.Fatalf("status = %q, want failed", rec.Status)
	}
	if !strings.Contains(rec.Error, "quota exceeded") {
		t.Errorf("error = %q", rec.Error)
	}
	if rec.Attributes != nil || rec.Flat != nil {
		t.Error("failed record should carry no attributes")
	}
}

// --- Query ---

func TestQueryPreservesOrder(t *testing.T) {
	items := []model.Item{
		labelled("a", "wool coat", "Gray"),
		labelled("b", "silk dress", "Pink"),
		labelled("c", "denim jacket", "Blue"),
		labelled("d", "cotton tee", "Purple"),
	}
	out := &mockOutput{}
	p := New(&mockConnector{items: items}, newTestEngine(t, nil), out, WithConcurrency(3))

	stats, err := p.Query(context.Background(), connector.ConnectorConfig{}, connector.QueryParams{})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if stats.Classified != 4 || stats.Failed != 0 {
		t.Errorf("stats = %+v", stats)
	}
	recs := out.Records()
	if len(recs) != len(items) {
		t.Fatalf("got %d records, want %d", len(recs), len(items))
	}
	for i, r := range recs {
		if r.Item.ID != items[i].ID {
			t.Errorf("record[%d] = %q, want %q", i, r.Item.ID, items[i].ID)
		}
	}
}

func TestQueryContinuesPastFailure(t *testing.T) {
	det := detector.Static{Err: errors.New("boom")}
	items := []model.Item{
		{ID: "img", ImageURL: "https://img.example/x.jpg"},
		labelled("ok", "leather boots", "Brown"),
	}
	out := &mockOutput{}
	p := New(&mockConnector{items: items}, newTestEngine(t, det), out)

	stats, err := p.Query(context.Background(), connector.ConnectorConfig{}, connector.QueryParams{})
	if err != nil {
		t.Fatalf("Query error: %v", err)
	}
	if stats.Classified != 1 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want 1 classified and 1 failed", stats)
	}
	recs := out.Records()
	if recs[0].Status != model.StatusFailed || recs[1].Status != model.StatusClassified {
		t.Errorf("statuses = %q, %q", recs[0].Status, recs[1].Status)
	}
}

func TestQueryConnectorError(t *testing.T) {
	p := New(&mockConnector{err: errors.New("unreachable")}, newTestEngine(t, nil), &mockOutput{})
	if _, err := p.Query(context.Background(), connector.ConnectorConfig{}, connector.QueryParams{}); err == nil {
		t.Fatal("expected connector error")
	}
}

func TestQueryOutputError(t *testing.T) {
	out := &mockOutput{err: errors.New("disk full")}
	p := New(&mockConnector{items: []model.Item{labelled("a", "coat")}}, newTestEngine(t, nil), out)
	_, err := p.Query(context.Background(), connector.ConnectorConfig{}, connector.QueryParams{})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v, want output error", err)
	}
}

// --- Stream ---

func TestStreamProcessesAll(t *testing.T) {
	var items []model.Item
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		items = append(items, labelled(id, "cotton shirt", "Green"))
	}
	out := &mockOutput{}
	p := New(&mockConnector{items: items}, newTestEngine(t, nil), out, WithConcurrency(2))

	stats, err := p.Stream(context.Background(), connector.ConnectorConfig{})
	if err != nil {
		t.Fatalf("Stream error: %v", err)
	}
	if stats.Classified != 5 {
		t.Errorf("classified = %d, want 5", stats.Classified)
	}
	seen := map[string]bool{}
	for _, r := range out.Records() {
		seen[r.Item.ID] = true
	}
	if len(seen) != 5 {
		t.Errorf("got %d distinct records, want 5", len(seen))
	}
}

func TestStreamCancel(t *testing.T) {
	p := New(openConnector{}, newTestEngine(t, nil), &mockOutput{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Stream(ctx, connector.ConnectorConfig{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestStreamOutputErrorStops(t *testing.T) {
	out := &mockOutput{err: errors.New("broken pipe")}
	items := []model.Item{labelled("a", "coat"), labelled("b", "coat")}
	p := New(&mockConnector{items: items}, newTestEngine(t, nil), out)

	_, err := p.Stream(context.Background(), connector.ConnectorConfig{})
	if err == nil || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("err = %v, want output error", err)
	}
}

// endlessConnector keeps sending items until its context ends, then closes
// stopped.
type endlessConnector struct {
	stopped chan struct{}
}

func (e *endlessConnector) Stream(ctx context.Context, _ connector.ConnectorConfig) (<-chan model.Item, error) {
	ch := make(chan model.Item)
	go func() {
		defer close(e.stopped)
		defer close(ch)
		for {
			select {
			case ch <- labelled("", "red wool coat", "Red"):
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (e *endlessConnector) Query(_ context.Context, _ connector.ConnectorConfig, _ connector.QueryParams) ([]model.Item, error) {
	return nil, nil
}

func TestStreamOutputErrorStopsConnector(t *testing.T) {
	conn := &endlessConnector{stopped: make(chan struct{})}
	p := New(conn, newTestEngine(t, nil), &mockOutput{err: errors.New("sink gone")}, WithConcurrency(2))

	if _, err := p.Stream(context.Background(), connector.ConnectorConfig{}); err == nil {
		t.Fatal("expected output error")
	}
	select {
	case <-conn.stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("connector still sending after Stream returned")
	}
}
