package eventkey_test

import (
	"errors"
	"testing"

	"github.com/downfa11-org/go-itest/pkg/common"
	"github.com/downfa11-org/go-itest/pkg/eventkey"
)

func TestDefaultExtractor(t *testing.T) {
	id := "create-0b6f0c57-8a63-4a2f-9d7e-5c9b1f7f2d11"

	tests := []struct {
		name         string
		payload      []byte
		wantKey      string
		wantStrategy string
		wantErr      error
	}{
		{"Structured", []byte(`{"key":"index-` + id + `"}`), "index-" + id, "structured:key", nil},
		{"StructuredExtraFields", []byte(`{"key":"k","op":"delete"}`), "k", "structured:key", nil},
		{"RawText", []byte("index-" + id), "index-" + id, "raw-text", nil},
		{"StructuredMissingKey", []byte(`{"id":"x"}`), "", "structured:key", common.ErrMalformedEvent},
		{"StructuredNonStringKey", []byte(`{"key":42}`), "", "structured:key", common.ErrMalformedEvent},
		{"StructuredNotObject", []byte(`["a","b"]`), "", "structured:key", common.ErrMalformedEvent},
		{"InvalidUTF8", []byte{0xff, 0xfe, 0xfd}, "", "", common.ErrMalformedEvent},
	}

	ex := eventkey.Default()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, strategy, err := ex.Extract(tt.payload)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if strategy != tt.wantStrategy {
					t.Errorf("failure attributed to %q, want %q", strategy, tt.wantStrategy)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if key != tt.wantKey {
				t.Errorf("key = %q, want %q", key, tt.wantKey)
			}
			if strategy != tt.wantStrategy {
				t.Errorf("strategy = %q, want %q", strategy, tt.wantStrategy)
			}
		})
	}
}

func TestBothEncodingsMatchSameID(t *testing.T) {
	id := "widget-1234"
	ex := eventkey.Default()

	for _, p := range [][]byte{[]byte(`{"key":"foo-` + id + `"}`), []byte("foo-" + id)} {
		key, _, err := ex.Extract(p)
		if err != nil {
			t.Fatalf("extract %q: %v", p, err)
		}
		if !eventkey.Matches(key, id) {
			t.Errorf("payload %q should match %s", p, id)
		}
	}
}

func TestCustomStrategyOrder(t *testing.T) {
	ex := eventkey.Extractor{Strategies: []eventkey.Strategy{eventkey.RawText{}}}

	key, strategy, err := ex.Extract([]byte(`{"key":"x"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strategy != "raw-text" || key != `{"key":"x"}` {
		t.Errorf("raw-text only extractor returned %q via %q", key, strategy)
	}

	ex = eventkey.Extractor{Strategies: []eventkey.Strategy{eventkey.StructuredField{Field: "documentId"}}}
	key, _, err = ex.Extract([]byte(`{"documentId":"sbom-7"}`))
	if err != nil || key != "sbom-7" {
		t.Errorf("custom field: key=%q err=%v", key, err)
	}
	if _, _, err := ex.Extract([]byte("plain")); !errors.Is(err, common.ErrMalformedEvent) {
		t.Errorf("expected malformed event when no strategy applies, got %v", err)
	}
}

func TestMatches(t *testing.T) {
	if !eventkey.Matches("index-abc", "abc") {
		t.Error("suffix should match")
	}
	if eventkey.Matches("abc-index", "abc") {
		t.Error("prefix must not match")
	}
}

func BenchmarkExtractStructured(b *testing.B) {
	ex := eventkey.Default()
	payload := []byte(`{"key":"tenant/sbom-0b6f0c57","type":"stored","size":1024}`)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, _, err := ex.Extract(payload); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkExtractRaw(b *testing.B) {
	ex := eventkey.Default()
	payload := []byte("tenant/sbom-0b6f0c57")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, _, err := ex.Extract(payload); err != nil {
			b.Fatal(err)
		}
	}
}
