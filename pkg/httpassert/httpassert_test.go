package httpassert_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/downfa11-org/go-itest/pkg/auth"
	"github.com/downfa11-org/go-itest/pkg/common"
	"github.com/downfa11-org/go-itest/pkg/httpassert"
)

type recorder struct {
	failed bool
	msgs   []string
}

func (r *recorder) Errorf(format string, args ...interface{}) {
	r.msgs = append(r.msgs, fmt.Sprintf(format, args...))
}

func (r *recorder) FailNow() { r.failed = true }

func newService(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sbom", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer manager-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sbom-1","packages":3}`))
	})
	mux.HandleFunc("/api/v1/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<html>not json</html>"))
	})
	mux.HandleFunc("/api/v1/invalid", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad query"}`))
	})
	mux.HandleFunc("/api/v1/html", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>oops</html>"))
	})
	mux.HandleFunc("/api/v1/null", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("null"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return u
}

func TestGetReturnsBody(t *testing.T) {
	srv := newService(t)
	a := httpassert.New(auth.Static("manager-token"))

	v, ok, err := a.Get(context.Background(), mustURL(t, srv.URL+"/api/v1/sbom"), http.StatusOK)
	if err != nil || !ok {
		t.Fatalf("expected body, got ok=%v err=%v", ok, err)
	}
	doc, isObj := v.(map[string]any)
	if !isObj || doc["id"] != "sbom-1" {
		t.Fatalf("unexpected body %v", v)
	}
}

func TestGetStatusMismatch(t *testing.T) {
	srv := newService(t)
	a := httpassert.New(auth.NoAuth)

	_, _, err := a.Get(context.Background(), mustURL(t, srv.URL+"/api/v1/sbom"), http.StatusOK)
	var mismatch *common.StatusMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected StatusMismatchError, got %v", err)
	}
	if mismatch.Expected != http.StatusOK || mismatch.Actual != http.StatusUnauthorized {
		t.Fatalf("unexpected mismatch %+v", mismatch)
	}
	if !errors.Is(err, common.ErrStatusMismatch) {
		t.Fatal("mismatch must wrap ErrStatusMismatch")
	}
}

func TestGetNoBodyStatuses(t *testing.T) {
	srv := newService(t)
	a := httpassert.New(auth.NoAuth)

	cases := []struct {
		path   string
		status int
	}{
		{"/api/v1/missing", http.StatusNotFound},
		{"/api/v1/invalid", http.StatusBadRequest},
	}
	for _, tc := range cases {
		v, ok, err := a.Get(context.Background(), mustURL(t, srv.URL+tc.path), tc.status)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.path, err)
		}
		if ok || v != nil {
			t.Fatalf("%s: expected no body, got %v", tc.path, v)
		}
	}
}

func TestGetMalformedBody(t *testing.T) {
	srv := newService(t)
	a := httpassert.New(auth.NoAuth)

	_, _, err := a.Get(context.Background(), mustURL(t, srv.URL+"/api/v1/html"), http.StatusOK)
	if !errors.Is(err, common.ErrMalformedBody) {
		t.Fatalf("expected ErrMalformedBody, got %v", err)
	}
}

func TestGetJSONNull(t *testing.T) {
	srv := newService(t)
	a := httpassert.New(auth.NoAuth)

	v, ok, err := a.Get(context.Background(), mustURL(t, srv.URL+"/api/v1/null"), http.StatusOK)
	if err != nil || ok || v != nil {
		t.Fatalf("expected absent body, got v=%v ok=%v err=%v", v, ok, err)
	}
}

func TestGetSchemaValidation(t *testing.T) {
	srv := newService(t)

	valid, err := httpassert.CompileSchema([]byte(`{
		"type": "object",
		"required": ["id", "packages"],
		"properties": {"packages": {"type": "integer", "minimum": 1}}
	}`))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	a := httpassert.New(auth.Static("manager-token"), httpassert.WithSchema(valid))
	if _, _, err := a.Get(context.Background(), mustURL(t, srv.URL+"/api/v1/sbom"), http.StatusOK); err != nil {
		t.Fatalf("expected body to satisfy schema, got %v", err)
	}

	strict, err := httpassert.CompileSchema([]byte(`{"type": "object", "required": ["advisories"]}`))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	a = httpassert.New(auth.Static("manager-token"), httpassert.WithSchema(strict))
	_, _, err = a.Get(context.Background(), mustURL(t, srv.URL+"/api/v1/sbom"), http.StatusOK)
	if !errors.Is(err, common.ErrMalformedBody) {
		t.Fatalf("expected schema failure, got %v", err)
	}
}

func TestCompileSchemaRejectsInvalid(t *testing.T) {
	if _, err := httpassert.CompileSchema([]byte(`{"type": 12}`)); err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := httpassert.CompileSchema([]byte(`{`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestAssertGetStatusMessage(t *testing.T) {
	srv := newService(t)
	a := httpassert.New(auth.NoAuth)
	rec := &recorder{}

	a.AssertGet(rec, mustURL(t, srv.URL+"/api/v1/sbom"), http.StatusOK)

	if !rec.failed {
		t.Fatal("expected failure")
	}
	if !strings.Contains(strings.Join(rec.msgs, "\n"), httpassert.StatusMessage) {
		t.Fatalf("unexpected failure message: %v", rec.msgs)
	}
}

func TestAssertGetPasses(t *testing.T) {
	srv := newService(t)
	a := httpassert.New(auth.Static("manager-token"), httpassert.WithClient(srv.Client()))
	rec := &recorder{}

	v := a.AssertGet(rec, mustURL(t, srv.URL+"/api/v1/sbom"), http.StatusOK)
	if rec.failed || v == nil {
		t.Fatalf("expected pass with body, failed=%v msgs=%v", rec.failed, rec.msgs)
	}
}
