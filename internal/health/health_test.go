// SPDX-License-Identifier: MIT
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, Report) {
	t.Helper()
	e := echo.New()
	h.Register(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var rep Report
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return rec, rep
}

func TestHealthzAlwaysOK(t *testing.T) {
	h := New(Checker{Name: "capture", Check: func(context.Context) error { return errors.New("down") }})
	rec, rep := serve(t, h, "/healthz")
	if rec.Code != http.StatusOK || rep.Status != "ok" {
		t.Errorf("healthz = %d %q, want 200 ok", rec.Code, rep.Status)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestReadyz(t *testing.T) {
	pass := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("capture stopped") }

	tests := []struct {
		name     string
		checkers []Checker
		code     int
		status   string
		checks   map[string]string
	}{
		{"no checks", nil, http.StatusOK, "ok", nil},
		{
			"all pass",
			[]Checker{{"capture", pass}, {"broadcaster", pass}},
			http.StatusOK, "ok",
			map[string]string{"capture": "ok", "broadcaster": "ok"},
		},
		{
			"one fails",
			[]Checker{{"capture", fail}, {"broadcaster", pass}},
			http.StatusServiceUnavailable, "fail",
			map[string]string{"capture": "fail: capture stopped", "broadcaster": "ok"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, rep := serve(t, New(tt.checkers...), "/readyz")
			if rec.Code != tt.code || rep.Status != tt.status {
				t.Errorf("readyz = %d %q, want %d %q", rec.Code, rep.Status, tt.code, tt.status)
			}
			for k, v := range tt.checks {
				if rep.Checks[k] != v {
					t.Errorf("check %q = %q, want %q", k, rep.Checks[k], v)
				}
			}
		})
	}
}

func TestEvaluateTimeout(t *testing.T) {
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("no deadline")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
			return nil
		}
	}})
	if rep := h.Evaluate(context.Background()); !rep.OK() {
		t.Errorf("Evaluate = %+v", rep)
	}
}
