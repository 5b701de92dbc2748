// SPDX-License-Identifier: MIT

// Package health serves the liveness (/healthz) and readiness (/readyz)
// probes. Readiness runs every registered [Checker]; the response carries a
// top-level "status" ("ok" or "fail") and the result of each check.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 2 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Report is the JSON body of both probes.
type Report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Status == "ok" }

// Handler evaluates a fixed list of checkers.
type Handler struct {
	checkers []Checker
}

// New creates a Handler. Checkers run sequentially in the given order.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Evaluate runs every checker with its own timeout.
func (h *Handler) Evaluate(ctx context.Context) Report {
	rep := Report{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for _, c := range h.checkers {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(cctx)
		cancel()
		if err != nil {
			rep.Checks[c.Name] = "fail: " + err.Error()
			rep.Status = "fail"
		} else {
			rep.Checks[c.Name] = "ok"
		}
	}
	return rep
}

// Healthz always answers 200 while the process can serve HTTP.
func (h *Handler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, Report{Status: "ok"})
}

// Readyz answers 200 when every check passes and 503 otherwise.
func (h *Handler) Readyz(c echo.Context) error {
	rep := h.Evaluate(c.Request().Context())
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, rep)
}

// Register adds both probes to e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)
	e.GET("/readyz", h.Readyz)
}
