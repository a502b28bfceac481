package muxhandlers

import (
	"net/http"
	"net/http/httptest"

	"github.com/vitalvas/relay/mux"
)

// do runs req through p and returns the recorded response.
func do(p *mux.Pipeline, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)
	return w
}

// okHandler answers 200 with body "ok".
func okHandler() mux.Handler {
	return mux.HandlerFunc(func(c *mux.Context) mux.Result {
		return c.Text(http.StatusOK, "ok")
	})
}
