package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// Delivery is one request a Receiver accepted, successful or not.
type Delivery struct {
	Type      string
	Subject   string
	Signature string
	Status    int
	Body      []byte
}

// Receiver is a webhook endpoint that records every delivery attempt.
type Receiver struct {
	URL string

	respond func(attempt int) int

	mu         sync.Mutex
	deliveries []Delivery
}

// NewReceiver starts a Receiver that closes with tb. respond picks the status
// for the nth attempt, counting from 1; nil answers 200 to everything.
func NewReceiver(tb testing.TB, respond func(attempt int) int) *Receiver {
	tb.Helper()
	r := &Receiver{respond: respond}
	server := httptest.NewServer(http.HandlerFunc(r.serve))
	tb.Cleanup(server.Close)
	r.URL = server.URL
	return r
}

func (r *Receiver) serve(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)

	r.mu.Lock()
	status := http.StatusOK
	if r.respond != nil {
		status = r.respond(len(r.deliveries) + 1)
	}
	r.deliveries = append(r.deliveries, Delivery{
		Type:      req.Header.Get("Ce-Type"),
		Subject:   req.Header.Get("Ce-Subject"),
		Signature: req.Header.Get("X-Signature-256"),
		Status:    status,
		Body:      body,
	})
	r.mu.Unlock()

	w.WriteHeader(status)
}

// Attempts counts the requests seen so far.
func (r *Receiver) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deliveries)
}

// Deliveries returns a copy of the recorded requests in arrival order.
func (r *Receiver) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.deliveries...)
}

// FailFirst answers status to the first n attempts and 200 afterwards.
func FailFirst(n, status int) func(int) int {
	return func(attempt int) int {
		if attempt <= n {
			return status
		}
		return http.StatusOK
	}
}

// Always answers status to every attempt.
func Always(status int) func(int) int {
	return func(int) int { return status }
}
