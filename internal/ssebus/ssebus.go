// Package ssebus is the reference transport for internal/bus: it
// streams an Engine's accept/enclose events to long-lived HTTP clients
// as Server-Sent Events, the same shape get.go's long-poll handler
// gives a caller waiting on a block, except multichan.W fans this one
// out to every connected client instead of to just the next waiter.
//
// It is deliberately thin: request/response RPC (ImportSchema, Accept,
// Consign, ...) is every other transport's job to wire against
// internal/bus's typed envelope however that transport likes (HTTP
// POST+JSON, gRPC, whatever); ssebus only owns the one thing a
// request/response transport can't give a client for free, a live feed
// of what the engine does on its own schedule.
package ssebus

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/manucorporat/sse"
	"github.com/sirupsen/logrus"

	"github.com/sealchain/stash"
)

// Server streams one Engine's event feed over HTTP.
type Server struct {
	Engine *stash.Engine
	Log    *logrus.Logger
}

// NewServer builds a Server over an already-constructed Engine.
func NewServer(e *stash.Engine) *Server {
	return &Server{Engine: e, Log: logrus.StandardLogger()}
}

// errorf mirrors net/error.go's Errorf: reply with the error, log it.
func (s *Server) errorf(w http.ResponseWriter, code int, msgfmt string, args ...interface{}) {
	http.Error(w, fmt.Sprintf(msgfmt, args...), code)
	s.Log.Errorf(msgfmt, args...)
}

// Events streams every subsequent Engine event to w as Server-Sent
// Events until the client disconnects or the request's context is
// canceled. A client reconnecting after a drop simply misses whatever
// fired while it was gone; ssebus carries no replay buffer, matching
// multichan's own "new readers start from now" semantics.
func (s *Server) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorf(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	reader := s.Engine.Events()
	defer reader.Dispose()

	ctx := r.Context()
	for {
		val, ok := reader.Read(ctx)
		if !ok {
			return
		}
		ev, ok := val.(*stash.Event)
		if !ok || ev == nil {
			continue
		}
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("ssebus: marshaling event: %v", err)
			continue
		}
		if err := sse.Encode(w, sse.Event{Event: string(ev.Kind), Data: json.RawMessage(data)}); err != nil {
			return
		}
		flusher.Flush()
	}
}
