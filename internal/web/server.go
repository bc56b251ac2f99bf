// Package web serves the AHRS over HTTP: a JSON snapshot, control actions,
// the attitude as server-sent events or over a websocket, and the recent
// log lines.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"imufusion/internal/ahrs"
)

// Controller is the part of ahrs.Service the API drives. Implementations
// must be safe to call concurrently.
type Controller interface {
	Snapshot() ahrs.Snapshot
	SetHeading(ctx context.Context, heading float32) error
	Reinitialize(ctx context.Context) error
	OrientForward(ctx context.Context) error
	OrientDone(ctx context.Context) error
	Orientation() (forwardAxis int, gravity [3]float64, gravityOK bool)
}

// actionTimeout bounds how long a control request waits for the fusion loop.
const actionTimeout = 5 * time.Second

type OrientationResponse struct {
	Set         bool       `json:"set"`
	ForwardAxis int        `json:"forward_axis"`
	Gravity     [3]float64 `json:"gravity"`
}

type headingRequest struct {
	HeadingDeg *float64 `json:"heading_deg"`
}

// Handler routes the API. att and logs are optional.
func Handler(ctl Controller, att *AttitudeBroadcaster, logs *LogBuffer) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/ahrs", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, AttitudeFromSnapshot(ctl.Snapshot()))
	})

	mux.HandleFunc("/api/ahrs/orientation", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		axis, gravity, ok := ctl.Orientation()
		writeJSON(w, OrientationResponse{Set: ok, ForwardAxis: axis, Gravity: gravity})
	})

	mux.HandleFunc("/api/ahrs/heading", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		var req headingRequest
		dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid body: %v", err), http.StatusBadRequest)
			return
		}
		if req.HeadingDeg == nil || math.IsNaN(*req.HeadingDeg) || math.IsInf(*req.HeadingDeg, 0) {
			http.Error(w, "heading_deg must be a finite number", http.StatusBadRequest)
			return
		}
		heading := float32(*req.HeadingDeg)
		runAction(w, r, func(ctx context.Context) error { return ctl.SetHeading(ctx, heading) })
	})

	mux.HandleFunc("/api/ahrs/reinitialize", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		runAction(w, r, ctl.Reinitialize)
	})

	mux.HandleFunc("/api/ahrs/orient/forward", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		runAction(w, r, ctl.OrientForward)
	})

	mux.HandleFunc("/api/ahrs/orient/done", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodPost) {
			return
		}
		runAction(w, r, ctl.OrientDone)
	})

	mux.HandleFunc("/api/ahrs/stream", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if att == nil {
			http.Error(w, "stream unavailable", http.StatusNotFound)
			return
		}
		serveStream(w, r, att)
	})

	mux.HandleFunc("/api/ahrs/ws", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		if att == nil {
			http.Error(w, "stream unavailable", http.StatusNotFound)
			return
		}
		serveWebSocket(w, r, att)
	})

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	return mux
}

func runAction(w http.ResponseWriter, r *http.Request, action func(context.Context) error) {
	ctx, cancel := context.WithTimeout(r.Context(), actionTimeout)
	defer cancel()
	if err := action(ctx); err != nil {
		code := http.StatusBadRequest
		if errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
		}
		http.Error(w, err.Error(), code)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{\"ok\":true}\n"))
}

func serveStream(w http.ResponseWriter, r *http.Request, att *AttitudeBroadcaster) {
	id, ch := att.Subscribe(8)
	defer att.Unsubscribe(id)

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case a, ok := <-ch:
			if !ok {
				return
			}
			b, err := json.Marshal(a)
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// Serve runs the API on listenAddr until ctx is done.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MiB
		// Streams watch the request context, so they end with ctx.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
