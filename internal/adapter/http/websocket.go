package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/couchcryptid/storm-alert-pipeline/internal/domain"
	"github.com/couchcryptid/storm-alert-pipeline/internal/gateway"
	"github.com/couchcryptid/storm-alert-pipeline/internal/stream"
)

// Close reasons carried by the terminal stream_closed event.
const (
	reasonShutdown         = "server shutting down"
	reasonStoreUnavailable = "stream store unavailable"
)

// handleWeather streams live readings, or with ?from=<entry id> replays the
// observation stream from that cursor and keeps following it.
func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	var from *stream.EntryID
	if q := r.URL.Query().Get("from"); q != "" {
		id, err := stream.ParseEntryID(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		from = &id
	}

	s.serve(w, r, func(ctx context.Context, sink gateway.Sink) error {
		if from != nil {
			return s.bridge.ReplayUpdates(ctx, sink, *from)
		}
		return s.bridge.RelayUpdates(ctx, sink)
	})
}

// handleAlerts streams alerts. ?channels=cow,storm selects channels; the
// default is cow alerts only.
func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	channels, err := parseAlertChannels(r.URL.Query().Get("channels"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.serve(w, r, func(ctx context.Context, sink gateway.Sink) error {
		return s.bridge.RelayAlerts(ctx, sink, channels...)
	})
}

func parseAlertChannels(q string) ([]stream.Channel, error) {
	if strings.TrimSpace(q) == "" {
		return []stream.Channel{stream.CowAlerts}, nil
	}
	var out []stream.Channel
	for _, part := range strings.Split(q, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		c, err := stream.ParseChannel(part)
		if err != nil {
			return nil, err
		}
		if c == stream.ObservationUpdates {
			return nil, fmt.Errorf("channel %q is served on /ws/weather", part)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, errors.New("no channels given")
	}
	return out, nil
}

// serve upgrades the request and runs relay until the client leaves, the
// store fails, or the server shuts down.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, relay func(context.Context, gateway.Sink) error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		// Accept has already written the HTTP error response.
		s.logger.Debug("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	defer conn.CloseNow() //nolint:errcheck // no-op after a clean Close

	// Clients never send data; CloseRead handles control frames and ends
	// readCtx when the client goes away. It closes the connection once its
	// context ends, so shutdown must not cancel that one.
	readCtx := conn.CloseRead(r.Context())
	ctx, cancel := context.WithCancel(readCtx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.logger.Debug("websocket client connected", "path", r.URL.Path, "remote", r.RemoteAddr)
	err = relay(ctx, &wsSink{conn: conn, timeout: s.opts.WriteTimeout})

	switch {
	case s.ctx.Err() != nil:
		s.closeWith(conn, websocket.StatusGoingAway, reasonShutdown)
	case err == nil, errors.Is(err, domain.ErrClientDisconnected):
		s.logger.Debug("websocket client disconnected", "path", r.URL.Path, "remote", r.RemoteAddr)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	default:
		s.logger.Error("websocket relay failed", "path", r.URL.Path, "error", err)
		s.closeWith(conn, websocket.StatusInternalError, reasonStoreUnavailable)
	}
}

// closeWith sends the terminal notice, then the close frame.
func (s *Server) closeWith(conn *websocket.Conn, code websocket.StatusCode, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, gateway.ClosedEvent(reason)); err != nil {
		s.logger.Debug("stream_closed notice not delivered", "error", err)
	}
	_ = conn.Close(code, reason)
}

// wsSink writes events as JSON text frames.
type wsSink struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsSink) Send(ctx context.Context, e gateway.Event) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := wsjson.Write(ctx, s.conn, e); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrClientDisconnected, err)
	}
	return nil
}
