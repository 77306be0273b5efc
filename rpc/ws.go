package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"tipledger/core/events"
	"tipledger/native/tipping"
)

const (
	wsWriteTimeout = 10 * time.Second
)

var defaultStreamTypes = []string{tipping.EventTypeTipRecorded, tipping.EventTypeTransferSettled}

// HandleTipStream upgrades the request to a websocket and pushes committed
// ledger events. The optional cursor query parameter resumes after a known
// sequence; types narrows the event types delivered.
func (s *Server) HandleTipStream(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.stream == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	filter := streamFilter(r.URL.Query().Get("types"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamTips(ctx, conn, cursor, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("tip stream terminated", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func streamFilter(raw string) map[string]struct{} {
	types := defaultStreamTypes
	if trimmed := strings.TrimSpace(raw); trimmed != "" {
		types = strings.Split(trimmed, ",")
	}
	filter := make(map[string]struct{}, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = struct{}{}
		}
	}
	return filter
}

func (s *Server) streamTips(ctx context.Context, conn *websocket.Conn, cursor string, filter map[string]struct{}) error {
	updates, cancel, backlog := s.stream.Subscribe(ctx, cursor)
	defer cancel()

	for _, update := range backlog {
		if err := writeStreamUpdate(ctx, conn, update, filter); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := writeStreamUpdate(ctx, conn, update, filter); err != nil {
				return err
			}
		}
	}
}

func writeStreamUpdate(ctx context.Context, conn *websocket.Conn, update events.Update, filter map[string]struct{}) error {
	if update.Event == nil {
		return nil
	}
	if _, ok := filter[update.Event.Type]; !ok {
		return nil
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
