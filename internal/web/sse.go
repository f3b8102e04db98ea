package web

import (
	"encoding/json"
	"fmt"
	"net/http"

	"catpanel/internal/eventbus"
	logx "catpanel/pkg/logx"
)

// events streams hub events to the browser as server-sent events. Each hub
// event becomes one "event:"/"data:" frame; quiet periods are filled with
// heartbeat frames so proxies and the EventSource client keep the
// connection alive.
func (h *Handlers) events(w http.ResponseWriter, r *http.Request) {
	fl, ok := w.(http.Flusher)
	if !ok {
		h.jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	sub := h.bus.Subscribe(16, h.heartbeat)
	defer sub.Close()

	h.log.Debug("sse client connected", logx.String("remote", r.RemoteAddr))
	for {
		ev, ok := sub.Receive(r.Context())
		if !ok {
			h.log.Debug("sse client disconnected", logx.String("remote", r.RemoteAddr))
			return
		}
		if err := writeFrame(w, ev); err != nil {
			return
		}
		fl.Flush()
	}
}

func writeFrame(w http.ResponseWriter, ev eventbus.Event) error {
	data := ev.Data
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, b)
	return err
}
