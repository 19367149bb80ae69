package runtime

import (
	"fmt"
	"net/http"

	jsoncodec "github.com/drblury/eventdispatch/internal/runtime/jsoncodec"
)

// HandlerInfo describes one built routing entry.
type HandlerInfo struct {
	PubSubName string `json:"pubsub_name"`
	Topic      string `json:"topic"`
	Type       string `json:"type"`
	Source     string `json:"source,omitempty"`
	DataType   string `json:"data_type"`
	Handler    string `json:"handler"`
}

// PoolStats is a point-in-time view of the worker pool.
type PoolStats struct {
	Workers int `json:"workers"`
	Running int `json:"running"`
	Queued  int `json:"queued"`
}

type handlersResponse struct {
	Handlers []HandlerInfo `json:"handlers"`
	Pool     *PoolStats    `json:"pool,omitempty"`
}

// HandlerInfos lists the built bindings. It is empty before Start.
func (s *Service) HandlerInfos() []HandlerInfo {
	bindings := s.registry.Bindings()
	infos := make([]HandlerInfo, 0, len(bindings))
	for _, b := range bindings {
		infos = append(infos, HandlerInfo{
			PubSubName: b.Metadata.PubSubName,
			Topic:      b.Metadata.Topic,
			Type:       b.Metadata.Type,
			Source:     b.Metadata.Source,
			DataType:   b.DataType.String(),
			Handler:    typeString(b.Handler),
		})
	}
	return infos
}

// PoolStats reports the worker pool of a running service.
func (s *Service) PoolStats() (PoolStats, bool) {
	pool := s.pool.Load()
	if pool == nil {
		return PoolStats{}, false
	}
	return PoolStats{
		Workers: pool.Workers(),
		Running: pool.Running(),
		Queued:  pool.Queued(),
	}, true
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := handlersResponse{Handlers: s.HandlerInfos()}
	if stats, ok := s.PoolStats(); ok {
		resp.Pool = &stats
	}

	body, err := jsoncodec.Marshal(resp)
	if err != nil {
		s.Logger.Error("Failed to encode handlers", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func typeString(v any) string {
	return fmt.Sprintf("%T", v)
}
