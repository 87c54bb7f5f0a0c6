package httpingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"nexusgrid/internal/ingestion"
	telemetry "nexusgrid/internal/telemetry/domain"
)

// Pipeline runs one payload through the ingestion coordinator.
type Pipeline interface {
	Ingest(ctx context.Context, payload telemetry.WirePayload) ingestion.Result
}

// Handler accepts telemetry over HTTP POST. Supports a single payload or a
// batch array; batch items are processed independently and partial failure
// is reported per item.
type Handler struct {
	pipeline Pipeline
	logger   *log.Logger
	maxBody  int64
}

// NewHandler constructs an ingest handler.
func NewHandler(pipeline Pipeline, logger *log.Logger) (*Handler, error) {
	if pipeline == nil {
		return nil, errors.New("http ingest: nil pipeline")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{pipeline: pipeline, logger: logger, maxBody: 1 << 20}, nil
}

type itemResponse struct {
	DeviceID string `json:"device_id,omitempty"`
	Status   string `json:"status"`
	Faults   int    `json:"faults,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ServeHTTP ingests telemetry payloads.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		h.logger.Printf("http ingest: read body error: %v", err)
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	payloads, err := decodePayloads(body)
	if err != nil {
		h.logger.Printf("http ingest: decode error: %v", err)
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	items := make([]itemResponse, 0, len(payloads))
	accepted := 0
	persistFailed := false
	for _, payload := range payloads {
		result := h.pipeline.Ingest(r.Context(), payload)
		item := itemResponse{
			DeviceID: result.DeviceID,
			Status:   string(result.Status),
			Faults:   result.FaultCount,
		}
		if result.Err != nil {
			item.Error = result.Err.Error()
		}
		switch result.Status {
		case ingestion.StatusAccepted:
			accepted++
		case ingestion.StatusPersistFailed:
			persistFailed = true
		}
		items = append(items, item)
	}

	status := http.StatusAccepted
	switch {
	case persistFailed:
		status = http.StatusInternalServerError
	case accepted == 0:
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"accepted": accepted,
		"items":    items,
	})
}

func decodePayloads(body []byte) ([]telemetry.WirePayload, error) {
	trimmed := firstNonSpace(body)
	if trimmed == '[' {
		var batch []telemetry.WirePayload
		if err := json.Unmarshal(body, &batch); err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			return nil, errors.New("empty batch")
		}
		return batch, nil
	}
	var single telemetry.WirePayload
	if err := json.Unmarshal(body, &single); err != nil {
		return nil, err
	}
	return []telemetry.WirePayload{single}, nil
}

func firstNonSpace(body []byte) byte {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
