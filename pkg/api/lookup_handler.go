package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/printops/driver-config/pkg/lookup"
	"github.com/printops/driver-config/pkg/rules"
	"github.com/printops/driver-config/pkg/wire"
)

// parseLookupRequest extracts the queried driver names. The drivers
// field must be an array of strings; anything else is a client error.
func parseLookupRequest(body []byte) ([]string, error) {
	var req struct {
		Drivers json.RawMessage `json:"drivers"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, &rules.ValidationError{Field: "body", Message: "must be a JSON object"}
	}
	// An explicit null decodes into a nil slice without error, so the
	// raw form must be an array before unmarshaling.
	drivers := bytes.TrimSpace(req.Drivers)
	if len(drivers) == 0 || drivers[0] != '[' {
		return nil, &rules.ValidationError{Field: "drivers", Message: "must be an array of strings"}
	}
	var names []string
	if err := json.Unmarshal(drivers, &names); err != nil {
		return nil, &rules.ValidationError{Field: "drivers", Message: "must be an array of strings"}
	}
	return names, nil
}

// lookupJSON handles POST /api/v1/lookup. Returns one result per query
// name in query order; a miss is found=false with a null config, never
// an error.
func (h *Handler) lookupJSON(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, "failed to read request body")
		return
	}

	names, err := parseLookupRequest(body)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	results, err := h.resolver.Resolve(r.Context(), names)
	if err != nil {
		slog.Error("lookup failed", "drivers", len(names), "error", err)
		writeStoreError(w, err)
		return
	}
	if results == nil {
		results = []lookup.Result{}
	}

	payload, err := wire.ToJSON(results)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// lookupXML handles POST /api/v1/lookup/xml. Same request shape as the
// JSON lookup; the response is the fixed external XML schema, and errors
// use the matching XML envelope with no partial serialization.
func (h *Handler) lookupXML(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeXMLError(w, http.StatusBadRequest, kindValidation, "failed to read request body")
		return
	}

	names, err := parseLookupRequest(body)
	if err != nil {
		status, kind, msg := classify(err)
		writeXMLError(w, status, kind, msg)
		return
	}

	results, err := h.resolver.Resolve(r.Context(), names)
	if err != nil {
		slog.Error("lookup failed", "drivers", len(names), "error", err)
		status, kind, msg := classify(err)
		writeXMLError(w, status, kind, msg)
		return
	}

	payload, err := wire.ResultsXML(results)
	if err != nil {
		slog.Error("serializing lookup results failed", "error", err)
		status, kind, msg := classify(err)
		writeXMLError(w, status, kind, msg)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// writeXMLError writes the XML error envelope.
func writeXMLError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_, _ = w.Write(wire.ErrorXML(kind, msg))
}
