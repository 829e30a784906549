// Package httputil holds the JSON request/response helpers shared by the raffle
// HTTP server and its command line client.
package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	svcerrors "github.com/R3E-Network/neoraffle/internal/errors"
	"github.com/R3E-Network/neoraffle/internal/logging"
)

// MaxBodyBytes bounds request bodies read by ReadJSON.
const MaxBodyBytes = 1 << 20

// WriteJSON writes data as a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// ErrorBody is the wire form of a failed request.
type ErrorBody struct {
	Code    svcerrors.ErrorCode `json:"code"`
	Message string              `json:"message"`
	Details map[string]any      `json:"details,omitempty"`
	TraceID string              `json:"trace_id,omitempty"`
}

// WriteError writes err as an ErrorBody. Errors that are not a ServiceError
// are reported as internal errors without leaking their text.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	se := svcerrors.GetServiceError(err)
	if se == nil {
		se = svcerrors.Internal("Internal server error", err)
	}
	body := ErrorBody{Code: se.Code, Message: se.Message, Details: se.Details}
	if r != nil {
		body.TraceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, se.HTTPStatus, body)
}

// ReadJSON decodes the request body into v, rejecting unknown fields and
// bodies over MaxBodyBytes.
func ReadJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return svcerrors.InvalidFormat("body", "JSON object")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return svcerrors.InvalidFormat("body", fmt.Sprintf("at most %d bytes", MaxBodyBytes))
		}
		return svcerrors.InvalidFormat("body", "JSON object").WithDetails("error", err.Error())
	}
	return nil
}

// ReadAllWithLimit reads at most limit bytes and reports whether r had more.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(data)) > limit {
		return data[:limit], true, nil
	}
	return data, false, nil
}

// ReadAllStrict reads r fully and fails if it is larger than limit.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	data, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}
