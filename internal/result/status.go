// Package result holds the classified outcome of upstream calls, the
// per-entity composite those outcomes are merged into, and the lookup result
// handed back to callers.
package result

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// State is the semantic outcome of one upstream call.
type State int

const (
	StateSuccess State = iota
	StateNotFound
	StateRateLimited
	StateUnauthorized
	StateBadRequest
	StateUnexpectedError
)

func (s State) String() string {
	switch s {
	case StateSuccess:
		return "success"
	case StateNotFound:
		return "not_found"
	case StateRateLimited:
		return "rate_limited"
	case StateUnauthorized:
		return "unauthorized"
	case StateBadRequest:
		return "bad_request"
	case StateUnexpectedError:
		return "unexpected_error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// IsFailure reports whether the state poisons the composite it belongs to.
func (s State) IsFailure() bool {
	return s >= StateRateLimited
}

// nonRoutableMessage is returned with a 400 for addresses GreyNoise will not
// look up; those are "no data", not an error.
const nonRoutableMessage = "not a valid routable IPv4 address"

// Outcome is a classified upstream response.
type Outcome struct {
	State      State           `json:"state"`
	StatusCode int             `json:"statusCode"`
	Body       json.RawMessage `json:"body,omitempty"`
	Detail     string          `json:"detail,omitempty"`
}

// Classify maps a status code and body onto an Outcome. It is pure.
func Classify(statusCode int, body json.RawMessage) Outcome {
	out := Outcome{StatusCode: statusCode, Body: body}

	switch statusCode {
	case http.StatusOK:
		out.State = StateSuccess
	case http.StatusBadRequest:
		msg := bodyMessage(body)
		if strings.Contains(msg, nonRoutableMessage) {
			out.State = StateNotFound
		} else {
			out.State = StateBadRequest
		}
		out.Detail = msg
	case http.StatusUnauthorized:
		out.State = StateUnauthorized
		out.Detail = "check API key"
	case http.StatusNotFound:
		out.State = StateNotFound
	case http.StatusTooManyRequests:
		out.State = StateRateLimited
		out.Detail = "rate limit hit"
	default:
		out.State = StateUnexpectedError
		out.Detail = fmt.Sprintf("unexpected status code %d", statusCode)
	}

	return out
}

// TransportFailure turns a transport error into an Outcome for callers that
// isolate such failures per entity.
func TransportFailure(err error) Outcome {
	return Outcome{
		State:  StateUnexpectedError,
		Detail: err.Error(),
	}
}

func bodyMessage(body json.RawMessage) string {
	if len(body) == 0 {
		return ""
	}
	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &msg); err != nil {
		return ""
	}
	return msg.Message
}
