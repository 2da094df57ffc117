package shopify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTransport wraps network-level failures talking to the platform.
	ErrTransport = errors.New("shopify: transport error")

	// ErrCircuitOpen is returned without a network call while a shop's
	// breaker is open.
	ErrCircuitOpen = errors.New("shopify: circuit open")

	// ErrInvalidOrderID is returned for ids that are neither numeric nor an
	// order GID.
	ErrInvalidOrderID = errors.New("shopify: invalid order id")
)

// maxErrorText bounds the response text kept on InvalidResponseError.
const maxErrorText = 1000

// InvalidResponseError is returned when the platform answers with something
// that is not a GraphQL JSON envelope.
type InvalidResponseError struct {
	Status int    `json:"status"`
	Text   string `json:"text"`
}

func newInvalidResponse(status int, body []byte) *InvalidResponseError {
	text := string(body)
	if len(text) > maxErrorText {
		text = text[:maxErrorText]
	}
	return &InvalidResponseError{Status: status, Text: text}
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("shopify: invalid graphql response (status %d)", e.Status)
}

// GraphQLError is one entry of a top-level "errors" array.
type GraphQLError struct {
	Message    string          `json:"message"`
	Path       []any           `json:"path,omitempty"`
	Extensions json.RawMessage `json:"extensions,omitempty"`
}

// GraphQLErrors carries the top-level errors of a response.
type GraphQLErrors struct {
	Errors []GraphQLError
}

func (e *GraphQLErrors) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ge := range e.Errors {
		msgs = append(msgs, ge.Message)
	}
	return "shopify: graphql errors: " + strings.Join(msgs, "; ")
}

// parseErrors accepts both the array form and the bare string form the
// platform uses for auth failures.
func parseErrors(raw json.RawMessage) []GraphQLError {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []GraphQLError
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err == nil && msg != "" {
		return []GraphQLError{{Message: msg}}
	}
	return []GraphQLError{{Message: string(raw)}}
}
