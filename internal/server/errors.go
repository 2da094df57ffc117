package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fraudpop/fraudpop/internal/logging"
	"github.com/fraudpop/fraudpop/internal/metafields"
	"github.com/fraudpop/fraudpop/internal/projections"
	"github.com/fraudpop/fraudpop/internal/sessions"
	"github.com/fraudpop/fraudpop/internal/settings"
	"github.com/fraudpop/fraudpop/internal/shopify"
	"github.com/fraudpop/fraudpop/internal/validation"
)

// Error codes carried in the "error" member of failure bodies.
const (
	codeUnauthorized      = "unauthorized"
	codeBadJSON           = "bad_json"
	codeBadRequest        = "bad_request"
	codeNoOfflineSession  = "no_offline_session"
	codeNotFound          = "not_found"
	codeMethodNotAllowed  = "method_not_allowed"
	codePayloadTooLarge   = "payload_too_large"
	codeUserErrors        = "user_errors"
	codeGraphQLErrors     = "graphql_errors"
	codeInvalidResponse   = "invalid_graphql_response"
	codeTransportError    = "graphql_transport_error"
	codeDefinitionsFailed = "definition_errors"
	codeException         = "exception"
)

// maxExceptionMessage bounds the message returned with 500 responses.
const maxExceptionMessage = 200

// errBadRequest marks caller mistakes detected by handlers.
var errBadRequest = errors.New("bad request")

// badJSONError wraps a body that could not be decoded.
type badJSONError struct{ err error }

func (e *badJSONError) Error() string { return "bad json: " + e.err.Error() }
func (e *badJSONError) Unwrap() error { return e.err }

// bindJSON decodes the request body into dst, reporting bodies over the size
// limit and undecodable bodies distinctly.
func bindJSON(c *gin.Context, dst any) error {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &badJSONError{err: err}
	}
	return nil
}

// fail writes the JSON error body for err. It is the only place errors are
// mapped to HTTP statuses.
func fail(c *gin.Context, err error) {
	var (
		badJSON    *badJSONError
		tooLarge   *http.MaxBytesError
		mfInvalid  *metafields.ValidationError
		stInvalid  *settings.ValidationError
		reqInvalid validation.ValidationErrors
		gqlErrs    *shopify.GraphQLErrors
		invalid    *shopify.InvalidResponseError
		bootErr    *metafields.BootstrapError
	)

	switch {
	case errors.As(err, &tooLarge):
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"ok": false, "error": codePayloadTooLarge})
	case errors.As(err, &badJSON):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": codeBadJSON})
	case errors.As(err, &mfInvalid):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": codeBadRequest, "problems": mfInvalid.Problems})
	case errors.As(err, &stInvalid):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": codeBadRequest,
			"problems": []validation.ValidationError{{Field: stInvalid.Field, Message: stInvalid.Message}}})
	case errors.As(err, &reqInvalid):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": codeBadRequest, "problems": reqInvalid})
	case errors.Is(err, errBadRequest), errors.Is(err, shopify.ErrInvalidOrderID):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": codeBadRequest})
	case errors.Is(err, sessions.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"ok": false, "error": codeNoOfflineSession})
	case errors.Is(err, projections.ErrOrderNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"ok": false, "error": codeNotFound, "message": "Order not found"})
	case errors.As(err, &gqlErrs):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"ok": false, "error": codeGraphQLErrors, "errors": gqlErrs.Errors})
	case errors.As(err, &invalid):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"ok": false, "error": codeInvalidResponse,
			"status": invalid.Status, "text": invalid.Text})
	case errors.Is(err, shopify.ErrTransport), errors.Is(err, shopify.ErrCircuitOpen):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"ok": false, "error": codeTransportError})
	case errors.As(err, &bootErr):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"ok": false, "error": codeDefinitionsFailed, "errors": bootErr.Errors})
	default:
		logging.L(c.Request.Context()).Error("request failed", "path", c.FullPath(), "error", err)
		exception(c, err.Error())
	}
}

// exception writes the generic 500 body with a truncated message.
func exception(c *gin.Context, msg string) {
	msg = validation.Truncate(msg, maxExceptionMessage)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"ok": false, "error": codeException, "message": msg})
}

// userErrors writes the 422 body for a partially rejected write.
func userErrors(c *gin.Context, res *metafields.Result) {
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
		"ok":         false,
		"error":      codeUserErrors,
		"userErrors": res.UserErrors,
		"written":    res.Written,
	})
}

func methodNotAllowed(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusMethodNotAllowed, gin.H{"ok": false, "error": codeMethodNotAllowed})
}
