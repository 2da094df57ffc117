// Package validation provides request validation helpers and middleware.
package validation

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"

	"github.com/fraudpop/fraudpop/internal/shopify"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxNoteLength bounds merchant free-text notes.
const MaxNoteLength = 2000

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// SanitizeString trims whitespace, drops NUL bytes and limits length to
// maxLen bytes without splitting a UTF-8 sequence.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")
	return Truncate(s, maxLen)
}

// Truncate cuts s to at most maxLen bytes, backing off to the start of the
// last whole character.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 0 {
		return ""
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs validators and collects their failures.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errs ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidShop checks that a field holds a *.myshopify.com domain.
func ValidShop(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !shopify.ValidShop(shopify.NormalizeShop(value)) {
			return &ValidationError{Field: field, Message: "must be a *.myshopify.com domain"}
		}
		return nil
	}
}

// OneOf checks that a field holds one of the allowed values.
func OneOf(field, value string, allowed ...string) func() *ValidationError {
	return func() *ValidationError {
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &ValidationError{Field: field, Message: "must be one of " + strings.Join(allowed, ", ")}
	}
}

// MaxLength checks if a field exceeds max bytes
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// ShopParamMiddleware normalizes and validates the :shop URL parameter.
// The normalized domain is stored under "shop".
func ShopParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		shop := shopify.NormalizeShop(c.Param("shop"))
		if !shopify.ValidShop(shop) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": "bad_request"})
			return
		}
		c.Set("shop", shop)
		c.Next()
	}
}

// OrderParamMiddleware validates the :id URL parameter as a numeric order
// ID or order GID. The GID is stored under "orderGID".
func OrderParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		gid, err := shopify.OrderGID(c.Param("id"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"ok": false, "error": "bad_request"})
			return
		}
		c.Set("orderGID", gid)
		c.Next()
	}
}
