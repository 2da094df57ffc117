package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"  hello  ", 100, "hello"},
		{"a\x00b", 100, "ab"},
		{"abcdef", 3, "abc"},
		{"héllo", 2, "h"}, // does not split é
		{"", 10, ""},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"abc", 5, "abc"},
		{"abcdef", 3, "abc"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"日本語", 4, "日"},
		{"日本語", 0, ""},
	}

	for _, tc := range tests {
		result := Truncate(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
		if !utf8.ValidString(result) {
			t.Errorf("Truncate(%q, %d) split a character", tc.input, tc.maxLen)
		}
	}
}

func TestValidate(t *testing.T) {
	errs := Validate(
		Required("shop", ""),
		ValidShop("shop", "example.com"),
		OneOf("label", "maybe", "safe", "caution"),
		MaxLength("note", strings.Repeat("x", 11), 10),
	)
	if len(errs) != 4 {
		t.Fatalf("expected 4 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() != "shop: is required" {
		t.Errorf("unexpected first error %q", errs.Error())
	}
	if errs[2].Message != "must be one of safe, caution" {
		t.Errorf("unexpected OneOf message %q", errs[2].Message)
	}

	if errs := Validate(Required("shop", "x"), ValidShop("shop", "Demo.myshopify.com"), OneOf("l", "safe", "safe")); len(errs) != 0 {
		t.Errorf("expected no errors, got %v", errs)
	}
}

func TestValidationErrors_Empty(t *testing.T) {
	if (ValidationErrors{}).Error() != "validation failed" {
		t.Error("empty errors should have generic message")
	}
}

func TestShopParamMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/s/:shop", ShopParamMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("shop"))
	})

	tests := []struct {
		shop string
		code int
		body string
	}{
		{"demo.myshopify.com", http.StatusOK, "demo.myshopify.com"},
		{"DEMO.myshopify.com", http.StatusOK, "demo.myshopify.com"},
		{"evil.com", http.StatusBadRequest, `{"error":"bad_request","ok":false}`},
	}
	for _, tc := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/s/"+tc.shop, nil))
		if w.Code != tc.code || w.Body.String() != tc.body {
			t.Errorf("%s: got %d %q, want %d %q", tc.shop, w.Code, w.Body.String(), tc.code, tc.body)
		}
	}
}

func TestOrderParamMiddleware(t *testing.T) {
	r := gin.New()
	r.GET("/o/:id", OrderParamMiddleware(), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("orderGID"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/o/123", nil))
	if w.Code != http.StatusOK || w.Body.String() != "gid://shopify/Order/123" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/o/abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	r := gin.New()
	r.POST("/", RequestSizeMiddleware(8), func(c *gin.Context) {
		var buf [64]byte
		_, err := c.Request.Body.Read(buf[:])
		for err == nil {
			_, err = c.Request.Body.Read(buf[:])
		}
		if err.Error() == "EOF" {
			c.Status(http.StatusOK)
			return
		}
		c.Status(http.StatusRequestEntityTooLarge)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789abcdef")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("tiny")))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
