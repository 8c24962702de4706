package errors

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidItem, http.StatusBadRequest},
		{ErrCodeNotForSale, http.StatusBadRequest},
		{ErrCodeUnsupportedProvider, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeGatewayUnreachable, http.StatusBadGateway},
		{ErrCodeGatewayRejected, http.StatusBadGateway},
		{ErrCodeUnauthorized, http.StatusUnauthorized},
		{ErrCodeInternalError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.want {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !ErrCodeGatewayUnreachable.IsRetryable() {
		t.Error("gateway_unreachable should be retryable")
	}
	if ErrCodeGatewayRejected.IsRetryable() {
		t.Error("gateway_rejected should not be retryable")
	}
}

func TestWriteErrorWithDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorWithDetail(rec, ErrCodeInvalidItem, "unknown item", "itemId", "svg:42")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error.Code != ErrCodeInvalidItem || resp.Error.Details["itemId"] != "svg:42" {
		t.Errorf("unexpected body %+v", resp)
	}
	if resp.Error.Retryable {
		t.Error("expected retryable false")
	}
}
