package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name    string
		appErr  *AppError
		wantMsg string
	}{
		{
			name:    "message only",
			appErr:  &AppError{Message: "session not found"},
			wantMsg: "session not found",
		},
		{
			name:    "message with wrapped error",
			appErr:  &AppError{Message: "host messages failed", Err: errors.New("connection refused")},
			wantMsg: "host messages failed: connection refused",
		},
		{
			name:    "empty message with error",
			appErr:  &AppError{Err: errors.New("underlying")},
			wantMsg: ": underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appErr.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	underlying := errors.New("root cause")
	appErr := &AppError{Message: "wrapper", Err: underlying}
	if got := appErr.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
	if got := (&AppError{Message: "no wrap"}).Unwrap(); got != nil {
		t.Errorf("Unwrap() on nil Err = %v, want nil", got)
	}
}

func TestAppError_ToJSON(t *testing.T) {
	appErr := InvalidPruneID([]int{7, 9})

	var parsed map[string]interface{}
	if err := json.Unmarshal(appErr.ToJSON(), &parsed); err != nil {
		t.Fatalf("ToJSON() produced invalid JSON: %v", err)
	}
	if parsed["code"] != CodeInvalidPruneID {
		t.Errorf("code = %v, want %s", parsed["code"], CodeInvalidPruneID)
	}
	details, ok := parsed["details"].(map[string]interface{})
	if !ok {
		t.Fatal("details should be a map")
	}
	ids, ok := details["ids"].([]interface{})
	if !ok || len(ids) != 2 {
		t.Errorf("details.ids = %v, want two ids", details["ids"])
	}
}

func TestAppError_ToJSON_OmitsEmptyDetails(t *testing.T) {
	appErr := &AppError{Code: CodeSessionNotFound, Message: "msg"}

	var parsed map[string]interface{}
	if err := json.Unmarshal(appErr.ToJSON(), &parsed); err != nil {
		t.Fatalf("ToJSON() produced invalid JSON: %v", err)
	}
	if _, exists := parsed["details"]; exists {
		t.Error("details should be omitted when empty")
	}
}

func TestSentinels(t *testing.T) {
	if !errors.Is(InvalidPruneID([]int{1}), ErrInvalidPruneID) {
		t.Error("InvalidPruneID should wrap ErrInvalidPruneID")
	}
	exhausted := SelectionExhausted(errors.New("probe timed out"))
	if !errors.Is(exhausted, ErrNoModelAvailable) {
		t.Error("SelectionExhausted should wrap ErrNoModelAvailable")
	}
	if !errors.Is(SelectionExhausted(nil), ErrNoModelAvailable) {
		t.Error("SelectionExhausted(nil) should wrap ErrNoModelAvailable")
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid id", InvalidPruneID(nil), http.StatusBadRequest},
		{"wrapped host failure", fmt.Errorf("sync: %w", HostRPC("messages", errors.New("eof"))), http.StatusBadGateway},
		{"plain error", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.want {
				t.Errorf("StatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestUpstreamUnavailable(t *testing.T) {
	appErr := UpstreamUnavailable("gemini", errors.New("dial tcp: connection refused"))
	if appErr.HTTPStatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", appErr.HTTPStatusCode, http.StatusBadGateway)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(appErr.ToJSON(), &parsed); err != nil {
		t.Fatalf("ToJSON() produced invalid JSON: %v", err)
	}
	if parsed["code"] != CodeUpstreamUnavailable {
		t.Errorf("code = %v, want %s", parsed["code"], CodeUpstreamUnavailable)
	}
	if got := fmt.Sprint(parsed["message"]); got != "upstream unavailable" {
		t.Errorf("message = %q, the dial error must not leak", got)
	}
}
