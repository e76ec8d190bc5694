package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMatchesByCode(t *testing.T) {
	base := New(CodeNotFound, "record not found")
	wrapped := fmt.Errorf("load user: %w", base)

	if !stderrors.Is(wrapped, New(CodeNotFound, "different message")) {
		t.Fatal("expected errors with same code to match")
	}
	if stderrors.Is(wrapped, New(CodeInternal, "record not found")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeInternal, "append update", cause)

	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	if err.Error() != "append update" {
		t.Fatalf("error message = %q, want %q", err.Error(), "append update")
	}
}

func TestCodeOfWalksChain(t *testing.T) {
	base := New(CodeUpdateEmptyAuthor, "author is required")
	wrapped := fmt.Errorf("validate: %w", fmt.Errorf("intake: %w", base))

	if got := CodeOf(wrapped); got != CodeUpdateEmptyAuthor {
		t.Fatalf("CodeOf = %q, want %q", got, CodeUpdateEmptyAuthor)
	}
	if got := CodeOf(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("CodeOf plain error = %q, want %q", got, CodeUnknown)
	}
	if got := CodeOf(nil); got != CodeUnknown {
		t.Fatalf("CodeOf nil = %q, want %q", got, CodeUnknown)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	if got := CodeNotFound.HTTPStatus(); got != http.StatusNotFound {
		t.Fatalf("not found status = %d, want %d", got, http.StatusNotFound)
	}
	if got := CodeInvalidRequest.HTTPStatus(); got != http.StatusBadRequest {
		t.Fatalf("invalid request status = %d, want %d", got, http.StatusBadRequest)
	}
	if got := CodeUnknown.HTTPStatus(); got != http.StatusInternalServerError {
		t.Fatalf("unknown status = %d, want %d", got, http.StatusInternalServerError)
	}
}
