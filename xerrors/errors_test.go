package xerrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"google.golang.org/grpc/codes"
)

var errSentinel = errors.New("sentinel")

func TestProtocolMapping(t *testing.T) {
	tests := []struct {
		err      *Error
		wantHTTP int
		wantGRPC codes.Code
	}{
		{InvalidArg(CodeInvalidMessage, "bad", nil), http.StatusBadRequest, codes.InvalidArgument},
		{NotFound(CodeMissingHandler, "missing", nil), http.StatusNotFound, codes.NotFound},
		{FailedPrecondition(CodeNoTransaction, "no tx", nil), http.StatusPreconditionFailed, codes.FailedPrecondition},
		{Config(CodeRegistrySealed, "sealed", nil), http.StatusInternalServerError, codes.Unimplemented},
		{Programming(CodeUnbalancedTransaction, "unbalanced", nil), http.StatusInternalServerError, codes.Internal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Type.String(), func(t *testing.T) {
			if got := tt.err.HTTPStatus(); got != tt.wantHTTP {
				t.Errorf("HTTPStatus = %d, want %d", got, tt.wantHTTP)
			}
			if got := tt.err.GRPCCode(); got != tt.wantGRPC {
				t.Errorf("GRPCCode = %v, want %v", got, tt.wantGRPC)
			}
			if got := tt.err.ToGRPCStatus().Code(); got != tt.wantGRPC {
				t.Errorf("status code = %v", got)
			}
		})
	}
}

func TestErrorChain(t *testing.T) {
	base := FailedPrecondition(CodeNoTransaction, "no transaction in progress", errSentinel).
		WithContext("event", "user.created")
	wrapped := fmt.Errorf("emit: %w", base)

	if !errors.Is(wrapped, errSentinel) {
		t.Error("sentinel lost in chain")
	}
	if !IsType(wrapped, ErrFailedPrecondition) || IsType(wrapped, ErrInternal) {
		t.Error("IsType mismatch")
	}
	xe, ok := FromError(wrapped)
	if !ok || xe.Code != CodeNoTransaction || xe.Context["event"] != "user.created" {
		t.Errorf("FromError = %+v", xe)
	}
	if len(xe.Stack) == 0 {
		t.Error("stack not captured")
	}
	if !strings.Contains(xe.Error(), "sentinel") {
		t.Errorf("message = %q", xe.Error())
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, ErrInternal, "x") != nil {
		t.Error("Wrap(nil) should be nil")
	}

	inner := NotFound(CodeMissingHandler, "missing", nil)
	outer := Wrap(inner, ErrInternal, "dispatch failed")
	if outer.Type != ErrNotFound || outer.Code != CodeMissingHandler {
		t.Errorf("wrap lost classification: %+v", outer)
	}

	plain := WrapInternal(errSentinel, "boom")
	if plain.Type != ErrInternal || !errors.Is(plain, errSentinel) {
		t.Errorf("WrapInternal = %+v", plain)
	}
	if _, ok := FromError(errSentinel); ok {
		t.Error("FromError matched a plain error")
	}
}
