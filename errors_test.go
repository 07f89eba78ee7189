package syssetting

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shaban/syssetting/bridge"
	"github.com/shaban/syssetting/internal/testutil"
)

func TestLoggingErrorHandler(t *testing.T) {
	rec := &testutil.ErrorRecorder{}
	var logged []error
	h := NewLoggingErrorHandler(rec, func(err error) { logged = append(logged, err) })

	h.HandleError(errors.New("first"))
	h.HandleError(errors.New("second"))

	if len(logged) != 2 || rec.Len() != 2 {
		t.Fatalf("expected both errors logged and forwarded, got %d/%d", len(logged), rec.Len())
	}

	// Either side may be nil.
	NewLoggingErrorHandler(nil, nil).HandleError(errors.New("dropped"))
}

func TestPanicErrorHandler(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		if msg, ok := r.(string); !ok || !strings.Contains(msg, "boom") {
			t.Errorf("unexpected panic value %v", r)
		}
	}()
	(&PanicErrorHandler{}).HandleError(errors.New("boom"))
}

func TestErrorMatching(t *testing.T) {
	cause := errors.New("bridge gone")

	rerr := &ReadError{Kind: bridge.KindWifi, Err: cause}
	if !errors.Is(rerr, cause) {
		t.Error("ReadError should unwrap to its cause")
	}
	if !strings.Contains(rerr.Error(), "wifi") {
		t.Errorf("ReadError should name the kind: %q", rerr.Error())
	}

	qerr := &PermissionQueryError{Err: cause}
	if !errors.Is(qerr, cause) || !errors.Is(qerr, ErrPermissionDenied) {
		t.Error("PermissionQueryError should match its cause and ErrPermissionDenied")
	}

	skipped := &PermissionDeniedError{Kind: bridge.KindBrightness}
	refused := &PermissionDeniedError{Kind: bridge.KindBrightness, Attempted: true}
	if !errors.Is(skipped, ErrPermissionDenied) || !errors.Is(refused, ErrPermissionDenied) {
		t.Error("PermissionDeniedError should match ErrPermissionDenied")
	}
	if skipped.Error() == refused.Error() {
		t.Error("skipped and refused writes should read differently")
	}
	rejected := &PermissionDeniedError{Kind: bridge.KindBrightness, Attempted: true, Err: cause}
	if !errors.Is(rejected, cause) || !errors.Is(rejected, ErrPermissionDenied) {
		t.Error("a denial with a cause should match both the cause and ErrPermissionDenied")
	}
	if !strings.Contains(rejected.Error(), cause.Error()) {
		t.Errorf("denial should name its cause: %q", rejected.Error())
	}
	if err := skipped.Grant(context.Background()); err == nil {
		t.Error("Grant without a flow should fail")
	}

	var target *PermissionDeniedError
	wrapped := errors.Join(errors.New("other"), refused)
	if !errors.As(wrapped, &target) || !target.Attempted {
		t.Error("errors.As should find the denial in a joined error")
	}
}
