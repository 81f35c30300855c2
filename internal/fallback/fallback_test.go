package fallback

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"testing"
	"time"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	h := NewHandler()
	h.logf = func(format string, args ...any) {} // silence logs in tests
	return h
}

// ─── Taxonomy Guarantees ────────────────────────────────────────────────────

var jargon = regexp.MustCompile(`(?i)exception|stack trace|SQL|ECONNREFUSED|HTTP [0-9]{3}`)

func TestRegistry_MessageQuality(t *testing.T) {
	verbs := []string{"try", "check", "refresh", "browse", "sign", "wait", "explore"}

	for _, typ := range Types() {
		msg := registry[typ]
		if msg.Title == "" {
			t.Errorf("%s: empty title", typ)
		}
		if len(msg.Description) <= 20 {
			t.Errorf("%s: description too short (%d chars)", typ, len(msg.Description))
		}
		lower := strings.ToLower(msg.Suggestion)
		hasVerb := false
		for _, v := range verbs {
			if strings.Contains(lower, v) {
				hasVerb = true
				break
			}
		}
		if !hasVerb {
			t.Errorf("%s: suggestion %q has no actionable verb", typ, msg.Suggestion)
		}
		for _, field := range []string{msg.Title, msg.Description, msg.Suggestion, msg.ActionLabel} {
			if jargon.MatchString(field) {
				t.Errorf("%s: user-visible field contains technical jargon: %q", typ, field)
			}
		}
	}
}

func TestRegistry_CoversFullTaxonomy(t *testing.T) {
	want := []Type{
		SearchNoResults, ChatUnavailable, ContentNotFound, AIOverloaded,
		GenericError, NetworkError, RateLimited, SessionExpired,
	}
	for _, typ := range want {
		if !IsValidType(string(typ)) {
			t.Errorf("IsValidType(%q) = false, want true", typ)
		}
	}
	if len(Types()) != len(want) {
		t.Errorf("registry has %d types, want %d", len(Types()), len(want))
	}
}

// ─── Purity ─────────────────────────────────────────────────────────────────

func TestResponse_PureMessageFreshContext(t *testing.T) {
	h := newTestHandler(t)

	a := h.Response(AIOverloaded, nil)
	b := h.Response(AIOverloaded, nil)

	if a.Message != b.Message {
		t.Errorf("message differs across calls: %+v vs %+v", a.Message, b.Message)
	}
	if a.Context.RequestID == b.Context.RequestID {
		t.Errorf("request ids should be distinct, both %q", a.Context.RequestID)
	}
	if !b.Context.Timestamp.After(a.Context.Timestamp) {
		t.Errorf("timestamps not monotonic: %v then %v", a.Context.Timestamp, b.Context.Timestamp)
	}
}

func TestResponse_MonotonicUnderFrozenClock(t *testing.T) {
	h := newTestHandler(t)
	frozen := time.Now()
	h.now = func() time.Time { return frozen }

	a := h.Response(GenericError, nil)
	b := h.Response(GenericError, nil)
	if !b.Context.Timestamp.After(a.Context.Timestamp) {
		t.Error("timestamps must remain strictly increasing with a frozen clock")
	}
}

// ─── Unknown-Type Safety ────────────────────────────────────────────────────

func TestIsValidType_Unknown(t *testing.T) {
	tests := []string{"not-a-real-type", "", "generic_error", "AI-OVERLOADED"}
	for _, candidate := range tests {
		if IsValidType(candidate) {
			t.Errorf("IsValidType(%q) = true, want false", candidate)
		}
	}
}

func TestMessage_UnknownDegradesToGeneric(t *testing.T) {
	h := newTestHandler(t)
	msg := h.Message(Type("not-a-real-type"))
	if msg != registry[GenericError] {
		t.Errorf("unknown type message = %+v, want generic", msg)
	}
	if msg.Title == "" || msg.Description == "" {
		t.Error("degraded message must still be well-formed")
	}
}

func TestResponse_UnknownDegradesToGeneric(t *testing.T) {
	h := newTestHandler(t)
	resp := h.Response(Type("kaboom"), &Options{OriginalErr: errors.New("db: connection refused")})
	if resp.Type != GenericError {
		t.Errorf("type = %s, want GENERIC_ERROR", resp.Type)
	}
	if resp.Success || !resp.Fallback {
		t.Errorf("envelope flags wrong: success=%v fallback=%v", resp.Success, resp.Fallback)
	}
	// Original error must never leak into the envelope.
	if strings.Contains(resp.Message.Description, "connection refused") {
		t.Error("internal error text leaked into user-facing message")
	}
}

// ─── HTTP Status Mapping ────────────────────────────────────────────────────

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		typ  Type
		want int
	}{
		{ContentNotFound, http.StatusNotFound},
		{SearchNoResults, http.StatusNotFound},
		{RateLimited, http.StatusTooManyRequests},
		{SessionExpired, http.StatusUnauthorized},
		{AIOverloaded, http.StatusServiceUnavailable},
		{ChatUnavailable, http.StatusServiceUnavailable},
		{GenericError, http.StatusInternalServerError},
		{NetworkError, http.StatusInternalServerError},
		{Type("bogus"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := HTTPStatus(tt.typ); got != tt.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tt.typ, got, tt.want)
		}
	}
}

// ─── Meta Handling ──────────────────────────────────────────────────────────

func TestResponse_CopiesMeta(t *testing.T) {
	h := newTestHandler(t)
	meta := map[string]string{"endpoint": "/api/search"}
	resp := h.Response(SearchNoResults, &Options{Meta: meta})

	meta["endpoint"] = "mutated"
	if resp.Context.Meta["endpoint"] != "/api/search" {
		t.Error("response must copy meta, not alias the caller's map")
	}
}
