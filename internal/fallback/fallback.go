// Package fallback maps a closed set of failure categories to safe,
// user-facing responses. It is the last line of defense: every
// unrecoverable internal failure leaves the system through this
// handler, and nothing it returns may contain internal error text.
package fallback

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type is one of the closed failure taxonomy values.
type Type string

const (
	SearchNoResults Type = "SEARCH_NO_RESULTS"
	ChatUnavailable Type = "CHAT_UNAVAILABLE"
	ContentNotFound Type = "CONTENT_NOT_FOUND"
	AIOverloaded    Type = "AI_OVERLOADED"
	GenericError    Type = "GENERIC_ERROR"
	NetworkError    Type = "NETWORK_ERROR"
	RateLimited     Type = "RATE_LIMITED"
	SessionExpired  Type = "SESSION_EXPIRED"
)

// Message is the fixed, pre-written user-facing portion of a fallback.
// None of its fields may ever be built from internal error text.
type Message struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Suggestion  string `json:"suggestion"`
	ActionLabel string `json:"action_label,omitempty"`
	ActionURL   string `json:"action_url,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

// Context carries per-call metadata. Only safe values belong here.
type Context struct {
	RequestID string            `json:"request_id"`
	Timestamp time.Time         `json:"timestamp"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Response is the uniform failure envelope returned to any caller.
type Response struct {
	Success  bool    `json:"success"`  // always false
	Fallback bool    `json:"fallback"` // always true
	Type     Type    `json:"type"`
	Message  Message `json:"message"`
	Context  Context `json:"context"`
}

// Options decorates a single fallback call. The original error is
// captured for internal logs only and never surfaced to the caller.
type Options struct {
	OriginalErr error
	Meta        map[string]string
}

// registry holds the fixed message catalog. Message selection is pure:
// two calls for the same type yield identical message content.
var registry = map[Type]Message{
	SearchNoResults: {
		Title:       "No results found",
		Description: "We could not find anything matching your search just now.",
		Suggestion:  "Try different keywords, or browse our latest stories instead.",
		ActionLabel: "Browse latest",
		ActionURL:   "/browse",
		Icon:        "search",
	},
	ChatUnavailable: {
		Title:       "Chat is taking a break",
		Description: "The assistant is temporarily unavailable while we catch up on demand.",
		Suggestion:  "Wait a moment and try again, or explore articles in the meantime.",
		ActionLabel: "Explore articles",
		ActionURL:   "/browse",
		Icon:        "chat",
	},
	ContentNotFound: {
		Title:       "Article not found",
		Description: "The page you were looking for has moved or no longer exists.",
		Suggestion:  "Check the address, or browse our sections to find what you need.",
		ActionLabel: "Go to homepage",
		ActionURL:   "/",
		Icon:        "document",
	},
	AIOverloaded: {
		Title:       "We're a little busy",
		Description: "Our writing assistants are handling more requests than usual right now.",
		Suggestion:  "Wait a minute and try again — things usually clear up quickly.",
		Icon:        "hourglass",
	},
	GenericError: {
		Title:       "Something went wrong",
		Description: "An unexpected problem stopped us from completing your request.",
		Suggestion:  "Refresh the page and try again in a moment.",
		ActionLabel: "Refresh",
		ActionURL:   "",
		Icon:        "alert",
	},
	NetworkError: {
		Title:       "Connection trouble",
		Description: "We had trouble reaching the service needed to finish your request.",
		Suggestion:  "Check your connection and try again shortly.",
		Icon:        "wifi-off",
	},
	RateLimited: {
		Title:       "Slow down a moment",
		Description: "You have made quite a few requests in a short period of time.",
		Suggestion:  "Wait a little before trying again so we can keep things fast for everyone.",
		Icon:        "timer",
	},
	SessionExpired: {
		Title:       "Session expired",
		Description: "You have been signed out after a period of inactivity, for your security.",
		Suggestion:  "Sign in again to pick up right where you left off.",
		ActionLabel: "Sign in",
		ActionURL:   "/login",
		Icon:        "lock",
	},
}

// HTTPStatus maps a fallback category to the HTTP status the envelope
// is served with.
func HTTPStatus(t Type) int {
	switch t {
	case SearchNoResults, ContentNotFound:
		return http.StatusNotFound
	case RateLimited:
		return http.StatusTooManyRequests
	case SessionExpired:
		return http.StatusUnauthorized
	case ChatUnavailable, AIOverloaded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsValidType reports whether candidate names a registered category.
// Never panics, regardless of input.
func IsValidType(candidate string) bool {
	_, ok := registry[Type(candidate)]
	return ok
}

// Types returns every registered category.
func Types() []Type {
	out := make([]Type, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	return out
}

// Handler produces fallback responses. Safe for concurrent use.
type Handler struct {
	mu     sync.Mutex
	lastTS time.Time        // monotonic per-handler timestamps
	now    func() time.Time // injectable clock for testing
	logf   func(format string, args ...any)
}

// NewHandler creates a fallback handler.
func NewHandler() *Handler {
	return &Handler{
		now:  time.Now,
		logf: log.Printf,
	}
}

// Message returns only the display portion for a category. Unknown
// input degrades to the generic category rather than failing — this
// handler must never be the thing that throws.
func (h *Handler) Message(t Type) Message {
	if msg, ok := registry[t]; ok {
		return msg
	}
	return registry[GenericError]
}

// Response assembles the full fallback envelope for a category.
// Message content is fixed per type; only the context is fresh.
func (h *Handler) Response(t Type, opts *Options) Response {
	typ := t
	if _, ok := registry[typ]; !ok {
		typ = GenericError
	}

	ctx := Context{
		RequestID: uuid.NewString(),
		Timestamp: h.tick(),
	}
	var origErr error
	if opts != nil {
		origErr = opts.OriginalErr
		if len(opts.Meta) > 0 {
			ctx.Meta = make(map[string]string, len(opts.Meta))
			for k, v := range opts.Meta {
				ctx.Meta[k] = v
			}
		}
	}

	// One structured event per call. The original error stays in the
	// server logs and never reaches the envelope.
	if origErr != nil {
		h.logf("fallback: type=%s request_id=%s original_err=%q", typ, ctx.RequestID, origErr.Error())
	} else {
		h.logf("fallback: type=%s request_id=%s", typ, ctx.RequestID)
	}

	return Response{
		Success:  false,
		Fallback: true,
		Type:     typ,
		Message:  registry[typ],
		Context:  ctx,
	}
}

// tick returns a strictly increasing timestamp even when the wall
// clock has not advanced between two calls.
func (h *Handler) tick() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	ts := h.now()
	if !ts.After(h.lastTS) {
		ts = h.lastTS.Add(time.Nanosecond)
	}
	h.lastTS = ts
	return ts
}
