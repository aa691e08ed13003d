package logger

import "log/slog"

// Error records a single error under the key "error". Nil returns an empty
// attr, which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// SubscriberID records the subscriber identifier.
func SubscriberID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("subscriber_id", id)
}

// SubscriptionID records the subscription identifier.
func SubscriptionID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("subscription_id", id)
}

// SessionID records the upgrade session identifier.
func SessionID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("session_id", id)
}

// Jurisdiction records the jurisdiction code.
func Jurisdiction(code string) slog.Attr {
	return slog.String("jurisdiction", code)
}

// Backend records the storage backend kind.
func Backend(b string) slog.Attr {
	return slog.String("backend", b)
}

// EventType records a provider event type.
func EventType(t string) slog.Attr {
	return slog.String("event_type", t)
}
