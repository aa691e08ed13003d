// Package jurisdiction resolves phone numbers to the legal region governing a
// subscriber: its ISO currency, calling code and backing store.
//
// Resolution is a pure prefix match over the supported calling codes with an
// operator-controlled override list taking precedence. It never errors:
// unrecognized prefixes resolve to the configured default jurisdiction and
// log a warning. Every store access in the billing core is preceded by a
// Resolve call so records always land in the correct backend.
//
//	resolver, err := jurisdiction.NewResolver(cfg, log)
//	j := resolver.Resolve("+351911111111") // PT, EUR, relational backend
package jurisdiction
