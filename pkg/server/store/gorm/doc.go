// Package gorm provides GORM-based implementations of the store interfaces
// defined in the parent store package.
//
// Stores that create or delete users and projects re-attach the signals
// dispatcher to the request context, so the model hooks can notify the
// Gitea sync receivers.
package gorm
