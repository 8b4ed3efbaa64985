// Package identity carries the authenticated caller of a request.
//
// The auth middleware builds an Identity after an API key or access token
// has been verified and stores it on the request context. Handlers read it
// back with Get:
//
//	id, ok := identity.Get(r.Context())
//	if !ok {
//	    // unauthenticated
//	}
//
// Owner checks on jobs and projects compare Identity.UserID with the
// owning user of the record.
package identity
