// Package authenticator defines the interface for gateway authenticators.
//
// A request carries exactly one credential in its Authorization header.
// The scheme picks the authenticator:
//
//	Authorization: Api-Key stx_...   -> authn (API key)
//	Authorization: Bearer eyJ...     -> token (HS256 access token)
//
// # Authenticator Interface
//
//	type Authenticator interface {
//	    Name() string
//	    Scheme() string
//	    Authenticate(ctx context.Context, input Input) (*identity.Identity, error)
//	}
//
// # Built-in Authenticators
//
//   - authn: API keys hashed with SHA-256 in the api_keys table
//   - token: short lived access tokens minted from an API key
package authenticator
