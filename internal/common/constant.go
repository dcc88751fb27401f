// Package common contains shared constants and sentinel errors used across
// FlowGuard components.
package common

// AuthorizationHeaderName is the HTTP header that carries the bearer token
// on authenticated requests.
const AuthorizationHeaderName = "Authorization"

// BearerPrefix is the expected prefix of the Authorization header value.
const BearerPrefix = "Bearer "
