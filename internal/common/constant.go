// Package common contains shared constants and sentinel errors used across
// plotkeeper components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// PackageExtension is the file extension of a portable project package.
const PackageExtension = ".pkp"
