// Package cache defines the contract every image-cache backend implements and
// the shared machinery that drives it. A Cache owns one Backend, the frozen
// backend settings and the expiration configuration; Cache.For binds a single
// Request (request path, resolved full path, querystring) and returns the
// per-request Contract used by the image pipeline:
//
//	IsNewOrUpdated -> (regenerate) -> AddToCache -> RewritePath / Open
//
// Fingerprints come from package fingerprint. Writes and trims for the same
// fingerprint are serialized through a refcounted keyed lock so a completed
// AddToCache is always observed by later lookups and never trimmed mid-write.
package cache
