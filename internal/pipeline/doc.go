// Package pipeline drives the cache contract for each image request.
//
// A request is resolved into a cache.Request, checked with IsNewOrUpdated,
// regenerated from its source when stale (one regeneration per fingerprint at
// a time), stored with AddToCache and finally served from the location that
// RewritePath reports. Backend failures never fail the request: the freshly
// regenerated bytes are served uncached instead.
package pipeline
