// Package fingerprint derives cache keys for processed images. A Prober reads a
// cheap freshness signal (timestamp + length) for a local file or a remote
// resource, and Generate hashes that signal together with the resolved source
// path into "<sha1>.<ext>". Both halves are deterministic; only the probe does
// I/O, and probe failures collapse into the empty signal instead of errors.
package fingerprint
