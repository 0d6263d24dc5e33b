// Package content owns the tree of pages the server renders.
//
// A [Snapshot] is one immutable tree plus where it came from. The [Manager]
// keeps the active snapshot behind an atomic pointer so every request reads
// a consistent tree while a new one is swapped in.
//
// Trees come either from a directory on disk, read live, or from tar.gz
// bundles in S3. For bundles the [Loader] reads the wanted hash from an SSM
// parameter, downloads and hash-checks the archive, optionally checks a KMS
// signature over it, and unpacks it into memory with size and path limits.
// The [Watcher] polls SSM and swaps in new bundles once they validate.
package content
