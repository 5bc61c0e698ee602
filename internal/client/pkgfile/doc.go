// Package pkgfile reads and writes the portable project package: a single
// zip container holding one project's manifest, chapters, world documents
// and the per-project entity lists.
//
// Writes replace the whole container atomically. Reads never fail on a
// missing or malformed entry; they report it as absent and let the caller
// decide what absence means.
package pkgfile
