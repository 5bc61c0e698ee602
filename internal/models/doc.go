// Package models defines the fixed entity set of a writing project as it
// travels between the relational cache, the portable package, and the
// remote store.
//
// Every entity decodes permissively: fields the current schema does not
// know are kept in an Extras side map and written back out unchanged, so a
// newer client's data survives a round trip through an older one.
package models
