// Package snapshot decodes the persisted binary snapshot format used to
// seed the store at startup and shipped by a leader during a full resync.
//
// Only the string-value subset of the format is understood: a snapshot is
// a 9-byte ASCII header, a metadata section of skippable tagged fields, an
// optional database section of (expiry, key, value) entries and an
// end-of-file tag. Any non-string value type and any "special" size
// encoding is a fatal format error rather than something to guess at.
//
// Parsing is streaming and handler-driven:
//
//	err := snapshot.Parse(bytes.NewReader(data), handler)
//
// where the handler receives each decoded entry in file order. Later
// duplicates of a key overwrite earlier ones when applied to a store.
package snapshot
