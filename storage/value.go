package storage

import "time"

// Value represents a stored byte-string value with an optional absolute
// expiry instant. A nil Expiry means the value never expires.
type Value struct {
	Data   []byte
	Expiry *time.Time
}

// IsExpired returns true if the value has expired.
//
// A value whose expiry equals the current instant is not yet expired; the
// current time must strictly exceed the expiry.
func (v *Value) IsExpired() bool {
	return v.Expiry != nil && time.Now().After(*v.Expiry)
}
