package snapshot

import (
	"bytes"
	"time"

	"github.com/raniellyferreira/redis-inmemory-server/storage"
)

// storeHandler applies decoded entries to a storage backend
type storeHandler struct {
	storage storage.Storage
}

func (h *storeHandler) OnKey(key, value []byte, expiry *time.Time) error {
	return h.storage.Set(string(key), value, expiry)
}

func (h *storeHandler) OnAux(key, value []byte) error {
	// Auxiliary metadata carries nothing the store needs.
	return nil
}

func (h *storeHandler) OnEnd() error {
	return nil
}

// Load decodes snapshot bytes into a store. Entries are applied in file
// order, so a later duplicate of a key overwrites the earlier value.
//
// On a format error the store may hold a partial prefix of the file; the
// caller decides whether to flush it.
func Load(data []byte, st storage.Storage) error {
	return Parse(bytes.NewReader(data), &storeHandler{storage: st})
}
