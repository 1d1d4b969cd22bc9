package store

// keySet is a bounded set of identity keys; the oldest key is evicted first.
type keySet struct {
	limit int
	keys  map[string]struct{}
	order []string
}

func newKeySet(limit int) *keySet {
	return &keySet{limit: limit, keys: make(map[string]struct{})}
}

func (k *keySet) Has(key string) bool {
	_, ok := k.keys[key]
	return ok
}

func (k *keySet) Add(key string) {
	if k.Has(key) {
		return
	}
	if k.limit > 0 && len(k.order) >= k.limit {
		oldest := k.order[0]
		k.order = k.order[1:]
		delete(k.keys, oldest)
	}
	k.keys[key] = struct{}{}
	k.order = append(k.order, key)
}

func (k *keySet) Remove(key string) {
	if !k.Has(key) {
		return
	}
	delete(k.keys, key)
	for i, v := range k.order {
		if v == key {
			k.order = append(k.order[:i], k.order[i+1:]...)
			break
		}
	}
}

func (k *keySet) Reset() {
	k.keys = make(map[string]struct{})
	k.order = nil
}
