package embed

import "sync/atomic"

// Keyring round-robins across a fixed set of API keys so a multi-key
// account spreads load (and rate limits) evenly instead of hammering key 0.
type Keyring struct {
	keys []string
	next atomic.Uint64
}

// NewKeyring builds a Keyring over keys. Panics if keys is empty, since
// every caller needs at least one key to make progress.
func NewKeyring(keys []string) *Keyring {
	if len(keys) == 0 {
		panic("embed: keyring requires at least one API key")
	}
	return &Keyring{keys: keys}
}

// Next returns the next key in round-robin order. Safe for concurrent use.
func (k *Keyring) Next() string {
	i := k.next.Add(1) - 1
	return k.keys[i%uint64(len(k.keys))]
}

// Len reports how many keys are configured.
func (k *Keyring) Len() int { return len(k.keys) }
