package cache

// Nop is a provider that caches nothing. Used when caching is disabled.
type Nop struct{}

func (Nop) Get(Key) (interface{}, bool) { return nil, false }
func (Nop) Add(Key, interface{})        {}
func (Nop) Delete(Key)                  {}
func (Nop) Flush()                      {}
