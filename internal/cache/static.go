package cache

// Content hashes of embedded static assets, keyed by file name. Pages use
// them to version asset URLs.
var staticCache = NewCache[string, string]()

func GetStaticHash(name string) (string, bool) {
	return staticCache.Get(name)
}

func SetStaticHash(name, hash string) {
	staticCache.Set(name, hash)
}
