// Package keys builds the backing-cache key shapes owned by the data
// source.
package keys

// Document returns the cache key for one document:
// "<prefix><collection>:<id>". The prefix distinguishes tenants or
// deployments sharing one backing store.
func Document(prefix, collection, id string) string {
	return prefix + collection + ":" + id
}
