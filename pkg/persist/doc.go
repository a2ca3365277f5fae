// Package persist binds flux nodes to a storage.Store.
//
// A persist.Registry hands out one node per key. The node starts with its
// initial value while the stored value loads in the background; once loaded,
// every settled change is written back through a throttle:
//
//	store, _ := storage.NewFileStore("/var/lib/myapp")
//	reg := persist.NewRegistry(store)
//	defer reg.Close(context.Background())
//
//	theme, err := persist.Stored(reg, "theme", "light", nil)
//	if err != nil {
//	    return err
//	}
//	<-reg.Loaded("theme")
//	theme.Set("dark") // saved about 100ms later
//
// Stored values that fail to decode or validate are ignored and the node
// keeps its initial value. Use Schema to validate against a JSON schema.
//
// Store failures never reach callers of Set. They are logged and reported to
// the Observer installed with WithObserver.
package persist
