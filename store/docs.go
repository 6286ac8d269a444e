/*
store is a package for persisting an account's token slots encrypted at rest.

A Store maps (account, slot) to an opaque string. Encrypted is the Store
implementation: it seals every value with a Keyring before handing it to a
Backend (Memory, File or Redis). A Keyring can be configured to require user
presence; while it is locked Get and Put return ErrLocked so callers can ask
the user to unlock instead of treating the slot as empty.

	k, _ := store.NewKeyring(key, store.WithUserPresence(0))
	s, _ := store.New(store.Settings{Dir: "/var/lib/myapp/tokens"}, k)
	k.Unlock()
	_ = s.Put(ctx, "alice", "access.my-client", "token")
*/
package store
