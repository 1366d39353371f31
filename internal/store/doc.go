// Package store provides the bot's persistent storage using SQLite.
//
// # Transactions
//
// Every statement runs inside Store.Transaction. A transaction is a named
// savepoint on a single pinned connection, guarded by a reentrant lock:
//
//	err := st.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
//		_, err := tx.Exec(ctx, `INSERT OR IGNORE INTO karma (...) VALUES (?, ?, ?, ?, ?)`, ...)
//		return err
//	})
//
// Returning an error (or panicking) rolls back to the savepoint. Passing the
// callback's ctx to another Transaction nests a savepoint; passing any other
// context waits for the lock.
//
// # Tables
//
// Fragments declare the tables they own with RequireTable at setup time:
//
//	st.RequireTable(ctx, "karma", `giver INTEGER NOT NULL, ...`)
//
// Table names are quoted by the store. Values are always bound parameters.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrTxClosed: a Tx was used after its callback returned
//
// Driver errors are wrapped and returned; nothing is retried.
package store
