// Package builtins provides the fragments every familiar instance loads.
//
// # Fragments
//
// settings (server admins and the owner):
//
//   - settings: list every registered setting
//   - settings here <name>: show a setting's rows for this server
//   - settings set <name/args> [value]: store a value; args are
//     channel, channel=<id> or server
//
// help:
//
//   - help [command]: list commands the caller may run, or describe one
//
// admin:
//
//   - tdump <table>, tables: owner-only database inspection
//   - delete <ids...>, chatlog [channel]: owner-only moderation and export
//   - whois <id>, hello, ids: lookups and liveness
//
// karma: reactions award points to a message's author while enable_karma
// is on. 🔺 is an upvote; any other emoji counts once more per giver.
//
//   - karma [user], ktop
//
// pin: a message reaching pin_threshold ⭐ reactions is copied to the
// pin_channel board once.
//
// linker:
//
//   - course <code...>: handbook links
//
// activity: a task rotating the bot's status line.
//
// # Loading
//
//	frags, err := builtins.Load(ctx, deps, builtins.Options{})
//	for _, f := range frags {
//		f.Attach(router)
//	}
package builtins
