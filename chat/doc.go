// Package chat maintains the bot's presence on the announce channel.
//
// It provides one entrypoint:
//   - Session.Run: supervises a single IRC connection — TCP/TLS dial,
//     NICK/PASS registration, optional NickServ identification, channel join,
//     PING/PONG keepalive — and reconnects with bounded exponential backoff
//     when the connection drops. A connection that stays joined past the
//     stability window resets the backoff to its initial delay.
//
// Announcements go out through Session.Send, which only succeeds while the
// session is joined and never buffers: the announce loop keeps unsent items
// pending and retries them on a later cycle, so delivery order and the dedupe
// ledger stay consistent.
package chat
