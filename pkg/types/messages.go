package types

// Server -> Client (websocket, /ws?channel=<table>)
// ChangeEvent:
//   type: "ChangeEvent"
//   event:
//     type: "INSERT" | "UPDATE" | "DELETE"
//     seq: number              // monotonically increasing per channel
//     new: Loan                // row after the change (insert/update)
//     old: Loan                // row before the change (delete)
//     profile: Profile         // profiles channel only
//
// Error:
//   type: "Error"
//   error: string

// HTTP surface
// GET  /loans/open
//   -> { feed_seq: number, loans: Loan[] }
//   feed_seq is read before the query: an event published while the
//   query runs arrives with a higher seq and is re-applied on top of
//   the snapshot, never discarded against it.
//
// POST /loans { boardgame_id, user_id, due_date? }
//   -> 201 Loan | 409 (already on loan) | 400 (validation)
//
// POST /loans/{id}/return
//   -> 200 Loan | 404 (no open loan with that id)
//
// DELETE /loans/{id} -> 204 | 404
// GET    /profiles/{id} -> 200 Profile | 404
// PATCH  /profiles/{id}/background { background_url } -> 200 Profile
