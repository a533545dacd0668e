package models

import "github.com/google/uuid"

// ensureID assigns a client-side id when the caller left it empty. Postgres
// would fill gen_random_uuid() on its own but SQLite has no equivalent default.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
