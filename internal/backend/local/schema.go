package local

import "database/sql"

// schema sets up every table on startup. Uniqueness targets mirror the
// hosted backend: one pending invitation per ordered pair, one contact edge
// per direction, one participant row per (account, user).
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL,
    reference TEXT NOT NULL UNIQUE,
    full_name TEXT,
    birth_date TEXT,
    gender TEXT,
    gender_other TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_credentials (
    user_id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    contact_user_id TEXT NOT NULL,
    added_at TEXT NOT NULL,
    UNIQUE (user_id, contact_user_id)
);

CREATE TABLE IF NOT EXISTS contact_invitations (
    id TEXT PRIMARY KEY,
    from_user_id TEXT NOT NULL,
    to_user_id TEXT NOT NULL,
    status TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    UNIQUE (from_user_id, to_user_id)
);

CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    total_amount REAL NOT NULL,
    created_by TEXT NOT NULL,
    created_at TEXT NOT NULL,
    split_method TEXT NOT NULL,
    status TEXT
);

CREATE TABLE IF NOT EXISTS account_participants (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    amount_owed REAL NOT NULL,
    has_paid INTEGER NOT NULL DEFAULT 0,
    payment_proof_url TEXT,
    UNIQUE (account_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_contacts_user_id ON contacts(user_id);
CREATE INDEX IF NOT EXISTS idx_invitations_from ON contact_invitations(from_user_id);
CREATE INDEX IF NOT EXISTS idx_invitations_to ON contact_invitations(to_user_id);
CREATE INDEX IF NOT EXISTS idx_accounts_created_by ON accounts(created_by);
CREATE INDEX IF NOT EXISTS idx_participants_account ON account_participants(account_id);
CREATE INDEX IF NOT EXISTS idx_participants_user ON account_participants(user_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// boolColumns lists INTEGER columns that round-trip as booleans.
var boolColumns = map[string]bool{
	"has_paid": true,
}

// timeColumns lists the per-table timestamp columns filled in on insert when
// the caller leaves them unset.
var timeColumns = map[string][]string{
	"users":               {"created_at"},
	"user_credentials":    {"created_at"},
	"contacts":            {"added_at"},
	"contact_invitations": {"created_at", "updated_at"},
	"accounts":            {"created_at"},
}

// embedTargets maps foreign-key columns to the table an embedded sub-select
// resolves against. Every embed the client uses points at a user profile.
var embedTargets = map[string]string{
	"user_id":         "users",
	"contact_user_id": "users",
	"from_user_id":    "users",
	"to_user_id":      "users",
	"created_by":      "users",
}
