package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"barter-service/internal/logger"
)

// NotifyChannel is the LISTEN/NOTIFY channel the row triggers publish to.
const NotifyChannel = "barter_changes"

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
            id INT PRIMARY KEY,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS items (
            id SERIAL PRIMARY KEY,
            owner_id INT NOT NULL REFERENCES users(id),
            title TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'active'
                CHECK (status IN ('active', 'proposed', 'bartered', 'removed')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE TABLE IF NOT EXISTS proposals (
            id SERIAL PRIMARY KEY,
            item_id INT NOT NULL REFERENCES items(id),
            proposer_id INT NOT NULL REFERENCES users(id),
            proposed_item_description TEXT NOT NULL,
            message TEXT,
            status TEXT NOT NULL DEFAULT 'pending'
                CHECK (status IN ('pending', 'accepted', 'rejected', 'cancelled', 'completed')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE UNIQUE INDEX IF NOT EXISTS proposals_one_pending_per_proposer
            ON proposals (item_id, proposer_id) WHERE status = 'pending';`,
		`CREATE UNIQUE INDEX IF NOT EXISTS proposals_one_accepted_per_item
            ON proposals (item_id) WHERE status IN ('accepted', 'completed');`,
		`CREATE INDEX IF NOT EXISTS proposals_proposer_idx ON proposals (proposer_id);`,
		`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            sender_id INT NOT NULL REFERENCES users(id),
            receiver_id INT NOT NULL REFERENCES users(id),
            content TEXT NOT NULL,
            type TEXT NOT NULL DEFAULT 'text' CHECK (type IN ('text', 'image')),
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            read_at TIMESTAMPTZ,
            deleted_at TIMESTAMPTZ,
            CHECK (sender_id <> receiver_id),
            CHECK (read_at IS NULL OR read_at >= created_at)
        );`,
		`CREATE INDEX IF NOT EXISTS messages_pair_idx
            ON messages (LEAST(sender_id, receiver_id), GREATEST(sender_id, receiver_id), created_at, id);`,
		`CREATE INDEX IF NOT EXISTS messages_unread_idx
            ON messages (receiver_id) WHERE read_at IS NULL AND deleted_at IS NULL;`,
		`CREATE OR REPLACE FUNCTION notify_barter_change() RETURNS trigger AS $$
        BEGIN
            PERFORM pg_notify('` + NotifyChannel + `',
                json_build_object('table', TG_TABLE_NAME, 'op', TG_OP, 'id', NEW.id)::text);
            RETURN NEW;
        END;
        $$ LANGUAGE plpgsql;`,
		`DROP TRIGGER IF EXISTS proposals_notify ON proposals;`,
		`CREATE TRIGGER proposals_notify AFTER INSERT OR UPDATE ON proposals
            FOR EACH ROW EXECUTE FUNCTION notify_barter_change();`,
		`DROP TRIGGER IF EXISTS messages_notify ON messages;`,
		`CREATE TRIGGER messages_notify AFTER INSERT OR UPDATE ON messages
            FOR EACH ROW EXECUTE FUNCTION notify_barter_change();`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	logger.Info("database migrations applied")
	return nil
}
