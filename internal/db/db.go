package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect initializes the database connection and runs migrations.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
            id SERIAL PRIMARY KEY,
            kind TEXT NOT NULL CHECK (kind IN ('direct', 'group')),
            user1_id INT,
            user2_id INT,
            group_id INT,
            last_message_content TEXT,
            last_message_sender_id INT,
            last_message_at TIMESTAMPTZ,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            CHECK (
                (kind = 'direct' AND user1_id IS NOT NULL AND user2_id IS NOT NULL AND group_id IS NULL)
                OR
                (kind = 'group' AND group_id IS NOT NULL AND user1_id IS NULL AND user2_id IS NULL)
            )
        );`,
		// Canonicalized with LEAST/GREATEST so either argument order maps to
		// the same key; the loser of a concurrent create hits this index.
		`CREATE UNIQUE INDEX IF NOT EXISTS conversations_direct_pair_idx
            ON conversations (LEAST(user1_id, user2_id), GREATEST(user1_id, user2_id))
            WHERE kind = 'direct';`,
		`CREATE UNIQUE INDEX IF NOT EXISTS conversations_group_idx
            ON conversations (group_id)
            WHERE kind = 'group';`,
		`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            conversation_id INT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id INT NOT NULL,
            content TEXT NOT NULL DEFAULT '',
            message_type TEXT NOT NULL DEFAULT 'text' CHECK (message_type IN ('text', 'image', 'file', 'audio', 'video')),
            file_url TEXT,
            file_name TEXT,
            file_size BIGINT,
            status TEXT NOT NULL DEFAULT 'sent' CHECK (status IN ('sent', 'delivered', 'read')),
            reply_to_id INT REFERENCES messages(id) ON DELETE SET NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
        );`,
		`CREATE INDEX IF NOT EXISTS messages_conversation_order_idx
            ON messages (conversation_id, created_at DESC, id DESC);`,
		`CREATE TABLE IF NOT EXISTS message_reads (
            message_id INT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            read_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
            PRIMARY KEY(message_id, user_id)
        );`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	log.Println("database migrations applied")
	return nil
}
