package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"clearchat/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the database configured for dbType.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if dbCfg.DSN == ":memory:" {
			// every pooled connection would otherwise get its own empty database
			db.SetMaxOpenConns(1)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		params := dbCfg.Params
		if params == "" {
			params = "charset=utf8mb4&parseTime=true&loc=UTC"
		}
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				email TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token_id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				expires_at DATETIME NOT NULL,
				FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_user_tokens_user ON user_tokens(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_user_tokens_expiry ON user_tokens(expires_at)`,
			`CREATE TABLE IF NOT EXISTS private_chats (
				id TEXT PRIMARY KEY,
				participant_a TEXT NOT NULL,
				participant_b TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(participant_a) REFERENCES users(id),
				FOREIGN KEY(participant_b) REFERENCES users(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_private_chats_a ON private_chats(participant_a)`,
			`CREATE INDEX IF NOT EXISTS idx_private_chats_b ON private_chats(participant_b)`,
			`CREATE TABLE IF NOT EXISTS private_messages (
				id TEXT PRIMARY KEY,
				chat_id TEXT NOT NULL,
				sender_id TEXT NOT NULL,
				text TEXT NOT NULL,
				emotion TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				FOREIGN KEY(chat_id) REFERENCES private_chats(id),
				FOREIGN KEY(sender_id) REFERENCES users(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_private_messages_chat ON private_messages(chat_id, created_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id VARCHAR(36) NOT NULL,
				name VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL UNIQUE,
				password_hash VARCHAR(255) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS user_tokens (
				token_id VARCHAR(64) NOT NULL PRIMARY KEY,
				user_id VARCHAR(36) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				expires_at DATETIME(6) NOT NULL,
				INDEX idx_user_tokens_user (user_id),
				INDEX idx_user_tokens_expiry (expires_at),
				CONSTRAINT fk_user_tokens_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS private_chats (
				id VARCHAR(80) NOT NULL,
				participant_a VARCHAR(36) NOT NULL,
				participant_b VARCHAR(36) NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_private_chats_a (participant_a),
				INDEX idx_private_chats_b (participant_b),
				CONSTRAINT fk_private_chats_a FOREIGN KEY (participant_a) REFERENCES users(id),
				CONSTRAINT fk_private_chats_b FOREIGN KEY (participant_b) REFERENCES users(id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS private_messages (
				id VARCHAR(26) NOT NULL,
				chat_id VARCHAR(80) NOT NULL,
				sender_id VARCHAR(36) NOT NULL,
				text MEDIUMTEXT NOT NULL,
				emotion MEDIUMTEXT NOT NULL,
				created_at DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_private_messages_chat (chat_id, created_at),
				CONSTRAINT fk_private_messages_chat FOREIGN KEY (chat_id) REFERENCES private_chats(id),
				CONSTRAINT fk_private_messages_sender FOREIGN KEY (sender_id) REFERENCES users(id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// InsertIgnore returns the dialect-specific "insert if absent" verb.
func InsertIgnore(driver string) string {
	switch strings.ToLower(driver) {
	case "mysql":
		return "INSERT IGNORE"
	default:
		return "INSERT OR IGNORE"
	}
}
