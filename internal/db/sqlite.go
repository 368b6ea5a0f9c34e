package db

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"github.com/personachat/broker/internal/models"
)

// Transcript outcomes. Mirrors the gateway's caller-facing result.
const (
	OutcomeOK       = "ok"
	OutcomeTimeout  = "timeout"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

const schema = `
CREATE TABLE IF NOT EXISTS exchanges (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    bot_name TEXT NOT NULL,
    user_name TEXT NOT NULL,
    prompt_chars INTEGER NOT NULL,
    response TEXT NOT NULL,
    outcome TEXT NOT NULL,
    latency_ms INTEGER NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS exchanges_created_at ON exchanges(created_at);`

type Database struct {
	db *sql.DB
}

func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// SaveExchange records one finished request. ID and CreatedAt are filled
// in from the inserted row.
func (db *Database) SaveExchange(ex *models.Exchange) error {
	query := `
        INSERT INTO exchanges (request_id, bot_name, user_name, prompt_chars, response, outcome, latency_ms, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
        RETURNING id, created_at`

	return db.db.QueryRow(query,
		ex.RequestID, ex.BotName, ex.UserName, ex.PromptChars,
		ex.Response, ex.Outcome, ex.LatencyMS,
	).Scan(&ex.ID, &ex.CreatedAt)
}

// RecentExchanges returns up to limit exchanges, newest first.
func (db *Database) RecentExchanges(limit int) ([]models.Exchange, error) {
	query := `
        SELECT id, request_id, bot_name, user_name, prompt_chars, response, outcome, latency_ms, created_at
        FROM exchanges
        ORDER BY id DESC
        LIMIT ?`

	rows, err := db.db.Query(query, limit)
	if err != nil {
		return []models.Exchange{}, err
	}
	defer rows.Close()

	exchanges := make([]models.Exchange, 0)
	for rows.Next() {
		var ex models.Exchange
		err := rows.Scan(&ex.ID, &ex.RequestID, &ex.BotName, &ex.UserName,
			&ex.PromptChars, &ex.Response, &ex.Outcome, &ex.LatencyMS, &ex.CreatedAt)
		if err != nil {
			return []models.Exchange{}, err
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, rows.Err()
}

func (db *Database) Close() error {
	return db.db.Close()
}
