package store

import (
	"database/sql"
	"encoding/json"

	"github.com/echofix/echofix/internal/model"
)

// LogStep records an audit log row for a pipeline step on an insight.
func (db *DB) LogStep(insightID int64, level, message string, stepName *string, metadata map[string]any) error {
	var metaJSON *string
	if metadata != nil {
		data, err := json.Marshal(metadata)
		if err == nil {
			s := string(data)
			metaJSON = &s
		}
	}

	_, err := db.conn.Exec(
		"INSERT INTO execution_logs (insight_id, log_level, message, step_name, metadata) VALUES (?, ?, ?, ?, ?)",
		insightID, level, message, stepName, metaJSON,
	)
	return err
}

// LogsByInsight returns audit log rows for an insight, newest first.
func (db *DB) LogsByInsight(insightID int64, limit int) ([]model.ExecutionLog, error) {
	query := `SELECT id, insight_id, log_level, message, step_name, metadata, created_at
		FROM execution_logs WHERE insight_id = ? ORDER BY created_at DESC`
	args := []any{insightID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLogs(rows)
}

func scanLogs(rows *sql.Rows) ([]model.ExecutionLog, error) {
	var logs []model.ExecutionLog
	for rows.Next() {
		var l model.ExecutionLog
		var metaJSON, createdAt *string
		if err := rows.Scan(&l.ID, &l.InsightID, &l.Level, &l.Message, &l.StepName,
			&metaJSON, &createdAt); err != nil {
			return nil, err
		}
		if metaJSON != nil && *metaJSON != "" {
			var meta map[string]any
			if err := json.Unmarshal([]byte(*metaJSON), &meta); err == nil {
				l.Metadata = meta
			}
		}
		l.CreatedAt = parseTime(createdAt)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
