package db

const (
	GetAppliedMigrations = `SELECT version FROM schema_migrations`

	InsertPrinter = `
		INSERT INTO printers (name, device_uri, stopped) VALUES (?, ?, ?)
	`

	GetPrinterByName = `
		SELECT id, name, device_uri, stopped, created_at, updated_at
		FROM printers WHERE name = ?
	`

	ListPrinters = `
		SELECT id, name, device_uri, stopped, created_at, updated_at
		FROM printers ORDER BY name ASC
	`

	UpdatePrinterStopped = `
		UPDATE printers SET stopped = ?, updated_at = CURRENT_TIMESTAMP WHERE name = ?
	`

	DeletePrinter = `DELETE FROM printers WHERE name = ?`

	InsertJobRecord = `
		INSERT INTO job_history (
			printer, job_id, name, username, format, state, state_reasons, message,
			copies, copies_completed, impressions, impressions_completed,
			created_at, processing_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	selectJobRecords = `
		SELECT id, printer, job_id, name, username, format, state, state_reasons, message,
			copies, copies_completed, impressions, impressions_completed,
			created_at, processing_at, completed_at, recorded_at
		FROM job_history
	`

	GetJobRecord = selectJobRecords + ` WHERE printer = ? AND job_id = ? ORDER BY id DESC LIMIT 1`

	PruneJobRecords = `DELETE FROM job_history WHERE completed_at IS NOT NULL AND completed_at < ?`

	IncrementDailyCounter = `
		INSERT INTO print_counters (printer, date, count) VALUES (?, ?, ?)
		ON CONFLICT(printer, date) DO UPDATE SET count = count + excluded.count
	`

	GetCounters = `
		SELECT id, printer, date, count FROM print_counters
		WHERE printer = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`

	InsertWebhook = `
		INSERT INTO webhooks (name, url, secret, events_json, enabled) VALUES (?, ?, ?, ?, ?)
	`

	GetWebhookByID = `
		SELECT id, name, url, secret, events_json, enabled, created_at FROM webhooks WHERE id = ?
	`

	ListWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at FROM webhooks ORDER BY id ASC
	`

	ListEnabledWebhooks = `
		SELECT id, name, url, secret, events_json, enabled, created_at FROM webhooks WHERE enabled = 1 ORDER BY id ASC
	`

	UpdateWebhook = `
		UPDATE webhooks SET name = ?, url = ?, secret = ?, events_json = ?, enabled = ? WHERE id = ?
	`

	DeleteWebhook = `DELETE FROM webhooks WHERE id = ?`

	GetSetting = `SELECT value, encrypted, updated_at FROM settings WHERE key = ?`

	SetSetting = `
		INSERT INTO settings (key, value, encrypted, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, encrypted = excluded.encrypted, updated_at = CURRENT_TIMESTAMP
	`

	DeleteSetting = `DELETE FROM settings WHERE key = ?`

	InsertAuditLog = `
		INSERT INTO audit_log (action, entity_type, entity_id, details_json, ip_address) VALUES (?, ?, ?, ?, ?)
	`

	selectAuditLogs = `
		SELECT id, action, entity_type, entity_id, details_json, ip_address, created_at FROM audit_log
	`
)
