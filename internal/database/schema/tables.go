// Package schema holds the SQL table definitions campaignctl's migrate
// command applies, grounded on the teacher's internal/database/schema
// package (one flat []string of idempotent CREATE TABLE statements, no
// REFERENCES or CHECK constraints per that package's own convention).
package schema

// TableDefinitions contains every CREATE TABLE statement campaignctl needs.
var TableDefinitions = []string{
	`CREATE TABLE IF NOT EXISTS campaign_events (
		id VARCHAR(64) PRIMARY KEY,
		sender_email VARCHAR(255) NOT NULL,
		org_name VARCHAR(255) NOT NULL,
		city VARCHAR(255) NOT NULL,
		venue VARCHAR(255) NOT NULL,
		date2 VARCHAR(64) NOT NULL,
		month VARCHAR(64) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS contacts (
		id VARCHAR(64) PRIMARY KEY,
		event_id VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		prefix VARCHAR(32),
		email VARCHAR(512) NOT NULL,
		cc_store TEXT NOT NULL DEFAULT '',
		stage VARCHAR(64) NOT NULL DEFAULT 'initial',
		status VARCHAR(64) NOT NULL DEFAULT '',
		last_message_type VARCHAR(64),
		last_triggered_at TIMESTAMPTZ,
		last_sent_body TEXT,
		last_sent_at TIMESTAMPTZ,
		last_reply_body TEXT,
		last_reply_at TIMESTAMPTZ,
		campaign_paused BOOLEAN NOT NULL DEFAULT FALSE,
		email_bounced BOOLEAN NOT NULL DEFAULT FALSE,
		flow_type VARCHAR(32),
		attachment_data BYTEA,
		attachment_filename VARCHAR(255),
		attachment_mime_type VARCHAR(128),
		forms_link TEXT,
		payment_link TEXT,
		invoice_number VARCHAR(128),
		assigned_to VARCHAR(255),
		email_error TEXT,
		last_error_at TIMESTAMPTZ,
		trigger TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_contacts_email ON contacts (LOWER(email))`,
	`CREATE INDEX IF NOT EXISTS idx_contacts_event_id ON contacts (event_id)`,

	`CREATE TABLE IF NOT EXISTS email_queue (
		id VARCHAR(64) PRIMARY KEY,
		contact_id VARCHAR(64) NOT NULL,
		event_id VARCHAR(64) NOT NULL,
		sender_email VARCHAR(255) NOT NULL,
		recipient_email VARCHAR(512) NOT NULL,
		cc_recipients TEXT NOT NULL DEFAULT '',
		subject TEXT NOT NULL,
		message TEXT NOT NULL,
		last_message_type VARCHAR(64) NOT NULL,
		status VARCHAR(32) NOT NULL DEFAULT 'pending',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		due_at TIMESTAMPTZ NOT NULL,
		scheduled_at TIMESTAMPTZ NOT NULL,
		sent_at TIMESTAMPTZ,
		attachment_data BYTEA,
		attachment_filename VARCHAR(255),
		attachment_mime_type VARCHAR(128),
		conversation_id VARCHAR(255),
		message_id VARCHAR(255),
		in_reply_to VARCHAR(255),
		error_message TEXT,
		retry_count INT NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_email_queue_status_due ON email_queue (status, due_at)`,
	`CREATE INDEX IF NOT EXISTS idx_email_queue_contact_type ON email_queue (contact_id, last_message_type, status)`,
	// Backstops the application-level duplicate check (ExistsActiveDuplicate
	// plus the per-contact advisory lock) with a DB-level constraint: a
	// contact can have at most one pending-or-sent row per message type.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_email_queue_active_unique ON email_queue (contact_id, last_message_type) WHERE status IN ('pending', 'sent')`,

	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(64) PRIMARY KEY,
		provider_id VARCHAR(255) NOT NULL,
		direction VARCHAR(16) NOT NULL,
		contact_id VARCHAR(64) NOT NULL,
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		conversation_id VARCHAR(255),
		in_reply_to VARCHAR(255),
		sent_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (provider_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_contact_id ON messages (contact_id)`,

	`CREATE TABLE IF NOT EXISTS message_contact_map (
		provider_id VARCHAR(255) PRIMARY KEY,
		contact_id VARCHAR(64) NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS sender_stats (
		key VARCHAR(255) PRIMARY KEY,
		last_sent TIMESTAMPTZ NOT NULL,
		cooldown_seconds INT NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS bounced_emails (
		email VARCHAR(512) PRIMARY KEY,
		first_bounced_at TIMESTAMPTZ NOT NULL,
		last_bounced_at TIMESTAMPTZ NOT NULL,
		bounce_count INT NOT NULL DEFAULT 1,
		bounce_type VARCHAR(32) NOT NULL,
		bounce_reason TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS custom_flows (
		id VARCHAR(64) PRIMARY KEY,
		contact_id VARCHAR(64) NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_custom_flows_contact_active ON custom_flows (contact_id, active)`,

	`CREATE TABLE IF NOT EXISTS custom_flow_steps (
		flow_id VARCHAR(64) NOT NULL,
		step_order INT NOT NULL,
		type VARCHAR(32) NOT NULL,
		subject TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		delay_days INT NOT NULL DEFAULT 0,
		PRIMARY KEY (flow_id, step_order)
	)`,

	`CREATE TABLE IF NOT EXISTS custom_contact_messages (
		contact_id VARCHAR(64) NOT NULL,
		message_type VARCHAR(64) NOT NULL,
		stage VARCHAR(64) NOT NULL,
		reminder_type VARCHAR(64),
		subject TEXT NOT NULL,
		body TEXT NOT NULL,
		UNIQUE (contact_id, message_type, stage, reminder_type)
	)`,
}
