package repository

// Schema definitions for the Breakwater store.
// Compatible with both SQLite and PostgreSQL.

const schemaSignals = `
CREATE TABLE IF NOT EXISTS signals (
    id TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    category TEXT NOT NULL,
    lat REAL NOT NULL DEFAULT 0,
    lon REAL NOT NULL DEFAULT 0,
    has_coords INTEGER NOT NULL DEFAULT 0,
    place_name TEXT,
    timestamp TIMESTAMP NOT NULL,
    received_at TIMESTAMP NOT NULL,
    raw_severity_hint TEXT,
    engagement_score REAL NOT NULL DEFAULT 0,
    reporter_trust REAL NOT NULL DEFAULT 0,
    content TEXT,
    risk_score REAL NOT NULL DEFAULT 0,
    risk_features TEXT,
    alert_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_signals_alert ON signals(alert_id);
CREATE INDEX IF NOT EXISTS idx_signals_category ON signals(category, timestamp);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    category TEXT NOT NULL,
    severity TEXT NOT NULL,
    status TEXT NOT NULL,
    lat REAL NOT NULL DEFAULT 0,
    lon REAL NOT NULL DEFAULT 0,
    has_coords INTEGER NOT NULL DEFAULT 0,
    coord_count INTEGER NOT NULL DEFAULT 0,
    place_name TEXT,
    opened_at TIMESTAMP NOT NULL,
    last_updated_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP,
    resolve_reason TEXT,
    member_signal_ids TEXT NOT NULL,
    responder_count INTEGER NOT NULL DEFAULT 0,
    affected_estimate INTEGER NOT NULL DEFAULT 0,
    actions TEXT NOT NULL,
    transition_seq INTEGER NOT NULL DEFAULT 0,
    max_risk_score REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, last_updated_at);
CREATE INDEX IF NOT EXISTS idx_alerts_category ON alerts(category, status);
CREATE INDEX IF NOT EXISTS idx_alerts_updated ON alerts(last_updated_at);
`

const schemaDispatchPolicies = `
CREATE TABLE IF NOT EXISTS dispatch_policies (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    channels TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaSignals,
		schemaAlerts,
		schemaDispatchPolicies,
	}
}
