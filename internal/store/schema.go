package store

// Schema creates the pipeline tables. Applied idempotently at worker start;
// also usable standalone in migrations.
const Schema = `
CREATE TABLE IF NOT EXISTS content (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    url TEXT NOT NULL UNIQUE,
    content_type VARCHAR(20) NOT NULL DEFAULT 'unknown',
    platform TEXT,
    source TEXT,
    title TEXT,
    status VARCHAR(20) NOT NULL DEFAULT 'new',
    error_message TEXT,
    retry_count INTEGER NOT NULL DEFAULT 0,
    checked_out_by TEXT,
    checked_out_at TIMESTAMPTZ,
    metadata JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    processed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_content_type_status ON content (content_type, status);
CREATE INDEX IF NOT EXISTS idx_content_checkout ON content (checked_out_by, checked_out_at);
CREATE INDEX IF NOT EXISTS idx_content_created_at ON content (created_at);

CREATE TABLE IF NOT EXISTS tasks (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    task_type VARCHAR(30) NOT NULL,
    queue_name VARCHAR(20) NOT NULL DEFAULT 'content',
    content_id BIGINT REFERENCES content(id),
    payload JSONB NOT NULL DEFAULT '{}',
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    retry_count INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks (status, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_claim ON tasks (queue_name, status, created_at, retry_count);
CREATE INDEX IF NOT EXISTS idx_tasks_content_id ON tasks (content_id);

CREATE TABLE IF NOT EXISTS watchdog_events (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    action VARCHAR(40) NOT NULL,
    task_id BIGINT,
    content_id BIGINT,
    details JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS watchdog_runs (
    id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    moved_tasks INTEGER NOT NULL DEFAULT 0,
    requeued_tasks INTEGER NOT NULL DEFAULT 0,
    released_items INTEGER NOT NULL DEFAULT 0,
    dry_run BOOLEAN NOT NULL DEFAULT FALSE,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    alert_triggered BOOLEAN NOT NULL DEFAULT FALSE
);
`
