package history

const schema = `
CREATE TABLE IF NOT EXISTS executions (
    id TEXT PRIMARY KEY,
    project TEXT NOT NULL,
    module TEXT NOT NULL DEFAULT '',
    target TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'RUNNING',
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP,
    total_tasks INTEGER DEFAULT 0,
    completed_tasks INTEGER DEFAULT 0,
    failed_tasks INTEGER DEFAULT 0,
    skipped_tasks INTEGER DEFAULT 0,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_executions_project ON executions(project);
CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at);

CREATE TABLE IF NOT EXISTS events (
    execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    type TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    phase TEXT,
    task TEXT,
    module TEXT,
    message TEXT,
    detail TEXT,
    PRIMARY KEY (execution_id, seq)
);
`
