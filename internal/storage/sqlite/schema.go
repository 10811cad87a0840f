package sqlite

const schema = `
-- Tasks table
CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    priority TEXT NOT NULL DEFAULT 'medium',
    assignee TEXT,
    created_by TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    completed_at DATETIME,
    success_criteria TEXT NOT NULL DEFAULT '[]',
    deadline DATETIME,
    estimated_hours REAL CHECK(estimated_hours IS NULL OR estimated_hours >= 0),
    actual_hours REAL CHECK(actual_hours IS NULL OR actual_hours >= 0),
    feedback_quality INTEGER CHECK(feedback_quality IS NULL OR (feedback_quality BETWEEN 1 AND 5)),
    feedback_timeliness INTEGER CHECK(feedback_timeliness IS NULL OR (feedback_timeliness BETWEEN 1 AND 5)),
    feedback_notes TEXT NOT NULL DEFAULT '',
    completion_summary TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '[]',
    -- completed_at is set iff the task is completed
    CHECK (
        (status = 'completed' AND completed_at IS NOT NULL) OR
        (status != 'completed' AND completed_at IS NULL)
    )
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee);
CREATE INDEX IF NOT EXISTS idx_tasks_priority ON tasks(priority);
CREATE INDEX IF NOT EXISTS idx_tasks_deadline ON tasks(deadline);
CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at);

-- Dependencies table: task_id depends on depends_on
CREATE TABLE IF NOT EXISTS dependencies (
    task_id TEXT NOT NULL,
    depends_on TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    created_by TEXT NOT NULL DEFAULT '',
    PRIMARY KEY (task_id, depends_on),
    FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE,
    FOREIGN KEY (depends_on) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_dependencies_depends_on ON dependencies(depends_on);

-- Participants table
CREATE TABLE IF NOT EXISTS participants (
    task_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    joined_at DATETIME NOT NULL,
    PRIMARY KEY (task_id, agent_id),
    FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

-- Notifications table. agent_id NULL means broadcast.
CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    agent_id TEXT,
    task_id TEXT,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    acknowledged INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_notifications_agent ON notifications(agent_id, acknowledged);

-- Shared context entries (store side of the context channel)
CREATE TABLE IF NOT EXISTS context_entries (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    agent_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (task_id) REFERENCES tasks(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_context_entries_task ON context_entries(task_id);

-- Events table (audit trail). Survives task deletion.
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    actor TEXT NOT NULL,
    old_value TEXT,
    new_value TEXT,
    created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_task ON events(task_id);
CREATE INDEX IF NOT EXISTS idx_events_created_at ON events(created_at);

-- Config table (enforcement mode and other runtime settings)
CREATE TABLE IF NOT EXISTS config (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

-- Schema version bookkeeping
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    applied_at DATETIME NOT NULL
);

-- Blocked tasks view: tasks with at least one incomplete dependency
CREATE VIEW IF NOT EXISTS blocked_tasks AS
SELECT
    t.*,
    COUNT(d.depends_on) AS blocked_by_count
FROM tasks t
JOIN dependencies d ON t.id = d.task_id
JOIN tasks dep ON d.depends_on = dep.id
WHERE dep.status != 'completed'
GROUP BY t.id;
`
