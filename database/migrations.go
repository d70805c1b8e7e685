package database

type migration struct {
	version int
	sql     string
}

// migrations must stay ordered by version.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL UNIQUE,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS boards (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	owner_user_id INTEGER REFERENCES users(id),
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	title            TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'Todo'
	                 CHECK (status IN ('Todo', 'In Progress', 'Done')),
	priority         TEXT NOT NULL DEFAULT 'Medium'
	                 CHECK (priority IN ('Low', 'Medium', 'High')),
	assigned_user_id INTEGER REFERENCES users(id),
	board_id         INTEGER NOT NULL REFERENCES boards(id),
	created_by_id    INTEGER NOT NULL REFERENCES users(id),
	version          INTEGER NOT NULL DEFAULT 1,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	UNIQUE (board_id, title)
);

CREATE TABLE IF NOT EXISTS task_locks (
	task_id   INTEGER PRIMARY KEY REFERENCES tasks(id),
	user_id   INTEGER NOT NULL REFERENCES users(id),
	user_name TEXT NOT NULL,
	locked_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS task_conflicts (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id        INTEGER NOT NULL REFERENCES tasks(id),
	user_id        INTEGER NOT NULL REFERENCES users(id),
	server_version TEXT NOT NULL,
	client_version TEXT NOT NULL,
	resolved       BOOLEAN NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL
);

-- task_id is a plain reference: the "delete" entry outlives its task.
CREATE TABLE IF NOT EXISTS action_logs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id        INTEGER NOT NULL,
	board_id       INTEGER NOT NULL,
	user_id        INTEGER NOT NULL REFERENCES users(id),
	action_type    TEXT NOT NULL,
	previous_value TEXT NOT NULL DEFAULT 'null',
	new_value      TEXT NOT NULL DEFAULT 'null',
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_board ON tasks(board_id);
CREATE INDEX IF NOT EXISTS idx_tasks_assignee_status ON tasks(assigned_user_id, status);
CREATE INDEX IF NOT EXISTS idx_task_locks_locked_at ON task_locks(locked_at);
CREATE INDEX IF NOT EXISTS idx_task_conflicts_task ON task_conflicts(task_id);
CREATE INDEX IF NOT EXISTS idx_task_conflicts_user ON task_conflicts(user_id, resolved);
CREATE INDEX IF NOT EXISTS idx_action_logs_task ON action_logs(task_id);
CREATE INDEX IF NOT EXISTS idx_action_logs_board_created ON action_logs(board_id, created_at);
CREATE INDEX IF NOT EXISTS idx_action_logs_created ON action_logs(created_at);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
