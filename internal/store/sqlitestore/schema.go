package sqlitestore

const schema = `
CREATE TABLE IF NOT EXISTS games (
	fingerprint    TEXT PRIMARY KEY,
	link           TEXT NOT NULL DEFAULT '',
	event          TEXT NOT NULL DEFAULT '',
	site           TEXT NOT NULL DEFAULT '',
	date           TEXT NOT NULL DEFAULT '',
	round          TEXT NOT NULL DEFAULT '',
	white          TEXT NOT NULL DEFAULT '',
	black          TEXT NOT NULL DEFAULT '',
	result         TEXT NOT NULL DEFAULT '',
	white_elo      INTEGER,
	black_elo      INTEGER,
	time_control   TEXT NOT NULL DEFAULT '',
	termination    TEXT NOT NULL DEFAULT '',
	eco            TEXT NOT NULL DEFAULT '',
	game_datetime  TEXT,
	winner         TEXT NOT NULL,
	num_moves      INTEGER NOT NULL,
	checkmate      INTEGER NOT NULL DEFAULT 0,
	white_cpl      REAL,
	black_cpl      REAL,
	avg_cpl        REAL,
	cpl_std_dev    REAL NOT NULL DEFAULT 0,
	blunders       INTEGER NOT NULL DEFAULT 0,
	mistakes       INTEGER NOT NULL DEFAULT 0,
	inaccuracies   INTEGER NOT NULL DEFAULT 0,
	promotions     INTEGER NOT NULL DEFAULT 0,
	quality_score  REAL NOT NULL,
	metric_version TEXT NOT NULL,
	engine_budget  TEXT NOT NULL,
	analyzed_at    TEXT NOT NULL,
	evaluations    BLOB,
	raw_pgn        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_games_quality_score ON games(quality_score);
CREATE INDEX IF NOT EXISTS idx_games_avg_cpl ON games(avg_cpl);
CREATE INDEX IF NOT EXISTS idx_games_metric_version ON games(metric_version);
CREATE INDEX IF NOT EXISTS idx_games_game_datetime ON games(game_datetime);
`

// columns lists every table column in insert and select order.
var columns = []string{
	"fingerprint", "link", "event", "site", "date", "round", "white", "black",
	"result", "white_elo", "black_elo", "time_control", "termination", "eco",
	"game_datetime", "winner", "num_moves", "checkmate", "white_cpl",
	"black_cpl", "avg_cpl", "cpl_std_dev", "blunders", "mistakes",
	"inaccuracies", "promotions", "quality_score", "metric_version",
	"engine_budget", "analyzed_at", "evaluations", "raw_pgn",
}
