// Package storage is the SQLite-backed world.MemoryStore. Messages and agent
// states are stored as JSON documents keyed by world and agent, so pending
// approvals and turn counters survive a restart.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/yysun/agent-world-sub009/world"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements world.MemoryStore on SQLite.
type Store struct {
	db *sql.DB
}

var _ world.MemoryStore = (*Store)(nil)

// Open opens the database at path, creating parent directories, and runs
// migrations. ":memory:" opens a private in-memory database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway, and an in-memory
	// database exists only on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	ctx := context.Background()
	if err := s.initPragmas(ctx, path == ":memory:"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initPragmas(ctx context.Context, memory bool) error {
	stmts := []string{
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA temp_store=MEMORY;",
	}
	if !memory {
		stmts = append([]string{"PRAGMA journal_mode=WAL;"}, stmts...)
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

type migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrate applies pending migrations. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at INTEGER NOT NULL
);`); err != nil {
		return err
	}
	applied, err := s.appliedVersions(ctx)
	if err != nil {
		return err
	}
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	var migs []migration
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		v, err := parseMigrationVersion(name)
		if err != nil {
			return err
		}
		body, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		migs = append(migs, migration{Version: v, Name: name, SQL: string(body)})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].Version < migs[j].Version })
	for _, m := range migs {
		if applied[m.Version] {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}
	return nil
}

func (s *Store) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`, m.Version, time.Now().Unix()); err != nil {
		return err
	}
	return tx.Commit()
}

func parseMigrationVersion(filename string) (int, error) {
	base := strings.TrimSuffix(filename, ".sql")
	prefix, _, _ := strings.Cut(base, "_")
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("invalid migration version in %s", filename)
	}
	return v, nil
}

// AppendMessage stores msg at the end of the agent's memory.
func (s *Store) AppendMessage(ctx context.Context, worldID, agentID string, msg world.AgentMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO agent_messages(world_id, agent_id, message_id, chat_id, role, data, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		worldID, agentID, msg.ID, msg.ChatID, string(msg.Role), string(data), msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

// UpdateMessage replaces the stored message with msg.ID, keeping its
// position.
func (s *Store) UpdateMessage(ctx context.Context, worldID, agentID string, msg world.AgentMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.ID, err)
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE agent_messages SET data = ?, chat_id = ?, role = ?
WHERE world_id = ? AND agent_id = ? AND message_id = ?`,
		string(data), msg.ChatID, string(msg.Role), worldID, agentID, msg.ID)
	if err != nil {
		return fmt.Errorf("update message %s: %w", msg.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %s: %w", msg.ID, world.ErrNotFound)
	}
	return nil
}

// LoadMemory returns the agent's messages in append order. An empty chatID
// returns every chat.
func (s *Store) LoadMemory(ctx context.Context, worldID, agentID, chatID string) ([]world.AgentMessage, error) {
	query := `SELECT data FROM agent_messages WHERE world_id = ? AND agent_id = ?`
	args := []interface{}{worldID, agentID}
	if chatID != "" {
		query += ` AND chat_id = ?`
		args = append(args, chatID)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load memory %s/%s: %w", worldID, agentID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []world.AgentMessage
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var msg world.AgentMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

// SaveAgentState upserts the agent's state.
func (s *Store) SaveAgentState(ctx context.Context, worldID string, state world.AgentState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode agent state %s: %w", state.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO agent_states(world_id, agent_id, data, updated_at) VALUES(?, ?, ?, ?)
ON CONFLICT(world_id, agent_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		worldID, state.ID, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save agent state %s: %w", state.ID, err)
	}
	return nil
}

// LoadAgentState returns world.ErrNotFound when nothing is stored.
func (s *Store) LoadAgentState(ctx context.Context, worldID, agentID string) (*world.AgentState, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM agent_states WHERE world_id = ? AND agent_id = ?`, worldID, agentID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("agent state %s/%s: %w", worldID, agentID, world.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load agent state %s/%s: %w", worldID, agentID, err)
	}
	return decodeState(data)
}

// ListAgentStates returns the states stored for worldID, ordered by agent id.
func (s *Store) ListAgentStates(ctx context.Context, worldID string) ([]world.AgentState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM agent_states WHERE world_id = ? ORDER BY agent_id`, worldID)
	if err != nil {
		return nil, fmt.Errorf("list agent states %s: %w", worldID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []world.AgentState
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		st, err := decodeState(data)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// DeleteWorld removes every message and state of worldID.
// DeleteAgent removes one agent's messages and state.
func (s *Store) DeleteAgent(ctx context.Context, worldID, agentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_messages WHERE world_id = ? AND agent_id = ?`, worldID, agentID); err != nil {
		return fmt.Errorf("delete messages of %s/%s: %w", worldID, agentID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_states WHERE world_id = ? AND agent_id = ?`, worldID, agentID); err != nil {
		return fmt.Errorf("delete state of %s/%s: %w", worldID, agentID, err)
	}
	return tx.Commit()
}

func (s *Store) DeleteWorld(ctx context.Context, worldID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_messages WHERE world_id = ?`, worldID); err != nil {
		return fmt.Errorf("delete messages of %s: %w", worldID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_states WHERE world_id = ?`, worldID); err != nil {
		return fmt.Errorf("delete states of %s: %w", worldID, err)
	}
	return tx.Commit()
}

// ListWorlds returns the ids of worlds with stored agents.
func (s *Store) ListWorlds(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT world_id FROM agent_states ORDER BY world_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func decodeState(data string) (*world.AgentState, error) {
	var st world.AgentState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return nil, fmt.Errorf("decode agent state: %w", err)
	}
	if st.LLMCalls == nil {
		st.LLMCalls = make(map[string]int)
	}
	return &st, nil
}
