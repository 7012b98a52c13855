// Package postgres implements store.Store on PostgreSQL.
//
// The operations table's primary key on the hash is what makes
// InsertOperation an atomic insert-if-absent across concurrently running
// node instances.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/BrightID/BrightID-Node-sub000/model"
	"github.com/BrightID/BrightID-Node-sub000/protocol"
	"github.com/BrightID/BrightID-Node-sub000/store"
)

// Config contains PostgreSQL connection settings.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *Config) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// Store is a PostgreSQL-backed store.Store.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens the database, verifies connectivity and runs migrations.
func New(cfg *Config) (*Store, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(64) PRIMARY KEY,
		signing_keys TEXT[] NOT NULL,
		created_at BIGINT NOT NULL,
		parent VARCHAR(64) NOT NULL DEFAULT '',
		verifications TEXT[] NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS signing_key_history (
		user_id VARCHAR(64) NOT NULL,
		key TEXT NOT NULL,
		ts BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_key_history_user ON signing_key_history(user_id, ts);

	CREATE TABLE IF NOT EXISTS connections (
		from_id VARCHAR(64) NOT NULL,
		to_id VARCHAR(64) NOT NULL,
		level VARCHAR(16) NOT NULL,
		report_reason TEXT NOT NULL DEFAULT '',
		replaced_with VARCHAR(64) NOT NULL DEFAULT '',
		request_proof TEXT NOT NULL DEFAULT '',
		ts BIGINT NOT NULL,
		init_ts BIGINT NOT NULL,
		PRIMARY KEY (from_id, to_id)
	);

	CREATE TABLE IF NOT EXISTS connection_history (
		from_id VARCHAR(64) NOT NULL,
		to_id VARCHAR(64) NOT NULL,
		level VARCHAR(16) NOT NULL,
		ts BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conn_history_edge ON connection_history(from_id, to_id, ts);

	CREATE TABLE IF NOT EXISTS groups (
		id VARCHAR(64) PRIMARY KEY,
		type VARCHAR(16) NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		admins TEXT[] NOT NULL,
		head VARCHAR(64) NOT NULL DEFAULT '',
		vouchers TEXT[] NOT NULL DEFAULT '{}',
		ts BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memberships (
		group_id VARCHAR(64) NOT NULL,
		user_id VARCHAR(64) NOT NULL,
		ts BIGINT NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS invites (
		id VARCHAR(64) PRIMARY KEY,
		invitee VARCHAR(64) NOT NULL,
		inviter VARCHAR(64) NOT NULL,
		group_id VARCHAR(64) NOT NULL,
		data TEXT NOT NULL DEFAULT '',
		ts BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_invites_invitee ON invites(invitee, group_id);
	CREATE INDEX IF NOT EXISTS idx_invites_group ON invites(group_id);

	CREATE TABLE IF NOT EXISTS apps (
		id VARCHAR(64) PRIMARY KEY,
		key TEXT NOT NULL,
		total_sponsorships INT NOT NULL,
		verification TEXT NOT NULL DEFAULT '',
		timestamp_precision BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS sponsorships (
		user_id VARCHAR(64) NOT NULL,
		app_id VARCHAR(64) NOT NULL,
		ts BIGINT NOT NULL,
		PRIMARY KEY (user_id, app_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sponsorships_app ON sponsorships(app_id);

	CREATE TABLE IF NOT EXISTS operations (
		hash VARCHAR(64) PRIMARY KEY,
		data JSONB NOT NULL,
		state VARCHAR(16) NOT NULL,
		result TEXT NOT NULL DEFAULT '',
		block_time BIGINT NOT NULL DEFAULT 0
	);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) User(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT signing_keys, created_at, parent, verifications FROM users WHERE id = $1`, id).
		Scan(pq.Array(&u.SigningKeys), &u.CreatedAt, &u.Parent, pq.Array(&u.Verifications))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) PutUser(ctx context.Context, u *model.User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, signing_keys, created_at, parent, verifications)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			signing_keys = EXCLUDED.signing_keys,
			parent = EXCLUDED.parent,
			verifications = EXCLUDED.verifications`,
		u.ID, pq.Array(u.SigningKeys), u.CreatedAt, u.Parent, pq.Array(u.Verifications))
	return err
}

func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

func (s *Store) SigningKeyHistory(ctx context.Context, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM signing_key_history WHERE user_id = $1 ORDER BY ts DESC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) AppendSigningKeyHistory(ctx context.Context, id, key string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO signing_key_history (user_id, key, ts) VALUES ($1, $2, $3)`, id, key, ts)
	return err
}

func (s *Store) Connection(ctx context.Context, from, to string) (*model.Connection, error) {
	c := &model.Connection{From: from, To: to}
	err := s.db.QueryRowContext(ctx, `
		SELECT level, report_reason, replaced_with, request_proof, ts, init_ts
		FROM connections WHERE from_id = $1 AND to_id = $2`, from, to).
		Scan(&c.Level, &c.ReportReason, &c.ReplacedWith, &c.RequestProof, &c.Timestamp, &c.InitTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) PutConnection(ctx context.Context, c *model.Connection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (from_id, to_id, level, report_reason, replaced_with, request_proof, ts, init_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (from_id, to_id) DO UPDATE SET
			level = EXCLUDED.level,
			report_reason = EXCLUDED.report_reason,
			replaced_with = EXCLUDED.replaced_with,
			request_proof = EXCLUDED.request_proof,
			ts = EXCLUDED.ts`,
		c.From, c.To, string(c.Level), c.ReportReason, c.ReplacedWith, c.RequestProof,
		c.Timestamp, c.InitTimestamp)
	return err
}

func (s *Store) AppendConnectionHistory(ctx context.Context, from, to string, ev model.ConnectionEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connection_history (from_id, to_id, level, ts) VALUES ($1, $2, $3, $4)`,
		from, to, string(ev.Level), ev.Timestamp)
	return err
}

func (s *Store) ConnectionHistory(ctx context.Context, from, to string) ([]model.ConnectionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT level, ts FROM connection_history
		WHERE from_id = $1 AND to_id = $2 ORDER BY ts ASC`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ConnectionEvent
	for rows.Next() {
		var ev model.ConnectionEvent
		if err := rows.Scan(&ev.Level, &ev.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *Store) ConnectionsFrom(ctx context.Context, from string) ([]*model.Connection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_id, level, report_reason, replaced_with, request_proof, ts, init_ts
		FROM connections WHERE from_id = $1`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Connection
	for rows.Next() {
		c := &model.Connection{From: from}
		if err := rows.Scan(&c.To, &c.Level, &c.ReportReason, &c.ReplacedWith,
			&c.RequestProof, &c.Timestamp, &c.InitTimestamp); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) MutualConnections(ctx context.Context, id string, candidates []string, levels []model.Level) ([]string, error) {
	levelStrs := make([]string, len(levels))
	for i, l := range levels {
		levelStrs[i] = string(l)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT f.to_id
		FROM connections f
		JOIN connections b ON b.from_id = f.to_id AND b.to_id = f.from_id
		WHERE f.from_id = $1
		  AND f.to_id = ANY($2)
		  AND f.level = ANY($3)
		  AND b.level = ANY($3)`,
		id, pq.Array(candidates), pq.Array(levelStrs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) Group(ctx context.Context, id string) (*model.Group, error) {
	g := &model.Group{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT type, url, admins, head, vouchers, ts FROM groups WHERE id = $1`, id).
		Scan(&g.Type, &g.URL, pq.Array(&g.Admins), &g.Head, pq.Array(&g.Vouchers), &g.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) PutGroup(ctx context.Context, g *model.Group) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO groups (id, type, url, admins, head, vouchers, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			admins = EXCLUDED.admins,
			head = EXCLUDED.head,
			vouchers = EXCLUDED.vouchers`,
		g.ID, string(g.Type), g.URL, pq.Array(g.Admins), g.Head, pq.Array(g.Vouchers), g.Timestamp)
	return err
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM memberships WHERE group_id = $1`,
		`DELETE FROM invites WHERE group_id = $1`,
		`DELETE FROM groups WHERE id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) Members(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM memberships WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

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

func (s *Store) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM memberships WHERE group_id = $1 AND user_id = $2)`,
		groupID, userID).Scan(&exists)
	return exists, err
}

func (s *Store) AddMembership(ctx context.Context, groupID, userID string, ts int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (group_id, user_id, ts) VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING`, groupID, userID, ts)
	return err
}

func (s *Store) RemoveMembership(ctx context.Context, groupID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memberships WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	return err
}

func (s *Store) FamilyHeadedBy(ctx context.Context, userID string) (*model.Group, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM groups WHERE type = $1 AND head = $2 LIMIT 1`,
		string(model.Family), userID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.Group(ctx, id)
}

func (s *Store) PutInvite(ctx context.Context, inv *model.Invite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invites (id, invitee, inviter, group_id, data, ts)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		inv.ID, inv.Invitee, inv.Inviter, inv.GroupID, inv.Data, inv.Timestamp)
	return err
}

func (s *Store) Invite(ctx context.Context, invitee, groupID string) (*model.Invite, error) {
	inv := &model.Invite{Invitee: invitee, GroupID: groupID}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, inviter, data, ts FROM invites
		WHERE invitee = $1 AND group_id = $2
		ORDER BY ts DESC LIMIT 1`, invitee, groupID).
		Scan(&inv.ID, &inv.Inviter, &inv.Data, &inv.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Store) DeleteInvite(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM invites WHERE id = $1`, id)
	return err
}

func (s *Store) GroupHasInvites(ctx context.Context, groupID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM invites WHERE group_id = $1)`, groupID).Scan(&exists)
	return exists, err
}

func (s *Store) App(ctx context.Context, id string) (*model.App, error) {
	a := &model.App{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT key, total_sponsorships, verification, timestamp_precision
		FROM apps WHERE id = $1`, id).
		Scan(&a.Key, &a.TotalSponsorships, &a.Verification, &a.TimestampPrecision)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) PutApp(ctx context.Context, a *model.App) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO apps (id, key, total_sponsorships, verification, timestamp_precision)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			key = EXCLUDED.key,
			total_sponsorships = EXCLUDED.total_sponsorships,
			verification = EXCLUDED.verification,
			timestamp_precision = EXCLUDED.timestamp_precision`,
		a.ID, a.Key, a.TotalSponsorships, a.Verification, a.TimestampPrecision)
	return err
}

func (s *Store) HasSponsorship(ctx context.Context, userID, appID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sponsorships WHERE user_id = $1 AND app_id = $2)`,
		userID, appID).Scan(&exists)
	return exists, err
}

func (s *Store) AddSponsorship(ctx context.Context, sp *model.Sponsorship) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sponsorships (user_id, app_id, ts) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, app_id) DO NOTHING`,
		sp.UserID, sp.AppID, sp.Timestamp)
	return err
}

func (s *Store) CountSponsorships(ctx context.Context, appID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sponsorships WHERE app_id = $1`, appID).Scan(&n)
	return n, err
}

func (s *Store) InsertOperation(ctx context.Context, op *protocol.Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO operations (hash, data, state, result) VALUES ($1, $2, $3, $4)
		ON CONFLICT (hash) DO NOTHING`,
		op.Hash, data, string(op.State), op.Result)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrDuplicateOperation
	}
	return nil
}

func (s *Store) Operation(ctx context.Context, hash string) (*protocol.Operation, error) {
	var (
		data      []byte
		state     string
		result    string
		blockTime int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT data, state, result, block_time FROM operations WHERE hash = $1`, hash).
		Scan(&data, &state, &result, &blockTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var op protocol.Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, err
	}
	op.State = protocol.State(state)
	op.Result = result
	op.BlockTime = blockTime
	return &op, nil
}

func (s *Store) UpdateOperation(ctx context.Context, hash string, state protocol.State, result string, blockTime int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE operations SET state = $2, result = $3, block_time = $4 WHERE hash = $1`,
		hash, string(state), result, blockTime)
	return err
}
