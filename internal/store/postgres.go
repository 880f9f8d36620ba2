package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"jirareporter.app/reporter/common/id"
	"jirareporter.app/reporter/core/db"
	"jirareporter.app/reporter/internal/model"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS integration_configs (
	id  TEXT PRIMARY KEY,
	doc JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS crash_issues (
	crash_id TEXT PRIMARY KEY,
	issue_id BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS unsent_messages (
	id       TEXT PRIMARY KEY,
	messages BYTEA NOT NULL
);
DO $$
BEGIN
	IF EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_name = 'unsent_messages' AND column_name = 'messages' AND data_type = 'jsonb'
	) THEN
		ALTER TABLE unsent_messages
			ALTER COLUMN messages TYPE BYTEA USING convert_to(messages::text, 'UTF8');
	END IF;
END $$;
`

// pgUniqueViolation is the SQLSTATE for a duplicate key.
const pgUniqueViolation = "23505"

type postgresDatabase struct {
	db               *db.DB
	allowDestructive bool
}

// NewPostgresDatabase creates the tables when missing and returns the stores.
func NewPostgresDatabase(ctx context.Context, database *db.DB, allowDestructive bool) (Database, error) {
	if _, err := database.Pool().Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &postgresDatabase{db: database, allowDestructive: allowDestructive}, nil
}

func (d *postgresDatabase) Configs() ConfigStore {
	return &pgConfigStore{db: d.db}
}

func (d *postgresDatabase) Issues() IssueStore {
	return &pgIssueStore{db: d.db}
}

func (d *postgresDatabase) Unsent() UnsentMessageStore {
	return &pgUnsentStore{db: d.db}
}

func (d *postgresDatabase) TruncateAll(ctx context.Context) error {
	if !d.allowDestructive {
		return ErrDestructiveForbidden
	}
	_, err := d.db.Pool().Exec(ctx, "TRUNCATE integration_configs, crash_issues, unsent_messages")
	return err
}

func (d *postgresDatabase) Close() error {
	d.db.Close()
	return nil
}

// translatePostgresError maps pgx errors onto the store sentinels.
func translatePostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, pgErr.ConstraintName)
	}
	return err
}

// --- Configs ----------------------------------------------------------------

type pgConfigStore struct {
	db *db.DB
}

func (s *pgConfigStore) Get(ctx context.Context, key string) (*model.IntegrationConfig, error) {
	var raw []byte
	err := s.db.Pool().QueryRow(ctx, "SELECT doc FROM integration_configs WHERE id = $1", key).Scan(&raw)
	if err != nil {
		return nil, translatePostgresError(err)
	}
	return decodeConfig(key, raw)
}

func (s *pgConfigStore) Insert(ctx context.Context, cfg *model.IntegrationConfig) error {
	row := *cfg
	if row.ID == "" {
		row.ID = id.NewString()
	}
	row.UpdateRev = id.NewString()

	doc, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if _, err := s.db.Pool().Exec(ctx, "INSERT INTO integration_configs (id, doc) VALUES ($1, $2)", row.ID, doc); err != nil {
		return translatePostgresError(err)
	}

	*cfg = row
	return nil
}

func (s *pgConfigStore) Update(ctx context.Context, cfg *model.IntegrationConfig) (*model.IntegrationConfig, *model.IntegrationConfig, error) {
	var oldCfg, newCfg *model.IntegrationConfig

	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var raw []byte
		if err := tx.QueryRow(ctx, "SELECT doc FROM integration_configs WHERE id = $1 FOR UPDATE", cfg.ID).Scan(&raw); err != nil {
			return translatePostgresError(err)
		}

		var err error
		oldCfg, err = decodeConfig(cfg.ID, raw)
		if err != nil {
			return err
		}

		next := *cfg
		next.UpdateRev = id.NewString()
		doc, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}

		if err := tx.QueryRow(ctx, "UPDATE integration_configs SET doc = $2 WHERE id = $1 RETURNING doc", cfg.ID, doc).Scan(&raw); err != nil {
			return translatePostgresError(err)
		}

		newCfg, err = decodeConfig(cfg.ID, raw)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	return oldCfg, newCfg, nil
}

func (s *pgConfigStore) Delete(ctx context.Context, key string) error {
	tag, err := s.db.Pool().Exec(ctx, "DELETE FROM integration_configs WHERE id = $1", key)
	if err != nil {
		return translatePostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeConfig(key string, raw []byte) (*model.IntegrationConfig, error) {
	var cfg model.IntegrationConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", key, err)
	}
	cfg.ID = key
	return &cfg, nil
}

// --- Issues -----------------------------------------------------------------

type pgIssueStore struct {
	db *db.DB
}

func (s *pgIssueStore) GetIssue(ctx context.Context, crashID string) (int64, error) {
	var issueID int64
	err := s.db.Pool().QueryRow(ctx, "SELECT issue_id FROM crash_issues WHERE crash_id = $1", crashID).Scan(&issueID)
	if err != nil {
		return 0, translatePostgresError(err)
	}
	return issueID, nil
}

func (s *pgIssueStore) Insert(ctx context.Context, crashID string, issueID int64) error {
	_, err := s.db.Pool().Exec(ctx, "INSERT INTO crash_issues (crash_id, issue_id) VALUES ($1, $2)", crashID, issueID)
	return translatePostgresError(err)
}

// --- Unsent messages --------------------------------------------------------

type pgUnsentStore struct {
	db *db.DB
}

func (s *pgUnsentStore) SaveUnsentMessages(ctx context.Context, messages map[string][]json.RawMessage) error {
	doc, err := encodeSnapshot(messages)
	if err != nil {
		return fmt.Errorf("encoding unsent messages: %w", err)
	}

	_, err = s.db.Pool().Exec(ctx, `
		INSERT INTO unsent_messages (id, messages) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET messages = EXCLUDED.messages`, unsentKey, doc)
	if err != nil {
		return fmt.Errorf("save unsent messages: %w", err)
	}
	return nil
}

func (s *pgUnsentStore) LoadUnsentMessages(ctx context.Context) (map[string][]json.RawMessage, error) {
	var raw []byte
	err := s.db.Pool().QueryRow(ctx, "SELECT messages FROM unsent_messages WHERE id = $1", unsentKey).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return map[string][]json.RawMessage{}, nil
		}
		return nil, fmt.Errorf("load unsent messages: %w", err)
	}

	messages, err := decodeSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding unsent messages: %w", err)
	}
	return messages, nil
}

// encodeSnapshot writes the snapshot as a json object without touching the
// messages themselves. json.Marshal would compact them and escape html, so a
// replayed message would differ from the one that was produced.
func encodeSnapshot(messages map[string][]json.RawMessage) ([]byte, error) {
	channels := make([]string, 0, len(messages))
	for ch := range messages {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ch := range channels {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(ch)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteString(":[")
		for j, msg := range messages[ch] {
			if !json.Valid(msg) {
				return nil, fmt.Errorf("message %d of %s is not json", j, ch)
			}
			if j > 0 {
				buf.WriteByte(',')
			}
			buf.Write(msg)
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeSnapshot is the inverse of encodeSnapshot. Unmarshalling into
// json.RawMessage copies each message verbatim.
func decodeSnapshot(raw []byte) (map[string][]json.RawMessage, error) {
	messages := map[string][]json.RawMessage{}
	if err := json.Unmarshal(raw, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
