package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Go2NetCapture/internal/config"
	"Go2NetCapture/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS saved_captures (
    Identity    String,
    CaptureID   String,
    Label       String,
    SavedAt     DateTime64(3, 'UTC'),
    Position    UInt16,
    PacketCount UInt32,
    Packets     String
) ENGINE = MergeTree()
ORDER BY (Identity, SavedAt, CaptureID);
`

// ClickHouseMirror keeps one row per saved capture in the saved_captures
// table. Every sync replaces all rows of the identity.
type ClickHouseMirror struct {
	conn driver.Conn
	log  *zap.SugaredLogger
}

// Row is one saved_captures row.
type Row struct {
	Identity    string
	CaptureID   string
	Label       string
	SavedAt     time.Time
	Position    uint16
	PacketCount uint32
	Packets     string
}

// NewClickHouseMirror connects and ensures the table exists.
func NewClickHouseMirror(ctx context.Context, cfg config.ClickHouseConfig, log *zap.SugaredLogger) (*ClickHouseMirror, error) {
	conn, err := connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	if err := conn.Exec(ctx, createTableStatement); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Infow("connected to ClickHouse and ensured saved_captures exists", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database)
	return &ClickHouseMirror{conn: conn, log: log}, nil
}

func connect(ctx context.Context, cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Name implements store.Mirror.
func (m *ClickHouseMirror) Name() string {
	return "clickhouse"
}

// Sync implements store.Mirror.
func (m *ClickHouseMirror) Sync(ctx context.Context, identity string, captures []model.SavedCapture) error {
	rows, err := BuildRows(identity, captures)
	if err != nil {
		return err
	}

	if err := m.conn.Exec(ctx, "DELETE FROM saved_captures WHERE Identity = ?", identity); err != nil {
		return fmt.Errorf("failed to delete previous rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	batch, err := m.conn.PrepareBatch(ctx, "INSERT INTO saved_captures")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r.Identity, r.CaptureID, r.Label, r.SavedAt, r.Position, r.PacketCount, r.Packets); err != nil {
			return fmt.Errorf("failed to append capture to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}

	m.log.Debugw("wrote saved captures to ClickHouse", "identity", identity, "rows", len(rows))
	return nil
}

// Close closes the connection.
func (m *ClickHouseMirror) Close() error {
	return m.conn.Close()
}

// BuildRows flattens a saved-capture list into table rows. Position keeps
// the newest-first order of the list.
func BuildRows(identity string, captures []model.SavedCapture) ([]Row, error) {
	rows := make([]Row, 0, len(captures))
	for i, c := range captures {
		savedAt, err := time.Parse(time.RFC3339Nano, c.SavedAt)
		if err != nil {
			return nil, fmt.Errorf("capture %s has a bad savedAt %q: %w", c.ID, c.SavedAt, err)
		}
		packets, err := json.Marshal(c.Packets)
		if err != nil {
			return nil, fmt.Errorf("failed to encode packets of %s: %w", c.ID, err)
		}
		rows = append(rows, Row{
			Identity:    identity,
			CaptureID:   c.ID,
			Label:       c.Label,
			SavedAt:     savedAt.UTC(),
			Position:    uint16(i),
			PacketCount: uint32(len(c.Packets)),
			Packets:     string(packets),
		})
	}
	return rows, nil
}
