package inventory

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/xerrors"

	"QianKunJing/internal/model"
	"QianKunJing/internal/utils"
)

// ErrNotFound 指定ID的软件不存在
var ErrNotFound = xerrors.New("software not found")

// Store 软件资产清单（厂商、软件、版本三张表）
type Store struct {
	db     *sql.DB
	path   string
	logger *utils.Logger
}

func NewStore(dbPath string) (*Store, error) {
	logger := utils.NewLogger("inventory")

	// 确保目录存在
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, xerrors.Errorf("创建数据库目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, xerrors.Errorf("打开数据库失败: %w", err)
	}

	store := &Store{
		db:     db,
		path:   dbPath,
		logger: logger,
	}

	if err := store.initTables(); err != nil {
		db.Close()
		return nil, xerrors.Errorf("初始化表失败: %w", err)
	}

	return store, nil
}

func (s *Store) initTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS manufacturers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS softwares (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		manufacturers_id INTEGER,
		FOREIGN KEY (manufacturers_id) REFERENCES manufacturers(id)
	);

	CREATE TABLE IF NOT EXISTS softwareversions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		softwares_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		FOREIGN KEY (softwares_id) REFERENCES softwares(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_softwares_manufacturer ON softwares(manufacturers_id);
	CREATE INDEX IF NOT EXISTS idx_versions_software ON softwareversions(softwares_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// AddManufacturer 插入厂商，已存在时返回原ID
func (s *Store) AddManufacturer(ctx context.Context, name string) (int64, error) {
	if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO manufacturers (name) VALUES (?)`, name); err != nil {
		return 0, xerrors.Errorf("插入厂商失败: %w", err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT id FROM manufacturers WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, xerrors.Errorf("查询厂商失败: %w", err)
	}
	return id, nil
}

// AddSoftware 插入软件。manufacturerID为0表示未知厂商
func (s *Store) AddSoftware(ctx context.Context, name string, manufacturerID int64) (int64, error) {
	var mid interface{}
	if manufacturerID > 0 {
		mid = manufacturerID
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO softwares (name, manufacturers_id) VALUES (?, ?)`, name, mid)
	if err != nil {
		return 0, xerrors.Errorf("插入软件失败: %w", err)
	}
	return res.LastInsertId()
}

// AddVersion 插入软件版本
func (s *Store) AddVersion(ctx context.Context, softwareID int64, version string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO softwareversions (softwares_id, name) VALUES (?, ?)`, softwareID, version)
	if err != nil {
		return 0, xerrors.Errorf("插入软件版本失败: %w", err)
	}
	return res.LastInsertId()
}

// ListSoftwareVersions 所有软件版本及其厂商，ID为版本ID
func (s *Store) ListSoftwareVersions(ctx context.Context) ([]model.Software, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, COALESCE(m.name, ''), COALESCE(s.name, ''), v.name
		FROM softwareversions v
		LEFT JOIN softwares s ON v.softwares_id = s.id
		LEFT JOIN manufacturers m ON s.manufacturers_id = m.id
		ORDER BY v.id
	`)
	if err != nil {
		return nil, xerrors.Errorf("查询软件版本失败: %w", err)
	}
	defer rows.Close()

	var list []model.Software
	for rows.Next() {
		var sw model.Software
		if err := rows.Scan(&sw.ID, &sw.Vendor, &sw.Product, &sw.Version); err != nil {
			s.logger.Debug("读取软件版本失败: %v", err)
			continue
		}
		list = append(list, sw)
	}

	return list, rows.Err()
}

// Software 单个软件的厂商和产品名，不含版本
func (s *Store) Software(ctx context.Context, id int64) (model.Software, error) {
	sw := model.Software{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(m.name, ''), s.name
		FROM softwares s
		LEFT JOIN manufacturers m ON s.manufacturers_id = m.id
		WHERE s.id = ?
	`, id).Scan(&sw.Vendor, &sw.Product)
	if err == sql.ErrNoRows {
		return sw, xerrors.Errorf("software %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return sw, xerrors.Errorf("查询软件失败: %w", err)
	}
	return sw, nil
}

// SoftwareVersion 单个软件版本对应的三元组
func (s *Store) SoftwareVersion(ctx context.Context, id int64) (model.Software, error) {
	sw := model.Software{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(m.name, ''), COALESCE(s.name, ''), v.name
		FROM softwareversions v
		LEFT JOIN softwares s ON v.softwares_id = s.id
		LEFT JOIN manufacturers m ON s.manufacturers_id = m.id
		WHERE v.id = ?
	`, id).Scan(&sw.Vendor, &sw.Product, &sw.Version)
	if err == sql.ErrNoRows {
		return sw, xerrors.Errorf("software version %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return sw, xerrors.Errorf("查询软件版本失败: %w", err)
	}
	return sw, nil
}

// Count 软件版本总数
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM softwareversions").Scan(&count)
	return count, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
