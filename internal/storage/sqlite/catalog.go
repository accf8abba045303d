package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/memoryhub/memoryhub/internal/memtypes"
)

// CatalogSnapshot is the wholesale replacement payload for a catalog rebuild.
type CatalogSnapshot struct {
	CatalogVersion string
	Files          []memtypes.CatalogFile
	Edges          []memtypes.CatalogEdge
	FullRebuild    bool
}

// ReplaceCatalogSnapshot replaces the catalog tables wholesale (DELETE then
// INSERT) and upserts CatalogMeta. Must run inside a write transaction, per
// the catalog worker's rebuild step (spec §4.5).
func (tx *Tx) ReplaceCatalogSnapshot(ctx context.Context, snap CatalogSnapshot) error {
	if _, err := tx.tx.ExecContext(ctx, `DELETE FROM catalog_files WHERE project_id = ?`, tx.projectID); err != nil {
		return wrapDBError("clear catalog files", err)
	}
	if _, err := tx.tx.ExecContext(ctx, `DELETE FROM catalog_edges WHERE project_id = ?`, tx.projectID); err != nil {
		return wrapDBError("clear catalog edges", err)
	}
	for _, f := range snap.Files {
		if _, err := tx.tx.ExecContext(ctx, `
			INSERT INTO catalog_files (project_id, path, content_hash, language, import_count)
			VALUES (?, ?, ?, ?, ?)
		`, tx.projectID, f.Path, f.ContentHash, f.Language, f.ImportCount); err != nil {
			return wrapDBError("insert catalog file", err)
		}
	}
	for _, e := range snap.Edges {
		if _, err := tx.tx.ExecContext(ctx, `
			INSERT INTO catalog_edges (project_id, from_file, to_module, edge_type, confidence, source_type)
			VALUES (?, ?, ?, ?, ?, ?)
		`, tx.projectID, e.FromFile, e.ToModule, e.EdgeType, e.Confidence, string(e.SourceType)); err != nil {
			return wrapDBError("insert catalog edge", err)
		}
	}

	now := formatTime(time.Now())
	indexed := len(snap.Files)
	coverage := 0.0
	if indexed > 0 {
		coverage = 100.0
	}
	var lastFull any
	if snap.FullRebuild {
		lastFull = now
	}
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO catalog_meta (project_id, catalog_version, total_files, indexed_files, coverage_pct, last_indexed_at, last_full_rebuild)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			catalog_version = excluded.catalog_version,
			total_files = excluded.total_files,
			indexed_files = excluded.indexed_files,
			coverage_pct = excluded.coverage_pct,
			last_indexed_at = excluded.last_indexed_at,
			last_full_rebuild = COALESCE(excluded.last_full_rebuild, catalog_meta.last_full_rebuild)
	`, tx.projectID, snap.CatalogVersion, indexed, indexed, coverage, now, lastFull)
	if err != nil {
		return wrapDBError("upsert catalog meta", err)
	}
	return nil
}

// GetCatalogMeta returns the catalog summary row, or nil if never indexed.
func (s *Store) GetCatalogMeta(ctx context.Context) (*memtypes.CatalogMeta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT catalog_version, total_files, indexed_files, coverage_pct, last_indexed_at, last_full_rebuild
		FROM catalog_meta WHERE project_id = ?
	`, s.projectID)

	var m memtypes.CatalogMeta
	var lastIndexed, lastFull sql.NullString
	if err := row.Scan(&m.CatalogVersion, &m.TotalFiles, &m.IndexedFiles, &m.CoveragePct, &lastIndexed, &lastFull); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, wrapDBError("get catalog meta", err)
	}
	m.ProjectID = s.projectID
	m.LastIndexedAt = parseNullableTimeString(lastIndexed)
	m.LastFullRebuild = parseNullableTimeString(lastFull)
	return &m, nil
}

// ListCatalogFiles returns every indexed file for scoring.
func (s *Store) ListCatalogFiles(ctx context.Context) ([]memtypes.CatalogFile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, content_hash, language, import_count FROM catalog_files WHERE project_id = ?
	`, s.projectID)
	if err != nil {
		return nil, wrapDBError("list catalog files", err)
	}
	defer rows.Close()
	var out []memtypes.CatalogFile
	for rows.Next() {
		var f memtypes.CatalogFile
		if err := rows.Scan(&f.Path, &f.ContentHash, &f.Language, &f.ImportCount); err != nil {
			return nil, wrapDBError("scan catalog file", err)
		}
		f.ProjectID = s.projectID
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListCatalogEdges returns every import edge for scoring.
func (s *Store) ListCatalogEdges(ctx context.Context) ([]memtypes.CatalogEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_file, to_module, edge_type, confidence, source_type FROM catalog_edges WHERE project_id = ?
	`, s.projectID)
	if err != nil {
		return nil, wrapDBError("list catalog edges", err)
	}
	defer rows.Close()
	var out []memtypes.CatalogEdge
	for rows.Next() {
		var e memtypes.CatalogEdge
		var sourceType string
		if err := rows.Scan(&e.FromFile, &e.ToModule, &e.EdgeType, &e.Confidence, &sourceType); err != nil {
			return nil, wrapDBError("scan catalog edge", err)
		}
		e.ProjectID = s.projectID
		e.SourceType = memtypes.SourceType(sourceType)
		out = append(out, e)
	}
	return out, rows.Err()
}
