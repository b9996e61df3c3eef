package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/perch-obs/perch/pkg/models"
)

const groupColumns = `id, fingerprint, message, app_name, first_seen, last_seen,
	occurrence_count, status, stack_trace_preview`

// UpsertErrorGroup looks the fingerprint up first and bumps the existing
// group; only a novel fingerprint inserts. A lost insert race surfaces as a
// duplicate-entry error and is resolved by bumping the winner's row.
func (s *Store) UpsertErrorGroup(ctx context.Context, g *models.ErrorGroup) (string, error) {
	id, err := s.bumpGroup(ctx, g.Fingerprint, g.LastSeen)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}

	newID := g.ID
	if newID == "" {
		newID = uuid.NewString()
	}
	status := g.Status
	if status == "" {
		status = models.StatusUnreviewed
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO error_groups (`+groupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		newID, g.Fingerprint, g.Message, g.AppName,
		g.FirstSeen.UTC(), g.LastSeen.UTC(), status, g.StackTracePreview)
	if err != nil {
		if isUniqueViolation(err) {
			id, err2 := s.bumpGroup(ctx, g.Fingerprint, g.LastSeen)
			if err2 != nil {
				return "", err2
			}
			if id != "" {
				return id, nil
			}
		}
		return "", fmt.Errorf("inserting error group: %w", err)
	}
	return newID, nil
}

func (s *Store) bumpGroup(ctx context.Context, fingerprint string, seen time.Time) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM error_groups WHERE fingerprint = ?", fingerprint).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up error group: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE error_groups
		SET occurrence_count = occurrence_count + 1, last_seen = GREATEST(last_seen, ?)
		WHERE id = ?`, seen.UTC(), id)
	if err != nil {
		return "", fmt.Errorf("bumping error group: %w", err)
	}
	return id, nil
}

func (s *Store) GetErrorGroup(ctx context.Context, id string) (*models.ErrorGroup, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM error_groups WHERE id = ?", id)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) QueryErrorGroups(ctx context.Context, f models.ErrorGroupFilter) ([]*models.ErrorGroup, int64, error) {
	f = f.Normalize()

	var conds []string
	var args []any
	if f.AppName != "" {
		conds = append(conds, "app_name = ?")
		args = append(args, f.AppName)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Search != "" {
		conds = append(conds, "message LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM error_groups"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting error groups: %w", err)
	}

	query := "SELECT " + groupColumns + " FROM error_groups" + where +
		" ORDER BY " + f.SortColumn() + " " + f.SortDirection() + " LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying error groups: %w", err)
	}
	defer rows.Close()

	groups := make([]*models.ErrorGroup, 0, f.Limit)
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, 0, err
		}
		groups = append(groups, g)
	}
	return groups, total, rows.Err()
}

func (s *Store) UpdateErrorGroupStatus(ctx context.Context, id, status string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE error_groups SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return false, fmt.Errorf("updating error group status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) ErrorGroupStats(ctx context.Context, appName string) (*models.ErrorGroupStats, error) {
	stats := &models.ErrorGroupStats{
		ByStatus:    map[string]int64{},
		RecentTrend: []models.TrendPoint{},
	}

	query := "SELECT status, COUNT(*) FROM error_groups"
	var args []any
	if appName != "" {
		query += " WHERE app_name = ?"
		args = append(args, appName)
	}
	rows, err := s.db.QueryContext(ctx, query+" GROUP BY status", args...)
	if err != nil {
		return nil, fmt.Errorf("querying group stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	since := time.Now().UTC().AddDate(0, 0, -6).Truncate(24 * time.Hour)
	trendQuery := `
		SELECT DATE_FORMAT(timestamp, '%Y-%m-%d') AS day, COUNT(*)
		FROM logs
		WHERE error_group_id IS NOT NULL AND timestamp >= ?`
	trendArgs := []any{since}
	if appName != "" {
		trendQuery += " AND app_name = ?"
		trendArgs = append(trendArgs, appName)
	}
	trendRows, err := s.db.QueryContext(ctx, trendQuery+" GROUP BY day ORDER BY day", trendArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying error trend: %w", err)
	}
	defer trendRows.Close()
	for trendRows.Next() {
		var p models.TrendPoint
		if err := trendRows.Scan(&p.Day, &p.Count); err != nil {
			return nil, err
		}
		stats.RecentTrend = append(stats.RecentTrend, p)
	}
	return stats, trendRows.Err()
}

func scanGroup(sc scanner) (*models.ErrorGroup, error) {
	var g models.ErrorGroup
	var preview sql.NullString
	err := sc.Scan(&g.ID, &g.Fingerprint, &g.Message, &g.AppName,
		&g.FirstSeen, &g.LastSeen, &g.OccurrenceCount, &g.Status, &preview)
	if err != nil {
		return nil, err
	}
	g.FirstSeen = g.FirstSeen.UTC()
	g.LastSeen = g.LastSeen.UTC()
	g.StackTracePreview = preview.String
	return &g, nil
}
