package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/perch-obs/perch/pkg/models"
)

const groupColumns = `id, fingerprint, message, app_name, first_seen, last_seen,
	occurrence_count, status, stack_trace_preview`

// UpsertErrorGroup looks the fingerprint up first and bumps the existing
// group; only a novel fingerprint inserts. A lost insert race surfaces as a
// unique violation and is resolved by bumping the winner's row.
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO error_groups (`+groupColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)`,
		newID, g.Fingerprint, g.Message, g.AppName,
		utc(g.FirstSeen), utc(g.LastSeen), status, g.StackTracePreview)
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
	err := s.pool.QueryRow(ctx,
		"SELECT id FROM error_groups WHERE fingerprint = $1", fingerprint).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up error group: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		UPDATE error_groups
		SET occurrence_count = occurrence_count + 1, last_seen = GREATEST(last_seen, $1)
		WHERE id = $2`, utc(seen), id)
	if err != nil {
		return "", fmt.Errorf("bumping error group: %w", err)
	}
	return id, nil
}

func (s *Store) GetErrorGroup(ctx context.Context, id string) (*models.ErrorGroup, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+groupColumns+" FROM error_groups WHERE id = $1", id)
	g, err := scanGroup(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

func (s *Store) QueryErrorGroups(ctx context.Context, f models.ErrorGroupFilter) ([]*models.ErrorGroup, int64, error) {
	f = f.Normalize()

	c := &cond{}
	if f.AppName != "" {
		c.add("app_name = $%d", f.AppName)
	}
	if f.Status != "" {
		c.add("status = $%d", f.Status)
	}
	if f.Search != "" {
		c.add("message ILIKE $%d", "%"+f.Search+"%")
	}

	var total int64
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM error_groups"+c.where(), c.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting error groups: %w", err)
	}

	query := fmt.Sprintf("SELECT "+groupColumns+" FROM error_groups"+c.where()+
		" ORDER BY %s %s LIMIT $%d OFFSET $%d",
		f.SortColumn(), f.SortDirection(), c.next(), c.next()+1)
	rows, err := s.pool.Query(ctx, query, append(c.args, f.Limit, f.Offset)...)
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
	res, err := s.pool.Exec(ctx,
		"UPDATE error_groups SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return false, fmt.Errorf("updating error group status: %w", err)
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) ErrorGroupStats(ctx context.Context, appName string) (*models.ErrorGroupStats, error) {
	stats := &models.ErrorGroupStats{
		ByStatus:    map[string]int64{},
		RecentTrend: []models.TrendPoint{},
	}

	query := "SELECT status, COUNT(*) FROM error_groups"
	var args []any
	if appName != "" {
		query += " WHERE app_name = $1"
		args = append(args, appName)
	}
	rows, err := s.pool.Query(ctx, query+" GROUP BY status", args...)
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
		SELECT to_char(timestamp AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day, COUNT(*)
		FROM logs
		WHERE error_group_id IS NOT NULL AND timestamp >= $1`
	trendArgs := []any{since}
	if appName != "" {
		trendQuery += " AND app_name = $2"
		trendArgs = append(trendArgs, appName)
	}
	trendRows, err := s.pool.Query(ctx, trendQuery+" GROUP BY day ORDER BY day", trendArgs...)
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
	err := sc.Scan(&g.ID, &g.Fingerprint, &g.Message, &g.AppName,
		&g.FirstSeen, &g.LastSeen, &g.OccurrenceCount, &g.Status, &g.StackTracePreview)
	if err != nil {
		return nil, err
	}
	g.FirstSeen = g.FirstSeen.UTC()
	g.LastSeen = g.LastSeen.UTC()
	return &g, nil
}
