package usergroup

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Store persists user groups and their object assignments in SQLite.
//
// Two tables: user_groups (id, name, description, read_access, write_access,
// ip_range) and group_to_object (object_id, object_type, group_id) with a
// composite uniqueness constraint so re-inserting an assignment is a no-op.
type Store struct {
	db *sql.DB
}

// NewStore creates a group store on db, bootstrapping the tables when they
// do not exist yet.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize group schema: %w", err)
	}
	logrus.Debug("User group store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			read_access TEXT NOT NULL DEFAULT 'group',
			write_access TEXT NOT NULL DEFAULT 'group',
			ip_range TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS group_to_object (
			object_id TEXT NOT NULL,
			object_type TEXT NOT NULL,
			group_id INTEGER NOT NULL,
			UNIQUE(object_id, object_type, group_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_group_to_object_group ON group_to_object(group_id, object_type)`,
		`CREATE INDEX IF NOT EXISTS idx_group_to_object_object ON group_to_object(object_type, object_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying handle for bulk queries joining the group
// tables against the content tables.
func (s *Store) DB() *sql.DB {
	return s.db
}

// CreateGroup inserts a new group row and assigns its id.
func (s *Store) CreateGroup(ctx context.Context, g *Group) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_groups (name, description, read_access, write_access, ip_range)
		VALUES (?, ?, ?, ?, ?)
	`, g.Name, g.Description, string(g.ReadAccess), string(g.WriteAccess), strings.Join(g.IPRanges, ";"))
	if err != nil {
		return fmt.Errorf("failed to create user group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	g.ID = id
	return nil
}

// UpdateGroup updates an existing group row.
func (s *Store) UpdateGroup(ctx context.Context, g *Group) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE user_groups
		SET name = ?, description = ?, read_access = ?, write_access = ?, ip_range = ?
		WHERE id = ?
	`, g.Name, g.Description, string(g.ReadAccess), string(g.WriteAccess), strings.Join(g.IPRanges, ";"), g.ID)
	if err != nil {
		return fmt.Errorf("failed to update user group: %w", err)
	}
	return nil
}

// DeleteGroup removes the group row and all of its assignment rows.
func (s *Store) DeleteGroup(ctx context.Context, groupID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_to_object WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("failed to delete group assignments: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM user_groups WHERE id = ?`, groupID); err != nil {
		return fmt.Errorf("failed to delete user group: %w", err)
	}

	return tx.Commit()
}

// GetGroup returns the persisted group with the given id, without
// collaborators attached.
func (s *Store) GetGroup(ctx context.Context, groupID int64) (*Group, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, read_access, write_access, ip_range
		FROM user_groups WHERE id = ?
	`, groupID)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user group: %w", err)
	}
	return g, nil
}

// ListGroups returns all persisted groups by ascending id, without
// collaborators attached.
func (s *Store) ListGroups(ctx context.Context) ([]*Group, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, read_access, write_access, ip_range
		FROM user_groups ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user groups: %w", err)
	}
	defer rows.Close()

	var groups []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGroup(row rowScanner) (*Group, error) {
	var g Group
	var readAccess, writeAccess, ipRange string
	if err := row.Scan(&g.ID, &g.Name, &g.Description, &readAccess, &writeAccess, &ipRange); err != nil {
		return nil, err
	}
	g.ReadAccess = Policy(readAccess)
	g.WriteAccess = Policy(writeAccess)
	if ipRange != "" {
		g.IPRanges = strings.Split(ipRange, ";")
	}
	return &g, nil
}

// AssignedIDs returns the object ids directly assigned to the group for one
// object type.
func (s *Store) AssignedIDs(ctx context.Context, groupID int64, objectType string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT object_id FROM group_to_object
		WHERE group_id = ? AND object_type = ?
		ORDER BY object_id ASC
	`, groupID, objectType)
	if err != nil {
		return nil, fmt.Errorf("failed to load group assignments: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AssignedTypes returns the distinct object types with assignments for the
// group.
func (s *Store) AssignedTypes(ctx context.Context, groupID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT object_type FROM group_to_object WHERE group_id = ?
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignment types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var objectType string
		if err := rows.Scan(&objectType); err != nil {
			return nil, err
		}
		types = append(types, objectType)
	}
	return types, rows.Err()
}

// ReplaceAssignments deletes every assignment row of the group and inserts
// the given per-type id sets in one transaction.
func (s *Store) ReplaceAssignments(ctx context.Context, groupID int64, assignments map[string][]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM group_to_object WHERE group_id = ?`, groupID); err != nil {
		return fmt.Errorf("failed to clear group assignments: %w", err)
	}
	if err := insertAssignments(ctx, tx, groupID, assignments); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertAssignments inserts the given per-type id sets, leaving existing
// rows intact. Duplicates are ignored.
func (s *Store) InsertAssignments(ctx context.Context, groupID int64, assignments map[string][]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertAssignments(ctx, tx, groupID, assignments); err != nil {
		return err
	}
	return tx.Commit()
}

func insertAssignments(ctx context.Context, tx *sql.Tx, groupID int64, assignments map[string][]string) error {
	for objectType, ids := range assignments {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO group_to_object (object_id, object_type, group_id)
				VALUES (?, ?, ?)
			`, id, objectType, groupID); err != nil {
				return fmt.Errorf("failed to insert assignment: %w", err)
			}
		}
	}
	return nil
}

// AssignmentCount returns the number of assignment rows for a group, across
// all object types.
func (s *Store) AssignmentCount(ctx context.Context, groupID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM group_to_object WHERE group_id = ?
	`, groupID).Scan(&count)
	return count, err
}

// GroupIDsForObject returns the ids of groups the object is directly
// assigned to.
func (s *Store) GroupIDsForObject(ctx context.Context, objectType, objectID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM group_to_object
		WHERE object_type = ? AND object_id = ?
		ORDER BY group_id ASC
	`, objectType, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to load groups for object: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
