package content

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Option keys consulted for the front-page substitution rule.
const (
	OptionShowOnFront  = "show_on_front"
	OptionPageForPosts = "page_for_posts"
)

// SQLiteProvider implements Provider over the platform's content tables in
// the unified SQLite database.
type SQLiteProvider struct {
	db *sql.DB
}

// NewSQLiteProvider creates a content provider on db, bootstrapping the
// content tables when they do not exist yet.
func NewSQLiteProvider(db *sql.DB) (*SQLiteProvider, error) {
	p := &SQLiteProvider{db: db}
	if err := p.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize content schema: %w", err)
	}
	return p, nil
}

func (p *SQLiteProvider) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			post_type TEXT NOT NULL,
			post_status TEXT NOT NULL DEFAULT 'publish',
			post_parent INTEGER NOT NULL DEFAULT 0,
			post_author INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_parent ON posts(post_parent)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_type ON posts(post_type)`,
		`CREATE TABLE IF NOT EXISTS terms (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			taxonomy TEXT NOT NULL DEFAULT 'category',
			parent INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_terms_parent ON terms(parent)`,
		`CREATE TABLE IF NOT EXISTS term_relationships (
			post_id INTEGER NOT NULL,
			term_id INTEGER NOT NULL,
			UNIQUE(post_id, term_id)
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			login TEXT UNIQUE NOT NULL,
			roles TEXT NOT NULL DEFAULT '[]',
			capabilities TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS taxonomies (
			name TEXT PRIMARY KEY,
			hierarchical INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS options (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func parseID(id string) (int64, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

func formatID(n int64) string {
	if n <= 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

// Post returns the post with the given id.
func (p *SQLiteProvider) Post(ctx context.Context, id string) (*Post, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var post Post
	var parent, author int64
	var numericID int64
	err = p.db.QueryRowContext(ctx, `
		SELECT id, post_type, post_status, post_parent, post_author, title
		FROM posts WHERE id = ?
	`, n).Scan(&numericID, &post.Type, &post.Status, &parent, &author, &post.Title)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get post: %w", err)
	}

	post.ID = formatID(numericID)
	post.ParentID = formatID(parent)
	post.AuthorID = formatID(author)
	return &post, nil
}

// PostChildren returns the direct children of a post.
func (p *SQLiteProvider) PostChildren(ctx context.Context, id string) ([]*Post, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, post_type, post_status, post_parent, post_author, title
		FROM posts WHERE post_parent = ? ORDER BY id ASC
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list post children: %w", err)
	}
	defer rows.Close()

	return scanPosts(rows)
}

// PostTerms returns the terms attached to a post.
func (p *SQLiteProvider) PostTerms(ctx context.Context, postID string) ([]*Term, error) {
	n, err := parseID(postID)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.taxonomy, t.parent
		FROM terms t
		JOIN term_relationships tr ON tr.term_id = t.id
		WHERE tr.post_id = ?
		ORDER BY t.id ASC
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list post terms: %w", err)
	}
	defer rows.Close()

	return scanTerms(rows)
}

// PostsWithTerm returns the posts attached to a term.
func (p *SQLiteProvider) PostsWithTerm(ctx context.Context, termID string) ([]*Post, error) {
	n, err := parseID(termID)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT p.id, p.post_type, p.post_status, p.post_parent, p.post_author, p.title
		FROM posts p
		JOIN term_relationships tr ON tr.post_id = p.id
		WHERE tr.term_id = ?
		ORDER BY p.id ASC
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts with term: %w", err)
	}
	defer rows.Close()

	return scanPosts(rows)
}

// EffectivePostParent returns the id of the post's effective parent. A
// top-level entry of type "post" gets the configured "page for posts" as its
// parent when the front page is static, unless it is the posts page itself.
func (p *SQLiteProvider) EffectivePostParent(ctx context.Context, id string) (string, error) {
	post, err := p.Post(ctx, id)
	if err != nil {
		return "", err
	}
	if post.ParentID != "" {
		return post.ParentID, nil
	}
	if post.Type != "post" {
		return "", nil
	}

	showOnFront, err := p.option(ctx, OptionShowOnFront)
	if err != nil || showOnFront != "page" {
		return "", nil
	}
	pageForPosts, err := p.option(ctx, OptionPageForPosts)
	if err != nil || pageForPosts == "" || pageForPosts == id {
		return "", nil
	}
	return pageForPosts, nil
}

// Term returns the term with the given id.
func (p *SQLiteProvider) Term(ctx context.Context, id string) (*Term, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var term Term
	var numericID, parent int64
	err = p.db.QueryRowContext(ctx, `
		SELECT id, name, taxonomy, parent FROM terms WHERE id = ?
	`, n).Scan(&numericID, &term.Name, &term.Taxonomy, &parent)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get term: %w", err)
	}

	term.ID = formatID(numericID)
	term.ParentID = formatID(parent)
	return &term, nil
}

// TermChildren returns the direct children of a term.
func (p *SQLiteProvider) TermChildren(ctx context.Context, id string) ([]*Term, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, taxonomy, parent FROM terms WHERE parent = ? ORDER BY id ASC
	`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to list term children: %w", err)
	}
	defer rows.Close()

	return scanTerms(rows)
}

// User returns the user with the given id.
func (p *SQLiteProvider) User(ctx context.Context, id string) (*User, error) {
	n, err := parseID(id)
	if err != nil {
		return nil, err
	}

	var user User
	var numericID int64
	var rolesJSON, capsJSON string
	err = p.db.QueryRowContext(ctx, `
		SELECT id, login, roles, capabilities FROM users WHERE id = ?
	`, n).Scan(&numericID, &user.Login, &rolesJSON, &capsJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.ID = formatID(numericID)
	json.Unmarshal([]byte(rolesJSON), &user.Roles)
	json.Unmarshal([]byte(capsJSON), &user.Capabilities)
	return &user, nil
}

// UsersWithRole returns every user holding the role. Role membership lives
// in a JSON array column, so candidates are prefiltered with LIKE and
// confirmed against the decoded list.
func (p *SQLiteProvider) UsersWithRole(ctx context.Context, role string) ([]*User, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, login, roles, capabilities FROM users
		WHERE roles LIKE '%' || ? || '%'
		ORDER BY id ASC
	`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list users with role: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var user User
		var numericID int64
		var rolesJSON, capsJSON string
		if err := rows.Scan(&numericID, &user.Login, &rolesJSON, &capsJSON); err != nil {
			return nil, err
		}
		user.ID = formatID(numericID)
		json.Unmarshal([]byte(rolesJSON), &user.Roles)
		json.Unmarshal([]byte(capsJSON), &user.Capabilities)

		for _, r := range user.Roles {
			if r == role {
				users = append(users, &user)
				break
			}
		}
	}
	return users, rows.Err()
}

// IsTaxonomyHierarchical reports whether the taxonomy forms a tree.
// Unregistered taxonomies default to hierarchical.
func (p *SQLiteProvider) IsTaxonomyHierarchical(ctx context.Context, taxonomy string) (bool, error) {
	var hierarchical int
	err := p.db.QueryRowContext(ctx, `
		SELECT hierarchical FROM taxonomies WHERE name = ?
	`, taxonomy).Scan(&hierarchical)
	if err == sql.ErrNoRows {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get taxonomy: %w", err)
	}
	return hierarchical != 0, nil
}

// CreatePost inserts a post and returns its id.
func (p *SQLiteProvider) CreatePost(ctx context.Context, post *Post) (string, error) {
	parent, _ := strconv.ParseInt(post.ParentID, 10, 64)
	author, _ := strconv.ParseInt(post.AuthorID, 10, 64)
	status := post.Status
	if status == "" {
		status = "publish"
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO posts (post_type, post_status, post_parent, post_author, title)
		VALUES (?, ?, ?, ?, ?)
	`, post.Type, status, parent, author, post.Title)
	if err != nil {
		return "", fmt.Errorf("failed to create post: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	post.ID = formatID(id)
	return post.ID, nil
}

// CreateTerm inserts a term and returns its id.
func (p *SQLiteProvider) CreateTerm(ctx context.Context, term *Term) (string, error) {
	parent, _ := strconv.ParseInt(term.ParentID, 10, 64)
	taxonomy := term.Taxonomy
	if taxonomy == "" {
		taxonomy = "category"
	}

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO terms (name, taxonomy, parent) VALUES (?, ?, ?)
	`, term.Name, taxonomy, parent)
	if err != nil {
		return "", fmt.Errorf("failed to create term: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	term.ID = formatID(id)
	return term.ID, nil
}

// CreateUser inserts a user and returns its id.
func (p *SQLiteProvider) CreateUser(ctx context.Context, user *User) (string, error) {
	rolesJSON, _ := json.Marshal(user.Roles)
	capsJSON, _ := json.Marshal(user.Capabilities)

	res, err := p.db.ExecContext(ctx, `
		INSERT INTO users (login, roles, capabilities) VALUES (?, ?, ?)
	`, user.Login, string(rolesJSON), string(capsJSON))
	if err != nil {
		return "", fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return "", err
	}
	user.ID = formatID(id)
	return user.ID, nil
}

// AttachTerm links a post to a term. Re-attaching is a no-op.
func (p *SQLiteProvider) AttachTerm(ctx context.Context, postID, termID string) error {
	pn, err := parseID(postID)
	if err != nil {
		return err
	}
	tn, err := parseID(termID)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO term_relationships (post_id, term_id) VALUES (?, ?)
	`, pn, tn)
	if err != nil {
		return fmt.Errorf("failed to attach term: %w", err)
	}
	return nil
}

// RegisterTaxonomy records whether a taxonomy is hierarchical.
func (p *SQLiteProvider) RegisterTaxonomy(ctx context.Context, name string, hierarchical bool) error {
	h := 0
	if hierarchical {
		h = 1
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO taxonomies (name, hierarchical) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET hierarchical = excluded.hierarchical
	`, name, h)
	if err != nil {
		return fmt.Errorf("failed to register taxonomy: %w", err)
	}
	return nil
}

// SetOption stores a platform option value.
func (p *SQLiteProvider) SetOption(ctx context.Context, name, value string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO options (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, name, value)
	if err != nil {
		return fmt.Errorf("failed to set option: %w", err)
	}
	return nil
}

func (p *SQLiteProvider) option(ctx context.Context, name string) (string, error) {
	var value string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM options WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func scanPosts(rows *sql.Rows) ([]*Post, error) {
	var posts []*Post
	for rows.Next() {
		var post Post
		var numericID, parent, author int64
		if err := rows.Scan(&numericID, &post.Type, &post.Status, &parent, &author, &post.Title); err != nil {
			logrus.WithError(err).Error("Failed to scan post row")
			return nil, err
		}
		post.ID = formatID(numericID)
		post.ParentID = formatID(parent)
		post.AuthorID = formatID(author)
		posts = append(posts, &post)
	}
	return posts, rows.Err()
}

func scanTerms(rows *sql.Rows) ([]*Term, error) {
	var terms []*Term
	for rows.Next() {
		var term Term
		var numericID, parent int64
		if err := rows.Scan(&numericID, &term.Name, &term.Taxonomy, &parent); err != nil {
			logrus.WithError(err).Error("Failed to scan term row")
			return nil, err
		}
		term.ID = formatID(numericID)
		term.ParentID = formatID(parent)
		terms = append(terms, &term)
	}
	return terms, rows.Err()
}
