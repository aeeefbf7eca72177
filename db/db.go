package db

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"chatd/models"
)

var ErrNoRows = errors.New("no rows found")

// DB is the durable side of the server: the post store plus the static
// contact and room directories loaded at startup.
type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY NOT NULL,
			timestamp INTEGER NOT NULL,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			body TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_timestamp ON posts(timestamp)`,
		`CREATE TABLE IF NOT EXISTS contacts (
			login TEXT PRIMARY KEY NOT NULL,
			avatar BLOB
		)`,
		`CREATE TABLE IF NOT EXISTS rooms (
			name TEXT PRIMARY KEY NOT NULL,
			logins TEXT NOT NULL DEFAULT ''
		)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// Post methods

// AddOrReplacePost upserts a post keyed by id. New messages and edits go
// through the same path.
func (db *DB) AddOrReplacePost(p models.Post) error {
	_, err := db.conn.Exec(
		`INSERT INTO posts (id, timestamp, sender, recipient, body) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET timestamp = excluded.timestamp,
		 sender = excluded.sender, recipient = excluded.recipient, body = excluded.body`,
		p.ID.String(), p.Timestamp, p.From, p.To, p.Body,
	)
	return err
}

// RemovePost hard-deletes a record. Call sites generally prefer the
// tombstone edit; this exists for completeness.
func (db *DB) RemovePost(id uuid.UUID) error {
	result, err := db.conn.Exec("DELETE FROM posts WHERE id = ?", id.String())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

func (db *DB) PostByID(id uuid.UUID) (models.Post, error) {
	row := db.conn.QueryRow(
		"SELECT id, timestamp, sender, recipient, body FROM posts WHERE id = ?",
		id.String(),
	)
	p, err := scanPost(row)
	if err == sql.ErrNoRows {
		return models.Post{}, ErrNoRows
	}
	return p, err
}

// PostsSince returns posts with timestamp >= ts in ascending timestamp order.
func (db *DB) PostsSince(ts int64) ([]models.Post, error) {
	return db.queryPosts(
		"SELECT id, timestamp, sender, recipient, body FROM posts WHERE timestamp >= ? ORDER BY timestamp ASC",
		ts,
	)
}

// AllPosts is the startup full scan used to repopulate the in-memory cache.
func (db *DB) AllPosts() ([]models.Post, error) {
	return db.queryPosts(
		"SELECT id, timestamp, sender, recipient, body FROM posts ORDER BY timestamp ASC",
	)
}

func (db *DB) queryPosts(query string, args ...any) ([]models.Post, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var posts []models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}

	return posts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (models.Post, error) {
	var idStr string
	var p models.Post
	if err := row.Scan(&idStr, &p.Timestamp, &p.From, &p.To, &p.Body); err != nil {
		return models.Post{}, err
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return models.Post{}, err
	}
	p.ID = id
	return p, nil
}

// Directory methods

// LoadContacts reads the whole contact table.
func (db *DB) LoadContacts() ([]models.Contact, error) {
	rows, err := db.conn.Query("SELECT login, avatar FROM contacts ORDER BY login")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.Login, &c.Avatar); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}

	return contacts, rows.Err()
}

// LoadRooms reads the room table; logins is a comma-separated membership
// list, empty meaning public.
func (db *DB) LoadRooms() ([]models.Room, error) {
	rows, err := db.conn.Query("SELECT name, logins FROM rooms ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []models.Room
	for rows.Next() {
		var name, logins string
		if err := rows.Scan(&name, &logins); err != nil {
			return nil, err
		}
		room := models.Room{Name: name}
		if logins != "" {
			for _, login := range strings.Split(logins, ",") {
				room.Add(login)
			}
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

// SaveContact upserts a contact row (login and avatar; presence is not
// persisted). Used for avatars learned from CONT events and for contacts
// gossiped by peers.
func (db *DB) SaveContact(c models.Contact) error {
	_, err := db.conn.Exec(
		`INSERT INTO contacts (login, avatar) VALUES (?, ?)
		 ON CONFLICT(login) DO UPDATE SET avatar = excluded.avatar`,
		c.Login, c.Avatar,
	)
	return err
}

// SeedDefaults fills empty directory tables with the default roster and
// rooms. A populated database is left untouched.
func (db *DB) SeedDefaults() error {
	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM contacts").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	logins := []string{"mickey", "minnie", "dingo", "riri", "fifi", "loulou", "donald", "daisy", "picsou"}
	for _, login := range logins {
		if _, err := db.conn.Exec("INSERT INTO contacts (login) VALUES (?)", login); err != nil {
			return err
		}
	}

	rooms := map[string]string{
		"#all":     "riri,fifi,loulou,donald,daisy,picsou,mickey,minnie,dingo",
		"#juniors": "riri,fifi,loulou",
		"#ducks":   "riri,fifi,loulou,donald,daisy,picsou",
		"#mice":    "mickey,minnie",
	}
	for name, members := range rooms {
		if _, err := db.conn.Exec("INSERT INTO rooms (name, logins) VALUES (?, ?)", name, members); err != nil {
			return err
		}
	}

	return nil
}
