// Package auth implements a service for authenticating admin requests.
// Credentials live in BoltDB, one bucket per username.
package auth

import (
	"fmt"
	"os"

	"github.com/boltdb/bolt"
	"github.com/charmbracelet/log"
)

const hashKey = "hash"

// Users is a store that interacts with the credentials database.
type Users struct {
	db     *bolt.DB
	logger *log.Logger
}

// Connect connects to the database.
func (u *Users) Connect(dbName string, mode os.FileMode, options *bolt.Options) (err error) {
	u.db, err = bolt.Open(dbName, mode, options)
	return
}

// Close closes the database connection.
func (u *Users) Close() (err error) {
	err = u.db.Close()
	return
}

// SetLogger sets the logger.
func (u *Users) SetLogger(logger *log.Logger) {
	u.logger = logger
}

// InsertUser inserts a new user into the database.
func (u *Users) InsertUser(username, hash string) (err error) {
	err = u.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucket([]byte(username))
		if err != nil {
			return fmt.Errorf("create bucket \"%s\": %w", username, err)
		}
		if err = b.Put([]byte(hashKey), []byte(hash)); err != nil {
			return fmt.Errorf("put hash: %w", err)
		}
		return nil
	})
	return
}

// GetHash gets the password hash for a given username.
func (u *Users) GetHash(username string) (hash string, err error) {
	err = u.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(username))
		if b == nil {
			return fmt.Errorf("bucket \"%s\" does not exist", username)
		}
		hash = string(b.Get([]byte(hashKey)))
		return nil
	})
	return
}

// ChangePassword changes the password hash for a given username.
func (u *Users) ChangePassword(username, hash string) (err error) {
	err = u.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(username))
		if b == nil {
			return fmt.Errorf("bucket \"%s\" does not exist", username)
		}
		if err := b.Put([]byte(hashKey), []byte(hash)); err != nil {
			return fmt.Errorf("put hash: %w", err)
		}
		return nil
	})
	return
}

// DeleteUser removes a user from the database.
func (u *Users) DeleteUser(username string) (err error) {
	err = u.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket([]byte(username)); err != nil {
			return fmt.Errorf("delete bucket \"%s\": %w", username, err)
		}
		return nil
	})
	return
}

// Empty reports whether no users exist yet.
func (u *Users) Empty() (empty bool, err error) {
	empty = true
	err = u.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(_ []byte, _ *bolt.Bucket) error {
			empty = false
			return nil
		})
	})
	return
}
