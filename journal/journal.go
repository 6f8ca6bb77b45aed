// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package journal

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/sciops/fod/config"
)

// This is the call journal. Every adapter invocation a worker makes
// (filecopy, stat, unlink, bring_online_poll) is appended here
// under its task id, so a task that fails after several retries leaves its
// full call history on disk for postmortem even if the process restarts
// before the task reaches a terminal status.

// Entry records one adapter call made on behalf of a task.
type Entry struct {
	TaskId        int64
	Operation     string // "filecopy", "stat", "unlink", "bring_online_poll"
	ExitCode      int
	Start, Finish time.Time
	Message       string
	Log           string
}

// Init opens the call journal, creating its backing file under the daemon's
// data directory if necessary.
func Init() error {
	if !IsOpen() {
		go journalProcess()
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// Finalize saves and closes the call journal (if it's been opened).
func Finalize() error {
	if IsOpen() {
		channels_.Input.Shutdown <- struct{}{}
		closeChannels()
	}
	return nil
}

// IsOpen returns true if the journal is open for writing, false if not.
func IsOpen() bool {
	if channels_.Open { // has Init() been called?
		channels_.Input.CheckIfOpen <- struct{}{}
		select {
		case isOpen := <-channels_.Output.IsOpen:
			return isOpen
		case <-time.After(1 * time.Second): // after a second, assume the goroutine crashed
			closeChannels()
			return false
		}
	}
	return false
}

// RecordCall appends one adapter call entry under its task id.
func RecordCall(entry Entry) error {
	if !IsOpen() {
		return &NotOpenError{}
	}
	channels_.Input.CreateEntry <- entry
	return <-channels_.Output.Error
}

// History retrieves every recorded call for a task, ordered from oldest to
// newest.
func History(taskId int64) ([]Entry, error) {
	if !IsOpen() {
		return nil, &NotOpenError{}
	}
	channels_.Input.FetchHistory <- taskId
	select {
	case entries := <-channels_.Output.Entries:
		return entries, nil
	case err := <-channels_.Output.Error:
		return nil, err
	}
}

//-----------
// Internals
//-----------

// The bbolt database gets its own goroutine so it doesn't bring down the
// entire daemon if it crashes. Input channels carry requests in; output
// channels carry responses back.

var channels_ struct {
	Open  bool // true if channels are open, false if not
	Input struct {
		CreateEntry  chan Entry    // for appending a new call entry
		CheckIfOpen  chan struct{} // for checking whether the database is open
		FetchHistory chan int64    // for fetching a task's call history
		Shutdown     chan struct{} // for shutting down the database
	}

	Output struct {
		Entries chan []Entry // for returning a task's call history
		Error   chan error   // for returning errors
		IsOpen  chan bool    // for answering queries about whether the database is open
	}
}

const bucketName = "calls"

func journalProcess() {
	dbPath := filepath.Join(config.FileOperations.Daemon.DataDirectory,
		fmt.Sprintf("%s-journal.db", config.FileOperations.Daemon.Name))
	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		channels_.Output.Error <- &CantOpenError{Message: err.Error()}
	}

	db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})

	openChannels()

	running := true
	for running {
		select {

		case <-channels_.Input.CheckIfOpen:
			channels_.Output.IsOpen <- true // always true if this goroutine is running!

		case entry := <-channels_.Input.CreateEntry:
			err := createEntry(db, entry)
			channels_.Output.Error <- err

		case taskId := <-channels_.Input.FetchHistory:
			entries, err := fetchHistory(db, taskId)
			if err != nil {
				channels_.Output.Error <- err
			} else {
				channels_.Output.Entries <- entries
			}

		case <-channels_.Input.Shutdown:
			err := db.Close()
			if err != nil {
				channels_.Output.Error <- &CantCloseError{Message: err.Error()}
			}
			running = false
		}
	}
}

func openChannels() {
	channels_.Open = true
	channels_.Input.CreateEntry = make(chan Entry)
	channels_.Input.CheckIfOpen = make(chan struct{})
	channels_.Input.FetchHistory = make(chan int64)
	channels_.Input.Shutdown = make(chan struct{})
	channels_.Output.Entries = make(chan []Entry)
	channels_.Output.Error = make(chan error)
	channels_.Output.IsOpen = make(chan bool)
}

func closeChannels() {
	channels_.Open = false
	close(channels_.Input.CreateEntry)
	close(channels_.Input.CheckIfOpen)
	close(channels_.Input.FetchHistory)
	close(channels_.Input.Shutdown)
	close(channels_.Output.Entries)
	close(channels_.Output.Error)
	close(channels_.Output.IsOpen)
}

// entryKey prefixes the zero-padded task id and then appends the start time,
// so every key in the bucket sorts by (taskId, start) and a prefix scan over
// a single task's entries is a single cursor walk.
func entryKey(taskId int64, start time.Time) []byte {
	return []byte(fmt.Sprintf("%020d/%s", taskId, start.Format(time.RFC3339Nano)))
}

func createEntry(db *bolt.DB, entry Entry) error {
	tx, err := db.Begin(true)
	if err != nil {
		return &NewEntryError{TaskId: entry.TaskId, Message: err.Error()}
	}
	defer tx.Rollback()

	bucket := tx.Bucket([]byte(bucketName))
	value, err := json.Marshal(entry)
	if err != nil {
		return &NewEntryError{TaskId: entry.TaskId, Message: err.Error()}
	}
	if err := bucket.Put(entryKey(entry.TaskId, entry.Start), value); err != nil {
		return &NewEntryError{TaskId: entry.TaskId, Message: err.Error()}
	}
	return tx.Commit()
}

func fetchHistory(db *bolt.DB, taskId int64) ([]Entry, error) {
	entries := make([]Entry, 0)
	err := db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		prefix := []byte(fmt.Sprintf("%020d/", taskId))
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var entry Entry
			if err := json.Unmarshal(v, &entry); err != nil {
				return &InvalidEntryError{TaskId: taskId, Message: err.Error()}
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

func hasPrefix(k, prefix []byte) bool {
	if len(k) < len(prefix) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}
