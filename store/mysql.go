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

package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/sciops/fod/tasks"
	"github.com/sciops/fod/worker"
)

// RealStore is the MySQL-backed implementation of Store. The daemon's
// connection is kept single-threaded in practice (serialized by the
// scheduler and its collectors); Open only caps connection lifetime and idle
// connections and leaves database/sql's other pool settings at their
// defaults, since nothing here issues concurrent writes to the same row.
type RealStore struct {
	db *sql.DB
}

var _ Store = (*RealStore)(nil)

// Open connects to MySQL using dsn (as produced by config's DSN method) and
// verifies the connection with a ping.
func Open(dsn string) (*RealStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetConnMaxLifetime(time.Minute * 3)
	db.SetMaxIdleConns(4)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return &RealStore{db: db}, nil
}

func (s *RealStore) Close() error {
	return s.db.Close()
}

func (s *RealStore) transferStatus(id int64) (tasks.TransferStatus, error) {
	var status tasks.TransferStatus
	err := s.db.QueryRow(`SELECT status FROM standalone_transfer_tasks WHERE id=?`, id).Scan(&status)
	return status, err
}

func (s *RealStore) deletionStatus(id int64) (tasks.DeletionStatus, error) {
	var status tasks.DeletionStatus
	err := s.db.QueryRow(`SELECT status FROM standalone_deletion_tasks WHERE id=?`, id).Scan(&status)
	return status, err
}

// checkTransferTransition refuses a write that would take a transfer task
// across an edge tasks.ValidTransferTransition forbids -- most importantly,
// active -> cancelled, which would otherwise let a crashed worker or a
// failed markActive write overwrite an already-active row as cancelled.
func (s *RealStore) checkTransferTransition(id int64, to tasks.TransferStatus) error {
	from, err := s.transferStatus(id)
	if err != nil {
		return fmt.Errorf("reading current status for transfer %d: %w", id, err)
	}
	if !tasks.ValidTransferTransition(from, to) {
		return tasks.InvalidTransferTransitionError{Id: id, From: from, To: to}
	}
	return nil
}

// checkDeletionTransition is the deletion-task analogue of
// checkTransferTransition.
func (s *RealStore) checkDeletionTransition(id int64, to tasks.DeletionStatus) error {
	from, err := s.deletionStatus(id)
	if err != nil {
		return fmt.Errorf("reading current status for deletion %d: %w", id, err)
	}
	if !tasks.ValidDeletionTransition(from, to) {
		return tasks.InvalidDeletionTransitionError{Id: id, From: from, To: to}
	}
	return nil
}

func (s *RealStore) NewDeletions() ([]DeletionRow, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.file, b.site
		FROM standalone_deletion_tasks t
		JOIN deletion_tasks dt ON dt.id = t.id
		JOIN standalone_deletion_batches b ON b.batch_id = dt.batch_id
		WHERE t.status = 'new'
		ORDER BY b.site, t.id`)
	if err != nil {
		return nil, fmt.Errorf("querying new deletions: %w", err)
	}
	defer rows.Close()

	var out []DeletionRow
	for rows.Next() {
		var r DeletionRow
		if err := rows.Scan(&r.Id, &r.File, &r.Site); err != nil {
			return nil, fmt.Errorf("scanning deletion row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RealStore) MarkDeletionQueued(id int64) error {
	if err := s.checkDeletionTransition(id, tasks.DeletionQueued); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE standalone_deletion_tasks SET status='queued' WHERE id=?`, id)
	return err
}

func (s *RealStore) DeletionQueuedIds() ([]int64, error) {
	return s.queuedIds("standalone_deletion_tasks")
}

func (s *RealStore) MarkDeletionActive(id int64) error {
	if err := s.checkDeletionTransition(id, tasks.DeletionActive); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE standalone_deletion_tasks SET status='active' WHERE id=?`, id)
	return err
}

func (s *RealStore) WriteDeletionResult(id int64, out worker.Outcome) error {
	if out.Cancelled {
		return nil
	}
	status := tasks.DeletionStatusFromExitCode(out.ExitCode)
	if err := s.checkDeletionTransition(id, status); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		UPDATE standalone_deletion_tasks
		SET status=?, exitcode=?, message=?, start_time=?, finish_time=?
		WHERE id=?`,
		status, out.ExitCode, out.Message, unixOrNull(out.Start), unixOrNull(out.Finish), id)
	return err
}

func (s *RealStore) TapeBatchesNeedingStage() ([]TapeBatch, error) {
	batchRows, err := s.db.Query(`
		SELECT batch_id, source_site
		FROM standalone_transfer_batches
		WHERE mss_source=1 AND stage_token IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("querying tape batches: %w", err)
	}
	defer batchRows.Close()

	var batches []TapeBatch
	for batchRows.Next() {
		var b TapeBatch
		if err := batchRows.Scan(&b.BatchId, &b.SourceSite); err != nil {
			return nil, fmt.Errorf("scanning tape batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err := batchRows.Err(); err != nil {
		return nil, err
	}

	for i := range batches {
		taskRows, err := s.db.Query(`
			SELECT t.id, t.source
			FROM standalone_transfer_tasks t
			JOIN transfer_tasks tt ON tt.id = t.id
			WHERE tt.batch_id = ?`, batches[i].BatchId)
		if err != nil {
			return nil, fmt.Errorf("querying batch %s tasks: %w", batches[i].BatchId, err)
		}
		batches[i].TaskIdByPFN = make(map[string]int64)
		for taskRows.Next() {
			var id int64
			var pfn string
			if err := taskRows.Scan(&id, &pfn); err != nil {
				taskRows.Close()
				return nil, fmt.Errorf("scanning batch %s task: %w", batches[i].BatchId, err)
			}
			batches[i].PFNs = append(batches[i].PFNs, pfn)
			batches[i].TaskIdByPFN[pfn] = id
		}
		taskRows.Close()
	}
	return batches, nil
}

func (s *RealStore) SetBatchStageToken(batchId, token string) error {
	_, err := s.db.Exec(`UPDATE standalone_transfer_batches SET stage_token=? WHERE batch_id=?`, token, batchId)
	return err
}

func (s *RealStore) SetTaskStaging(taskId int64) error {
	if err := s.checkTransferTransition(taskId, tasks.TransferStaging); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE standalone_transfer_tasks SET status='staging' WHERE id=?`, taskId)
	return err
}

func (s *RealStore) SetTaskFailedNoTiming(taskId int64, message string) error {
	if err := s.checkTransferTransition(taskId, tasks.TransferFailed); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE standalone_transfer_tasks SET status='failed', exitcode=-1, message=? WHERE id=?`,
		message, taskId)
	return err
}

func (s *RealStore) StagingTasks() ([]StageRow, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.source, b.stage_token, b.source_site
		FROM standalone_transfer_tasks t
		JOIN transfer_tasks tt ON tt.id = t.id
		JOIN standalone_transfer_batches b ON b.batch_id = tt.batch_id
		WHERE t.status = 'staging'
		ORDER BY b.source_site, t.id`)
	if err != nil {
		return nil, fmt.Errorf("querying staging tasks: %w", err)
	}
	defer rows.Close()

	var out []StageRow
	for rows.Next() {
		var r StageRow
		if err := rows.Scan(&r.TaskId, &r.PFN, &r.Token, &r.SourceSite); err != nil {
			return nil, fmt.Errorf("scanning staging row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RealStore) WriteStageResult(id int64, out worker.Outcome) error {
	if out.Staged {
		if err := s.checkTransferTransition(id, tasks.TransferStaged); err != nil {
			return err
		}
		_, err := s.db.Exec(`
			UPDATE standalone_transfer_tasks
			SET status='staged'
			WHERE id=?`, id)
		return err
	}
	if out.ExitCode != 0 {
		if err := s.checkTransferTransition(id, tasks.TransferFailed); err != nil {
			return err
		}
		_, err := s.db.Exec(`
			UPDATE standalone_transfer_tasks
			SET status='failed', exitcode=?, message=?
			WHERE id=?`, out.ExitCode, out.Message, id)
		return err
	}
	// pending poll: silent no-op
	return nil
}

func (s *RealStore) RunnableTransfers() ([]TransferRow, error) {
	rows, err := s.db.Query(`
		SELECT t.id, t.source, t.destination, t.checksum_algo, t.checksum,
		       b.source_site, b.destination_site
		FROM standalone_transfer_tasks t
		JOIN transfer_tasks tt ON tt.id = t.id
		JOIN standalone_transfer_batches b ON b.batch_id = tt.batch_id
		WHERE (t.status = 'new' AND b.mss_source = 0) OR t.status = 'staged'
		ORDER BY b.source_site, b.destination_site, t.id`)
	if err != nil {
		return nil, fmt.Errorf("querying runnable transfers: %w", err)
	}
	defer rows.Close()

	var out []TransferRow
	for rows.Next() {
		var r TransferRow
		var checksumAlgo, checksum sql.NullString
		if err := rows.Scan(&r.Id, &r.Source, &r.Destination, &checksumAlgo, &checksum,
			&r.SourceSite, &r.DestSite); err != nil {
			return nil, fmt.Errorf("scanning transfer row: %w", err)
		}
		r.ChecksumAlgo = checksumAlgo.String
		r.Checksum = checksum.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RealStore) MarkTransferQueued(id int64) error {
	if err := s.checkTransferTransition(id, tasks.TransferQueued); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE standalone_transfer_tasks SET status='queued' WHERE id=?`, id)
	return err
}

func (s *RealStore) TransferQueuedIds() ([]int64, error) {
	return s.queuedIds("standalone_transfer_tasks")
}

func (s *RealStore) MarkTransferActive(id int64) error {
	if err := s.checkTransferTransition(id, tasks.TransferActive); err != nil {
		return err
	}
	_, err := s.db.Exec(`UPDATE standalone_transfer_tasks SET status='active' WHERE id=?`, id)
	return err
}

func (s *RealStore) WriteTransferResult(id int64, out worker.Outcome) error {
	if out.Cancelled {
		return nil
	}
	status := tasks.StatusFromExitCode(out.ExitCode)
	if err := s.checkTransferTransition(id, status); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		UPDATE standalone_transfer_tasks
		SET status=?, exitcode=?, message=?, start_time=?, finish_time=?
		WHERE id=?`,
		status, out.ExitCode, out.Message, unixOrNull(out.Start), unixOrNull(out.Finish), id)
	return err
}

func (s *RealStore) CrashRecover() error {
	if _, err := s.db.Exec(`UPDATE standalone_transfer_tasks SET status='new' WHERE status IN ('queued','active')`); err != nil {
		return fmt.Errorf("recovering transfer tasks: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE standalone_deletion_tasks SET status='new' WHERE status IN ('queued','active')`); err != nil {
		return fmt.Errorf("recovering deletion tasks: %w", err)
	}
	return nil
}

func (s *RealStore) queuedIds(table string) ([]int64, error) {
	rows, err := s.db.Query(fmt.Sprintf(`SELECT id FROM %s WHERE status='queued'`, table))
	if err != nil {
		return nil, fmt.Errorf("querying queued ids from %s: %w", table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning queued id from %s: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func unixOrNull(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Unix()
}
