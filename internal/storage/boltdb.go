package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/fgeck/gorestart-homelab/internal/models"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketServers     = []byte("servers")
	bucketRuns        = []byte("runs")
	bucketTasks       = []byte("tasks")
	bucketMonitorLogs = []byte("monitor_logs")
)

// maxMonitorLogs is the number of samples kept per server.
const maxMonitorLogs = 1000

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketServers, bucketRuns, bucketTasks, bucketMonitorLogs} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

func get(b *bolt.Bucket, key, kind string, v any) error {
	data := b.Get([]byte(key))
	if data == nil {
		return fmt.Errorf("%s %s: %w", kind, key, ErrNotFound)
	}
	return json.Unmarshal(data, v)
}

// Server operations

// SyncServers replaces the stored inventory with servers.
func (s *BoltStore) SyncServers(ctx context.Context, servers []models.Server) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketServers); err != nil {
			return err
		}
		b, err := tx.CreateBucket(bucketServers)
		if err != nil {
			return err
		}
		for _, srv := range servers {
			if err := put(b, srv.ID, srv); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListServers returns all servers ordered by restart order, then id.
func (s *BoltStore) ListServers(ctx context.Context) ([]models.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var servers []models.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServers).ForEach(func(k, v []byte) error {
			var srv models.Server
			if err := json.Unmarshal(v, &srv); err != nil {
				return err
			}
			servers = append(servers, srv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(servers, func(i, j int) bool {
		if servers[i].RestartOrder != servers[j].RestartOrder {
			return servers[i].RestartOrder < servers[j].RestartOrder
		}
		return servers[i].ID < servers[j].ID
	})
	return servers, nil
}

func (s *BoltStore) GetServer(ctx context.Context, id string) (*models.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var srv models.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketServers), id, "server", &srv)
	})
	if err != nil {
		return nil, err
	}
	return &srv, nil
}

// ListActiveServers resolves ids to active servers in the order requested.
// Unknown, inactive and repeated ids are skipped.
func (s *BoltStore) ListActiveServers(ctx context.Context, ids []string) ([]models.Server, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var servers []models.Server
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketServers)
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			data := b.Get([]byte(id))
			if data == nil {
				continue
			}
			var srv models.Server
			if err := json.Unmarshal(data, &srv); err != nil {
				return err
			}
			if srv.IsActive {
				servers = append(servers, srv)
			}
		}
		return nil
	})
	return servers, err
}

// Run operations

func (s *BoltStore) CreateRun(ctx context.Context, run *models.RestartRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketRuns), run.ID, run)
	})
}

func (s *BoltStore) GetRun(ctx context.Context, id string) (*models.RestartRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var run models.RestartRun
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketRuns), id, "run", &run)
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the newest runs first. A limit <= 0 returns all runs.
func (s *BoltStore) ListRuns(ctx context.Context, limit int) ([]models.RestartRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var runs []models.RestartRun
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var run models.RestartRun
			if err := json.Unmarshal(v, &run); err != nil {
				return err
			}
			runs = append(runs, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartTime.After(runs[j].StartTime)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// FinishRun records the terminal state of a run. It fails with
// ErrRunFinalized if the run already ended.
func (s *BoltStore) FinishRun(ctx context.Context, id string, status models.RunStatus, details models.RunDetails, end time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.IsTerminal() {
		return fmt.Errorf("run %s: %q is not a terminal status", id, status)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		var run models.RestartRun
		if err := get(b, id, "run", &run); err != nil {
			return err
		}
		if !run.Finish(status, details, end) {
			return fmt.Errorf("run %s is %s: %w", id, run.Status, ErrRunFinalized)
		}
		return put(b, id, run)
	})
}

// Task operations

func (s *BoltStore) CreateTask(ctx context.Context, task *models.ScheduledTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := s.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	return s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketTasks), task.ID, task)
	})
}

func (s *BoltStore) GetTask(ctx context.Context, id string) (*models.ScheduledTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var task models.ScheduledTask
	err := s.db.View(func(tx *bolt.Tx) error {
		return get(tx.Bucket(bucketTasks), id, "task", &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasks returns all tasks ordered by scheduled time.
func (s *BoltStore) ListTasks(ctx context.Context) ([]models.ScheduledTask, error) {
	return s.listTasks(ctx, func(models.ScheduledTask) bool { return true })
}

func (s *BoltStore) ListTasksByStatus(ctx context.Context, status models.TaskStatus) ([]models.ScheduledTask, error) {
	return s.listTasks(ctx, func(t models.ScheduledTask) bool { return t.Status == status })
}

func (s *BoltStore) listTasks(ctx context.Context, keep func(models.ScheduledTask) bool) ([]models.ScheduledTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tasks []models.ScheduledTask
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task models.ScheduledTask
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if keep(task) {
				tasks = append(tasks, task)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].ScheduledTime.Before(tasks[j].ScheduledTime)
	})
	return tasks, nil
}

// UpdateTaskStatus moves a pending task to status and returns the updated
// task. runID, when set, is recorded as the task's last run. Tasks that are
// no longer pending are left unchanged and ErrTaskFinalized is returned.
func (s *BoltStore) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus, runID string) (*models.ScheduledTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var task models.ScheduledTask
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if err := get(b, id, "task", &task); err != nil {
			return err
		}
		if task.Status.IsTerminal() {
			return fmt.Errorf("task %s is %s: %w", id, task.Status, ErrTaskFinalized)
		}
		task.Status = status
		if runID != "" {
			task.LastRunID = runID
		}
		task.UpdatedAt = s.now().UTC()
		return put(b, id, task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Monitor log operations

// AppendMonitorLog stores a sample, keeping the newest maxMonitorLogs per server.
func (s *BoltStore) AppendMonitorLog(ctx context.Context, entry models.MonitorLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketMonitorLogs).CreateBucketIfNotExists([]byte(entry.ServerID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := b.Put(seqKey(seq), data); err != nil {
			return err
		}
		if seq > maxMonitorLogs {
			return b.Delete(seqKey(seq - maxMonitorLogs))
		}
		return nil
	})
}

// ListMonitorLogs returns up to limit samples for a server, newest first.
func (s *BoltStore) ListMonitorLogs(ctx context.Context, serverID string, limit int) ([]models.MonitorLog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logs := []models.MonitorLog{}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMonitorLogs).Bucket([]byte(serverID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(logs) >= limit {
				break
			}
			var entry models.MonitorLog
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			logs = append(logs, entry)
		}
		return nil
	})
	return logs, err
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
