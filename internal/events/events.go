package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/angariumd/intake/internal/db"
	"github.com/angariumd/intake/internal/models"
)

const (
	TypeJobQueued        = "JOB_QUEUED"
	TypeJobRejected      = "JOB_REJECTED"
	TypeProcessingFailed = "PROCESSING_FAILED"
)

// Recorder accepts audit events. Emit must not block the caller.
type Recorder interface {
	Emit(eventType string, jobName, jobFile *string, payload any)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(string, *string, *string, any) {}

// EventManager buffers events and writes them to the database in batches.
type EventManager struct {
	db        *db.DB
	logger    *slog.Logger
	in        chan models.Event
	done      chan struct{}
	wg        sync.WaitGroup
	batchSize int
}

func New(database *db.DB, logger *slog.Logger) *EventManager {
	em := &EventManager{
		db:        database,
		logger:    logger,
		in:        make(chan models.Event, 1000),
		done:      make(chan struct{}),
		batchSize: 100,
	}

	em.wg.Add(1)
	go em.loop()
	return em
}

// Close flushes buffered events and stops the writer.
func (em *EventManager) Close() {
	close(em.done)
	em.wg.Wait()
}

func (em *EventManager) Emit(eventType string, jobName, jobFile *string, payload any) {
	var payloadJSON *string
	if payload != nil {
		b, err := json.Marshal(payload)
		if err == nil {
			s := string(b)
			payloadJSON = &s
		}
	}

	select {
	case em.in <- models.Event{
		At:          time.Now(),
		Type:        eventType,
		JobName:     jobName,
		JobFile:     jobFile,
		PayloadJSON: payloadJSON,
	}:
	default:
		em.logger.Warn("dropped audit event, buffer full", "type", eventType)
	}
}

func (em *EventManager) loop() {
	defer em.wg.Done()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var batch []models.Event

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := em.writeBatch(batch); err != nil {
			em.logger.Error("writing audit events failed", "count", len(batch), "error", err)
		}
		batch = make([]models.Event, 0, em.batchSize)
	}

	for {
		select {
		case evt := <-em.in:
			batch = append(batch, evt)
			if len(batch) >= em.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-em.done:
			for {
				select {
				case evt := <-em.in:
					batch = append(batch, evt)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (em *EventManager) writeBatch(batch []models.Event) error {
	tx, err := em.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("INSERT INTO events (at, type, job_name, job_file, payload_json) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range batch {
		_, err := stmt.Exec(e.At.UTC(), e.Type, e.JobName, e.JobFile, e.PayloadJSON)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Filter narrows List. Zero values match everything; Limit defaults to 50.
type Filter struct {
	Type    string
	JobName string
	Limit   int
}

// List returns recorded events, newest first.
func List(d *db.DB, f Filter) ([]models.Event, error) {
	var where []string
	var args []any
	if f.Type != "" {
		where = append(where, "type = ?")
		args = append(args, f.Type)
	}
	if f.JobName != "" {
		where = append(where, "job_name = ?")
		args = append(args, f.JobName)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT id, at, type, job_name, job_file, payload_json FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	evts := []models.Event{}
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.ID, &e.At, &e.Type, &e.JobName, &e.JobFile, &e.PayloadJSON); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		evts = append(evts, e)
	}
	return evts, rows.Err()
}
