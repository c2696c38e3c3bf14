package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"unisocial-auth/internal/model"
	"unisocial-auth/internal/util"
)

// batchInserter is the write side of the event sink.
type batchInserter interface {
	BatchInsert(ctx context.Context, query string, rows [][]interface{}) error
}

const (
	EventRegister = "register"
	EventVerify   = "verify_otp"
	EventLogin    = "login"
	EventLogout   = "logout"
	EventPurge    = "blacklist_purge"
)

const (
	bufferSize    = 4096
	flushInterval = 5 * time.Second
	flushBatchMax = 500
)

const insertQuery = `
    INSERT INTO auth_events (event_time, event_type, email, remote_ip, success, detail)`

// Recorder batches auth events into ClickHouse off the request path. Record
// never blocks: when the buffer is full the event is dropped and counted,
// because the audit trail must not back-pressure logins.
type Recorder struct {
	clickhouse batchInserter
	events     chan model.AuthEvent
	dropped    int64
	mu         sync.Mutex

	done chan struct{}
	wg   sync.WaitGroup
}

func NewRecorder(clickhouseClient batchInserter, logger *zap.Logger) *Recorder {
	r := &Recorder{
		clickhouse: clickhouseClient,
		events:     make(chan model.AuthEvent, bufferSize),
		done:       make(chan struct{}),
	}

	r.wg.Add(1)
	go r.flushLoop()

	return r
}

// Record enqueues an event for the next flush.
func (r *Recorder) Record(event model.AuthEvent) {
	if event.EventTime.IsZero() {
		event.EventTime = time.Now().UTC()
	}

	select {
	case r.events <- event:
	default:
		r.mu.Lock()
		r.dropped++
		dropped := r.dropped
		r.mu.Unlock()
		if dropped%100 == 1 {
			util.Warn("Audit buffer full, dropping events", zap.Int64("dropped_total", dropped))
		}
	}
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]model.AuthEvent, 0, flushBatchMax)

	for {
		select {
		case event := <-r.events:
			batch = append(batch, event)
			if len(batch) >= flushBatchMax {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-r.done:
			// Drain whatever is queued before shutting down.
			for {
				select {
				case event := <-r.events:
					batch = append(batch, event)
				default:
					if len(batch) > 0 {
						r.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (r *Recorder) flush(batch []model.AuthEvent) {
	rows := make([][]interface{}, 0, len(batch))
	for _, e := range batch {
		rows = append(rows, []interface{}{
			e.EventTime, e.EventType, e.Email, e.RemoteIP, e.Success, e.Detail,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.clickhouse.BatchInsert(ctx, insertQuery, rows); err != nil {
		util.Error("Failed to flush audit events",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		return
	}

	util.Debug("Audit events flushed", zap.Int("batch_size", len(batch)))
}

// Close flushes pending events and stops the background loop.
func (r *Recorder) Close() error {
	close(r.done)
	r.wg.Wait()
	util.Info("Audit recorder closed")
	return nil
}
