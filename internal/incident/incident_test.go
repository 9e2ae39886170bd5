package incident_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-booking/internal/database/dbtest"
	"ms-booking/internal/incident"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
)

type recordingSink struct {
	mu    sync.Mutex
	got   []models.Incident
	err   error
	block chan struct{}
}

func (r *recordingSink) Record(_ context.Context, inc models.Incident) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, inc)
	return r.err
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func overbook(id string) models.Incident {
	return models.Incident{EntityType: models.EntityTrip, EntityID: id, Type: models.IncidentOverbook, Note: "capacity", CreatedAt: time.Now().UTC()}
}

func TestDBSink(t *testing.T) {
	db := dbtest.New(t)
	sink := &incident.DBSink{Bun: db}

	require.NoError(t, sink.Record(context.Background(), overbook("trip-1")))

	var rows []models.Incident
	require.NoError(t, db.NewSelect().Model(&rows).Scan(context.Background()))
	require.Len(t, rows, 1)
	assert.Equal(t, models.IncidentOverbook, rows[0].Type)
	assert.Equal(t, "trip-1", rows[0].EntityID)
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("down")}

	err := incident.Multi{ok, bad}.Record(context.Background(), overbook("trip-1"))
	assert.Error(t, err)
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, bad.count())
}

func TestAsync_DeliversAndFlushesOnStop(t *testing.T) {
	sink := &recordingSink{}
	a := incident.NewAsync(sink, 16, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go a.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Record(context.Background(), overbook("trip-1")))
	}
	cancel()
	a.Wait()

	assert.Equal(t, 5, sink.count())
	assert.Zero(t, a.Dropped())
}

func TestAsync_NeverBlocksWhenFull(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	a := incident.NewAsync(sink, 1, logger.NewNopLogger())

	// No worker running: the first fills the queue, the rest are dropped.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = a.Record(context.Background(), overbook("trip-1"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
	assert.Equal(t, int64(9), a.Dropped())
	close(sink.block)
}

func TestAsync_SinkFailureIsCounted(t *testing.T) {
	sink := &recordingSink{err: errors.New("down")}
	a := incident.NewAsync(sink, 4, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Record(ctx, overbook("trip-1")))
	go a.Start(ctx)
	cancel()
	a.Wait()

	assert.Equal(t, int64(1), a.Failed())
}
