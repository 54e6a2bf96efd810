package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notifyd/models"
)

func newTestRecord() *models.Notification {
	now := time.Now()
	return &models.Notification{
		Identity:  models.NewIdentity("session", "test", now),
		Content:   models.Content{Title: "t", Body: models.PlainText("b")},
		Lifecycle: models.NewLifecycle(now),
		Analytics: models.NewAnalytics(),
	}
}

func TestInsertGetDelete(t *testing.T) {
	s := New(4)
	n := newTestRecord()
	require.True(t, s.Insert(n))
	got := s.Get(n.Identity.ID)
	require.NotNil(t, got)
	assert.Equal(t, n.Identity.ID, got.Identity.ID)

	s.Delete(n.Identity.ID)
	assert.Nil(t, s.Get(n.Identity.ID))
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	s := New(4)
	n := newTestRecord()
	require.True(t, s.Insert(n))
	assert.False(t, s.Insert(n))
	assert.Equal(t, 1, s.Len())
}

func TestMutateAppliesUnderLock(t *testing.T) {
	s := New(4)
	n := newTestRecord()
	require.True(t, s.Insert(n))
	ok := s.Mutate(n.Identity.ID, func(rec *models.Notification) bool {
		rec.Lifecycle.State = models.StateValidating
		return true
	})
	require.True(t, ok)
	assert.Equal(t, models.StateValidating, s.Get(n.Identity.ID).Lifecycle.State)
}

func TestMutateMissingReturnsFalse(t *testing.T) {
	s := New(4)
	ok := s.Mutate(models.NewNotificationID(), func(*models.Notification) bool { return true })
	assert.False(t, ok)
}

func TestRangeVisitsAllRecords(t *testing.T) {
	s := New(4)
	ids := make(map[models.NotificationID]bool)
	for i := 0; i < 50; i++ {
		n := newTestRecord()
		ids[n.Identity.ID] = true
		require.True(t, s.Insert(n))
	}
	seen := make(map[models.NotificationID]bool)
	s.Range(func(n *models.Notification) bool {
		seen[n.Identity.ID] = true
		return true
	})
	assert.Equal(t, ids, seen)
}

// TestConcurrentInsertsDoNotBlockEachOther: two concurrent sends for
// distinct ids must both land in the store without serializing on a
// global lock.
func TestConcurrentInsertsDoNotBlockEachOther(t *testing.T) {
	s := New(8)
	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			s.Insert(newTestRecord())
		}()
	}
	wg.Wait()
	assert.Equal(t, n, s.Len())
}
