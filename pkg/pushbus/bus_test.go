package pushbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()

	sub := hub.Subscribe(TaskTopic("t-1"))
	defer sub.Close()

	hub.Publish(TaskTopic("t-1"), ProgressUpdate{TaskID: "t-1", Progress: 10})

	select {
	case ev := <-sub.C:
		progress, ok := ev.(ProgressUpdate)
		require.True(t, ok)
		assert.Equal(t, 10, progress.Progress)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestHub_TopicIsolation(t *testing.T) {
	hub := NewHub()

	sub := hub.Subscribe(TaskTopic("t-1"))
	defer sub.Close()

	hub.Publish(TaskTopic("t-2"), ProgressUpdate{TaskID: "t-2", Progress: 50})

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected event %v for unrelated topic", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_FIFOPerSubscription(t *testing.T) {
	hub := NewHub()

	sub := hub.Subscribe(TopicSpace)
	defer sub.Close()

	for i := 0; i < 10; i++ {
		hub.Publish(TopicSpace, ProgressUpdate{Progress: i})
	}

	for i := 0; i < 10; i++ {
		ev := <-sub.C
		assert.Equal(t, i, ev.(ProgressUpdate).Progress)
	}
}

func TestHub_SlowSubscriberDropsNotBlocks(t *testing.T) {
	hub := NewHub()

	sub := hub.Subscribe(TopicSpace)
	defer sub.Close()

	// Overfill the buffer without draining; Publish must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Publish(TopicSpace, ProgressUpdate{Progress: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on slow subscriber")
	}
	assert.Greater(t, hub.Dropped(), uint64(0))
}

func TestHub_CloseUnsubscribes(t *testing.T) {
	hub := NewHub()

	sub := hub.Subscribe(TaskTopic("t-1"))
	assert.Equal(t, 1, hub.SubscriberCount(TaskTopic("t-1")))

	sub.Close()
	sub.Close() // idempotent

	assert.Equal(t, 0, hub.SubscriberCount(TaskTopic("t-1")))

	// Channel is closed after unsubscribe
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestWrap_EnvelopeTags(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{ProgressUpdate{}, "ProgressUpdate"},
		{StatusUpdate{}, "StatusUpdate"},
		{TaskCompleted{}, "TaskCompleted"},
		{SystemNotification{}, "SystemNotification"},
		{DiskSpaceUpdate{}, "DiskSpaceUpdate"},
		{SpaceReleased{}, "SpaceReleased"},
		{SpaceWarning{}, "SpaceWarning"},
		{BatchTaskPaused{}, "BatchTaskPaused"},
		{BatchTaskResumed{}, "BatchTaskResumed"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Wrap(tt.event).Type)
	}
}

func TestResolver_PreferenceOrder(t *testing.T) {
	r := NewResolver()
	r.Register("task-1", Aliases{ClientToken: "upload-1", FileName: "movie.mkv", Path: "/videos/movie.mkv"})

	for _, identifier := range []string{"task-1", "upload-1", "movie.mkv", "/videos/movie.mkv"} {
		id, ok := r.Resolve(identifier)
		require.True(t, ok, "identifier %q", identifier)
		assert.Equal(t, "task-1", id)
	}

	_, ok := r.Resolve("nope")
	assert.False(t, ok)
}

func TestResolver_TaskIDWinsOverAlias(t *testing.T) {
	r := NewResolver()
	r.Register("task-1", Aliases{ClientToken: "task-2"})
	r.Register("task-2", Aliases{})

	// "task-2" is both a real task id and an alias for task-1;
	// the real id takes precedence.
	id, ok := r.Resolve("task-2")
	require.True(t, ok)
	assert.Equal(t, "task-2", id)
}

func TestResolver_Unregister(t *testing.T) {
	r := NewResolver()
	r.Register("task-1", Aliases{ClientToken: "upload-1"})
	r.Unregister("task-1")

	_, ok := r.Resolve("task-1")
	assert.False(t, ok)
	_, ok = r.Resolve("upload-1")
	assert.False(t, ok)
}
