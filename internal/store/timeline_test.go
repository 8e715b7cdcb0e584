package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casedesk/internal/clock"
	"casedesk/internal/events"
)

func TestTimeline_AppendKeepsDescendingOrder(t *testing.T) {
	store := NewTimelineStore(nil, WithClock(clock.Fake(epoch)))

	store.Append(TimelineEvent{Title: "meio", Timestamp: epoch.Add(-time.Hour)})
	store.Append(TimelineEvent{Title: "antigo", Timestamp: epoch.Add(-48 * time.Hour)})
	store.Append(TimelineEvent{Title: "novo", Timestamp: epoch.Add(time.Hour)})
	store.Append(TimelineEvent{Title: "agora"}) // stamped with the clock

	list := store.List()
	require.Len(t, list, 4)
	titles := make([]string, 0, len(list))
	for i, e := range list {
		titles = append(titles, e.Title)
		if i > 0 {
			assert.False(t, e.Timestamp.After(list[i-1].Timestamp), "index %d out of order", i)
		}
	}
	assert.Equal(t, []string{"novo", "agora", "meio", "antigo"}, titles)
}

func TestTimeline_AppendAssignsIDAndDefaults(t *testing.T) {
	c := clock.Fake(epoch)
	store := NewTimelineStore(nil, WithClock(c))

	a := store.Append(TimelineEvent{Title: "a", Type: EventTask})
	c.Advance(time.Millisecond)
	b := store.Append(TimelineEvent{Title: "b", Type: EventTask})

	assert.Len(t, a.ID, 26)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Less(t, a.ID, b.ID, "ids sort by creation time")
	assert.Equal(t, epoch, a.Timestamp)
	assert.Equal(t, StatusInfo, a.Status)
}

func TestTimeline_EqualTimestampsKeepInsertionOrder(t *testing.T) {
	store := NewTimelineStore(nil, WithClock(clock.Fake(epoch)))

	store.Append(TimelineEvent{Title: "1", Timestamp: epoch})
	store.Append(TimelineEvent{Title: "2", Timestamp: epoch})
	store.Append(TimelineEvent{Title: "3", Timestamp: epoch})

	list := store.List()
	assert.Equal(t, "1", list[0].Title)
	assert.Equal(t, "3", list[2].Title)
}

func TestTimeline_Filters(t *testing.T) {
	store := NewTimelineStore(nil)
	store.Append(TimelineEvent{Type: EventProcess, ProcessNumber: "0001"})
	store.Append(TimelineEvent{Type: EventTask, ProcessNumber: "0001"})
	store.Append(TimelineEvent{Type: EventFinancial, ProcessNumber: "0002"})
	store.Append(TimelineEvent{Type: EventTask})

	assert.Len(t, store.ByProcess("0001"), 2)
	assert.Len(t, store.ByProcess("9999"), 0)
	assert.Len(t, store.ByType(EventTask), 2)
	assert.Len(t, store.ByType(EventComment), 0)
	assert.Equal(t, 4, store.Len())
}

func TestTimeline_ClearAndEvents(t *testing.T) {
	bus := events.NewBus(nil)
	var kinds []string
	bus.SubscribeAll(func(e events.Event) { kinds = append(kinds, e.Kind) })

	store := NewTimelineStore(bus)
	store.Append(TimelineEvent{Title: "a"})
	store.Clear()

	assert.Equal(t, 0, store.Len())
	assert.Empty(t, store.List())
	assert.Equal(t, []string{events.KindTimelineChanged, events.KindTimelineChanged}, kinds)
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusSuccess, ParseStatus("success"))
	assert.Equal(t, StatusInfo, ParseStatus("done"))
}
