package castprotocol

import (
	"context"
)

// QueueChannel manages the media queue. It shares the media namespace and
// application session with MediaChannel.
type QueueChannel struct {
	media  *MediaChannel
	change *statusCell[QueueChangeMessage]
}

func newQueueChannel(media *MediaChannel) *QueueChannel {
	q := &QueueChannel{media: media, change: newStatusCell[QueueChangeMessage]()}
	media.queue = q
	return q
}

func (q *QueueChannel) applyChange(msg *QueueChangeMessage) {
	q.change.store(msg)
}

// LastChange returns the last QUEUE_CHANGE pushed by the receiver.
func (q *QueueChannel) LastChange() *QueueChangeMessage {
	return q.change.load()
}

// Changes returns a channel closed on the next QUEUE_CHANGE push.
func (q *QueueChannel) Changes() <-chan struct{} {
	return q.change.wait()
}

// Load replaces the queue with items and starts playing at startIndex.
func (q *QueueChannel) Load(ctx context.Context, items []QueueItem, repeat RepeatMode, startIndex int) (*MediaStatus, error) {
	if len(items) == 0 {
		return nil, invalidArgument("QueueLoad", "empty queue")
	}
	if startIndex < 0 || startIndex >= len(items) {
		return nil, invalidArgument("QueueLoad", "start index %d out of range [0, %d)", startIndex, len(items))
	}
	if repeat == "" {
		repeat = RepeatOff
	}
	if !repeat.Valid() {
		return nil, invalidArgument("QueueLoad", "unknown repeat mode %q", repeat)
	}
	for i, it := range items {
		if it.Media == nil || it.Media.ContentID == "" {
			return nil, invalidArgument("QueueLoad", "item %d has no content id", i)
		}
	}

	app, err := q.media.target(ctx, "QueueLoad")
	if err != nil {
		return nil, err
	}
	msg, err := q.media.requestTo(ctx, app, "QueueLoad", &queueLoadRequest{
		Header:     Header{Type: TypeQueueLoad},
		SessionID:  app.SessionID,
		Items:      items,
		StartIndex: startIndex,
		RepeatMode: repeat,
	})
	if err != nil {
		return nil, err
	}
	return mediaStatusReply("QueueLoad", msg)
}

func (q *QueueChannel) update(ctx context.Context, op string, req *queueUpdateRequest) (*MediaStatus, error) {
	id, err := q.media.mediaSessionID(ctx, op)
	if err != nil {
		return nil, err
	}
	req.Header = Header{Type: TypeQueueUpdate}
	req.MediaSessionID = id
	msg, err := q.media.request(ctx, op, req)
	if err != nil {
		return nil, err
	}
	return mediaStatusReply(op, msg)
}

// Next skips to the next queue item.
func (q *QueueChannel) Next(ctx context.Context) (*MediaStatus, error) {
	return q.update(ctx, "QueueNext", &queueUpdateRequest{Jump: 1})
}

// Prev goes back to the previous queue item.
func (q *QueueChannel) Prev(ctx context.Context) (*MediaStatus, error) {
	return q.update(ctx, "QueuePrev", &queueUpdateRequest{Jump: -1})
}

// SetShuffle turns shuffling on or off.
func (q *QueueChannel) SetShuffle(ctx context.Context, shuffle bool) (*MediaStatus, error) {
	return q.update(ctx, "QueueSetShuffle", &queueUpdateRequest{Shuffle: &shuffle})
}

// SetRepeatMode sets the queue repeat mode.
func (q *QueueChannel) SetRepeatMode(ctx context.Context, mode RepeatMode) (*MediaStatus, error) {
	if !mode.Valid() {
		return nil, invalidArgument("QueueSetRepeatMode", "unknown repeat mode %q", mode)
	}
	return q.update(ctx, "QueueSetRepeatMode", &queueUpdateRequest{RepeatMode: mode})
}

// ItemIDs returns the ids of the queue items in play order.
func (q *QueueChannel) ItemIDs(ctx context.Context) ([]int, error) {
	id, err := q.media.mediaSessionID(ctx, "QueueGetItemIDs")
	if err != nil {
		return nil, err
	}
	msg, err := q.media.request(ctx, "QueueGetItemIDs", &mediaCommand{Header: Header{Type: TypeQueueGetItemIDs}, MediaSessionID: id})
	if err != nil {
		return nil, err
	}
	m, ok := msg.(*QueueItemIDsMessage)
	if !ok {
		return nil, &Error{Op: "QueueGetItemIDs", Sentinel: ErrProtocol, Namespace: NamespaceQueue,
			Reason: "unexpected reply " + msg.MessageType()}
	}
	return m.ItemIDs, nil
}

// Items returns the queue items with the given ids.
func (q *QueueChannel) Items(ctx context.Context, itemIDs []int) ([]QueueItem, error) {
	if len(itemIDs) == 0 {
		return nil, invalidArgument("QueueGetItems", "no item ids")
	}
	id, err := q.media.mediaSessionID(ctx, "QueueGetItems")
	if err != nil {
		return nil, err
	}
	msg, err := q.media.request(ctx, "QueueGetItems", &queueGetItemsRequest{
		Header:         Header{Type: TypeQueueGetItems},
		MediaSessionID: id,
		ItemIDs:        itemIDs,
	})
	if err != nil {
		return nil, err
	}
	m, ok := msg.(*QueueItemsMessage)
	if !ok {
		return nil, &Error{Op: "QueueGetItems", Sentinel: ErrProtocol, Namespace: NamespaceQueue,
			Reason: "unexpected reply " + msg.MessageType()}
	}
	return m.Items, nil
}

// Insert adds items before the item with id beforeID, or at the end when
// beforeID is zero.
func (q *QueueChannel) Insert(ctx context.Context, items []QueueItem, beforeID int) (*MediaStatus, error) {
	if len(items) == 0 {
		return nil, invalidArgument("QueueInsert", "no items")
	}
	for i, it := range items {
		if it.Media == nil || it.Media.ContentID == "" {
			return nil, invalidArgument("QueueInsert", "item %d has no content id", i)
		}
	}
	id, err := q.media.mediaSessionID(ctx, "QueueInsert")
	if err != nil {
		return nil, err
	}
	msg, err := q.media.request(ctx, "QueueInsert", &queueInsertRequest{
		Header:         Header{Type: TypeQueueInsert},
		MediaSessionID: id,
		Items:          items,
		InsertBefore:   beforeID,
	})
	if err != nil {
		return nil, err
	}
	return mediaStatusReply("QueueInsert", msg)
}

// Remove deletes the items with the given ids.
func (q *QueueChannel) Remove(ctx context.Context, itemIDs []int) (*MediaStatus, error) {
	if len(itemIDs) == 0 {
		return nil, invalidArgument("QueueRemove", "no item ids")
	}
	id, err := q.media.mediaSessionID(ctx, "QueueRemove")
	if err != nil {
		return nil, err
	}
	msg, err := q.media.request(ctx, "QueueRemove", &queueRemoveRequest{
		Header:         Header{Type: TypeQueueRemove},
		MediaSessionID: id,
		ItemIDs:        itemIDs,
	})
	if err != nil {
		return nil, err
	}
	return mediaStatusReply("QueueRemove", msg)
}
