package taskstore

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/swarmguard/lifecycle-engine/internal/model"
)

// InsertMessage inserts a fully-formed message row in a single transaction
// and indexes it by thread id, which serves thread queries (ListByThread).
func (s *Store) InsertMessage(ctx context.Context, msg *model.Message) error {
	start := time.Now()
	defer s.recordWrite(ctx, "insert_message", start)

	data, err := json.Marshal(msg)
	if err != nil {
		return model.NewFsError(model.FsOther, "marshal message", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketMessages).Put([]byte(msg.ID), data); err != nil {
			return err
		}
		threadKey := []byte(msg.ThreadID + ":" + msg.Timestamp.UTC().Format(time.RFC3339Nano) + ":" + msg.ID)
		return tx.Bucket(bucketThreadIndex).Put(threadKey, []byte(msg.ID))
	})
}

// GetMessage reads a message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	start := time.Now()
	defer s.recordRead(ctx, "get_message", start)
	var msg model.Message
	found := false
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketMessages).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &msg)
	})
	if err != nil {
		return nil, model.NewFsError(model.FsOther, "read message", err)
	}
	if !found {
		return nil, model.NewErrorf(model.KindTaskNotFound, "message %s not found", id)
	}
	return &msg, nil
}

// MarkRead flips a message's read flag; idempotent.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	start := time.Now()
	defer s.recordWrite(ctx, "mark_read", start)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		data := b.Get([]byte(id))
		if data == nil {
			return model.NewErrorf(model.KindTaskNotFound, "message %s not found", id)
		}
		var msg model.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return model.NewFsError(model.FsOther, "decode message", err)
		}
		if msg.Read {
			return nil
		}
		msg.Read = true
		next, err := json.Marshal(&msg)
		if err != nil {
			return model.NewFsError(model.FsOther, "marshal message", err)
		}
		return b.Put([]byte(id), next)
	})
}

// ListByThread returns every message sharing a thread id, in send order.
func (s *Store) ListByThread(ctx context.Context, threadID string) ([]*model.Message, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketThreadIndex)
		prefix := []byte(threadID + ":")
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			ids = append(ids, string(v))
		}
		return nil
	})
	if err != nil {
		return nil, model.NewFsError(model.FsOther, "scan thread index", err)
	}
	out := make([]*model.Message, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMessage(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
