package kv

import (
	"encoding/json"
	"fmt"

	"github.com/H4MSA/solivrah/internal/core"
)

// KeyPendingQuests holds quest writes not yet confirmed by their repository.
const KeyPendingQuests = "pending_quests"

// Outbox keeps unconfirmed quest writes in the device file so they survive
// a restart. Entries are keyed by user id and quest id.
type Outbox struct {
	file *File
}

func NewOutbox(f *File) *Outbox {
	return &Outbox{file: f}
}

// PendingQuests lists the unconfirmed writes for userID.
func (o *Outbox) PendingQuests(userID string) ([]core.Quest, error) {
	all, err := o.load()
	if err != nil {
		return nil, err
	}
	var out []core.Quest
	for _, q := range all {
		if q.UserID == userID {
			q.PendingSync = true
			out = append(out, q)
		}
	}
	return out, nil
}

// PutPending records q, replacing an earlier entry for the same quest.
func (o *Outbox) PutPending(q core.Quest) error {
	all, err := o.load()
	if err != nil {
		return err
	}
	q.PendingSync = true
	replaced := false
	for i := range all {
		if all[i].UserID == q.UserID && all[i].ID == q.ID {
			all[i] = q
			replaced = true
			break
		}
	}
	if !replaced {
		all = append(all, q)
	}
	return o.store(all)
}

func (o *Outbox) RemovePending(userID, questID string) error {
	all, err := o.load()
	if err != nil {
		return err
	}
	kept := all[:0]
	for _, q := range all {
		if q.UserID != userID || q.ID != questID {
			kept = append(kept, q)
		}
	}
	if len(kept) == len(all) {
		return nil
	}
	return o.store(kept)
}

func (o *Outbox) load() ([]core.Quest, error) {
	raw, ok := o.file.Get(KeyPendingQuests)
	if !ok {
		return nil, nil
	}
	var quests []core.Quest
	if err := json.Unmarshal([]byte(raw), &quests); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyPendingQuests, err)
	}
	return quests, nil
}

func (o *Outbox) store(quests []core.Quest) error {
	if len(quests) == 0 {
		return o.file.Delete(KeyPendingQuests)
	}
	b, err := json.Marshal(quests)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", KeyPendingQuests, err)
	}
	return o.file.Set(KeyPendingQuests, string(b))
}
