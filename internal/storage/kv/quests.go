package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/H4MSA/solivrah/internal/core"
)

// KeyGuestQuests holds the device's guest quest list as JSON.
const KeyGuestQuests = "guest_quests"

// QuestStore keeps guest quests in the device file. Like the progress keys
// it is shared by every guest session on the device.
type QuestStore struct {
	file *File
}

func NewQuestStore(f *File) *QuestStore {
	return &QuestStore{file: f}
}

func (s *QuestStore) ListQuests(_ context.Context, _ string) ([]core.Quest, error) {
	return s.load()
}

func (s *QuestStore) SaveQuest(_ context.Context, q core.Quest) error {
	if err := q.Validate(); err != nil {
		return err
	}
	quests, err := s.load()
	if err != nil {
		return err
	}
	q.UserID = ""
	q.PendingSync = false
	replaced := false
	for i := range quests {
		if quests[i].ID == q.ID {
			quests[i] = q
			replaced = true
			break
		}
	}
	if !replaced {
		quests = append(quests, q)
	}
	sort.Slice(quests, func(i, j int) bool {
		if quests[i].Day != quests[j].Day {
			return quests[i].Day < quests[j].Day
		}
		return quests[i].ID < quests[j].ID
	})
	b, err := json.Marshal(quests)
	if err != nil {
		return fmt.Errorf("marshal guest quests: %w", err)
	}
	return s.file.Set(KeyGuestQuests, string(b))
}

// Clear drops every guest quest.
func (s *QuestStore) Clear() error {
	return s.file.Delete(KeyGuestQuests)
}

func (s *QuestStore) load() ([]core.Quest, error) {
	raw, ok := s.file.Get(KeyGuestQuests)
	if !ok {
		return nil, nil
	}
	var quests []core.Quest
	if err := json.Unmarshal([]byte(raw), &quests); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyGuestQuests, err)
	}
	for _, q := range quests {
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("decode %s: %w", KeyGuestQuests, err)
		}
	}
	return quests, nil
}
