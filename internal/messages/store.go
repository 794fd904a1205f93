package messages

import (
	"context"
	"sort"
	"sync"

	"nostr-messenger/internal/store"
	"nostr-messenger/internal/types"
)

// feedKey namespaces a conversation's read watermark in the mark store.
func feedKey(peer string) string {
	return "dm:" + peer
}

// ConversationStore groups decrypted messages into per-peer threads and
// tracks unread counts against durable read watermarks. A message counts
// as unread while it was received (not sent by us) and is newer than the
// last acknowledged timestamp for its thread.
//
// Selecting a conversation clears its count visually; only MarkRead moves
// the watermark. The distinction is deliberate: glancing at a thread on
// one device should not silently acknowledge it everywhere.
type ConversationStore struct {
	mu        sync.Mutex
	threads   map[string]*thread
	selected  string
	readMarks *store.ReadMarks
}

type thread struct {
	conv *types.Conversation
	byID map[string]struct{}
}

func newThread(peer string) *thread {
	return &thread{
		conv: &types.Conversation{Peer: peer},
		byID: make(map[string]struct{}),
	}
}

func NewConversationStore(readMarks *store.ReadMarks) *ConversationStore {
	return &ConversationStore{
		threads:   make(map[string]*thread),
		readMarks: readMarks,
	}
}

// IngestBatch replaces the store contents with a freshly decrypted result
// set. Unread counts are recomputed purely from the durable watermarks,
// so a rebuild never resurrects already-acknowledged messages and never
// preserves a stale visual clear.
func (s *ConversationStore) IngestBatch(ctx context.Context, msgs []types.Message) {
	grouped := make(map[string]*thread)
	for i := range msgs {
		msg := msgs[i]
		if msg.Peer == "" {
			continue
		}
		th := grouped[msg.Peer]
		if th == nil {
			th = newThread(msg.Peer)
			grouped[msg.Peer] = th
		}
		if _, dup := th.byID[msg.ID]; dup {
			continue
		}
		th.byID[msg.ID] = struct{}{}
		m := msg
		th.conv.Messages = append(th.conv.Messages, &m)
	}

	for peer, th := range grouped {
		sortMessages(th.conv.Messages)
		th.conv.LastMessage = th.conv.Messages[len(th.conv.Messages)-1]
		lastRead, _ := s.readMarks.GetLastRead(ctx, feedKey(peer))
		th.conv.Unread = countUnread(th.conv.Messages, lastRead)
	}

	s.mu.Lock()
	s.threads = grouped
	s.mu.Unlock()
}

// IngestOne merges a single message into its thread and reports whether
// it was new; replaying an already-known ID is a no-op. A new received
// message bumps the unread count unless its thread is currently selected
// or the message predates the watermark.
func (s *ConversationStore) IngestOne(ctx context.Context, msg types.Message) bool {
	if msg.Peer == "" {
		return false
	}
	lastRead, _ := s.readMarks.GetLastRead(ctx, feedKey(msg.Peer))

	s.mu.Lock()
	defer s.mu.Unlock()

	th := s.threads[msg.Peer]
	if th == nil {
		th = newThread(msg.Peer)
		s.threads[msg.Peer] = th
	}
	if _, dup := th.byID[msg.ID]; dup {
		return false
	}
	th.byID[msg.ID] = struct{}{}
	m := msg
	th.conv.Messages = append(th.conv.Messages, &m)
	sortMessages(th.conv.Messages)
	th.conv.LastMessage = th.conv.Messages[len(th.conv.Messages)-1]

	if !msg.Sent && msg.Timestamp > lastRead && msg.Peer != s.selected {
		th.conv.Unread++
	}
	return true
}

// Select marks a conversation as the one currently on screen. Its unread
// count clears and live messages stop counting against it. The durable
// watermark is untouched until MarkRead.
func (s *ConversationStore) Select(peer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = peer
	if th := s.threads[peer]; th != nil {
		th.conv.Unread = 0
	}
}

// MarkRead advances the durable watermark to the newest message in the
// thread. The acknowledgement survives restarts and batch rebuilds; the
// watermark itself never moves backwards.
func (s *ConversationStore) MarkRead(ctx context.Context, peer string) error {
	s.mu.Lock()
	th := s.threads[peer]
	var newest int64
	if th != nil && th.conv.LastMessage != nil {
		newest = th.conv.LastMessage.Timestamp
	}
	s.mu.Unlock()

	if th == nil {
		return nil
	}
	if err := s.readMarks.SetLastRead(ctx, feedKey(peer), newest); err != nil {
		return err
	}

	s.mu.Lock()
	if th := s.threads[peer]; th != nil {
		th.conv.Unread = 0
	}
	s.mu.Unlock()
	return nil
}

// Snapshot returns all conversations ordered by most recent activity.
// Conversation values and their message slices are copies; the threads
// keep changing underneath.
func (s *ConversationStore) Snapshot() []types.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Conversation, 0, len(s.threads))
	for _, th := range s.threads {
		out = append(out, copyConversation(th.conv))
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := lastActivity(&out[i]), lastActivity(&out[j])
		if ti != tj {
			return ti > tj
		}
		return out[i].Peer < out[j].Peer
	})
	return out
}

// Get returns a copy of one conversation.
func (s *ConversationStore) Get(peer string) (types.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	th := s.threads[peer]
	if th == nil {
		return types.Conversation{}, false
	}
	return copyConversation(th.conv), true
}

// TotalUnread sums the unread counts of every conversation.
func (s *ConversationStore) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, th := range s.threads {
		total += th.conv.Unread
	}
	return total
}

func sortMessages(msgs []*types.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
}

func countUnread(msgs []*types.Message, lastRead int64) int {
	n := 0
	for _, m := range msgs {
		if !m.Sent && m.Timestamp > lastRead {
			n++
		}
	}
	return n
}

func copyConversation(c *types.Conversation) types.Conversation {
	out := *c
	out.Messages = make([]*types.Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

func lastActivity(c *types.Conversation) int64 {
	if c.LastMessage == nil {
		return 0
	}
	return c.LastMessage.Timestamp
}
