package httpapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rmacdonaldsmith/spacebrew-go/internal/pollbuffer"
	"github.com/rmacdonaldsmith/spacebrew-go/internal/topology"
	pubtopology "github.com/rmacdonaldsmith/spacebrew-go/pkg/topology"
)

// DefaultLinkExpiryInterval is how often idle poll clients are looked for
const DefaultLinkExpiryInterval = time.Minute

var (
	// ErrLinkNameTaken is returned when a live poll client already uses a name
	ErrLinkNameTaken = errors.New("client with provided name already registered with this link")
	// ErrLinkNameRequired is returned when a poll client has no name
	ErrLinkNameRequired = errors.New("config requires a client 'name'")
	// ErrClientExists is returned when another transport registered an equal client
	ErrClientExists = errors.New("a client with this name and address is already registered")
)

// LinkClient is one registered poll client.
type LinkClient struct {
	id     string
	name   string
	brief  bool
	leaf   *topology.Leaf
	buffer *pollbuffer.Buffer
}

// ID returns the link client id handed out at registration.
func (c *LinkClient) ID() string { return c.id }

// Name returns the client name.
func (c *LinkClient) Name() string { return c.name }

// Leaf returns the client's registration in the manager.
func (c *LinkClient) Leaf() *topology.Leaf { return c.leaf }

// Brief reports whether polls use the compact text format.
func (c *LinkClient) Brief() bool { return c.brief }

// Link lets clients that cannot hold a WebSocket open take part by
// polling. Each client's subscribers get a bounded buffer that keeps only
// the most recent messages until the next poll.
type Link struct {
	manager       *topology.Manager
	store         *pollbuffer.Store
	defaultBuffer int
	timeout       time.Duration
	logger        zerolog.Logger

	mu      sync.Mutex
	clients map[string]*LinkClient
	byName  map[string]string
}

// NewLink creates a link registering its clients with manager. timeout
// unregisters clients that stop polling; zero keeps them forever.
func NewLink(manager *topology.Manager, defaultBuffer int, timeout time.Duration, logger zerolog.Logger) *Link {
	if defaultBuffer < 1 {
		defaultBuffer = 1
	}
	return &Link{
		manager:       manager,
		store:         pollbuffer.NewStore(),
		defaultBuffer: defaultBuffer,
		timeout:       timeout,
		logger:        logger,
		clients:       make(map[string]*LinkClient),
		byName:        make(map[string]string),
	}
}

// Register creates a poll client and its leaf. A name held by a client
// that has been idle longer than the timeout is taken over.
func (l *Link) Register(cfg LinkClientConfig, metadata pubtopology.Metadata) (*LinkClient, error) {
	if cfg.Name == "" {
		return nil, ErrLinkNameRequired
	}

	l.mu.Lock()
	var stale *LinkClient
	if existingID, ok := l.byName[cfg.Name]; ok {
		existing := l.clients[existingID]
		if !l.expired(existing, time.Now()) {
			l.mu.Unlock()
			return nil, ErrLinkNameTaken
		}
		l.forgetLocked(existing)
		stale = existing
	}
	l.mu.Unlock()
	if stale != nil {
		l.manager.RemoveClient(topology.LeafByID(stale.leaf.ID()))
	}

	subs := make([]pollbuffer.Subscription, 0, len(cfg.Subscribe.Messages))
	leafSubs := make([]topology.Subscriber, 0, len(cfg.Subscribe.Messages))
	for _, s := range cfg.Subscribe.Messages {
		subs = append(subs, pollbuffer.Subscription{
			Name: s.Name,
			Type: s.Type,
			Size: parseBufferSize(s.BufferSize, l.defaultBuffer),
		})
		leafSubs = append(leafSubs, topology.Subscriber{Name: s.Name, Type: s.Type})
	}
	buffer := pollbuffer.NewBuffer(subs)

	pubs := make([]any, len(cfg.Publish.Messages))
	for i, p := range cfg.Publish.Messages {
		pubs[i] = p
	}

	leaf, err := topology.NewLeaf(topology.LeafConfig{
		Name:        cfg.Name,
		Description: cfg.Description,
		Metadata:    metadata,
		Publishers:  pubs,
		Subscribers: leafSubs,
	}, func(endpoint, msgType string, payload any) error {
		if !buffer.Push(endpoint, msgType, payload) {
			return fmt.Errorf("no buffer for subscriber %s (%s)", endpoint, msgType)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	client := &LinkClient{
		id:     uuid.NewString(),
		name:   cfg.Name,
		brief:  cfg.Brief,
		leaf:   leaf,
		buffer: buffer,
	}
	if err := l.store.Add(client.id, buffer); err != nil {
		return nil, err
	}

	l.mu.Lock()
	if _, taken := l.byName[cfg.Name]; taken {
		l.mu.Unlock()
		l.store.Remove(client.id)
		return nil, ErrLinkNameTaken
	}
	l.clients[client.id] = client
	l.byName[cfg.Name] = client.id
	l.mu.Unlock()

	if !l.manager.AddClient(leaf) {
		l.mu.Lock()
		l.forgetLocked(client)
		l.mu.Unlock()
		return nil, ErrClientExists
	}
	l.logger.Debug().Str("link_id", client.id).Str("client", cfg.Name).Int("subscribers", len(subs)).Msg("link client registered")
	return client, nil
}

// Client returns the poll client registered under id.
func (l *Link) Client(id string) (*LinkClient, error) {
	l.mu.Lock()
	client, ok := l.clients[id]
	l.mu.Unlock()
	if !ok {
		return nil, pollbuffer.ErrUnknownClient
	}
	return client, nil
}

// Poll drains the client's buffered messages.
func (l *Link) Poll(id string) (*LinkClient, []pollbuffer.Message, error) {
	client, err := l.Client(id)
	if err != nil {
		return nil, nil, err
	}
	return client, client.buffer.Drain(), nil
}

// Publish routes messages from the client's publishers and returns how
// many named a declared publisher.
func (l *Link) Publish(id string, msgs []LinkPublishMessage) (int, error) {
	client, err := l.Client(id)
	if err != nil {
		return 0, err
	}
	client.buffer.Touch()

	declared := make(map[[2]string]bool)
	for _, p := range client.leaf.Publishers() {
		declared[[2]string{p.Name, p.Type}] = true
	}

	published := 0
	for _, msg := range msgs {
		if !declared[[2]string{msg.Name, msg.Type}] {
			continue
		}
		l.manager.Published(topology.LeafByID(client.leaf.ID()), msg.Name, msg.Type, msg.Value)
		published++
	}
	return published, nil
}

// Unregister removes the client and its leaf.
func (l *Link) Unregister(id string) bool {
	l.mu.Lock()
	client, ok := l.clients[id]
	if ok {
		l.forgetLocked(client)
	}
	l.mu.Unlock()
	if !ok {
		return false
	}
	l.manager.RemoveClient(topology.LeafByID(client.leaf.ID()))
	l.logger.Debug().Str("link_id", id).Str("client", client.name).Msg("link client unregistered")
	return true
}

// Len returns the number of registered poll clients.
func (l *Link) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Run expires idle clients every interval until ctx is done. It returns
// immediately when no timeout is configured.
func (l *Link) Run(ctx context.Context, interval time.Duration) {
	if l.timeout <= 0 {
		return
	}
	l.store.RunExpiry(ctx, interval, l.timeout, l.expire)
}

// Close unregisters every client.
func (l *Link) Close() error {
	l.mu.Lock()
	clients := make([]*LinkClient, 0, len(l.clients))
	for _, c := range l.clients {
		clients = append(clients, c)
	}
	l.clients = make(map[string]*LinkClient)
	l.byName = make(map[string]string)
	l.mu.Unlock()

	for _, c := range clients {
		l.manager.RemoveClient(topology.LeafByID(c.leaf.ID()))
	}
	return l.store.Close()
}

// expire is called by the store after it dropped id's buffer.
func (l *Link) expire(id string) {
	l.mu.Lock()
	client, ok := l.clients[id]
	if ok {
		delete(l.clients, id)
		if l.byName[client.name] == id {
			delete(l.byName, client.name)
		}
	}
	l.mu.Unlock()
	if !ok {
		return
	}
	l.manager.RemoveClient(topology.LeafByID(client.leaf.ID()))
	l.logger.Info().Str("link_id", id).Str("client", client.name).Msg("link client expired")
}

func (l *Link) expired(c *LinkClient, now time.Time) bool {
	return l.timeout > 0 && now.Sub(c.buffer.LastSeen()) > l.timeout
}

func (l *Link) forgetLocked(c *LinkClient) {
	delete(l.clients, c.id)
	if l.byName[c.name] == c.id {
		delete(l.byName, c.name)
	}
	l.store.Remove(c.id)
}

// parseBufferSize floors numbers of any Go numeric kind and parses numeric
// strings. Results below one become one; unparsable input falls back to def.
func parseBufferSize(v any, def int) int {
	size := def
	scalar, _ := pubtopology.Scalar(v)
	switch n := scalar.(type) {
	case float64:
		if !math.IsNaN(n) && !math.IsInf(n, 0) {
			size = int(math.Floor(n))
		}
	case string:
		if parsed, err := strconv.Atoi(leadingInt(n)); err == nil {
			size = parsed
		}
	}
	return max(size, 1)
}

// leadingInt returns the optionally signed integer prefix of s.
func leadingInt(s string) string {
	s = strings.TrimSpace(s)
	end := 0
	for i, r := range s {
		if (r == '-' || r == '+') && i == 0 {
			end = i + 1
			continue
		}
		if r < '0' || r > '9' {
			break
		}
		end = i + 1
	}
	return s[:end]
}

// briefFormat renders a poll in the compact text format:
// "id:OK:name,type,value;name,type,value".
func briefFormat(id string, msgs []pollbuffer.Message) string {
	var b strings.Builder
	b.WriteString(id)
	b.WriteString(":OK:")
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte(';')
		}
		fmt.Fprintf(&b, "%s,%s,%v", m.Name, m.Type, m.Value)
	}
	return b.String()
}

// briefError renders an error in the compact text format.
func briefError(id string, msg string) string {
	if id == "" {
		id = "-1"
	}
	return id + ":ERR:" + msg
}
