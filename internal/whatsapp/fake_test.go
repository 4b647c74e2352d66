package whatsapp

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"github.com/talkincode/wabot/config"
	"github.com/talkincode/wabot/internal/app"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
)

type sentMessage struct {
	to  types.JID
	msg *waE2E.Message
}

type fakeClient struct {
	mu          sync.Mutex
	connected   bool
	loggedIn    bool
	paired      bool
	connectErr  error
	sendErr     map[string]error
	qr          chan whatsmeow.QRChannelItem
	handlers    []whatsmeow.EventHandler
	sent        []sentMessage
	uploads     []whatsmeow.MediaType
	disconnects int
	forgotten   bool
	loggedOut   bool

	// dialing is closed when Connect is entered; Connect then waits on gate.
	dialing chan struct{}
	gate    chan struct{}
}

func newPairedClient() *fakeClient {
	return &fakeClient{paired: true, sendErr: map[string]error{}}
}

func newUnpairedClient() *fakeClient {
	return &fakeClient{sendErr: map[string]error{}, qr: make(chan whatsmeow.QRChannelItem, 4)}
}

func (f *fakeClient) Connect() error {
	f.mu.Lock()
	dialing, gate := f.dialing, f.gate
	f.dialing = nil
	f.mu.Unlock()
	if dialing != nil {
		close(dialing)
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = true
	f.loggedIn = f.paired
	return nil
}

func (f *fakeClient) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) IsLoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn
}

func (f *fakeClient) IsPaired() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paired
}

func (f *fakeClient) OwnJID() types.JID {
	return types.NewJID("989120000000", types.DefaultUserServer)
}

func (f *fakeClient) GetQRChannel(context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if f.qr == nil {
		return nil, errors.New("already paired")
	}
	return f.qr, nil
}

func (f *fakeClient) AddEventHandler(handler whatsmeow.EventHandler) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
	return uint32(len(f.handlers))
}

func (f *fakeClient) SendMessage(_ context.Context, to types.JID, message *waE2E.Message, _ ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.sendErr[to.User]; err != nil {
		return whatsmeow.SendResponse{}, err
	}
	f.sent = append(f.sent, sentMessage{to: to, msg: message})
	return whatsmeow.SendResponse{ID: "SENT" + idString(int64(len(f.sent))), Timestamp: time.Now()}, nil
}

func (f *fakeClient) Upload(_ context.Context, data []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, appInfo)
	return whatsmeow.UploadResponse{
		URL:        "https://mmg.whatsapp.net/d/f/abc",
		DirectPath: "/v/t62/abc",
		MediaKey:   []byte{1, 2, 3},
		FileLength: uint64(len(data)),
	}, nil
}

func (f *fakeClient) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut = true
	f.loggedIn = false
	f.connected = false
	return nil
}

func (f *fakeClient) Forget(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = true
	return nil
}

// fire delivers evt the way the library does, outside of the client lock.
func (f *fakeClient) fire(evt interface{}) {
	f.mu.Lock()
	handlers := append([]whatsmeow.EventHandler(nil), f.handlers...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (f *fakeClient) set(fn func(*fakeClient)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeClient) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeProvider struct {
	mu        sync.Mutex
	next      []*fakeClient
	err       error
	created   map[int64]*fakeClient
	forgotten []string
	calls     atomic.Int32
}

func (p *fakeProvider) queue(clients ...*fakeClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next = append(p.next, clients...)
}

func (p *fakeProvider) NewClient(_ context.Context, bot *domain.Bot) (Client, error) {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	var cli *fakeClient
	if len(p.next) > 0 {
		cli, p.next = p.next[0], p.next[1:]
	} else {
		cli = newPairedClient()
	}
	if p.created == nil {
		p.created = map[int64]*fakeClient{}
	}
	p.created[bot.ID] = cli
	return cli, nil
}

func (p *fakeProvider) ForgetDevice(_ context.Context, jid string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgotten = append(p.forgotten, jid)
	return nil
}

func (p *fakeProvider) client(botID int64) *fakeClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created[botID]
}

type eventLog struct {
	mu     sync.Mutex
	events []BotEvent
}

func (l *eventLog) add(evt BotEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) named(name string) []BotEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []BotEvent
	for _, e := range l.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	cfg      *config.AppConfig
	mgr      *Manager
	store    *store.Store
	provider *fakeProvider
	events   *eventLog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.OpenBolt(filepath.Join(t.TempDir(), "wa.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.AppConfig{WhatsApp: config.WhatsAppConfig{
		DefaultCountryCode: "98",
		MaxHealthFailures:  2,
		BulkWorkers:        2,
		MediaMaxBytes:      1 << 20,
		MediaDir:           t.TempDir(),
		AutoRestore:        true,
	}}
	a := app.NewApplication(cfg)
	a.OverrideStore(st)

	log := &eventLog{}
	require.NoError(t, a.Bus().Subscribe(EventTopic, log.add))

	provider := &fakeProvider{}
	return &testEnv{cfg: cfg, mgr: NewManager(a, provider), store: st, provider: provider, events: log}
}

func (e *testEnv) createBot(t *testing.T, bot *domain.Bot) *domain.Bot {
	t.Helper()
	if bot.OwnerID == 0 {
		bot.OwnerID = 1
	}
	require.NoError(t, e.store.Bots.Create(context.Background(), bot))
	return bot
}

func (e *testEnv) bot(t *testing.T, id int64) *domain.Bot {
	t.Helper()
	b, err := e.store.Bots.GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}
