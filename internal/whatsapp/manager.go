package whatsapp

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/talkincode/wabot/config"
	"github.com/talkincode/wabot/internal/app"
	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/internal/store"
)

var (
	ErrBotNotFound    = errors.New("bot not found")
	ErrAlreadyRunning = errors.New("bot is already running")
	ErrNotRunning     = errors.New("bot is not running")
	ErrNotConnected   = errors.New("bot is not connected")
	ErrInvalidNumber  = errors.New("invalid phone number")
	ErrMediaFetch     = errors.New("failed to fetch media")
	ErrMediaTooLarge  = errors.New("media exceeds the size limit")
	ErrFileNotFound   = errors.New("file not found")
	ErrNoMedia        = errors.New("file_path or file_url is required")
)

// IsCommandError reports whether err was returned before a bot instance
// existed. Later failures are also published as bot_error events.
func IsCommandError(err error) bool {
	return errors.Is(err, ErrBotNotFound) || errors.Is(err, ErrAlreadyRunning) || errors.Is(err, ErrNotRunning)
}

// instance is one running bot. client and cancel are guarded by Manager.mu.
type instance struct {
	botID   int64
	ownerID int64
	name    string

	client Client
	cancel context.CancelFunc

	failures atomic.Int32

	mu      sync.RWMutex
	replies map[string]string
}

func newInstance(bot *domain.Bot) *instance {
	return &instance{
		botID:   bot.ID,
		ownerID: bot.OwnerID,
		name:    bot.Name,
		replies: NormalizeReplies(bot.AutoReplies),
	}
}

func (i *instance) reply(body string) (string, bool) {
	key := NormalizeTrigger(body)
	if key == "" {
		return "", false
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	r, ok := i.replies[key]
	return r, ok && r != ""
}

func (i *instance) setReplies(replies map[string]string) {
	normalized := NormalizeReplies(replies)
	i.mu.Lock()
	i.replies = normalized
	i.mu.Unlock()
}

type closeMode int

const (
	closeKeep closeMode = iota
	closeForget
	closeLogout
)

// Manager is the process wide registry of running bots. At most one
// instance exists per bot, and only the registered instance may change the
// bot's persisted status.
type Manager struct {
	app      app.AppContext
	provider Provider
	http     *resty.Client
	qrCodes  *cache.Cache

	mu        sync.Mutex
	instances map[int64]*instance
	healthID  cron.EntryID
}

func NewManager(a app.AppContext, provider Provider) *Manager {
	return &Manager{
		app:       a,
		provider:  provider,
		http:      newHTTPClient(),
		qrCodes:   cache.New(time.Minute, 5*time.Minute),
		instances: make(map[int64]*instance),
	}
}

func (m *Manager) cfg() config.WhatsAppConfig {
	return m.app.Config().WhatsApp
}

func (m *Manager) store() *store.Store {
	return m.app.Store()
}

func (m *Manager) ownedBot(ctx context.Context, ownerID, botID int64) (*domain.Bot, error) {
	bot, err := m.store().Bots.GetOwned(ctx, botID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrBotNotFound
	}
	return bot, err
}

// reserve registers inst unless the bot already has an instance.
func (m *Manager) reserve(inst *instance) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[inst.botID]; ok {
		return false
	}
	m.instances[inst.botID] = inst
	return true
}

// release unregisters inst if it is still the registered instance.
func (m *Manager) release(inst *instance) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.instances[inst.botID] != inst {
		return false
	}
	delete(m.instances, inst.botID)
	return true
}

func (m *Manager) attach(inst *instance, cli Client, cancel context.CancelFunc) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.instances[inst.botID] != inst {
		return false
	}
	inst.client = cli
	inst.cancel = cancel
	return true
}

func (m *Manager) isCurrent(inst *instance) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances[inst.botID] == inst
}

func (m *Manager) lookup(botID int64) *instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.instances[botID]
}

func (m *Manager) clientOf(inst *instance) Client {
	m.mu.Lock()
	defer m.mu.Unlock()
	return inst.client
}

func (m *Manager) snapshot() []*instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*instance, 0, len(m.instances))
	for _, inst := range m.instances {
		list = append(list, inst)
	}
	return list
}

// Start creates, registers and connects the bot's client. Unpaired bots
// publish QR codes until a phone scans one.
func (m *Manager) Start(ctx context.Context, ownerID, botID int64) error {
	bot, err := m.ownedBot(ctx, ownerID, botID)
	if err != nil {
		return err
	}
	return m.start(ctx, bot)
}

func (m *Manager) start(ctx context.Context, bot *domain.Bot) error {
	inst := newInstance(bot)
	if !m.reserve(inst) {
		return ErrAlreadyRunning
	}
	zap.L().Info("whatsapp: starting bot", zap.Int64("bot_id", bot.ID), zap.String("name", bot.Name))

	m.setStatus(inst.botID, domain.BotStatusConnecting, nil)
	m.emit(inst, EventBotStarting, nil)
	m.emitStatus(inst, domain.BotStatusConnecting)

	cli, err := m.provider.NewClient(ctx, bot)
	if err != nil {
		m.fail(inst, err)
		return err
	}
	cli.AddEventHandler(func(evt interface{}) {
		m.handleEvent(inst, evt)
	})

	qrCtx, cancel := context.WithCancel(context.Background())
	if !m.attach(inst, cli, cancel) {
		cancel()
		return ErrNotRunning
	}

	if !cli.IsPaired() {
		ch, err := cli.GetQRChannel(qrCtx)
		if err != nil {
			m.fail(inst, err)
			return err
		}
		go m.watchQR(qrCtx, inst, ch)
	}

	if err := cli.Connect(); err != nil {
		m.fail(inst, err)
		return err
	}
	// Stop may have torn the instance down while Connect was dialing, when
	// its Disconnect had no socket to close yet.
	if !m.isCurrent(inst) {
		cli.Disconnect()
		return ErrNotRunning
	}
	return nil
}

// fail aborts a start attempt that still owns its registry slot.
func (m *Manager) fail(inst *instance, err error) {
	zap.L().Error("whatsapp: bot start failed", zap.Int64("bot_id", inst.botID), zap.Error(err))
	m.teardown(inst, err.Error(), closeKeep)
}

// teardown unregisters inst and closes its client. It is a no-op when inst
// has already been replaced or removed.
func (m *Manager) teardown(inst *instance, reason string, mode closeMode) bool {
	if !m.release(inst) {
		return false
	}
	m.closeInstance(inst, mode)
	if mode != closeKeep {
		m.clearJid(inst.botID)
	}
	m.setStatus(inst.botID, domain.BotStatusDisconnected, nil)
	m.emitStatus(inst, domain.BotStatusDisconnected)
	if reason != "" {
		m.emit(inst, EventBotError, map[string]interface{}{"error": reason})
	}
	return true
}

func (m *Manager) closeInstance(inst *instance, mode closeMode) {
	m.mu.Lock()
	cli, cancel := inst.client, inst.cancel
	m.mu.Unlock()

	m.qrCodes.Delete(qrKey(inst.botID))
	if cancel != nil {
		cancel()
	}
	if cli == nil {
		return
	}

	ctx, done := context.WithTimeout(context.Background(), 15*time.Second)
	defer done()
	switch mode {
	case closeLogout:
		if cli.IsLoggedIn() {
			err := cli.Logout(ctx)
			if err == nil {
				return
			}
			zap.L().Warn("whatsapp: logout failed, forgetting device", zap.Int64("bot_id", inst.botID), zap.Error(err))
		}
		cli.Disconnect()
		m.forget(ctx, inst, cli)
	case closeForget:
		cli.Disconnect()
		m.forget(ctx, inst, cli)
	default:
		cli.Disconnect()
	}
}

func (m *Manager) forget(ctx context.Context, inst *instance, cli Client) {
	if err := cli.Forget(ctx); err != nil {
		zap.L().Warn("whatsapp: forget device failed", zap.Int64("bot_id", inst.botID), zap.Error(err))
	}
}

// Stop disconnects a running bot. The device session is kept.
func (m *Manager) Stop(ctx context.Context, ownerID, botID int64) error {
	if _, err := m.ownedBot(ctx, ownerID, botID); err != nil {
		return err
	}
	inst := m.lookup(botID)
	if inst == nil || !m.teardown(inst, "", closeKeep) {
		return ErrNotRunning
	}
	zap.L().Info("whatsapp: bot stopped", zap.Int64("bot_id", botID))
	return nil
}

// Delete stops the bot, ends its device session and removes the bot with
// its message history.
func (m *Manager) Delete(ctx context.Context, ownerID, botID int64) error {
	bot, err := m.ownedBot(ctx, ownerID, botID)
	if err != nil {
		return err
	}
	if inst := m.lookup(botID); inst != nil && m.release(inst) {
		m.closeInstance(inst, closeLogout)
	} else if bot.Paired() {
		if err := m.provider.ForgetDevice(ctx, bot.Jid); err != nil {
			zap.L().Warn("whatsapp: forget device failed", zap.Int64("bot_id", botID), zap.Error(err))
		}
	}
	if err := m.store().Messages.DeleteByBot(ctx, botID); err != nil {
		return err
	}
	if err := m.store().Bots.Delete(ctx, botID); err != nil {
		return err
	}
	zap.L().Info("whatsapp: bot deleted", zap.Int64("bot_id", botID))
	return nil
}

// UpdateAutoReplies swaps the rules of a running instance.
func (m *Manager) UpdateAutoReplies(botID int64, replies map[string]string) {
	if inst := m.lookup(botID); inst != nil {
		inst.setReplies(replies)
	}
}

type BotState struct {
	BotID         int64      `json:"bot_id,string"`
	Status        string     `json:"status"`
	LastConnected *time.Time `json:"last_connected"`
	Running       bool       `json:"running"`
	Connected     bool       `json:"connected"`
}

func (m *Manager) Status(ctx context.Context, ownerID, botID int64) (*BotState, error) {
	bot, err := m.ownedBot(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}
	state := &BotState{BotID: bot.ID, Status: bot.Status, LastConnected: bot.LastConnected}
	if inst := m.lookup(botID); inst != nil {
		state.Running = true
		if cli := m.clientOf(inst); cli != nil {
			state.Connected = cli.IsConnected() && cli.IsLoggedIn()
		}
	}
	return state, nil
}

const (
	QRConnected = "connected"
	QRReady     = "success"
	QRPending   = "pending"
)

type QRState struct {
	Status  string `json:"status"`
	QR      string `json:"qr,omitempty"`
	Message string `json:"message"`
}

func (m *Manager) QR(ctx context.Context, ownerID, botID int64) (*QRState, error) {
	if _, err := m.ownedBot(ctx, ownerID, botID); err != nil {
		return nil, err
	}
	if inst := m.lookup(botID); inst != nil {
		if cli := m.clientOf(inst); cli != nil && cli.IsConnected() && cli.IsLoggedIn() {
			return &QRState{Status: QRConnected, Message: "Bot is already connected"}, nil
		}
	}
	if code, ok := m.qrCodes.Get(qrKey(botID)); ok {
		return &QRState{Status: QRReady, QR: code.(string), Message: "Scan the QR code with WhatsApp"}, nil
	}
	return &QRState{Status: QRPending, Message: "QR code not yet generated"}, nil
}

// Running returns the number of registered and connected instances.
func (m *Manager) Running() (running, connected int) {
	for _, inst := range m.snapshot() {
		running++
		if cli := m.clientOf(inst); cli != nil && cli.IsConnected() && cli.IsLoggedIn() {
			connected++
		}
	}
	return
}

// Restore marks every bot disconnected, then starts the paired bots that
// have auto start enabled.
func (m *Manager) Restore(ctx context.Context) error {
	if err := m.store().Bots.ResetStatuses(ctx); err != nil {
		return err
	}
	if !m.cfg().AutoRestore {
		return nil
	}
	bots, err := m.store().Bots.ListPaired(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(5)
	for _, bot := range bots {
		if !bot.AutoStart {
			continue
		}
		g.Go(func() error {
			if err := m.start(gctx, bot); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				zap.L().Warn("whatsapp: restore bot failed", zap.Int64("bot_id", bot.ID), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	zap.L().Info("whatsapp: bots restored", zap.Int("paired", len(bots)))
	return nil
}

// Shutdown disconnects every instance and persists them as disconnected.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	healthID := m.healthID
	m.mu.Unlock()
	if sched := m.app.Scheduler(); sched != nil && healthID != 0 {
		sched.Remove(healthID)
	}
	for _, inst := range m.snapshot() {
		if m.release(inst) {
			m.closeInstance(inst, closeKeep)
			m.setStatus(inst.botID, domain.BotStatusDisconnected, nil)
		}
	}
	zap.L().Info("whatsapp: all bots disconnected")
}

func (m *Manager) setStatus(botID int64, status string, lastConnected *time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := m.store().Bots.UpdateStatus(ctx, botID, status, lastConnected)
	switch {
	case errors.Is(err, store.ErrNotFound):
		zap.L().Debug("whatsapp: status update for deleted bot", zap.Int64("bot_id", botID))
	case err != nil:
		zap.L().Error("whatsapp: persist bot status failed",
			zap.Int64("bot_id", botID), zap.String("status", status), zap.Error(err))
	}
}

func (m *Manager) clearJid(botID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store().Bots.UpdateJid(ctx, botID, "", ""); err != nil && !errors.Is(err, store.ErrNotFound) {
		zap.L().Error("whatsapp: clear bot jid failed", zap.Int64("bot_id", botID), zap.Error(err))
	}
}

func (m *Manager) emit(inst *instance, name string, data map[string]interface{}) {
	publish(m.app.Bus(), BotEvent{OwnerID: inst.ownerID, BotID: inst.botID, Name: name, Data: data})
}

func (m *Manager) emitStatus(inst *instance, status string) {
	m.emit(inst, EventBotStatus, map[string]interface{}{"status": status})
}
