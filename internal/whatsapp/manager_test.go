package whatsapp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/talkincode/wabot/internal/domain"
)

func TestStartStopLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot := env.createBot(t, &domain.Bot{Name: "support"})

	assert.ErrorIs(t, env.mgr.Start(ctx, 2, bot.ID), ErrBotNotFound)

	require.NoError(t, env.mgr.Start(ctx, 1, bot.ID))
	assert.Equal(t, domain.BotStatusConnecting, env.bot(t, bot.ID).Status)
	assert.Len(t, env.events.named(EventBotStarting), 1)
	assert.ErrorIs(t, env.mgr.Start(ctx, 1, bot.ID), ErrAlreadyRunning)

	cli := env.provider.client(bot.ID)
	cli.fire(&events.Connected{})
	stored := env.bot(t, bot.ID)
	assert.Equal(t, domain.BotStatusConnected, stored.Status)
	require.NotNil(t, stored.LastConnected)

	state, err := env.mgr.Status(ctx, 1, bot.ID)
	require.NoError(t, err)
	assert.True(t, state.Running)
	assert.True(t, state.Connected)

	qr, err := env.mgr.QR(ctx, 1, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, QRConnected, qr.Status)

	require.NoError(t, env.mgr.Stop(ctx, 1, bot.ID))
	assert.Equal(t, domain.BotStatusDisconnected, env.bot(t, bot.ID).Status)
	assert.Equal(t, 1, cli.disconnects)
	assert.ErrorIs(t, env.mgr.Stop(ctx, 1, bot.ID), ErrNotRunning)

	statuses := env.events.named(EventBotStatus)
	require.NotEmpty(t, statuses)
	last := statuses[len(statuses)-1]
	assert.Equal(t, domain.BotStatusDisconnected, last.Data["status"])
	assert.Equal(t, idString(bot.ID), last.Data["bot_id"])
	assert.EqualValues(t, 1, last.OwnerID)
}

func TestStartFailureReleasesSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot := env.createBot(t, &domain.Bot{Name: "flaky"})

	broken := newPairedClient()
	broken.connectErr = errors.New("dial failed")
	env.provider.queue(broken)

	require.Error(t, env.mgr.Start(ctx, 1, bot.ID))
	running, _ := env.mgr.Running()
	assert.Zero(t, running)
	assert.Equal(t, domain.BotStatusDisconnected, env.bot(t, bot.ID).Status)
	errs := env.events.named(EventBotError)
	require.Len(t, errs, 1)
	assert.Equal(t, "dial failed", errs[0].Data["error"])

	require.NoError(t, env.mgr.Start(ctx, 1, bot.ID))
	running, _ = env.mgr.Running()
	assert.Equal(t, 1, running)
}

func TestStaleInstanceEventsIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot := env.createBot(t, &domain.Bot{Name: "stale"})

	require.NoError(t, env.mgr.Start(ctx, 1, bot.ID))
	old := env.provider.client(bot.ID)
	require.NoError(t, env.mgr.Stop(ctx, 1, bot.ID))

	old.fire(&events.Connected{})
	assert.Equal(t, domain.BotStatusDisconnected, env.bot(t, bot.ID).Status)
}

func TestConcurrentStartsReserveOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot := env.createBot(t, &domain.Bot{Name: "busy"})

	var started, rejected atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := env.mgr.Start(ctx, 1, bot.ID)
			switch {
			case err == nil:
				started.Add(1)
			case errors.Is(err, ErrAlreadyRunning):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, started.Load())
	assert.EqualValues(t, 31, rejected.Load())
	assert.EqualValues(t, 1, env.provider.calls.Load())
	assert.Len(t, env.events.named(EventBotStarting), 1)
	running, _ := env.mgr.Running()
	assert.Equal(t, 1, running)
}

func TestStopWhileConnectingDropsClient(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot := env.createBot(t, &domain.Bot{Name: "racy"})

	cli := newPairedClient()
	cli.dialing = make(chan struct{})
	cli.gate = make(chan struct{})
	dialing := cli.dialing
	env.provider.queue(cli)

	done := make(chan error, 1)
	go func() { done <- env.mgr.Start(ctx, 1, bot.ID) }()
	select {
	case <-dialing:
	case <-time.After(2 * time.Second):
		t.Fatal("connect was never called")
	}

	require.NoError(t, env.mgr.Stop(ctx, 1, bot.ID))
	close(cli.gate)
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNotRunning)
	case <-time.After(2 * time.Second):
		t.Fatal("start did not return")
	}

	assert.False(t, cli.IsConnected())
	running, connected := env.mgr.Running()
	assert.Zero(t, running)
	assert.Zero(t, connected)
	assert.Equal(t, domain.BotStatusDisconnected, env.bot(t, bot.ID).Status)

	require.NoError(t, env.mgr.Start(ctx, 1, bot.ID))
	assert.NotSame(t, cli, env.provider.client(bot.ID))
	running, _ = env.mgr.Running()
	assert.Equal(t, 1, running)
}

func TestQRTimeoutReleasesSlot(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.WhatsApp.QRTimeout = 50 * time.Millisecond
	ctx := context.Background()
	bot := env.createBot(t, &domain.Bot{Name: "slow-scan"})

	env.provider.queue(newUnpairedClient())
	require.NoError(t, env.mgr.Start(ctx, 1, bot.ID))

	require.Eventually(t, func() bool {
		return len(env.events.named(EventBotError)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "QR code expired", env.events.named(EventBotError)[0].Data["error"])
	running, _ := env.mgr.Running()
	assert.Zero(t, running)
	assert.Equal(t, domain.BotStatusDisconnected, env.bot(t, bot.ID).Status)

	require.NoError(t, env.mgr.Start(ctx, 1, bot.ID))
}

func TestQRCodeFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot := env.createBot(t, &domain.Bot{Name: "fresh"})

	cli := newUnpairedClient()
	env.provider.queue(cli)
	require.NoError(t, env.mgr.Start(ctx, 1, bot.ID))

	qr, err := env.mgr.QR(ctx, 1, bot.ID)
	require.NoError(t, err)
	assert.Equal(t, QRPending, qr.Status)

	cli.qr <- whatsmeow.QRChannelItem{Event: whatsmeow.QRChannelEventCode, Code: "2@abc,def", Timeout: time.Minute}
	require.Eventually(t, func() bool {
		qr, _ = env.mgr.QR(ctx, 1, bot.ID)
		return qr.Status == QRReady
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, strings.HasPrefix(qr.QR, "data:image/png;base64,"))
	require.Len(t, env.events.named(EventBotQR), 1)

	cli.qr <- whatsmeow.QRChannelTimeout
	require.Eventually(t, func() bool {
		return len(env.events.named(EventBotError)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	running, _ := env.mgr.Running()
	assert.Zero(t, running)
	errs := env.events.named(EventBotError)
	assert.Equal(t, "QR code expired", errs[0].Data["error"])
	qr, _ = env.mgr.QR(ctx, 1, bot.ID)
	assert.Equal(t, QRPending, qr.Status)
}

func TestPairingAndLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot := env.createBot(t, &domain.Bot{Name: "pair"})

	require.NoError(t, env.mgr.Start(ctx, 1, bot.ID))
	cli := env.provider.client(bot.ID)
	device := types.NewADJID("989121234567", 0, 5)
	cli.fire(&events.PairSuccess{ID: device})

	stored := env.bot(t, bot.ID)
	assert.Equal(t, device.String(), stored.Jid)
	assert.Equal(t, "989121234567", stored.Phone)

	cli.fire(&events.LoggedOut{})
	require.Eventually(t, func() bool {
		return len(env.events.named(EventBotError)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	running, _ := env.mgr.Running()
	assert.Zero(t, running)
	assert.Equal(t, "logged out", env.events.named(EventBotError)[0].Data["error"])
	stored = env.bot(t, bot.ID)
	assert.Empty(t, stored.Jid)
	assert.Equal(t, domain.BotStatusDisconnected, stored.Status)
	cli.mu.Lock()
	assert.True(t, cli.forgotten)
	cli.mu.Unlock()
}

func TestDisconnectKeepsInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot := env.createBot(t, &domain.Bot{Name: "wobbly"})

	require.NoError(t, env.mgr.Start(ctx, 1, bot.ID))
	cli := env.provider.client(bot.ID)
	cli.fire(&events.Connected{})
	cli.fire(&events.Disconnected{})

	assert.Equal(t, domain.BotStatusConnecting, env.bot(t, bot.ID).Status)
	running, _ := env.mgr.Running()
	assert.Equal(t, 1, running)
}

func incoming(text string) *events.Message {
	sender := types.NewJID("989121234567", types.DefaultUserServer)
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: sender, Sender: sender},
			ID:            "3EB0C767D26A",
			Timestamp:     time.Now().Add(-time.Second),
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestIncomingMessageAutoReply(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot := env.createBot(t, &domain.Bot{
		Name:        "helpdesk",
		AutoReplies: map[string]string{"Hello": "Hi there! How can I help?"},
	})

	require.NoError(t, env.mgr.Start(ctx, 1, bot.ID))
	cli := env.provider.client(bot.ID)
	cli.fire(&events.Connected{})

	cli.fire(incoming("  HELLO "))
	sent := cli.sentMessages()
	require.Len(t, sent, 1)
	ext := sent[0].msg.GetExtendedTextMessage()
	require.NotNil(t, ext)
	assert.Equal(t, "Hi there! How can I help?", ext.GetText())
	assert.Equal(t, "3EB0C767D26A", ext.GetContextInfo().GetStanzaID())

	msgs := env.events.named(EventNewMessage)
	require.Len(t, msgs, 2)
	first, ok := msgs[0].Message()
	require.True(t, ok)
	assert.Equal(t, domain.DirectionIncoming, first.Direction)
	assert.Equal(t, "989121234567", first.FromNumber)
	second, _ := msgs[1].Message()
	assert.Equal(t, domain.DirectionOutgoing, second.Direction)
	assert.Equal(t, "989121234567", second.ToNumber)

	_, total, err := env.store.Messages.List(ctx, domain.MessageFilter{BotID: bot.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)

	cli.fire(incoming("something else"))
	assert.Len(t, cli.sentMessages(), 1)

	mine := incoming("hello")
	mine.Info.IsFromMe = true
	cli.fire(mine)
	assert.Len(t, cli.sentMessages(), 1)
	assert.Len(t, env.events.named(EventNewMessage), 3)

	env.mgr.UpdateAutoReplies(bot.ID, map[string]string{"Price": "It is free."})
	cli.fire(incoming("price"))
	sent = cli.sentMessages()
	require.Len(t, sent, 2)
	assert.Equal(t, "It is free.", sent[1].msg.GetExtendedTextMessage().GetText())
}

func TestSendTextRequiresConnection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot := env.createBot(t, &domain.Bot{Name: "sender"})

	_, err := env.mgr.SendText(ctx, 1, bot.ID, "09121234567", "hi", "")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = env.mgr.SendText(ctx, 2, bot.ID, "09121234567", "hi", "")
	assert.ErrorIs(t, err, ErrBotNotFound)

	cli := newUnpairedClient()
	env.provider.queue(cli)
	require.NoError(t, env.mgr.Start(ctx, 1, bot.ID))
	_, err = env.mgr.SendText(ctx, 1, bot.ID, "09121234567", "hi", "")
	assert.ErrorIs(t, err, ErrNotConnected)
	cli.set(func(f *fakeClient) { f.paired, f.loggedIn = true, true })

	_, err = env.mgr.SendText(ctx, 1, bot.ID, "abc", "hi", "")
	assert.ErrorIs(t, err, ErrInvalidNumber)

	msg, err := env.mgr.SendText(ctx, 1, bot.ID, "0912 123 4567", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionOutgoing, msg.Direction)
	assert.Equal(t, "989121234567", msg.ToNumber)
	assert.Equal(t, "989120000000", msg.FromNumber)
	sent := cli.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "989121234567@s.whatsapp.net", sent[0].to.String())
	assert.Equal(t, "hi", sent[0].msg.GetConversation())
}

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func startConnected(t *testing.T, env *testEnv, name string) (*domain.Bot, *fakeClient) {
	t.Helper()
	bot := env.createBot(t, &domain.Bot{Name: name})
	require.NoError(t, env.mgr.Start(context.Background(), 1, bot.ID))
	cli := env.provider.client(bot.ID)
	cli.fire(&events.Connected{})
	return bot, cli
}

func TestSendFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot, cli := startConnected(t, env, "files")

	_, err := env.mgr.SendFile(ctx, 1, bot.ID, "09121234567", "", "", "")
	assert.ErrorIs(t, err, ErrNoMedia)
	_, err = env.mgr.SendFile(ctx, 1, bot.ID, "09121234567", "", "missing.png", "")
	assert.ErrorIs(t, err, ErrFileNotFound)

	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.WhatsApp.MediaDir, "logo.png"), pngHeader, 0o600))
	msg, err := env.mgr.SendFile(ctx, 1, bot.ID, "09121234567", "our logo", "logo.png", "")
	require.NoError(t, err)
	assert.Equal(t, MediaImage, msg.MediaType)
	assert.True(t, msg.HasMedia)

	sent := cli.sentMessages()
	require.Len(t, sent, 1)
	img := sent[0].msg.GetImageMessage()
	require.NotNil(t, img)
	assert.Equal(t, "our logo", img.GetCaption())
	assert.Equal(t, "image/png", img.GetMimetype())
}

func TestSendFileStaysInMediaDir(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot, cli := startConnected(t, env, "jail")

	media := env.cfg.WhatsApp.MediaDir
	outside := filepath.Join(t.TempDir(), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("jwt_secret: hunter2"), 0o600))
	require.NoError(t, os.Symlink(outside, filepath.Join(media, "link.txt")))
	require.NoError(t, os.Mkdir(filepath.Join(media, "docs"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(media, "docs", "menu.txt"), []byte("menu"), 0o600))

	for _, file := range []string{
		outside,
		"/etc/passwd",
		"../secret.txt",
		filepath.Join(media, "..", "secret.txt"),
		"link.txt",
		"docs",
	} {
		_, err := env.mgr.SendFile(ctx, 1, bot.ID, "09121234567", "", file, "")
		assert.ErrorIs(t, err, ErrFileNotFound, file)
	}
	assert.Empty(t, cli.sentMessages())

	_, err := env.mgr.SendFile(ctx, 1, bot.ID, "09121234567", "", filepath.Join(media, "docs", "menu.txt"), "")
	require.NoError(t, err)
	_, err = env.mgr.SendFile(ctx, 1, bot.ID, "09121234567", "", "docs/../docs/menu.txt", "")
	require.NoError(t, err)
	assert.Len(t, cli.sentMessages(), 2)
}

func TestFetchMediaEnforcesLimit(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.WhatsApp.MediaMaxBytes = 1024
	ctx := context.Background()
	big := strings.Repeat("x", 4096)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sized.txt":
			w.Header().Set("Content-Length", strconv.Itoa(len(big)))
			_, _ = w.Write([]byte(big))
		case "/streamed.txt":
			// flushing before the body ends forces chunked encoding
			w.(http.Flusher).Flush()
			_, _ = w.Write([]byte(big))
		case "/small.txt":
			_, _ = w.Write([]byte("ok"))
		}
	}))
	defer srv.Close()

	_, err := env.mgr.fetchMedia(ctx, srv.URL+"/sized.txt")
	assert.ErrorIs(t, err, ErrMediaTooLarge)
	_, err = env.mgr.fetchMedia(ctx, srv.URL+"/streamed.txt")
	assert.ErrorIs(t, err, ErrMediaTooLarge)

	media, err := env.mgr.fetchMedia(ctx, srv.URL+"/small.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), media.Data)
	assert.Equal(t, "small.txt", media.FileName)

	_, err = env.mgr.fetchMedia(ctx, "file:///etc/passwd")
	assert.ErrorIs(t, err, ErrMediaFetch)
}

func TestSendFileFromURL(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot, cli := startConnected(t, env, "remote")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/report.txt" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("quarterly numbers"))
	}))
	defer srv.Close()

	msg, err := env.mgr.SendFile(ctx, 1, bot.ID, "09121234567", "", "", srv.URL+"/report.txt")
	require.NoError(t, err)
	assert.Equal(t, MediaDocument, msg.MediaType)
	doc := cli.sentMessages()[0].msg.GetDocumentMessage()
	require.NotNil(t, doc)
	assert.Equal(t, "report.txt", doc.GetFileName())
	assert.Equal(t, "text/plain", doc.GetMimetype())

	_, err = env.mgr.SendFile(ctx, 1, bot.ID, "09121234567", "", "", srv.URL+"/missing")
	assert.ErrorIs(t, err, ErrMediaFetch)
}

func TestSendBulk(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot, cli := startConnected(t, env, "bulk")
	cli.set(func(f *fakeClient) { f.sendErr["989351234567"] = errors.New("not on whatsapp") })

	numbers := []string{"09121234567", "abc", "9351234567", "+98 912 765 4321"}
	res, err := env.mgr.SendBulk(ctx, 1, bot.ID, numbers, "sale today", "")
	require.NoError(t, err)
	assert.Equal(t, 4, res.Total)
	assert.Equal(t, 2, res.Successful)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, []string{"09121234567", "+98 912 765 4321"}, res.Success)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "abc", res.Failures[0].Number)
	assert.Equal(t, ErrInvalidNumber.Error(), res.Failures[0].Error)
	assert.Equal(t, "9351234567", res.Failures[1].Number)
	assert.Len(t, cli.sentMessages(), 2)
}

func TestSendBulkMediaFailureAbortsAll(t *testing.T) {
	env := newTestEnv(t)
	bot, cli := startConnected(t, env, "bulk-media")

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := env.mgr.SendBulk(context.Background(), 1, bot.ID, []string{"09121234567"}, "hi", srv.URL+"/gone.jpg")
	assert.ErrorIs(t, err, ErrMediaFetch)
	assert.Empty(t, cli.sentMessages())
}

func TestHealthCheckTearsDownAfterFailures(t *testing.T) {
	env := newTestEnv(t)
	bot, cli := startConnected(t, env, "health")

	env.mgr.HealthCheck()
	running, connected := env.mgr.Running()
	assert.Equal(t, 1, running)
	assert.Equal(t, 1, connected)

	cli.set(func(f *fakeClient) {
		f.connected = false
		f.connectErr = errors.New("offline")
	})
	env.mgr.HealthCheck()
	running, _ = env.mgr.Running()
	assert.Equal(t, 1, running)

	env.mgr.HealthCheck()
	running, _ = env.mgr.Running()
	assert.Zero(t, running)
	assert.Equal(t, domain.BotStatusDisconnected, env.bot(t, bot.ID).Status)
	errs := env.events.named(EventBotError)
	require.Len(t, errs, 1)
	assert.Equal(t, "health check failed", errs[0].Data["error"])
}

func TestDeleteBot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bot, cli := startConnected(t, env, "doomed")
	cli.fire(incoming("hi"))

	require.NoError(t, env.mgr.Delete(ctx, 1, bot.ID))
	cli.mu.Lock()
	assert.True(t, cli.loggedOut)
	cli.mu.Unlock()
	_, err := env.store.Bots.GetByID(ctx, bot.ID)
	assert.Error(t, err)
	_, total, err := env.store.Messages.List(ctx, domain.MessageFilter{BotID: bot.ID})
	require.NoError(t, err)
	assert.Zero(t, total)

	idle := env.createBot(t, &domain.Bot{Name: "idle", Jid: "989121111111:3@s.whatsapp.net"})
	require.NoError(t, env.mgr.Delete(ctx, 1, idle.ID))
	assert.Equal(t, []string{"989121111111:3@s.whatsapp.net"}, env.provider.forgotten)
	assert.ErrorIs(t, env.mgr.Delete(ctx, 1, idle.ID), ErrBotNotFound)
}

func TestRestoreStartsAutoStartBots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	auto := env.createBot(t, &domain.Bot{Name: "auto", Jid: "989121111111:1@s.whatsapp.net", AutoStart: true})
	manual := env.createBot(t, &domain.Bot{Name: "manual", Jid: "989122222222:1@s.whatsapp.net"})
	unpaired := env.createBot(t, &domain.Bot{Name: "new", AutoStart: true})
	for _, b := range []*domain.Bot{auto, manual, unpaired} {
		require.NoError(t, env.store.Bots.UpdateStatus(ctx, b.ID, domain.BotStatusConnected, nil))
	}

	require.NoError(t, env.mgr.Restore(ctx))
	running, _ := env.mgr.Running()
	assert.Equal(t, 1, running)
	assert.NotNil(t, env.provider.client(auto.ID))
	assert.Nil(t, env.provider.client(manual.ID))
	assert.Equal(t, domain.BotStatusDisconnected, env.bot(t, manual.ID).Status)
	assert.Equal(t, domain.BotStatusDisconnected, env.bot(t, unpaired.ID).Status)
}

func TestShutdownDisconnectsAll(t *testing.T) {
	env := newTestEnv(t)
	first, c1 := startConnected(t, env, "one")
	second, c2 := startConnected(t, env, "two")

	env.mgr.Shutdown()
	running, _ := env.mgr.Running()
	assert.Zero(t, running)
	assert.Equal(t, 1, c1.disconnects)
	assert.Equal(t, 1, c2.disconnects)
	assert.Equal(t, domain.BotStatusDisconnected, env.bot(t, first.ID).Status)
	assert.Equal(t, domain.BotStatusDisconnected, env.bot(t, second.ID).Status)
}
