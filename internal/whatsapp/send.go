package whatsapp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"github.com/talkincode/wabot/internal/domain"
	"github.com/talkincode/wabot/pkg/metrics"
)

// connected returns the instance and client of a bot that can send now.
func (m *Manager) connected(ctx context.Context, ownerID, botID int64) (*instance, Client, error) {
	if _, err := m.ownedBot(ctx, ownerID, botID); err != nil {
		return nil, nil, err
	}
	inst := m.lookup(botID)
	if inst == nil {
		return nil, nil, ErrNotConnected
	}
	cli := m.clientOf(inst)
	if cli == nil || !cli.IsConnected() || !cli.IsLoggedIn() {
		return nil, nil, ErrNotConnected
	}
	return inst, cli, nil
}

func (m *Manager) deliver(ctx context.Context, inst *instance, cli Client, to types.JID, msg *waE2E.Message, record *domain.Message) (*domain.Message, error) {
	resp, err := cli.SendMessage(ctx, to, msg)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	metrics.Incr("wabot_messages_sent")
	record.BotID = inst.botID
	record.Direction = domain.DirectionOutgoing
	record.FromNumber = cli.OwnJID().User
	record.ToNumber = to.User
	record.WhatsappID = resp.ID
	record.Timestamp = resp.Timestamp
	m.record(inst, record)
	return record, nil
}

// SendText sends text to number. With mediaURL the media is sent instead,
// captioned with text.
func (m *Manager) SendText(ctx context.Context, ownerID, botID int64, number, text, mediaURL string) (*domain.Message, error) {
	inst, cli, err := m.connected(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}
	to, err := ToJID(number, m.cfg().DefaultCountryCode)
	if err != nil {
		return nil, err
	}

	record := &domain.Message{Body: text}
	msg := &waE2E.Message{Conversation: proto.String(text)}
	if mediaURL != "" {
		media, err := m.fetchMedia(ctx, mediaURL)
		if err != nil {
			return nil, err
		}
		var kind string
		msg, kind, err = buildMediaMessage(ctx, cli, media, text)
		if err != nil {
			return nil, err
		}
		record.HasMedia, record.MediaType, record.MediaURL = true, kind, mediaURL
	}
	return m.deliver(ctx, inst, cli, to, msg, record)
}

// SendFile sends a local file or a remote one as media, typed by content.
func (m *Manager) SendFile(ctx context.Context, ownerID, botID int64, number, caption, filePath, fileURL string) (*domain.Message, error) {
	if filePath == "" && fileURL == "" {
		return nil, ErrNoMedia
	}
	inst, cli, err := m.connected(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}
	to, err := ToJID(number, m.cfg().DefaultCountryCode)
	if err != nil {
		return nil, err
	}

	var media *Media
	source := fileURL
	if filePath != "" {
		media, err = m.loadFile(filePath)
		source = filePath
	} else {
		media, err = m.fetchMedia(ctx, fileURL)
	}
	if err != nil {
		return nil, err
	}
	msg, kind, err := buildMediaMessage(ctx, cli, media, caption)
	if err != nil {
		return nil, err
	}
	return m.deliver(ctx, inst, cli, to, msg, &domain.Message{
		Body:      caption,
		HasMedia:  true,
		MediaType: kind,
		MediaURL:  source,
	})
}

type BulkFailure struct {
	Number string `json:"number"`
	Error  string `json:"error"`
}

type BulkResult struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Success    []string      `json:"success"`
	Failures   []BulkFailure `json:"failures"`
}

// SendBulk sends the same message to every number. Media is fetched and
// uploaded once. Sends run on a bounded pool at the configured rate; one
// failing number never aborts the others.
func (m *Manager) SendBulk(ctx context.Context, ownerID, botID int64, numbers []string, text, mediaURL string) (*BulkResult, error) {
	inst, cli, err := m.connected(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}

	template := &waE2E.Message{Conversation: proto.String(text)}
	kind := ""
	if mediaURL != "" {
		media, err := m.fetchMedia(ctx, mediaURL)
		if err != nil {
			return nil, err
		}
		template, kind, err = buildMediaMessage(ctx, cli, media, text)
		if err != nil {
			return nil, err
		}
	}

	workers := m.cfg().BulkWorkers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	limit := rate.Inf
	if r := m.cfg().BulkRatePerSecond; r > 0 {
		limit = rate.Limit(r)
	}
	limiter := rate.NewLimiter(limit, 1)

	outcomes := make([]error, len(numbers))
	var wg sync.WaitGroup
	for i, number := range numbers {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			outcomes[i] = m.sendOne(ctx, inst, cli, limiter, number, template, &domain.Message{
				Body:      text,
				HasMedia:  kind != "",
				MediaType: kind,
				MediaURL:  mediaURL,
			})
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			outcomes[i] = err
		}
	}
	wg.Wait()

	result := &BulkResult{Total: len(numbers), Success: []string{}, Failures: []BulkFailure{}}
	for i, err := range outcomes {
		if err != nil {
			result.Failures = append(result.Failures, BulkFailure{Number: numbers[i], Error: err.Error()})
			continue
		}
		result.Success = append(result.Success, numbers[i])
	}
	result.Successful, result.Failed = len(result.Success), len(result.Failures)
	zap.L().Info("whatsapp: bulk send finished", zap.Int64("bot_id", botID),
		zap.Int("total", result.Total), zap.Int("failed", result.Failed))
	return result, nil
}

func (m *Manager) sendOne(ctx context.Context, inst *instance, cli Client, limiter *rate.Limiter, number string, template *waE2E.Message, record *domain.Message) error {
	to, err := ToJID(number, m.cfg().DefaultCountryCode)
	if err != nil {
		return err
	}
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err = m.deliver(sendCtx, inst, cli, to, proto.Clone(template).(*waE2E.Message), record)
	return err
}
