package wa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"doge-tipbot/internal/convo"
	"doge-tipbot/internal/metrics"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// Source labels messages delivered by this transport.
const Source = "whatsapp"

// ErrNotConnected is reported by Ping until the session is connected and
// logged in.
var ErrNotConnected = errors.New("whatsapp not connected")

// Config holds configuration to initialise the WhatsApp client.
type Config struct {
	StorePath string
	LogLevel  string
	Metrics   *metrics.Metrics
}

// Client wraps the WhatsMeow client and associated dependencies.
type Client struct {
	client  *whatsmeow.Client
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	processor MessageProcessor
	baseCtx   context.Context
}

// MessageProcessor handles inbound chat messages.
type MessageProcessor interface {
	ProcessMessage(ctx context.Context, msg convo.Message)
}

// New creates a new WhatsApp client instance backed by an SQLite store.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}

	if err := ensureDir(filepath.Dir(cfg.StorePath)); err != nil {
		return nil, fmt.Errorf("ensure store dir: %w", err)
	}

	storeLogger := waLog.Stdout("whatsmeow/sqlstore", cfg.LogLevel, true)
	container, err := sqlstore.New(ctx, "sqlite", fmt.Sprintf("file:%s?_pragma=busy_timeout=10000&_pragma=foreign_keys(ON)", cfg.StorePath), storeLogger)
	if err != nil {
		return nil, fmt.Errorf("create sqlstore: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}

	waLogger := waLog.Stdout("whatsmeow/client", cfg.LogLevel, true)
	client := whatsmeow.NewClient(deviceStore, waLogger)

	wc := &Client{
		client:  client,
		logger:  logger.With("component", "wa"),
		metrics: cfg.Metrics,
		baseCtx: context.Background(),
	}
	client.AddEventHandler(wc.handleEvent)

	return wc, nil
}

// Start connects the client and handles login/QR pairing flow. Messages
// handed to the processor inherit ctx.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()

	if c.client.Store.ID == nil {
		c.logger.Info("pairing required, waiting for QR scan")
		qrChan, err := c.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("get qr channel: %w", err)
		}

		go func() {
			for evt := range qrChan {
				if evt.Event == "code" {
					c.logger.Info("scan the QR code with WhatsApp", "qr", evt.Code)
				} else {
					c.logger.Info("pairing event received", "event", evt.Event)
				}
			}
		}()
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connect wa client: %w", err)
	}

	c.logger.Info("whatsapp client connected")
	return nil
}

// Close disconnects the WhatsApp client.
func (c *Client) Close() {
	if c.client != nil {
		c.client.Disconnect()
	}
}

// Ready reports whether the websocket is connected and logged in.
func (c *Client) Ready() bool {
	return c.client != nil && c.client.IsConnected() && c.client.IsLoggedIn()
}

// Ping lets readiness checks report the session state.
func (c *Client) Ping(context.Context) error {
	if !c.Ready() {
		return ErrNotConnected
	}
	return nil
}

// SetMessageProcessor registers message processor callback.
func (c *Client) SetMessageProcessor(processor MessageProcessor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processor = processor
}

func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Message:
		c.handleMessage(v)
	case *events.Connected:
		c.logger.Info("device connected")
	case *events.Disconnected:
		c.logger.Warn("device disconnected")
	case *events.LoggedOut:
		c.logger.Error("device logged out, pairing required", "reason", v.Reason.String())
	}
}

func (c *Client) handleMessage(evt *events.Message) {
	msg, ok := toMessage(evt)
	if !ok {
		return
	}

	c.mu.RLock()
	processor, ctx := c.processor, c.baseCtx
	c.mu.RUnlock()
	if processor == nil {
		c.logger.Warn("dropping message, no processor registered", "message_id", msg.MessageID)
		return
	}
	go processor.ProcessMessage(ctx, msg)
}

// toMessage converts a WhatsApp event into a chat message. Our own messages,
// status broadcasts and events without text are skipped.
func toMessage(evt *events.Message) (convo.Message, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe {
		return convo.Message{}, false
	}
	if evt.Info.Chat.Server == types.BroadcastServer {
		return convo.Message{}, false
	}
	text := strings.TrimSpace(messageText(evt.Message))
	if text == "" {
		return convo.Message{}, false
	}
	return convo.Message{
		Source:         Source,
		ConversationID: evt.Info.Chat.String(),
		MessageID:      string(evt.Info.ID),
		Text:           text,
		SenderID:       evt.Info.Sender.ToNonAD().String(),
		SenderName:     evt.Info.PushName,
	}, true
}

func messageText(msg *waProto.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.ExtendedTextMessage != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.ImageMessage != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.VideoMessage != nil:
		return msg.GetVideoMessage().GetCaption()
	default:
		return ""
	}
}

// Reply sends text into the chat identified by conversationID. WhatsApp needs
// no per-message token.
func (c *Client) Reply(ctx context.Context, conversationID, _ string, text string) error {
	to, err := types.ParseJID(conversationID)
	if err != nil {
		return fmt.Errorf("parse chat jid: %w", err)
	}
	return c.SendText(ctx, to, text)
}

// SendText sends a text message to the specified JID.
func (c *Client) SendText(ctx context.Context, to types.JID, text string) error {
	message := &waProto.Message{
		Conversation: proto.String(text),
	}
	if _, err := c.client.SendMessage(ctx, to, message); err != nil {
		if c.metrics != nil {
			c.metrics.Errors.WithLabelValues("wa").Inc()
		}
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	return nil
}
