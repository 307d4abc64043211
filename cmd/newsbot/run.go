package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Hartzala/whatsapp-news-assistant/internal/api"
	"github.com/Hartzala/whatsapp-news-assistant/internal/conversation"
	"github.com/Hartzala/whatsapp-news-assistant/internal/digest"
	"github.com/Hartzala/whatsapp-news-assistant/internal/flow"
	"github.com/Hartzala/whatsapp-news-assistant/internal/genai"
	"github.com/Hartzala/whatsapp-news-assistant/internal/intent"
	"github.com/Hartzala/whatsapp-news-assistant/internal/lockfile"
	"github.com/Hartzala/whatsapp-news-assistant/internal/messaging"
	"github.com/Hartzala/whatsapp-news-assistant/internal/news"
	"github.com/Hartzala/whatsapp-news-assistant/internal/ratelimit"
	"github.com/Hartzala/whatsapp-news-assistant/internal/recovery"
	"github.com/Hartzala/whatsapp-news-assistant/internal/scheduler"
	"github.com/Hartzala/whatsapp-news-assistant/internal/store"
	"github.com/Hartzala/whatsapp-news-assistant/internal/twiliowhatsapp"
	"github.com/Hartzala/whatsapp-news-assistant/internal/whatsapp"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 15 * time.Second

// connectRedis opens a pooled client and checks it answers.
func connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}

// transport is the messaging service plus whatever must be closed with it.
type transport struct {
	service messaging.Service
	closeFn func()
}

func openTransport(cfg Config) (*transport, error) {
	switch cfg.Transport {
	case TransportWhatsmeow:
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(cfg.SessionDSN())}
		if cfg.QROutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(cfg.QROutput))
		}
		if cfg.NumericCode {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, fmt.Errorf("whatsmeow client: %w", err)
		}
		return &transport{service: messaging.NewWhatsAppService(client), closeFn: client.Disconnect}, nil
	default:
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(cfg.TwilioSID),
			twiliowhatsapp.WithAuthToken(cfg.TwilioToken),
			twiliowhatsapp.WithFromWhats(cfg.TwilioFrom),
		)
		if err != nil {
			return nil, fmt.Errorf("twilio client: %w", err)
		}
		return &transport{service: messaging.NewTwilioService(client), closeFn: func() {}}, nil
	}
}

// run wires every component and blocks until SIGINT/SIGTERM.
func run(cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.NeedsLock() {
		lock, err := lockfile.AcquireLock(cfg.StateDir)
		if err != nil {
			return err
		}
		defer lock.Release()
	}

	st, err := store.Open(cfg.StoreDSN())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = connectRedis(ctx, cfg.RedisURL); err != nil {
			return err
		}
		defer rdb.Close()
	}

	// Conversation state: Redis when shared, otherwise the SQL store.
	var backend conversation.Backend
	var counter ratelimit.CounterStore
	if rdb != nil {
		backend = conversation.NewRedisBackend(rdb, conversation.WithKeyTTL(2*cfg.ContextMaxAge))
		counter = ratelimit.NewRedisCounter(rdb)
	} else {
		if sqlStore, ok := st.(interface{ Contexts() conversation.Backend }); ok {
			backend = sqlStore.Contexts()
		} else {
			backend = conversation.NewMemoryBackend()
		}
		counter = ratelimit.NewMemoryCounter()
	}
	conversations := conversation.NewStore(backend)
	limiter := ratelimit.NewDailyQuota(counter, ratelimit.WithLimit(cfg.FreeQuestions))

	genaiOpts := []genai.Option{genai.WithDebugMode(cfg.GenAIDebug), genai.WithStateDir(cfg.StateDir)}
	if cfg.OpenAIKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(cfg.OpenAIKey))
	}
	if cfg.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(cfg.OpenAIModel))
	}
	gaClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("genai client: %w", err)
	}
	synthesizer := news.NewLLMSynthesizer(news.NewGoogleNewsFetcher(), gaClient)

	engine, err := flow.NewEngine(flow.Deps{
		Store:         conversations,
		Classifier:    intent.NewLLMClassifier(gaClient),
		Replies:       gaClient,
		Synthesizer:   synthesizer,
		Limiter:       limiter,
		Subscriptions: st,
		Preferences:   st,
	},
		flow.WithCallTimeout(cfg.CallTimeout),
		flow.WithFreeQuestions(cfg.FreeQuestions),
		flow.WithLinks(cfg.Links()),
	)
	if err != nil {
		return err
	}

	tr, err := openTransport(cfg)
	if err != nil {
		return err
	}
	defer tr.closeFn()
	if err := tr.service.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}
	defer tr.service.Stop()

	dispatcher := messaging.NewDispatcher(tr.service, engine,
		messaging.WithDedup(st),
		messaging.WithUsers(st),
		messaging.WithReceiptStore(st),
	)
	dispatcher.Start(ctx)

	outbox := store.NewOutboxSender(st, digest.NewDeliverer(tr.service, st).Send, store.DefaultOutboxPollInterval)

	rm := recovery.NewManager()
	rm.Register("outbox", recovery.RecoverFunc(outbox.RecoverStaleMessages))
	rm.Register("conversations", recovery.RecoverFunc(func(ctx context.Context) error {
		_, err := conversations.Cleanup(ctx, cfg.ContextMaxAge)
		return err
	}))
	if err := rm.RecoverAll(ctx); err != nil {
		slog.Warn("Startup recovery incomplete", "error", err)
	}
	go outbox.Run(ctx)

	runnerOpts := []digest.Option{}
	if rdb != nil {
		runnerOpts = append(runnerOpts, digest.WithLock(digest.NewRedisLock(rdb)))
	}
	runner := digest.NewRunner(st, st, synthesizer, runnerOpts...)

	sched := scheduler.NewScheduler()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		sched.Stop(stopCtx)
	}()
	if err := sched.AddJob("digest", cfg.SynthesisCron, func(ctx context.Context) {
		if _, err := runner.Run(ctx); err != nil {
			slog.Error("Digest run failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule digest run: %w", err)
	}
	if err := sched.AddJob("conversation-cleanup", cfg.CleanupCron, func(ctx context.Context) {
		n, err := conversations.Cleanup(ctx, cfg.ContextMaxAge)
		if err != nil {
			slog.Error("Conversation cleanup failed", "error", err)
			return
		}
		slog.Info("Conversation cleanup completed", "removed", n)
	}); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}

	apiOpts := []api.Option{api.WithAddr(cfg.APIAddr), api.WithPublicBaseURL(cfg.PublicBaseURL)}
	if cfg.Transport == TransportTwilio && cfg.TwilioValidate {
		apiOpts = append(apiOpts, api.WithSignatureValidation(cfg.TwilioToken))
	}
	server := api.NewServer(dispatcher, st, apiOpts...)
	errCh := server.Start()

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("API server shutdown", "error", err)
	}
	return nil
}
