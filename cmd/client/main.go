package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
	"voicemesh/internal/core/services"
	httphandlers "voicemesh/internal/handlers/http"
	"voicemesh/internal/infrastructure/media"
	"voicemesh/internal/infrastructure/middleware"
	"voicemesh/internal/infrastructure/monitoring"
	"voicemesh/internal/infrastructure/repositories"
	signalinfra "voicemesh/internal/infrastructure/signal"
	webrtcinfra "voicemesh/internal/infrastructure/webrtc"
	"voicemesh/pkg/config"
	"voicemesh/pkg/logger"
	"voicemesh/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/voicemesh/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(ctx)
	}()

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	viewStateRepo := repoFactory.CreateViewStateRepository()
	defer viewStateRepo.Close()

	collector := monitoring.NewPrometheusCollector()

	signalClient := signalinfra.NewClient(signalinfra.Config{
		URL:              cfg.Signaling.URL,
		JWTSecret:        cfg.Auth.JWTSecret,
		UserID:           cfg.Auth.UserID,
		TokenTTL:         cfg.Auth.TokenTTL,
		PingInterval:     cfg.Signaling.PingInterval,
		PongTimeout:      cfg.Signaling.PongTimeout,
		WriteTimeout:     cfg.Signaling.WriteTimeout,
		ReconnectMaxWait: cfg.Signaling.ReconnectMaxWait,
		MessagesPerSec:   cfg.Signaling.MessagesPerSec,
		MessageBurst:     cfg.Signaling.MessageBurst,
	}, logger.Component(zapLogger, "signal"))
	defer signalClient.Close()

	var iceServers []webrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	if len(iceServers) == 0 {
		iceServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	mediaCfg := media.Config{
		VideoWidth:     cfg.Media.VideoWidth,
		VideoHeight:    cfg.Media.VideoHeight,
		FrameRate:      cfg.Media.FrameRate,
		VideoBitrate:   cfg.Media.VideoBitrate,
		AudioBitrate:   cfg.Media.AudioBitrate,
		DefaultQuality: domain.MediaQuality(cfg.Media.DefaultQuality),
	}
	registryCfg := webrtcinfra.Config{
		ICEServers:         iceServers,
		NegotiationTimeout: cfg.WebRTC.NegotiationTimeout,
		LocalID:            domain.AttendeeID(cfg.Auth.UserID),
	}

	rosterService := services.NewRosterService(logger.Component(zapLogger, "roster"))
	qualityService := services.NewQualityService(services.QualityConfig{
		SampleInterval:     cfg.Quality.SampleInterval,
		PacketLossLow:      cfg.Quality.PacketLossLow,
		PacketLossMedium:   cfg.Quality.PacketLossMedium,
		PacketLossHigh:     cfg.Quality.PacketLossHigh,
		RTTWarning:         cfg.Quality.RTTWarning,
		RTTCritical:        cfg.Quality.RTTCritical,
		MinAdvisoryGap:     cfg.Quality.MinAdvisoryGap,
		HysteresisFraction: cfg.Quality.HysteresisFraction,
	}, collector, logger.Component(zapLogger, "quality"))

	callService := services.NewCallService(services.CallDeps{
		Signal:  signalClient,
		Roster:  rosterService,
		Quality: qualityService,
		Metrics: collector,
		NewPipeline: func() ports.MediaPipeline {
			return media.NewPipeline(mediaCfg, media.NewTrackRecorder(recordingDir(), logger.Component(zapLogger, "recorder")), logger.Component(zapLogger, "media"))
		},
		NewRegistry: func(pipeline ports.MediaPipeline) ports.PeerRegistry {
			return webrtcinfra.NewRegistry(registryCfg, signalClient, pipeline, logger.Component(zapLogger, "webrtc"))
		},
		Local: domain.RosterMember{
			AttendeeID:     domain.AttendeeID(cfg.Auth.UserID),
			ExternalUserID: cfg.Auth.UserID,
			Username:       cfg.Auth.UserID,
			Media:          domain.MediaState{Quality: domain.MediaQuality(cfg.Media.DefaultQuality)},
		},
		Logger: logger.Component(zapLogger, "call"),
	})

	inviteService := services.NewInviteService(cfg.Invites.TTL, callService, logger.Component(zapLogger, "invite"))
	defer inviteService.Close()

	// Incoming invites arrive over the signaling channel even when no call
	// is active.
	unsubInvite := signalClient.Events().Invite.Subscribe(func(ev ports.InviteEvent) {
		now := time.Now()
		inviteService.HandleInvite(domain.Invite{
			ChannelID:   ev.ChannelID,
			ChannelName: ev.ChannelName,
			ServerID:    ev.ServerID,
			ServerName:  ev.ServerName,
			InviterID:   ev.InviterID,
			InviterName: ev.InviterName,
			ReceivedAt:  now,
			ExpiresAt:   now.Add(cfg.Invites.TTL),
		})
	})
	defer unsubInvite()

	trackPending := func(domain.Invite) {
		collector.SetPendingInvites(len(inviteService.Pending()))
	}
	defer inviteService.Added().Subscribe(trackPending)()
	defer inviteService.Removed().Subscribe(trackPending)()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := signalClient.Connect(ctx); err != nil {
		log.Warnw("initial signaling connect failed, will retry in background", "error", err)
	}

	var opsServer *http.Server
	if cfg.Ops.Enabled {
		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(middleware.RecoveryMiddleware(log))
		router.Use(middleware.TracingMiddleware())
		router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
		router.Use(middleware.AuthMiddleware(cfg))
		router.Use(middleware.ErrorHandlerMiddleware(log))

		health := monitoring.NewHealthChecker()
		health.AddCheck("storage", 2*time.Second, repoFactory.HealthCheck)
		health.AddCheck("signaling", time.Second, func(context.Context) error {
			if !signalClient.Connected() {
				return errSignalingDown
			}
			return nil
		})

		opsHandler := httphandlers.NewOpsHandler(callService, rosterService, inviteService, viewStateRepo, health)
		opsHandler.SetupRoutes(router)

		opsServer = &http.Server{
			Addr:              cfg.Ops.Address,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Infow("ops API listening", "address", cfg.Ops.Address)
			if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("ops API server failed", "error", err)
			}
		}()
	}

	log.Infow("voicemesh client started",
		"signaling_url", cfg.Signaling.URL,
		"ops_enabled", cfg.Ops.Enabled,
	)

	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := callService.EndCall(shutdownCtx); err != nil {
		log.Warnw("failed to end call on shutdown", "error", err)
	}
	if opsServer != nil {
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Warnw("ops API shutdown failed", "error", err)
		}
	}
}

var errSignalingDown = errors.New("signaling channel disconnected")

func recordingDir() string {
	if dir := os.Getenv("VOICEMESH_RECORDING_DIR"); dir != "" {
		return dir
	}
	return "recordings"
}
