package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	router "github.com/dkeye/Meet/internal/adapters/http"
	"github.com/dkeye/Meet/internal/adapters/capture"
	"github.com/dkeye/Meet/internal/adapters/gateway"
	"github.com/dkeye/Meet/internal/adapters/rtc"
	"github.com/dkeye/Meet/internal/adapters/wire"
	"github.com/dkeye/Meet/internal/app"
	"github.com/dkeye/Meet/internal/app/media"
	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/app/remote"
	"github.com/dkeye/Meet/internal/config"
	"github.com/dkeye/Meet/internal/core"
	"github.com/dkeye/Meet/internal/domain"
	"github.com/dkeye/Meet/internal/logging"
)

type flags struct {
	room      string
	email     string
	signalURL string
	port      int
	noVideo   bool
	noAudio   bool
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "participant",
		Short:         "Join a Meet room and exchange media with its participants",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Setup("info", true)
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			applyFlags(cmd, &f, cfg)
			logging.Setup(cfg.LogLevel, cfg.Mode != "release")
			return run(cmd.Context(), f, cfg)
		},
	}
	cmd.Flags().StringVarP(&f.room, "room", "r", "", "room id to join")
	cmd.Flags().StringVarP(&f.email, "email", "e", "", "participant email, unique in the room")
	cmd.Flags().StringVar(&f.signalURL, "signal", "", "relay websocket URL (overrides config)")
	cmd.Flags().IntVar(&f.port, "control-port", 0, "local control API port (overrides config)")
	cmd.Flags().BoolVar(&f.noVideo, "no-video", false, "join without camera")
	cmd.Flags().BoolVar(&f.noAudio, "no-audio", false, "join without microphone")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func applyFlags(cmd *cobra.Command, f *flags, cfg *config.Config) {
	if cmd.Flags().Changed("signal") {
		cfg.Participant.SignalURL = f.signalURL
	}
	if cmd.Flags().Changed("control-port") {
		cfg.Participant.ControlPort = f.port
	}
	if f.noVideo {
		cfg.Participant.Video = false
	}
	if f.noAudio {
		cfg.Participant.Audio = false
	}
}

func run(parent context.Context, f flags, cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	user, err := domain.NewUser(f.email)
	if err != nil {
		return fmt.Errorf("email: %w", err)
	}
	roomID, err := domain.NormalizeRoomID(f.room)
	if err != nil {
		return fmt.Errorf("room: %w", err)
	}
	codec, err := wire.ByName(cfg.Codec)
	if err != nil {
		return err
	}

	device, err := capture.NewDevice()
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	transports, err := rtc.NewFactory(rtc.Options{
		ICEServers:          cfg.ICEServers,
		Codecs:              device.Codecs(),
		DisconnectedTimeout: 5 * time.Second,
		FailedTimeout:       10 * time.Second,
		KeepAliveInterval:   2 * time.Second,
		LogLevel:            level,
	})
	if err != nil {
		return err
	}

	gw, err := gateway.Dial(ctx, cfg.Participant.SignalURL, codec, gateway.Options{
		PingPeriod: cfg.PingPeriod,
		ReadLimit:  cfg.ReadLimit,
	})
	if err != nil {
		return err
	}
	defer gw.Close()

	constraints := core.Constraints{
		Audio:     cfg.Participant.Audio,
		Video:     cfg.Participant.Video,
		Width:     cfg.Participant.Width,
		Height:    cfg.Participant.Height,
		FrameRate: cfg.Participant.FrameRate,
	}
	registry := app.NewRegistry()
	streams := remote.NewManager(headlessRenderer)
	o := &orch.Orchestrator{
		Self:        user.ID,
		Room:        roomID,
		Gateway:     gw,
		Registry:    registry,
		Media:       media.NewController(device, constraints),
		Reconciler:  media.NewReconciler(registry, streams),
		Transports:  transports.New,
		Constraints: constraints,
		Reconnect: orch.ReconnectConfig{
			InitialInterval: cfg.Reconnect.InitialInterval,
			MaxInterval:     cfg.Reconnect.MaxInterval,
			MaxRetries:      cfg.Reconnect.MaxRetries,
			AttemptTimeout:  cfg.Reconnect.AttemptTimeout,
			AnswerTimeout:   cfg.Reconnect.AnswerTimeout,
		},
	}

	left := make(chan struct{})
	var leftOnce sync.Once
	control := &http.Server{
		Addr: fmt.Sprintf("127.0.0.1:%d", cfg.Participant.ControlPort),
		Handler: router.SetupControlRouter(cfg.Mode, o, func() {
			leftOnce.Do(func() { close(left) })
		}),
	}
	go func() {
		log.Info().Str("addr", control.Addr).Msg("control API started")
		if err := control.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("control API error")
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = control.Shutdown(shutdownCtx)
	}()

	if err := o.Join(ctx); err != nil {
		return err
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	loopErr := make(chan error, 1)
	go func() { loopErr <- o.Run(loopCtx) }()

	var runErr error
	select {
	case <-left:
		log.Info().Msg("left via control API")
		return nil
	case runErr = <-loopErr:
	case <-ctx.Done():
		runErr = <-loopErr
	}

	// The loop has exited, so Leave runs on this goroutine.
	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer leaveCancel()
	if err := o.Leave(leaveCtx); err != nil {
		log.Warn().Err(err).Msg("leave")
	}
	log.Info().Msg("participant stopped")
	if errors.Is(runErr, orch.ErrGatewayClosed) {
		return runErr
	}
	return nil
}

// headlessRenderer gives every remote track a renderer that drops its
// packets. The participant has no display; receive stats stay visible
// through the control API.
func headlessRenderer(participant domain.ParticipantID, track core.RemoteTrack) (string, core.RTPSink, bool) {
	log.Debug().Str("module", "participant").Str("participant", string(participant)).
		Str("track", track.ID()).Str("kind", string(track.Kind())).Msg("rendering remote track headless")
	return "render/" + track.ID(), remote.Discard{}, true
}
