package main

import (
    "context"
    "errors"
    "flag"
    "fmt"
    "io"
    "net/http"
    "os"
    "os/signal"
    "sync"
    "syscall"
    "time"

    "github.com/nats-io/nats.go"
    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"

    "github.com/petal-ejector/petal-controller/internal/api"
    "github.com/petal-ejector/petal-controller/internal/config"
    "github.com/petal-ejector/petal-controller/internal/console"
    "github.com/petal-ejector/petal-controller/internal/device"
    "github.com/petal-ejector/petal-controller/internal/integration"
    "github.com/petal-ejector/petal-controller/internal/server"
    "github.com/petal-ejector/petal-controller/internal/session"
    "github.com/petal-ejector/petal-controller/pkg/crypto"
)

func main() {
    // Command line flags
    var (
        configFile   string
        hashPassword string
        useConsole   bool
    )
    flag.StringVar(&configFile, "config", "", "Configuration file path (defaults when empty)")
    flag.StringVar(&hashPassword, "hash-password", "", "Print the bcrypt hash of a password for auth.password_hash and exit")
    flag.BoolVar(&useConsole, "console", false, "Read keyboard mode keys from this terminal")
    flag.Parse()

    if hashPassword != "" {
        hash, err := crypto.HashPassword(hashPassword)
        if err != nil {
            fmt.Fprintln(os.Stderr, "hash password:", err)
            os.Exit(1)
        }
        fmt.Println(hash)
        return
    }

    // Setup logging
    log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
    zerolog.SetGlobalLevel(zerolog.InfoLevel)

    // Load configuration
    cfg, err := config.Load(configFile)
    if err != nil {
        log.Fatal().Err(err).Msg("Failed to load configuration")
    }
    if useConsole {
        cfg.Console.Enabled = true
    }
    attachConsole := cfg.Console.Enabled && console.IsTerminal(os.Stdin)

    setupLogging(cfg, attachConsole)
    cfg.PrintConfigSummary()

    // Create context
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    // Session controller
    deviceHTTP := &http.Client{Timeout: 10 * time.Second}
    ctrl := session.New(session.Options{
        Factory: session.NewExecutorFactory(
            func() *device.Client { return device.NewClient(deviceHTTP, cfg.Device.Port) },
            session.Delays{
                Connect:  cfg.Simulation.ConnectDelay,
                Activate: cfg.Simulation.ActivateDelay,
                Reset:    cfg.Simulation.ResetDelay,
            },
            session.Delays{
                Activate: cfg.Keyboard.ActivateDelay,
                Reset:    cfg.Keyboard.ResetDelay,
            },
        ),
        PollInterval: cfg.Session.PollInterval,
    })

    // WaitGroup for services
    var wg sync.WaitGroup

    wg.Add(1)
    go func() {
        defer wg.Done()
        ctrl.Run(ctx)
    }()

    // Optional: integrations
    nc := connectNATS(cfg)
    if nc != nil {
        defer nc.Close()
    }

    var mqttPub integration.MQTTPublisher
    if cfg.MQTT.Broker != "" {
        client, err := integration.ConnectMQTT(cfg.MQTT)
        if err != nil {
            log.Warn().Err(err).Msg("Failed to connect to MQTT, continuing without MQTT support")
        } else {
            defer client.Disconnect(250)
            mqttPub = client
        }
    }

    if nc != nil || mqttPub != nil {
        var natsPub integration.NATSPublisher
        if nc != nil {
            natsPub = nc
        }
        forwarder := integration.NewForwarderService(cfg, natsPub, mqttPub)
        ctrl.AddObserver(forwarder)

        wg.Add(1)
        go func() {
            defer wg.Done()
            if err := forwarder.Start(ctx); err != nil {
                log.Error().Err(err).Msg("Integration forwarder stopped")
            }
        }()
    }

    if nc != nil {
        subscriber := server.NewNATSSubscriber(nc, ctrl, cfg.NATS.SubjectPrefix)

        wg.Add(1)
        go func() {
            defer wg.Done()
            if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
                log.Error().Err(err).Msg("NATS subscriber stopped")
            }
        }()
    }

    // Start control API server
    apiServer := api.NewRESTServer(cfg, ctrl)

    wg.Add(1)
    go func() {
        defer wg.Done()
        if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            log.Fatal().Err(err).Msg("Control API server failed")
        }
    }()

    // Optional: terminal keyboard
    interrupted := make(chan struct{})
    if cfg.Console.Enabled {
        con := console.New(os.Stdin, console.CRLFWriter{W: os.Stdout}, ctrl)
        ctrl.AddObserver(con)

        go func() {
            err := con.Run(ctx)
            switch {
            case errors.Is(err, console.ErrInterrupted):
                close(interrupted)
            case err != nil:
                log.Error().Err(err).Msg("Console stopped")
            }
        }()
    }

    // Wait for signal
    sigChan := make(chan os.Signal, 1)
    signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

    select {
    case sig := <-sigChan:
        log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
    case <-interrupted:
        log.Info().Msg("Console interrupted, shutting down")
    }

    // Cancel context
    cancel()

    // Shutdown API server
    shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer shutdownCancel()
    if err := apiServer.Shutdown(shutdownCtx); err != nil {
        log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
    }

    // Wait for all services
    wg.Wait()

    log.Info().Msg("Petal controller stopped")
}

// setupLogging applies the configured level and format. A raw-mode
// console needs CRLF line endings on stderr.
func setupLogging(cfg *config.Config, rawConsole bool) {
    var out io.Writer = os.Stderr
    if rawConsole {
        out = console.CRLFWriter{W: os.Stderr}
    }

    if cfg.Log.Format == "json" {
        log.Logger = zerolog.New(out).With().Timestamp().Logger()
    } else {
        log.Logger = log.Output(zerolog.ConsoleWriter{Out: out})
    }

    level, err := zerolog.ParseLevel(cfg.Log.Level)
    if err != nil {
        level = zerolog.InfoLevel
    }
    zerolog.SetGlobalLevel(level)
}

// connectNATS connects when a URL is configured. Failure is not fatal.
func connectNATS(cfg *config.Config) *nats.Conn {
    if cfg.NATS.URL == "" {
        log.Info().Msg("NATS not configured, running in standalone mode")
        return nil
    }

    log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

    nc, err := nats.Connect(cfg.NATS.URL,
        nats.Name("petal-controller"),
        nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
        nats.ReconnectWait(cfg.NATS.ReconnectInterval),
        nats.MaxReconnects(cfg.NATS.MaxReconnects),
        nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
            log.Warn().Err(err).Msg("Disconnected from NATS")
        }),
        nats.ReconnectHandler(func(nc *nats.Conn) {
            log.Info().Msg("Reconnected to NATS")
        }),
        nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
            subject := ""
            if sub != nil {
                subject = sub.Subject
            }
            log.Error().
                Err(err).
                Str("subject", subject).
                Msg("NATS error")
        }),
    )
    if err != nil {
        log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
        return nil
    }

    log.Info().Msg("Connected to NATS")
    return nc
}
