package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/meshlink/config"
	"github.com/opd-ai/meshlink/connection"
	"github.com/opd-ai/meshlink/httpapi"
	"github.com/opd-ai/meshlink/service"
	"github.com/opd-ai/meshlink/transport"
)

var errStreamClosed = errors.New("radio stream closed")

// newRootCmd builds the command tree around a fresh viper instance.
func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var cfgFile string

	root := &cobra.Command{
		Use:   "meshlinkd",
		Short: "meshlinkd talks to a mesh radio",
		Long: `meshlinkd connects to a network-attached mesh radio, downloads its
configuration and node database, and exposes messaging and administration
over a local HTTP API.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	root.PersistentFlags().String("address", "", "radio host or host:port")
	root.PersistentFlags().String("device", "", "stream device or pipe, overrides --address")
	root.PersistentFlags().String("listen", "", "control API listen address, empty string disables it")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cobra.CheckErr(v.BindPFlag("radio.address", root.PersistentFlags().Lookup("address")))
	cobra.CheckErr(v.BindPFlag("radio.device", root.PersistentFlags().Lookup("device")))
	cobra.CheckErr(v.BindPFlag("http.listen", root.PersistentFlags().Lookup("listen")))
	cobra.CheckErr(v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level")))

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(v, cfgFile)
			if err != nil {
				return err
			}
			b, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	})
	return root
}

// loadConfig reads the configuration. Flags only override viper when set
// explicitly, so defaults and files still apply underneath them.
func loadConfig(v *viper.Viper, path string) (config.Config, error) {
	cfg, err := config.Load(v, path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.Log.Apply(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// radioLink is a transport plus the loop that keeps it running.
type radioLink struct {
	transport service.Transport
	name      string
	key       string
	run       func(context.Context) error
}

// openLink picks the stream device when one is configured and the TCP
// radio otherwise.
func openLink(cfg config.Radio) (radioLink, error) {
	if cfg.Device != "" {
		f, err := os.OpenFile(cfg.Device, os.O_RDWR, 0)
		if err != nil {
			return radioLink{}, fmt.Errorf("open radio device: %w", err)
		}
		stream := transport.NewStream(f)
		return radioLink{
			transport: stream,
			name:      cfg.Device,
			key:       "s" + cfg.Device,
			run: func(ctx context.Context) error {
				<-stream.Start(ctx)
				if err := ctx.Err(); err != nil {
					return err
				}
				return errStreamClosed
			},
		}, nil
	}

	tcp := transport.NewTCP(transport.TCPOptions{
		Address:           cfg.Address,
		ReconnectInterval: cfg.ReconnectInterval,
	})
	return radioLink{transport: tcp, name: tcp.Address(), key: "t" + tcp.Address(), run: tcp.Run}, nil
}

// serviceOptions maps the configuration onto the runtime.
func serviceOptions(cfg config.Config, link radioLink) service.Options {
	return service.Options{
		Transport:       link.transport,
		ResponseTimeout: cfg.Service.ResponseTimeout,
		EarlyBufferSize: cfg.Service.EarlyBufferSize,
		MeshLogSize:     cfg.Service.MeshLogSize,
		SleepGrace:      cfg.Service.SleepGrace,
		RetryDelay:      cfg.Service.RetryDelay,
		TransportKey:    link.key,
	}
}

// run starts the radio link, the runtime and the control API and blocks
// until ctx is done or one of them fails.
func run(ctx context.Context, cfg config.Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	link, err := openLink(cfg.Radio)
	if err != nil {
		return err
	}
	svc, err := service.New(serviceOptions(cfg, link))
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "run",
		"radio":    link.name,
		"api":      cfg.HTTP.Listen,
	}).Info("Starting meshlinkd")

	var wg sync.WaitGroup
	errCh := make(chan error, 3)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := fn(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logrus.WithFields(logrus.Fields{
					"function":  "run",
					"component": name,
					"error":     err.Error(),
				}).Error("Component stopped")
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
			cancel()
		}()
	}

	start("transport", link.run)
	start("service", svc.Run)
	if cfg.HTTP.Listen != "" {
		api := httpapi.NewServer(svc)
		start("http", func(ctx context.Context) error { return api.ListenAndServe(ctx, cfg.HTTP.Listen) })
	}
	if cfg.Systemd.Notify {
		go notifyWhenConnected(ctx, svc)
	}

	<-ctx.Done()
	if cfg.Systemd.Notify {
		sdNotify(daemon.SdNotifyStopping)
	}
	wg.Wait()
	close(errCh)

	logrus.WithField("function", "run").Info("meshlinkd stopped")
	return <-errCh
}

// notifyWhenConnected reports readiness to systemd once the radio
// connection first comes up, and mirrors the link state in STATUS=.
func notifyWhenConnected(ctx context.Context, svc *service.Service) {
	updates, unsubscribe := svc.ObserveConnection().Subscribe()
	defer unsubscribe()

	ready := false
	for {
		select {
		case <-ctx.Done():
			return
		case st := <-updates:
			if st == connection.Connected && !ready {
				ready = true
				sdNotify(daemon.SdNotifyReady)
			}
			sdNotify("STATUS=Radio " + st.String())
		}
	}
}

func sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sdNotify",
			"state":    state,
			"error":    err.Error(),
		}).Warn("Failed to notify systemd")
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "sdNotify",
		"state":    state,
		"sent":     sent,
	}).Debug("systemd notification")
}
