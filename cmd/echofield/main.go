// Command echofield is the installation's entry point: it wires the
// recorder (C4), the installation controller (C8), and the output mixer
// (C7) into one running pipeline against the host's default audio
// devices, and tears them down in reverse dependency order on interrupt.
//
// Flag binding follows tphakala-birdnet-go/cmd/realtime/realtime.go's
// cobra shape (cmd.Flags().XVar bound straight to a settings struct), but
// drops that teacher's viper layer entirely: spec.md §6 states persisted
// state is none, and viper's role is config persistence/binding, which
// does not apply here.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gordonklaus/portaudio"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"echofield/internal/applog"
	"echofield/internal/config"
	"echofield/internal/installation"
	"echofield/internal/mixer"
	"echofield/internal/node"
	"echofield/internal/recorder"
)

var log = applog.For("main")

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "echofield",
		Short: "Interactive sound-art installation engine",
	}
	root.AddCommand(installationCommand())
	return root
}

func installationCommand() *cobra.Command {
	cfg := config.Default()
	var windowSizesCSV []int

	cmd := &cobra.Command{
		Use:   "installation",
		Short: "Run the microphone-triggered echo installation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(windowSizesCSV) > 0 {
				cfg.WindowSizes = windowSizesCSV
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return runInstallation(cfg)
		},
	}

	flags := cmd.Flags()
	flags.Uint16Var(&cfg.Spec.Channels, "spec.channels", cfg.Spec.Channels, "input/output channel count")
	flags.Uint32Var(&cfg.Spec.SampleRate, "spec.sample_rate", cfg.Spec.SampleRate, "sample rate in Hz")
	flags.IntVar(&cfg.MaxStretchers, "max_stretchers", cfg.MaxStretchers, "maximum concurrently playing stretcher events")
	flags.DurationVar(&cfg.MaxSnippetDur, "max_snippet_dur", cfg.MaxSnippetDur, "maximum recorded snippet length fed to a stretcher")
	flags.DurationVar(&cfg.AmbientVolumeWindowDur, "ambient_volume_window_dur", cfg.AmbientVolumeWindowDur, "moving-average window for the ambient noise floor")
	flags.DurationVar(&cfg.CurrentVolumeWindowDur, "current_volume_window_dur", cfg.CurrentVolumeWindowDur, "moving-average window for the instantaneous level")
	flags.Float32Var(&cfg.AmpActivationFactor, "amp_activation_factor", cfg.AmpActivationFactor, "ratio of current to ambient amplitude that triggers/releases an event")
	flags.IntSliceVar(&windowSizesCSV, "window_sizes", cfg.WindowSizes, "candidate phase-vocoder window sizes (samples, power of two), chosen at random per event")
	flags.Float32Var(&cfg.MinStretchFactor, "min_stretch_factor", cfg.MinStretchFactor, "minimum random time-stretch factor applied to a triggered event")
	flags.Float32Var(&cfg.MaxStretchFactor, "max_stretch_factor", cfg.MaxStretchFactor, "maximum random time-stretch factor applied to a triggered event")

	return cmd
}

// runInstallation opens the default input/output devices, wires the three
// nodes together, and blocks until SIGINT/SIGTERM or a node failure.
func runInstallation(cfg config.Installation) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	recProc, recBus := recorder.New(cfg.Spec)
	recNode := node.New[node.Shutdown](recProc)

	mixProc := mixer.New(cfg.Spec)
	mixNode := node.New[mixer.Message](mixProc)

	connectMixer := func(msg mixer.Message) error {
		return mixNode.SendControlMessage(msg)
	}
	ctrlProc := installation.New(cfg, recBus, connectMixer)
	ctrlNode := node.New[node.Shutdown](ctrlProc)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-sigCh:
			log.Info("interrupt received, shutting down")
		case <-recNode.Done():
			log.Error("recorder node finished unexpectedly, shutting down")
		case <-ctrlNode.Done():
			log.Error("installation node finished unexpectedly, shutting down")
		case <-mixNode.Done():
			log.Error("mixer node finished unexpectedly, shutting down")
		}
		cancel()
	}()

	<-ctx.Done()

	// Shut the nodes down in reverse dependency order: the controller
	// first (so it stops spawning new stretcher events), then the
	// recorder, and the mixer last since it is the final sink every
	// other node's audio flows into (spec.md §6).
	g, _ := errgroup.WithContext(context.Background())
	g.Go(func() error { return ctrlNode.SendControlMessage(node.Shutdown{}) })
	g.Go(func() error { return recNode.SendControlMessage(node.Shutdown{}) })
	if err := g.Wait(); err != nil {
		log.Error("shutdown signal", "err", err)
	}
	ctrlNode.Wait()
	recNode.Wait()

	if err := mixNode.SendControlMessage(mixer.Shutdown{}); err != nil {
		log.Error("mixer shutdown signal", "err", err)
	}
	mixNode.Wait()

	log.Info("shutdown complete")
	return nil
}
