package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/alohadec/internal/color"
	"github.com/lanikai/alohadec/internal/decoder"
	"github.com/lanikai/alohadec/internal/httpsink"
	"github.com/lanikai/alohadec/internal/logging"
	"github.com/lanikai/alohadec/internal/media"
	"github.com/lanikai/alohadec/internal/metrics"
	"github.com/lanikai/alohadec/internal/pipeline"
	"github.com/lanikai/alohadec/internal/registry"
	"github.com/lanikai/alohadec/internal/simdev"
)

// Populated via -ldflags="-X main.Version=...".
var Version = "devel"

var log = logging.DefaultLogger.WithTag("alohadec")

func main() {
	flag.Parse()

	// Check for help flag
	if flagHelp {
		help()
		os.Exit(0)
	}

	// Check for version flag
	if flagVersion {
		version()
		os.Exit(0)
	}

	settings, err := loadSettings(flagConfig, flag.CommandLine)
	if err != nil {
		log.Fatal("%v", err)
	}

	reg := registry.New(16)

	if flagProbe {
		probe(reg)
		return
	}

	if settings.Input == "" {
		fmt.Fprintln(os.Stderr, "alohadec: missing --input (see --help)")
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, reg, settings); err != nil {
		log.Fatal("%v", err)
	}
}

func probe(reg *registry.Registry) {
	devices, err := reg.Scan()
	if err != nil {
		log.Fatal("%v", err)
	}
	if len(devices) == 0 {
		fmt.Println("No decoding devices found")
		return
	}
	for _, caps := range devices {
		fmt.Println(caps)
	}
}

func run(ctx context.Context, reg *registry.Registry, s *Settings) error {
	src, err := media.OpenSource(s.Input)
	if err != nil {
		return err
	}
	defer src.Close()
	desc := src.Description()

	// Decoded frames go to the flow, which feeds the HTTP clients, and to
	// the output file.
	flow := &media.Flow{}
	defer flow.Close()
	sinks := []decoder.Sink{flow}

	if s.Output != "" {
		fs, err := media.NewFileSink(s.Output)
		if err != nil {
			return err
		}
		defer func() {
			if err := fs.Close(); err != nil {
				log.Error("Closing %s: %v", s.Output, err)
			}
		}()
		sinks = append(sinks, fs)
	}

	sink := media.Tee(sinks...)
	if s.I420 {
		sink = color.I420Sink(sink)
	}

	dec, err := openDecoder(reg, s, desc.Codec, sink)
	if err != nil {
		return err
	}
	log.Info("Decoding %v on %s: %v -> %v", desc.Codec, dec.Device(), dec.InputFormats(), dec.OutputFormats())

	if s.Listen != "" {
		router := http.NewServeMux()

		stream := httpsink.NewServer("application/octet-stream")
		stream.Register(router)
		stream.Attach(ctx, flow)

		m := metrics.NewRegistry()
		m.Add(dec)
		m.Register(router)

		go func() {
			if err := httpsink.ListenAndServe(ctx, s.Listen, router); err != nil {
				log.Error("%v", err)
			}
		}()
	}

	r := pipeline.New(dec, src, pipeline.Options{Loop: s.Loop, Realtime: s.Realtime})
	err = r.Run(ctx)

	st := dec.Stats()
	log.Info("Submitted %d frames, decoded %d, dropped %d", st.Submitted, st.Decoded, st.Dropped)
	if missed := flow.Missed(); missed > 0 {
		log.Info("Slow subscribers missed %d frames", missed)
	}
	return err
}

// openDecoder resolves the device setting and opens a decoder on it.
func openDecoder(reg *registry.Registry, s *Settings, codec decoder.PixelFormat, sink decoder.Sink) (*decoder.Decoder, error) {
	cfg, err := s.decoderConfig()
	if err != nil {
		return nil, err
	}

	path := s.Device
	switch path {
	case "sim":
		dev := simdev.New(simdev.Config{
			InputFormats: []decoder.PixelFormat{codec},
		})
		return decoder.Open(dev, sink, cfg)
	case "auto", "":
		caps, err := reg.Find(codec)
		if err != nil {
			return nil, err
		}
		log.Debug("Using %v", caps)
		path = caps.Path
	}
	return registry.NewDecoder(path, sink, registry.Config{
		Device:  s.deviceConfig(),
		Decoder: cfg,
	})
}
