package main

import (
	"io/ioutil"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	errors "golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"github.com/lanikai/alohadec/internal/color"
	"github.com/lanikai/alohadec/internal/decoder"
	"github.com/lanikai/alohadec/internal/v4l2"
)

// Settings of one alohadec run, read from the YAML file and the command line.
type Settings struct {
	Input    string   `yaml:"input"`
	Device   string   `yaml:"device"`
	Listen   string   `yaml:"listen"`
	Output   string   `yaml:"output"`
	Formats  []string `yaml:"formats"`
	Loop     bool     `yaml:"loop"`
	Realtime bool     `yaml:"realtime"`
	I420     bool     `yaml:"i420"`

	Buffers BufferSettings `yaml:"buffers"`

	// Frame duration for streams without a frame rate.
	FrameDuration time.Duration `yaml:"frame_duration"`
}

type BufferSettings struct {
	Output        int           `yaml:"output"`
	OutputSize    int           `yaml:"output_size"`
	ExtraCapture  int           `yaml:"extra_capture"`
	SourceTimeout time.Duration `yaml:"source_change_timeout"`
}

func defaultSettings() *Settings {
	return &Settings{Device: "auto"}
}

// loadSettings reads the YAML file, if any, then applies the flags given on
// the command line.
func loadSettings(filename string, flags *flag.FlagSet) (*Settings, error) {
	s := defaultSettings()
	if filename != "" {
		data, err := ioutil.ReadFile(filename)
		if err != nil {
			return nil, errors.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, s); err != nil {
			return nil, errors.Errorf("parsing %s: %w", filename, err)
		}
	}

	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			s.Input = flagInput
		case "device":
			s.Device = flagDevice
		case "listen":
			s.Listen = flagListen
		case "output":
			s.Output = flagOutput
		case "formats":
			s.Formats = strings.Split(flagFormats, ",")
		case "loop":
			s.Loop = flagLoop
		case "realtime":
			s.Realtime = flagRealtime
		case "i420":
			s.I420 = flagI420
		}
	})
	return s, nil
}

func (s *Settings) decoderConfig() (decoder.Config, error) {
	cfg := decoder.Config{DefaultFrameDuration: s.FrameDuration}
	for _, name := range s.Formats {
		if strings.TrimSpace(name) == "" {
			continue
		}
		f, err := decoder.ParsePixelFormat(name)
		if err != nil {
			return cfg, err
		}
		cfg.RawFormats = append(cfg.RawFormats, f)
	}
	if s.I420 && len(cfg.RawFormats) == 0 {
		cfg.RawFormats = color.Convertible
	}
	return cfg, nil
}

func (s *Settings) deviceConfig() v4l2.Config {
	return v4l2.Config{
		OutputBuffers:       s.Buffers.Output,
		OutputBufferSize:    s.Buffers.OutputSize,
		ExtraCaptureBuffers: s.Buffers.ExtraCapture,
		SourceChangeTimeout: s.Buffers.SourceTimeout,
	}
}
