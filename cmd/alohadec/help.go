package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagInput    string
	flagDevice   string
	flagListen   string
	flagOutput   string
	flagFormats  string
	flagConfig   string
	flagProbe    bool
	flagLoop     bool
	flagRealtime bool
	flagI420     bool
	flagHelp     bool
	flagVersion  bool
)

func init() {
	flag.StringVarP(&flagInput, "input", "i", "", "Compressed video source")
	flag.StringVarP(&flagDevice, "device", "d", "auto", "Decoding device")
	flag.StringVarP(&flagListen, "listen", "l", "", "HTTP address for streaming and metrics")
	flag.StringVarP(&flagOutput, "output", "o", "", "Write decoded frames to file")
	flag.StringVarP(&flagFormats, "formats", "f", "", "Preferred raw formats")
	flag.StringVarP(&flagConfig, "config", "c", "", "YAML configuration file")
	flag.BoolVarP(&flagProbe, "probe", "p", false, "List decoding devices and exit")
	flag.BoolVarP(&flagLoop, "loop", "", false, "Restart the input when it ends")
	flag.BoolVarP(&flagRealtime, "realtime", "r", false, "Pace input by timestamps")
	flag.BoolVarP(&flagI420, "i420", "", false, "Convert decoded frames to I420")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Hardware video decoding for connected devices

Usage: alohadec [OPTION]... --input=SOURCE

Input:
  -i, --input=SOURCE     Compressed video source, as TAG:PATH or a file
                         ending in .264, .h264 or .mp4 (h264:- reads stdin)
      --loop             Restart the input when it ends
  -r, --realtime         Submit frames no faster than their timestamps

Decoder:
  -d, --device=DEV       V4L2 decoding device, "auto" to pick the first one
                         accepting the input codec, or "sim" for a simulated
                         device (default: auto)
  -f, --formats=LIST     Comma-separated raw formats in order of preference
                         (default: NV12,I420,YV12,NV21,NV16,YUY2,UYVY,RGB,BGR)
  -p, --probe            List decoding devices and exit

Output:
  -o, --output=FILE      Write raw decoded frames to FILE ("-" for stdout)
      --i420             Convert decoded frames to planar I420
  -l, --listen=ADDR      Serve decoded frames on http://ADDR/stream and
                         ws://ADDR/ws, and metrics on http://ADDR/metrics

Miscellaneous:
  -c, --config=FILE      Read settings from a YAML file. Flags take precedence.
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits

Set LOGLEVEL=debug (or tag=level,...) for more output.

Please report bugs to: aloha@lanikailabs.com`

// Help information is printed and program exits
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	//         _         _                _
	//   __ _ | |  ___  | |__    __ _  __| |  ___   ___
	//  / _` || | / _ \ | '_ \  / _` |/ _` | / _ \ / __|
	// | (_| || || (_) || | | || (_| | (_| ||  __/| (__
	//  \__,_||_| \___/ |_| |_| \__,_|\__,_| \___| \___|

	r.Printf("        ")
	y.Printf(" _ ")
	b.Printf("       ")
	y.Printf(" _     ")
	r.Printf("          ")
	y.Println(" _              ")

	r.Printf("   __ _ ")
	y.Printf("| |")
	b.Printf("  ___  ")
	y.Printf("| |__  ")
	r.Printf("  __ _  ")
	y.Printf("__| |")
	b.Println("  ___   ___ ")

	r.Printf("  / _` |")
	y.Printf("| |")
	b.Printf(" / _ \\ ")
	y.Printf("| '_ \\ ")
	r.Printf(" / _` |")
	y.Printf("/ _` |")
	b.Println(" / _ \\ / __|")

	r.Printf(" | (_| |")
	y.Printf("| |")
	b.Printf("| (_) |")
	y.Printf("| | | |")
	r.Printf("| (_| |")
	y.Printf(" (_| |")
	b.Println("|  __/| (__ ")

	r.Printf("  \\__,_|")
	y.Printf("|_|")
	b.Printf(" \\___/ ")
	y.Printf("|_| |_|")
	r.Printf(" \\__,_|")
	y.Printf("\\__,_|")
	b.Println(" \\___| \\___|")

	fmt.Println(helpString)
}

// version displays information and exits successfully (GNU convention)
func version() {
	fmt.Println("alohadec", Version)
	fmt.Println("Copyright 2019 Lanikai Labs LLC. All rights reserved.")
}
