package media

import (
	"os"
	"time"

	"github.com/nareix/joy4/av"
	"github.com/nareix/joy4/codec/h264parser"
	"github.com/nareix/joy4/format/mp4"

	"github.com/lanikai/alohadec/internal/decoder"
	"github.com/lanikai/alohadec/internal/h264"
)

// MP4 source for the first H.264 video track of a file. Samples are converted
// from length-prefixed to Annex-B form, and the parameter sets from the avcC
// box are passed as codec data.
type mp4Source struct {
	file    *os.File
	demuxer *mp4.Demuxer

	// Index of the video stream in the file.
	idx        int8
	lengthSize int
	desc       decoder.StreamDescription

	// Timestamp offset, advanced on every rewind.
	base    time.Duration
	lastEnd time.Duration
}

// Open an MP4 file and return its video stream as a Source.
func OpenMP4(filename string) (Source, error) {
	log.Info("Opening file %s", filename)
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}

	demuxer := mp4.NewDemuxer(file)

	codecs, err := demuxer.Streams()
	if err != nil {
		file.Close()
		return nil, err
	}

	for i, codec := range codecs {
		cd, ok := codec.(h264parser.CodecData)
		if !ok {
			log.Debug("Skipping %v stream", codec.Type())
			continue
		}
		log.Info("%v stream: %dx%d", cd.Type(), cd.Width(), cd.Height())
		return &mp4Source{
			file:       file,
			demuxer:    demuxer,
			idx:        int8(i),
			lengthSize: int(cd.RecordInfo.LengthSizeMinusOne&3) + 1,
			desc: decoder.StreamDescription{
				Codec:     decoder.H264,
				Width:     cd.Width(),
				Height:    cd.Height(),
				FrameRate: DefaultFrameRate,
				CodecData: h264.AppendAnnexB(nil, cd.SPS(), cd.PPS()),
			},
		}, nil
	}

	file.Close()
	return nil, errNoVideoStream
}

func (s *mp4Source) Description() *decoder.StreamDescription {
	return &s.desc
}

func (s *mp4Source) ReadFrame() (*decoder.Frame, error) {
	for {
		var pkt av.Packet
		var err error

		// io.EOF passes through unchanged.
		if pkt, err = s.demuxer.ReadPacket(); err != nil {
			return nil, err
		}
		if pkt.Idx != s.idx {
			continue
		}

		data, err := h264.AVCCToAnnexB(pkt.Data, s.lengthSize)
		if err != nil {
			log.Warn("Dropping malformed sample at %v: %v", pkt.Time, err)
			continue
		}

		f := &decoder.Frame{
			PTS:      s.base + pkt.Time + pkt.CompositionTime,
			Duration: s.desc.FrameRate.FrameDuration(),
			KeyFrame: pkt.IsKeyFrame,
			Payload:  data,
		}
		if end := f.PTS + f.Duration; end > s.lastEnd {
			s.lastEnd = end
		}
		log.Trace(4, "Packet: %6d bytes, %v", len(data), f)
		return f, nil
	}
}

// Rewind seeks back to the start of the file. Timestamps continue after the
// last frame read.
func (s *mp4Source) Rewind() error {
	if err := s.demuxer.SeekToTime(0); err != nil {
		return err
	}
	s.base = s.lastEnd
	return nil
}

func (s *mp4Source) Close() error {
	return s.file.Close()
}

func init() {
	RegisterSourceType("mp4", OpenMP4)
}
