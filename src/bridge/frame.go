package bridge

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"screen-ghost/src/config"
)

// maxFrameSize bounds a single protocol frame. A raw 4K BGRA capture
// is about 33 MiB, so 64 MiB leaves headroom without letting a corrupt
// length prefix allocate gigabytes.
const maxFrameSize = 64 << 20

// Frame types exchanged with the worker.
const (
	frameInit   = "init"
	frameReady  = "ready"
	frameDetect = "detect"
	frameResult = "result"
	frameError  = "error"
)

// Detection modes sent with each frame.
const (
	ModeDetectAll          = "detect_all"
	ModeDetectAndRecognize = "detect_and_recognize"
)

const pixelFormatBGRA = "bgra"

// Face is one detection, in the coordinate space of the downscaled
// image the worker actually ran on.
type Face struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	W          int     `json:"w"`
	H          int     `json:"h"`
	Confidence float64 `json:"confidence"`
}

// header is the JSON prelude of every protocol frame. One struct
// covers all frame types; unused fields stay empty on the wire.
type header struct {
	Type        string                    `json:"type"`
	Seq         uint64                    `json:"seq,omitempty"`
	Mode        string                    `json:"mode,omitempty"`
	Width       int                       `json:"width,omitempty"`
	Height      int                       `json:"height,omitempty"`
	PixelFormat string                    `json:"pixel_format,omitempty"`
	Message     string                    `json:"message,omitempty"`
	Profiles    int                       `json:"profiles,omitempty"`
	Provider    string                    `json:"provider,omitempty"`
	Faces       []Face                    `json:"faces,omitempty"`
	Detection   *config.DetectionConfig   `json:"detection,omitempty"`
	Recognition *config.RecognitionConfig `json:"recognition,omitempty"`
	TargetsDir  string                    `json:"targets_dir,omitempty"`
}

// writeFrame emits one frame: uint32 total length, uint32 header
// length, JSON header, raw body. The total counts everything after
// itself.
func writeFrame(w io.Writer, h header, body []byte) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	total := 4 + len(raw) + len(body)
	if total > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds %d byte limit", total, maxFrameSize)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(total)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(raw))); err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// readFrame reads one frame, tolerating short reads from the pipe.
func readFrame(r io.Reader) (header, []byte, error) {
	var h header
	var total uint32
	if err := binary.Read(r, binary.BigEndian, &total); err != nil {
		return h, nil, err
	}
	if total < 4 || total > maxFrameSize {
		return h, nil, fmt.Errorf("bad frame length %d", total)
	}
	payload := make([]byte, total)
	if _, err := io.ReadFull(r, payload); err != nil {
		return h, nil, err
	}
	headerLen := binary.BigEndian.Uint32(payload[:4])
	if int64(headerLen)+4 > int64(total) {
		return h, nil, fmt.Errorf("header length %d exceeds frame", headerLen)
	}
	if err := json.Unmarshal(payload[4:4+headerLen], &h); err != nil {
		return h, nil, fmt.Errorf("decode header: %w", err)
	}
	return h, payload[4+headerLen:], nil
}
