package transport

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"workerhub/internal/protocol"
)

// maxFrameSize bounds a single msgpack frame.
const maxFrameSize = 16 << 20

// Encoder writes envelopes to a stream.
type Encoder interface {
	Encode(protocol.Envelope) error
}

// Decoder reads envelopes from a stream. It returns io.EOF at a clean end of stream.
type Decoder interface {
	Decode(*protocol.Envelope) error
}

// Codec frames envelopes on a byte stream.
type Codec interface {
	Name() string
	NewEncoder(io.Writer) Encoder
	NewDecoder(io.Reader) Decoder
}

// NewCodec returns the codec registered under name ("json" or "msgpack").
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return jsonCodec{}, nil
	case "msgpack":
		return msgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) NewEncoder(w io.Writer) Encoder {
	return jsonEncoder{enc: json.NewEncoder(w)}
}

func (jsonCodec) NewDecoder(r io.Reader) Decoder {
	return jsonDecoder{dec: json.NewDecoder(r)}
}

// jsonEncoder writes one JSON document per line.
type jsonEncoder struct {
	enc *json.Encoder
}

func (e jsonEncoder) Encode(env protocol.Envelope) error {
	return e.enc.Encode(&env)
}

type jsonDecoder struct {
	dec *json.Decoder
}

func (d jsonDecoder) Decode(env *protocol.Envelope) error {
	*env = protocol.Envelope{}
	return d.dec.Decode(env)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) NewEncoder(w io.Writer) Encoder {
	return &frameEncoder{w: w}
}

func (msgpackCodec) NewDecoder(r io.Reader) Decoder {
	return &frameDecoder{r: bufio.NewReader(r)}
}

// frameEncoder writes a 4-byte big-endian length followed by the msgpack body.
type frameEncoder struct {
	w io.Writer
}

func (e *frameEncoder) Encode(env protocol.Envelope) error {
	body, err := msgpack.Marshal(&env)
	if err != nil {
		return fmt.Errorf("marshal msgpack envelope: %w", err)
	}
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("write msgpack frame: %w", err)
	}
	return nil
}

type frameDecoder struct {
	r *bufio.Reader
}

func (d *frameDecoder) Decode(env *protocol.Envelope) error {
	var header [4]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return fmt.Errorf("read frame header: %w", err)
		}
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return fmt.Errorf("read frame body: %w", err)
	}
	*env = protocol.Envelope{}
	if err := msgpack.Unmarshal(body, env); err != nil {
		return fmt.Errorf("unmarshal msgpack envelope: %w", err)
	}
	return nil
}
