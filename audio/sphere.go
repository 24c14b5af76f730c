package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// sphereField is one "name -type value" line of a NIST SPHERE header.
type sphereField struct {
	kind  string
	value string
}

// ReadSphere reads an uncompressed 16-bit NIST SPHERE stream, the container
// used by the raw TIMIT distribution.
func ReadSphere(r io.ReadSeeker) ([]float64, Header, error) {
	var h Header
	var preamble [16]byte
	if _, err := io.ReadFull(r, preamble[:]); err != nil {
		return nil, h, fmt.Errorf("read sphere preamble: %w", err)
	}
	lines := strings.SplitN(string(preamble[:]), "\n", 3)
	if len(lines) < 2 || lines[0] != "NIST_1A" {
		return nil, h, fmt.Errorf("%w: not a NIST SPHERE stream", ErrUnsupportedFormat)
	}
	hdrSize, err := strconv.Atoi(strings.TrimSpace(lines[1]))
	if err != nil || hdrSize < len(preamble) {
		return nil, h, fmt.Errorf("%w: bad sphere header size %q", ErrUnsupportedFormat, lines[1])
	}
	rest := make([]byte, hdrSize-len(preamble))
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, h, fmt.Errorf("read sphere header: %w", err)
	}
	fields, err := parseSphereHeader(string(rest))
	if err != nil {
		return nil, h, err
	}

	if coding, ok := fields["sample_coding"]; ok && coding.value != "pcm" {
		return nil, h, fmt.Errorf("%w: sphere sample coding %q", ErrUnsupportedFormat, coding.value)
	}
	h.SampleRate = sphereInt(fields, "sample_rate", 16000)
	h.NumChannels = sphereInt(fields, "channel_count", 1)
	h.BitsPerSample = 8 * sphereInt(fields, "sample_n_bytes", 2)
	if h.BitsPerSample != 16 {
		return nil, h, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, h.BitsPerSample)
	}
	if h.NumChannels <= 0 || h.SampleRate <= 0 {
		return nil, h, fmt.Errorf("%w: %d channels at %dHz", ErrUnsupportedFormat, h.NumChannels, h.SampleRate)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if f, ok := fields["sample_byte_format"]; ok && f.value == "10" {
		order = binary.BigEndian
	}

	size := -1
	if n := sphereInt(fields, "sample_count", -1); n >= 0 {
		size = n * h.NumChannels * 2
	}
	if size < 0 {
		pos, err := r.Seek(0, io.SeekCurrent)
		if err != nil {
			return nil, h, err
		}
		end, err := r.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, h, err
		}
		if _, err := r.Seek(pos, io.SeekStart); err != nil {
			return nil, h, err
		}
		size = int(end - pos)
	}
	return readPCM16(r, order, size, &h)
}

func parseSphereHeader(s string) (map[string]sphereField, error) {
	fields := map[string]sphereField{}
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		if line == "end_head" {
			return fields, nil
		}
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 || !strings.HasPrefix(parts[1], "-") {
			return nil, fmt.Errorf("%w: bad sphere header line %q", ErrUnsupportedFormat, line)
		}
		fields[parts[0]] = sphereField{kind: parts[1][1:], value: parts[2]}
	}
	return nil, errors.New("sphere header has no end_head")
}

func sphereInt(fields map[string]sphereField, name string, def int) int {
	f, ok := fields[name]
	if !ok || f.kind != "i" {
		return def
	}
	n, err := strconv.Atoi(f.value)
	if err != nil {
		return def
	}
	return n
}
