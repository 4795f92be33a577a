package overlay

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// SnapshotVersion is bumped when Frame changes incompatibly.
const SnapshotVersion = 1

// Header is written as a JSON line ahead of the gob body so dumps can be
// identified without decoding the frame.
type Header struct {
	Version int    `json:"version"`
	Tick    int64  `json:"tick"`
	Key     string `json:"key,omitempty"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

// WriteSnapshot writes frame to path as a zstd-compressed header line
// followed by the gob-encoded frame.
func WriteSnapshot(path string, frame Frame) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}

	bw := bufio.NewWriterSize(enc, 64*1024)
	hb, err := json.Marshal(Header{
		Version: SnapshotVersion,
		Tick:    frame.Tick,
		Key:     frame.Key,
		Width:   frame.Width,
		Height:  frame.Height,
	})
	if err != nil {
		enc.Close()
		return err
	}
	hb = append(hb, '\n')
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&frame); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Close()
}

// ReadSnapshot reads a frame written by WriteSnapshot.
func ReadSnapshot(path string) (Header, Frame, error) {
	var (
		hdr   Header
		frame Frame
	)
	f, err := os.Open(path)
	if err != nil {
		return hdr, frame, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return hdr, frame, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return hdr, frame, fmt.Errorf("reading header: %w", err)
	}
	if err := json.Unmarshal(line, &hdr); err != nil {
		return hdr, frame, fmt.Errorf("decoding header: %w", err)
	}
	if hdr.Version != SnapshotVersion {
		return hdr, frame, fmt.Errorf("unsupported snapshot version %d", hdr.Version)
	}
	if err := gob.NewDecoder(br).Decode(&frame); err != nil {
		return hdr, frame, fmt.Errorf("gob decode: %w", err)
	}
	return hdr, frame, nil
}
