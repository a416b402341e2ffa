package io

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/akvist/nonbond/geom"
)

// snapMagic starts every snapshot frame, so a desynchronized read fails
// immediately instead of producing garbage floats.
const snapMagic = uint32(0x4e425348) // "NBSH"

type snapHeader struct {
	Magic     uint32
	Step      int64
	N         int64
	Coulomb   float64
	Vdw       float64
	VirialXX  float64
	VirialYY  float64
	VirialZZ  float64
	Clamped   int64
}

// Frame is one step's captured output.
type Frame struct {
	Step     int
	Coulomb  float64
	Vdw      float64
	Virial   [3]float64 // diagonal
	Clamped  int
	Forces   []geom.Vec
}

// SnapshotWriter streams zstd-compressed force/energy frames, one per step,
// for offline regression comparison.
type SnapshotWriter struct {
	enc *zstd.Encoder
}

func NewSnapshotWriter(w io.Writer) (*SnapshotWriter, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	return &SnapshotWriter{enc: enc}, nil
}

func (sw *SnapshotWriter) WriteFrame(f *Frame) error {
	h := snapHeader{
		Magic:    snapMagic,
		Step:     int64(f.Step),
		N:        int64(len(f.Forces)),
		Coulomb:  f.Coulomb,
		Vdw:      f.Vdw,
		VirialXX: f.Virial[0],
		VirialYY: f.Virial[1],
		VirialZZ: f.Virial[2],
		Clamped:  int64(f.Clamped),
	}
	if err := binary.Write(sw.enc, binary.LittleEndian, &h); err != nil {
		return err
	}
	return binary.Write(sw.enc, binary.LittleEndian, f.Forces)
}

// Close flushes the compressed stream. The underlying writer is not closed.
func (sw *SnapshotWriter) Close() error {
	return sw.enc.Close()
}

// SnapshotReader reads frames written by SnapshotWriter.
type SnapshotReader struct {
	dec *zstd.Decoder
}

func NewSnapshotReader(r io.Reader) (*SnapshotReader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &SnapshotReader{dec: dec}, nil
}

// ReadFrame returns the next frame, or io.EOF at the end of the stream.
func (sr *SnapshotReader) ReadFrame() (*Frame, error) {
	var h snapHeader
	if err := binary.Read(sr.dec, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	if h.Magic != snapMagic {
		return nil, fmt.Errorf("io: bad snapshot frame magic %#x", h.Magic)
	}
	f := &Frame{
		Step:    int(h.Step),
		Coulomb: h.Coulomb,
		Vdw:     h.Vdw,
		Virial:  [3]float64{h.VirialXX, h.VirialYY, h.VirialZZ},
		Clamped: int(h.Clamped),
		Forces:  make([]geom.Vec, h.N),
	}
	if err := binary.Read(sr.dec, binary.LittleEndian, f.Forces); err != nil {
		return nil, err
	}
	return f, nil
}

// Close releases the decoder.
func (sr *SnapshotReader) Close() {
	sr.dec.Close()
}
