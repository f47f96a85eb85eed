package rimage

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// Raw frame dumps are two headerless files next to each other: <prefix>.rgb holds
// width*height packed RGB triples and <prefix>.depth holds width*height little
// endian uint16 millimetre samples. The resolution is not stored.
const (
	RawColorExt = ".rgb"
	RawDepthExt = ".depth"
)

// WriteRawColor writes the packed RGB samples of a frame.
func WriteRawColor(w io.Writer, f *Frame) error {
	buf := make([]byte, 3*len(f.Color))
	for i, c := range f.Color {
		buf[3*i], buf[3*i+1], buf[3*i+2] = c.R, c.G, c.B
	}
	_, err := w.Write(buf)
	return err
}

// WriteRawDepth writes the depth samples of a frame.
func WriteRawDepth(w io.Writer, f *Frame) error {
	buf := make([]byte, 2*len(f.Depth))
	for i, d := range f.Depth {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(d))
	}
	_, err := w.Write(buf)
	return err
}

// ReadRawColor fills the color samples of f from r.
func ReadRawColor(r io.Reader, f *Frame) error {
	buf := make([]byte, 3*len(f.Color))
	if _, err := io.ReadFull(r, buf); err != nil {
		return errors.Wrapf(ErrFrameSize, "reading %d color bytes: %v", len(buf), err)
	}
	for i := range f.Color {
		f.Color[i] = ColorPixel{buf[3*i], buf[3*i+1], buf[3*i+2]}
	}
	return nil
}

// ReadRawDepth fills the depth samples of f from r.
func ReadRawDepth(r io.Reader, f *Frame) error {
	buf := make([]byte, 2*len(f.Depth))
	if _, err := io.ReadFull(r, buf); err != nil {
		return errors.Wrapf(ErrFrameSize, "reading %d depth bytes: %v", len(buf), err)
	}
	for i := range f.Depth {
		f.Depth[i] = DepthPixel(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return nil
}

// SaveRawFrame writes f to <prefix>.rgb and <prefix>.depth.
func SaveRawFrame(prefix string, f *Frame) error {
	if err := f.CheckSize(f.Width, f.Height); err != nil {
		return err
	}
	if err := writeFile(prefix+RawColorExt, func(w io.Writer) error { return WriteRawColor(w, f) }); err != nil {
		return err
	}
	return writeFile(prefix+RawDepthExt, func(w io.Writer) error { return WriteRawDepth(w, f) })
}

// LoadRawFrame reads a frame of the given resolution from <prefix>.rgb and
// <prefix>.depth. A missing color file leaves the color black; the depth file
// is required.
func LoadRawFrame(prefix string, width, height int) (*Frame, error) {
	f := NewFrame(width, height)
	if err := readFile(prefix+RawDepthExt, func(r io.Reader) error { return ReadRawDepth(r, f) }); err != nil {
		return nil, err
	}
	err := readFile(prefix+RawColorExt, func(r io.Reader) error { return ReadRawColor(r, f) })
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return f, nil
}

func writeFile(path string, write func(w io.Writer) error) (err error) {
	//nolint:gosec
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %q", path)
	}
	defer func() {
		err = multierr.Combine(err, file.Close())
	}()
	bw := bufio.NewWriter(file)
	if err := write(bw); err != nil {
		return errors.Wrapf(err, "writing %q", path)
	}
	return bw.Flush()
}

func readFile(path string, read func(r io.Reader) error) error {
	//nolint:gosec
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(file.Close)
	if err := read(bufio.NewReader(file)); err != nil {
		return errors.Wrapf(err, "reading %q", path)
	}
	return nil
}
