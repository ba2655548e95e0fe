package compress

import (
	"bytes"
	"compress/bzip2"
	"io"
	"io/ioutil"
	"os/exec"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies a compression format
type Codec string

// Known codecs
const (
	None  Codec = ""
	Gzip  Codec = "gzip"
	Zstd  Codec = "zstd"
	LZ4   Codec = "lz4"
	Xz    Codec = "xz"
	Bzip2 Codec = "bzip2"
)

var extensions = []struct {
	suffix string
	codec  Codec
}{
	{".tar.gz", Gzip},
	{".tgz", Gzip},
	{".gz", Gzip},
	{".tar.zst", Zstd},
	{".zst", Zstd},
	{".tar.lz4", LZ4},
	{".lz4", LZ4},
	{".tar.xz", Xz},
	{".txz", Xz},
	{".xz", Xz},
	{".tar.bz2", Bzip2},
	{".bz2", Bzip2},
	{".tar", None},
}

// ForName returns the codec of a file name, from its extension
func ForName(name string) (Codec, error) {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext.suffix) {
			return ext.codec, nil
		}
	}
	return None, ErrUnknownCodec.WrapMessage("%s", name)
}

// TrimExtension removes the compression extension of a name, keeping .tar
func TrimExtension(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if ext.codec != None && strings.HasSuffix(lower, ext.suffix) {
			base := name[:len(name)-len(ext.suffix)]
			if strings.HasPrefix(ext.suffix, ".tar") || ext.suffix == ".tgz" || ext.suffix == ".txz" {
				return base + ".tar"
			}
			return base
		}
	}
	return name
}

// NewReader decompresses a stream. Closing the reader does not close r.
func NewReader(c Codec, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case None:
		return ioutil.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case LZ4:
		return ioutil.NopCloser(lz4.NewReader(r)), nil
	case Bzip2:
		return ioutil.NopCloser(bzip2.NewReader(r)), nil
	case Xz:
		return external(r, "xz", "-d", "-c")
	default:
		return nil, ErrUnknownCodec.WrapMessage("%q", string(c))
	}
}

// NewWriter compresses a stream. Closing the writer flushes it but does not close w.
func NewWriter(c Codec, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case None:
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Zstd:
		return zstd.NewWriter(w)
	case LZ4:
		return lz4.NewWriter(w), nil
	case Xz:
		return externalWriter(w, "xz", "-z", "-c", "-T0")
	default:
		return nil, ErrUnknownCodec.WrapMessage("cannot write %q", string(c))
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type cmdReader struct {
	io.ReadCloser
	cmd    *exec.Cmd
	stderr *bytes.Buffer
}

func (c *cmdReader) Close() error {
	_ = c.ReadCloser.Close()
	if err := c.cmd.Wait(); err != nil {
		// closing early kills the decompressor with SIGPIPE: not a failure of the caller
		if c.cmd.ProcessState != nil && !c.cmd.ProcessState.Exited() {
			return nil
		}
		return ErrExternal.WrapMessage("%s: %s", c.cmd.Path, strings.TrimSpace(c.stderr.String())).Wrap(err)
	}
	return nil
}

// external pipes a stream through an external tool
func external(r io.Reader, name string, args ...string) (io.ReadCloser, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdin = r
	stderr := new(bytes.Buffer)
	cmd.Stderr = stderr
	p, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err = cmd.Start(); err != nil {
		return nil, ErrExternal.WrapMessage("%s", name).Wrap(err)
	}
	return &cmdReader{ReadCloser: p, cmd: cmd, stderr: stderr}, nil
}

type cmdWriter struct {
	io.WriteCloser
	cmd    *exec.Cmd
	stderr *bytes.Buffer
}

func (c *cmdWriter) Close() error {
	if err := c.WriteCloser.Close(); err != nil {
		return err
	}
	if err := c.cmd.Wait(); err != nil {
		return ErrExternal.WrapMessage("%s: %s", c.cmd.Path, strings.TrimSpace(c.stderr.String())).Wrap(err)
	}
	return nil
}

func externalWriter(w io.Writer, name string, args ...string) (io.WriteCloser, error) {
	cmd := exec.Command(name, args...)
	cmd.Stdout = w
	stderr := new(bytes.Buffer)
	cmd.Stderr = stderr
	p, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	if err = cmd.Start(); err != nil {
		return nil, ErrExternal.WrapMessage("%s", name).Wrap(err)
	}
	return &cmdWriter{WriteCloser: p, cmd: cmd, stderr: stderr}, nil
}

// UncompressedSize reads a compressed stream to its end and counts the decompressed bytes
func UncompressedSize(c Codec, r io.Reader) (int64, error) {
	rdr, err := NewReader(c, r)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(ioutil.Discard, rdr)
	if cerr := rdr.Close(); err == nil {
		err = cerr
	}
	return n, err
}
