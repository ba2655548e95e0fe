package compress

import (
	"bytes"
	"io/ioutil"
	"os/exec"
	"strings"
	"testing"

	"github.com/oneconcern/tcbuilder/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForName(t *testing.T) {
	for _, tc := range []struct {
		name  string
		codec Codec
		trim  string
	}{
		{"rootfs.tar.xz", Xz, "rootfs.tar"},
		{"rootfs.tar.gz", Gzip, "rootfs.tar"},
		{"rootfs.tgz", Gzip, "rootfs.tar"},
		{"rootfs.tar.zst", Zstd, "rootfs.tar"},
		{"rootfs.tar.lz4", LZ4, "rootfs.tar"},
		{"rootfs.tar.bz2", Bzip2, "rootfs.tar"},
		{"ROOTFS.TAR", None, "ROOTFS.TAR"},
		{"image.wic.gz", Gzip, "image.wic"},
	} {
		c, err := ForName(tc.name)
		require.NoError(t, err, tc.name)
		assert.Equal(t, tc.codec, c, tc.name)
		assert.Equal(t, tc.trim, TrimExtension(tc.name), tc.name)
	}

	_, err := ForName("rootfs.cpio")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCodec))
	assert.Equal(t, errors.KindValidation, errors.KindOf(err))
}

func TestRoundTrip(t *testing.T) {
	payload := strings.Repeat("torizon rootfs payload\n", 1000)
	codecs := []Codec{None, Gzip, Zstd, LZ4}
	if _, err := exec.LookPath("xz"); err == nil {
		codecs = append(codecs, Xz)
	}
	for _, c := range codecs {
		var buf bytes.Buffer
		w, err := NewWriter(c, &buf)
		require.NoError(t, err, c)
		_, err = w.Write([]byte(payload))
		require.NoError(t, err, c)
		require.NoError(t, w.Close(), c)

		r, err := NewReader(c, bytes.NewReader(buf.Bytes()))
		require.NoError(t, err, c)
		b, err := ioutil.ReadAll(r)
		require.NoError(t, err, c)
		require.NoError(t, r.Close(), c)
		assert.Equal(t, payload, string(b), c)

		n, err := UncompressedSize(c, bytes.NewReader(buf.Bytes()))
		require.NoError(t, err, c)
		assert.Equal(t, int64(len(payload)), n, c)
	}
}

func TestBzip2IsReadOnly(t *testing.T) {
	_, err := NewWriter(Bzip2, ioutil.Discard)
	assert.True(t, errors.Is(err, ErrUnknownCodec))
}
