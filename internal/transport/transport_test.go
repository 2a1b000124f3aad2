package transport

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineReader(t *testing.T) {
	r := NewLineReader(strings.NewReader("first\r\nsecond\n\nlast"))

	var got []string
	for {
		line, err := r.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, line)
	}

	assert.Equal(t, []string{"first", "second", "", "last"}, got)
}

func TestLineReaderLongLine(t *testing.T) {
	long := strings.Repeat("x", 512*1024)
	r := NewLineReader(strings.NewReader(long + "\n"))

	line, err := r.ReadLine()
	require.NoError(t, err)
	assert.Len(t, line, len(long))
}

func TestLineWriterRejectsNewline(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineWriter(&buf)

	assert.Error(t, w.WriteLine("a\nb"))
	require.NoError(t, w.WriteLine("ok"))
	assert.Equal(t, "ok\n", buf.String())
}

func TestLineWriterWriteText(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineWriter(&buf)

	require.NoError(t, w.WriteText("one\r\ntwo\n"))
	assert.Equal(t, "one\ntwo\n", buf.String())
}

func TestLineWriterConcurrent(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = w.WriteLine(strings.Repeat("z", 100))
			}
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 1000)
	for _, l := range lines {
		assert.Len(t, l, 100)
	}
}

func TestPump(t *testing.T) {
	var got []string
	err := Pump(strings.NewReader("a\n\nb\n"), func(line string) {
		got = append(got, line)
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestLineWriterAsWriter(t *testing.T) {
	var buf bytes.Buffer
	var w io.Writer = NewLineWriter(&buf)

	n, err := io.WriteString(w, "one\r\ntwo\n")
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "one\ntwo\n", buf.String())
}

func TestLineWriterWritePrefixed(t *testing.T) {
	var buf bytes.Buffer
	w := NewLineWriter(&buf)

	require.NoError(t, w.WritePrefixed("##[x]", "first\r\nsecond\n"))
	assert.Equal(t, "##[x]first\n##[x]second\n", buf.String())
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestLineWriterWritePrefixedError(t *testing.T) {
	err := NewLineWriter(brokenWriter{}).WritePrefixed("p", "x")
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
